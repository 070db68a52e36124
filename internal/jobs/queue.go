// Package jobs is the deferred-work side channel. The engine never blocks on
// long-running work; it enqueues here and moves on.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	feedScanList    = "hearth:jobs:feed_scan"
	feedScanPending = "hearth:jobs:feed_scan:pending"
)

// FeedScanJob asks the worker to re-scan a room for automated feed activity.
type FeedScanJob struct {
	RoomID        string    `json:"room_id"`
	TriggerStatus string    `json:"trigger_status"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

type Queue struct {
	client *redis.Client
}

func NewQueue(redisURL string) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Queue{client: client}, nil
}

func NewQueueWithClient(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// EnqueueFeedScan pushes a scan job, collapsing duplicates per room while a
// scan is already pending.
func (q *Queue) EnqueueFeedScan(ctx context.Context, job FeedScanJob) error {
	added, err := q.client.SAdd(ctx, feedScanPending, job.RoomID).Result()
	if err != nil {
		return fmt.Errorf("mark pending: %w", err)
	}
	if added == 0 {
		return nil // a scan for this room is already queued
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, feedScanList, raw).Err(); err != nil {
		return fmt.Errorf("enqueue feed scan: %w", err)
	}
	return nil
}

// DequeueFeedScan blocks up to timeout for the next job. Returns nil when
// the timeout elapses with an empty queue.
func (q *Queue) DequeueFeedScan(ctx context.Context, timeout time.Duration) (*FeedScanJob, error) {
	values, err := q.client.BRPop(ctx, timeout, feedScanList).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue feed scan: %w", err)
	}

	var job FeedScanJob
	if err := json.Unmarshal([]byte(values[1]), &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	_ = q.client.SRem(ctx, feedScanPending, job.RoomID).Err()
	return &job, nil
}

func (q *Queue) Close() error {
	return q.client.Close()
}
