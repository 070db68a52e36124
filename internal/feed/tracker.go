// Package feed tracks automated feed activity per room and decides when a
// background scan of the room is worth scheduling.
package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"hearth/api/internal/store"
)

const (
	counterPrefix = "hearth:feed:activity:"
	window        = 10 * time.Minute
	burstAt       = 5
)

// Statuses reported with a triggered scan.
const (
	StatusFresh = "fresh"
	StatusBurst = "burst"
)

type Result struct {
	Trigger bool
	RoomID  string
	Status  string
}

// Tracker counts in-feed messages per room inside a sliding window.
type Tracker struct {
	client *redis.Client
}

func NewTracker(client *redis.Client) *Tracker {
	return &Tracker{client: client}
}

// Record notes a created message. Copies never count: the activity already
// happened when the original landed. The first in-feed message of a window
// triggers a "fresh" scan; crossing the burst threshold triggers a "burst"
// scan once per window.
func (t *Tracker) Record(ctx context.Context, message store.Message) (Result, error) {
	if !message.InFeed || message.IsCopy() {
		return Result{}, nil
	}

	key := counterPrefix + message.RoomID
	count, err := t.client.Incr(ctx, key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("count feed activity: %w", err)
	}
	if count == 1 {
		if err := t.client.Expire(ctx, key, window).Err(); err != nil {
			return Result{}, fmt.Errorf("expire feed counter: %w", err)
		}
		return Result{Trigger: true, RoomID: message.RoomID, Status: StatusFresh}, nil
	}
	if count == burstAt {
		return Result{Trigger: true, RoomID: message.RoomID, Status: StatusBurst}, nil
	}
	return Result{}, nil
}
