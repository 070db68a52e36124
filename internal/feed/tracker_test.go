package feed

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"hearth/api/internal/store"
)

func setupTracker(t *testing.T) (*Tracker, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewTracker(client), s
}

func feedMessage(roomID string) store.Message {
	return store.Message{ID: "m", RoomID: roomID, InFeed: true}
}

func TestRecordTriggersFreshThenBurst(t *testing.T) {
	tracker, _ := setupTracker(t)
	ctx := context.Background()

	result, err := tracker.Record(ctx, feedMessage("r_1"))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !result.Trigger || result.Status != StatusFresh {
		t.Errorf("first message should trigger fresh scan, got %+v", result)
	}

	for i := 2; i < burstAt; i++ {
		result, err = tracker.Record(ctx, feedMessage("r_1"))
		if err != nil {
			t.Fatalf("Record failed: %v", err)
		}
		if result.Trigger {
			t.Errorf("message %d should not trigger, got %+v", i, result)
		}
	}

	result, err = tracker.Record(ctx, feedMessage("r_1"))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !result.Trigger || result.Status != StatusBurst {
		t.Errorf("burst threshold should trigger, got %+v", result)
	}
}

func TestRecordIgnoresCopiesAndNonFeed(t *testing.T) {
	tracker, _ := setupTracker(t)
	ctx := context.Background()

	original := "m_orig"
	copy := store.Message{ID: "m_c", RoomID: "r_1", InFeed: true, OriginalMessageID: &original}
	if result, err := tracker.Record(ctx, copy); err != nil || result.Trigger {
		t.Errorf("copies must not count: %+v, %v", result, err)
	}

	plain := store.Message{ID: "m_p", RoomID: "r_1"}
	if result, err := tracker.Record(ctx, plain); err != nil || result.Trigger {
		t.Errorf("non-feed messages must not count: %+v, %v", result, err)
	}
}

func TestWindowExpiryResetsFresh(t *testing.T) {
	tracker, s := setupTracker(t)
	ctx := context.Background()

	if _, err := tracker.Record(ctx, feedMessage("r_1")); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	s.FastForward(window)

	result, err := tracker.Record(ctx, feedMessage("r_1"))
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if !result.Trigger || result.Status != StatusFresh {
		t.Errorf("post-expiry message should trigger fresh scan again, got %+v", result)
	}
}
