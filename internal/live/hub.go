package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resubscribeDelay    = 250 * time.Millisecond
	maxResubscribeDelay = 5 * time.Second
)

// Conn is one attached observer. Send must be safe for concurrent use.
type Conn interface {
	Send(event Event) error
	Close() error
}

// Hub fans Redis pub/sub events out to attached connections. A channel
// subscription exists only while at least one connection observes it.
type Hub struct {
	client     *redis.Client
	log        *slog.Logger
	retryDelay time.Duration

	mu      sync.RWMutex
	targets map[string]*hubTarget // channel -> target
}

type hubTarget struct {
	conns  map[Conn]struct{}
	cancel context.CancelFunc
}

func NewHub(client *redis.Client, log *slog.Logger) *Hub {
	return &Hub{
		client:     client,
		log:        log,
		retryDelay: resubscribeDelay,
		targets:    make(map[string]*hubTarget),
	}
}

// Attach registers a connection as an observer of the given scope/target.
func (h *Hub) Attach(scope, target string, c Conn) {
	channel := Channel(scope, target)

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.targets[channel]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		t = &hubTarget{conns: make(map[Conn]struct{}), cancel: cancel}
		h.targets[channel] = t
		go h.pump(ctx, channel)
	}
	t.conns[c] = struct{}{}
}

// Detach removes the connection; the channel subscription is dropped with
// its last observer.
func (h *Hub) Detach(scope, target string, c Conn) {
	channel := Channel(scope, target)

	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.targets[channel]
	if !ok {
		return
	}
	delete(t.conns, c)
	if len(t.conns) == 0 {
		t.cancel()
		delete(h.targets, channel)
	}
}

// pump keeps a live subscription for the channel while observers remain.
// A lost subscription is re-established with backoff so attached
// connections keep receiving events after a Redis hiccup.
func (h *Hub) pump(ctx context.Context, channel string) {
	delay := h.retryDelay
	for {
		started := time.Now()
		err := h.consume(ctx, channel)
		if ctx.Err() != nil {
			return
		}
		// A subscription that held for a while resets the backoff.
		if time.Since(started) > maxResubscribeDelay {
			delay = h.retryDelay
		}
		h.log.Warn("hub subscription lost, retrying", "channel", channel, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay < maxResubscribeDelay {
			delay *= 2
		}
	}
}

func (h *Hub) consume(ctx context.Context, channel string) error {
	sub := h.client.Subscribe(ctx, channel)
	defer sub.Close()

	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return err
		}

		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			h.log.Warn("hub dropped malformed event", "channel", channel, "err", err)
			continue
		}
		h.broadcast(channel, event)
	}
}

func (h *Hub) broadcast(channel string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if t, ok := h.targets[channel]; ok {
		for c := range t.conns {
			_ = c.Send(event) // best-effort
		}
	}
}

// Observers reports how many connections currently watch the scope/target.
func (h *Hub) Observers(scope, target string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if t, ok := h.targets[Channel(scope, target)]; ok {
		return len(t.conns)
	}
	return 0
}
