// Package live delivers post-commit change notifications to connected
// observers. Delivery is fan-out over Redis pub/sub with a websocket hub on
// the consuming side; everything here is best-effort and fire-and-forget.
package live

import (
	"encoding/json"
	"time"
)

// Scopes an event can target.
const (
	ScopeRoom       = "room"
	ScopeThread     = "thread"
	ScopeMessage    = "message"
	ScopeMembership = "membership"
)

// Event kinds. Consumers must treat every event as a last-write-wins
// refresh of the referenced entity, never as a delta.
const (
	KindMessageCreated     = "message_created"
	KindMessageUpdated     = "message_updated"
	KindMessageReactivated = "message_reactivated"
	KindRepliesCount       = "replies_count"
	KindThreadSummary      = "thread_summary"
	KindParentMessage      = "parent_message"
	KindMembershipRead     = "membership_read"
	KindMembershipUnread   = "membership_unread"
)

type Event struct {
	Scope     string          `json:"scope"`
	Target    string          `json:"target"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// Channel is the pub/sub channel an event travels on.
func Channel(scope, target string) string {
	return "hearth:" + scope + ":" + target
}
