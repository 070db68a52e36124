package store

import "time"

// Room kinds. A thread is a room anchored to exactly one parent message.
const (
	RoomKindOpen   = "open"
	RoomKindClosed = "closed"
	RoomKindDirect = "direct"
	RoomKindThread = "thread"
)

// Membership involvement levels. Latent memberships exist for bookkeeping
// (direct rooms, former participants) and are hidden from the sidebar until
// the user is drawn in.
const (
	InvolvementInvisible = "invisible"
	InvolvementVisible   = "visible"
)

// User roles.
const (
	RoleMember        = "member"
	RoleAdministrator = "administrator"
)

type User struct {
	ID          string
	DisplayName string
	Role        string
	Active      bool
	CreatedAt   time.Time
}

type Room struct {
	ID   string
	Kind string
	Name string
	// ParentMessageID is set only for thread rooms.
	ParentMessageID *string
	// MessagesCount counts every message ever posted; the active reply
	// count is always computed fresh from the messages table.
	MessagesCount int
	Active        bool
	LastActiveAt  time.Time
	CreatedAt     time.Time
}

func (r Room) IsThread() bool { return r.Kind == RoomKindThread }
func (r Room) IsDirect() bool { return r.Kind == RoomKindDirect }
func (r Room) IsOpen() bool   { return r.Kind == RoomKindOpen }

type Message struct {
	ID string
	// ClientMessageID is the client-generated idempotency token, assigned
	// server-side at creation when absent.
	ClientMessageID string
	RoomID          string
	CreatorID       string
	// OriginalMessageID non-nil marks this message as a copy whose
	// display content resolves through the original.
	OriginalMessageID *string
	Active            bool
	InFeed            bool
	Body              string
	AttachmentKey     *string
	AttachmentName    *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (m Message) IsCopy() bool { return m.OriginalMessageID != nil }

func (m Message) HasLocalAttachment() bool {
	return m.AttachmentKey != nil && *m.AttachmentKey != ""
}

type Membership struct {
	ID          string
	RoomID      string
	UserID      string
	Involvement string
	// UnreadAt is the creation time of the oldest unread message; nil
	// means the membership is fully caught up.
	UnreadAt  *time.Time
	CreatedAt time.Time
}

func (m Membership) Unread() bool { return m.UnreadAt != nil }

type Boost struct {
	ID        string
	MessageID string
	BoosterID string
	Content   string
	Active    bool
	CreatedAt time.Time
}

type Bookmark struct {
	ID        string
	MessageID string
	UserID    string
	Active    bool
	CreatedAt time.Time
}

// ReadResult reports a membership whose watermark was cleared while
// re-targeting unread pointers off a deactivated message.
type ReadResult struct {
	MembershipID string
	UserID       string
	// NewUnreadAt is nil when the membership was marked fully read.
	NewUnreadAt *time.Time
}
