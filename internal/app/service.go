package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"hearth/api/internal/feed"
	"hearth/api/internal/jobs"
	"hearth/api/internal/live"
	"hearth/api/internal/rbac"
	"hearth/api/internal/richtext"
	"hearth/api/internal/search"
	"hearth/api/internal/store"
	"hearth/api/internal/util"
)

type dataStore interface {
	GetUser(context.Context, string) (store.User, error)
	GetRoom(context.Context, string) (store.Room, error)
	GetMessage(context.Context, string) (store.Message, error)
	InsertMessage(context.Context, store.Message) (store.Message, bool, error)
	UpdateMessageBody(context.Context, string, string) (store.Message, error)
	SetMessageAttachment(context.Context, string, *string, *string) (store.Message, error)
	SetMessageActive(context.Context, string, bool) (store.Message, bool, error)
	SetCopiesActive(context.Context, string, bool) (int64, error)
	ActiveMessageCount(context.Context, string) (int, error)
	ListBoosts(context.Context, string) ([]store.Boost, error)
	ListBookmarks(context.Context, string) ([]store.Bookmark, error)
	ListThreadsAnchoredAt(context.Context, string) ([]store.Room, error)
	EnsureThread(context.Context, string, string) (store.Room, bool, error)
	DeactivateRoom(context.Context, string) error
	InvolveUser(context.Context, string, string, string, string, *time.Time) (store.Membership, error)
	GetMembership(context.Context, string) (store.Membership, error)
	MarkMembershipRead(context.Context, string) (store.Membership, error)
	RetargetUnreadMemberships(context.Context, string, time.Time, string) ([]store.ReadResult, error)
	CreatorBlockedInRoom(context.Context, string, string) (bool, error)
	Ping(ctx context.Context) error
}

// Broadcaster is the live-update channel. Delivery is fire-and-forget:
// failures are reported but never roll back or retry the committed change.
type Broadcaster interface {
	Publish(context.Context, live.Event) error
}

// JobQueue accepts deferred work keyed by room.
type JobQueue interface {
	EnqueueFeedScan(context.Context, jobs.FeedScanJob) error
}

// ActivityTracker decides whether a created message warrants a feed scan.
type ActivityTracker interface {
	Record(context.Context, store.Message) (feed.Result, error)
}

// Indexer maintains the message search index, best-effort.
type Indexer interface {
	IndexMessage(search.MessageRecord)
	RemoveMessage(string)
}

type Service struct {
	store       dataStore
	broadcaster Broadcaster
	queue       JobQueue
	tracker     ActivityTracker
	index       Indexer
	log         *slog.Logger
}

func New(dataStore *store.PostgresStore, broadcaster Broadcaster, queue JobQueue, tracker ActivityTracker, index Indexer, log *slog.Logger) *Service {
	return &Service{
		store:       dataStore,
		broadcaster: broadcaster,
		queue:       queue,
		tracker:     tracker,
		index:       index,
		log:         log,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// transition carries one committed state change through the post-commit
// reaction sequence.
type transition struct {
	message   store.Message
	room      store.Room
	body      richtext.Body
	created   bool
	wasActive bool
	nowActive bool
}

func (t *transition) deactivated() bool { return t.wasActive && !t.nowActive }
func (t *transition) reactivated() bool { return !t.wasActive && t.nowActive }

type reaction struct {
	name string
	fn   func(context.Context, *transition) error
}

// runReactions executes the post-commit sequence in order. Each step is
// independent and best-effort: a failure is reported and the remaining
// steps still run.
func (s *Service) runReactions(ctx context.Context, t *transition, reactions []reaction) {
	for _, r := range reactions {
		if err := r.fn(ctx, t); err != nil {
			s.log.Error("post-commit reaction failed",
				"step", r.name, "message_id", t.message.ID, "room_id", t.room.ID, "err", err)
		}
	}
}

type CreateMessageInput struct {
	// RoomID targets an existing room. ParentMessageID instead posts into
	// the thread anchored at that message, creating the thread room on
	// first use. Exactly one of the two must be set.
	RoomID          string
	ParentMessageID string

	CreatorID         string
	Body              string
	AttachmentKey     string
	AttachmentName    string
	OriginalMessageID string
	ClientMessageID   string
	InFeed            bool
}

// CreateMessage validates, persists and reacts to a new message. On a
// replayed client token the existing message is returned and no reactions
// run.
func (s *Service) CreateMessage(ctx context.Context, input CreateMessageInput) (store.Message, error) {
	if input.CreatorID == "" {
		return store.Message{}, domainError(http.StatusUnprocessableEntity, CodeValidation, "creator is required", nil)
	}
	if (input.RoomID == "") == (input.ParentMessageID == "") {
		return store.Message{}, domainError(http.StatusUnprocessableEntity, CodeValidation, "exactly one of room or parent message is required", nil)
	}

	creator, err := s.store.GetUser(ctx, input.CreatorID)
	if err != nil {
		return store.Message{}, err
	}

	room, err := s.resolveTargetRoom(ctx, input)
	if err != nil {
		return store.Message{}, err
	}

	body := richtext.Parse(input.Body)
	if err := s.validateCreate(ctx, creator, room, body); err != nil {
		return store.Message{}, err
	}

	draft := store.Message{
		ID:              util.NewID("msg"),
		ClientMessageID: input.ClientMessageID,
		RoomID:          room.ID,
		CreatorID:       creator.ID,
		InFeed:          input.InFeed,
		Body:            input.Body,
	}
	if draft.ClientMessageID == "" {
		draft.ClientMessageID = util.NewClientToken()
	}
	if input.OriginalMessageID != "" {
		original := input.OriginalMessageID
		draft.OriginalMessageID = &original
	}
	if input.AttachmentKey != "" {
		key, name := input.AttachmentKey, input.AttachmentName
		draft.AttachmentKey = &key
		draft.AttachmentName = &name
	}

	message, inserted, err := s.store.InsertMessage(ctx, draft)
	if err != nil {
		return store.Message{}, err
	}
	if !inserted {
		return message, nil // idempotent replay, already reacted
	}

	t := &transition{
		message:   message,
		room:      room,
		body:      body,
		created:   true,
		wasActive: false,
		nowActive: true,
	}
	s.runReactions(ctx, t, []reaction{
		{"broadcast_new_message", s.broadcastNewMessage},
		{"involve_mentionees", s.involveMentioneesUnread},
		{"involve_creator_in_thread", s.involveCreatorInThread},
		{"thread_replies_count", s.refreshThreadRepliesCount},
		{"parent_thread_summary", s.refreshParentThreadSummary},
		{"feed_activity", s.trackFeedActivity},
		{"search_index", s.indexMessage},
	})

	return message, nil
}

func (s *Service) resolveTargetRoom(ctx context.Context, input CreateMessageInput) (store.Room, error) {
	if input.ParentMessageID == "" {
		return s.store.GetRoom(ctx, input.RoomID)
	}

	parent, err := s.store.GetMessage(ctx, input.ParentMessageID)
	if err != nil {
		return store.Room{}, err
	}
	room, created, err := s.store.EnsureThread(ctx, util.NewID("room"), parent.ID)
	if err != nil {
		return store.Room{}, err
	}
	if created {
		s.log.Info("thread created", "room_id", room.ID, "parent_message_id", parent.ID)
	}
	return room, nil
}

func (s *Service) validateCreate(ctx context.Context, creator store.User, room store.Room, body richtext.Body) error {
	if room.IsDirect() {
		blocked, err := s.store.CreatorBlockedInRoom(ctx, creator.ID, room.ID)
		if err != nil {
			return err
		}
		if blocked {
			return domainError(http.StatusUnprocessableEntity, CodeBlockedSender, "Messaging this user isn't allowed", nil)
		}
	}

	if body.MentionsEveryone() {
		if !room.IsOpen() {
			return domainError(http.StatusUnprocessableEntity, CodeEveryoneNotAllowed, "@everyone is only allowed in open rooms", nil)
		}
		if !rbac.Can(rbac.Normalize(creator.Role), rbac.ActionMentionEveryone) {
			return domainError(http.StatusUnprocessableEntity, CodeEveryoneAdminOnly, "Only admins can mention @everyone", nil)
		}
	}
	return nil
}

// EditMessage replaces the body and re-runs mention involvement marking
// mentionees read: an edit refines existing content, it is not new content.
func (s *Service) EditMessage(ctx context.Context, messageID, body string) (store.Message, error) {
	message, err := s.store.UpdateMessageBody(ctx, messageID, body)
	if err != nil {
		return store.Message{}, err
	}
	room, err := s.store.GetRoom(ctx, message.RoomID)
	if err != nil {
		return store.Message{}, err
	}

	t := &transition{
		message:   message,
		room:      room,
		body:      richtext.Parse(message.Body),
		wasActive: message.Active,
		nowActive: message.Active,
	}
	s.runReactions(ctx, t, []reaction{
		{"broadcast_message_update", s.broadcastMessageUpdate},
		{"involve_mentionees", s.involveMentioneesRead},
		{"search_index", s.indexMessage},
	})

	return message, nil
}

// SetAttachment records an uploaded blob on the message and refreshes its
// observers. Attachment changes never re-run mention involvement.
func (s *Service) SetAttachment(ctx context.Context, messageID, key, filename string) (store.Message, error) {
	return s.updateAttachment(ctx, messageID, &key, &filename)
}

// ClearAttachment drops the blob reference from the message.
func (s *Service) ClearAttachment(ctx context.Context, messageID string) (store.Message, error) {
	return s.updateAttachment(ctx, messageID, nil, nil)
}

func (s *Service) updateAttachment(ctx context.Context, messageID string, key, filename *string) (store.Message, error) {
	message, err := s.store.SetMessageAttachment(ctx, messageID, key, filename)
	if err != nil {
		return store.Message{}, err
	}
	room, err := s.store.GetRoom(ctx, message.RoomID)
	if err != nil {
		return store.Message{}, err
	}

	t := &transition{
		message:   message,
		room:      room,
		body:      richtext.Parse(message.Body),
		wasActive: message.Active,
		nowActive: message.Active,
	}
	s.runReactions(ctx, t, []reaction{
		{"broadcast_message_update", s.broadcastMessageUpdate},
		{"search_index", s.indexMessage},
	})

	return message, nil
}

// Deactivate soft-deletes a message and runs the deactivation cascade.
func (s *Service) Deactivate(ctx context.Context, messageID string) (store.Message, error) {
	return s.setActive(ctx, messageID, false)
}

// Reactivate restores a soft-deleted message and re-runs the
// becomes-visible side effects. Threads are never implicitly reactivated.
func (s *Service) Reactivate(ctx context.Context, messageID string) (store.Message, error) {
	return s.setActive(ctx, messageID, true)
}

// setActive flips the visibility flag and, when it actually changed, runs
// the cascade in its fixed order: reactivation broadcast, watermark
// re-targeting (inactive only), thread accounting, copy propagation. Later
// steps rely on earlier ones having updated state already.
func (s *Service) setActive(ctx context.Context, messageID string, active bool) (store.Message, error) {
	message, changed, err := s.store.SetMessageActive(ctx, messageID, active)
	if err != nil {
		return store.Message{}, err
	}
	if !changed {
		return message, nil
	}
	room, err := s.store.GetRoom(ctx, message.RoomID)
	if err != nil {
		return store.Message{}, err
	}

	t := &transition{
		message:   message,
		room:      room,
		body:      richtext.Parse(message.Body),
		wasActive: !active,
		nowActive: active,
	}
	s.runReactions(ctx, t, []reaction{
		{"broadcast_active_flip", s.broadcastActiveFlip},
		{"retarget_unread", s.retargetUnreadWatermarks},
		{"parent_message_to_threads", s.broadcastParentMessageToThreads},
		{"thread_replies_accounting", s.accountThreadReplies},
		{"propagate_to_copies", s.propagateActiveToCopies},
		{"search_index", s.reindexOnActiveFlip},
	})

	return message, nil
}

// MarkRead clears a membership's unread watermark and signals its observers.
func (s *Service) MarkRead(ctx context.Context, membershipID string) (store.Membership, error) {
	membership, err := s.store.MarkMembershipRead(ctx, membershipID)
	if err != nil {
		return store.Membership{}, err
	}
	s.publishMembershipRead(ctx, membership)
	return membership, nil
}

// GetMembership returns a membership with its current unread state.
func (s *Service) GetMembership(ctx context.Context, membershipID string) (store.Membership, error) {
	return s.store.GetMembership(ctx, membershipID)
}

// GetMessage returns a message with its canonical view resolved.
func (s *Service) GetMessage(ctx context.Context, messageID string) (Canonical, error) {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return Canonical{}, err
	}
	return s.resolveCanonical(ctx, message), nil
}

// --- post-commit reactions: creation ---

func (s *Service) involveMentioneesUnread(ctx context.Context, t *transition) error {
	return s.involveMentionees(ctx, t, true)
}

func (s *Service) involveMentioneesRead(ctx context.Context, t *transition) error {
	return s.involveMentionees(ctx, t, false)
}

func (s *Service) involveMentionees(ctx context.Context, t *transition, unread bool) error {
	// Copies never trigger involvement: it already happened for the original.
	if t.message.IsCopy() {
		return nil
	}
	// Skip auto-involvement for @everyone to avoid thousands of membership
	// writes; users already in the room notice via normal unread queries.
	if t.body.MentionsEveryone() {
		return nil
	}

	var unreadAt *time.Time
	if unread {
		at := t.message.CreatedAt
		unreadAt = &at
	}
	for _, mention := range t.body.Mentions() {
		membership, err := s.store.InvolveUser(ctx, util.NewID("mem"), t.room.ID, mention.UserID, store.InvolvementVisible, unreadAt)
		if err != nil {
			return err
		}
		if unread {
			s.publishMembershipUnread(ctx, membership)
		}
	}
	return nil
}

func (s *Service) involveCreatorInThread(ctx context.Context, t *transition) error {
	// Posting into a thread implies visibility; the creator has read their
	// own message.
	if !t.room.IsThread() {
		return nil
	}
	_, err := s.store.InvolveUser(ctx, util.NewID("mem"), t.room.ID, t.message.CreatorID, store.InvolvementVisible, nil)
	return err
}

func (s *Service) trackFeedActivity(ctx context.Context, t *transition) error {
	result, err := s.tracker.Record(ctx, t.message)
	if err != nil {
		return err
	}
	if !result.Trigger || result.RoomID == "" {
		return nil
	}
	return s.queue.EnqueueFeedScan(ctx, jobs.FeedScanJob{
		RoomID:        result.RoomID,
		TriggerStatus: result.Status,
	})
}

func (s *Service) indexMessage(ctx context.Context, t *transition) error {
	if t.message.IsCopy() || !t.message.Active {
		return nil
	}
	s.index.IndexMessage(search.MessageRecord{
		ID:        t.message.ID,
		RoomID:    t.message.RoomID,
		CreatorID: t.message.CreatorID,
		Body:      t.body.PlainText(),
		CreatedAt: t.message.CreatedAt.Unix(),
	})
	return nil
}

// --- post-commit reactions: active-flag cascade ---

func (s *Service) retargetUnreadWatermarks(ctx context.Context, t *transition) error {
	if !t.deactivated() {
		return nil
	}
	results, err := s.store.RetargetUnreadMemberships(ctx, t.room.ID, t.message.CreatedAt, t.message.ID)
	if err != nil {
		return err
	}
	for _, result := range results {
		if result.NewUnreadAt == nil {
			// This membership is now fully caught up.
			s.publishMembershipRead(ctx, store.Membership{
				ID:     result.MembershipID,
				RoomID: t.room.ID,
				UserID: result.UserID,
			})
		}
	}
	return nil
}

// accountThreadReplies recomputes the active reply count after an active
// flip inside a thread. When the count hits zero on a deactivation, the
// thread itself is deactivated before the parent summary refresh so the
// summary already excludes it. Reactivating a reply never reactivates the
// thread.
func (s *Service) accountThreadReplies(ctx context.Context, t *transition) error {
	if !t.room.IsThread() {
		return nil
	}

	count, err := s.store.ActiveMessageCount(ctx, t.room.ID)
	if err != nil {
		return err
	}
	s.publishRepliesCount(ctx, t.room.ID, count)

	if t.deactivated() && count == 0 {
		if err := s.store.DeactivateRoom(ctx, t.room.ID); err != nil {
			return err
		}
	}

	return s.publishParentThreadSummary(ctx, t.room)
}

func (s *Service) broadcastParentMessageToThreads(ctx context.Context, t *transition) error {
	threads, err := s.store.ListThreadsAnchoredAt(ctx, t.message.ID)
	if err != nil {
		return err
	}
	for _, thread := range threads {
		s.publishParentMessage(ctx, thread.ID, t.message)
	}
	return nil
}

// propagateActiveToCopies mirrors the flag onto direct copies as one batch.
// Copies do not cascade further; there is no second-order fan-out.
func (s *Service) propagateActiveToCopies(ctx context.Context, t *transition) error {
	affected, err := s.store.SetCopiesActive(ctx, t.message.ID, t.nowActive)
	if err != nil {
		return err
	}
	if affected > 0 {
		s.log.Info("propagated active flag to copies",
			"message_id", t.message.ID, "active", t.nowActive, "copies", affected)
	}
	return nil
}

func (s *Service) reindexOnActiveFlip(ctx context.Context, t *transition) error {
	if t.nowActive {
		return s.indexMessage(ctx, t)
	}
	s.index.RemoveMessage(t.message.ID)
	return nil
}

// --- creation-side thread accounting ---

func (s *Service) refreshThreadRepliesCount(ctx context.Context, t *transition) error {
	if !t.room.IsThread() {
		return nil
	}
	count, err := s.store.ActiveMessageCount(ctx, t.room.ID)
	if err != nil {
		return err
	}
	s.publishRepliesCount(ctx, t.room.ID, count)
	return nil
}

func (s *Service) refreshParentThreadSummary(ctx context.Context, t *transition) error {
	if !t.room.IsThread() {
		return nil
	}
	return s.publishParentThreadSummary(ctx, t.room)
}
