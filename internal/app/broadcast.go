package app

import (
	"context"
	"encoding/json"

	"hearth/api/internal/live"
	"hearth/api/internal/store"
)

// publish composes and sends one live event. Broadcast failures never
// surface to callers: the committed change stands regardless.
func (s *Service) publish(ctx context.Context, scope, target, kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("broadcast payload marshal failed", "kind", kind, "target", target, "err", err)
		return
	}
	if err := s.broadcaster.Publish(ctx, live.Event{
		Scope:   scope,
		Target:  target,
		Kind:    kind,
		Payload: raw,
	}); err != nil {
		s.log.Warn("broadcast failed", "kind", kind, "scope", scope, "target", target, "err", err)
	}
}

type messagePayload struct {
	ID              string  `json:"id"`
	RoomID          string  `json:"roomId"`
	CreatorID       string  `json:"creatorId"`
	OriginalID      *string `json:"originalMessageId,omitempty"`
	Active          bool    `json:"active"`
	Body            string  `json:"body"`
	PlainText       string  `json:"plainText"`
	ContentType     string  `json:"contentType"`
	AttachmentName  string  `json:"attachmentName,omitempty"`
	ClientMessageID string  `json:"clientMessageId"`
	CreatedAt       int64   `json:"createdAt"`
}

// messagePayload renders the message through its canonical view, so a copy
// always broadcasts the original's content.
func (s *Service) messagePayload(ctx context.Context, m store.Message) messagePayload {
	c := s.resolveCanonical(ctx, m)
	p := messagePayload{
		ID:              m.ID,
		RoomID:          m.RoomID,
		CreatorID:       m.CreatorID,
		OriginalID:      m.OriginalMessageID,
		Active:          m.Active,
		Body:            c.DisplayBody().Raw(),
		PlainText:       c.PlainTextBody(),
		ContentType:     c.ContentType(),
		ClientMessageID: m.ClientMessageID,
		CreatedAt:       m.CreatedAt.Unix(),
	}
	if name := c.DisplayAttachmentFilename(); name != "" {
		p.AttachmentName = name
	}
	return p
}

func (s *Service) broadcastNewMessage(ctx context.Context, t *transition) error {
	s.publish(ctx, live.ScopeRoom, t.room.ID, live.KindMessageCreated, s.messagePayload(ctx, t.message))
	return nil
}

// broadcastMessageUpdate refreshes the room feed and the message's own
// channel, which copies and pinned views observe directly.
func (s *Service) broadcastMessageUpdate(ctx context.Context, t *transition) error {
	payload := s.messagePayload(ctx, t.message)
	s.publish(ctx, live.ScopeRoom, t.room.ID, live.KindMessageUpdated, payload)
	s.publish(ctx, live.ScopeMessage, t.message.ID, live.KindMessageUpdated, payload)
	return nil
}

// broadcastActiveFlip announces the visibility change. Reactivation gets its
// own kind so clients re-insert the message instead of patching it in place.
func (s *Service) broadcastActiveFlip(ctx context.Context, t *transition) error {
	kind := live.KindMessageUpdated
	if t.reactivated() {
		kind = live.KindMessageReactivated
	}
	payload := s.messagePayload(ctx, t.message)
	s.publish(ctx, live.ScopeRoom, t.room.ID, kind, payload)
	s.publish(ctx, live.ScopeMessage, t.message.ID, kind, payload)
	return nil
}

func (s *Service) publishRepliesCount(ctx context.Context, threadRoomID string, count int) {
	s.publish(ctx, live.ScopeThread, threadRoomID, live.KindRepliesCount, map[string]any{
		"threadId":     threadRoomID,
		"repliesCount": count,
	})
}

// publishParentThreadSummary refreshes the thread chip shown under the
// parent message, targeted at the parent's room. The thread row is
// re-fetched so a deactivation earlier in the cascade is already reflected.
func (s *Service) publishParentThreadSummary(ctx context.Context, thread store.Room) error {
	if thread.ParentMessageID == nil {
		return nil
	}
	fresh, err := s.store.GetRoom(ctx, thread.ID)
	if err != nil {
		return err
	}
	count, err := s.store.ActiveMessageCount(ctx, fresh.ID)
	if err != nil {
		return err
	}
	parent, err := s.store.GetMessage(ctx, *fresh.ParentMessageID)
	if err != nil {
		return err
	}
	s.publish(ctx, live.ScopeRoom, parent.RoomID, live.KindThreadSummary, map[string]any{
		"threadId":        fresh.ID,
		"parentMessageId": parent.ID,
		"active":          fresh.Active,
		"repliesCount":    count,
	})
	return nil
}

func (s *Service) publishParentMessage(ctx context.Context, threadRoomID string, parent store.Message) {
	s.publish(ctx, live.ScopeThread, threadRoomID, live.KindParentMessage, s.messagePayload(ctx, parent))
}

func (s *Service) publishMembershipUnread(ctx context.Context, m store.Membership) {
	s.publish(ctx, live.ScopeMembership, m.ID, live.KindMembershipUnread, map[string]any{
		"membershipId": m.ID,
		"roomId":       m.RoomID,
		"userId":       m.UserID,
		"unreadAt":     m.UnreadAt,
	})
}

func (s *Service) publishMembershipRead(ctx context.Context, m store.Membership) {
	s.publish(ctx, live.ScopeMembership, m.ID, live.KindMembershipRead, map[string]any{
		"membershipId": m.ID,
		"roomId":       m.RoomID,
		"userId":       m.UserID,
	})
}
