package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const messageColumns = `id, client_message_id, room_id, creator_id, original_message_id,
	active, in_feed, body, attachment_key, attachment_name, created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var m Message
	err := row.Scan(
		&m.ID, &m.ClientMessageID, &m.RoomID, &m.CreatorID, &m.OriginalMessageID,
		&m.Active, &m.InFeed, &m.Body, &m.AttachmentKey, &m.AttachmentName,
		&m.CreatedAt, &m.UpdatedAt,
	)
	return m, err
}

func (s *PostgresStore) GetUser(ctx context.Context, userID string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, role, active, created_at
		FROM users WHERE id = $1
	`, userID).Scan(&u.ID, &u.DisplayName, &u.Role, &u.Active, &u.CreatedAt)
	return u, err
}

func (s *PostgresStore) GetRoom(ctx context.Context, roomID string) (Room, error) {
	var r Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, parent_message_id, messages_count, active, last_active_at, created_at
		FROM rooms WHERE id = $1
	`, roomID).Scan(&r.ID, &r.Kind, &r.Name, &r.ParentMessageID, &r.MessagesCount, &r.Active, &r.LastActiveAt, &r.CreatedAt)
	return r, err
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, messageID)
	return scanMessage(row)
}

// InsertMessage persists a message, bumps the owning room's message counter
// and activity timestamp in the same transaction, and dedupes on the client
// idempotency token. The second return value is false when an existing
// message with the same token was returned instead.
func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) (Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, false, fmt.Errorf("begin insert message: %w", err)
	}
	defer tx.Rollback()

	existing := tx.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE client_message_id = $1`, m.ClientMessageID)
	if found, err := scanMessage(existing); err == nil {
		return found, false, tx.Commit()
	} else if err != sql.ErrNoRows {
		return Message{}, false, fmt.Errorf("check client token: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO messages (id, client_message_id, room_id, creator_id, original_message_id,
			active, in_feed, body, attachment_key, attachment_name)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $7, $8, $9)
		RETURNING `+messageColumns,
		m.ID, m.ClientMessageID, m.RoomID, m.CreatorID, m.OriginalMessageID,
		m.InFeed, m.Body, m.AttachmentKey, m.AttachmentName,
	)
	inserted, err := scanMessage(row)
	if err != nil {
		return Message{}, false, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE rooms SET messages_count = messages_count + 1, last_active_at = $2
		WHERE id = $1
	`, m.RoomID, inserted.CreatedAt); err != nil {
		return Message{}, false, fmt.Errorf("touch room activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Message{}, false, fmt.Errorf("commit insert message: %w", err)
	}
	return inserted, true, nil
}

func (s *PostgresStore) UpdateMessageBody(ctx context.Context, messageID, body string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET body = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+messageColumns, messageID, body)
	return scanMessage(row)
}

// SetMessageActive flips the active flag. The second return value reports
// whether the flag actually changed; callers must not cascade on a no-op.
// SetMessageAttachment points the message at a stored blob, or clears the
// reference when both values are nil.
func (s *PostgresStore) SetMessageAttachment(ctx context.Context, messageID string, key, filename *string) (Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET attachment_key = $2, attachment_name = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+messageColumns,
		messageID, key, filename)
	return scanMessage(row)
}

func (s *PostgresStore) SetMessageActive(ctx context.Context, messageID string, active bool) (Message, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages SET active = $2, updated_at = NOW()
		WHERE id = $1 AND active <> $2
		RETURNING `+messageColumns, messageID, active)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		m, err = s.GetMessage(ctx, messageID)
		return m, false, err
	}
	if err != nil {
		return Message{}, false, err
	}
	return m, true, nil
}

// SetCopiesActive mirrors the original's active flag onto every direct copy
// as one batch update. Copies of copies are deliberately untouched.
func (s *PostgresStore) SetCopiesActive(ctx context.Context, originalMessageID string, active bool) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages SET active = $2, updated_at = NOW()
		WHERE original_message_id = $1 AND active <> $2
	`, originalMessageID, active)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (s *PostgresStore) ActiveMessageCount(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE room_id = $1 AND active`, roomID).Scan(&count)
	return count, err
}

func (s *PostgresStore) ListBoosts(ctx context.Context, messageID string) ([]Boost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, booster_id, content, active, created_at
		FROM boosts
		WHERE message_id = $1 AND active
		ORDER BY created_at, id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var boosts []Boost
	for rows.Next() {
		var b Boost
		if err := rows.Scan(&b.ID, &b.MessageID, &b.BoosterID, &b.Content, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		boosts = append(boosts, b)
	}
	return boosts, rows.Err()
}

func (s *PostgresStore) ListBookmarks(ctx context.Context, messageID string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, user_id, active, created_at
		FROM bookmarks
		WHERE message_id = $1 AND active
		ORDER BY created_at, id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookmarks []Bookmark
	for rows.Next() {
		var b Bookmark
		if err := rows.Scan(&b.ID, &b.MessageID, &b.UserID, &b.Active, &b.CreatedAt); err != nil {
			return nil, err
		}
		bookmarks = append(bookmarks, b)
	}
	return bookmarks, rows.Err()
}

// ListThreadsAnchoredAt returns the active thread rooms whose parent message
// is the given message.
func (s *PostgresStore) ListThreadsAnchoredAt(ctx context.Context, messageID string) ([]Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, name, parent_message_id, messages_count, active, last_active_at, created_at
		FROM rooms
		WHERE kind = 'thread' AND parent_message_id = $1 AND active
		ORDER BY created_at, id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Kind, &r.Name, &r.ParentMessageID, &r.MessagesCount, &r.Active, &r.LastActiveAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		threads = append(threads, r)
	}
	return threads, rows.Err()
}

// EnsureThread returns the thread room anchored at the parent message,
// creating it on first use. The second return value reports creation.
func (s *PostgresStore) EnsureThread(ctx context.Context, threadID, parentMessageID string) (Room, bool, error) {
	var r Room
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, name, parent_message_id, messages_count, active, last_active_at, created_at
		FROM rooms WHERE kind = 'thread' AND parent_message_id = $1
	`, parentMessageID).Scan(&r.ID, &r.Kind, &r.Name, &r.ParentMessageID, &r.MessagesCount, &r.Active, &r.LastActiveAt, &r.CreatedAt)
	if err == nil {
		return r, false, nil
	}
	if err != sql.ErrNoRows {
		return Room{}, false, err
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO rooms (id, kind, name, parent_message_id)
		VALUES ($1, 'thread', '', $2)
		ON CONFLICT (parent_message_id) WHERE kind = 'thread'
		DO UPDATE SET parent_message_id = EXCLUDED.parent_message_id
		RETURNING id, kind, name, parent_message_id, messages_count, active, last_active_at, created_at
	`, threadID, parentMessageID).Scan(&r.ID, &r.Kind, &r.Name, &r.ParentMessageID, &r.MessagesCount, &r.Active, &r.LastActiveAt, &r.CreatedAt)
	if err != nil {
		return Room{}, false, err
	}
	return r, r.ID == threadID, nil
}

func (s *PostgresStore) DeactivateRoom(ctx context.Context, roomID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE rooms SET active = FALSE WHERE id = $1`, roomID)
	return err
}

// InvolveUser upserts a membership. Involvement is only ever upgraded to
// visible, never downgraded. A non-nil unreadAt marks the membership unread
// unless an earlier watermark is already set.
func (s *PostgresStore) InvolveUser(ctx context.Context, membershipID, roomID, userID, involvement string, unreadAt *time.Time) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO memberships (id, room_id, user_id, involvement, unread_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (room_id, user_id) DO UPDATE SET
			involvement = CASE
				WHEN EXCLUDED.involvement = 'visible' THEN 'visible'
				ELSE memberships.involvement
			END,
			unread_at = CASE
				WHEN EXCLUDED.unread_at IS NULL THEN memberships.unread_at
				ELSE LEAST(memberships.unread_at, EXCLUDED.unread_at)
			END
		RETURNING id, room_id, user_id, involvement, unread_at, created_at
	`, membershipID, roomID, userID, involvement, unreadAt).Scan(
		&m.ID, &m.RoomID, &m.UserID, &m.Involvement, &m.UnreadAt, &m.CreatedAt)
	return m, err
}

func (s *PostgresStore) GetMembership(ctx context.Context, membershipID string) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		SELECT id, room_id, user_id, involvement, unread_at, created_at
		FROM memberships WHERE id = $1
	`, membershipID).Scan(&m.ID, &m.RoomID, &m.UserID, &m.Involvement, &m.UnreadAt, &m.CreatedAt)
	return m, err
}

// MarkMembershipRead clears the unread watermark and returns the membership.
func (s *PostgresStore) MarkMembershipRead(ctx context.Context, membershipID string) (Membership, error) {
	var m Membership
	err := s.db.QueryRowContext(ctx, `
		UPDATE memberships SET unread_at = NULL
		WHERE id = $1
		RETURNING id, room_id, user_id, involvement, unread_at, created_at
	`, membershipID).Scan(&m.ID, &m.RoomID, &m.UserID, &m.Involvement, &m.UnreadAt, &m.CreatedAt)
	return m, err
}

// RetargetUnreadMemberships re-points every membership whose watermark sits
// exactly on the deactivated message. Each membership gets the next active
// message strictly after (createdAt, messageID) in (created_at, id) order,
// or a cleared watermark when none exists. The whole pass runs in one
// transaction so concurrent deactivations cannot lose updates.
func (s *PostgresStore) RetargetUnreadMemberships(ctx context.Context, roomID string, createdAt time.Time, messageID string) ([]ReadResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin retarget unread: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id FROM memberships
		WHERE room_id = $1 AND unread_at = $2
		FOR UPDATE
	`, roomID, createdAt)
	if err != nil {
		return nil, fmt.Errorf("list unread memberships: %w", err)
	}
	type target struct{ membershipID, userID string }
	var targets []target
	for rows.Next() {
		var t target
		if err := rows.Scan(&t.membershipID, &t.userID); err != nil {
			rows.Close()
			return nil, err
		}
		targets = append(targets, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []ReadResult
	for _, t := range targets {
		// Computed fresh per membership rather than once for the batch.
		var next time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT created_at FROM messages
			WHERE room_id = $1 AND active AND (created_at, id) > ($2, $3)
			ORDER BY created_at, id
			LIMIT 1
		`, roomID, createdAt, messageID).Scan(&next)
		switch err {
		case nil:
			if _, err := tx.ExecContext(ctx,
				`UPDATE memberships SET unread_at = $2 WHERE id = $1`, t.membershipID, next); err != nil {
				return nil, fmt.Errorf("advance watermark: %w", err)
			}
			at := next
			results = append(results, ReadResult{MembershipID: t.membershipID, UserID: t.userID, NewUnreadAt: &at})
		case sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`UPDATE memberships SET unread_at = NULL WHERE id = $1`, t.membershipID); err != nil {
				return nil, fmt.Errorf("clear watermark: %w", err)
			}
			results = append(results, ReadResult{MembershipID: t.membershipID, UserID: t.userID})
		default:
			return nil, fmt.Errorf("find next unread: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit retarget unread: %w", err)
	}
	return results, nil
}

// CreatorBlockedInRoom reports whether the would-be creator is blocked by
// another member of a direct room.
func (s *PostgresStore) CreatorBlockedInRoom(ctx context.Context, userID, roomID string) (bool, error) {
	var blocked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM memberships m
			JOIN blocks b ON b.blocker_id = m.user_id AND b.blocked_id = $1
			WHERE m.room_id = $2 AND m.user_id <> $1
		)
	`, userID, roomID).Scan(&blocked)
	return blocked, err
}
