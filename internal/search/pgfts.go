package search

import (
	"database/sql"
	"strconv"
)

// PgFTS implements message search using PostgreSQL full-text search as a
// fallback when Meilisearch is down.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search matches active, non-copy messages against plainto_tsquery with
// ts_headline snippets, ranked by ts_rank.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if q.Text == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT m.id, m.room_id, m.creator_id,
			ts_headline('english', m.body, plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			ts_rank(m.fts, plainto_tsquery('english', $1)) AS rank,
			COUNT(*) OVER () AS total
		FROM messages m
		WHERE m.active
		  AND m.original_message_id IS NULL
		  AND m.fts @@ plainto_tsquery('english', $1)`
	args := []any{q.Text}
	if q.FilterRoomID != "" {
		query += ` AND m.room_id = $2`
		args = append(args, q.FilterRoomID)
	}
	query += `
		ORDER BY rank DESC, m.created_at DESC
		LIMIT ` + strconv.Itoa(limit) + ` OFFSET ` + strconv.Itoa(offset)

	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []Result
	total := 0
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.RoomID, &r.CreatorID, &r.Snippet, &r.Rank, &total); err != nil {
			return nil, 0, err
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}
