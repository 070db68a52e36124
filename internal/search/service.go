package search

import "log/slog"

// Service is the facade that tries Meilisearch first and falls back to
// Postgres FTS. Indexing is fire-and-forget.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		slog.Warn("search: meilisearch error, falling back to pgfts", "err", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		slog.Warn("search: pgfts error", "err", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage pushes a message into the index, best-effort.
func (s *Service) IndexMessage(record MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexMessage(record); err != nil {
		slog.Warn("search: index message failed", "message_id", record.ID, "err", err)
	}
}

// RemoveMessage drops a message from the index, best-effort.
func (s *Service) RemoveMessage(messageID string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.RemoveMessage(messageID); err != nil {
		slog.Warn("search: deindex message failed", "message_id", messageID, "err", err)
	}
}

func nonNil(results []Result) []Result {
	if results == nil {
		return []Result{}
	}
	return results
}
