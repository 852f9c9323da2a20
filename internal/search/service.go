package search

import (
	"context"
	"log/slog"

	"barcamp/api/internal/model"
)

// Service is the facade that tries Meilisearch first and falls back to the
// configured searcher, or to the in-process index when there is none.
type Service struct {
	meili    *Meili
	fallback Searcher
	local    *Local
	logger   *slog.Logger
}

// NewService creates a search service. meili and fallback may be nil.
func NewService(meili *Meili, fallback Searcher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	local := NewLocal()
	if fallback == nil {
		fallback = local
	}
	return &Service{meili: meili, fallback: fallback, local: local, logger: logger}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, using fallback", "error", err)
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("fallback search failed", "error", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexTopic indexes a shared topic. The local index is updated in place;
// Meilisearch is fire-and-forget.
func (s *Service) IndexTopic(t model.Topic) {
	rec := recordOf(t)
	s.local.Put(rec)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTopic(rec); err != nil {
			s.logger.Warn("index topic failed", "topic", rec.ID, "error", err)
		}
	}()
}

func (s *Service) RemoveTopic(id string) {
	s.local.Delete(id)
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTopic(id); err != nil {
			s.logger.Warn("delete topic from index failed", "topic", id, "error", err)
		}
	}()
}

// Reindex pushes every shared topic to Meilisearch, for startup after the
// topic cache is loaded.
func (s *Service) Reindex(topics []model.Topic) {
	records := make([]TopicRecord, 0, len(topics))
	for _, t := range topics {
		rec := recordOf(t)
		s.local.Put(rec)
		records = append(records, rec)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if err := s.meili.IndexTopics(records); err != nil {
		s.logger.Warn("reindex topics failed", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
