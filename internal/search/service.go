package search

import (
	"context"
	"log"
)

// RecordLoader supplies every code session for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]SessionRecord, error)
}

// Service is the facade that tries the primary engine first and falls back
// to Postgres full-text search.
type Service struct {
	primary  Engine
	fallback Searcher
}

// NewService creates a search service. primary may be nil if Meilisearch is
// not configured.
func NewService(primary Engine, fallback Searcher) *Service {
	return &Service{primary: primary, fallback: fallback}
}

func (s *Service) primaryHealthy() bool {
	return s.primary != nil && s.primary.Healthy()
}

// Search tries the primary engine if healthy, otherwise falls back.
func (s *Service) Search(q Query) Response {
	if s.primaryHealthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: primary engine error, falling back: %v", err)
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		log.Printf("search: fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexSession indexes a code session (fire-and-forget).
func (s *Service) IndexSession(r SessionRecord) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.IndexSession(r); err != nil {
			log.Printf("search: index code session %s: %v", r.ID, err)
		}
	}()
}

// DeleteSession removes a code session from the index (fire-and-forget).
func (s *Service) DeleteSession(id string) {
	if !s.primaryHealthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteSession(id); err != nil {
			log.Printf("search: delete code session %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes records to the primary engine synchronously.
func (s *Service) ReindexAll(records []SessionRecord) {
	if !s.primaryHealthy() || len(records) == 0 {
		return
	}
	if err := s.primary.IndexSessions(records); err != nil {
		log.Printf("search: reindex code sessions: %v", err)
	}
}

// ReindexAllFromPG reloads every code session and pushes it to the primary engine.
func (s *Service) ReindexAllFromPG(ctx context.Context, loader RecordLoader) {
	if !s.primaryHealthy() || loader == nil {
		return
	}
	records, err := loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(records)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
