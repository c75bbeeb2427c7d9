package search

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS. A
// blank term short-circuits to an empty response before touching either
// backend. A Meilisearch failure only degrades to the fallback; a PG FTS
// failure has nothing left to fall back on and is returned to the caller.
func (s *Service) Search(q Query) (Response, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}, nil
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		return Response{}, fmt.Errorf("search fallback: %w", err)
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}, nil
}

// IndexTemplate pushes a template record to Meilisearch (fire-and-forget).
func (s *Service) IndexTemplate(rec TemplateRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexTemplate(rec); err != nil {
			log.Printf("search: index template %s: %v", rec.ID, err)
		}
	}()
}

// DeleteTemplates removes templates from the index (fire-and-forget).
func (s *Service) DeleteTemplates(ids []string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteTemplates(ids); err != nil {
			log.Printf("search: delete templates from index: %v", err)
		}
	}()
}

// ReindexAllFromPG reads every template from PostgreSQL and pushes it to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexTemplates(records); err != nil {
		log.Printf("search: reindex templates: %v", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
