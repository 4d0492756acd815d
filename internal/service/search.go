package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
)

// QueryEmbedder is the slice of the embedding service the search path uses.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the read side of the vector index.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int) ([]repository.SearchResult, error)
}

// EventHit is one scored search result joined with its event row.
type EventHit struct {
	Event domain.Event `json:"event"`
	Score float32      `json:"score"`
}

// SearchService answers semantic queries over materialized events. The curation
// flow leans on it to spot duplicates and near-misses before an event goes out.
type SearchService struct {
	embedder QueryEmbedder
	index    VectorSearcher
	events   *repository.EventRepository
}

// NewSearchService creates a new SearchService.
func NewSearchService(embedder QueryEmbedder, index VectorSearcher, events *repository.EventRepository) *SearchService {
	return &SearchService{
		embedder: embedder,
		index:    index,
		events:   events,
	}
}

// Search embeds the query, runs a similarity search, and resolves each hit to
// its event row. Points whose event row is gone are skipped; the row store is
// authoritative and the index may lag behind deletions.
func (s *SearchService) Search(ctx context.Context, query string, topK int) ([]EventHit, error) {
	if topK <= 0 {
		topK = 10
	}
	start := time.Now()

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	found, err := s.index.Search(ctx, vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	hits := make([]EventHit, 0, len(found))
	for i := range found {
		event, err := s.events.GetByID(ctx, found[i].ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load event %s: %w", found[i].ID, err)
		}
		hits = append(hits, EventHit{Event: *event, Score: found[i].Score})
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldCount:      len(hits),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Event search finished")
	return hits, nil
}
