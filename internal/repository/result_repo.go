package repository

import (
	"context"

	"github.com/nadia/gigradar/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ResultRepository handles the run-keyed results cache of normalized scraped items.
type ResultRepository struct {
	db *gorm.DB
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(db *gorm.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// Upsert writes the normalized item array for a run. Idempotent: redelivered
// webhooks overwrite the cache document with identical content instead of
// appending duplicates.
func (r *ResultRepository) Upsert(ctx context.Context, result *domain.ScrapeResult) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(result).Error
}

// GetByRunID retrieves the cache document for a run.
func (r *ResultRepository) GetByRunID(ctx context.Context, runID string) (*domain.ScrapeResult, error) {
	var result domain.ScrapeResult
	if err := r.db.WithContext(ctx).First(&result, "run_id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &result, nil
}

// Exists checks whether a cache entry is present for a run. Used by the poll
// fast-path to detect that the webhook already landed.
func (r *ResultRepository) Exists(ctx context.Context, runID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.ScrapeResult{}).
		Where("run_id = ?", runID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Delete removes a run's cache document. Admin purge only.
func (r *ResultRepository) Delete(ctx context.Context, runID string) error {
	return r.db.WithContext(ctx).Delete(&domain.ScrapeResult{}, "run_id = ?", runID).Error
}
