package repository

import (
	"context"

	"github.com/nadia/gigradar/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClassificationRepository handles per-(run,item) classification records.
type ClassificationRepository struct {
	db *gorm.DB
}

// NewClassificationRepository creates a new ClassificationRepository.
func NewClassificationRepository(db *gorm.DB) *ClassificationRepository {
	return &ClassificationRepository{db: db}
}

// Create inserts a classification record. The unique (run_id,item_id) index makes
// a duplicate insert fail rather than silently overwrite.
func (r *ClassificationRepository) Create(ctx context.Context, c *domain.Classification) error {
	return r.db.WithContext(ctx).Create(c).Error
}

// Upsert creates or replaces the record for a (run,item) pair. Used by explicit
// re-classification only, never by the automatic pass.
func (r *ClassificationRepository) Upsert(ctx context.Context, c *domain.Classification) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}, {Name: "item_id"}},
		UpdateAll: true,
	}).Create(c).Error
}

// Exists checks whether a (run,item) pair has already been classified. The
// classifier calls this before queuing work so retries never re-bill the model.
func (r *ClassificationRepository) Exists(ctx context.Context, runID, itemID string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.Classification{}).
		Where("run_id = ? AND item_id = ?", runID, itemID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetByRunItem retrieves the record for a (run,item) pair.
func (r *ClassificationRepository) GetByRunItem(ctx context.Context, runID, itemID string) (*domain.Classification, error) {
	var c domain.Classification
	if err := r.db.WithContext(ctx).
		First(&c, "run_id = ? AND item_id = ?", runID, itemID).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListByRun retrieves all classification records for a run.
func (r *ClassificationRepository) ListByRun(ctx context.Context, runID string) ([]domain.Classification, error) {
	var list []domain.Classification
	if err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("item_id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListPositiveByRun retrieves the is_event=true records for a run, the
// materializer's work queue.
func (r *ClassificationRepository) ListPositiveByRun(ctx context.Context, runID string) ([]domain.Classification, error) {
	var list []domain.Classification
	if err := r.db.WithContext(ctx).
		Where("run_id = ? AND is_event = ?", runID, true).
		Order("item_id ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// MergeFields applies a per-field merge write to a (run,item) record. The
// materializer uses this to attach event_id/storage_path without clobbering
// classifier-owned fields.
func (r *ClassificationRepository) MergeFields(ctx context.Context, runID, itemID string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&domain.Classification{}).
		Where("run_id = ? AND item_id = ?", runID, itemID).
		Updates(fields).Error
}

// CountByRun counts classification records for a run.
func (r *ClassificationRepository) CountByRun(ctx context.Context, runID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.Classification{}).
		Where("run_id = ?", runID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Delete removes a classification record. Used by explicit admin retry.
func (r *ClassificationRepository) Delete(ctx context.Context, runID, itemID string) error {
	return r.db.WithContext(ctx).
		Delete(&domain.Classification{}, "run_id = ? AND item_id = ?", runID, itemID).Error
}
