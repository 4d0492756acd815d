package repository

import (
	"context"
	"time"

	"github.com/nadia/gigradar/internal/domain"
	"gorm.io/gorm"
)

// RunRepository handles scrape run records.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run record.
func (r *RunRepository) Create(ctx context.Context, run *domain.Run) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// GetByID retrieves a run by its id.
func (r *RunRepository) GetByID(ctx context.Context, runID string) (*domain.Run, error) {
	var run domain.Run
	if err := r.db.WithContext(ctx).First(&run, "run_id = ?", runID).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// List retrieves runs ordered by initiation time, newest first.
func (r *RunRepository) List(ctx context.Context, limit, offset int) ([]domain.Run, error) {
	var runs []domain.Run
	if err := r.db.WithContext(ctx).
		Order("initiated_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// ListPending retrieves runs the poller still needs to check. Runs created before
// the status values were normalized may carry a literal "pending"; treat those the
// same as initiated.
func (r *RunRepository) ListPending(ctx context.Context, limit int) ([]domain.Run, error) {
	var runs []domain.Run
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.RunStatusInitiated), string(domain.RunStatusRunning), "pending"}).
		Order("initiated_at ASC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// ListReadyForClassification retrieves completed runs whose pipeline work has not
// been claimed yet.
func (r *RunRepository) ListReadyForClassification(ctx context.Context, limit int) ([]domain.Run, error) {
	var runs []domain.Run
	if err := r.db.WithContext(ctx).
		Where("status = ? AND classification_status = ?", domain.RunStatusCompleted, domain.ClassificationStatusReady).
		Order("completed_at ASC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// ListCompleted retrieves a bounded sample of completed runs for the healing sweep,
// most recent first.
func (r *RunRepository) ListCompleted(ctx context.Context, limit int) ([]domain.Run, error) {
	var runs []domain.Run
	if err := r.db.WithContext(ctx).
		Where("status = ?", domain.RunStatusCompleted).
		Order("completed_at DESC").
		Limit(limit).
		Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

// UpdateFields applies a per-field merge write to a run. Whole-row saves are
// deliberately not exposed: multiple pipeline stages write different fields on the
// same row concurrently.
func (r *RunRepository) UpdateFields(ctx context.Context, runID string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&domain.Run{}).
		Where("run_id = ?", runID).
		Updates(fields).Error
}

// MarkCompleted flips a run to completed/ready. Safe under webhook redelivery:
// re-applying the same terminal state is harmless, and classification_status only
// moves to ready when it has not advanced past it.
func (r *RunRepository) MarkCompleted(ctx context.Context, runID string, completedAt time.Time) error {
	if err := r.UpdateFields(ctx, runID, map[string]interface{}{
		"status":       domain.RunStatusCompleted,
		"completed_at": completedAt,
		"error":        "",
	}); err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&domain.Run{}).
		Where("run_id = ? AND classification_status IN ?", runID,
			[]string{string(domain.ClassificationStatusNone), string(domain.ClassificationStatusReady)}).
		Update("classification_status", domain.ClassificationStatusReady).Error
}

// MarkFailed records a terminal provider failure.
func (r *RunRepository) MarkFailed(ctx context.Context, runID, errMsg string) error {
	return r.UpdateFields(ctx, runID, map[string]interface{}{
		"status": domain.RunStatusFailed,
		"error":  errMsg,
	})
}

// ClaimForClassification attempts to move a run from ready to in_progress. The
// conditional update is the compare-and-swap that keeps concurrent pipeline cycles
// from double-claiming a run; it returns false when another cycle won.
func (r *RunRepository) ClaimForClassification(ctx context.Context, runID string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Run{}).
		Where("run_id = ? AND classification_status = ?", runID, domain.ClassificationStatusReady).
		Updates(map[string]interface{}{
			"classification_status":     domain.ClassificationStatusInProgress,
			"classification_started_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetStaleClaims returns in_progress runs whose claim is older than the staleness
// window back to ready, so the next cycle retries them.
func (r *RunRepository) ResetStaleClaims(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Run{}).
		Where("classification_status = ? AND classification_started_at < ?",
			domain.ClassificationStatusInProgress, olderThan).
		Update("classification_status", domain.ClassificationStatusReady)
	return res.RowsAffected, res.Error
}

// Delete removes a run record. Admin purge only.
func (r *RunRepository) Delete(ctx context.Context, runID string) error {
	return r.db.WithContext(ctx).Delete(&domain.Run{}, "run_id = ?", runID).Error
}

// CreatePollLog persists the structured record of one poller invocation.
func (r *RunRepository) CreatePollLog(ctx context.Context, log *domain.PollLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}
