package repository

import (
	"context"

	"github.com/nadia/gigradar/internal/domain"
	"gorm.io/gorm"
)

// EventRepository handles canonical event records, the terminal artifact of the
// pipeline.
type EventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts an event record.
func (r *EventRepository) Create(ctx context.Context, event *domain.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// GetByID retrieves an event by its id.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	var event domain.Event
	if err := r.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// List retrieves events ordered by start time.
func (r *EventRepository) List(ctx context.Context, limit, offset int) ([]domain.Event, error) {
	var events []domain.Event
	if err := r.db.WithContext(ctx).
		Order("starts_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// ListByRun retrieves the events materialized from one scrape run.
func (r *EventRepository) ListByRun(ctx context.Context, runID string) ([]domain.Event, error) {
	var events []domain.Event
	if err := r.db.WithContext(ctx).
		Where("source_run_id = ?", runID).
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountByRun counts the events materialized from one scrape run.
func (r *EventRepository) CountByRun(ctx context.Context, runID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.Event{}).
		Where("source_run_id = ?", runID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Delete removes an event record.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Event{}, "id = ?", id).Error
}
