package repository

import (
	"context"
	"strings"

	"github.com/nadia/gigradar/internal/domain"
	"gorm.io/gorm"
)

// VenueRepository handles the canonical venue directory. Read-mostly from the
// pipeline's perspective; venues are added by admins.
type VenueRepository struct {
	db *gorm.DB
}

// NewVenueRepository creates a new VenueRepository.
func NewVenueRepository(db *gorm.DB) *VenueRepository {
	return &VenueRepository{db: db}
}

// Create inserts a venue record.
func (r *VenueRepository) Create(ctx context.Context, venue *domain.Venue) error {
	return r.db.WithContext(ctx).Create(venue).Error
}

// GetByName retrieves a venue by exact canonical name.
func (r *VenueRepository) GetByName(ctx context.Context, name string) (*domain.Venue, error) {
	var venue domain.Venue
	if err := r.db.WithContext(ctx).First(&venue, "name = ?", name).Error; err != nil {
		return nil, err
	}
	return &venue, nil
}

// List retrieves all venues.
func (r *VenueRepository) List(ctx context.Context) ([]domain.Venue, error) {
	var venues []domain.Venue
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&venues).Error; err != nil {
		return nil, err
	}
	return venues, nil
}

// Resolve maps a free-text venue name to a canonical venue: exact canonical-name
// match first, then a case-insensitive scan over every venue's alternate names.
// Returns gorm.ErrRecordNotFound when nothing matches.
func (r *VenueRepository) Resolve(ctx context.Context, name string) (*domain.Venue, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}

	venue, err := r.GetByName(ctx, trimmed)
	if err == nil {
		return venue, nil
	}

	venues, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(trimmed)
	for i := range venues {
		if strings.ToLower(venues[i].Name) == lowered {
			return &venues[i], nil
		}
		for _, alt := range venues[i].AltNames {
			if strings.ToLower(strings.TrimSpace(alt)) == lowered {
				return &venues[i], nil
			}
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// ResolveByHandle maps a scrape source handle (Instagram username) to the venue
// that owns it. Returns gorm.ErrRecordNotFound when no venue claims the handle.
func (r *VenueRepository) ResolveByHandle(ctx context.Context, handle string) (*domain.Venue, error) {
	trimmed := strings.TrimSpace(handle)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}

	venues, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	lowered := strings.ToLower(trimmed)
	for i := range venues {
		for _, h := range venues[i].SourceHandles {
			if strings.ToLower(strings.TrimSpace(h)) == lowered {
				return &venues[i], nil
			}
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// SourceHandles returns the union of every venue's scrape handles, deduplicated,
// trimmed, empties dropped. This is the default target list for a scrape run.
func (r *VenueRepository) SourceHandles(ctx context.Context) ([]string, error) {
	venues, err := r.List(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var handles []string
	for _, venue := range venues {
		for _, handle := range venue.SourceHandles {
			trimmed := strings.TrimSpace(handle)
			if trimmed == "" || seen[trimmed] {
				continue
			}
			seen[trimmed] = true
			handles = append(handles, trimmed)
		}
	}
	return handles, nil
}
