package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/storage"
)

// ErrVenueNotFound marks a materialization failure that self-resolves once an
// admin adds the venue: the classification keeps its empty event_id, so the next
// pass over the run retries the item.
var ErrVenueNotFound = errors.New("venue could not be resolved")

// FlyerExtractor is the slice of the extractor client the materializer depends on.
type FlyerExtractor interface {
	Extract(ctx context.Context, imageURL, caption string) (*ExtractedEvent, error)
}

// Embedder produces the semantic vector stored alongside each event.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the slice of the vector store the materializer depends on.
type VectorIndex interface {
	Upsert(ctx context.Context, pointID string, vector []float32, payload *repository.EventPayload) error
	Delete(ctx context.Context, pointID string) error
}

// MaterializeStats summarizes one materialization pass over a run.
type MaterializeStats struct {
	Processed int `json:"processed"`
	Saved     int `json:"saved"`
	Errors    int `json:"errors"`
}

// MaterializerService turns positive classifications into canonical event
// records: flyer archived to blob storage, structured fields extracted, venue
// resolved against the directory, embedding indexed. Each item is at-most-once;
// the event_id annotation on the classification is the commit marker, and every
// failure before it leaves the item retryable.
type MaterializerService struct {
	classifications *repository.ClassificationRepository
	events          *repository.EventRepository
	venues          *repository.VenueRepository
	blobs           storage.ObjectStorage
	fetcher         MediaFetcher
	extractor       FlyerExtractor
	embedder        Embedder
	index           VectorIndex
	signedURLExpiry time.Duration
}

// NewMaterializerService creates a new MaterializerService.
func NewMaterializerService(
	classifications *repository.ClassificationRepository,
	events *repository.EventRepository,
	venues *repository.VenueRepository,
	blobs storage.ObjectStorage,
	fetcher MediaFetcher,
	extractor FlyerExtractor,
	embedder Embedder,
	index VectorIndex,
	signedURLExpiry time.Duration,
) *MaterializerService {
	if signedURLExpiry == 0 {
		signedURLExpiry = 15 * time.Minute
	}
	return &MaterializerService{
		classifications: classifications,
		events:          events,
		venues:          venues,
		blobs:           blobs,
		fetcher:         fetcher,
		extractor:       extractor,
		embedder:        embedder,
		index:           index,
		signedURLExpiry: signedURLExpiry,
	}
}

// MaterializeRun materializes every positive, not-yet-materialized
// classification of a run. Item failures are recorded on the classification and
// counted; they never abort the pass.
func (s *MaterializerService) MaterializeRun(ctx context.Context, runID string) (*MaterializeStats, error) {
	ctx = logger.SetRunID(ctx, runID)
	start := time.Now()

	positives, err := s.classifications.ListPositiveByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positive classifications: %w", err)
	}

	stats := &MaterializeStats{}
	for i := range positives {
		c := &positives[i]
		if c.Materialized() {
			continue
		}
		stats.Processed++

		itemCtx := logger.WithField(ctx, logger.FieldItemID, c.ItemID)
		if err := s.materializeItem(itemCtx, c); err != nil {
			stats.Errors++
			logger.FromContext(itemCtx).WithError(err).Warn("Item materialization failed")
			if mergeErr := s.classifications.MergeFields(itemCtx, c.RunID, c.ItemID, map[string]interface{}{
				"error": err.Error(),
			}); mergeErr != nil {
				logger.FromContext(itemCtx).WithError(mergeErr).Error("Failed to record item error")
			}
			continue
		}
		stats.Saved++
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"processed":            stats.Processed,
		"saved":                stats.Saved,
		"errors":               stats.Errors,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Run materialization finished")
	return stats, nil
}

// UnmaterializeEvent removes a mis-materialized event and reopens its source
// item: the event row and index point go away, and the classification loses its
// event_id so the next pass over the run materializes a corrected version. The
// archived flyer is kept, so the redo skips the media fetch.
func (s *MaterializerService) UnmaterializeEvent(ctx context.Context, eventID string) error {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to load event: %w", err)
	}

	if err := s.events.Delete(ctx, eventID); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if err := s.index.Delete(ctx, eventID); err != nil {
		// The orphaned point refers to a row that no longer loads, so search
		// already skips it.
		logger.FromContext(ctx).WithError(err).Error("Failed to delete event embedding")
	}

	if err := s.classifications.MergeFields(ctx, event.Provenance.RunID, event.Provenance.ItemID, map[string]interface{}{
		"event_id": "",
	}); err != nil {
		return fmt.Errorf("failed to reopen classification: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"event_id":         eventID,
		logger.FieldRunID:  event.Provenance.RunID,
		logger.FieldItemID: event.Provenance.ItemID,
	}).Info("Event unmaterialized")
	return nil
}

func (s *MaterializerService) materializeItem(ctx context.Context, c *domain.Classification) error {
	storagePath, err := s.archiveFlyer(ctx, c)
	if err != nil {
		return err
	}

	signedURL, err := s.blobs.SignedURL(ctx, storagePath, s.signedURLExpiry)
	if err != nil {
		return fmt.Errorf("failed to presign flyer: %w", err)
	}

	extracted, err := s.extractor.Extract(ctx, signedURL, c.Caption)
	if err != nil {
		return fmt.Errorf("flyer extraction failed: %w", err)
	}

	venue, err := s.resolveVenue(ctx, extracted.VenueName, c.OwnerUsername)
	if err != nil {
		return err
	}

	searchText := buildSearchText(extracted, venue)
	if searchText == "" {
		return fmt.Errorf("extracted event has no searchable text")
	}

	vector, err := s.embedder.Embed(ctx, searchText)
	if err != nil {
		return fmt.Errorf("failed to embed event: %w", err)
	}

	event := &domain.Event{
		ID:          uuid.NewString(),
		Name:        extracted.Name,
		Description: extracted.Description,
		StartsAt:    extracted.ParseStartsAt(),
		EndsAt:      extracted.ParseEndsAt(),
		Price:       extracted.Price,
		Tags:        domain.StringArray(extracted.Tags),
		SearchText:  searchText,
		ImagePath:   storagePath,
		Venue: domain.EventVenue{
			VenueID: venue.ID,
			Name:    venue.Name,
			Address: venue.Address,
			Lat:     venue.Lat,
			Lng:     venue.Lng,
		},
		Provenance: domain.Provenance{
			Platform: domain.PlatformInstagram,
			RunID:    c.RunID,
			ItemID:   c.ItemID,
		},
	}
	if err := s.events.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	payload := &repository.EventPayload{
		EventID:    event.ID,
		RunID:      c.RunID,
		ItemID:     c.ItemID,
		VenueID:    venue.ID,
		VenueName:  venue.Name,
		Name:       event.Name,
		SearchText: searchText,
	}
	if event.StartsAt != nil {
		payload.StartsAt = event.StartsAt.Format(time.RFC3339)
	}
	if err := s.index.Upsert(ctx, event.ID, vector, payload); err != nil {
		// The event row exists; search just will not find it until a reindex.
		logger.FromContext(ctx).WithError(err).Error("Failed to index event embedding")
	}

	if err := s.classifications.MergeFields(ctx, c.RunID, c.ItemID, map[string]interface{}{
		"event_id":     event.ID,
		"storage_path": storagePath,
		"error":        "",
	}); err != nil {
		return fmt.Errorf("failed to annotate classification: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"event_id": event.ID,
		"venue":    venue.Name,
	}).Info("Event materialized")
	return nil
}

// archiveFlyer uploads the flyer once and returns its blob key. An earlier
// partial attempt may have uploaded already; the storage_path annotation makes
// the retry skip the fetch.
func (s *MaterializerService) archiveFlyer(ctx context.Context, c *domain.Classification) (string, error) {
	if c.StoragePath != "" {
		return c.StoragePath, nil
	}

	data, contentType, err := s.fetcher.Fetch(ctx, c.ImageURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch flyer media: %w", err)
	}

	// Trust the decoded bytes over the CDN's content-type header.
	var ext string
	if format, sniffErr := sniffImageFormat(data); sniffErr == nil {
		ext = extensionForFormat(format)
		contentType = contentTypeForFormat(format)
	} else {
		ext = extensionForContentType(contentType)
	}

	key := fmt.Sprintf("runs/%s/%s%s", c.RunID, c.ItemID, ext)
	if err := s.blobs.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", fmt.Errorf("failed to upload flyer: %w", err)
	}

	if err := s.classifications.MergeFields(ctx, c.RunID, c.ItemID, map[string]interface{}{
		"storage_path": key,
	}); err != nil {
		return "", fmt.Errorf("failed to record storage path: %w", err)
	}
	c.StoragePath = key
	return key, nil
}

// resolveVenue maps the extracted venue name to the directory, falling back to
// the posting account's handle when the flyer names no venue.
func (s *MaterializerService) resolveVenue(ctx context.Context, venueName, ownerHandle string) (*domain.Venue, error) {
	if strings.TrimSpace(venueName) != "" {
		venue, err := s.venues.Resolve(ctx, venueName)
		if err == nil {
			return venue, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("venue lookup failed: %w", err)
		}
	}

	venue, err := s.venues.ResolveByHandle(ctx, ownerHandle)
	if err == nil {
		return venue, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("venue lookup failed: %w", err)
	}
	return nil, fmt.Errorf("%w: %q (owner @%s)", ErrVenueNotFound, venueName, ownerHandle)
}

// buildSearchText assembles the embedding input from the extracted fields and
// the canonical venue.
func buildSearchText(e *ExtractedEvent, venue *domain.Venue) string {
	parts := make([]string, 0, 6)
	for _, p := range []string{e.Name, e.Description, venue.Name} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	if len(e.Tags) > 0 {
		parts = append(parts, strings.Join(e.Tags, " "))
	}
	if strings.TrimSpace(e.Price) != "" {
		parts = append(parts, strings.TrimSpace(e.Price))
	}
	if t := e.ParseStartsAt(); t != nil {
		parts = append(parts, t.Format("Monday January 2 2006"))
	}
	return strings.Join(parts, ". ")
}
