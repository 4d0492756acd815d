package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
)

// ErrResultsNotFound is returned when classification is requested for a run
// whose results cache entry is missing.
var ErrResultsNotFound = errors.New("scrape results not found for run")

// VisionClassifier is the slice of the vision client the classifier depends on.
type VisionClassifier interface {
	Classify(ctx context.Context, model, imageURL, caption string) (*Verdict, error)
}

// ClassifierPolicy sets the two-tier model routing. Triage runs on every image;
// a verdict below Threshold escalates to the stronger model exactly once.
type ClassifierPolicy struct {
	Threshold     float64
	TriageModel   string
	EscalateModel string
}

// ClassifyStats summarizes one classification pass over a run.
type ClassifyStats struct {
	Processed  int `json:"processed"`
	Classified int `json:"classified"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// ClassifierService classifies every item of a run's cached results, writing one
// verdict record per (run, item) pair. Work fans out over a bounded worker pool;
// idempotency comes from the record-existence check before any model call, so a
// re-run of a half-classified run only pays for the remainder.
type ClassifierService struct {
	vision          VisionClassifier
	results         *repository.ResultRepository
	classifications *repository.ClassificationRepository
	policy          ClassifierPolicy
	workers         int
}

// NewClassifierService creates a new ClassifierService.
func NewClassifierService(vision VisionClassifier, results *repository.ResultRepository, classifications *repository.ClassificationRepository, policy ClassifierPolicy, workers int) *ClassifierService {
	if workers <= 0 {
		workers = 4
	}
	if policy.Threshold <= 0 {
		policy.Threshold = 0.7
	}
	return &ClassifierService{
		vision:          vision,
		results:         results,
		classifications: classifications,
		policy:          policy,
		workers:         workers,
	}
}

// ClassifyRun classifies all items of one run.
func (s *ClassifierService) ClassifyRun(ctx context.Context, runID string) (*ClassifyStats, error) {
	ctx = logger.SetRunID(ctx, runID)
	start := time.Now()

	result, err := s.results.GetByRunID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResultsNotFound
		}
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	var processed, classified, skipped, errCount int64

	jobs := make(chan domain.ScrapedItem)
	var wg sync.WaitGroup
	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				atomic.AddInt64(&processed, 1)
				switch s.classifyItem(ctx, runID, &item) {
				case itemClassified:
					atomic.AddInt64(&classified, 1)
				case itemSkipped:
					atomic.AddInt64(&skipped, 1)
				case itemFailed:
					atomic.AddInt64(&errCount, 1)
				}
			}
		}()
	}

	for _, item := range result.Items {
		select {
		case jobs <- item:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, ctx.Err()
		}
	}
	close(jobs)
	wg.Wait()

	stats := &ClassifyStats{
		Processed:  int(processed),
		Classified: int(classified),
		Skipped:    int(skipped),
		Errors:     int(errCount),
	}
	logger.FromContext(ctx).WithFields(logger.Fields{
		"processed":            stats.Processed,
		"classified":           stats.Classified,
		"skipped":              stats.Skipped,
		"errors":               stats.Errors,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Run classification finished")
	return stats, nil
}

type itemOutcome int

const (
	itemClassified itemOutcome = iota
	itemSkipped
	itemFailed
)

func (s *ClassifierService) classifyItem(ctx context.Context, runID string, item *domain.ScrapedItem) itemOutcome {
	ctx = logger.WithField(ctx, logger.FieldItemID, item.ItemID)

	exists, err := s.classifications.Exists(ctx, runID, item.ItemID)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to check existing classification")
		return itemFailed
	}
	if exists {
		return itemSkipped
	}

	record := &domain.Classification{
		ID:            uuid.NewString(),
		RunID:         runID,
		ItemID:        item.ItemID,
		ImageURL:      item.MediaURL,
		Caption:       item.Caption,
		OwnerUsername: item.OwnerUsername,
	}

	// Video frames are not analyzable by the image classifier; a video is
	// classified through its thumbnail when one exists. Items with nothing to
	// look at are recorded as negatives so a later pass does not revisit them.
	imageURL := item.MediaURL
	if item.MediaType == domain.MediaTypeVideo {
		imageURL = item.ThumbnailURL
	}

	switch {
	case item.MediaType == domain.MediaTypeVideo && imageURL == "":
		record.IsEvent = false
		record.Confidence = 1.0
		record.Reasons = domain.StringArray{"video without analyzable thumbnail"}
	case imageURL == "":
		record.IsEvent = false
		record.Confidence = 1.0
		record.Reasons = domain.StringArray{"no media url"}
	default:
		record.ImageURL = imageURL
		verdict, triageErr := s.vision.Classify(ctx, s.policy.TriageModel, imageURL, item.Caption)
		if triageErr != nil {
			logger.FromContext(ctx).WithError(triageErr).Error("Triage classification failed")
			return itemFailed
		}
		record.TriageModel = s.policy.TriageModel

		if verdict.Confidence < s.policy.Threshold {
			escalated, escErr := s.vision.Classify(ctx, s.policy.EscalateModel, imageURL, item.Caption)
			if escErr != nil {
				// Escalation is best effort; a low-confidence triage verdict
				// still beats losing the item.
				logger.FromContext(ctx).WithError(escErr).Warn("Escalation failed, keeping triage verdict")
			} else {
				verdict = escalated
				record.EscalateModel = s.policy.EscalateModel
			}
		}

		record.IsEvent = verdict.IsEvent
		record.Confidence = verdict.Confidence
		record.Reasons = domain.StringArray(verdict.Reasons)
		record.Signals = verdict.Signals
	}

	if err := s.classifications.Create(ctx, record); err != nil {
		// A concurrent pass may have won the insert; the unique index turns
		// that race into a skip.
		exists, checkErr := s.classifications.Exists(ctx, runID, item.ItemID)
		if checkErr == nil && exists {
			return itemSkipped
		}
		logger.FromContext(ctx).WithError(err).Error("Failed to persist classification")
		return itemFailed
	}
	return itemClassified
}

// Reclassify forces a fresh verdict for one (run, item) pair, overwriting any
// existing record. Admin path; the automatic pipeline never overwrites.
func (s *ClassifierService) Reclassify(ctx context.Context, runID, itemID string) (*domain.Classification, error) {
	ctx = logger.SetRunID(ctx, runID)

	result, err := s.results.GetByRunID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrResultsNotFound
		}
		return nil, err
	}

	var target *domain.ScrapedItem
	for i := range result.Items {
		if result.Items[i].ItemID == itemID {
			target = &result.Items[i]
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("item %s not found in run %s", itemID, runID)
	}

	verdict, err := s.vision.Classify(ctx, s.policy.EscalateModel, target.MediaURL, target.Caption)
	if err != nil {
		return nil, err
	}

	record := &domain.Classification{
		ID:            uuid.NewString(),
		RunID:         runID,
		ItemID:        itemID,
		IsEvent:       verdict.IsEvent,
		Confidence:    verdict.Confidence,
		Reasons:       domain.StringArray(verdict.Reasons),
		Signals:       verdict.Signals,
		ImageURL:      target.MediaURL,
		Caption:       target.Caption,
		OwnerUsername: target.OwnerUsername,
		EscalateModel: s.policy.EscalateModel,
	}
	if err := s.classifications.Upsert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
