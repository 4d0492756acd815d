package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/scraper"
)

// ErrRunNotFound is returned when a completion notification references an
// unknown run.
var ErrRunNotFound = errors.New("run not found")

// IngestService turns finished provider jobs into cached, normalized results.
// Two paths converge here: the provider's completion webhook and the periodic
// poller that covers webhook loss. Both are idempotent, so a webhook and a poll
// landing on the same run do no harm.
type IngestService struct {
	provider  ScrapeProvider
	runs      *repository.RunRepository
	results   *repository.ResultRepository
	pageLimit int

	// kick, when set, is invoked after each successful ingestion to nudge the
	// pipeline. Fire and forget: ingestion never waits on it or fails with it.
	kick func()
}

// IngestServiceConfig holds configuration for completion ingestion.
type IngestServiceConfig struct {
	DatasetPageLimit int
}

// NewIngestService creates a new IngestService.
func NewIngestService(provider ScrapeProvider, runs *repository.RunRepository, results *repository.ResultRepository, cfg *IngestServiceConfig) *IngestService {
	pageLimit := cfg.DatasetPageLimit
	if pageLimit <= 0 {
		pageLimit = 500
	}
	return &IngestService{
		provider:  provider,
		runs:      runs,
		results:   results,
		pageLimit: pageLimit,
	}
}

// SetPipelineKick registers the post-ingestion pipeline nudge.
func (s *IngestService) SetPipelineKick(kick func()) {
	s.kick = kick
}

// HandleCompletion processes one provider completion notification for a run.
// Safe under webhook redelivery: the results cache write is an overwrite and the
// run status transition re-applies cleanly.
func (s *IngestService) HandleCompletion(ctx context.Context, runID, providerStatus string) error {
	ctx = logger.SetRunID(ctx, runID)

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRunNotFound
		}
		return fmt.Errorf("failed to load run: %w", err)
	}

	if scraper.IsTerminalFailure(providerStatus) {
		if err := s.runs.MarkFailed(ctx, runID, fmt.Sprintf("provider run ended with status %s", providerStatus)); err != nil {
			return fmt.Errorf("failed to mark run failed: %w", err)
		}
		logger.FromContext(ctx).WithField(logger.FieldStatus, providerStatus).Warn("Scrape run failed at provider")
		return nil
	}

	// Only terminal events are subscribed, but a spurious callback for a
	// still-running job must not commit a partial dataset.
	if providerStatus != scraper.StatusSucceeded {
		logger.FromContext(ctx).WithField(logger.FieldStatus, providerStatus).
			Warn("Ignoring completion notification with non-terminal status")
		return nil
	}

	if err := s.ingestDataset(ctx, run); err != nil {
		return err
	}

	s.fireKick(ctx)
	return nil
}

// Poll sweeps non-terminal runs and reconciles them against the provider. The
// fast path checks the results cache first: a cache hit means the webhook
// already landed and only the run row needs its terminal state re-applied.
// Every invocation is recorded as a poll log row.
func (s *IngestService) Poll(ctx context.Context, runLimit int) (*domain.PollLog, error) {
	pollLog := &domain.PollLog{
		ID:            uuid.NewString(),
		CheckedRuns:   domain.StringArray{},
		CompletedRuns: domain.StringArray{},
		FailedRuns:    domain.StringArray{},
		Errors:        domain.StringArray{},
	}

	pending, err := s.runs.ListPending(ctx, runLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending runs: %w", err)
	}

	ingested := 0
	for i := range pending {
		run := &pending[i]
		runCtx := logger.SetRunID(ctx, run.RunID)
		pollLog.CheckedRuns = append(pollLog.CheckedRuns, run.RunID)

		cached, err := s.results.Exists(runCtx, run.RunID)
		if err != nil {
			pollLog.Errors = append(pollLog.Errors, fmt.Sprintf("%s: %v", run.RunID, err))
			continue
		}
		if cached {
			if err := s.runs.MarkCompleted(runCtx, run.RunID, time.Now().UTC()); err != nil {
				pollLog.Errors = append(pollLog.Errors, fmt.Sprintf("%s: %v", run.RunID, err))
				continue
			}
			pollLog.CompletedRuns = append(pollLog.CompletedRuns, run.RunID)
			continue
		}

		status, err := s.provider.RunStatus(runCtx, run.ExternalJobID)
		if err != nil {
			// Inconclusive lookup; the dataset may still be there, so try it
			// directly before giving up on this run until the next sweep. An
			// empty dataset proves nothing: the job may not have started yet.
			if run.DatasetRef != "" {
				if raw, fetchErr := s.provider.DatasetItems(runCtx, run.DatasetRef, s.pageLimit); fetchErr == nil && len(raw) > 0 {
					if commitErr := s.commitDataset(runCtx, run, raw); commitErr == nil {
						pollLog.CompletedRuns = append(pollLog.CompletedRuns, run.RunID)
						ingested++
						continue
					}
				}
			}
			pollLog.Errors = append(pollLog.Errors, fmt.Sprintf("%s: %v", run.RunID, err))
			continue
		}

		switch {
		case status == scraper.StatusSucceeded:
			if err := s.ingestDataset(runCtx, run); err != nil {
				pollLog.Errors = append(pollLog.Errors, fmt.Sprintf("%s: %v", run.RunID, err))
				continue
			}
			pollLog.CompletedRuns = append(pollLog.CompletedRuns, run.RunID)
			ingested++
		case scraper.IsTerminalFailure(status):
			if err := s.runs.MarkFailed(runCtx, run.RunID, fmt.Sprintf("provider run ended with status %s", status)); err != nil {
				pollLog.Errors = append(pollLog.Errors, fmt.Sprintf("%s: %v", run.RunID, err))
				continue
			}
			pollLog.FailedRuns = append(pollLog.FailedRuns, run.RunID)
		default:
			// still running, leave for the next sweep
		}
	}

	if err := s.runs.CreatePollLog(ctx, pollLog); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to persist poll log")
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"checked":   len(pollLog.CheckedRuns),
		"completed": len(pollLog.CompletedRuns),
		"failed":    len(pollLog.FailedRuns),
		"errors":    len(pollLog.Errors),
	}).Info("Poll sweep finished")

	if ingested > 0 {
		s.fireKick(ctx)
	}
	return pollLog, nil
}

// ingestDataset fetches the run's dataset and commits it.
func (s *IngestService) ingestDataset(ctx context.Context, run *domain.Run) error {
	raw, err := s.provider.DatasetItems(ctx, run.DatasetRef, s.pageLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch dataset %s: %w", run.DatasetRef, err)
	}
	return s.commitDataset(ctx, run, raw)
}

// commitDataset normalizes raw items into the results cache and flips the run
// to completed. The cache write happens before the status flip so a completed
// run always has its results in place.
func (s *IngestService) commitDataset(ctx context.Context, run *domain.Run, raw []map[string]interface{}) error {
	start := time.Now()

	items := scraper.NormalizeItems(raw)
	if err := s.results.Upsert(ctx, &domain.ScrapeResult{
		RunID:     run.RunID,
		Items:     domain.ScrapedItemList(items),
		ItemCount: len(items),
	}); err != nil {
		return fmt.Errorf("failed to cache results: %w", err)
	}

	if err := s.runs.MarkCompleted(ctx, run.RunID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark run completed: %w", err)
	}

	// Best-effort cleanup at the provider; the dataset expires on its own if
	// this fails.
	if run.DatasetRef != "" {
		if err := s.provider.DeleteDataset(ctx, run.DatasetRef); err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldDatasetRef, run.DatasetRef).
				Warn("Failed to delete consumed dataset")
		}
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldDatasetRef: run.DatasetRef,
		logger.FieldCount:      len(items),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info("Scrape results ingested")
	return nil
}

// fireKick nudges the pipeline on a detached goroutine. A panicking or slow
// pipeline must never propagate back into webhook handling.
func (s *IngestService) fireKick(ctx context.Context) {
	if s.kick == nil {
		return
	}
	log := logger.FromContext(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithField("panic", r).Error("Pipeline kick panicked")
			}
		}()
		s.kick()
	}()
}
