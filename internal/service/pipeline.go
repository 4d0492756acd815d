package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
)

// CycleStats summarizes one pipeline cycle.
type CycleStats struct {
	Claimed int `json:"claimed"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
	Healed  int `json:"healed"`
}

// RunStats is the per-run processing summary persisted on the run row.
type RunStats struct {
	Classify    *ClassifyStats    `json:"classify,omitempty"`
	Materialize *MaterializeStats `json:"materialize,omitempty"`
}

// PipelineService drives completed runs through classification and
// materialization. Each cycle first heals runs the normal flow dropped, then
// claims a bounded batch of ready runs. The claim is a conditional update on
// classification_status, so concurrent cycles (scheduler tick racing a webhook
// kick) each win disjoint runs.
type PipelineService struct {
	runs         *repository.RunRepository
	classifier   *ClassifierService
	materializer *MaterializerService

	claimBatchSize int
	healSampleSize int
	staleness      time.Duration

	busy atomic.Bool
}

// PipelineConfig holds configuration for the pipeline orchestrator.
type PipelineConfig struct {
	ClaimBatchSize int
	HealSampleSize int
	// StalenessWindow is how long an in_progress claim may sit before the heal
	// sweep assumes its worker died and returns the run to ready.
	StalenessWindow time.Duration
}

// NewPipelineService creates a new PipelineService.
func NewPipelineService(runs *repository.RunRepository, classifier *ClassifierService, materializer *MaterializerService, cfg *PipelineConfig) *PipelineService {
	claim := cfg.ClaimBatchSize
	if claim <= 0 {
		claim = 5
	}
	heal := cfg.HealSampleSize
	if heal <= 0 {
		heal = 50
	}
	staleness := cfg.StalenessWindow
	if staleness == 0 {
		staleness = 15 * time.Minute
	}
	return &PipelineService{
		runs:           runs,
		classifier:     classifier,
		materializer:   materializer,
		claimBatchSize: claim,
		healSampleSize: heal,
		staleness:      staleness,
	}
}

// Kick runs one cycle on a background context, skipping when a cycle is already
// underway. This is the nudge wired to completion ingestion.
func (s *PipelineService) Kick() {
	if !s.busy.CompareAndSwap(false, true) {
		return
	}
	defer s.busy.Store(false)

	if _, err := s.runCycle(context.Background()); err != nil {
		logger.GetDefault().WithError(err).Error("Pipeline kick cycle failed")
	}
}

// RunCycle heals dropped runs, claims a batch of ready runs, and processes each
// claimed run to its terminal pipeline state.
func (s *PipelineService) RunCycle(ctx context.Context) (*CycleStats, error) {
	return s.runCycle(ctx)
}

func (s *PipelineService) runCycle(ctx context.Context) (*CycleStats, error) {
	ctx = logger.SetComponent(ctx, "pipeline")
	stats := &CycleStats{}

	healed, err := s.heal(ctx)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Heal sweep failed")
	}
	stats.Healed = healed

	ready, err := s.runs.ListReadyForClassification(ctx, s.claimBatchSize)
	if err != nil {
		return stats, fmt.Errorf("failed to list ready runs: %w", err)
	}

	for i := range ready {
		run := &ready[i]
		won, err := s.runs.ClaimForClassification(ctx, run.RunID, time.Now().UTC())
		if err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldRunID, run.RunID).Error("Claim failed")
			continue
		}
		if !won {
			continue
		}
		stats.Claimed++

		if err := s.processRun(ctx, run.RunID); err != nil {
			stats.Failed++
		} else {
			stats.Done++
		}
	}

	if stats.Claimed > 0 || stats.Healed > 0 {
		logger.FromContext(ctx).WithFields(logger.Fields{
			"claimed": stats.Claimed,
			"done":    stats.Done,
			"failed":  stats.Failed,
			"healed":  stats.Healed,
		}).Info("Pipeline cycle finished")
	}
	return stats, nil
}

// processRun takes one claimed run through classification and materialization
// and records the terminal pipeline state on the run row.
func (s *PipelineService) processRun(ctx context.Context, runID string) error {
	ctx = logger.SetRunID(ctx, runID)

	cStats, err := s.classifier.ClassifyRun(ctx, runID)
	if err != nil {
		s.markPipelineFailed(ctx, runID, err)
		return err
	}

	mStats, err := s.materializer.MaterializeRun(ctx, runID)
	if err != nil {
		s.markPipelineFailed(ctx, runID, err)
		return err
	}

	summary, _ := json.Marshal(RunStats{Classify: cStats, Materialize: mStats})
	if err := s.runs.UpdateFields(ctx, runID, map[string]interface{}{
		"classification_status": domain.ClassificationStatusCompleted,
		"processing_stats":      string(summary),
	}); err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// markPipelineFailed records a terminal pipeline failure on the run row.
// Failed runs are never reclaimed automatically; the per-run classify and
// materialize endpoints are the retry path once the cause is fixed.
func (s *PipelineService) markPipelineFailed(ctx context.Context, runID string, cause error) {
	if err := s.runs.UpdateFields(ctx, runID, map[string]interface{}{
		"classification_status": domain.ClassificationStatusFailed,
		"error":                 cause.Error(),
	}); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to record pipeline failure")
	}
}

// heal repairs the two ways a completed run can fall out of the pipeline: a
// terminal run whose classification_status was never set, and an in_progress
// claim whose worker died mid-flight.
func (s *PipelineService) heal(ctx context.Context) (int, error) {
	healed := 0

	stale, err := s.runs.ResetStaleClaims(ctx, time.Now().UTC().Add(-s.staleness))
	if err != nil {
		return healed, fmt.Errorf("failed to reset stale claims: %w", err)
	}
	healed += int(stale)

	completed, err := s.runs.ListCompleted(ctx, s.healSampleSize)
	if err != nil {
		return healed, fmt.Errorf("failed to list completed runs: %w", err)
	}
	for i := range completed {
		if completed[i].ClassificationStatus != domain.ClassificationStatusNone {
			continue
		}
		if err := s.runs.UpdateFields(ctx, completed[i].RunID, map[string]interface{}{
			"classification_status": domain.ClassificationStatusReady,
		}); err != nil {
			logger.FromContext(ctx).WithError(err).WithField(logger.FieldRunID, completed[i].RunID).Error("Failed to heal run")
			continue
		}
		healed++
	}

	if healed > 0 {
		logger.FromContext(ctx).WithField(logger.FieldCount, healed).Info("Healed dropped runs")
	}
	return healed, nil
}
