package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/logger"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/scraper"
)

// ErrNoTargets is returned when a scrape is requested with no explicit targets
// and the venue directory has no source handles either.
var ErrNoTargets = errors.New("no scrape targets available")

// ScrapeProvider is the slice of the provider client the pipeline depends on.
type ScrapeProvider interface {
	StartRun(ctx context.Context, input *scraper.StartRunInput) (*scraper.StartedRun, error)
	RunStatus(ctx context.Context, externalJobID string) (string, error)
	DatasetItems(ctx context.Context, datasetRef string, limit int) ([]map[string]interface{}, error)
	DeleteDataset(ctx context.Context, datasetRef string) error
}

// TriggerService starts scrape runs at the external provider and records them.
type TriggerService struct {
	provider       ScrapeProvider
	runs           *repository.RunRepository
	venues         *repository.VenueRepository
	webhookBaseURL string
	lookback       time.Duration
}

// TriggerServiceConfig holds configuration for the trigger service.
type TriggerServiceConfig struct {
	// WebhookBaseURL is this service's public base URL. Empty disables webhook
	// registration; the poller then carries completion detection alone.
	WebhookBaseURL string
	// LookbackWindow bounds how far back scraped posts may date. Slightly more
	// than a day so a daily schedule cannot open gaps between runs.
	LookbackWindow time.Duration
}

// NewTriggerService creates a new TriggerService.
func NewTriggerService(provider ScrapeProvider, runs *repository.RunRepository, venues *repository.VenueRepository, cfg *TriggerServiceConfig) *TriggerService {
	lookback := cfg.LookbackWindow
	if lookback == 0 {
		lookback = 25 * time.Hour
	}
	return &TriggerService{
		provider:       provider,
		runs:           runs,
		venues:         venues,
		webhookBaseURL: cfg.WebhookBaseURL,
		lookback:       lookback,
	}
}

// StartScrape starts one provider scrape job and persists its run record. When
// targets is empty the venue directory's source handles are used. The run row is
// written only after the provider accepts the job; a rejected job leaves no
// record behind.
func (s *TriggerService) StartScrape(ctx context.Context, targets []string, kind domain.RunKind) (*domain.Run, error) {
	if len(targets) == 0 {
		handles, err := s.venues.SourceHandles(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load venue source handles: %w", err)
		}
		targets = handles
	}
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}

	if kind == "" {
		kind = domain.RunKindPosts
	}

	runID := uuid.NewString()
	ctx = logger.SetRunID(ctx, runID)

	var webhookURL string
	if s.webhookBaseURL != "" {
		webhookURL = fmt.Sprintf("%s/webhooks/scrape?run_id=%s", s.webhookBaseURL, runID)
	}

	now := time.Now().UTC()
	started, err := s.provider.StartRun(ctx, &scraper.StartRunInput{
		Targets:    targets,
		Kind:       string(kind),
		OnlyNewer:  now.Add(-s.lookback),
		WebhookURL: webhookURL,
	})
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithFields(logger.Fields{
			"kind":            kind,
			logger.FieldCount: len(targets),
		}).Error("Scrape trigger rejected by provider")
		return nil, err
	}

	run := &domain.Run{
		RunID:         runID,
		ExternalJobID: started.ExternalJobID,
		DatasetRef:    started.DatasetRef,
		Kind:          kind,
		Status:        domain.RunStatusInitiated,
		TargetCount:   len(targets),
		InitiatedAt:   now,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to persist run record: %w", err)
	}

	logger.FromContext(ctx).WithFields(logger.Fields{
		"external_job_id":      started.ExternalJobID,
		logger.FieldDatasetRef: started.DatasetRef,
		"kind":                 kind,
		logger.FieldCount:      len(targets),
	}).Info("Scrape run started")
	return run, nil
}
