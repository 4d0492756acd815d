package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/nadia/gigradar/internal/logger"
)

// Job is one scheduled background sweep.
type Job func(ctx context.Context) error

// Config holds the cron expressions for the background jobs.
type Config struct {
	PollCron     string
	PipelineCron string
}

// Scheduler runs the completion poller and the pipeline on cron schedules.
// Overlapping invocations of the same job are skipped, not queued; a slow sweep
// must not pile up behind itself.
type Scheduler struct {
	cron *cron.Cron
	cfg  Config
}

// New creates a Scheduler with both jobs registered. An empty cron expression
// disables that job.
func New(cfg Config, poll, pipeline Job) (*Scheduler, error) {
	log := logger.GetDefault().WithField(logger.FieldComponent, "scheduler")

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.PrintfLogger(log)),
		cron.Recover(cron.PrintfLogger(log)),
	))

	register := func(spec, component string, job Job) error {
		if spec == "" || job == nil {
			return nil
		}
		_, err := c.AddFunc(spec, func() {
			ctx := logger.SetComponent(context.Background(), component)
			if err := job(ctx); err != nil {
				logger.FromContext(ctx).WithError(err).Error("Scheduled sweep failed")
			}
		})
		return err
	}

	if err := register(cfg.PollCron, "poller", poll); err != nil {
		return nil, err
	}
	if err := register(cfg.PipelineCron, "pipeline", pipeline); err != nil {
		return nil, err
	}

	return &Scheduler{cron: c, cfg: cfg}, nil
}

// Start begins scheduling in a background goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	logger.GetDefault().WithFields(logger.Fields{
		"poll_cron":     s.cfg.PollCron,
		"pipeline_cron": s.cfg.PipelineCron,
	}).Info("Scheduler started")
}

// Stop stops scheduling and waits for any running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
