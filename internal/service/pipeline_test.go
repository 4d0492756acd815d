package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/gigradar/internal/domain"
)

type pipelineFixture struct {
	repos  *testRepos
	vision *fakeVision
	svc    *PipelineService
	mat    *materializerFixture
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	mat := newMaterializerFixture(t)
	vision := newFakeVision()
	classifier := NewClassifierService(vision, mat.repos.results, mat.repos.classifications, testPolicy(), 2)
	svc := NewPipelineService(mat.repos.runs, classifier, mat.svc, &PipelineConfig{
		ClaimBatchSize:  5,
		HealSampleSize:  50,
		StalenessWindow: 15 * time.Minute,
	})
	return &pipelineFixture{repos: mat.repos, vision: vision, svc: svc, mat: mat}
}

func seedCompletedRun(t *testing.T, repos *testRepos, runID string, status domain.ClassificationStatus) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, repos.runs.Create(context.Background(), &domain.Run{
		RunID:                runID,
		ExternalJobID:        "job-" + runID,
		DatasetRef:           "ds-" + runID,
		Kind:                 domain.RunKindPosts,
		Status:               domain.RunStatusCompleted,
		ClassificationStatus: status,
		InitiatedAt:          now.Add(-time.Hour),
		CompletedAt:          &now,
	}))
}

func TestRunCycleProcessesReadyRunEndToEnd(t *testing.T) {
	f := newPipelineFixture(t)
	f.vision.verdicts["triage-model"] = &Verdict{IsEvent: true, Confidence: 0.9}
	seedVenue(t, f.repos, &domain.Venue{
		ID: "v1", Name: "Club Vertigo", SourceHandles: domain.StringArray{"clubvertigo"},
	})

	seedCompletedRun(t, f.repos, "run-1", domain.ClassificationStatusReady)
	seedResults(t, f.repos, "run-1",
		domain.ScrapedItem{ItemID: "p1", MediaURL: "https://cdn.test/p1.jpg", MediaType: domain.MediaTypeImage, Caption: "friday", OwnerUsername: "clubvertigo"},
		domain.ScrapedItem{ItemID: "p2", MediaURL: "https://cdn.test/p2.jpg", MediaType: domain.MediaTypeImage, Caption: "saturday", OwnerUsername: "clubvertigo"},
		domain.ScrapedItem{ItemID: "v1", MediaURL: "https://cdn.test/v1.mp4", MediaType: domain.MediaTypeVideo},
	)
	f.mat.extractor.results["friday"] = &ExtractedEvent{Name: "Friday Night", VenueName: "Club Vertigo"}
	f.mat.extractor.results["saturday"] = &ExtractedEvent{Name: "Saturday Night", VenueName: "Club Vertigo"}

	stats, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Claimed)
	assert.Equal(t, 1, stats.Done)
	assert.Zero(t, stats.Failed)

	run, err := f.repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusCompleted, run.ClassificationStatus)
	assert.Contains(t, run.ProcessingStats, `"classified":3`)
	assert.Contains(t, run.ProcessingStats, `"saved":2`)

	// three verdicts, but only the two images became events
	count, err := f.repos.events.CountByRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestRunCycleSkipsClaimedRuns(t *testing.T) {
	f := newPipelineFixture(t)
	seedCompletedRun(t, f.repos, "run-1", domain.ClassificationStatusReady)

	// Another cycle claims the run between the list and the claim.
	won, err := f.repos.runs.ClaimForClassification(context.Background(), "run-1", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	stats, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
}

func TestRunCycleHealsUnsetClassificationStatus(t *testing.T) {
	f := newPipelineFixture(t)
	seedCompletedRun(t, f.repos, "run-old", domain.ClassificationStatusNone)
	seedResults(t, f.repos, "run-old")

	stats, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Healed)
	// healed in this cycle means claimed in this same cycle
	assert.Equal(t, 1, stats.Claimed)

	run, err := f.repos.runs.GetByID(context.Background(), "run-old")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusCompleted, run.ClassificationStatus)
}

func TestRunCycleResetsStaleClaims(t *testing.T) {
	f := newPipelineFixture(t)
	seedCompletedRun(t, f.repos, "run-stale", domain.ClassificationStatusInProgress)
	seedCompletedRun(t, f.repos, "run-fresh", domain.ClassificationStatusInProgress)
	seedResults(t, f.repos, "run-stale")

	stale := time.Now().UTC().Add(-16 * time.Minute)
	require.NoError(t, f.repos.runs.UpdateFields(context.Background(), "run-stale", map[string]interface{}{
		"classification_started_at": stale,
	}))
	fresh := time.Now().UTC().Add(-14 * time.Minute)
	require.NoError(t, f.repos.runs.UpdateFields(context.Background(), "run-fresh", map[string]interface{}{
		"classification_started_at": fresh,
	}))

	stats, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Healed)

	// the stale claim was retried to completion, the fresh one left alone
	staleRun, err := f.repos.runs.GetByID(context.Background(), "run-stale")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusCompleted, staleRun.ClassificationStatus)

	freshRun, err := f.repos.runs.GetByID(context.Background(), "run-fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusInProgress, freshRun.ClassificationStatus)
}

func TestRunCycleMissingResultsIsTerminal(t *testing.T) {
	f := newPipelineFixture(t)
	seedCompletedRun(t, f.repos, "run-1", domain.ClassificationStatusReady)

	stats, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	run, err := f.repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusFailed, run.ClassificationStatus)
	assert.NotEmpty(t, run.Error)

	// a failed run is not picked up again
	stats, err = f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
}

func TestPipelineFailureIsTerminal(t *testing.T) {
	f := newPipelineFixture(t)
	seedCompletedRun(t, f.repos, "run-1", domain.ClassificationStatusInProgress)

	f.svc.markPipelineFailed(context.Background(), "run-1", assert.AnError)

	run, err := f.repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusFailed, run.ClassificationStatus)
	assert.NotEmpty(t, run.Error)

	// No automatic retry: neither the claim loop nor the heal sweep touches a
	// failed run.
	stats, err := f.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Claimed)
	assert.Zero(t, stats.Healed)

	run, err = f.repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusFailed, run.ClassificationStatus)
}

func TestKickSkipsWhenBusy(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.busy.Store(true)
	// must return immediately without claiming anything
	seedCompletedRun(t, f.repos, "run-1", domain.ClassificationStatusReady)
	f.svc.Kick()

	run, err := f.repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusReady, run.ClassificationStatus)
}
