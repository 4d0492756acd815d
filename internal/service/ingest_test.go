package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/scraper"
)

func seedRun(t *testing.T, repos *testRepos, runID, jobID, datasetRef string) {
	t.Helper()
	require.NoError(t, repos.runs.Create(context.Background(), &domain.Run{
		RunID:         runID,
		ExternalJobID: jobID,
		DatasetRef:    datasetRef,
		Kind:          domain.RunKindPosts,
		Status:        domain.RunStatusInitiated,
		InitiatedAt:   time.Now().UTC(),
	}))
}

func TestHandleCompletionIngestsResults(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		items: map[string][]map[string]interface{}{
			"ds-1": {
				{"id": "p1", "displayUrl": "https://cdn.test/p1.jpg", "caption": "show tonight", "ownerUsername": "clubvertigo"},
				{"id": "p2", "displayUrl": "https://cdn.test/p2.jpg", "type": "Video"},
			},
		},
	}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	require.NoError(t, svc.HandleCompletion(context.Background(), "run-1", scraper.StatusSucceeded))

	result, err := repos.results.GetByRunID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemCount)
	assert.Equal(t, "p1", result.Items[0].ItemID)
	assert.Equal(t, domain.MediaTypeVideo, result.Items[1].MediaType)

	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, domain.ClassificationStatusReady, run.ClassificationStatus)
	require.NotNil(t, run.CompletedAt)
}

func TestHandleCompletionCleansUpDataset(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		items: map[string][]map[string]interface{}{
			"ds-1": {{"id": "p1", "displayUrl": "https://cdn.test/p1.jpg"}},
		},
	}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	require.NoError(t, svc.HandleCompletion(context.Background(), "run-1", scraper.StatusSucceeded))
	assert.Equal(t, []string{"ds-1"}, provider.deleteCalls)
}

func TestHandleCompletionDatasetCleanupFailureIsNonFatal(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		items: map[string][]map[string]interface{}{
			"ds-1": {{"id": "p1", "displayUrl": "https://cdn.test/p1.jpg"}},
		},
		deleteErr: assert.AnError,
	}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	require.NoError(t, svc.HandleCompletion(context.Background(), "run-1", scraper.StatusSucceeded))

	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
}

func TestHandleCompletionDuplicateWebhookIsHarmless(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		items: map[string][]map[string]interface{}{
			"ds-1": {{"id": "p1", "displayUrl": "https://cdn.test/p1.jpg"}},
		},
	}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	require.NoError(t, svc.HandleCompletion(context.Background(), "run-1", scraper.StatusSucceeded))

	// Simulate the run advancing through the pipeline before the redelivery.
	won, err := repos.runs.ClaimForClassification(context.Background(), "run-1", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, won)

	require.NoError(t, svc.HandleCompletion(context.Background(), "run-1", scraper.StatusSucceeded))

	result, err := repos.results.GetByRunID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ItemCount)

	// Redelivery must not yank an in-flight run back to ready.
	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ClassificationStatusInProgress, run.ClassificationStatus)
}

func TestHandleCompletionIgnoresNonTerminalStatus(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		items: map[string][]map[string]interface{}{
			"ds-1": {{"id": "p1", "displayUrl": "https://cdn.test/p1.jpg"}},
		},
	}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	require.NoError(t, svc.HandleCompletion(context.Background(), "run-1", "RUNNING"))

	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInitiated, run.Status)

	cached, err := repos.results.Exists(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestHandleCompletionTerminalFailure(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewIngestService(&fakeProvider{}, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	require.NoError(t, svc.HandleCompletion(context.Background(), "run-1", scraper.StatusTimedOut))

	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, run.Error, "TIMED-OUT")
}

func TestHandleCompletionUnknownRun(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewIngestService(&fakeProvider{}, repos.runs, repos.results, &IngestServiceConfig{})

	err := svc.HandleCompletion(context.Background(), "no-such-run", scraper.StatusSucceeded)
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestPollFastPathUsesCache(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{statuses: map[string]string{}}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	// Webhook landed and cached results, but the status flip was lost.
	require.NoError(t, repos.results.Upsert(context.Background(), &domain.ScrapeResult{
		RunID:     "run-1",
		Items:     domain.ScrapedItemList{{ItemID: "p1"}},
		ItemCount: 1,
	}))

	pollLog, err := svc.Poll(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, domain.StringArray{"run-1"}, pollLog.CompletedRuns)
	assert.Empty(t, pollLog.Errors)

	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
}

func TestPollFallsBackToProviderStatus(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		statuses: map[string]string{
			"job-done":    scraper.StatusSucceeded,
			"job-dead":    scraper.StatusAborted,
			"job-running": "RUNNING",
		},
		items: map[string][]map[string]interface{}{
			"ds-done": {{"id": "p1", "displayUrl": "https://cdn.test/p1.jpg"}},
		},
	}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-done", "job-done", "ds-done")
	seedRun(t, repos, "run-dead", "job-dead", "ds-dead")
	seedRun(t, repos, "run-running", "job-running", "ds-running")

	pollLog, err := svc.Poll(context.Background(), 25)
	require.NoError(t, err)
	assert.Len(t, pollLog.CheckedRuns, 3)
	assert.Equal(t, domain.StringArray{"run-done"}, pollLog.CompletedRuns)
	assert.Equal(t, domain.StringArray{"run-dead"}, pollLog.FailedRuns)

	done, err := repos.runs.GetByID(context.Background(), "run-done")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)

	exists, err := repos.results.Exists(context.Background(), "run-done")
	require.NoError(t, err)
	assert.True(t, exists)

	running, err := repos.runs.GetByID(context.Background(), "run-running")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInitiated, running.Status)
}

func TestPollFetchesDatasetWhenStatusLookupFails(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		statusErr: assert.AnError,
		items: map[string][]map[string]interface{}{
			"ds-1": {{"id": "p1", "displayUrl": "https://cdn.test/p1.jpg"}},
		},
	}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	pollLog, err := svc.Poll(context.Background(), 25)
	require.NoError(t, err)
	assert.Equal(t, domain.StringArray{"run-1"}, pollLog.CompletedRuns)
	assert.Empty(t, pollLog.Errors)

	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
}

func TestPollEmptyDatasetDoesNotCompleteOnInconclusiveStatus(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{statusErr: assert.AnError}
	svc := NewIngestService(provider, repos.runs, repos.results, &IngestServiceConfig{})
	seedRun(t, repos, "run-1", "job-1", "ds-1")

	pollLog, err := svc.Poll(context.Background(), 25)
	require.NoError(t, err)
	assert.Empty(t, pollLog.CompletedRuns)
	assert.Len(t, pollLog.Errors, 1)

	run, err := repos.runs.GetByID(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusInitiated, run.Status)
}

func TestPollPersistsPollLog(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewIngestService(&fakeProvider{}, repos.runs, repos.results, &IngestServiceConfig{})

	pollLog, err := svc.Poll(context.Background(), 25)
	require.NoError(t, err)

	var count int64
	require.NoError(t, repos.db.Model(&domain.PollLog{}).Where("id = ?", pollLog.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
