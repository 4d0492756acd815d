package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/scraper"
)

func TestStartScrapePersistsRunOnSuccess(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{
		startResult: &scraper.StartedRun{ExternalJobID: "job-1", DatasetRef: "ds-1", Status: "RUNNING"},
	}
	svc := NewTriggerService(provider, repos.runs, repos.venues, &TriggerServiceConfig{
		WebhookBaseURL: "https://gigradar.test",
		LookbackWindow: 25 * time.Hour,
	})

	run, err := svc.StartScrape(context.Background(), []string{"clubvertigo", "barlunar"}, domain.RunKindPosts)
	require.NoError(t, err)
	require.NotEmpty(t, run.RunID)
	assert.Equal(t, "job-1", run.ExternalJobID)
	assert.Equal(t, "ds-1", run.DatasetRef)
	assert.Equal(t, domain.RunStatusInitiated, run.Status)
	assert.Equal(t, 2, run.TargetCount)

	stored, err := repos.runs.GetByID(context.Background(), run.RunID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", stored.ExternalJobID)

	require.NotNil(t, provider.lastInput)
	assert.Contains(t, provider.lastInput.WebhookURL, run.RunID)
	assert.Equal(t, []string{"clubvertigo", "barlunar"}, provider.lastInput.Targets)
	assert.False(t, provider.lastInput.OnlyNewer.IsZero())
}

func TestStartScrapeProviderRejectionLeavesNoRun(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{startErr: errors.New("actor quota exceeded")}
	svc := NewTriggerService(provider, repos.runs, repos.venues, &TriggerServiceConfig{})

	_, err := svc.StartScrape(context.Background(), []string{"clubvertigo"}, domain.RunKindPosts)
	require.Error(t, err)

	runs, err := repos.runs.List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestStartScrapeDefaultsToVenueHandles(t *testing.T) {
	repos := newTestRepos(t)
	require.NoError(t, repos.venues.Create(context.Background(), &domain.Venue{
		ID: "v1", Name: "Club Vertigo", SourceHandles: domain.StringArray{"clubvertigo", " barlunar "},
	}))
	require.NoError(t, repos.venues.Create(context.Background(), &domain.Venue{
		ID: "v2", Name: "Bar Lunar", SourceHandles: domain.StringArray{"barlunar"},
	}))

	provider := &fakeProvider{
		startResult: &scraper.StartedRun{ExternalJobID: "job-2", DatasetRef: "ds-2"},
	}
	svc := NewTriggerService(provider, repos.runs, repos.venues, &TriggerServiceConfig{})

	run, err := svc.StartScrape(context.Background(), nil, "")
	require.NoError(t, err)
	assert.Equal(t, domain.RunKindPosts, run.Kind)
	// handles are deduplicated and trimmed across venues
	assert.ElementsMatch(t, []string{"clubvertigo", "barlunar"}, provider.lastInput.Targets)
}

func TestStartScrapeNoTargets(t *testing.T) {
	repos := newTestRepos(t)
	provider := &fakeProvider{}
	svc := NewTriggerService(provider, repos.runs, repos.venues, &TriggerServiceConfig{})

	_, err := svc.StartScrape(context.Background(), nil, domain.RunKindPosts)
	assert.ErrorIs(t, err, ErrNoTargets)
	assert.Zero(t, provider.startCalls)
}
