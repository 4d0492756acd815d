package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/gigradar/internal/domain"
)

func seedResults(t *testing.T, repos *testRepos, runID string, items ...domain.ScrapedItem) {
	t.Helper()
	require.NoError(t, repos.results.Upsert(context.Background(), &domain.ScrapeResult{
		RunID:     runID,
		Items:     domain.ScrapedItemList(items),
		ItemCount: len(items),
	}))
}

func testPolicy() ClassifierPolicy {
	return ClassifierPolicy{Threshold: 0.7, TriageModel: "triage-model", EscalateModel: "escalate-model"}
}

func TestClassifyRunConfidentTriageNeverEscalates(t *testing.T) {
	repos := newTestRepos(t)
	vision := newFakeVision()
	vision.verdicts["triage-model"] = &Verdict{IsEvent: true, Confidence: 0.9, Reasons: []string{"flyer layout"}}

	svc := NewClassifierService(vision, repos.results, repos.classifications, testPolicy(), 2)
	seedResults(t, repos, "run-1", domain.ScrapedItem{
		ItemID: "p1", MediaURL: "https://cdn.test/p1.jpg", MediaType: domain.MediaTypeImage, Caption: "friday",
	})

	stats, err := svc.ClassifyRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classified)
	assert.Zero(t, stats.Errors)

	assert.Equal(t, 1, vision.callCount("triage-model", "https://cdn.test/p1.jpg"))
	assert.Zero(t, vision.callCount("escalate-model", "https://cdn.test/p1.jpg"))

	record, err := repos.classifications.GetByRunItem(context.Background(), "run-1", "p1")
	require.NoError(t, err)
	assert.True(t, record.IsEvent)
	assert.InDelta(t, 0.9, record.Confidence, 0.001)
	assert.Equal(t, "triage-model", record.TriageModel)
	assert.Empty(t, record.EscalateModel)
}

func TestClassifyRunLowConfidenceEscalatesExactlyOnce(t *testing.T) {
	repos := newTestRepos(t)
	vision := newFakeVision()
	vision.verdicts["triage-model"] = &Verdict{IsEvent: false, Confidence: 0.4}
	vision.verdicts["escalate-model"] = &Verdict{IsEvent: true, Confidence: 0.85, Reasons: []string{"date and venue present"}}

	svc := NewClassifierService(vision, repos.results, repos.classifications, testPolicy(), 1)
	seedResults(t, repos, "run-1", domain.ScrapedItem{
		ItemID: "p1", MediaURL: "https://cdn.test/p1.jpg", MediaType: domain.MediaTypeImage,
	})

	_, err := svc.ClassifyRun(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, vision.callCount("triage-model", "https://cdn.test/p1.jpg"))
	assert.Equal(t, 1, vision.callCount("escalate-model", "https://cdn.test/p1.jpg"))

	record, err := repos.classifications.GetByRunItem(context.Background(), "run-1", "p1")
	require.NoError(t, err)
	assert.True(t, record.IsEvent)
	assert.InDelta(t, 0.85, record.Confidence, 0.001)
	assert.Equal(t, "triage-model", record.TriageModel)
	assert.Equal(t, "escalate-model", record.EscalateModel)
}

func TestClassifyRunEscalationFailureKeepsTriageVerdict(t *testing.T) {
	repos := newTestRepos(t)
	vision := newFakeVision()
	vision.verdicts["triage-model"] = &Verdict{IsEvent: true, Confidence: 0.5}
	vision.errs["escalate-model"] = assert.AnError

	svc := NewClassifierService(vision, repos.results, repos.classifications, testPolicy(), 1)
	seedResults(t, repos, "run-1", domain.ScrapedItem{
		ItemID: "p1", MediaURL: "https://cdn.test/p1.jpg", MediaType: domain.MediaTypeImage,
	})

	stats, err := svc.ClassifyRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classified)
	assert.Zero(t, stats.Errors)

	record, err := repos.classifications.GetByRunItem(context.Background(), "run-1", "p1")
	require.NoError(t, err)
	assert.True(t, record.IsEvent)
	assert.InDelta(t, 0.5, record.Confidence, 0.001)
	assert.Empty(t, record.EscalateModel)
}

func TestClassifyRunSkipsExistingRecords(t *testing.T) {
	repos := newTestRepos(t)
	vision := newFakeVision()
	vision.verdicts["triage-model"] = &Verdict{IsEvent: true, Confidence: 0.9}

	svc := NewClassifierService(vision, repos.results, repos.classifications, testPolicy(), 2)
	seedResults(t, repos, "run-1",
		domain.ScrapedItem{ItemID: "p1", MediaURL: "https://cdn.test/p1.jpg", MediaType: domain.MediaTypeImage},
		domain.ScrapedItem{ItemID: "p2", MediaURL: "https://cdn.test/p2.jpg", MediaType: domain.MediaTypeImage},
	)

	require.NoError(t, repos.classifications.Create(context.Background(), &domain.Classification{
		ID: "existing", RunID: "run-1", ItemID: "p1", IsEvent: false, Confidence: 0.95,
	}))

	stats, err := svc.ClassifyRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, 1, stats.Classified)
	assert.Equal(t, 1, stats.Skipped)

	// The existing verdict survives untouched.
	assert.Zero(t, vision.callCount("triage-model", "https://cdn.test/p1.jpg"))
	record, err := repos.classifications.GetByRunItem(context.Background(), "run-1", "p1")
	require.NoError(t, err)
	assert.False(t, record.IsEvent)
	assert.Equal(t, "existing", record.ID)
}

func TestClassifyRunVideoWithThumbnailUsesThumbnail(t *testing.T) {
	repos := newTestRepos(t)
	vision := newFakeVision()
	vision.verdicts["triage-model"] = &Verdict{IsEvent: true, Confidence: 0.9}

	svc := NewClassifierService(vision, repos.results, repos.classifications, testPolicy(), 1)
	seedResults(t, repos, "run-1", domain.ScrapedItem{
		ItemID:       "v1",
		MediaURL:     "https://cdn.test/v1.mp4",
		ThumbnailURL: "https://cdn.test/v1_thumb.jpg",
		MediaType:    domain.MediaTypeVideo,
		Caption:      "live set friday",
	})

	stats, err := svc.ClassifyRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classified)

	assert.Equal(t, 1, vision.callCount("triage-model", "https://cdn.test/v1_thumb.jpg"))
	assert.Zero(t, vision.callCount("triage-model", "https://cdn.test/v1.mp4"))

	record, err := repos.classifications.GetByRunItem(context.Background(), "run-1", "v1")
	require.NoError(t, err)
	assert.True(t, record.IsEvent)
	assert.Equal(t, "https://cdn.test/v1_thumb.jpg", record.ImageURL)
}

func TestClassifyRunVideosRecordedWithoutModelCall(t *testing.T) {
	repos := newTestRepos(t)
	vision := newFakeVision()

	svc := NewClassifierService(vision, repos.results, repos.classifications, testPolicy(), 1)
	seedResults(t, repos, "run-1",
		domain.ScrapedItem{ItemID: "v1", MediaURL: "https://cdn.test/v1.mp4", MediaType: domain.MediaTypeVideo},
		domain.ScrapedItem{ItemID: "m1", MediaType: domain.MediaTypeImage},
	)

	stats, err := svc.ClassifyRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Classified)
	assert.Zero(t, stats.Errors)

	video, err := repos.classifications.GetByRunItem(context.Background(), "run-1", "v1")
	require.NoError(t, err)
	assert.False(t, video.IsEvent)

	missing, err := repos.classifications.GetByRunItem(context.Background(), "run-1", "m1")
	require.NoError(t, err)
	assert.False(t, missing.IsEvent)
}

func TestClassifyRunTriageFailureLeavesItemRetryable(t *testing.T) {
	repos := newTestRepos(t)
	vision := newFakeVision()
	vision.errs["triage-model"] = assert.AnError

	svc := NewClassifierService(vision, repos.results, repos.classifications, testPolicy(), 1)
	seedResults(t, repos, "run-1", domain.ScrapedItem{
		ItemID: "p1", MediaURL: "https://cdn.test/p1.jpg", MediaType: domain.MediaTypeImage,
	})

	stats, err := svc.ClassifyRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)

	count, err := repos.classifications.CountByRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestClassifyRunMissingResults(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewClassifierService(newFakeVision(), repos.results, repos.classifications, testPolicy(), 1)

	_, err := svc.ClassifyRun(context.Background(), "run-none")
	assert.ErrorIs(t, err, ErrResultsNotFound)
}
