package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadia/gigradar/internal/domain"
	"github.com/nadia/gigradar/internal/repository"
)

func seedEvent(t *testing.T, repos *testRepos, id, name string) {
	t.Helper()
	require.NoError(t, repos.events.Create(context.Background(), &domain.Event{
		ID:         id,
		Name:       name,
		SearchText: name,
		Venue:      domain.EventVenue{VenueID: "v1", Name: "Club Vertigo"},
		Provenance: domain.Provenance{Platform: domain.PlatformInstagram, RunID: "run-1", ItemID: id},
	}))
}

func TestSearchReturnsScoredHits(t *testing.T) {
	repos := newTestRepos(t)
	embedder := &fakeEmbedder{}
	index := newFakeIndex()
	seedEvent(t, repos, "e1", "Techno Friday")
	seedEvent(t, repos, "e2", "Jazz Sunday")
	index.hits = []repository.SearchResult{
		{ID: "e1", Score: 0.92},
		{ID: "e2", Score: 0.61},
	}

	svc := NewSearchService(embedder, index, repos.events)
	hits, err := svc.Search(context.Background(), "friday techno", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Techno Friday", hits[0].Event.Name)
	assert.InDelta(t, 0.92, hits[0].Score, 0.001)
	assert.Equal(t, "Jazz Sunday", hits[1].Event.Name)
	assert.Equal(t, 1, embedder.queryCalls)
	assert.Zero(t, embedder.calls)
}

func TestSearchSkipsPointsWithoutEventRow(t *testing.T) {
	repos := newTestRepos(t)
	index := newFakeIndex()
	seedEvent(t, repos, "e1", "Techno Friday")
	// e2 was deleted after indexing; its point is still in the index.
	index.hits = []repository.SearchResult{
		{ID: "e2", Score: 0.95},
		{ID: "e1", Score: 0.80},
	}

	svc := NewSearchService(&fakeEmbedder{}, index, repos.events)
	hits, err := svc.Search(context.Background(), "friday", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "e1", hits[0].Event.ID)
}

func TestSearchEmbeddingFailure(t *testing.T) {
	repos := newTestRepos(t)
	svc := NewSearchService(&fakeEmbedder{err: assert.AnError}, newFakeIndex(), repos.events)

	_, err := svc.Search(context.Background(), "friday", 10)
	assert.Error(t, err)
}
