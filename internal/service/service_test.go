package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nadia/gigradar/internal/config"
	"github.com/nadia/gigradar/internal/repository"
	"github.com/nadia/gigradar/internal/scraper"
)

// testRepos bundles the repositories backed by one temp sqlite database.
type testRepos struct {
	db              *gorm.DB
	runs            *repository.RunRepository
	results         *repository.ResultRepository
	classifications *repository.ClassificationRepository
	venues          *repository.VenueRepository
	events          *repository.EventRepository
}

func newTestRepos(t *testing.T) *testRepos {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxIdleConns: 2,
		MaxOpenConns: 4,
		AutoMigrate:  true,
	})
	require.NoError(t, err)

	return &testRepos{
		db:              db,
		runs:            repository.NewRunRepository(db),
		results:         repository.NewResultRepository(db),
		classifications: repository.NewClassificationRepository(db),
		venues:          repository.NewVenueRepository(db),
		events:          repository.NewEventRepository(db),
	}
}

// fakeProvider scripts the scrape provider.
type fakeProvider struct {
	mu sync.Mutex

	startResult *scraper.StartedRun
	startErr    error
	startCalls  int
	lastInput   *scraper.StartRunInput

	statuses  map[string]string
	statusErr error

	items    map[string][]map[string]interface{}
	itemsErr error

	deleteCalls []string
	deleteErr   error
}

func (f *fakeProvider) StartRun(_ context.Context, input *scraper.StartRunInput) (*scraper.StartedRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	f.lastInput = input
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startResult, nil
}

func (f *fakeProvider) RunStatus(_ context.Context, externalJobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return "", f.statusErr
	}
	return f.statuses[externalJobID], nil
}

func (f *fakeProvider) DatasetItems(_ context.Context, datasetRef string, _ int) ([]map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.itemsErr != nil {
		return nil, f.itemsErr
	}
	return f.items[datasetRef], nil
}

func (f *fakeProvider) DeleteDataset(_ context.Context, datasetRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, datasetRef)
	return f.deleteErr
}

// fakeVision scripts verdicts per model and counts calls per (model, imageURL).
type fakeVision struct {
	mu       sync.Mutex
	verdicts map[string]*Verdict // keyed by model
	errs     map[string]error    // keyed by model
	calls    map[string]int      // keyed by model + "|" + imageURL
}

func newFakeVision() *fakeVision {
	return &fakeVision{
		verdicts: make(map[string]*Verdict),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeVision) Classify(_ context.Context, model, imageURL, _ string) (*Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[model+"|"+imageURL]++
	if err := f.errs[model]; err != nil {
		return nil, err
	}
	v, ok := f.verdicts[model]
	if !ok {
		return nil, fmt.Errorf("no scripted verdict for model %s", model)
	}
	clone := *v
	return &clone, nil
}

func (f *fakeVision) callCount(model, imageURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[model+"|"+imageURL]
}

// fakeExtractor scripts extraction results keyed by caption.
type fakeExtractor struct {
	mu      sync.Mutex
	results map[string]*ExtractedEvent
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string, caption string) (*ExtractedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if e, ok := f.results[caption]; ok {
		clone := *e
		return &clone, nil
	}
	return &ExtractedEvent{Name: "Untitled Night"}, nil
}

// fakeEmbedder returns a fixed-size vector.
type fakeEmbedder struct {
	err        error
	calls      int
	queryCalls int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, 8), nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.queryCalls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, 8), nil
}

// fakeIndex records upserted points and scripts search hits.
type fakeIndex struct {
	mu        sync.Mutex
	payloads  map[string]*repository.EventPayload
	err       error
	hits      []repository.SearchResult
	searchErr error
	deleted   []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{payloads: make(map[string]*repository.EventPayload)}
}

func (f *fakeIndex) Upsert(_ context.Context, pointID string, _ []float32, payload *repository.EventPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads[pointID] = payload
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, pointID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.payloads, pointID)
	f.deleted = append(f.deleted, pointID)
	return nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, _ int) ([]repository.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.hits, nil
}

// fakeFetcher serves fixed media bytes.
type fakeFetcher struct {
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("jpegbytes"), "image/jpeg", nil
}

// fakeBlobs is an in-memory object store.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string][]byte)}
}

func (f *fakeBlobs) EnsureBucket(_ context.Context) error { return nil }

func (f *fakeBlobs) Upload(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlobs) Download(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobs) GetURL(key string) string {
	return "https://blobs.test/" + key
}

func (f *fakeBlobs) SignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + key + "?signed=1", nil
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobs) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok, nil
}
