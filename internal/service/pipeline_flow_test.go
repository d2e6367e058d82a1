package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/marketfeed/catalogd/config"
	"github.com/marketfeed/catalogd/internal/domain/model"
	"github.com/marketfeed/catalogd/internal/embedding"
	"github.com/marketfeed/catalogd/internal/hydrator"
	"github.com/marketfeed/catalogd/internal/mocks"
	"github.com/marketfeed/catalogd/internal/moderation"
	"github.com/marketfeed/catalogd/internal/scout"
	"github.com/marketfeed/catalogd/internal/vectorindex"
)

// marketFixture serves a fake seller site: a catalog page linking two
// listings, a detail page and an image per listing, and an approving
// moderation endpoint.
type marketFixture struct {
	srv *httptest.Server
}

func newMarketFixture(t *testing.T) *marketFixture {
	t.Helper()

	mux := http.NewServeMux()
	f := &marketFixture{srv: httptest.NewServer(mux)}
	t.Cleanup(f.srv.Close)
	base := f.srv.URL

	mux.HandleFunc("/catalog", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a href="/1111111111111111/seller-a">Vintage lamp</a>
			<a href="/2222222222222222/seller-a">Oak chair</a>
			<a href="/about">About this seller</a>
		</body></html>`)
	})
	mux.HandleFunc("/1111111111111111/seller-a", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html><head>
			<meta property="og:title" content="Vintage lamp">
			<meta property="og:description" content="Brass, working">
			<meta property="og:image" content="%s/img/lamp.jpg">
			<meta property="product:price:amount" content="42.00">
		</head></html>`, base)
	})
	mux.HandleFunc("/2222222222222222/seller-a", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `<html><head>
			<meta property="og:title" content="Oak chair">
			<meta property="og:description" content="Solid oak, reupholstered">
			<meta property="og:image" content="%s/img/chair.jpg">
			<meta property="product:price:amount" content="15.00">
		</head></html>`, base)
	})
	mux.HandleFunc("/img/lamp.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("lamp-image-bytes"))
	})
	mux.HandleFunc("/img/chair.jpg", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("chair-image-bytes"))
	})
	mux.HandleFunc("/moderate", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"decision": "approved", "confidence": 0.91, "reason": "ok", "flags": []}`)
	})
	return f
}

// jobQueue is an in-test stand-in for the durable queue: handlers enqueue
// through the repo mock and the test drains jobs in FIFO order.
type jobQueue struct {
	mu      sync.Mutex
	pending []*model.Job
	nextID  int
}

func (q *jobQueue) push(req model.CreateJobRequest) *model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	job := &model.Job{
		ID:        fmt.Sprintf("job-%d", q.nextID),
		Type:      req.Type,
		Payload:   req.Payload,
		Priority:  req.Priority,
		SellerRef: req.SellerRef,
		ListingID: req.ListingID,
	}
	q.pending = append(q.pending, job)
	return job
}

func (q *jobQueue) pop() *model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job
}

func TestPipelineDiscoversModeratesAndIndexesCatalog(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	fixture := newMarketFixture(t)
	base := fixture.srv.URL
	ctx := context.Background()

	discoverer := scout.New(scout.Options{Timeout: 5 * time.Second})
	hyd := hydrator.New(hydrator.Options{
		BaseURL:     base,
		Concurrency: 4,
		Policy:      hydrator.Policy{MaxAttempts: 1, Base: time.Millisecond, Cap: time.Millisecond},
	})
	embedder := embedding.NewGenerator(embedding.GeneratorOptions{
		Image: embedding.NewHashImageEncoder(5*time.Second, nil),
	})
	client, err := moderation.NewClient(moderation.ClientOptions{Endpoint: base + "/moderate"})
	require.NoError(t, err)
	gate := moderation.NewGate(client, nil)
	index := vectorindex.NewMemory()

	queue := &jobQueue{}
	jobsRepo := mocks.NewMockJobRepository(ctrl)
	jobsRepo.EXPECT().
		Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req model.CreateJobRequest) (*model.Job, error) {
			return queue.push(req), nil
		}).AnyTimes()
	jobsRepo.EXPECT().
		CreateBatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, reqs []model.CreateJobRequest) ([]*model.Job, error) {
			jobs := make([]*model.Job, len(reqs))
			for i, req := range reqs {
				jobs[i] = queue.push(req)
			}
			return jobs, nil
		}).AnyTimes()

	persisted := map[string]*model.Listing{}
	listings := mocks.NewMockListingRepository(ctrl)
	listings.EXPECT().
		Upsert(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, listing *model.Listing) error {
			persisted[listing.ListingID] = listing
			return nil
		}).AnyTimes()

	syncJobs := mocks.NewMockSyncJobRepository(ctrl)
	syncJobs.EXPECT().MarkRunning(gomock.Any(), "seller-a").Return(nil)
	syncJobs.EXPECT().
		MarkCompleted(gomock.Any(), "seller-a", model.SyncCounts{Added: 2}).
		Return(nil)

	svc, err := NewPipelineService(PipelineServiceOptions{
		Jobs: MustNewJobService(JobServiceOptions{
			Repo:         jobsRepo,
			DefaultLease: 30 * time.Second,
			Notifier:     &stubJobNotifier{},
		}),
		Listings:   listings,
		SyncJobs:   syncJobs,
		Discoverer: discoverer,
		Hydrator:   hyd,
		Embedder:   embedder,
		Reviewer:   gate,
		Index:      index,
		Config:     config.PipelineConfig{MaxRetries: 3},
	})
	require.NoError(t, err)

	handlers := svc.Handlers()
	queue.push(func() model.CreateJobRequest {
		raw, marshalErr := model.MarshalPayload(model.DiscoverCatalogPayload{
			SellerRef:  "seller-a",
			CatalogURL: base + "/catalog",
		})
		require.NoError(t, marshalErr)
		return model.CreateJobRequest{Type: model.JobTypeDiscoverCatalog, Payload: raw}
	}())

	// Drain the queue the way the stage workers would, one job at a time.
	for job := queue.pop(); job != nil; job = queue.pop() {
		handler, ok := handlers[job.Type]
		require.True(t, ok, "no handler for %s", job.Type)
		require.NoError(t, handler(ctx, job), "stage %s", job.Type)
	}

	// Both listings made it through hydration, embedding, moderation, and
	// persistence as visible approved records.
	require.Len(t, persisted, 2)
	for _, id := range []string{"1111111111111111", "2222222222222222"} {
		record, ok := persisted[id]
		require.True(t, ok, "listing %s was not persisted", id)
		assert.Equal(t, model.DecisionApproved, record.ModerationDecision)
		assert.True(t, record.Visible)
		assert.False(t, record.EmbeddingDegraded)
	}
	assert.Equal(t, int64(4200), persisted["1111111111111111"].PriceCents)
	assert.Equal(t, int64(1500), persisted["2222222222222222"].PriceCents)

	// A k=1 query with the lamp's own vector must return the lamp as the
	// top match with a perfect score.
	lamp := &model.HydratedListing{
		ListingID:   "1111111111111111",
		SellerRef:   "seller-a",
		Title:       "Vintage lamp",
		Description: "Brass, working",
		ImageRef:    base + "/img/lamp.jpg",
		PriceCents:  4200,
	}
	queryVec, err := embedder.Embed(ctx, lamp)
	require.NoError(t, err)

	matches, err := index.Query(ctx, queryVec.HybridVector, 1, 0.5)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "1111111111111111", matches[0].ListingID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
}
