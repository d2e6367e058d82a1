package hydrator

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

const detailPage = `<!DOCTYPE html>
<html><head>
  <meta property="og:title" content="Vintage lamp">
  <meta property="og:description" content="A lovely lamp">
  <meta property="og:image" content="https://img.example.com/lamp.jpg">
  <meta property="product:price:amount" content="49.99">
</head><body></body></html>`

func testRef() model.ListingRef {
	return model.ListingRef{ListingID: "1234567890123456", SellerRef: "seller-a"}
}

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, Base: time.Millisecond, Cap: 4 * time.Millisecond}
}

func TestHydrateParsesMetaTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/1234567890123456/seller-a", r.URL.Path)
		fmt.Fprint(w, detailPage)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(3)})
	listing, err := h.Hydrate(context.Background(), testRef())
	require.NoError(t, err)

	assert.Equal(t, "Vintage lamp", listing.Title)
	assert.Equal(t, "A lovely lamp", listing.Description)
	assert.Equal(t, "https://img.example.com/lamp.jpg", listing.ImageRef)
	assert.Equal(t, int64(4999), listing.PriceCents)
	assert.False(t, listing.FetchedAt.IsZero())
}

func TestHydrateRetriesOnThrottle(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, detailPage)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(3)})
	listing, err := h.Hydrate(context.Background(), testRef())
	require.NoError(t, err)
	assert.Equal(t, "Vintage lamp", listing.Title)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHydrateExhaustedRetriesReturnsRateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(3)})
	_, err := h.Hydrate(context.Background(), testRef())
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimited(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestHydrateMissingListingDropsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(3)})
	_, err := h.Hydrate(context.Background(), testRef())
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestHydrateRejectsListingWithoutTitleOrImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><head><meta property="og:description" content="only text"></head></html>`)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(1)})
	_, err := h.Hydrate(context.Background(), testRef())
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCheckOneDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(3)})
	_, err := h.CheckOne(context.Background(), testRef())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCheckBatchClassifiesEachProbe(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/gone000000000000/seller-a":
			w.WriteHeader(http.StatusGone)
		case "/flaky00000000000/seller-a":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			fmt.Fprint(w, detailPage)
		}
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(3), Concurrency: 4})
	refs := []model.ListingRef{
		{ListingID: "1234567890123456", SellerRef: "seller-a"},
		{ListingID: "gone000000000000", SellerRef: "seller-a"},
		{ListingID: "flaky00000000000", SellerRef: "seller-a"},
	}

	results, err := h.CheckBatch(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "Vintage lamp", results[0].Listing.Title)

	assert.True(t, apperrors.IsNotFound(results[1].Err), "gone listing must classify as not_found")
	assert.True(t, apperrors.IsUnavailable(results[2].Err), "5xx must classify as unavailable, not not_found")

	// One request per ref: probes never retry even under a retrying policy.
	assert.Equal(t, int32(3), calls.Load())
}

func TestCheckBatchKeepsResultOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, detailPage)
	}))
	defer srv.Close()

	h := New(Options{BaseURL: srv.URL, Policy: fastPolicy(1), Concurrency: 2})
	refs := []model.ListingRef{
		{ListingID: "1111111111111111", SellerRef: "seller-a"},
		{ListingID: "2222222222222222", SellerRef: "seller-a"},
		{ListingID: "3333333333333333", SellerRef: "seller-a"},
	}

	results, err := h.CheckBatch(context.Background(), refs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, result := range results {
		assert.Equal(t, refs[i], result.Ref)
	}
}

func TestPolicyDelayGrowsAndCaps(t *testing.T) {
	p := Policy{MaxAttempts: 5, Base: time.Second, Cap: 8 * time.Second}

	first := p.Delay(0)
	assert.GreaterOrEqual(t, first, time.Second)
	assert.LessOrEqual(t, first, time.Second+time.Second/4)

	// Attempt 10 would be 1024s ungrown; the cap bounds it.
	capped := p.Delay(10)
	assert.LessOrEqual(t, capped, 8*time.Second+2*time.Second)
}

func TestPolicyDoStopsOnPermanentError(t *testing.T) {
	var calls int
	err := fastPolicy(5).Do(context.Background(), func(context.Context) error {
		calls++
		return apperrors.NotFound("listing")
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Equal(t, 1, calls)
}
