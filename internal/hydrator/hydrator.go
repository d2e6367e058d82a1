// Package hydrator fetches public listing metadata from seller detail pages.
package hydrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// userAgents is the identity pool rotated across attempts so a throttling
// seller does not see the same client string on every retry.
var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:127.0) Gecko/20100101 Firefox/127.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:126.0) Gecko/20100101 Firefox/126.0",
}

// Hydrator fetches listing details with bounded concurrency and retry on
// throttling signals.
type Hydrator struct {
	client       *http.Client
	baseURL      string
	policy       Policy
	concurrency  int64
	itemTimeout  time.Duration
	probeTimeout time.Duration
	limiter      *rate.Limiter
	logger       *slog.Logger

	mu      sync.Mutex
	attempt int
}

// Options configures the Hydrator.
type Options struct {
	// BaseURL is the listing-detail endpoint prefix. Detail URLs are built
	// as <BaseURL>/<listing-id>/<seller-ref>.
	BaseURL string

	// Concurrency bounds parallel per-listing probes in CheckBatch. Each
	// call gets its own bound, so concurrent callers are not pooled.
	// Defaults to 20.
	Concurrency int

	// ItemTimeout bounds each per-listing fetch attempt. Defaults to 10s.
	ItemTimeout time.Duration

	// ProbeTimeout bounds each liveness probe in CheckBatch. Probes are
	// single-shot and cheaper than full hydration, so the default is 5s.
	ProbeTimeout time.Duration

	// Policy is the retry policy for Hydrate. Defaults to DefaultPolicy.
	Policy Policy

	// RequestsPerSecond optionally paces requests against one seller.
	// Zero disables pacing.
	RequestsPerSecond float64

	// HTTPClient overrides the default client; mainly for tests.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// New creates a Hydrator with the given options.
func New(opts Options) *Hydrator {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 20
	}
	itemTimeout := opts.ItemTimeout
	if itemTimeout <= 0 {
		itemTimeout = 10 * time.Second
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	policy := opts.Policy
	if policy.MaxAttempts < 1 {
		policy = DefaultPolicy()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: itemTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Hydrator{
		client:       client,
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		policy:       policy,
		concurrency:  int64(concurrency),
		itemTimeout:  itemTimeout,
		probeTimeout: probeTimeout,
		limiter:      limiter,
		logger:       logger.With("component", "hydrator"),
	}
}

// Hydrate fetches details for one listing, retrying throttling and transient
// failures per the policy. A missing listing returns a not_found error
// immediately; callers drop it silently.
func (h *Hydrator) Hydrate(ctx context.Context, ref model.ListingRef) (*model.HydratedListing, error) {
	if !ref.Valid() {
		return nil, apperrors.Validation("listing ref is incomplete")
	}

	var result *model.HydratedListing
	err := h.policy.Do(ctx, func(ctx context.Context) error {
		listing, fetchErr := h.fetchOne(ctx, ref, h.itemTimeout)
		if fetchErr != nil {
			return fetchErr
		}
		result = listing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Hydratable() {
		return nil, apperrors.NotFoundf("listing %s has no usable metadata", ref.ListingID)
	}
	return result, nil
}

// CheckOne performs a single liveness probe without retries, using the
// shorter probe timeout. Callers interpret the error class: not_found means
// the listing is gone, anything transient means it could not be verified.
func (h *Hydrator) CheckOne(ctx context.Context, ref model.ListingRef) (*model.HydratedListing, error) {
	if !ref.Valid() {
		return nil, apperrors.Validation("listing ref is incomplete")
	}
	return h.fetchOne(ctx, ref, h.probeTimeout)
}

// forEachBounded runs worker(i) for each index with at most h.concurrency in
// flight. The semaphore is created per call, so concurrent batches (one per
// seller) each get the full bound. Only context cancellation aborts.
func (h *Hydrator) forEachBounded(ctx context.Context, n int, worker func(i int)) error {
	sem := semaphore.NewWeighted(h.concurrency)
	for i := 0; i < n; i++ {
		if acquireErr := sem.Acquire(ctx, 1); acquireErr != nil {
			return apperrors.Wrap(acquireErr, apperrors.ErrCodeCanceled, "batch canceled")
		}
		go func(i int) {
			defer sem.Release(1)
			worker(i)
		}(i)
	}
	if err := sem.Acquire(ctx, h.concurrency); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCanceled, "batch canceled")
	}
	return nil
}

// CheckBatch probes every ref once with bounded concurrency. Unlike
// hydration, probe failures are returned to the caller rather than dropped:
// the heartbeat needs to distinguish a listing that is gone from one it
// simply could not verify this cycle.
func (h *Hydrator) CheckBatch(ctx context.Context, refs []model.ListingRef) ([]model.ProbeResult, error) {
	results := make([]model.ProbeResult, len(refs))

	err := h.forEachBounded(ctx, len(refs), func(i int) {
		listing, probeErr := h.CheckOne(ctx, refs[i])
		results[i] = model.ProbeResult{Ref: refs[i], Listing: listing, Err: probeErr}
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (h *Hydrator) detailURL(ref model.ListingRef) string {
	return h.baseURL + "/" + ref.ListingID + "/" + ref.SellerRef
}

func (h *Hydrator) nextUserAgent() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ua := userAgents[h.attempt%len(userAgents)]
	h.attempt++
	return ua
}

func (h *Hydrator) fetchOne(ctx context.Context, ref model.ListingRef, timeout time.Duration) (*model.HydratedListing, error) {
	if h.limiter != nil {
		if waitErr := h.limiter.Wait(ctx); waitErr != nil {
			return nil, apperrors.Wrap(waitErr, apperrors.ErrCodeCanceled, "rate limit wait")
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, h.detailURL(ref), nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "build detail request")
	}
	req.Header.Set("User-Agent", h.nextUserAgent())

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeTimeout, "fetch listing %s", ref.ListingID)
		}
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeUnavailable, "fetch listing %s", ref.ListingID)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, apperrors.NotFoundf("listing %s", ref.ListingID)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperrors.RateLimited(fmt.Sprintf("listing %s fetch throttled", ref.ListingID))
	case resp.StatusCode >= 500:
		return nil, apperrors.Unavailablef("listing %s returned %s", ref.ListingID, resp.Status)
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Internalf("listing %s returned %s", ref.ListingID, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "parse detail page")
	}

	listing := parseMeta(doc, ref)
	return listing, nil
}

// parseMeta reads only the page's meta tags; listing pages render the rest
// client-side and the pipeline never needs it.
func parseMeta(doc *goquery.Document, ref model.ListingRef) *model.HydratedListing {
	listing := &model.HydratedListing{
		ListingID: ref.ListingID,
		SellerRef: ref.SellerRef,
		FetchedAt: time.Now().UTC(),
	}

	doc.Find("meta").Each(func(_ int, sel *goquery.Selection) {
		prop, ok := sel.Attr("property")
		if !ok {
			if prop, ok = sel.Attr("name"); !ok {
				return
			}
		}
		content, ok := sel.Attr("content")
		if !ok {
			return
		}

		switch prop {
		case "og:title":
			listing.Title = strings.TrimSpace(content)
		case "og:description":
			listing.Description = strings.TrimSpace(content)
		case "og:image":
			listing.ImageRef = strings.TrimSpace(content)
		case "product:price:amount":
			if amount, parseErr := strconv.ParseFloat(strings.TrimSpace(content), 64); parseErr == nil && amount >= 0 {
				listing.PriceCents = int64(math.Round(amount * 100))
			}
		}
	})

	return listing
}
