// Package scout discovers candidate listings on seller catalog pages.
package scout

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// listingIDExpr matches the 16-digit listing identifiers embedded in
// listing-detail hrefs on catalog pages.
var listingIDExpr = regexp.MustCompile(`\b(\d{16})\b`)

// Scout fetches a seller's public catalog page and extracts listing refs.
type Scout struct {
	client *http.Client
}

// Options configures the Scout.
type Options struct {
	// Timeout bounds the single catalog page load. Defaults to 30s.
	Timeout time.Duration

	// HTTPClient overrides the default client; mainly for tests.
	HTTPClient *http.Client
}

// New creates a Scout with the given options.
func New(opts Options) *Scout {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Scout{client: client}
}

// Discover fetches the catalog page and returns the unique listing refs found
// on it, in document order. A page with zero listings is a valid empty result;
// only an unreachable or non-OK page is an error.
func (s *Scout) Discover(ctx context.Context, sellerRef, catalogURL string) ([]model.ListingRef, error) {
	if sellerRef == "" || catalogURL == "" {
		return nil, apperrors.Validation("seller ref and catalog url are required")
	}

	doc, err := s.fetchDocument(ctx, catalogURL)
	if err != nil {
		return nil, err
	}

	return extractRefs(doc, sellerRef), nil
}

func (s *Scout) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "build catalog request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeUnavailable, "fetch catalog %s", pageURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Unavailablef("catalog %s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "parse catalog page")
	}
	return doc, nil
}

func extractRefs(doc *goquery.Document, sellerRef string) []model.ListingRef {
	seen := map[string]struct{}{}
	refs := make([]model.ListingRef, 0)

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		match := listingIDExpr.FindStringSubmatch(href)
		if match == nil {
			return
		}
		id := match[1]
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		refs = append(refs, model.ListingRef{ListingID: id, SellerRef: sellerRef})
	})

	return refs
}
