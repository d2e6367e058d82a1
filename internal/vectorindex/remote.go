package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// Remote is an HTTP JSON client for an external vector-search service.
// Every call is stateless and bounded by the configured timeout.
type Remote struct {
	endpoint string
	client   *http.Client
}

// RemoteOptions configures the Remote index client.
type RemoteOptions struct {
	// Endpoint is the vector-search service base URL.
	Endpoint string

	// Timeout bounds each call. Defaults to 30s.
	Timeout time.Duration

	// HTTPClient overrides the default client; mainly for tests.
	HTTPClient *http.Client
}

// NewRemote creates a Remote index client.
func NewRemote(opts RemoteOptions) *Remote {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Remote{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		client:   client,
	}
}

type upsertRequest struct {
	ListingID string    `json:"listing_id"`
	Vector    []float32 `json:"vector"`
	Degraded  bool      `json:"degraded"`
}

type queryRequest struct {
	Vector   []float32 `json:"vector"`
	K        int       `json:"k"`
	MinScore float64   `json:"min_score"`
}

type queryResponse struct {
	Matches []model.IndexMatch `json:"matches"`
}

// Upsert inserts or replaces the vector for a listing on the remote service.
func (r *Remote) Upsert(ctx context.Context, vec *model.EmbeddingVector) error {
	if vec == nil || vec.ListingID == "" {
		return apperrors.Validation("embedding vector with listing id is required")
	}
	body := upsertRequest{ListingID: vec.ListingID, Vector: vec.HybridVector, Degraded: vec.Degraded}
	return r.do(ctx, http.MethodPost, "/vectors", body, nil)
}

// Remove drops a listing's vector from the remote service.
func (r *Remote) Remove(ctx context.Context, listingID string) error {
	if listingID == "" {
		return apperrors.Validation("listing id is required")
	}
	return r.do(ctx, http.MethodDelete, "/vectors/"+listingID, nil, nil)
}

// Query asks the remote service for the nearest neighbours.
func (r *Remote) Query(ctx context.Context, vector []float32, k int, minScore float64) ([]model.IndexMatch, error) {
	var resp queryResponse
	body := queryRequest{Vector: vector, K: k, MinScore: minScore}
	if err := r.do(ctx, http.MethodPost, "/query", body, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (r *Remote) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.endpoint+path, reader)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeValidation, "build index request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return apperrors.Wrap(err, apperrors.ErrCodeTimeout, "vector index call")
		}
		return apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "vector index call")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.Unavailablef("vector index returned %s", resp.Status)
	}

	if out != nil {
		if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
			return apperrors.Wrap(decodeErr, apperrors.ErrCodeUnavailable, "decode index response")
		}
	}
	return nil
}
