package moderation

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

type stubReviewer struct {
	verdict *RawVerdict
	err     error
}

func (s *stubReviewer) Review(context.Context, *model.HydratedListing) (*RawVerdict, error) {
	return s.verdict, s.err
}

func gateListing() *model.HydratedListing {
	return &model.HydratedListing{
		ListingID: "1234567890123456",
		SellerRef: "seller-a",
		Title:     "Vintage lamp",
		ImageRef:  "https://img.example.com/lamp.jpg",
	}
}

func TestGateRejectFlagOverridesApproval(t *testing.T) {
	for _, flag := range []string{"blurry", "synthetic", "inappropriate", "inauthentic", "banned_category", "spam"} {
		t.Run(flag, func(t *testing.T) {
			gate := NewGate(&stubReviewer{verdict: &RawVerdict{
				Decision:   model.DecisionApproved,
				Confidence: 0.99,
				Flags:      []string{flag},
			}}, nil)

			verdict, err := gate.Review(context.Background(), gateListing())
			require.NoError(t, err)
			assert.Equal(t, model.DecisionRejected, verdict.Decision)
			assert.Contains(t, verdict.Reason, flag)
		})
	}
}

func TestGateReviewFlagHoldsListing(t *testing.T) {
	for _, flag := range []string{"mismatch", "unreasonable_price"} {
		t.Run(flag, func(t *testing.T) {
			gate := NewGate(&stubReviewer{verdict: &RawVerdict{
				Decision: model.DecisionApproved,
				Flags:    []string{flag},
			}}, nil)

			verdict, err := gate.Review(context.Background(), gateListing())
			require.NoError(t, err)
			assert.Equal(t, model.DecisionFlagged, verdict.Decision)
		})
	}
}

func TestGateRejectFlagWinsOverReviewFlag(t *testing.T) {
	gate := NewGate(&stubReviewer{verdict: &RawVerdict{
		Decision: model.DecisionApproved,
		Flags:    []string{"mismatch", "spam"},
	}}, nil)

	verdict, err := gate.Review(context.Background(), gateListing())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionRejected, verdict.Decision)
}

func TestGateCleanListingKeepsProviderDecision(t *testing.T) {
	gate := NewGate(&stubReviewer{verdict: &RawVerdict{
		Decision:   model.DecisionApproved,
		Confidence: 0.93,
		Reason:     "looks fine",
	}}, nil)

	verdict, err := gate.Review(context.Background(), gateListing())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, verdict.Decision)
	assert.Equal(t, "looks fine", verdict.Reason)
	assert.InDelta(t, 0.93, verdict.Confidence, 1e-9)
}

func TestGateProviderFailureDegradesToFlagged(t *testing.T) {
	for name, reviewErr := range map[string]error{
		"unavailable":  apperrors.Unavailable("service down"),
		"timeout":      apperrors.Timeout("too slow"),
		"rate limited": apperrors.RateLimited("throttled"),
	} {
		t.Run(name, func(t *testing.T) {
			gate := NewGate(&stubReviewer{err: reviewErr}, nil)

			verdict, err := gate.Review(context.Background(), gateListing())
			require.NoError(t, err, "provider failure must never cross the stage boundary")
			assert.Equal(t, model.DecisionFlagged, verdict.Decision)
			assert.Equal(t, "analysis unavailable", verdict.Reason)
			assert.InDelta(t, 0.5, verdict.Confidence, 1e-9)
		})
	}
}

func TestClientMapsProviderResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		fmt.Fprint(w, `{"result": {"decision": "Approved", "confidence": 0.87, "reason": "ok", "labels": ["Blurry", " spam "]}}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{
		Endpoint: srv.URL,
		Mapping: FieldMapping{
			Decision:   "result.decision",
			Confidence: "result.confidence",
			Reason:     "result.reason",
			Flags:      "result.labels",
		},
	})
	require.NoError(t, err)

	raw, err := client.Review(context.Background(), gateListing())
	require.NoError(t, err)
	assert.Equal(t, model.DecisionApproved, raw.Decision)
	assert.InDelta(t, 0.87, raw.Confidence, 1e-9)
	assert.Equal(t, []string{"blurry", "spam"}, raw.Flags)
}

func TestClientClampsConfidenceToUnitRange(t *testing.T) {
	for name, tc := range map[string]struct {
		confidence string
		want       float64
	}{
		"percentage": {confidence: "87", want: 1},
		"negative":   {confidence: "-0.2", want: 0},
		"in range":   {confidence: "0.42", want: 0.42},
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, `{"decision": "approved", "confidence": %s}`, tc.confidence)
			}))
			defer srv.Close()

			client, err := NewClient(ClientOptions{Endpoint: srv.URL})
			require.NoError(t, err)

			raw, err := client.Review(context.Background(), gateListing())
			require.NoError(t, err)
			assert.InDelta(t, tc.want, raw.Confidence, 1e-9)
		})
	}
}

func TestClientRejectsInvalidMapping(t *testing.T) {
	_, err := NewClient(ClientOptions{
		Endpoint: "http://example.com",
		Mapping:  FieldMapping{Decision: "not[a[valid"},
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}

func TestClientThrottleIsRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = client.Review(context.Background(), gateListing())
	assert.True(t, apperrors.IsRateLimited(err))
}

func TestClientUnusableDecisionIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"decision": "maybe"}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientOptions{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = client.Review(context.Background(), gateListing())
	assert.True(t, apperrors.IsUnavailable(err))
}
