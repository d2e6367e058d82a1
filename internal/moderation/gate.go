package moderation

import (
	"context"
	"log/slog"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// Flags that force an outcome regardless of the provider's own decision.
// Reject flags win over flag-for-review flags.
var (
	rejectFlags = map[string]struct{}{
		"blurry":          {},
		"synthetic":       {},
		"inappropriate":   {},
		"inauthentic":     {},
		"banned_category": {},
		"spam":            {},
	}
	reviewFlags = map[string]struct{}{
		"mismatch":           {},
		"unreasonable_price": {},
	}
)

// degradedReason is the reason recorded when the provider cannot be reached.
const degradedReason = "analysis unavailable"

// Reviewer produces the raw verdict the gate overrides. *Client satisfies it.
type Reviewer interface {
	Review(ctx context.Context, listing *model.HydratedListing) (*RawVerdict, error)
}

// Gate applies marketplace override rules on top of the provider's verdict.
// Review is total: every listing gets a verdict, even when the provider is
// down or rate-limiting.
type Gate struct {
	reviewer Reviewer
	logger   *slog.Logger
}

// NewGate creates a Gate over the given reviewer.
func NewGate(reviewer Reviewer, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		reviewer: reviewer,
		logger:   logger.With("component", "moderation"),
	}
}

// Review reviews one listing. A provider failure of any kind degrades to a
// Flagged verdict with confidence 0.5 so a human decides; it never errors.
func (g *Gate) Review(ctx context.Context, listing *model.HydratedListing) (*model.ModerationVerdict, error) {
	if listing == nil {
		return nil, apperrors.Validation("listing is required")
	}

	raw, err := g.reviewer.Review(ctx, listing)
	if err != nil {
		if apperrors.IsCanceled(err) {
			return nil, err
		}
		g.logger.WarnContext(ctx, "moderation provider unavailable, flagging for human review",
			"listing_id", listing.ListingID, "error", err)
		return &model.ModerationVerdict{
			ListingID:  listing.ListingID,
			Decision:   model.DecisionFlagged,
			Reason:     degradedReason,
			Confidence: 0.5,
		}, nil
	}

	decision, reason := applyOverrides(raw)
	return &model.ModerationVerdict{
		ListingID:  listing.ListingID,
		Decision:   decision,
		Reason:     reason,
		Confidence: raw.Confidence,
	}, nil
}

// applyOverrides resolves the final decision. Any reject flag rejects; else
// any review flag holds for review; else the provider's decision stands.
func applyOverrides(raw *RawVerdict) (model.ModerationDecision, string) {
	for _, flag := range raw.Flags {
		if _, ok := rejectFlags[flag]; ok {
			return model.DecisionRejected, "flagged: " + flag
		}
	}
	for _, flag := range raw.Flags {
		if _, ok := reviewFlags[flag]; ok {
			return model.DecisionFlagged, "held for review: " + flag
		}
	}
	return raw.Decision, raw.Reason
}

var _ Reviewer = (*Client)(nil)
