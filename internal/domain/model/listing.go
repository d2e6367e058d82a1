package model

import (
	"strings"
	"time"
)

// ListingRef identifies a candidate listing discovered on a seller's catalog
// page. It carries no content; the hydrator turns it into a HydratedListing.
type ListingRef struct {
	ListingID string `json:"listing_id"`
	SellerRef string `json:"seller_ref"`
}

// Valid reports whether the ref carries both identifiers.
func (r ListingRef) Valid() bool {
	return strings.TrimSpace(r.ListingID) != "" && strings.TrimSpace(r.SellerRef) != ""
}

// HydratedListing holds the lightweight public metadata fetched for one
// listing. ImageRef is a remote pointer; image bytes are never materialized
// outside the embedding call.
type HydratedListing struct {
	ListingID   string    `json:"listing_id"`
	SellerRef   string    `json:"seller_ref"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageRef    string    `json:"image_ref"`
	PriceCents  int64     `json:"price_cents"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// Hydratable reports whether the record meets the minimum bar to continue
// through the pipeline: non-empty title and image reference.
func (h HydratedListing) Hydratable() bool {
	return strings.TrimSpace(h.Title) != "" && strings.TrimSpace(h.ImageRef) != ""
}

// ProbeResult pairs a listing ref with the outcome of one single-attempt
// liveness probe. Exactly one of Listing and Err is set.
type ProbeResult struct {
	Ref     ListingRef
	Listing *HydratedListing
	Err     error
}

// ModerationDecision is the tri-state outcome of automated content review.
type ModerationDecision string

const (
	// DecisionApproved marks a listing visible to collaborators.
	DecisionApproved ModerationDecision = "approved"
	// DecisionRejected marks a listing permanently hidden.
	DecisionRejected ModerationDecision = "rejected"
	// DecisionFlagged marks a listing held for human review.
	DecisionFlagged ModerationDecision = "flagged"
)

// Valid returns true if the decision is one of the three defined states.
func (d ModerationDecision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected || d == DecisionFlagged
}

// ModerationVerdict is the outcome of reviewing one listing. A later
// hydration cycle produces a new verdict that supersedes the old one.
type ModerationVerdict struct {
	ListingID  string             `json:"listing_id"`
	Decision   ModerationDecision `json:"decision"`
	Reason     string             `json:"reason,omitempty"`
	Confidence float64            `json:"confidence"`
}

// Listing is the persisted, collaborator-readable record produced by the
// persist stage and maintained by the heartbeat sync.
type Listing struct {
	ListingID            string             `json:"listing_id"             db:"listing_id"`
	SellerRef            string             `json:"seller_ref"             db:"seller_ref"`
	Title                string             `json:"title"                  db:"title"`
	Description          string             `json:"description"            db:"description"`
	PriceCents           int64              `json:"price_cents"            db:"price_cents"`
	ImageRef             string             `json:"image_ref"              db:"image_ref"`
	ModerationDecision   ModerationDecision `json:"moderation_decision"    db:"moderation_decision"`
	ModerationReason     string             `json:"moderation_reason"      db:"moderation_reason"`
	ModerationConfidence float64            `json:"moderation_confidence"  db:"moderation_confidence"`
	EmbeddingDegraded    bool               `json:"embedding_degraded"     db:"embedding_degraded"`
	Visible              bool               `json:"visible"                db:"visible"`
	HydratedAt           time.Time          `json:"hydrated_at"            db:"hydrated_at"`
	ModeratedAt          time.Time          `json:"moderated_at"           db:"moderated_at"`
	CreatedAt            time.Time          `json:"created_at"             db:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"             db:"updated_at"`
}

// ListingEventType classifies catalog integrity events recorded by heartbeat.
type ListingEventType string

const (
	// EventPurged records a listing removed after a confirmed dead re-check.
	EventPurged ListingEventType = "purged"
	// EventPriceChanged records a price delta observed on re-check.
	EventPriceChanged ListingEventType = "price_changed"
	// EventReModerated records a re-moderation triggered by a large price delta.
	EventReModerated ListingEventType = "re_moderated"
)

// ListingEvent is an append-only integrity event for one listing.
type ListingEvent struct {
	ID        string           `json:"id"         db:"id"`
	ListingID string           `json:"listing_id" db:"listing_id"`
	Type      ListingEventType `json:"type"       db:"event_type"`
	Detail    map[string]any   `json:"detail,omitempty" db:"detail"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

// PriceChange describes a price delta observed during heartbeat.
type PriceChange struct {
	ListingID     string `json:"listing_id"`
	OldPriceCents int64  `json:"old_price_cents"`
	NewPriceCents int64  `json:"new_price_cents"`
}

// ExceedsThreshold reports whether the relative delta crosses the re-moderation
// threshold. A zero old price with a non-zero new price always exceeds.
func (p PriceChange) ExceedsThreshold(threshold float64) bool {
	if p.OldPriceCents == p.NewPriceCents {
		return false
	}
	if p.OldPriceCents == 0 {
		return true
	}
	delta := float64(p.NewPriceCents-p.OldPriceCents) / float64(p.OldPriceCents)
	if delta < 0 {
		delta = -delta
	}
	return delta > threshold
}
