// Package testutil provides testing utilities and helpers for the catalogd pipeline.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/marketfeed/catalogd/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:       model.JobTypeHydrateListing,
			Priority:   50,
			Payload:    json.RawMessage(`{"listing_id": "lst-1", "seller_ref": "seller-a"}`),
			MaxRetries: 3,
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPriority sets the job priority.
func (b *JobRequestBuilder) WithPriority(priority int) *JobRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithPayload sets the job payload.
func (b *JobRequestBuilder) WithPayload(payload json.RawMessage) *JobRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *JobRequestBuilder) WithPayloadString(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithSellerRef sets the seller the job belongs to.
func (b *JobRequestBuilder) WithSellerRef(sellerRef string) *JobRequestBuilder {
	b.req.SellerRef = &sellerRef
	return b
}

// WithListingID sets the listing the job targets.
func (b *JobRequestBuilder) WithListingID(listingID string) *JobRequestBuilder {
	b.req.ListingID = &listingID
	return b
}

// WithScheduledAt sets the scheduled time.
func (b *JobRequestBuilder) WithScheduledAt(scheduledAt time.Time) *JobRequestBuilder {
	b.req.ScheduledAt = &scheduledAt
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *JobRequestBuilder) WithMaxRetries(maxRetries int) *JobRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// Common test job request presets

// DiscoverJobRequest creates a discovery job request with default values.
func DiscoverJobRequest(sellerRef string) *model.CreateJobRequest {
	return NewJobRequest().
		WithType(model.JobTypeDiscoverCatalog).
		WithSellerRef(sellerRef).
		WithPayloadString(`{"seller_ref": "` + sellerRef + `", "catalog_url": "https://example.com/catalog"}`).
		Build()
}

// HydrateJobRequest creates a hydration job request for one listing.
func HydrateJobRequest(sellerRef, listingID string) *model.CreateJobRequest {
	return NewJobRequest().
		WithType(model.JobTypeHydrateListing).
		WithSellerRef(sellerRef).
		WithListingID(listingID).
		WithPayloadString(`{"listing_id": "` + listingID + `", "seller_ref": "` + sellerRef + `"}`).
		Build()
}

// ScheduledJobRequest creates a job request scheduled for the future.
func ScheduledJobRequest(scheduledAt time.Time) *model.CreateJobRequest {
	return NewJobRequest().
		WithScheduledAt(scheduledAt).
		Build()
}

// ListingBuilder provides a fluent interface for building Listing records for testing.
type ListingBuilder struct {
	listing *model.Listing
}

// NewListing creates a new ListingBuilder describing an approved, visible listing.
func NewListing(listingID, sellerRef string) *ListingBuilder {
	now := TestTime()
	return &ListingBuilder{
		listing: &model.Listing{
			ListingID:            listingID,
			SellerRef:            sellerRef,
			Title:                "Vintage ceramic vase",
			Description:          "Hand-thrown stoneware, minor glaze wear.",
			PriceCents:           4500,
			ImageRef:             "https://img.example.com/" + listingID + ".jpg",
			ModerationDecision:   model.DecisionApproved,
			ModerationConfidence: 0.95,
			Visible:              true,
			HydratedAt:           now,
			ModeratedAt:          now,
		},
	}
}

// WithTitle sets the listing title.
func (b *ListingBuilder) WithTitle(title string) *ListingBuilder {
	b.listing.Title = title
	return b
}

// WithPriceCents sets the listing price.
func (b *ListingBuilder) WithPriceCents(priceCents int64) *ListingBuilder {
	b.listing.PriceCents = priceCents
	return b
}

// WithDecision sets the moderation outcome and aligns visibility with it.
func (b *ListingBuilder) WithDecision(decision model.ModerationDecision, reason string) *ListingBuilder {
	b.listing.ModerationDecision = decision
	b.listing.ModerationReason = reason
	b.listing.Visible = decision == model.DecisionApproved
	return b
}

// WithEmbeddingDegraded marks the listing as indexed from a degraded vector.
func (b *ListingBuilder) WithEmbeddingDegraded() *ListingBuilder {
	b.listing.EmbeddingDegraded = true
	return b
}

// Build returns the constructed Listing.
func (b *ListingBuilder) Build() *model.Listing {
	return b.listing
}
