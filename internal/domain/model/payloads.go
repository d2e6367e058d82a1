package model

import (
	"encoding/json"
	"fmt"
)

// Stage job payloads. Each producing stage enqueues the next stage's job with
// one of these; the hydrated record is carried forward so downstream stages
// never re-fetch listing metadata.

// DiscoverCatalogPayload is the payload for discover-catalog jobs.
type DiscoverCatalogPayload struct {
	SellerRef  string `json:"seller_ref"`
	CatalogURL string `json:"catalog_url"`
}

// HydrateListingPayload is the payload for hydrate-listing jobs.
type HydrateListingPayload struct {
	Ref ListingRef `json:"ref"`
}

// GenerateEmbeddingPayload is the payload for generate-embedding jobs.
type GenerateEmbeddingPayload struct {
	Listing HydratedListing `json:"listing"`
}

// ModerateListingPayload is the payload for moderate-listing jobs.
type ModerateListingPayload struct {
	Listing           HydratedListing `json:"listing"`
	EmbeddingDegraded bool            `json:"embedding_degraded"`
}

// PersistListingPayload is the payload for persist-listing jobs.
type PersistListingPayload struct {
	Listing           HydratedListing   `json:"listing"`
	Verdict           ModerationVerdict `json:"verdict"`
	EmbeddingDegraded bool              `json:"embedding_degraded"`
}

// MarshalPayload encodes a stage payload for a CreateJobRequest.
func MarshalPayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	return raw, nil
}

// UnmarshalPayload decodes a job payload into the stage's typed payload.
func UnmarshalPayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode job payload: %w", err)
	}
	return nil
}
