package model

// EmbeddingDim is the fixed dimension every encoder must produce. Image, text
// and hybrid vectors all share this dimension so they stay cosine-comparable.
const EmbeddingDim = 768

// Hybrid weighting. The weights sum to 1; image carries more signal for
// marketplace listings than seller-written text.
const (
	HybridImageWeight = 0.6
	HybridTextWeight  = 0.4
)

// EmbeddingVector holds the per-listing vectors produced by the hybrid
// generator. HybridVector is unit-length except for the defined degenerate
// fallback; Degraded marks a vector computed without image input.
type EmbeddingVector struct {
	ListingID    string    `json:"listing_id"`
	ImageVector  []float32 `json:"image_vector"`
	TextVector   []float32 `json:"text_vector"`
	HybridVector []float32 `json:"hybrid_vector"`
	Degraded     bool      `json:"degraded"`
}

// IndexMatch is a single nearest-neighbor result. Score is in [0,1] where 1
// means identical.
type IndexMatch struct {
	ListingID string  `json:"listing_id"`
	Score     float64 `json:"score"`
}
