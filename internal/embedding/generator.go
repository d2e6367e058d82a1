package embedding

import (
	"context"
	"log/slog"
	"math"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// Generator combines text and image encodings into the hybrid vector used by
// the similarity index.
type Generator struct {
	cleaner *Cleaner
	text    TextEncoder
	image   ImageEncoder
	logger  *slog.Logger
}

// GeneratorOptions configures the Generator.
type GeneratorOptions struct {
	Cleaner *Cleaner
	Text    TextEncoder
	Image   ImageEncoder
	Logger  *slog.Logger
}

// NewGenerator creates a Generator, falling back to the deterministic hash
// encoders where none are supplied.
func NewGenerator(opts GeneratorOptions) *Generator {
	cleaner := opts.Cleaner
	if cleaner == nil {
		cleaner = NewCleaner()
	}
	var text TextEncoder = opts.Text
	if text == nil {
		text = HashTextEncoder{}
	}
	image := opts.Image
	if image == nil {
		image = NewHashImageEncoder(0, nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cleaner: cleaner,
		text:    text,
		image:   image,
		logger:  logger.With("component", "embedding"),
	}
}

// Embed produces the hybrid vector for a hydrated listing. An image fetch or
// encode failure degrades to a text-only vector with Degraded=true; it never
// crosses the stage boundary as an error. Only a text encoding failure is
// fatal, since without it there is nothing to index.
func (g *Generator) Embed(ctx context.Context, listing *model.HydratedListing) (*model.EmbeddingVector, error) {
	if listing == nil {
		return nil, apperrors.Validation("listing is required")
	}

	cleaned := g.cleaner.Clean(listing.Title + " " + listing.Description)
	textVec, err := g.text.EncodeText(ctx, cleaned)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "encode listing text")
	}
	if len(textVec) != model.EmbeddingDim {
		return nil, apperrors.Internalf("text encoder produced dimension %d, want %d", len(textVec), model.EmbeddingDim)
	}

	result := &model.EmbeddingVector{
		ListingID:  listing.ListingID,
		TextVector: textVec,
	}

	imageVec, imgErr := g.image.EncodeImage(ctx, listing.ImageRef)
	switch {
	case imgErr != nil:
		g.logger.WarnContext(ctx, "image encoding failed, degrading to text-only vector",
			"listing_id", listing.ListingID, "error", imgErr)
		result.Degraded = true
		result.HybridVector = Normalize(textVec)
	case len(imageVec) != model.EmbeddingDim:
		g.logger.WarnContext(ctx, "image encoder produced wrong dimension, degrading",
			"listing_id", listing.ListingID, "dimension", len(imageVec))
		result.Degraded = true
		result.HybridVector = Normalize(textVec)
	default:
		result.ImageVector = imageVec
		combined := make([]float32, model.EmbeddingDim)
		for i := range combined {
			combined[i] = model.HybridImageWeight*imageVec[i] + model.HybridTextWeight*textVec[i]
		}
		result.HybridVector = Normalize(combined)
	}

	return result, nil
}

// Normalize returns the unit-length version of v. A zero-magnitude input
// yields the uniform unit vector so downstream distance math never divides
// by zero.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		if len(v) == 0 {
			return out
		}
		uniform := float32(1 / math.Sqrt(float64(len(v))))
		for i := range out {
			out[i] = uniform
		}
		return out
	}
	mag := float32(math.Sqrt(sum))
	for i, x := range v {
		out[i] = x / mag
	}
	return out
}
