package embedding

import (
	"context"
	"hash/fnv"
	"io"
	"net/http"
	"time"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// TextEncoder produces a fixed-dimension vector for cleaned listing text.
// Implementations must be deterministic and safe for concurrent use.
type TextEncoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
}

// ImageEncoder produces a fixed-dimension vector for the image behind a
// remote reference. Image bytes are fetched transiently and never stored.
// Implementations must be deterministic and safe for concurrent use.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, imageRef string) ([]float32, error)
}

// HashTextEncoder is the default deterministic text encoder: token feature
// hashing into model.EmbeddingDim buckets. It stands in where no learned
// model is deployed and keeps every property the generator relies on
// (fixed dimension, determinism).
type HashTextEncoder struct{}

// EncodeText hashes whitespace-separated tokens into a fixed-size vector.
func (HashTextEncoder) EncodeText(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, model.EmbeddingDim)
	start := 0
	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == ' ' {
			if i > start {
				h := fnv.New32a()
				_, _ = h.Write([]byte(text[start:i]))
				vec[h.Sum32()%model.EmbeddingDim]++
			}
			start = i + 1
		}
	}
	return vec, nil
}

// HashImageEncoder is the default deterministic image encoder: it fetches
// the image bytes transiently and folds them into model.EmbeddingDim
// buckets. Bytes never leave the call frame.
type HashImageEncoder struct {
	client *http.Client
}

// NewHashImageEncoder creates a HashImageEncoder with the given fetch timeout.
func NewHashImageEncoder(timeout time.Duration, client *http.Client) *HashImageEncoder {
	if client == nil {
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HashImageEncoder{client: client}
}

// maxImageBytes bounds the transient read; listing thumbnails are small and
// anything larger is truncated rather than buffered.
const maxImageBytes = 4 << 20

// EncodeImage fetches the image and folds its bytes into a fixed-size vector.
func (e *HashImageEncoder) EncodeImage(ctx context.Context, imageRef string) ([]float32, error) {
	if imageRef == "" {
		return nil, apperrors.Validation("image ref is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageRef, nil)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "build image request")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeUnavailable, "fetch image %s", imageRef)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.Unavailablef("image %s returned %s", imageRef, resp.Status)
	}

	vec := make([]float32, model.EmbeddingDim)
	buf := make([]byte, 32*1024)
	var read int64
	var pos uint32
	for read < maxImageBytes {
		n, readErr := resp.Body.Read(buf)
		for i := 0; i < n; i++ {
			vec[(pos+uint32(buf[i])*31)%model.EmbeddingDim] += float32(buf[i]) / 255
			pos++
		}
		read += int64(n)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, apperrors.Wrapf(readErr, apperrors.ErrCodeUnavailable, "read image %s", imageRef)
		}
	}
	if read == 0 {
		return nil, apperrors.Unavailablef("image %s is empty", imageRef)
	}
	return vec, nil
}
