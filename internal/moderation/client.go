// Package moderation decides listing visibility: a remote decision service
// produces a raw verdict, and the gate applies marketplace override rules on
// top of it.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// FieldMapping locates the verdict fields inside a provider's JSON response.
// Expressions are JMESPath so differently shaped providers can be configured
// without code changes.
type FieldMapping struct {
	Decision   string
	Confidence string
	Reason     string
	Flags      string
}

// DefaultFieldMapping matches the reference provider schema.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		Decision:   "decision",
		Confidence: "confidence",
		Reason:     "reason",
		Flags:      "flags",
	}
}

// RawVerdict is the provider's answer before gate overrides.
type RawVerdict struct {
	Decision   model.ModerationDecision
	Confidence float64
	Reason     string
	Flags      []string
}

// Client calls the remote moderation decision service.
type Client struct {
	endpoint string
	client   *http.Client
	mapping  FieldMapping
	jems     JMESPathEvaluator
}

// ClientOptions configures the moderation Client.
type ClientOptions struct {
	// Endpoint is the decision service URL.
	Endpoint string

	// Timeout bounds each review call. Defaults to 30s.
	Timeout time.Duration

	// Mapping locates the verdict fields. Defaults to DefaultFieldMapping.
	Mapping FieldMapping

	// Evaluator overrides the JMESPath evaluator; mainly for tests.
	Evaluator JMESPathEvaluator

	// HTTPClient overrides the default client; mainly for tests.
	HTTPClient *http.Client
}

// NewClient creates a moderation Client. It validates the configured field
// expressions up front so a bad mapping fails at startup, not per listing.
func NewClient(opts ClientOptions) (*Client, error) {
	mapping := opts.Mapping
	if mapping.Decision == "" {
		mapping = DefaultFieldMapping()
	}
	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}
	for _, expr := range []string{mapping.Decision, mapping.Confidence, mapping.Reason, mapping.Flags} {
		if err := jems.Validate(expr); err != nil {
			return nil, apperrors.Wrapf(err, apperrors.ErrCodeValidation, "invalid field expression %q", expr)
		}
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		client:   client,
		mapping:  mapping,
		jems:     jems,
	}, nil
}

type reviewRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	ImageRef    string `json:"image_ref"`
}

// Review sends a listing to the decision service and maps the response into
// a RawVerdict using the configured field expressions.
func (c *Client) Review(ctx context.Context, listing *model.HydratedListing) (*RawVerdict, error) {
	if listing == nil {
		return nil, apperrors.Validation("listing is required")
	}
	if c.endpoint == "" {
		return nil, apperrors.Unavailable("moderation endpoint not configured")
	}

	payload, err := json.Marshal(reviewRequest{
		Title:       listing.Title,
		Description: listing.Description,
		PriceCents:  listing.PriceCents,
		ImageRef:    listing.ImageRef,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal review request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "build review request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeTimeout, "moderation call")
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "moderation call")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, apperrors.RateLimited("moderation service throttled")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Unavailablef("moderation service returned %s", resp.Status)
	}

	var body any
	if decodeErr := json.NewDecoder(resp.Body).Decode(&body); decodeErr != nil {
		return nil, apperrors.Wrap(decodeErr, apperrors.ErrCodeUnavailable, "decode moderation response")
	}

	return c.mapVerdict(body)
}

func (c *Client) mapVerdict(body any) (*RawVerdict, error) {
	verdict := &RawVerdict{}

	if raw, err := c.jems.Evaluate(c.mapping.Decision, body); err == nil {
		if s, ok := raw.(string); ok {
			verdict.Decision = model.ModerationDecision(strings.ToLower(s))
		}
	}
	if !verdict.Decision.Valid() {
		return nil, apperrors.Unavailablef("moderation response has no usable decision at %q", c.mapping.Decision)
	}

	if c.mapping.Confidence != "" {
		if raw, err := c.jems.Evaluate(c.mapping.Confidence, body); err == nil {
			if f, ok := raw.(float64); ok {
				// Providers occasionally report percentages or negatives.
				verdict.Confidence = min(max(f, 0), 1)
			}
		}
	}
	if c.mapping.Reason != "" {
		if raw, err := c.jems.Evaluate(c.mapping.Reason, body); err == nil {
			if s, ok := raw.(string); ok {
				verdict.Reason = s
			}
		}
	}
	if c.mapping.Flags != "" {
		if raw, err := c.jems.Evaluate(c.mapping.Flags, body); err == nil {
			if items, ok := raw.([]any); ok {
				for _, item := range items {
					if s, ok := item.(string); ok {
						verdict.Flags = append(verdict.Flags, strings.ToLower(strings.TrimSpace(s)))
					}
				}
			}
		}
	}

	return verdict, nil
}
