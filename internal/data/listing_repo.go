package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/marketfeed/catalogd/internal/data/pgxutil"
	"github.com/marketfeed/catalogd/internal/domain/model"
	apperrors "github.com/marketfeed/catalogd/internal/errors"
)

// ListingRepo provides database operations for the persisted catalog.
type ListingRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// ListingRepoOptions groups constructor options for ListingRepo.
type ListingRepoOptions struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewListingRepo creates a new ListingRepo instance.
func NewListingRepo(db *sql.DB, opts ListingRepoOptions) *ListingRepo {
	tp := opts.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &ListingRepo{DB: db, timeProvider: tp, logger: opts.Logger}
}

const listingColumns = `
  listing_id,
  seller_ref,
  title,
  description,
  price_cents,
  image_ref,
  moderation_decision,
  moderation_reason,
  moderation_confidence,
  embedding_degraded,
  visible,
  hydrated_at,
  moderated_at,
  created_at,
  updated_at
`

// Upsert inserts or replaces a listing record keyed by listing id. A later
// hydration cycle fully supersedes the previous record.
func (r *ListingRepo) Upsert(ctx context.Context, listing *model.Listing) error {
	if listing == nil {
		return apperrors.Validation("listing is required")
	}
	if listing.ListingID == "" || listing.SellerRef == "" {
		return apperrors.Validation("listing id and seller ref are required")
	}

	currentTime := r.timeProvider.Now().UTC()
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO listings (
			listing_id, seller_ref, title, description, price_cents, image_ref,
			moderation_decision, moderation_reason, moderation_confidence,
			embedding_degraded, visible, hydrated_at, moderated_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
		ON CONFLICT (listing_id) DO UPDATE SET
			seller_ref            = EXCLUDED.seller_ref,
			title                 = EXCLUDED.title,
			description           = EXCLUDED.description,
			price_cents           = EXCLUDED.price_cents,
			image_ref             = EXCLUDED.image_ref,
			moderation_decision   = EXCLUDED.moderation_decision,
			moderation_reason     = EXCLUDED.moderation_reason,
			moderation_confidence = EXCLUDED.moderation_confidence,
			embedding_degraded    = EXCLUDED.embedding_degraded,
			visible               = EXCLUDED.visible,
			hydrated_at           = EXCLUDED.hydrated_at,
			moderated_at          = EXCLUDED.moderated_at,
			updated_at            = EXCLUDED.updated_at
	`,
		listing.ListingID,
		listing.SellerRef,
		listing.Title,
		listing.Description,
		listing.PriceCents,
		listing.ImageRef,
		listing.ModerationDecision,
		listing.ModerationReason,
		listing.ModerationConfidence,
		listing.EmbeddingDegraded,
		listing.Visible,
		listing.HydratedAt.UTC(),
		listing.ModeratedAt.UTC(),
		currentTime,
	)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("upsert listing: %w", err))
	}
	return nil
}

// GetByID returns a listing by id.
func (r *ListingRepo) GetByID(ctx context.Context, listingID string) (*model.Listing, error) {
	var listing model.Listing
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, `
			SELECT `+listingColumns+`
			FROM listings
			WHERE listing_id = $1
		`, listingID)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()

		val, cerr := pgx.CollectOneRow(rows, pgx.RowToStructByName[model.Listing])
		if cerr != nil {
			return cerr
		}
		listing = val
		return nil
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("listing")
	}
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("get listing: %w", err))
	}
	return &listing, nil
}

// ListApprovedBySeller returns a seller's approved, visible listings ordered
// by listing id for stable iteration.
func (r *ListingRepo) ListApprovedBySeller(ctx context.Context, sellerRef string) ([]*model.Listing, error) {
	return r.listBySeller(ctx, sellerRef, true)
}

// ListBySeller returns all of a seller's listings regardless of status.
func (r *ListingRepo) ListBySeller(ctx context.Context, sellerRef string) ([]*model.Listing, error) {
	return r.listBySeller(ctx, sellerRef, false)
}

func (r *ListingRepo) listBySeller(ctx context.Context, sellerRef string, approvedOnly bool) ([]*model.Listing, error) {
	if sellerRef == "" {
		return nil, apperrors.Validation("seller ref is required")
	}

	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE seller_ref = $1
	`
	if approvedOnly {
		query += ` AND moderation_decision = 'approved' AND visible`
	}
	query += ` ORDER BY listing_id ASC`

	var result []*model.Listing
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, qerr := conn.Query(ctx, query, sellerRef)
		if qerr != nil {
			return fmt.Errorf("query listings by seller: %w", qerr)
		}
		defer rows.Close()

		vals, cerr := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[model.Listing])
		if cerr != nil {
			return fmt.Errorf("collect listings: %w", cerr)
		}
		result = vals
		return nil
	}); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return result, nil
}

// UpdatePrice records a new price for a listing.
func (r *ListingRepo) UpdatePrice(ctx context.Context, listingID string, priceCents int64) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE listings
		SET price_cents = $2, updated_at = $3
		WHERE listing_id = $1
	`, listingID, priceCents, r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("update listing price: %w", err))
	}
	return requireRowAffected(res, "listing")
}

// Purge marks a listing invisible. The row is kept for audit; a later
// discovery of the same listing id fully replaces it.
func (r *ListingRepo) Purge(ctx context.Context, listingID string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE listings
		SET visible = FALSE, updated_at = $2
		WHERE listing_id = $1
	`, listingID, r.timeProvider.Now().UTC())
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("purge listing: %w", err))
	}
	return requireRowAffected(res, "listing")
}

// UpdateVerdict applies a moderation verdict to an existing listing. The
// verdict controls visibility: only approved listings stay visible.
func (r *ListingRepo) UpdateVerdict(ctx context.Context, verdict model.ModerationVerdict) error {
	if !verdict.Decision.Valid() {
		return apperrors.Validationf("invalid moderation decision: %s", verdict.Decision)
	}

	currentTime := r.timeProvider.Now().UTC()
	res, err := r.DB.ExecContext(ctx, `
		UPDATE listings
		SET moderation_decision   = $2,
		    moderation_reason     = $3,
		    moderation_confidence = $4,
		    visible               = ($2 = 'approved'),
		    moderated_at          = $5,
		    updated_at            = $5
		WHERE listing_id = $1
	`, verdict.ListingID, verdict.Decision, verdict.Reason, verdict.Confidence, currentTime)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("update listing verdict: %w", err))
	}
	return requireRowAffected(res, "listing")
}

// RecordEvent appends a lifecycle event for a listing.
func (r *ListingRepo) RecordEvent(ctx context.Context, event *model.ListingEvent) error {
	if event == nil || event.ListingID == "" {
		return apperrors.Validation("listing event with listing id is required")
	}

	detail := []byte(`{}`)
	if event.Detail != nil {
		var marshalErr error
		detail, marshalErr = json.Marshal(event.Detail)
		if marshalErr != nil {
			return fmt.Errorf("marshal event detail: %w", marshalErr)
		}
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO listing_events (listing_id, event_type, detail)
		VALUES ($1, $2, $3)
	`, event.ListingID, event.Type, detail)
	if err != nil {
		return apperrors.MapDBError(fmt.Errorf("record listing event: %w", err))
	}
	return nil
}

// ListEvents returns a listing's lifecycle events, newest first.
func (r *ListingRepo) ListEvents(ctx context.Context, listingID string, limit int) ([]*model.ListingEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT id, listing_id, event_type, detail, created_at
		FROM listing_events
		WHERE listing_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, listingID, limit)
	if err != nil {
		return nil, apperrors.MapDBError(fmt.Errorf("query listing events: %w", err))
	}
	defer rows.Close()

	var result []*model.ListingEvent
	for rows.Next() {
		var ev model.ListingEvent
		var detail []byte
		if scanErr := rows.Scan(&ev.ID, &ev.ListingID, &ev.Type, &detail, &ev.CreatedAt); scanErr != nil {
			return nil, fmt.Errorf("scan listing event: %w", scanErr)
		}
		if len(detail) > 0 {
			if unmarshalErr := json.Unmarshal(detail, &ev.Detail); unmarshalErr != nil {
				return nil, fmt.Errorf("unmarshal event detail: %w", unmarshalErr)
			}
		}
		result = append(result, &ev)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("iterate listing events: %w", rowsErr)
	}
	return result, nil
}

func requireRowAffected(res sql.Result, what string) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperrors.NotFound(what)
	}
	return nil
}
