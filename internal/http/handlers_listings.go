package httpx

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/marketfeed/catalogd/internal/core"
)

// ListingHandlers provides HTTP handlers for collaborator reads of the catalog.
type ListingHandlers struct {
	Repo core.ListingRepository
}

const defaultEventLimit = 100

// List handles GET /api/listings?seller=: returns a seller's approved,
// visible listings. With all=true the full set is returned regardless of
// moderation state, for operator inspection.
func (h *ListingHandlers) List(w http.ResponseWriter, r *http.Request) {
	sellerRef := r.URL.Query().Get("seller")
	if sellerRef == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("seller query parameter is required")})
		return
	}

	var (
		listings any
		err      error
	)
	if r.URL.Query().Get("all") == "true" {
		listings, err = h.Repo.ListBySeller(r.Context(), sellerRef)
	} else {
		listings, err = h.Repo.ListApprovedBySeller(r.Context(), sellerRef)
	}
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"listings": listings})
}

// Get handles GET /api/listings/{id}: returns one listing by id.
func (h *ListingHandlers) Get(w http.ResponseWriter, r *http.Request) {
	listingID := r.PathValue("id")
	if listingID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("listing id is required")})
		return
	}

	listing, err := h.Repo.GetByID(r.Context(), listingID)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, listing)
}

// Events handles GET /api/listings/{id}/events?limit=: returns a listing's
// integrity events, newest first.
func (h *ListingHandlers) Events(w http.ResponseWriter, r *http.Request) {
	listingID := r.PathValue("id")
	if listingID == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("listing id is required")})
		return
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("limit must be a positive integer")})
			return
		}
		limit = parsed
	}

	events, err := h.Repo.ListEvents(r.Context(), listingID, limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
