package httpx

import (
	"errors"
	"net/http"

	"github.com/marketfeed/catalogd/internal/domain/model"
	"github.com/marketfeed/catalogd/internal/service"
)

// SellerHandlers provides HTTP handlers for seller registration and sync runs.
type SellerHandlers struct {
	Svc *service.SyncService
}

type registerSellerBody struct {
	CatalogURL string `json:"catalog_url"`
}

// Register handles PUT /api/sellers/{ref}: registers or updates a seller's
// catalog URL and starts a sync run.
func (h *SellerHandlers) Register(w http.ResponseWriter, r *http.Request) {
	sellerRef := r.PathValue("ref")
	if sellerRef == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("seller ref is required")})
		return
	}

	var body registerSellerBody
	if !DecodeJSON(w, r, &body) {
		return
	}

	syncJob, err := h.Svc.Register(r.Context(), model.RegisterSellerRequest{
		SellerRef:  sellerRef,
		CatalogURL: body.CatalogURL,
	})
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, syncJob)
}

// TriggerSync handles POST /api/sellers/{ref}/sync: starts a new sync run for
// a registered seller.
func (h *SellerHandlers) TriggerSync(w http.ResponseWriter, r *http.Request) {
	sellerRef := r.PathValue("ref")
	if sellerRef == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("seller ref is required")})
		return
	}

	syncJob, err := h.Svc.Trigger(r.Context(), sellerRef)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusAccepted, syncJob)
}

// SyncStatus handles GET /api/sellers/{ref}/sync: returns the seller's sync
// record, including the counts of the last completed run.
func (h *SellerHandlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	sellerRef := r.PathValue("ref")
	if sellerRef == "" {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("seller ref is required")})
		return
	}

	syncJob, err := h.Svc.Status(r.Context(), sellerRef)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, syncJob)
}

// List handles GET /api/sellers: returns every registered seller.
func (h *SellerHandlers) List(w http.ResponseWriter, r *http.Request) {
	sellers, err := h.Svc.List(r.Context())
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"sellers": sellers})
}
