// Package httpx provides the operational HTTP API for the catalogd pipeline:
// seller registration and sync control, collaborator reads of the catalog,
// and queue introspection.
package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marketfeed/catalogd/internal/core"
	"github.com/marketfeed/catalogd/internal/service"
)

var errInvalidJobType = errors.New("unknown job type")

// RouterServices holds the services needed by the HTTP router.
type RouterServices struct {
	Sync     *service.SyncService
	Jobs     *service.JobService
	Listings core.ListingRepository
	Logger   *slog.Logger // Optional: request logging
}

// NewRouter creates and configures the API router.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	sellerHandlers := &SellerHandlers{Svc: services.Sync}
	listingHandlers := &ListingHandlers{Repo: services.Listings}
	queueHandlers := &QueueHandlers{Svc: services.Jobs}

	mux.HandleFunc("PUT /api/sellers/{ref}", sellerHandlers.Register)
	mux.HandleFunc("GET /api/sellers", sellerHandlers.List)
	mux.HandleFunc("POST /api/sellers/{ref}/sync", sellerHandlers.TriggerSync)
	mux.HandleFunc("GET /api/sellers/{ref}/sync", sellerHandlers.SyncStatus)

	mux.HandleFunc("GET /api/listings", listingHandlers.List)
	mux.HandleFunc("GET /api/listings/{id}", listingHandlers.Get)
	mux.HandleFunc("GET /api/listings/{id}/events", listingHandlers.Events)

	mux.HandleFunc("GET /api/queue/stats", queueHandlers.Stats)
	mux.HandleFunc("GET /api/queue/jobs/{id}", queueHandlers.GetJob)

	mux.Handle("GET /health", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /health", http.HandlerFunc(healthHandler))

	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
