package model

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// SyncStatus represents the lifecycle of a seller's sync record.
type SyncStatus string

const (
	// SyncStatusPending indicates a sync has been requested but not started.
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusRunning indicates a sync run is in progress.
	SyncStatusRunning SyncStatus = "running"
	// SyncStatusCompleted indicates the last run finished cleanly.
	SyncStatusCompleted SyncStatus = "completed"
	// SyncStatusFailed indicates the last run recorded an error.
	SyncStatusFailed SyncStatus = "failed"
)

// Valid returns true if the SyncStatus is valid.
func (s SyncStatus) Valid() bool {
	return s == SyncStatusPending || s == SyncStatusRunning ||
		s == SyncStatusCompleted || s == SyncStatusFailed
}

// SyncJob tracks catalog synchronization for one seller. There is exactly one
// row per seller, mutated in place across runs and never deleted. The counts
// always reflect the last completed run even while a new run is in progress.
type SyncJob struct {
	SellerRef  string     `json:"seller_ref"           db:"seller_ref"`
	CatalogURL string     `json:"catalog_url"          db:"catalog_url"`
	Status     SyncStatus `json:"status"               db:"status"`
	Added      int        `json:"added"                db:"added"`
	Removed    int        `json:"removed"              db:"removed"`
	Updated    int        `json:"updated"              db:"updated"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty" db:"last_run_at"`
	LastError  *string    `json:"last_error,omitempty"  db:"last_error"`
	CreatedAt  time.Time  `json:"created_at"           db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"           db:"updated_at"`
}

// RegisterSellerRequest registers or updates a seller's catalog URL and
// requests a sync.
type RegisterSellerRequest struct {
	SellerRef  string `json:"seller_ref"`
	CatalogURL string `json:"catalog_url"`
}

// Validate validates the RegisterSellerRequest fields.
func (r *RegisterSellerRequest) Validate() error {
	if strings.TrimSpace(r.SellerRef) == "" {
		return errors.New("seller ref is required")
	}
	u, err := url.Parse(r.CatalogURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("catalog url must be absolute")
	}
	return nil
}

// SyncCounts accumulates the outcome of one sync run.
type SyncCounts struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Updated int `json:"updated"`
}
