// Package reader provides the read-side data access layer for the tessera CLI.
//
// Read-only commands (inspect, list, stats) go through a Reader so they
// never touch the write paths of the store. A StoreReader answers from a
// ChunkStore and its finalize ledger; FetchServerMetrics answers from a
// running server.
package reader

import (
	"time"

	"github.com/pithecene-io/tessera/store"
)

// Artifact states reported by inspect and list.
const (
	// StateComplete means a completion marker exists.
	StateComplete = "complete"
	// StatePending means units are stored but no finalize succeeded.
	StatePending = "pending"
	// StateSizeMismatch means the latest finalize failed the integrity check.
	StateSizeMismatch = "size_mismatch"
	// StateNoUnits means finalize was requested but nothing was stored.
	StateNoUnits = "no_units"
	// StateError means the latest finalize failed with a storage error.
	StateError = "error"
)

// UnitItem is one stored unit.
type UnitItem struct {
	Index       int64     `json:"index"`
	Size        int64     `json:"size"`
	Encoding    string    `json:"encoding"`
	Fingerprint string    `json:"fingerprint"`
	SessionID   string    `json:"session_id,omitempty"`
	ArrivedAt   time.Time `json:"arrived_at"`
}

// InspectArtifactResponse is the deep view of one artifact.
type InspectArtifactResponse struct {
	ArtifactID  string     `json:"artifact_id"`
	State       string     `json:"state"`
	UnitCount   int        `json:"unit_count"`
	StoredBytes int64      `json:"stored_bytes"`
	Gaps        []int64    `json:"gaps"`
	Fingerprint string     `json:"fingerprint,omitempty"`
	FinalizedAt *time.Time `json:"finalized_at"`
	Units       []UnitItem `json:"units"`
	// History lists finalize attempts, oldest first.
	History []store.LedgerEntry `json:"history"`
}

// ListArtifactItem is one row of the artifact list.
type ListArtifactItem struct {
	ArtifactID string `json:"artifact_id"`
	State      string `json:"state"`
	Units      int    `json:"units"`
	Bytes      int64  `json:"bytes"`
}

// FinalizeStats counts finalize outcomes recorded in the ledger.
type FinalizeStats struct {
	Total        int `json:"total"`
	Complete     int `json:"complete"`
	SizeMismatch int `json:"size_mismatch"`
	NoUnits      int `json:"no_units"`
	Error        int `json:"error"`
}
