// Package adapter defines the notification boundary for finalized artifacts.
//
// Adapters publish finalize outcomes to downstream systems. The server
// owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/pithecene-io/tessera/types"
)

// EventTypeArtifactFinalized is the only event type published today.
const EventTypeArtifactFinalized = "artifact_finalized"

// Finalize outcomes carried in ArtifactFinalizedEvent.Outcome.
const (
	OutcomeComplete     = "complete"
	OutcomeSizeMismatch = "size_mismatch"
	OutcomeNoUnits      = "no_units"
	OutcomeError        = "error"
)

// ArtifactFinalizedEvent is the payload published after every finalize
// attempt, successful or not.
type ArtifactFinalizedEvent struct {
	ProtocolVersion string `json:"protocol_version"`
	EventType       string `json:"event_type"` // always "artifact_finalized"
	ArtifactID      string `json:"artifact_id"`
	SessionID       string `json:"session_id,omitempty"`
	Outcome         string `json:"outcome"`
	Units           int    `json:"units"`
	Bytes           int64  `json:"bytes"`
	// Expected is the summed recorded unit size; differs from Bytes only
	// on size_mismatch.
	Expected    int64  `json:"expected"`
	Fingerprint string `json:"fingerprint,omitempty"`
	StoragePath string `json:"storage_path,omitempty"`
	Error       string `json:"error,omitempty"`
	Timestamp   string `json:"timestamp"` // RFC 3339
}

// NewFinalizedEvent returns an event stamped with the protocol version,
// event type and ts.
func NewFinalizedEvent(artifactID, outcome string, ts time.Time) *ArtifactFinalizedEvent {
	return &ArtifactFinalizedEvent{
		ProtocolVersion: types.ProtocolVersion,
		EventType:       EventTypeArtifactFinalized,
		ArtifactID:      artifactID,
		Outcome:         outcome,
		Timestamp:       ts.UTC().Format(time.RFC3339Nano),
	}
}

// Adapter publishes finalize events to a downstream system.
// Implementations must be safe for concurrent use.
type Adapter interface {
	// Publish sends a finalize event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *ArtifactFinalizedEvent) error

	// Close releases adapter resources.
	Close() error
}

// Backoff returns the wait before retry attempt i (1-based): base, 2*base, 4*base...
func Backoff(base time.Duration, i int) time.Duration {
	if i <= 0 {
		return 0
	}
	return time.Duration(1<<uint(i-1)) * base
}
