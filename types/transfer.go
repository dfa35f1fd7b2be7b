//nolint:revive // types is a common Go package naming convention
package types

import "time"

// TransferUnit is the byte span sent in a single upload request.
// Its length follows the adaptive unit size; it never crosses a
// content-defined chunk boundary.
type TransferUnit struct {
	// Index is the zero-based sequence index, assigned at slice time and
	// never reused within a session.
	Index int64
	// Offset is the position of the first byte of Data in the source.
	Offset int64
	// Data is the unit payload.
	Data []byte
	// Chunk is the index of the content-defined chunk holding the unit.
	Chunk int
	// Attempts is the number of upload attempts made so far.
	Attempts int
}

// Len returns the payload length in bytes.
func (u *TransferUnit) Len() int {
	return len(u.Data)
}

// UnitStatus is the terminal state of a transfer unit.
type UnitStatus string

const (
	// UnitStatusUploaded indicates the unit was accepted by the store.
	UnitStatusUploaded UnitStatus = "uploaded"
	// UnitStatusSkipped indicates a zero-length unit that was never sent.
	UnitStatusSkipped UnitStatus = "skipped"
	// UnitStatusFailed indicates the unit exhausted its retries or was
	// rejected as malformed.
	UnitStatusFailed UnitStatus = "failed"
)

// UnitResult records the outcome of one transfer unit.
type UnitResult struct {
	Index    int64         `json:"index" yaml:"index"`
	Offset   int64         `json:"offset" yaml:"offset"`
	Size     int           `json:"size" yaml:"size"`
	Chunk    int           `json:"chunk" yaml:"chunk"`
	Status   UnitStatus    `json:"status" yaml:"status"`
	Attempts int           `json:"attempts" yaml:"attempts"`
	Elapsed  time.Duration `json:"elapsed" yaml:"elapsed"`
	// Throughput is bytes/second of the successful attempt, zero otherwise.
	Throughput float64 `json:"throughput" yaml:"throughput"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// ChunkResult describes one content-defined chunk and the units sliced
// from it. Only chunks that were fully sliced are reported.
type ChunkResult struct {
	Index int   `json:"index" yaml:"index"`
	Start int64 `json:"start" yaml:"start"`
	End   int64 `json:"end" yaml:"end"`
	// FirstUnit is the index of the chunk's first transfer unit.
	FirstUnit int64 `json:"first_unit" yaml:"first_unit"`
	Units     int   `json:"units" yaml:"units"`
	// Fingerprint is the BLAKE3 chunk digest of [Start, End).
	Fingerprint string `json:"fingerprint" yaml:"fingerprint"`
}

// SessionStatus is the overall outcome of an upload session.
type SessionStatus string

const (
	// SessionComplete means every unit uploaded and finalize succeeded.
	SessionComplete SessionStatus = "complete"
	// SessionPartial means one or more units failed; finalize was skipped.
	SessionPartial SessionStatus = "partial"
	// SessionFinalizeFailed means every unit uploaded but finalize failed.
	SessionFinalizeFailed SessionStatus = "finalize_failed"
	// SessionAborted means the session was aborted before all units were
	// submitted.
	SessionAborted SessionStatus = "aborted"
)

// FinalizeStatus reports the outcome of the finalize request.
type FinalizeStatus struct {
	// Attempted is false when finalize was never issued.
	Attempted bool   `json:"attempted" yaml:"attempted"`
	OK        bool   `json:"ok" yaml:"ok"`
	Code      int    `json:"code,omitempty" yaml:"code,omitempty"`
	Message   string `json:"message,omitempty" yaml:"message,omitempty"`
	// Bytes is the assembled size reported by the server.
	Bytes int64 `json:"bytes,omitempty" yaml:"bytes,omitempty"`
	// Fingerprint is the assembled artifact fingerprint reported by the server.
	Fingerprint string `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
}

// SessionResult is the aggregate result of one upload session.
// FailedUnits names every unit that exhausted retries, not just the first.
type SessionResult struct {
	SessionID   string         `json:"session_id" yaml:"session_id"`
	ArtifactID  string         `json:"artifact_id" yaml:"artifact_id"`
	Status      SessionStatus  `json:"status" yaml:"status"`
	TotalBytes  int64          `json:"total_bytes" yaml:"total_bytes"`
	Units       int            `json:"units" yaml:"units"`
	Uploaded    int            `json:"uploaded" yaml:"uploaded"`
	Skipped     int            `json:"skipped" yaml:"skipped"`
	FailedUnits []int64        `json:"failed_units" yaml:"failed_units"`
	FinalSize   int            `json:"final_unit_size" yaml:"final_unit_size"`
	Chunks      []ChunkResult  `json:"chunks,omitempty" yaml:"chunks,omitempty"`
	Duration    time.Duration  `json:"duration" yaml:"duration"`
	Finalize    FinalizeStatus `json:"finalize" yaml:"finalize"`
	UnitResults []UnitResult   `json:"unit_results,omitempty" yaml:"unit_results,omitempty"`
}

// Complete reports whether every unit succeeded and finalize succeeded.
func (r *SessionResult) Complete() bool {
	return r.Status == SessionComplete
}
