// Package metrics collects transfer and store counters.
//
// A Collector accumulates counters for one process: a client accumulates
// session and unit counters, a server accumulates receive and finalize
// counters. It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sessions (client)
	SessionsStarted        int64 `json:"sessions_started"`
	SessionsCompleted      int64 `json:"sessions_completed"`
	SessionsPartial        int64 `json:"sessions_partial"`
	SessionsFinalizeFailed int64 `json:"sessions_finalize_failed"`
	SessionsAborted        int64 `json:"sessions_aborted"`

	// Units (client)
	UnitsUploaded int64 `json:"units_uploaded"`
	UnitsFailed   int64 `json:"units_failed"`
	UnitsSkipped  int64 `json:"units_skipped"`
	UnitRetries   int64 `json:"unit_retries"`
	BytesSent     int64 `json:"bytes_sent"`
	// SizeAdjustments counts controller updates by direction.
	SizeGrown  int64 `json:"size_grown"`
	SizeShrunk int64 `json:"size_shrunk"`

	// Store (server)
	UnitsReceived        int64            `json:"units_received"`
	UnitsRejected        int64            `json:"units_rejected"`
	BytesStored          int64            `json:"bytes_stored"`
	FinalizeSuccess      int64            `json:"finalize_success"`
	FinalizeFailure      int64            `json:"finalize_failure"`
	FinalizeSizeMismatch int64            `json:"finalize_size_mismatch"`
	StorageErrors        int64            `json:"storage_errors"`
	RejectedByReason     map[string]int64 `json:"rejected_by_reason"`

	// Dimensions (informational, set at construction)
	Role           string `json:"role"`
	StorageBackend string `json:"storage_backend"`
	Encoding       string `json:"encoding"`
}

// Collector accumulates counters.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	sessionsStarted        int64
	sessionsCompleted      int64
	sessionsPartial        int64
	sessionsFinalizeFailed int64
	sessionsAborted        int64

	unitsUploaded int64
	unitsFailed   int64
	unitsSkipped  int64
	unitRetries   int64
	bytesSent     int64
	sizeGrown     int64
	sizeShrunk    int64

	unitsReceived        int64
	unitsRejected        int64
	bytesStored          int64
	finalizeSuccess      int64
	finalizeFailure      int64
	finalizeSizeMismatch int64
	storageErrors        int64
	rejectedByReason     map[string]int64

	role           string
	storageBackend string
	encoding       string
}

// NewCollector creates a Collector with dimension labels.
// role is "client" or "server"; storageBackend and encoding may be empty.
func NewCollector(role, storageBackend, encoding string) *Collector {
	return &Collector{
		rejectedByReason: make(map[string]int64),
		role:             role,
		storageBackend:   storageBackend,
		encoding:         encoding,
	}
}

func (c *Collector) add(counter *int64, n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	*counter += n
	c.mu.Unlock()
}

// --- Sessions ---

// IncSessionStarted records a session start.
func (c *Collector) IncSessionStarted() {
	if c == nil {
		return
	}
	c.add(&c.sessionsStarted, 1)
}

// RecordSessionOutcome records a terminal session status: complete,
// partial, finalize_failed or aborted. Unknown values are ignored.
func (c *Collector) RecordSessionOutcome(status string) {
	if c == nil {
		return
	}
	switch status {
	case "complete":
		c.add(&c.sessionsCompleted, 1)
	case "partial":
		c.add(&c.sessionsPartial, 1)
	case "finalize_failed":
		c.add(&c.sessionsFinalizeFailed, 1)
	case "aborted":
		c.add(&c.sessionsAborted, 1)
	}
}

// --- Units ---

// RecordUnitUploaded records a successful unit upload of n bytes.
func (c *Collector) RecordUnitUploaded(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unitsUploaded++
	c.bytesSent += n
	c.mu.Unlock()
}

// IncUnitFailed records a unit that reached terminal failure.
func (c *Collector) IncUnitFailed() {
	if c == nil {
		return
	}
	c.add(&c.unitsFailed, 1)
}

// IncUnitSkipped records a zero-length unit.
func (c *Collector) IncUnitSkipped() {
	if c == nil {
		return
	}
	c.add(&c.unitsSkipped, 1)
}

// IncUnitRetry records one retry of a failed attempt.
func (c *Collector) IncUnitRetry() {
	if c == nil {
		return
	}
	c.add(&c.unitRetries, 1)
}

// RecordSizeChange records a controller update from old to updated size.
// Unchanged sizes (clamped at a bound) are not counted.
func (c *Collector) RecordSizeChange(old, updated int) {
	if c == nil {
		return
	}
	switch {
	case updated > old:
		c.add(&c.sizeGrown, 1)
	case updated < old:
		c.add(&c.sizeShrunk, 1)
	}
}

// --- Store ---

// RecordUnitStored records a unit persisted by the store.
func (c *Collector) RecordUnitStored(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unitsReceived++
	c.bytesStored += n
	c.mu.Unlock()
}

// IncUnitRejected records an upload rejected before storage, keyed by
// reason (missing_index, missing_filename, fingerprint, encoding, ...).
func (c *Collector) IncUnitRejected(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unitsRejected++
	c.rejectedByReason[reason]++
	c.mu.Unlock()
}

// IncFinalizeSuccess records a finalize that passed the integrity check.
func (c *Collector) IncFinalizeSuccess() {
	if c == nil {
		return
	}
	c.add(&c.finalizeSuccess, 1)
}

// IncFinalizeFailure records a finalize that failed for any reason.
// Size mismatches additionally increment the size mismatch counter.
func (c *Collector) IncFinalizeFailure(sizeMismatch bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.finalizeFailure++
	if sizeMismatch {
		c.finalizeSizeMismatch++
	}
	c.mu.Unlock()
}

// IncStorageError records a classified storage failure.
func (c *Collector) IncStorageError() {
	if c == nil {
		return
	}
	c.add(&c.storageErrors, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	rejected := make(map[string]int64, len(c.rejectedByReason))
	for k, v := range c.rejectedByReason {
		rejected[k] = v
	}

	return Snapshot{
		SessionsStarted:        c.sessionsStarted,
		SessionsCompleted:      c.sessionsCompleted,
		SessionsPartial:        c.sessionsPartial,
		SessionsFinalizeFailed: c.sessionsFinalizeFailed,
		SessionsAborted:        c.sessionsAborted,

		UnitsUploaded: c.unitsUploaded,
		UnitsFailed:   c.unitsFailed,
		UnitsSkipped:  c.unitsSkipped,
		UnitRetries:   c.unitRetries,
		BytesSent:     c.bytesSent,
		SizeGrown:     c.sizeGrown,
		SizeShrunk:    c.sizeShrunk,

		UnitsReceived:        c.unitsReceived,
		UnitsRejected:        c.unitsRejected,
		BytesStored:          c.bytesStored,
		FinalizeSuccess:      c.finalizeSuccess,
		FinalizeFailure:      c.finalizeFailure,
		FinalizeSizeMismatch: c.finalizeSizeMismatch,
		StorageErrors:        c.storageErrors,
		RejectedByReason:     rejected,

		Role:           c.role,
		StorageBackend: c.storageBackend,
		Encoding:       c.encoding,
	}
}
