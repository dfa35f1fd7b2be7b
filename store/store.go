// Package store persists transfer units and reassembles artifacts.
//
// A ChunkStore writes each unit's bytes and a msgpack UnitRecord to a
// lode.Store (filesystem, memory or S3). Finalize concatenates the stored
// units of an artifact in ascending index order and accepts the result
// only if the assembled length equals the sum of recorded unit sizes.
//
// Puts for one artifact share a read lock; Finalize holds the write lock,
// so finalize never observes a partially written unit.
package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/tessera/digest"
	"github.com/pithecene-io/tessera/iox"
	"github.com/pithecene-io/tessera/log"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/types"
	"github.com/pithecene-io/tessera/wire"
)

// UnitRecord describes one stored unit.
type UnitRecord = wire.UnitRecord

// Options configures a ChunkStore.
type Options struct {
	// RetainUnits keeps unit objects after a successful finalize.
	RetainUnits bool
	// Ledger receives every finalize outcome. Optional.
	Ledger *Ledger
	// Logger is optional.
	Logger *log.Logger
	// Metrics is optional.
	Metrics *metrics.Collector
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// UnitWrite is a single put request.
type UnitWrite struct {
	ArtifactID string
	Index      int64
	// Data holds the decoded unit bytes.
	Data []byte
	// Encoding is the wire encoding the unit arrived with.
	Encoding  wire.Encoding
	SessionID string
}

// FinalizeResult describes an assembled artifact.
type FinalizeResult struct {
	ArtifactID  string    `json:"artifact_id" yaml:"artifact_id"`
	Units       int       `json:"units" yaml:"units"`
	Bytes       int64     `json:"bytes" yaml:"bytes"`
	Fingerprint string    `json:"fingerprint" yaml:"fingerprint"`
	FinalizedAt time.Time `json:"finalized_at" yaml:"finalized_at"`
	// Gaps lists indices below the highest stored index that were never
	// stored. Gaps do not fail the integrity check.
	Gaps []int64 `json:"gaps,omitempty" yaml:"gaps,omitempty"`
}

// ArtifactStatus is the stored state of one artifact.
type ArtifactStatus struct {
	ArtifactID string               `json:"artifact_id" yaml:"artifact_id"`
	Units      []*UnitRecord        `json:"units" yaml:"units"`
	Bytes      int64                `json:"bytes" yaml:"bytes"`
	Complete   bool                 `json:"complete" yaml:"complete"`
	Finalize   *wire.FinalizeRecord `json:"finalize,omitempty" yaml:"finalize,omitempty"`
}

// ChunkStore persists units and reassembles artifacts.
type ChunkStore struct {
	store lode.Store
	opts  Options

	mu    sync.Mutex // guards locks
	locks map[string]*artifactLock
}

// artifactLock serializes access to one artifact. Puts hold rw shared and
// the per-index mutex exclusively; Finalize holds rw exclusively.
// An entry lives in ChunkStore.locks only while refs > 0.
type artifactLock struct {
	rw   sync.RWMutex
	refs int // guarded by ChunkStore.mu

	mu    sync.Mutex // guards units
	units map[int64]*sync.Mutex
}

func (a *artifactLock) unit(index int64) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.units[index]
	if !ok {
		m = &sync.Mutex{}
		a.units[index] = m
	}
	return m
}

// New creates a ChunkStore on the store produced by factory.
func New(factory lode.StoreFactory, opts Options) (*ChunkStore, error) {
	st, err := factory()
	if err != nil {
		return nil, wrapOp(err, "init", "")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChunkStore{
		store: st,
		opts:  opts,
		locks: make(map[string]*artifactLock),
	}, nil
}

// acquire pins the lock for artifactID until the matching release.
func (s *ChunkStore) acquire(artifactID string) *artifactLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[artifactID]
	if !ok {
		l = &artifactLock{units: make(map[int64]*sync.Mutex)}
		s.locks[artifactID] = l
	}
	l.refs++
	return l
}

// release unpins l and forgets it once no caller holds it.
func (s *ChunkStore) release(artifactID string, l *artifactLock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(s.locks, artifactID)
	}
}

func validateArtifactID(id string) error {
	if id == "" {
		return ErrMissingArtifactID
	}
	if err := types.ValidateArtifactID(id); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifactID, err)
	}
	return nil
}

// PutUnit persists one unit and its record. A second put for the same
// (artifact, index) replaces the first.
func (s *ChunkStore) PutUnit(ctx context.Context, w UnitWrite) (*UnitRecord, error) {
	if err := validateArtifactID(w.ArtifactID); err != nil {
		return nil, err
	}
	if w.Index < 0 {
		return nil, fmt.Errorf("%w: negative index %d", ErrMissingIndex, w.Index)
	}

	lock := s.acquire(w.ArtifactID)
	defer s.release(w.ArtifactID, lock)
	lock.rw.RLock()
	defer lock.rw.RUnlock()
	unitMu := lock.unit(w.Index)
	unitMu.Lock()
	defer unitMu.Unlock()

	logger := s.opts.Logger.WithArtifact(w.ArtifactID)

	dataPath := unitDataPath(w.ArtifactID, w.Index)
	if err := s.replace(ctx, dataPath, bytes.NewReader(w.Data)); err != nil {
		s.opts.Metrics.IncStorageError()
		logger.Error("unit write failed", map[string]any{"index": w.Index, "error": err.Error()})
		return nil, err
	}

	enc := w.Encoding
	if enc == "" {
		enc = wire.EncodingIdentity
	}
	rec := wire.NewUnitRecord(w.ArtifactID, w.Index, int64(len(w.Data)),
		digest.Unit(w.Data).String(), enc, s.opts.Now())
	rec.SessionID = w.SessionID

	payload, err := wire.MarshalRecord(rec)
	if err != nil {
		return nil, err
	}
	// The record is written after the bytes so a record never points at
	// bytes that are not durable.
	if err := s.replace(ctx, unitRecordPath(w.ArtifactID, w.Index), bytes.NewReader(payload)); err != nil {
		s.opts.Metrics.IncStorageError()
		logger.Error("unit record write failed", map[string]any{"index": w.Index, "error": err.Error()})
		return nil, err
	}

	s.opts.Metrics.RecordUnitStored(rec.Size)
	logger.Debug("unit stored", map[string]any{
		"index":    w.Index,
		"size":     rec.Size,
		"encoding": string(enc),
	})
	return rec, nil
}

// ListUnits returns the unit records of artifactID in ascending index order.
func (s *ChunkStore) ListUnits(ctx context.Context, artifactID string) ([]*UnitRecord, error) {
	if err := validateArtifactID(artifactID); err != nil {
		return nil, err
	}
	lock := s.acquire(artifactID)
	defer s.release(artifactID, lock)
	lock.rw.RLock()
	defer lock.rw.RUnlock()
	return s.listRecords(ctx, artifactID)
}

// ListArtifacts returns the identifiers of every artifact with stored
// objects, sorted.
func (s *ChunkStore) ListArtifacts(ctx context.Context) ([]string, error) {
	paths, err := s.store.List(ctx, artifactsRoot+"/")
	if err != nil {
		wrapped := wrapOp(err, "list", artifactsRoot)
		if errors.Is(wrapped, ErrNotFound) {
			return nil, nil
		}
		return nil, wrapped
	}

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, p := range paths {
		id, ok := parseArtifactPath(p)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *ChunkStore) listRecords(ctx context.Context, artifactID string) ([]*UnitRecord, error) {
	prefix := unitsPrefix(artifactID)
	paths, err := s.store.List(ctx, prefix)
	if err != nil {
		wrapped := wrapOp(err, "list", prefix)
		if errors.Is(wrapped, ErrNotFound) {
			return nil, nil
		}
		return nil, wrapped
	}

	records := make([]*UnitRecord, 0, len(paths)/2)
	for _, p := range paths {
		if _, ok := parseRecordPath(p); !ok {
			continue
		}
		data, err := s.readAll(ctx, p)
		if err != nil {
			return nil, err
		}
		rec, err := wire.UnmarshalUnitRecord(data)
		if err != nil {
			return nil, fmt.Errorf("unit record %s: %w", p, err)
		}
		records = append(records, rec)
	}

	slices.SortFunc(records, func(a, b *UnitRecord) int {
		switch {
		case a.Index < b.Index:
			return -1
		case a.Index > b.Index:
			return 1
		default:
			return 0
		}
	})
	return records, nil
}

// Finalize reassembles artifactID from its stored units.
//
// The assembled object is accepted only when the bytes written equal the
// sum of recorded unit sizes. On mismatch the assembled object is deleted,
// no completion marker is written and a *SizeMismatchError is returned.
func (s *ChunkStore) Finalize(ctx context.Context, artifactID string) (*FinalizeResult, error) {
	if err := validateArtifactID(artifactID); err != nil {
		return nil, err
	}

	lock := s.acquire(artifactID)
	defer s.release(artifactID, lock)
	lock.rw.Lock()
	defer lock.rw.Unlock()

	logger := s.opts.Logger.WithArtifact(artifactID)
	now := s.opts.Now().UTC()

	result, err := s.finalizeLocked(ctx, artifactID, now)
	entry := LedgerEntry{ArtifactID: artifactID, FinalizedAt: now}

	var mismatch *SizeMismatchError
	switch {
	case err == nil:
		s.opts.Metrics.IncFinalizeSuccess()
		logger.Info("artifact finalized", map[string]any{
			"units":       result.Units,
			"bytes":       result.Bytes,
			"fingerprint": result.Fingerprint,
		})
		entry.Outcome = OutcomeComplete
		entry.Units = result.Units
		entry.Expected = result.Bytes
		entry.Written = result.Bytes
		entry.Fingerprint = result.Fingerprint
	case errors.As(err, &mismatch):
		s.opts.Metrics.IncFinalizeFailure(true)
		logger.Error("assembled size mismatch", map[string]any{
			"expected": mismatch.Expected,
			"written":  mismatch.Written,
		})
		entry.Outcome = OutcomeSizeMismatch
		entry.Expected = mismatch.Expected
		entry.Written = mismatch.Written
		entry.Error = err.Error()
	case errors.Is(err, ErrNoUnits):
		s.opts.Metrics.IncFinalizeFailure(false)
		logger.Warn("finalize without units", nil)
		entry.Outcome = OutcomeNoUnits
		entry.Error = err.Error()
	default:
		s.opts.Metrics.IncFinalizeFailure(false)
		if IsStorageError(err) {
			s.opts.Metrics.IncStorageError()
		}
		logger.Error("finalize failed", map[string]any{"error": err.Error()})
		entry.Outcome = OutcomeError
		entry.Error = err.Error()
	}

	if ledgerErr := s.opts.Ledger.Append(ctx, entry); ledgerErr != nil {
		logger.Warn("finalize ledger append failed", map[string]any{"error": ledgerErr.Error()})
	}
	return result, err
}

func (s *ChunkStore) finalizeLocked(ctx context.Context, artifactID string, now time.Time) (*FinalizeResult, error) {
	records, err := s.listRecords(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoUnits, artifactID)
	}

	var expected int64
	for _, rec := range records {
		expected += rec.Size
	}

	// A previous completion must not survive a failed re-finalize.
	if err := s.deleteIfExists(ctx, completePath(artifactID)); err != nil {
		return nil, err
	}

	written, fingerprint, err := s.assemble(ctx, artifactID, records)
	if err != nil {
		_ = s.deleteIfExists(ctx, assembledPath(artifactID))
		return nil, err
	}
	if written != expected {
		if delErr := s.deleteIfExists(ctx, assembledPath(artifactID)); delErr != nil {
			s.opts.Logger.WithArtifact(artifactID).Warn("failed to delete rejected artifact",
				map[string]any{"error": delErr.Error()})
		}
		return nil, &SizeMismatchError{ArtifactID: artifactID, Expected: expected, Written: written}
	}

	marker := &wire.FinalizeRecord{
		Type:        wire.RecordTypeFinalize,
		Version:     types.ProtocolVersion,
		ArtifactID:  artifactID,
		Units:       len(records),
		Bytes:       written,
		Fingerprint: fingerprint.String(),
		FinalizedAt: now,
	}
	payload, err := wire.MarshalRecord(marker)
	if err != nil {
		return nil, err
	}
	if err := s.replace(ctx, completePath(artifactID), bytes.NewReader(payload)); err != nil {
		_ = s.deleteIfExists(ctx, assembledPath(artifactID))
		return nil, err
	}

	if !s.opts.RetainUnits {
		s.dropUnits(ctx, artifactID, records)
	}

	return &FinalizeResult{
		ArtifactID:  artifactID,
		Units:       len(records),
		Bytes:       written,
		Fingerprint: fingerprint.String(),
		FinalizedAt: now,
		Gaps:        gaps(records),
	}, nil
}

// assemble streams every unit into the assembled object and returns the
// number of bytes written together with the artifact fingerprint.
// Units whose bytes are missing contribute nothing; the size check
// catches them.
func (s *ChunkStore) assemble(ctx context.Context, artifactID string, records []*UnitRecord) (int64, digest.Fingerprint, error) {
	pr, pw := io.Pipe()
	hasher := digest.New(digest.DomainArtifact)
	counter := iox.NewCountingWriter(io.MultiWriter(pw, hasher))

	copyErr := make(chan error, 1)
	go func() {
		err := s.copyUnits(ctx, artifactID, records, counter)
		_ = pw.CloseWithError(err)
		copyErr <- err
	}()

	putErr := s.replace(ctx, assembledPath(artifactID), pr)
	// Unblock the copier if Put returned without draining the pipe.
	_ = pr.CloseWithError(errors.New("assembled write aborted"))
	err := <-copyErr

	if err != nil {
		return 0, digest.Fingerprint{}, err
	}
	if putErr != nil {
		return 0, digest.Fingerprint{}, putErr
	}
	return counter.N(), digest.FromHash(hasher), nil
}

func (s *ChunkStore) copyUnits(ctx context.Context, artifactID string, records []*UnitRecord, dst io.Writer) error {
	logger := s.opts.Logger.WithArtifact(artifactID)
	for _, rec := range records {
		p := unitDataPath(artifactID, rec.Index)
		rc, err := s.store.Get(ctx, p)
		if err != nil {
			wrapped := wrapOp(err, "get", p)
			if errors.Is(wrapped, ErrNotFound) {
				logger.Warn("unit bytes missing", map[string]any{"index": rec.Index})
				continue
			}
			return wrapped
		}
		_, err = io.Copy(dst, rc)
		iox.DiscardClose(rc)
		if err != nil {
			return wrapOp(err, "get", p)
		}
	}
	return nil
}

func (s *ChunkStore) dropUnits(ctx context.Context, artifactID string, records []*UnitRecord) {
	logger := s.opts.Logger.WithArtifact(artifactID)
	for _, rec := range records {
		for _, p := range []string{unitDataPath(artifactID, rec.Index), unitRecordPath(artifactID, rec.Index)} {
			if err := s.deleteIfExists(ctx, p); err != nil {
				logger.Warn("unit cleanup failed", map[string]any{"path": p, "error": err.Error()})
			}
		}
	}
}

// Status reports the stored units and completion state of artifactID.
func (s *ChunkStore) Status(ctx context.Context, artifactID string) (*ArtifactStatus, error) {
	if err := validateArtifactID(artifactID); err != nil {
		return nil, err
	}
	lock := s.acquire(artifactID)
	defer s.release(artifactID, lock)
	lock.rw.RLock()
	defer lock.rw.RUnlock()

	records, err := s.listRecords(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	marker, err := s.completion(ctx, artifactID)
	if err != nil && !errors.Is(err, ErrNotFinalized) {
		return nil, err
	}
	if len(records) == 0 && marker == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, artifactID)
	}

	status := &ArtifactStatus{
		ArtifactID: artifactID,
		Units:      records,
		Complete:   marker != nil,
		Finalize:   marker,
	}
	for _, rec := range records {
		status.Bytes += rec.Size
	}
	return status, nil
}

// Open returns the assembled bytes of a finalized artifact. Artifacts
// without a completion marker return ErrNotFinalized.
func (s *ChunkStore) Open(ctx context.Context, artifactID string) (io.ReadCloser, *wire.FinalizeRecord, error) {
	if err := validateArtifactID(artifactID); err != nil {
		return nil, nil, err
	}
	lock := s.acquire(artifactID)
	defer s.release(artifactID, lock)
	lock.rw.RLock()
	defer lock.rw.RUnlock()

	marker, err := s.completion(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	p := assembledPath(artifactID)
	rc, err := s.store.Get(ctx, p)
	if err != nil {
		return nil, nil, wrapOp(err, "get", p)
	}
	return rc, marker, nil
}

// completion reads the finalize marker, or returns ErrNotFinalized.
func (s *ChunkStore) completion(ctx context.Context, artifactID string) (*wire.FinalizeRecord, error) {
	p := completePath(artifactID)
	ok, err := s.store.Exists(ctx, p)
	if err != nil {
		return nil, wrapOp(err, "get", p)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFinalized, artifactID)
	}
	data, err := s.readAll(ctx, p)
	if err != nil {
		return nil, err
	}
	return wire.UnmarshalFinalizeRecord(data)
}

func (s *ChunkStore) readAll(ctx context.Context, p string) ([]byte, error) {
	rc, err := s.store.Get(ctx, p)
	if err != nil {
		return nil, wrapOp(err, "get", p)
	}
	defer iox.DiscardClose(rc)
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, wrapOp(err, "get", p)
	}
	return data, nil
}

// replace writes r to p, removing any previous object first.
func (s *ChunkStore) replace(ctx context.Context, p string, r io.Reader) error {
	if err := s.deleteIfExists(ctx, p); err != nil {
		return err
	}
	if err := s.store.Put(ctx, p, r); err != nil {
		return wrapOp(err, "put", p)
	}
	return nil
}

func (s *ChunkStore) deleteIfExists(ctx context.Context, p string) error {
	ok, err := s.store.Exists(ctx, p)
	if err != nil {
		return wrapOp(err, "delete", p)
	}
	if !ok {
		return nil
	}
	if err := s.store.Delete(ctx, p); err != nil {
		return wrapOp(err, "delete", p)
	}
	return nil
}

// maxReportedGaps bounds the gap list of a single finalize.
const maxReportedGaps = 1024

// gaps returns the indices in [0, max] that have no record, at most
// maxReportedGaps of them. records must be sorted by index.
func gaps(records []*UnitRecord) []int64 {
	var missing []int64
	next := int64(0)
	for _, rec := range records {
		for ; next < rec.Index; next++ {
			if len(missing) == maxReportedGaps {
				return missing
			}
			missing = append(missing, next)
		}
		next = rec.Index + 1
	}
	return missing
}
