package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
)

// LedgerDataset is the lode dataset holding finalize outcomes.
const LedgerDataset = "tessera-finalize"

// Finalize outcomes recorded in the ledger.
const (
	OutcomeComplete     = "complete"
	OutcomeSizeMismatch = "size_mismatch"
	OutcomeNoUnits      = "no_units"
	OutcomeError        = "error"
)

// ErrNoLedgerEntry is returned when an artifact has no finalize history.
var ErrNoLedgerEntry = errors.New("no finalize records found")

// LedgerEntry is one finalize attempt.
type LedgerEntry struct {
	ArtifactID  string    `json:"artifact_id" yaml:"artifact_id"`
	Outcome     string    `json:"outcome" yaml:"outcome"`
	Units       int       `json:"units" yaml:"units"`
	Expected    int64     `json:"expected_bytes" yaml:"expected_bytes"`
	Written     int64     `json:"written_bytes" yaml:"written_bytes"`
	Fingerprint string    `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Error       string    `json:"error,omitempty" yaml:"error,omitempty"`
	FinalizedAt time.Time `json:"finalized_at" yaml:"finalized_at"`
}

// Ledger appends finalize outcomes to a Hive-partitioned lode dataset
// (day/outcome) and answers history queries for inspect.
type Ledger struct {
	mu sync.Mutex // serializes dataset writes
	ds lode.Dataset
}

// NewLedger opens the finalize ledger on factory.
func NewLedger(factory lode.StoreFactory) (*Ledger, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(LedgerDataset),
		factory,
		lode.WithHiveLayout("day", "outcome"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrapOp(err, "init", LedgerDataset)
	}
	return &Ledger{ds: ds}, nil
}

// Append records entry. A nil Ledger discards entries.
func (l *Ledger) Append(ctx context.Context, entry LedgerEntry) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.ds.Write(ctx, []any{entry.toRecord()}, lode.Metadata{}); err != nil {
		return wrapOp(err, "ledger", LedgerDataset)
	}
	return nil
}

// History returns every entry for artifactID, oldest first.
func (l *Ledger) History(ctx context.Context, artifactID string) ([]LedgerEntry, error) {
	snapshots, err := l.ds.Snapshots(ctx)
	if err != nil {
		return nil, wrapOp(err, "ledger", LedgerDataset+"/snapshots")
	}

	var entries []LedgerEntry
	for _, snap := range snapshots {
		data, err := l.ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrapOp(err, "ledger", fmt.Sprintf("%s/snapshot/%s", LedgerDataset, snap.ID))
		}
		for _, item := range data {
			record, ok := item.(map[string]any)
			if !ok || toString(record["artifact_id"]) != artifactID {
				continue
			}
			entries = append(entries, entryFromRecord(record))
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoLedgerEntry
	}
	return entries, nil
}

// Latest returns the most recent entry for artifactID.
func (l *Ledger) Latest(ctx context.Context, artifactID string) (*LedgerEntry, error) {
	snapshots, err := l.ds.Snapshots(ctx)
	if err != nil {
		return nil, wrapOp(err, "ledger", LedgerDataset+"/snapshots")
	}

	// Snapshots are ordered by creation time; walk latest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		data, err := l.ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrapOp(err, "ledger", fmt.Sprintf("%s/snapshot/%s", LedgerDataset, snap.ID))
		}
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if !ok || toString(record["artifact_id"]) != artifactID {
				continue
			}
			entry := entryFromRecord(record)
			return &entry, nil
		}
	}
	return nil, ErrNoLedgerEntry
}

// snapshotHasOutcome reports whether a snapshot holds files in the given
// outcome partition. Segments are matched exactly so "error" never matches
// "error_x".
func snapshotHasOutcome(snap *lode.DatasetSnapshot, outcome string) bool {
	segment := "outcome=" + outcome
	for _, f := range snap.Manifest.Files {
		for _, part := range strings.Split(f.Path, "/") {
			if part == segment {
				return true
			}
		}
	}
	return false
}

// CountOutcome counts entries recorded with outcome across all artifacts.
// Snapshots outside the outcome partition are skipped without reading.
func (l *Ledger) CountOutcome(ctx context.Context, outcome string) (int, error) {
	snapshots, err := l.ds.Snapshots(ctx)
	if err != nil {
		return 0, wrapOp(err, "ledger", LedgerDataset+"/snapshots")
	}

	count := 0
	for _, snap := range snapshots {
		if !snapshotHasOutcome(snap, outcome) {
			continue
		}
		data, err := l.ds.Read(ctx, snap.ID)
		if err != nil {
			return 0, wrapOp(err, "ledger", fmt.Sprintf("%s/snapshot/%s", LedgerDataset, snap.ID))
		}
		for _, item := range data {
			if record, ok := item.(map[string]any); ok && toString(record["outcome"]) == outcome {
				count++
			}
		}
	}
	return count, nil
}

func (e LedgerEntry) toRecord() map[string]any {
	at := e.FinalizedAt.UTC()
	record := map[string]any{
		"record_kind":    "finalize",
		"day":            at.Format("2006-01-02"),
		"outcome":        e.Outcome,
		"artifact_id":    e.ArtifactID,
		"units":          e.Units,
		"expected_bytes": e.Expected,
		"written_bytes":  e.Written,
		"finalized_at":   at.Format(time.RFC3339Nano),
	}
	if e.Fingerprint != "" {
		record["fingerprint"] = e.Fingerprint
	}
	if e.Error != "" {
		record["error"] = e.Error
	}
	return record
}

func entryFromRecord(record map[string]any) LedgerEntry {
	entry := LedgerEntry{
		ArtifactID:  toString(record["artifact_id"]),
		Outcome:     toString(record["outcome"]),
		Units:       int(toInt64(record["units"])),
		Expected:    toInt64(record["expected_bytes"]),
		Written:     toInt64(record["written_bytes"]),
		Fingerprint: toString(record["fingerprint"]),
		Error:       toString(record["error"]),
	}
	if ts, err := time.Parse(time.RFC3339Nano, toString(record["finalized_at"])); err == nil {
		entry.FinalizedAt = ts
	}
	return entry
}

// toString converts a value to string, returning empty string for nil/non-string.
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// toInt64 converts a decoded JSON number to int64.
func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	default:
		return 0
	}
}
