package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/pithecene-io/tessera/store"
)

// StoreReader reads artifacts from a ChunkStore and finalize outcomes from
// a Ledger. A nil ledger yields empty history and zero stats.
type StoreReader struct {
	store  *store.ChunkStore
	ledger *store.Ledger
}

// NewStoreReader creates a StoreReader.
func NewStoreReader(st *store.ChunkStore, ledger *store.Ledger) *StoreReader {
	return &StoreReader{store: st, ledger: ledger}
}

// InspectArtifact returns the stored units, completion state and finalize
// history of artifactID. An artifact known only to the ledger (for example
// a finalize with no units) is reported with an empty unit list.
func (r *StoreReader) InspectArtifact(ctx context.Context, artifactID string) (*InspectArtifactResponse, error) {
	status, err := r.store.Status(ctx, artifactID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	history, err := r.history(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if status == nil && len(history) == 0 {
		return nil, fmt.Errorf("%w: %s", store.ErrNotFound, artifactID)
	}

	resp := &InspectArtifactResponse{
		ArtifactID: artifactID,
		Gaps:       []int64{},
		Units:      []UnitItem{},
		History:    history,
	}
	if status != nil {
		resp.UnitCount = len(status.Units)
		resp.StoredBytes = status.Bytes
		resp.Gaps = missingIndices(status.Units)
		for _, rec := range status.Units {
			resp.Units = append(resp.Units, UnitItem{
				Index:       rec.Index,
				Size:        rec.Size,
				Encoding:    string(rec.Encoding),
				Fingerprint: rec.Fingerprint,
				SessionID:   rec.SessionID,
				ArrivedAt:   rec.ArrivedAt,
			})
		}
		if status.Finalize != nil {
			resp.Fingerprint = status.Finalize.Fingerprint
			at := status.Finalize.FinalizedAt
			resp.FinalizedAt = &at
		}
	}
	resp.State = deriveState(status, history)
	return resp, nil
}

// ListArtifacts returns every stored artifact with its summary state.
// Ledger history is not consulted.
func (r *StoreReader) ListArtifacts(ctx context.Context) ([]ListArtifactItem, error) {
	ids, err := r.store.ListArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]ListArtifactItem, 0, len(ids))
	for _, id := range ids {
		status, err := r.store.Status(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("artifact %s: %w", id, err)
		}
		items = append(items, ListArtifactItem{
			ArtifactID: id,
			State:      deriveState(status, nil),
			Units:      len(status.Units),
			Bytes:      status.Bytes,
		})
	}
	return items, nil
}

// StatsFinalize counts ledger entries per outcome.
func (r *StoreReader) StatsFinalize(ctx context.Context) (*FinalizeStats, error) {
	stats := &FinalizeStats{}
	if r.ledger == nil {
		return stats, nil
	}
	counts := []struct {
		outcome string
		dst     *int
	}{
		{store.OutcomeComplete, &stats.Complete},
		{store.OutcomeSizeMismatch, &stats.SizeMismatch},
		{store.OutcomeNoUnits, &stats.NoUnits},
		{store.OutcomeError, &stats.Error},
	}
	for _, c := range counts {
		n, err := r.ledger.CountOutcome(ctx, c.outcome)
		if err != nil {
			return nil, err
		}
		*c.dst = n
		stats.Total += n
	}
	return stats, nil
}

func (r *StoreReader) history(ctx context.Context, artifactID string) ([]store.LedgerEntry, error) {
	if r.ledger == nil {
		return []store.LedgerEntry{}, nil
	}
	entries, err := r.ledger.History(ctx, artifactID)
	if errors.Is(err, store.ErrNoLedgerEntry) {
		return []store.LedgerEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []store.LedgerEntry{}
	}
	return entries, nil
}

// deriveState prefers the completion marker, then the latest finalize
// outcome, then pending.
func deriveState(status *store.ArtifactStatus, history []store.LedgerEntry) string {
	if status != nil && status.Complete {
		return StateComplete
	}
	if n := len(history); n > 0 {
		switch history[n-1].Outcome {
		case store.OutcomeSizeMismatch:
			return StateSizeMismatch
		case store.OutcomeNoUnits:
			if status == nil {
				return StateNoUnits
			}
		case store.OutcomeError:
			return StateError
		}
	}
	return StatePending
}

// missingIndices lists indices below the highest stored one that have no
// unit. records are sorted by index.
func missingIndices(records []*store.UnitRecord) []int64 {
	missing := []int64{}
	var next int64
	for _, rec := range records {
		for ; next < rec.Index; next++ {
			missing = append(missing, next)
		}
		next = rec.Index + 1
	}
	return missing
}
