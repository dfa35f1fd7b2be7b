package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/tessera/digest"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/wire"
)

// sharedFactory returns a StoreFactory that always returns the given store.
// This lets tests reach behind the ChunkStore and tamper with objects.
func sharedFactory(st lode.Store) lode.StoreFactory {
	return func() (lode.Store, error) { return st, nil }
}

var fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T, opts Options) (*ChunkStore, lode.Store) {
	t.Helper()
	mem := lode.NewMemory()
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	cs, err := New(sharedFactory(mem), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return cs, mem
}

func putUnits(t *testing.T, cs *ChunkStore, artifactID string, units ...string) {
	t.Helper()
	for i, u := range units {
		_, err := cs.PutUnit(t.Context(), UnitWrite{ArtifactID: artifactID, Index: int64(i), Data: []byte(u)})
		if err != nil {
			t.Fatalf("PutUnit(%d) failed: %v", i, err)
		}
	}
}

func readContent(t *testing.T, cs *ChunkStore, artifactID string) []byte {
	t.Helper()
	rc, _, err := cs.Open(t.Context(), artifactID)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	return data
}

func TestPutUnit_WritesRecord(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})

	rec, err := cs.PutUnit(t.Context(), UnitWrite{
		ArtifactID: "report.pdf",
		Index:      2,
		Data:       []byte("hello"),
		Encoding:   wire.EncodingZstd,
		SessionID:  "sess-1",
	})
	if err != nil {
		t.Fatalf("PutUnit failed: %v", err)
	}

	if rec.Size != 5 || rec.Index != 2 || rec.ArtifactID != "report.pdf" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Fingerprint != digest.Unit([]byte("hello")).String() {
		t.Errorf("Fingerprint = %q", rec.Fingerprint)
	}
	if !rec.ArrivedAt.Equal(fixedNow) {
		t.Errorf("ArrivedAt = %v, want %v", rec.ArrivedAt, fixedNow)
	}

	units, err := cs.ListUnits(t.Context(), "report.pdf")
	if err != nil {
		t.Fatalf("ListUnits failed: %v", err)
	}
	if len(units) != 1 || units[0].Encoding != wire.EncodingZstd || units[0].SessionID != "sess-1" {
		t.Errorf("units = %+v", units)
	}
}

func TestPutUnit_Validation(t *testing.T) {
	cs, _ := newTestStore(t, Options{})

	tests := []struct {
		name    string
		write   UnitWrite
		wantErr error
	}{
		{"missing artifact", UnitWrite{Index: 0, Data: []byte("x")}, ErrMissingArtifactID},
		{"separator", UnitWrite{ArtifactID: "a/b", Data: []byte("x")}, ErrInvalidArtifactID},
		{"dot dot", UnitWrite{ArtifactID: "..", Data: []byte("x")}, ErrInvalidArtifactID},
		{"negative index", UnitWrite{ArtifactID: "a", Index: -1, Data: []byte("x")}, ErrMissingIndex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := cs.PutUnit(t.Context(), tt.write)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFinalize_AssemblesInIndexOrder(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})

	// Arrival order differs from index order.
	for _, idx := range []int64{2, 0, 1} {
		data := []byte(fmt.Sprintf("part-%d|", idx))
		if _, err := cs.PutUnit(t.Context(), UnitWrite{ArtifactID: "a.bin", Index: idx, Data: data}); err != nil {
			t.Fatalf("PutUnit(%d) failed: %v", idx, err)
		}
	}

	res, err := cs.Finalize(t.Context(), "a.bin")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	want := "part-0|part-1|part-2|"
	if res.Units != 3 || res.Bytes != int64(len(want)) {
		t.Errorf("result = %+v", res)
	}
	if res.Fingerprint != digest.Sum(digest.DomainArtifact, []byte(want)).String() {
		t.Errorf("Fingerprint = %q", res.Fingerprint)
	}
	if got := readContent(t, cs, "a.bin"); string(got) != want {
		t.Errorf("content = %q, want %q", got, want)
	}
}

func TestFinalize_NoUnits(t *testing.T) {
	cs, _ := newTestStore(t, Options{})

	_, err := cs.Finalize(t.Context(), "nothing.bin")
	if !errors.Is(err, ErrNoUnits) {
		t.Fatalf("err = %v, want ErrNoUnits", err)
	}
	if _, _, err := cs.Open(t.Context(), "nothing.bin"); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Open err = %v, want ErrNotFinalized", err)
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})
	putUnits(t, cs, "x", "alpha", "beta", "gamma")

	first, err := cs.Finalize(t.Context(), "x")
	if err != nil {
		t.Fatalf("first Finalize failed: %v", err)
	}
	second, err := cs.Finalize(t.Context(), "x")
	if err != nil {
		t.Fatalf("second Finalize failed: %v", err)
	}
	if first.Fingerprint != second.Fingerprint || first.Bytes != second.Bytes {
		t.Errorf("re-finalize differs: %+v vs %+v", first, second)
	}
	if got := readContent(t, cs, "x"); string(got) != "alphabetagamma" {
		t.Errorf("content = %q", got)
	}
}

func TestPutUnit_OverwriteIsLastWriteWins(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})
	putUnits(t, cs, "x", "aaaa", "bbbb")

	if _, err := cs.PutUnit(t.Context(), UnitWrite{ArtifactID: "x", Index: 1, Data: []byte("BB")}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	units, err := cs.ListUnits(t.Context(), "x")
	if err != nil {
		t.Fatalf("ListUnits failed: %v", err)
	}
	if len(units) != 2 || units[1].Size != 2 {
		t.Fatalf("units after overwrite = %+v", units)
	}

	res, err := cs.Finalize(t.Context(), "x")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if res.Bytes != 6 {
		t.Errorf("Bytes = %d, want 6", res.Bytes)
	}
	if got := readContent(t, cs, "x"); string(got) != "aaaaBB" {
		t.Errorf("content = %q, want %q", got, "aaaaBB")
	}
}

func TestFinalize_SizeMismatchOnCorruptedPart(t *testing.T) {
	collector := metrics.NewCollector("server", "memory", "")
	cs, mem := newTestStore(t, Options{RetainUnits: true, Metrics: collector})
	putUnits(t, cs, "big.bin", "0000000000", "1111111111", "2222222222")

	// Truncate the middle part behind the store's back.
	ctx := t.Context()
	p := unitDataPath("big.bin", 1)
	if err := mem.Delete(ctx, p); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := mem.Put(ctx, p, bytes.NewReader([]byte("11111"))); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	_, err := cs.Finalize(ctx, "big.bin")
	if !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("err = %v, want ErrSizeMismatch", err)
	}
	var mismatch *SizeMismatchError
	if !errors.As(err, &mismatch) || mismatch.Expected != 30 || mismatch.Written != 25 {
		t.Errorf("mismatch = %+v, want expected 30 written 25", mismatch)
	}

	if ok, _ := mem.Exists(ctx, assembledPath("big.bin")); ok {
		t.Error("rejected assembled object must be deleted")
	}
	if ok, _ := mem.Exists(ctx, completePath("big.bin")); ok {
		t.Error("no completion marker may exist after a size mismatch")
	}
	if _, _, err := cs.Open(ctx, "big.bin"); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Open err = %v, want ErrNotFinalized", err)
	}

	s := collector.Snapshot()
	if s.FinalizeSizeMismatch != 1 || s.FinalizeSuccess != 0 {
		t.Errorf("finalize metrics = %+v", s)
	}
}

func TestFinalize_MissingPartBytesIsSizeMismatch(t *testing.T) {
	cs, mem := newTestStore(t, Options{RetainUnits: true})
	putUnits(t, cs, "m", "abc", "def")

	if err := mem.Delete(t.Context(), unitDataPath("m", 0)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	_, err := cs.Finalize(t.Context(), "m")
	var mismatch *SizeMismatchError
	if !errors.As(err, &mismatch) || mismatch.Written != 3 {
		t.Fatalf("err = %v, want size mismatch with 3 written", err)
	}
}

func TestFinalize_FailedRefinalizeRevokesCompletion(t *testing.T) {
	cs, mem := newTestStore(t, Options{RetainUnits: true})
	putUnits(t, cs, "r", "abc", "def")

	if _, err := cs.Finalize(t.Context(), "r"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if err := mem.Delete(t.Context(), unitDataPath("r", 1)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := cs.Finalize(t.Context(), "r"); !errors.Is(err, ErrSizeMismatch) {
		t.Fatalf("err = %v, want ErrSizeMismatch", err)
	}
	if _, _, err := cs.Open(t.Context(), "r"); !errors.Is(err, ErrNotFinalized) {
		t.Errorf("Open err = %v, want ErrNotFinalized", err)
	}
}

func TestFinalize_ReportsGaps(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})
	for _, idx := range []int64{0, 3} {
		if _, err := cs.PutUnit(t.Context(), UnitWrite{ArtifactID: "g", Index: idx, Data: []byte("z")}); err != nil {
			t.Fatalf("PutUnit failed: %v", err)
		}
	}

	res, err := cs.Finalize(t.Context(), "g")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if len(res.Gaps) != 2 || res.Gaps[0] != 1 || res.Gaps[1] != 2 {
		t.Errorf("Gaps = %v, want [1 2]", res.Gaps)
	}
}

func TestFinalize_DropsUnitsWhenNotRetained(t *testing.T) {
	cs, mem := newTestStore(t, Options{RetainUnits: false})
	putUnits(t, cs, "d", "one", "two")

	if _, err := cs.Finalize(t.Context(), "d"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	for i := range int64(2) {
		if ok, _ := mem.Exists(t.Context(), unitDataPath("d", i)); ok {
			t.Errorf("unit %d bytes should be deleted", i)
		}
		if ok, _ := mem.Exists(t.Context(), unitRecordPath("d", i)); ok {
			t.Errorf("unit %d record should be deleted", i)
		}
	}
	if got := readContent(t, cs, "d"); string(got) != "onetwo" {
		t.Errorf("content = %q", got)
	}
}

func TestStatus(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})

	if _, err := cs.Status(t.Context(), "s"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown artifact err = %v, want ErrNotFound", err)
	}

	putUnits(t, cs, "s", "1234", "56")
	st, err := cs.Status(t.Context(), "s")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.Complete || len(st.Units) != 2 || st.Bytes != 6 {
		t.Errorf("status before finalize = %+v", st)
	}

	if _, err := cs.Finalize(t.Context(), "s"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	st, err = cs.Status(t.Context(), "s")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Complete || st.Finalize == nil || st.Finalize.Bytes != 6 {
		t.Errorf("status after finalize = %+v", st)
	}
}

func TestChunkStore_ConcurrentPutsAndFinalize(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})

	const units = 32
	var wg sync.WaitGroup
	for i := range units {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data := bytes.Repeat([]byte{byte('a' + i%26)}, 100)
			if _, err := cs.PutUnit(context.Background(), UnitWrite{ArtifactID: "c", Index: int64(i), Data: data}); err != nil {
				t.Errorf("PutUnit(%d) failed: %v", i, err)
			}
		}()
	}
	wg.Wait()

	res, err := cs.Finalize(t.Context(), "c")
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if res.Units != units || res.Bytes != units*100 {
		t.Errorf("result = %+v", res)
	}
}

func TestFinalize_AppendsLedger(t *testing.T) {
	mem := lode.NewMemory()
	ledger, err := NewLedger(sharedFactory(mem))
	if err != nil {
		t.Fatalf("NewLedger failed: %v", err)
	}
	cs, err := New(sharedFactory(mem), Options{
		RetainUnits: true,
		Ledger:      ledger,
		Now:         func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := cs.Finalize(t.Context(), "l"); !errors.Is(err, ErrNoUnits) {
		t.Fatalf("err = %v, want ErrNoUnits", err)
	}
	putUnits(t, cs, "l", "ledger")
	if _, err := cs.Finalize(t.Context(), "l"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	history, err := ledger.History(t.Context(), "l")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history = %+v, want 2 entries", history)
	}
	if history[0].Outcome != OutcomeNoUnits || history[1].Outcome != OutcomeComplete {
		t.Errorf("outcomes = %q, %q", history[0].Outcome, history[1].Outcome)
	}

	latest, err := ledger.Latest(t.Context(), "l")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.Outcome != OutcomeComplete || latest.Written != 6 || latest.Units != 1 {
		t.Errorf("latest = %+v", latest)
	}
	if !latest.FinalizedAt.Equal(fixedNow) {
		t.Errorf("FinalizedAt = %v, want %v", latest.FinalizedAt, fixedNow)
	}
}

func TestListArtifacts(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})

	ids, err := cs.ListArtifacts(t.Context())
	if err != nil {
		t.Fatalf("ListArtifacts on empty store failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want none", ids)
	}

	putUnits(t, cs, "zeta.bin", "z")
	putUnits(t, cs, "alpha.bin", "a", "b")
	if _, err := cs.Finalize(t.Context(), "alpha.bin"); err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}

	ids, err = cs.ListArtifacts(t.Context())
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	want := []string{"alpha.bin", "zeta.bin"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestParseArtifactPath(t *testing.T) {
	tests := []struct {
		path string
		id   string
		ok   bool
	}{
		{"artifacts/a.bin/units/00000000000000000000.rec", "a.bin", true},
		{"artifacts/a.bin/complete.rec", "a.bin", true},
		{"artifacts/a.bin", "", false},
		{"datasets/tessera-finalize/x", "", false},
		{"artifacts//assembled", "", false},
	}
	for _, tt := range tests {
		id, ok := parseArtifactPath(tt.path)
		if id != tt.id || ok != tt.ok {
			t.Errorf("parseArtifactPath(%q) = (%q, %v), want (%q, %v)", tt.path, id, ok, tt.id, tt.ok)
		}
	}
}

func TestChunkStore_LocksReleased(t *testing.T) {
	cs, _ := newTestStore(t, Options{RetainUnits: true})

	for i := range 50 {
		id := fmt.Sprintf("artifact-%d", i)
		putUnits(t, cs, id, "ab", "cd")
		if _, err := cs.Finalize(t.Context(), id); err != nil {
			t.Fatalf("Finalize(%s) failed: %v", id, err)
		}
		if _, err := cs.Status(t.Context(), id); err != nil {
			t.Fatalf("Status(%s) failed: %v", id, err)
		}
	}
	if _, err := cs.Finalize(t.Context(), "never-uploaded"); !errors.Is(err, ErrNoUnits) {
		t.Fatalf("Finalize of unknown artifact: err = %v, want ErrNoUnits", err)
	}

	cs.mu.Lock()
	n := len(cs.locks)
	cs.mu.Unlock()
	if n != 0 {
		t.Errorf("%d artifact locks retained after all operations returned, want 0", n)
	}
}
