package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/adapter/webhook"
	"github.com/pithecene-io/tessera/cli/reader"
	"github.com/pithecene-io/tessera/metrics"
	"github.com/pithecene-io/tessera/server"
	"github.com/pithecene-io/tessera/store"
	"github.com/pithecene-io/tessera/types"
)

// newTestApp creates an app with every command and ExitErrHandler
// suppressed so errors are returned instead of calling os.Exit.
func newTestApp(out *bytes.Buffer) *cli.App {
	app := cli.NewApp()
	app.Name = "tessera"
	app.Writer = out
	app.ErrWriter = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []*cli.Command{
		ChunkCommand(),
		UploadCommand(),
		InspectCommand(),
		ListCommand(),
		StatsCommand(),
		VersionCommand("abc123"),
	}
	return app
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var coder cli.ExitCoder
	if !errors.As(err, &coder) {
		t.Fatalf("expected cli.ExitCoder, got %v", err)
	}
	return coder.ExitCode()
}

func writeSource(t *testing.T, dir, name string, n int) string {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = "tessera mosaic "[i%15] ^ byte(i/997)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

// newFSServer runs a handler over an fs store rooted at dir.
func newFSServer(t *testing.T, dir string) (*httptest.Server, *metrics.Collector) {
	t.Helper()
	collector := metrics.NewCollector("server", "fs", "")
	st, ledger, err := openStorage(context.Background(), storageChoice{backend: "fs", path: dir}, store.Options{
		RetainUnits: true,
		Metrics:     collector,
	})
	if err != nil {
		t.Fatalf("openStorage: %v", err)
	}
	h := server.NewHandler(st, server.Options{Ledger: ledger, Metrics: collector})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		srv.Close()
		_ = h.Close()
	})
	return srv, collector
}

func TestChunkCommand_PlanCoversFile(t *testing.T) {
	path := writeSource(t, t.TempDir(), "plan.bin", 4096)

	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"tessera", "chunk", "--format", "json", "--window", "256", path})
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}

	var plan ChunkPlanResponse
	if err := json.Unmarshal(out.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v\n%s", err, out.String())
	}
	if plan.File != "plan.bin" || plan.Size != 4096 || plan.Corpus != "self" || plan.WindowSize != 256 {
		t.Errorf("plan header = %+v", plan)
	}
	if len(plan.Chunks) == 0 {
		t.Fatal("plan has no chunks")
	}
	next := 0
	for i, ch := range plan.Chunks {
		if ch.Index != i || ch.Start != next || ch.Size != ch.End-ch.Start || ch.Fingerprint == "" {
			t.Fatalf("chunk %d = %+v, want start %d", i, ch, next)
		}
		next = ch.End
	}
	if next != 4096 {
		t.Errorf("chunks end at %d, want 4096", next)
	}
}

func TestChunkCommand_Errors(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "x.bin", 128)

	tests := []struct {
		name string
		args []string
	}{
		{"missing file argument", []string{"chunk"}},
		{"tui unsupported", []string{"chunk", "--tui", path}},
		{"bad threshold", []string{"chunk", "--threshold", "1.5", path}},
		{"bad window", []string{"chunk", "--window", "wide", path}},
		{"missing corpus", []string{"chunk", "--corpus", filepath.Join(dir, "nope"), path}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := newTestApp(&out).Run(append([]string{"tessera"}, tt.args...))
			if got := exitCode(t, err); got != exitConfigError {
				t.Errorf("exit code = %d, want %d (err %v)", got, exitConfigError, err)
			}
		})
	}
}

func TestUploadCommand_EndToEnd(t *testing.T) {
	storeDir := t.TempDir()
	srv, collector := newFSServer(t, storeDir)
	path := writeSource(t, t.TempDir(), "payload.bin", 40_000)

	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"tessera", "upload",
		"--format", "json",
		"--log-level", "error",
		"--endpoint", srv.URL + "/upload",
		"--min-size", "1KiB",
		"--max-size", "16KiB",
		"--initial-size", "4KiB",
		"--compression", "zstd",
		"--header", "X-Upload-Team=infra",
		"--window", "512",
		path,
	})
	if got := exitCode(t, err); got != exitComplete {
		t.Fatalf("exit code = %d (err %v)\n%s", got, err, out.String())
	}

	var result types.SessionResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out.String())
	}
	if result.Status != types.SessionComplete || result.ArtifactID != "payload.bin" {
		t.Fatalf("result = %+v", result)
	}
	if result.TotalBytes != 40_000 || !result.Finalize.OK || result.Finalize.Bytes != 40_000 {
		t.Errorf("result totals = %+v", result)
	}
	if result.Units < 3 {
		t.Errorf("units = %d, want the file split into several units", result.Units)
	}
	if got := collector.Snapshot().UnitsReceived; got != int64(result.Units) {
		t.Errorf("server received %d units, want %d", got, result.Units)
	}

	// Units follow the same content-defined plan the chunk command prints.
	var planOut bytes.Buffer
	if err := newTestApp(&planOut).Run([]string{"tessera", "chunk", "--format", "json", "--window", "512", path}); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	var plan ChunkPlanResponse
	if err := json.Unmarshal(planOut.Bytes(), &plan); err != nil {
		t.Fatalf("decode plan: %v\n%s", err, planOut.String())
	}
	if len(result.Chunks) != len(plan.Chunks) {
		t.Fatalf("session used %d chunks, plan has %d", len(result.Chunks), len(plan.Chunks))
	}
	for i, ch := range result.Chunks {
		want := plan.Chunks[i]
		if ch.Start != int64(want.Start) || ch.End != int64(want.End) || ch.Fingerprint != want.Fingerprint {
			t.Errorf("chunk %d = %+v, plan %+v", i, ch, want)
		}
	}
	for _, u := range result.UnitResults {
		ch := result.Chunks[u.Chunk]
		if u.Offset < ch.Start || u.Offset+int64(u.Size) > ch.End {
			t.Errorf("unit %d [%d, +%d) crosses chunk %d [%d, %d)", u.Index, u.Offset, u.Size, u.Chunk, ch.Start, ch.End)
		}
	}

	// Read-only commands see the same storage.
	storageArgs := []string{"--format", "json", "--storage-path", storeDir}

	out.Reset()
	err = newTestApp(&out).Run(append(append([]string{"tessera", "inspect"}, storageArgs...), "payload.bin"))
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var inspect reader.InspectArtifactResponse
	if err := json.Unmarshal(out.Bytes(), &inspect); err != nil {
		t.Fatalf("decode inspect: %v\n%s", err, out.String())
	}
	if inspect.State != reader.StateComplete || inspect.UnitCount != result.Units || inspect.StoredBytes != 40_000 {
		t.Errorf("inspect = %+v", inspect)
	}
	if len(inspect.Gaps) != 0 {
		t.Errorf("gaps = %v, want none", inspect.Gaps)
	}

	out.Reset()
	if err := newTestApp(&out).Run(append([]string{"tessera", "list"}, storageArgs...)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var items []reader.ListArtifactItem
	if err := json.Unmarshal(out.Bytes(), &items); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out.String())
	}
	if len(items) != 1 || items[0].ArtifactID != "payload.bin" || items[0].State != reader.StateComplete {
		t.Errorf("list = %+v", items)
	}

	out.Reset()
	if err := newTestApp(&out).Run(append([]string{"tessera", "stats", "finalize"}, storageArgs...)); err != nil {
		t.Fatalf("stats finalize: %v", err)
	}
	var stats reader.FinalizeStats
	if err := json.Unmarshal(out.Bytes(), &stats); err != nil {
		t.Fatalf("decode stats: %v\n%s", err, out.String())
	}
	if stats.Total != 1 || stats.Complete != 1 {
		t.Errorf("stats = %+v", stats)
	}

	out.Reset()
	if err := newTestApp(&out).Run([]string{"tessera", "stats", "metrics", "--format", "json", "--server", srv.URL}); err != nil {
		t.Fatalf("stats metrics: %v", err)
	}
	var snap metrics.Snapshot
	if err := json.Unmarshal(out.Bytes(), &snap); err != nil {
		t.Fatalf("decode metrics: %v\n%s", err, out.String())
	}
	if snap.Role != "server" || snap.FinalizeSuccess != 1 {
		t.Errorf("metrics = %+v", snap)
	}
}

func TestUploadCommand_UnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL + "/upload"
	srv.Close()

	path := writeSource(t, t.TempDir(), "lost.bin", 2048)
	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"tessera", "upload",
		"--format", "json",
		"--log-level", "error",
		"--endpoint", endpoint,
		"--min-size", "1KiB",
		"--max-size", "1KiB",
		"--max-retries", "0",
		path,
	})
	if got := exitCode(t, err); got != exitUnitsFailed {
		t.Fatalf("exit code = %d, want %d (err %v)", got, exitUnitsFailed, err)
	}

	var result types.SessionResult
	if err := json.Unmarshal(out.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v\n%s", err, out.String())
	}
	if result.Status != types.SessionPartial || len(result.FailedUnits) != 2 || result.Finalize.Attempted {
		t.Errorf("result = %+v", result)
	}
}

func TestUploadCommand_ConfigErrors(t *testing.T) {
	path := writeSource(t, t.TempDir(), "x.bin", 64)

	tests := []struct {
		name string
		args []string
	}{
		{"missing file", []string{"upload"}},
		{"min above max", []string{"upload", "--min-size", "2MiB", "--max-size", "1MiB", path}},
		{"max above unit limit", []string{"upload", "--max-size", "65MiB", path}},
		{"bad window", []string{"upload", "--window", "0", path}},
		{"bad threshold", []string{"upload", "--threshold", "2", path}},
		{"bad compression", []string{"upload", "--compression", "gzip", path}},
		{"bad header", []string{"upload", "--header", "nope", path}},
		{"zero parallelism", []string{"upload", "--parallelism", "0", path}},
		{"bad endpoint", []string{"upload", "--endpoint", "::", path}},
		{"missing source", []string{"upload", filepath.Join(t.TempDir(), "absent.bin")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := newTestApp(&out).Run(append([]string{"tessera"}, tt.args...))
			if got := exitCode(t, err); got != exitConfigError {
				t.Errorf("exit code = %d, want %d (err %v)", got, exitConfigError, err)
			}
		})
	}
}

func TestInspectCommand_NotFound(t *testing.T) {
	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"tessera", "inspect", "--storage-path", t.TempDir(), "ghost.bin"})
	if err == nil || !strings.Contains(err.Error(), `"ghost.bin" not found`) {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestListCommand_RejectsTUI(t *testing.T) {
	var out bytes.Buffer
	err := newTestApp(&out).Run([]string{"tessera", "list", "--tui", "--storage-path", t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "--tui is not supported") {
		t.Errorf("expected TUI rejection, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	if err := newTestApp(&out).Run([]string{"tessera", "version", "--format", "json"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	var resp VersionResponse
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != types.Version || resp.Protocol != types.ProtocolVersion || resp.Commit != "abc123" {
		t.Errorf("version = %+v", resp)
	}
}

// runServeFlags parses args against the serve flags and hands the context to fn.
func runServeFlags(t *testing.T, args []string, fn func(c *cli.Context) error) error {
	t.Helper()
	app := cli.NewApp()
	app.Writer = &bytes.Buffer{}
	app.ExitErrHandler = func(*cli.Context, error) {}
	app.Commands = []*cli.Command{{
		Name:   "serve",
		Flags:  ServeCommand().Flags,
		Action: fn,
	}}
	return app.Run(append([]string{"tessera", "serve"}, args...))
}

func TestBuildServer_MemoryBackend(t *testing.T) {
	err := runServeFlags(t, []string{"--storage-backend", "memory", "--listen", "127.0.0.1:0", "--retain-units=false"}, func(c *cli.Context) error {
		built, err := buildServer(c.Context, c, nil, nil)
		if err != nil {
			return err
		}
		if built.store == nil || built.ledger == nil || built.handler == nil {
			t.Fatal("buildServer left components unset")
		}
		if got := built.metrics.Snapshot().StorageBackend; got != "memory" {
			t.Errorf("storage backend dimension = %q", got)
		}

		if err := built.server.Start(); err != nil {
			return err
		}
		resp, err := http.Get("http://" + built.server.Addr() + "/healthz")
		if err != nil {
			return err
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("healthz status = %d", resp.StatusCode)
		}
		return built.server.Shutdown(context.Background())
	})
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestBuildServer_StorageRequired(t *testing.T) {
	err := runServeFlags(t, nil, func(c *cli.Context) error {
		_, err := buildServer(c.Context, c, nil, nil)
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "--storage-path is required") {
		t.Errorf("expected storage path error, got %v", err)
	}
}

func TestBuildAdapter(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		check   func(t *testing.T, a any)
	}{
		{
			name: "none",
			check: func(t *testing.T, a any) {
				if a != nil {
					t.Errorf("adapter = %T, want nil", a)
				}
			},
		},
		{
			name: "webhook",
			args: []string{"--adapter", "webhook", "--adapter-url", "http://hooks.local/finalized", "--adapter-header", "X-Key=k"},
			check: func(t *testing.T, a any) {
				if _, ok := a.(*webhook.Adapter); !ok {
					t.Errorf("adapter = %T, want *webhook.Adapter", a)
				}
			},
		},
		{name: "webhook without url", args: []string{"--adapter", "webhook"}, wantErr: "--adapter-url is required"},
		{name: "redis without url", args: []string{"--adapter", "redis"}, wantErr: "--adapter-url is required"},
		{name: "redis bad url", args: []string{"--adapter", "redis", "--adapter-url", "ftp://x"}, wantErr: "invalid URL"},
		{name: "unknown", args: []string{"--adapter", "carrier-pigeon"}, wantErr: "must be webhook or redis"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runServeFlags(t, tt.args, func(c *cli.Context) error {
				a, err := buildAdapter(c, nil)
				if err != nil {
					return err
				}
				if a != nil {
					defer func() { _ = a.Close() }()
					tt.check(t, a)
				} else {
					tt.check(t, nil)
				}
				return nil
			})
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
