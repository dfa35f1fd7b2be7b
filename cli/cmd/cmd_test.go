package cmd

import (
	"flag"
	"strings"
	"testing"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tessera/cli/config"
	"github.com/pithecene-io/tessera/types"
)

func TestReadOnlyFlags_IncludesTUI(t *testing.T) {
	flags := ReadOnlyFlags()

	hasTUI := false
	for _, f := range flags {
		if f.Names()[0] == "tui" {
			hasTUI = true
			break
		}
	}

	if !hasTUI {
		t.Error("ReadOnlyFlags should include --tui flag for explicit error handling")
	}
}

func TestWithCommon_AppendsConfigAndLogLevel(t *testing.T) {
	flags := withCommon(FormatFlag)
	var names []string
	for _, f := range flags {
		names = append(names, f.Names()[0])
	}
	if got := strings.Join(names, ","); got != "format,config,log-level" {
		t.Errorf("flags = %s", got)
	}
}

func TestIsStderrTTY(_ *testing.T) {
	// Actual TTY behavior depends on runtime environment.
	_ = isStderrTTY()
}

// newTestCLIContext builds a context with string flags. flagValues are
// set explicitly; defaults only provide values.
func newTestCLIContext(t *testing.T, flagValues, defaults map[string]string) *cli.Context {
	t.Helper()
	app := cli.NewApp()

	allFlags := make(map[string]string)
	for k, v := range defaults {
		allFlags[k] = v
	}
	for k := range flagValues {
		if _, ok := allFlags[k]; !ok {
			allFlags[k] = ""
		}
	}

	var cliFlags []cli.Flag
	for name, val := range allFlags {
		cliFlags = append(cliFlags, &cli.StringFlag{Name: name, Value: val})
	}
	app.Flags = cliFlags

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	for name, val := range allFlags {
		fs.String(name, val, "")
	}
	for name, val := range flagValues {
		if err := fs.Set(name, val); err != nil {
			t.Fatalf("failed to set flag %s: %v", name, err)
		}
	}

	return cli.NewContext(app, fs, nil)
}

func TestResolveString_CLIWins(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"endpoint": "http://cli/upload"}, nil)
	if got := resolveString(c, "endpoint", "http://config/upload"); got != "http://cli/upload" {
		t.Errorf("expected CLI to win, got %q", got)
	}
}

func TestResolveString_ConfigFallback(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"endpoint": DefaultEndpoint})
	if got := resolveString(c, "endpoint", "http://config/upload"); got != "http://config/upload" {
		t.Errorf("expected config fallback, got %q", got)
	}
}

func TestResolveString_FlagDefault(t *testing.T) {
	c := newTestCLIContext(t, nil, map[string]string{"compression": "identity"})
	if got := resolveString(c, "compression", ""); got != "identity" {
		t.Errorf("expected flag default, got %q", got)
	}
}

func TestResolveByteSize(t *testing.T) {
	tests := []struct {
		name       string
		set        map[string]string
		fromConfig config.ByteSize
		want       config.ByteSize
	}{
		{"flag wins", map[string]string{"max-size": "2MiB"}, 64 << 10, 2 << 20},
		{"config fallback", nil, 64 << 10, 64 << 10},
		{"flag default", nil, 0, 50 << 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCLIContext(t, tt.set, map[string]string{"max-size": "50MiB"})
			got, err := resolveByteSize(c, "max-size", tt.fromConfig)
			if err != nil {
				t.Fatalf("resolveByteSize: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveByteSize_Invalid(t *testing.T) {
	c := newTestCLIContext(t, map[string]string{"max-size": "lots"}, nil)
	_, err := resolveByteSize(c, "max-size", 0)
	if err == nil || !strings.Contains(err.Error(), "--max-size") {
		t.Errorf("expected error naming the flag, got %v", err)
	}
}

func TestConfigVal_NilConfig(t *testing.T) {
	got := configVal(nil, func(c *config.Config) string { return c.LogLevel })
	if got != "" {
		t.Errorf("expected empty for nil config, got %q", got)
	}
}

func TestConfigVal_NonNil(t *testing.T) {
	cfg := &config.Config{LogLevel: "debug"}
	got := configVal(cfg, func(c *config.Config) string { return c.LogLevel })
	if got != "debug" {
		t.Errorf("expected debug, got %q", got)
	}
}

func TestResolveInt_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.IntFlag{Name: "parallelism"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("parallelism", 4, "")
	_ = fs.Set("parallelism", "8")
	c := cli.NewContext(app, fs, nil)

	if got := resolveInt(c, "parallelism", 2); got != 8 {
		t.Errorf("expected CLI to win with 8, got %d", got)
	}
}

func TestResolveInt_ConfigFallback(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.IntFlag{Name: "parallelism"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("parallelism", 4, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveInt(c, "parallelism", 2); got != 2 {
		t.Errorf("expected config fallback 2, got %d", got)
	}
}

func TestResolveIntPtr_ExplicitZero(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.IntFlag{Name: "max-retries"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("max-retries", 3, "")
	c := cli.NewContext(app, fs, nil)

	zero := 0
	if got := resolveIntPtr(c, "max-retries", &zero); got != 0 {
		t.Errorf("explicit config 0 should win over default, got %d", got)
	}
	if got := resolveIntPtr(c, "max-retries", nil); got != 3 {
		t.Errorf("nil config should use flag default 3, got %d", got)
	}
}

func TestResolveBoolPtr_ExplicitFalse(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.BoolFlag{Name: "retain-units"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("retain-units", true, "")
	c := cli.NewContext(app, fs, nil)

	no := false
	if resolveBoolPtr(c, "retain-units", &no) {
		t.Error("explicit config false should win over default true")
	}
	if !resolveBoolPtr(c, "retain-units", nil) {
		t.Error("nil config should use flag default true")
	}
}

func TestResolveBool_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.BoolFlag{Name: "storage-s3-path-style"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Bool("storage-s3-path-style", false, "")
	_ = fs.Set("storage-s3-path-style", "true")
	c := cli.NewContext(app, fs, nil)

	if !resolveBool(c, "storage-s3-path-style", false) {
		t.Error("expected CLI true to win")
	}
}

func TestResolveDuration_CLIWins(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "adapter-timeout"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("adapter-timeout", 0, "")
	_ = fs.Set("adapter-timeout", "30s")
	c := cli.NewContext(app, fs, nil)

	if got := resolveDuration(c, "adapter-timeout", 10*time.Second); got != 30*time.Second {
		t.Errorf("expected CLI 30s to win, got %v", got)
	}
}

func TestResolveDuration_ConfigFallback(t *testing.T) {
	app := cli.NewApp()
	app.Flags = []cli.Flag{&cli.DurationFlag{Name: "adapter-timeout"}}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Duration("adapter-timeout", 0, "")
	c := cli.NewContext(app, fs, nil)

	if got := resolveDuration(c, "adapter-timeout", 10*time.Second); got != 10*time.Second {
		t.Errorf("expected config fallback 10s, got %v", got)
	}
}

func TestParseHeaders(t *testing.T) {
	got, err := parseHeaders(
		map[string]string{"Authorization": "Bearer config", "X-Team": "infra"},
		[]string{"Authorization=Bearer cli", "X-Trace=a=b"},
	)
	if err != nil {
		t.Fatalf("parseHeaders: %v", err)
	}
	want := map[string]string{
		"Authorization": "Bearer cli",
		"X-Team":        "infra",
		"X-Trace":       "a=b",
	}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	for _, bad := range []string{"novalue", "=value"} {
		if _, err := parseHeaders(nil, []string{bad}); err == nil {
			t.Errorf("parseHeaders(%q) should fail", bad)
		}
	}
}

func TestSessionExitCode(t *testing.T) {
	tests := []struct {
		status types.SessionStatus
		want   int
	}{
		{types.SessionComplete, exitComplete},
		{types.SessionPartial, exitUnitsFailed},
		{types.SessionAborted, exitUnitsFailed},
		{types.SessionFinalizeFailed, exitIntegrity},
	}
	for _, tt := range tests {
		if got := sessionExitCode(tt.status); got != tt.want {
			t.Errorf("sessionExitCode(%s) = %d, want %d", tt.status, got, tt.want)
		}
	}
}

func TestStorageChoice_Validate(t *testing.T) {
	tests := []struct {
		name    string
		choice  storageChoice
		wantErr string
	}{
		{"fs with path", storageChoice{backend: "fs", path: "/tmp/x"}, ""},
		{"fs without path", storageChoice{backend: "fs"}, "--storage-path is required for the fs backend"},
		{"s3 without path", storageChoice{backend: "s3"}, "--storage-path is required for the s3 backend"},
		{"memory", storageChoice{backend: "memory"}, ""},
		{"unknown", storageChoice{backend: "tape"}, "must be fs, memory or s3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.choice.validate()
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
