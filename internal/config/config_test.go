package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	flag "github.com/spf13/pflag"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func envMap(m map[string]string) LookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoad_Precedence(t *testing.T) {
	resDir := t.TempDir()
	userDir := t.TempDir()

	writeConfig(t, resDir, `
[backend]
name = "erp-server"
port = 9000
args = ["--noreload"]

[readiness]
timeout = "10s"
`)
	writeConfig(t, userDir, `
[backend]
port = 9100

[shutdown]
grace = "2s"
`)

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse([]string{"--grace=750ms"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(Sources{
		ResourceDir: resDir,
		UserDir:     userDir,
		Lookup:      envMap(map[string]string{"PORT": "9200", "BACKENDSHELL_LOG_LEVEL": "debug"}),
		Flags:       fs,
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Backend.Name != "erp-server" {
		t.Errorf("bundle file not applied: name=%q", cfg.Backend.Name)
	}
	if len(cfg.Backend.Args) != 1 || cfg.Backend.Args[0] != "--noreload" {
		t.Errorf("bundle args not applied: %v", cfg.Backend.Args)
	}
	if cfg.Backend.Port != 9200 {
		t.Errorf("expected env PORT to win over files, got %d", cfg.Backend.Port)
	}
	if time.Duration(cfg.Readiness.Timeout) != 10*time.Second {
		t.Errorf("readiness.timeout: got %v", cfg.Readiness.Timeout)
	}
	if time.Duration(cfg.Shutdown.Grace) != 750*time.Millisecond {
		t.Errorf("expected flag to win for grace, got %v", cfg.Shutdown.Grace)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level env not applied: %q", cfg.Log.Level)
	}
	// Untouched values keep their defaults.
	if cfg.Backend.Host != "127.0.0.1" || cfg.Readiness.Probe != ProbeTCP {
		t.Errorf("defaults lost: host=%q probe=%q", cfg.Backend.Host, cfg.Readiness.Probe)
	}
}

func TestLoad_PrefixedEnvWins(t *testing.T) {
	cfg, err := Load(Sources{
		Lookup: envMap(map[string]string{"PORT": "9200", "BACKENDSHELL_PORT": "9300"}),
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.Port != 9300 {
		t.Fatalf("expected BACKENDSHELL_PORT to win, got %d", cfg.Backend.Port)
	}
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(Sources{File: filepath.Join(t.TempDir(), "nope.toml"), Lookup: envMap(nil)})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestLoadFile_UnknownKey(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[backend]
prot = 8000
`)

	cfg := Default()
	err := cfg.LoadFile(filepath.Join(dir, FileName))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	var sme *toml.StrictMissingError
	if !errors.As(err, &sme) {
		t.Fatalf("expected strict decoding error, got %v", err)
	}
	if !strings.Contains(err.Error(), "prot") {
		t.Fatalf("expected unknown key in message, got %q", err)
	}
}

func TestLoadFile_BadDuration(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[shutdown]
grace = "soon"
`)

	cfg := Default()
	if err := cfg.LoadFile(filepath.Join(dir, FileName)); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadFile_Missing(t *testing.T) {
	cfg := Default()
	if err := cfg.LoadFile(filepath.Join(t.TempDir(), FileName)); err != nil {
		t.Fatalf("missing file should be ignored: %v", err)
	}
}

func TestApplyEnv_BadValue(t *testing.T) {
	cfg := Default()
	err := cfg.ApplyEnv(envMap(map[string]string{"PORT": "eighty", "BACKENDSHELL_GRACE": "x"}))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "PORT") || !strings.Contains(err.Error(), "BACKENDSHELL_GRACE") {
		t.Fatalf("expected both variables reported, got %q", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port zero", func(c *Config) { c.Backend.Port = 0 }, "backend.port"},
		{"port too big", func(c *Config) { c.Backend.Port = 70000 }, "backend.port"},
		{"name with dirs", func(c *Config) { c.Backend.Name = "../server" }, "bare file name"},
		{"unknown probe", func(c *Config) { c.Readiness.Probe = "ping" }, "readiness.probe"},
		{"http path", func(c *Config) { c.Readiness.Probe = ProbeHTTP; c.Readiness.HTTPPath = "health" }, "http_path"},
		{"zero timeout", func(c *Config) { c.Readiness.Timeout = 0 }, "readiness.timeout"},
		{"on timeout", func(c *Config) { c.Readiness.OnTimeout = "retry" }, "on_timeout"},
		{"zero grace", func(c *Config) { c.Shutdown.Grace = 0 }, "shutdown.grace"},
		{"negative restarts", func(c *Config) { c.Restart.MaxAttempts = -1 }, "max_attempts"},
		{"log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestDuration_Conversion(t *testing.T) {
	cfg := Default()
	if got := cfg.Readiness.Timeout.Duration(); got != 30*time.Second {
		t.Fatalf("readiness timeout: got %v", got)
	}
	if got := cfg.Readiness.Interval.Duration(); got != 100*time.Millisecond {
		t.Fatalf("readiness interval: got %v", got)
	}
	if got := cfg.Shutdown.Grace.Duration(); got != 5*time.Second {
		t.Fatalf("shutdown grace: got %v", got)
	}
}

func TestEncode_RoundTripsThroughLoadFile(t *testing.T) {
	cfg := Default()
	cfg.Backend.Env = map[string]string{"DJANGO_SETTINGS_MODULE": "app.settings"}
	cfg.Shutdown.Grace = Duration(3 * time.Second)

	var buf bytes.Buffer
	if err := cfg.Encode(&buf); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(buf.String(), `grace = '3s'`) && !strings.Contains(buf.String(), `grace = "3s"`) {
		t.Fatalf("expected duration as string, got:\n%s", buf.String())
	}

	dir := t.TempDir()
	writeConfig(t, dir, buf.String())

	got := Default()
	if err := got.LoadFile(filepath.Join(dir, FileName)); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got.Shutdown.Grace != cfg.Shutdown.Grace || got.Backend.Env["DJANGO_SETTINGS_MODULE"] != "app.settings" {
		t.Fatalf("encoded config did not load back: %+v", got)
	}
}
