// Package config holds the shell's settings and how they are assembled.
//
// Sources are applied in order, later ones winning: built-in defaults, the
// bundle's shell.toml, the user's shell.toml, environment variables, and
// finally command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName is the config file looked up in the resource and user config dirs.
const FileName = "shell.toml"

// ProbeKind selects how backend readiness is checked.
type ProbeKind string

const (
	ProbeTCP  ProbeKind = "tcp"
	ProbeHTTP ProbeKind = "http"
	ProbeFile ProbeKind = "file"
	ProbeNone ProbeKind = "none"
)

// Timeout policies for a backend that does not become ready in time.
const (
	OnTimeoutAbort   = "abort"
	OnTimeoutDegrade = "degrade"
)

// Config is the complete shell configuration.
type Config struct {
	Backend   Backend   `toml:"backend"`
	Readiness Readiness `toml:"readiness"`
	Shutdown  Shutdown  `toml:"shutdown"`
	Restart   Restart   `toml:"restart"`
	Log       Log       `toml:"log"`
}

// Backend describes the bundled executable and what it is started with.
type Backend struct {
	// Name is the executable base name under <resource_root>/bin.
	Name    string            `toml:"name"`
	Args    []string          `toml:"args"`
	Host    string            `toml:"host"`
	Port    int               `toml:"port"`
	DataDir string            `toml:"data_dir"`
	Env     map[string]string `toml:"env"`
}

// Readiness configures AwaitReady.
type Readiness struct {
	Probe     ProbeKind `toml:"probe"`
	Timeout   Duration  `toml:"timeout"`
	Interval  Duration  `toml:"interval"`
	HTTPPath  string    `toml:"http_path"`
	File      string    `toml:"file"`
	OnTimeout string    `toml:"on_timeout"`
}

type Shutdown struct {
	Grace Duration `toml:"grace"`
}

type Restart struct {
	// MaxAttempts is how many restarts are offered per shell session.
	MaxAttempts int `toml:"max_attempts"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns the built-in configuration. It matches a bundled server
// listening on 127.0.0.1:8000.
func Default() Config {
	return Config{
		Backend: Backend{
			Name: "server",
			Host: "127.0.0.1",
			Port: 8000,
		},
		Readiness: Readiness{
			Probe:     ProbeTCP,
			Timeout:   Duration(30 * time.Second),
			Interval:  Duration(100 * time.Millisecond),
			HTTPPath:  "/",
			OnTimeout: OnTimeoutAbort,
		},
		Shutdown: Shutdown{Grace: Duration(5 * time.Second)},
		Restart:  Restart{MaxAttempts: 3},
		Log:      Log{Level: "info", Format: "auto"},
	}
}

// ParseError reports a malformed config file.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	var sme *toml.StrictMissingError
	if errors.As(e.Err, &sme) {
		return fmt.Sprintf("config %s: %s", e.Path, strings.TrimSpace(sme.String()))
	}
	var de *toml.DecodeError
	if errors.As(e.Err, &de) {
		row, col := de.Position()
		return fmt.Sprintf("config %s:%d:%d: %v", e.Path, row, col, de)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// LoadFile merges the TOML file at path into c. A missing file is not an
// error. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	defer f.Close()

	return c.decode(path, f)
}

func (c *Config) decode(source string, r io.Reader) error {
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return &ParseError{Path: source, Err: err}
	}
	return nil
}

// Encode writes c as TOML.
func (c Config) Encode(w io.Writer) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	return enc.Encode(c)
}

// Validate checks c for values the shell can't work with.
func (c Config) Validate() error {
	var errs []error

	if c.Backend.Name == "" {
		errs = append(errs, errors.New("backend.name is empty"))
	} else if filepath.Base(c.Backend.Name) != c.Backend.Name {
		errs = append(errs, fmt.Errorf("backend.name %q must be a bare file name", c.Backend.Name))
	}
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		errs = append(errs, fmt.Errorf("backend.port %d out of range", c.Backend.Port))
	}
	if c.Backend.Host == "" {
		errs = append(errs, errors.New("backend.host is empty"))
	}

	switch c.Readiness.Probe {
	case ProbeTCP, ProbeNone, ProbeFile:
	case ProbeHTTP:
		if !strings.HasPrefix(c.Readiness.HTTPPath, "/") {
			errs = append(errs, fmt.Errorf("readiness.http_path %q must start with /", c.Readiness.HTTPPath))
		}
	default:
		errs = append(errs, fmt.Errorf("readiness.probe %q: want tcp, http, file or none", c.Readiness.Probe))
	}
	if c.Readiness.Timeout <= 0 {
		errs = append(errs, errors.New("readiness.timeout must be positive"))
	}
	if c.Readiness.Interval <= 0 {
		errs = append(errs, errors.New("readiness.interval must be positive"))
	}
	switch c.Readiness.OnTimeout {
	case OnTimeoutAbort, OnTimeoutDegrade:
	default:
		errs = append(errs, fmt.Errorf("readiness.on_timeout %q: want abort or degrade", c.Readiness.OnTimeout))
	}

	if c.Shutdown.Grace <= 0 {
		errs = append(errs, errors.New("shutdown.grace must be positive"))
	}
	if c.Restart.MaxAttempts < 0 {
		errs = append(errs, errors.New("restart.max_attempts must not be negative"))
	}

	switch c.Log.Format {
	case "auto", "text", "json", "journal":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want auto, text, json or journal", c.Log.Format))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) String() string { return time.Duration(d).String() }

// Duration returns d as a time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }
