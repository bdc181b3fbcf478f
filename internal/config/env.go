package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LookupFunc reads an environment variable; os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// envSetter applies one environment variable to the config.
type envSetter func(c *Config, val string) error

// envMapping lists the variables ApplyEnv understands. PORT and DATA_DIR are
// the backend's own names and are honored too, with the prefixed form winning.
var envMapping = []struct {
	key string
	set envSetter
}{
	{"PORT", setPort},
	{"BACKENDSHELL_PORT", setPort},
	{"DATA_DIR", setDataDir},
	{"BACKENDSHELL_DATA_DIR", setDataDir},
	{"BACKENDSHELL_BACKEND_NAME", func(c *Config, v string) error { c.Backend.Name = v; return nil }},
	{"BACKENDSHELL_HOST", func(c *Config, v string) error { c.Backend.Host = v; return nil }},
	{"BACKENDSHELL_PROBE", func(c *Config, v string) error { c.Readiness.Probe = ProbeKind(strings.ToLower(v)); return nil }},
	{"BACKENDSHELL_READY_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Readiness.Timeout, v) }},
	{"BACKENDSHELL_READY_FILE", func(c *Config, v string) error { c.Readiness.File = v; return nil }},
	{"BACKENDSHELL_GRACE", func(c *Config, v string) error { return setDuration(&c.Shutdown.Grace, v) }},
	{"BACKENDSHELL_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = v; return nil }},
	{"BACKENDSHELL_LOG_FORMAT", func(c *Config, v string) error { c.Log.Format = v; return nil }},
}

// ApplyEnv overrides c from environment variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var errs []error
	for _, m := range envMapping {
		val, ok := lookup(m.key)
		if !ok || val == "" {
			continue
		}
		if err := m.set(c, val); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", m.key, val, err))
		}
	}
	return errors.Join(errs...)
}

func setPort(c *Config, val string) error {
	port, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	c.Backend.Port = port
	return nil
}

func setDataDir(c *Config, val string) error {
	c.Backend.DataDir = val
	return nil
}

func setDuration(d *Duration, val string) error {
	v, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// ParseLevel parses a log level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}
