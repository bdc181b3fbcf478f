package config

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
)

// Sources says where Load looks for configuration.
type Sources struct {
	// ResourceDir holds the bundle's shell.toml.
	ResourceDir string
	// UserDir holds the user's shell.toml; skipped when empty.
	UserDir string
	// File is an explicit config file, read instead of the user's.
	File string
	// Lookup reads the environment; os.LookupEnv when nil.
	Lookup LookupFunc
	// Flags are applied last when non-nil.
	Flags *flag.FlagSet
}

// Load assembles the configuration from src and validates it.
func Load(src Sources) (Config, error) {
	cfg := Default()

	if src.ResourceDir != "" {
		if err := cfg.LoadFile(filepath.Join(src.ResourceDir, FileName)); err != nil {
			return cfg, err
		}
	}

	switch {
	case src.File != "":
		if _, err := os.Stat(src.File); err != nil {
			return cfg, fmt.Errorf("config file: %w", err)
		}
		if err := cfg.LoadFile(src.File); err != nil {
			return cfg, err
		}
	case src.UserDir != "":
		if err := cfg.LoadFile(filepath.Join(src.UserDir, FileName)); err != nil {
			return cfg, err
		}
	}

	if err := cfg.ApplyEnv(src.Lookup); err != nil {
		return cfg, err
	}
	if src.Flags != nil {
		if err := cfg.ApplyFlags(src.Flags); err != nil {
			return cfg, err
		}
	}

	return cfg, cfg.Validate()
}
