// Package logging configures the shell's slog output.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/coreos/go-systemd/v22/journal"
	"golang.org/x/term"
)

// Options selects the handler built by New.
type Options struct {
	Level slog.Level
	// Format is one of auto, text, json, journal.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New builds a logger for opts. In auto mode the journal is used when
// systemd captures our stderr, text when stderr is a terminal, and JSON
// otherwise.
func New(opts Options) (*slog.Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}

	format := opts.Format
	if format == "" || format == "auto" {
		format = detectFormat(out)
	}

	switch format {
	case "text":
		return slog.New(slog.NewTextHandler(out, hopts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(out, hopts)), nil
	case "journal":
		if !journal.Enabled() {
			return nil, fmt.Errorf("journal logging requested but journald is not reachable")
		}
		return slog.New(NewJournalHandler(opts.Level)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
}

// Setup builds a logger with New and installs it as the slog default.
func Setup(opts Options) (*slog.Logger, error) {
	log, err := New(opts)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	return log, nil
}

func detectFormat(out io.Writer) string {
	// systemd sets JOURNAL_STREAM when stderr is connected to the journal.
	if os.Getenv("JOURNAL_STREAM") != "" && journal.Enabled() {
		return "journal"
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "text"
	}
	return "json"
}
