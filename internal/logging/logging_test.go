package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

type sentEntry struct {
	msg  string
	pri  journal.Priority
	vars map[string]string
}

func captureJournal(level slog.Level) (*JournalHandler, *[]sentEntry) {
	var sent []sentEntry
	h := NewJournalHandler(level)
	h.send = func(msg string, pri journal.Priority, vars map[string]string) error {
		sent = append(sent, sentEntry{msg, pri, vars})
		return nil
	}
	return h, &sent
}

func TestJournalHandler_Fields(t *testing.T) {
	h, sent := captureJournal(slog.LevelInfo)
	log := slog.New(h).With("component", "supervisor").WithGroup("backend")

	log.Warn("backend exited", "exitCode", 3, slog.Group("proc", "pid", 42))
	log.Debug("dropped")

	if len(*sent) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(*sent))
	}
	e := (*sent)[0]
	if e.msg != "backend exited" || e.pri != journal.PriWarning {
		t.Fatalf("unexpected entry: %+v", e)
	}
	want := map[string]string{
		"SYSLOG_IDENTIFIER": "backendshell",
		"COMPONENT":         "supervisor",
		"BACKEND_EXITCODE":  "3",
		"BACKEND_PROC_PID":  "42",
	}
	for k, v := range want {
		if e.vars[k] != v {
			t.Errorf("field %s: want %q, got %q (all: %v)", k, v, e.vars[k], e.vars)
		}
	}
}

func TestFieldName(t *testing.T) {
	tests := map[string]string{
		"exitCode":   "EXITCODE",
		"fd":         "FD",
		"_private":   "PRIVATE",
		"with-dash":  "WITH_DASH",
		"session.id": "SESSION_ID",
	}
	for in, want := range tests {
		if got := fieldName(in); got != want {
			t.Errorf("fieldName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNew_ExplicitFormats(t *testing.T) {
	var buf bytes.Buffer

	log, err := New(Options{Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New(json): %v", err)
	}
	log.Info("hello", "port", 8000)
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "hello" {
		t.Fatalf("unexpected record: %v", rec)
	}

	buf.Reset()
	log, err = New(Options{Format: "text", Output: &buf, Level: slog.LevelWarn})
	if err != nil {
		t.Fatalf("New(text): %v", err)
	}
	log.Info("quiet")
	log.Warn("loud")
	if strings.Contains(buf.String(), "quiet") || !strings.Contains(buf.String(), "msg=loud") {
		t.Fatalf("level filtering wrong: %q", buf.String())
	}

	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNew_AutoWithoutTerminalIsJSON(t *testing.T) {
	t.Setenv("JOURNAL_STREAM", "")
	var buf bytes.Buffer

	log, err := New(Options{Format: "auto", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	log.Info("x")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected JSON for non-terminal output, got %q", buf.String())
	}
}

func TestJournalHandler_Handle(t *testing.T) {
	h, sent := captureJournal(slog.LevelDebug)
	if err := h.Handle(context.Background(), slog.NewRecord(time.Time{}, slog.LevelError, "boom", 0)); err != nil {
		t.Fatal(err)
	}
	if (*sent)[0].pri != journal.PriErr {
		t.Fatalf("expected error priority, got %v", (*sent)[0].pri)
	}
}
