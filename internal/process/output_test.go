package process

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLineLogger_SplitsAndFlushes(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	w := newLineLogger(log, 2)

	w.Write([]byte("first li"))
	w.Write([]byte("ne\r\nsecond line\npartial"))

	out := buf.String()
	if !strings.Contains(out, `msg="first line"`) || !strings.Contains(out, `msg="second line"`) {
		t.Fatalf("expected both complete lines logged, got:\n%s", out)
	}
	if strings.Contains(out, "partial") {
		t.Fatalf("partial line logged before flush:\n%s", out)
	}
	if !strings.Contains(out, "fd=2") {
		t.Fatalf("expected fd attribute, got:\n%s", out)
	}

	w.Flush()
	if !strings.Contains(buf.String(), "msg=partial") {
		t.Fatalf("expected partial line after flush, got:\n%s", buf.String())
	}
}

func TestLineLogger_BoundsLongLines(t *testing.T) {
	var buf bytes.Buffer
	w := newLineLogger(slog.New(slog.NewTextHandler(&buf, nil)), 1)

	w.Write(bytes.Repeat([]byte("x"), maxLineLen+1))
	if buf.Len() == 0 {
		t.Fatal("expected oversized line to be emitted without a newline")
	}
	if len(w.buf) != 0 {
		t.Fatalf("expected buffer reset, have %d bytes", len(w.buf))
	}
}
