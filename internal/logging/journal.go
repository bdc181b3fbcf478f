package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// sendFunc matches journal.Send.
type sendFunc func(message string, priority journal.Priority, vars map[string]string) error

// JournalHandler is a slog.Handler writing structured entries to journald.
// Attributes become journal fields: upper-cased, with groups joined by "_".
type JournalHandler struct {
	level  slog.Leveler
	send   sendFunc
	fields map[string]string
	prefix string
}

// NewJournalHandler returns a handler that sends records at or above level.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		level:  level,
		send:   journal.Send,
		fields: map[string]string{"SYSLOG_IDENTIFIER": "backendshell"},
	}
}

func (h *JournalHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	vars := make(map[string]string, len(h.fields)+r.NumAttrs())
	for k, v := range h.fields {
		vars[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(vars, h.prefix, a)
		return true
	})
	return h.send(r.Message, priority(r.Level), vars)
}

func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := h.clone()
	for _, a := range attrs {
		addAttr(h2.fields, h2.prefix, a)
	}
	return h2
}

func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + fieldName(name) + "_"
	return h2
}

func (h *JournalHandler) clone() *JournalHandler {
	fields := make(map[string]string, len(h.fields))
	for k, v := range h.fields {
		fields[k] = v
	}
	return &JournalHandler{level: h.level, send: h.send, fields: fields, prefix: h.prefix}
}

func addAttr(vars map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p += fieldName(a.Key) + "_"
		}
		for _, ga := range a.Value.Group() {
			addAttr(vars, p, ga)
		}
		return
	}
	key := prefix + fieldName(a.Key)
	if key == "" {
		return
	}
	vars[key] = fmt.Sprint(a.Value.Any())
}

// fieldName converts an attribute key to a valid journal field name:
// upper-case letters, digits and underscores, not starting with "_".
func fieldName(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), "_")
}

func priority(l slog.Level) journal.Priority {
	switch {
	case l >= slog.LevelError:
		return journal.PriErr
	case l >= slog.LevelWarn:
		return journal.PriWarning
	case l >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}
