package process

import (
	"bytes"
	"log/slog"
	"sync"
)

// maxLineLen bounds how much of a single unterminated line is buffered.
const maxLineLen = 64 * 1024

// lineLogger is an io.Writer that logs each complete line written to it.
// exec copies the backend's stdout/stderr into it.
type lineLogger struct {
	log *slog.Logger
	fd  int

	mu  sync.Mutex
	buf []byte
}

func newLineLogger(log *slog.Logger, fd int) *lineLogger {
	return &lineLogger{log: log, fd: fd}
}

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLineLen {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

// Flush logs any trailing partial line.
func (w *lineLogger) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineLogger) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	w.log.Info(string(line), "fd", w.fd)
}
