// Package ready checks whether a freshly spawned backend is accepting work.
//
// Starting a process says nothing about whether it can answer requests, so
// the shell polls a Probe until it succeeds or a deadline passes. Probes
// exist for a listening TCP port, an HTTP endpoint, and a readiness file
// the backend creates once it is up.
package ready

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultInterval is the poll interval used when none is given.
const DefaultInterval = 100 * time.Millisecond

// ErrStopped is returned by Poll when the stop channel closes first.
var ErrStopped = errors.New("stopped before ready")

// Probe reports whether the backend is ready. A nil error means ready.
type Probe interface {
	Check(ctx context.Context) error
}

// Waker is implemented by probes that can signal a likely state change
// between polls, so Poll re-checks early.
type Waker interface {
	Wake() <-chan struct{}
}

// NotReadyError is returned when Poll gives up. It carries both the reason
// the wait ended and the probe's last failure.
type NotReadyError struct {
	Cause error
	Last  error
}

func (e *NotReadyError) Error() string {
	if e.Last == nil {
		return e.Cause.Error()
	}
	return fmt.Sprintf("%v (last probe error: %v)", e.Cause, e.Last)
}

func (e *NotReadyError) Unwrap() []error {
	if e.Last == nil {
		return []error{e.Cause}
	}
	return []error{e.Cause, e.Last}
}

// Poll runs probe every interval until it succeeds, stop is closed, or ctx
// ends. When ctx ends the returned error wraps context.Cause(ctx).
func Poll(ctx context.Context, probe Probe, interval time.Duration, stop <-chan struct{}) error {
	if interval <= 0 {
		interval = DefaultInterval
	}

	var wake <-chan struct{}
	if w, ok := probe.(Waker); ok {
		wake = w.Wake()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last error
	for {
		// A stopped backend wins over a probe that happens to succeed.
		select {
		case <-stop:
			return ErrStopped
		default:
		}

		if last = probe.Check(ctx); last == nil {
			return nil
		}

		select {
		case <-stop:
			return ErrStopped
		case <-ctx.Done():
			return &NotReadyError{Cause: context.Cause(ctx), Last: last}
		case <-ticker.C:
		case <-wake:
		}
	}
}
