package process

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the backend executable is missing from the bundle.
	ErrNotFound = errors.New("backend binary not found")
	// ErrSpawnFailed means the OS refused to create the backend process.
	ErrSpawnFailed = errors.New("backend spawn failed")
	// ErrTimeout means the backend did not become ready in time.
	ErrTimeout = errors.New("backend readiness timed out")
	// ErrBackendExited means the backend terminated while it was expected to run.
	ErrBackendExited = errors.New("backend exited")
	// ErrAlreadyExited is returned when termination finds no running backend.
	ErrAlreadyExited = errors.New("backend already exited")
	// ErrAlreadySpawned is returned by a second Spawn on the same Supervisor.
	ErrAlreadySpawned = errors.New("backend already spawned by this supervisor")
	// ErrNotStarted is returned when waiting on a Supervisor that never spawned.
	ErrNotStarted = errors.New("backend not started")
)

// PathError reports why a backend path could not be used.
type PathError struct {
	Path string
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%v: %s", ErrNotFound, e.Path)
}

func (e *PathError) Unwrap() []error {
	return []error{ErrNotFound, e.Err}
}

// SpawnError carries the OS error behind a failed spawn.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrSpawnFailed, e.Path, e.Err)
}

func (e *SpawnError) Unwrap() []error {
	return []error{ErrSpawnFailed, e.Err}
}

// ExitError describes an unexpected backend exit observed while waiting.
type ExitError struct {
	Status Status
}

func (e *ExitError) Error() string {
	if e.Status.Reason != "" {
		return fmt.Sprintf("%v: %s", ErrBackendExited, e.Status.Reason)
	}
	return fmt.Sprintf("%v with code %d", ErrBackendExited, e.Status.ExitCode)
}

func (e *ExitError) Unwrap() error { return ErrBackendExited }
