package process

import (
	"os/exec"
	"sync"
	"time"
)

// State is the lifecycle state of a backend process.
type State string

const (
	StateNotStarted State = "not-started"
	StateRunning    State = "running"
	StateExited     State = "exited"
	StateFailed     State = "failed"
	StateTerminated State = "terminated"
)

// Done reports whether the state is terminal.
func (s State) Done() bool {
	switch s {
	case StateExited, StateFailed, StateTerminated:
		return true
	default:
		return false
	}
}

// Status is a point-in-time snapshot of a backend process.
type Status struct {
	Path      string
	SessionID string
	PID       int
	State     State
	Started   time.Time
	ExitCode  int
	Reason    string
}

// BackendProcess is the backend child spawned by a Supervisor.
// Only the owning Supervisor may signal or reap it; everyone else reads.
type BackendProcess struct {
	Path      string
	SessionID string
	Started   time.Time

	cmd  *exec.Cmd
	plat *platform
	done chan struct{}

	mu          sync.Mutex
	state       State
	exitCode    int
	reason      string
	terminating bool
}

func newBackendProcess(path, sessionID string) *BackendProcess {
	return &BackendProcess{
		Path:      path,
		SessionID: sessionID,
		done:      make(chan struct{}),
		state:     StateNotStarted,
		exitCode:  -1,
	}
}

// PID returns the process ID, or 0 if the process never started.
func (p *BackendProcess) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// State returns the current lifecycle state.
func (p *BackendProcess) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Alive reports whether the backend is still running.
func (p *BackendProcess) Alive() bool {
	return p.State() == StateRunning
}

// Done is closed once the process has exited and its state is final.
func (p *BackendProcess) Done() <-chan struct{} {
	return p.done
}

// Status returns a snapshot of the process.
func (p *BackendProcess) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Path:      p.Path,
		SessionID: p.SessionID,
		PID:       p.PID(),
		State:     p.state,
		Started:   p.Started,
		ExitCode:  p.exitCode,
		Reason:    p.reason,
	}
}

// beginTerminate marks the process as being shut down by the shell.
// It returns false if the process is not running or a shutdown is already underway.
func (p *BackendProcess) beginTerminate() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != StateRunning || p.terminating {
		return false
	}
	p.terminating = true
	return true
}

func (p *BackendProcess) finish(state State, exitCode int, reason string) {
	p.mu.Lock()
	if p.terminating {
		state = StateTerminated
	}
	p.state = state
	p.exitCode = exitCode
	p.reason = reason
	p.mu.Unlock()
	close(p.done)
}
