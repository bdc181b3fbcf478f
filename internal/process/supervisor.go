package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbrock/backendshell/internal/ready"
)

const (
	// DefaultGrace is how long Terminate waits after the graceful signal.
	DefaultGrace = 5 * time.Second
	// DefaultReadyTimeout bounds AwaitReady when no timeout is given.
	DefaultReadyTimeout = 30 * time.Second

	// killWait bounds the wait for the process to be reaped after a forced kill.
	killWait = 5 * time.Second
)

// EnvSessionID carries the backend's session ID in its environment.
const EnvSessionID = "BACKEND_SESSION_ID"

// Options configures a Supervisor.
type Options struct {
	// Args are passed to the backend executable.
	Args []string
	// Env is added to the inherited environment.
	Env map[string]string
	// Dir is the working directory; defaults to the executable's directory.
	Dir string
	// Grace is the graceful shutdown period; defaults to DefaultGrace.
	Grace time.Duration
	// ReadyInterval is the readiness poll interval; defaults to ready.DefaultInterval.
	ReadyInterval time.Duration
	// SessionID identifies this backend instance; generated if empty.
	SessionID string
	Logger    *slog.Logger
}

// Supervisor owns the lifecycle of exactly one backend process, from spawn
// through termination. It spawns at most once; a new session needs a new
// Supervisor.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	opts Options
	log  *slog.Logger

	mu   sync.Mutex
	proc *BackendProcess
}

// New creates a Supervisor. Nothing is started until Spawn.
func New(opts Options) *Supervisor {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		opts: opts,
		log:  log.With("component", "supervisor"),
	}
}

// Spawn starts the executable at path as the backend. It returns once the
// OS has created the process; it does not wait for the backend to be ready.
// A failure leaves the Supervisor in StateFailed and wraps ErrSpawnFailed.
func (s *Supervisor) Spawn(ctx context.Context, path string) (*BackendProcess, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.proc != nil {
		return nil, ErrAlreadySpawned
	}

	sessionID := s.opts.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	p := newBackendProcess(path, sessionID)
	s.proc = p

	fail := func(err error) (*BackendProcess, error) {
		p.finish(StateFailed, -1, err.Error())
		s.log.Error("backend spawn failed", "path", path, "error", err)
		return nil, &SpawnError{Path: path, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	plat, err := newPlatform()
	if err != nil {
		return fail(err)
	}

	env := make(map[string]string, len(s.opts.Env)+1)
	for k, v := range s.opts.Env {
		env[k] = v
	}
	env[EnvSessionID] = sessionID

	out := s.log.With("component", "backend", "session", sessionID)
	stdout := newLineLogger(out, 1)
	stderr := newLineLogger(out, 2)

	cmd := exec.Command(path, s.opts.Args...)
	cmd.Dir = s.opts.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(path)
	}
	cmd.Env = append(os.Environ(), envList(env)...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Stop copying output if a grandchild keeps the pipes open after exit.
	cmd.WaitDelay = s.opts.Grace
	plat.configure(cmd)

	p.cmd = cmd
	p.plat = plat
	p.Started = time.Now()

	if err := cmd.Start(); err != nil {
		_ = plat.release()
		return fail(err)
	}

	if err := plat.attach(cmd.Process); err != nil {
		s.log.Warn("backend not attached to cleanup group", "pid", cmd.Process.Pid, "error", err)
	}

	p.mu.Lock()
	p.state = StateRunning
	p.mu.Unlock()

	s.log.Info("backend started", "path", path, "pid", cmd.Process.Pid, "session", sessionID)

	go s.wait(p, stdout, stderr)
	return p, nil
}

// wait reaps the process and records how it ended.
func (s *Supervisor) wait(p *BackendProcess, outputs ...*lineLogger) {
	err := p.cmd.Wait()
	for _, o := range outputs {
		o.Flush()
	}
	if errors.Is(err, exec.ErrWaitDelay) && p.cmd.ProcessState != nil && p.cmd.ProcessState.Success() {
		err = nil
	}

	state, code, reason := classifyExit(err)
	p.finish(state, code, reason)
	if rerr := p.plat.release(); rerr != nil {
		s.log.Warn("releasing backend resources", "error", rerr)
	}

	st := p.Status()
	switch st.State {
	case StateFailed:
		s.log.Error("backend failed", "pid", st.PID, "exitCode", st.ExitCode, "reason", st.Reason)
	default:
		s.log.Info("backend exited", "pid", st.PID, "state", st.State, "exitCode", st.ExitCode, "reason", st.Reason)
	}
}

// classifyExit maps a Wait result to a terminal state. A nonzero exit status
// is a failure; death by signal counts as an exit with code -1.
func classifyExit(err error) (State, int, string) {
	if err == nil {
		return StateExited, 0, ""
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code := ee.ExitCode()
		if code == -1 {
			return StateExited, -1, ee.Error()
		}
		return StateFailed, code, ee.Error()
	}
	return StateFailed, -1, err.Error()
}

// AwaitReady polls probe until it succeeds, the backend exits, or timeout
// elapses. A non-positive timeout means DefaultReadyTimeout, so this never
// blocks indefinitely. A nil probe means the backend is ready once running.
func (s *Supervisor) AwaitReady(ctx context.Context, probe ready.Probe, timeout time.Duration) error {
	p := s.Process()
	if p == nil {
		return ErrNotStarted
	}
	if !p.Alive() {
		return &ExitError{Status: p.Status()}
	}
	if probe == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	ctx, cancel := context.WithTimeoutCause(ctx, timeout, ErrTimeout)
	defer cancel()

	start := time.Now()
	err := ready.Poll(ctx, probe, s.opts.ReadyInterval, p.Done())
	switch {
	case err == nil:
		s.log.Info("backend ready", "pid", p.PID(), "probe", probe, "after", time.Since(start).Round(time.Millisecond))
		return nil
	case errors.Is(err, ready.ErrStopped):
		return &ExitError{Status: p.Status()}
	default:
		return fmt.Errorf("waiting %s for %v: %w", timeout, probe, err)
	}
}

// Terminate asks the backend to stop, forcing it after the grace period or
// when ctx is done. It returns ErrAlreadyExited if there is no running
// backend, including on every call after the first. A caller that arrives
// while another termination is in progress waits for it, and gets ctx's
// error if ctx ends first.
func (s *Supervisor) Terminate(ctx context.Context) error {
	p := s.Process()
	if p == nil {
		return ErrAlreadyExited
	}
	if !p.beginTerminate() {
		// Someone else may be mid-shutdown; let them finish first.
		select {
		case <-p.Done():
			return ErrAlreadyExited
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	pid := p.PID()
	s.log.Info("terminating backend", "pid", pid, "grace", s.opts.Grace)

	if err := p.plat.interrupt(p.cmd.Process); err != nil {
		s.log.Debug("graceful signal failed", "pid", pid, "error", err)
	}

	timer := time.NewTimer(s.opts.Grace)
	defer timer.Stop()

	select {
	case <-p.Done():
		return nil
	case <-timer.C:
		s.log.Warn("backend ignored graceful shutdown, killing", "pid", pid)
	case <-ctx.Done():
		s.log.Warn("termination cancelled, killing backend", "pid", pid)
	}

	if err := p.plat.kill(p.cmd.Process); err != nil {
		s.log.Error("killing backend", "pid", pid, "error", err)
	}

	select {
	case <-p.Done():
		return nil
	case <-time.After(killWait):
		return fmt.Errorf("backend pid %d still running after kill", pid)
	}
}

// Close terminates the backend if it is still running and releases its
// resources. Termination problems are logged, not returned.
func (s *Supervisor) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.Grace+killWait)
	defer cancel()

	if err := s.Terminate(ctx); err != nil && !errors.Is(err, ErrAlreadyExited) {
		s.log.Error("terminating backend on close", "error", err)
	}
	if p := s.Process(); p != nil && p.plat != nil {
		return p.plat.release()
	}
	return nil
}

// Process returns the backend spawned by this Supervisor, or nil.
func (s *Supervisor) Process() *BackendProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Status returns a snapshot of the backend, reporting StateNotStarted
// before Spawn.
func (s *Supervisor) Status() Status {
	if p := s.Process(); p != nil {
		return p.Status()
	}
	return Status{State: StateNotStarted, ExitCode: -1}
}

// Alive reports whether the backend is running.
func (s *Supervisor) Alive() bool {
	p := s.Process()
	return p != nil && p.Alive()
}

// Done is closed when the backend has exited. It is nil before Spawn.
func (s *Supervisor) Done() <-chan struct{} {
	if p := s.Process(); p != nil {
		return p.Done()
	}
	return nil
}

func envList(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
