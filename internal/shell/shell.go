// Package shell runs the desktop shell's side of the backend lifecycle.
//
// Start resolves and spawns the bundled backend and waits for it to become
// ready before any window is shown. Run hands control to the UI runtime
// while watching the backend, offering a restart if it dies. Shutdown
// terminates the backend and must run on every exit path.
package shell

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/mbrock/backendshell/internal/config"
	"github.com/mbrock/backendshell/internal/dirs"
	"github.com/mbrock/backendshell/internal/notify"
	"github.com/mbrock/backendshell/internal/process"
	"github.com/mbrock/backendshell/internal/ready"
)

// Environment passed to the backend. A backend signals readiness by
// creating the file named in EnvReadyFile; it must appear atomically
// (written elsewhere, then renamed).
const (
	EnvPort      = "PORT"
	EnvHost      = "HOST"
	EnvDataDir   = "DATA_DIR"
	EnvReadyFile = "BACKEND_READY_FILE"
)

// ErrShuttingDown is returned when a launch races with Shutdown.
var ErrShuttingDown = errors.New("shell is shutting down")

// Runtime is the UI event loop. Run blocks until the UI quits or ctx ends.
type Runtime interface {
	Run(ctx context.Context) error
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context) error

func (f RuntimeFunc) Run(ctx context.Context) error { return f(ctx) }

// Headless is a Runtime with no window; it runs until ctx is cancelled.
var Headless = RuntimeFunc(func(ctx context.Context) error {
	<-ctx.Done()
	return nil
})

// Options configures a Shell.
type Options struct {
	Config      config.Config
	ResourceDir string
	Notifier    notify.Notifier
	Logger      *slog.Logger
}

// Shell owns the backend for one application session.
type Shell struct {
	cfg         config.Config
	resourceDir string
	notifier    notify.Notifier
	log         *slog.Logger
	sdNotify    func(state string)

	mu       sync.Mutex
	path     string
	sup      *process.Supervisor
	restarts int
	degraded bool
	closing  bool
}

// New creates a Shell. Nothing happens until Start.
func New(opts Options) *Shell {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	n := opts.Notifier
	if n == nil {
		n = &notify.Log{Logger: log}
	}
	s := &Shell{
		cfg:         opts.Config,
		resourceDir: opts.ResourceDir,
		notifier:    n,
		log:         log.With("component", "shell"),
	}
	s.sdNotify = func(state string) {
		if _, err := daemon.SdNotify(false, state); err != nil {
			s.log.Debug("sd_notify failed", "state", state, "error", err)
		}
	}
	return s
}

// Start resolves the backend, spawns it and waits until it is ready. A
// missing binary, a failed spawn, or (unless configured to degrade) a
// backend that never becomes ready is returned as an error, and the caller
// must not show the UI.
func (s *Shell) Start(ctx context.Context) error {
	path, err := process.ResolveBackendPath(s.resourceDir, s.cfg.Backend.Name)
	if err != nil {
		s.fatal(ctx, err)
		return err
	}
	s.mu.Lock()
	s.path = path
	s.mu.Unlock()

	return s.launch(ctx)
}

// launch spawns a fresh Supervisor and waits for readiness.
func (s *Shell) launch(ctx context.Context) error {
	dataDir := s.dataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		s.log.Warn("creating backend data dir", "dir", dataDir, "error", err)
	}

	probe, env, err := s.probe()
	if err != nil {
		s.fatal(ctx, err)
		return err
	}
	if c, ok := probe.(interface{ Close() error }); ok {
		defer c.Close()
	}
	env[EnvDataDir] = dataDir

	sup := process.New(process.Options{
		Args:          s.cfg.Backend.Args,
		Env:           env,
		Grace:         s.cfg.Shutdown.Grace.Duration(),
		ReadyInterval: s.cfg.Readiness.Interval.Duration(),
		Logger:        s.log,
	})

	// Spawn under mu so Shutdown either sees this Supervisor with its
	// process or marks the shell closed before anything is started.
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrShuttingDown
	}
	prev := s.sup
	s.sup = sup
	_, err = sup.Spawn(ctx, s.path)
	s.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	if err != nil {
		s.fatal(ctx, err)
		return err
	}

	err = sup.AwaitReady(ctx, probe, s.cfg.Readiness.Timeout.Duration())
	switch {
	case err == nil:
		s.setDegraded(false)
		s.sdNotify(daemon.SdNotifyReady)
		return nil
	case errors.Is(err, process.ErrTimeout) && s.cfg.Readiness.OnTimeout == config.OnTimeoutDegrade:
		s.log.Warn("backend not ready, continuing degraded", "error", err)
		s.setDegraded(true)
		s.sdNotify(daemon.SdNotifyReady)
		return nil
	default:
		s.fatal(ctx, err)
		return err
	}
}

// probe builds the readiness probe and any environment it needs.
func (s *Shell) probe() (ready.Probe, map[string]string, error) {
	env := make(map[string]string, len(s.cfg.Backend.Env)+4)
	for k, v := range s.cfg.Backend.Env {
		env[k] = v
	}
	port := strconv.Itoa(s.cfg.Backend.Port)
	env[EnvPort] = port
	env[EnvHost] = s.cfg.Backend.Host
	addr := net.JoinHostPort(s.cfg.Backend.Host, port)

	switch s.cfg.Readiness.Probe {
	case config.ProbeTCP:
		return ready.TCP(addr), env, nil
	case config.ProbeHTTP:
		return ready.HTTP("http://" + addr + s.cfg.Readiness.HTTPPath), env, nil
	case config.ProbeFile:
		path := s.cfg.Readiness.File
		if path == "" {
			path = filepath.Join(dirs.RuntimeDir(), "backend.ready")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, nil, fmt.Errorf("readiness file dir: %w", err)
		}
		// A file left by an earlier backend would pass the probe immediately.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, nil, fmt.Errorf("removing stale readiness file: %w", err)
		}
		env[EnvReadyFile] = path
		return ready.File(path), env, nil
	case config.ProbeNone:
		return nil, env, nil
	default:
		return nil, nil, fmt.Errorf("unknown readiness probe %q", s.cfg.Readiness.Probe)
	}
}

func (s *Shell) dataDir() string {
	if s.cfg.Backend.DataDir != "" {
		return s.cfg.Backend.DataDir
	}
	return dirs.DataDir()
}

// Run runs rt while watching the backend. When the backend exits
// unexpectedly the user is asked whether to restart it, up to the configured
// number of times; otherwise the UI is stopped and the exit is returned.
// Run does not terminate the backend; call Shutdown.
func (s *Shell) Run(ctx context.Context, rt Runtime) error {
	if s.Supervisor() == nil {
		return process.ErrNotStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ui := startRuntime(ctx, rt)

	// Prompts and restarts end early if the UI goes away meanwhile.
	promptCtx, stopPrompt := context.WithCancel(ctx)
	defer stopPrompt()
	go func() {
		<-ui.done
		stopPrompt()
	}()

	for {
		sup := s.Supervisor()
		select {
		case <-ui.done:
			return ui.result()
		case <-sup.Done():
			if s.isClosing() {
				cancel()
				<-ui.done
				return ui.result()
			}
			restarted, err := s.handleExit(promptCtx, sup)
			if restarted {
				continue
			}
			// The user quit, or ctx ended, while the exit was being handled.
			quit := promptCtx.Err() != nil
			cancel()
			<-ui.done
			if quit {
				return ui.result()
			}
			exitErr := &process.ExitError{Status: sup.Status()}
			if err != nil {
				return fmt.Errorf("%w; restart failed: %w", exitErr, err)
			}
			return exitErr
		}
	}
}

// handleExit handles an unexpected backend exit. It reports whether a new
// backend is running, and the launch error if a restart was tried and failed.
func (s *Shell) handleExit(ctx context.Context, sup *process.Supervisor) (bool, error) {
	st := sup.Status()
	s.log.Error("backend exited unexpectedly", "pid", st.PID, "state", st.State, "exitCode", st.ExitCode, "reason", st.Reason)

	s.mu.Lock()
	exhausted := s.restarts >= s.cfg.Restart.MaxAttempts
	s.mu.Unlock()
	if exhausted {
		s.fatal(ctx, fmt.Errorf("%w; restart limit of %d reached", &process.ExitError{Status: st}, s.cfg.Restart.MaxAttempts))
		return false, nil
	}

	restart, err := s.notifier.BackendExited(ctx, st)
	if err != nil {
		s.log.Error("asking for restart", "error", err)
		return false, nil
	}
	if !restart || ctx.Err() != nil {
		return false, nil
	}

	s.mu.Lock()
	s.restarts++
	attempt := s.restarts
	s.mu.Unlock()

	s.log.Info("restarting backend", "attempt", attempt)
	if err := s.launch(ctx); err != nil {
		s.log.Error("restart failed", "attempt", attempt, "error", err)
		return false, err
	}
	return true, nil
}

// Shutdown terminates the backend. It is safe to call more than once and
// from any exit path. Termination problems are logged, not returned.
func (s *Shell) Shutdown(ctx context.Context) {
	s.mu.Lock()
	first := !s.closing
	s.closing = true
	sup := s.sup
	s.mu.Unlock()

	if first {
		s.sdNotify(daemon.SdNotifyStopping)
	}
	if sup == nil {
		return
	}

	switch err := sup.Terminate(ctx); {
	case err == nil:
		s.log.Info("backend stopped")
	case errors.Is(err, process.ErrAlreadyExited):
		s.log.Debug("backend already gone at shutdown", "state", sup.Status().State)
	default:
		s.log.Error("stopping backend", "error", err)
	}
	if err := sup.Close(); err != nil {
		s.log.Warn("releasing backend", "error", err)
	}
}

// ShutdownOnPanic is deferred by callers so a panic still stops the backend
// before the process dies.
func (s *Shell) ShutdownOnPanic() {
	if r := recover(); r != nil {
		s.log.Error("panic, stopping backend", "panic", r)
		s.Shutdown(context.Background())
		panic(r)
	}
}

// Supervisor returns the Supervisor of the current backend instance.
func (s *Shell) Supervisor() *process.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Status reports the current backend instance.
func (s *Shell) Status() process.Status {
	if sup := s.Supervisor(); sup != nil {
		return sup.Status()
	}
	return process.Status{State: process.StateNotStarted, ExitCode: -1}
}

// Degraded reports whether the shell went on without a ready backend.
func (s *Shell) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Restarts reports how many restarts have been made.
func (s *Shell) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Shell) setDegraded(v bool) {
	s.mu.Lock()
	s.degraded = v
	s.mu.Unlock()
}

func (s *Shell) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// fatal tells the user the backend is unavailable. Failures caused by ctx
// ending are the user quitting, not something to report.
func (s *Shell) fatal(ctx context.Context, err error) {
	if ctx.Err() != nil {
		s.log.Info("backend launch abandoned", "error", err)
		return
	}
	s.log.Error("backend unavailable", "error", err)
	if nerr := s.notifier.Fatal(ctx, err.Error()); nerr != nil {
		s.log.Warn("notifying user", "error", nerr)
	}
}

// uiRun tracks a Runtime running on its own goroutine.
type uiRun struct {
	done  chan struct{}
	err   error
	panic any
}

func startRuntime(ctx context.Context, rt Runtime) *uiRun {
	u := &uiRun{done: make(chan struct{})}
	go func() {
		defer close(u.done)
		defer func() {
			if r := recover(); r != nil {
				u.panic = r
			}
		}()
		u.err = rt.Run(ctx)
	}()
	return u
}

// result returns the runtime's error. A panic in the runtime is raised again
// on the calling goroutine, where ShutdownOnPanic and deferred Shutdown run.
func (u *uiRun) result() error {
	if u.panic != nil {
		panic(u.panic)
	}
	return u.err
}

// NotifyContext returns a context cancelled on SIGINT, SIGTERM or SIGHUP, so
// the shell's deferred Shutdown runs when the desktop session asks it to quit.
func NotifyContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
}
