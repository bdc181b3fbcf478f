// Package notify tells the user about backend trouble and asks whether to
// restart it.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbrock/backendshell/internal/process"
)

// Notifier surfaces backend problems to the user.
type Notifier interface {
	// BackendExited reports an unexpected backend exit and returns whether
	// the user asked for a restart.
	BackendExited(ctx context.Context, st process.Status) (restart bool, err error)
	// Fatal reports a startup failure the shell can't recover from.
	Fatal(ctx context.Context, msg string) error
	Close() error
}

// Log is a Notifier for sessions without a desktop to talk to. It logs and
// answers restart prompts with AutoRestart.
type Log struct {
	Logger      *slog.Logger
	AutoRestart bool
}

var _ Notifier = (*Log)(nil)

func (n *Log) BackendExited(ctx context.Context, st process.Status) (bool, error) {
	n.logger().Error("backend stopped unexpectedly",
		"pid", st.PID, "state", st.State, "exitCode", st.ExitCode, "reason", st.Reason, "restart", n.AutoRestart)
	return n.AutoRestart, nil
}

func (n *Log) Fatal(ctx context.Context, msg string) error {
	n.logger().Error(msg)
	return nil
}

func (n *Log) Close() error { return nil }

func (n *Log) logger() *slog.Logger {
	if n.Logger != nil {
		return n.Logger
	}
	return slog.Default()
}

// describeExit renders an exit for a notification body.
func describeExit(st process.Status) string {
	switch {
	case st.Reason != "":
		return fmt.Sprintf("The backend (pid %d) stopped: %s.", st.PID, st.Reason)
	default:
		return fmt.Sprintf("The backend (pid %d) stopped with exit code %d.", st.PID, st.ExitCode)
	}
}
