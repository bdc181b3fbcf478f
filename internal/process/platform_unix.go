//go:build unix

package process

import (
	"errors"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// platform holds per-process OS resources. Unix needs none beyond the
// process group the backend is started in.
type platform struct{}

func newPlatform() (*platform, error) {
	return &platform{}, nil
}

func (pl *platform) configure(cmd *exec.Cmd) {
	cmd.SysProcAttr = sysProcAttr()
}

func (pl *platform) attach(p *os.Process) error {
	return nil
}

// interrupt asks the backend's process group to shut down.
func (pl *platform) interrupt(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err == nil {
		return nil
	}
	return ignoreDone(p.Signal(unix.SIGTERM))
}

func (pl *platform) kill(p *os.Process) error {
	_ = unix.Kill(-p.Pid, unix.SIGKILL)
	return ignoreDone(p.Kill())
}

func (pl *platform) release() error {
	return nil
}

func ignoreDone(err error) error {
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}
