//go:build windows

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// platform owns a Job Object configured to kill its members when the last
// handle closes, so the backend dies with the shell even on a crash.
type platform struct {
	mu  sync.Mutex
	job windows.Handle
}

func newPlatform() (*platform, error) {
	job, err := windows.CreateJobObject(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create job object: %w", err)
	}

	info := windows.JOBOBJECT_EXTENDED_LIMIT_INFORMATION{
		BasicLimitInformation: windows.JOBOBJECT_BASIC_LIMIT_INFORMATION{
			LimitFlags: windows.JOB_OBJECT_LIMIT_KILL_ON_JOB_CLOSE,
		},
	}
	if _, err := windows.SetInformationJobObject(
		job,
		windows.JobObjectExtendedLimitInformation,
		uintptr(unsafe.Pointer(&info)),
		uint32(unsafe.Sizeof(info)),
	); err != nil {
		windows.CloseHandle(job)
		return nil, fmt.Errorf("configure job object: %w", err)
	}

	return &platform{job: job}, nil
}

func (pl *platform) configure(cmd *exec.Cmd) {
	// A separate process group lets CTRL_BREAK reach only the backend.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: windows.CREATE_NEW_PROCESS_GROUP,
		HideWindow:    true,
	}
}

func (pl *platform) attach(p *os.Process) error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.job == 0 {
		return errors.New("job object released")
	}

	h, err := windows.OpenProcess(windows.PROCESS_SET_QUOTA|windows.PROCESS_TERMINATE, false, uint32(p.Pid))
	if err != nil {
		return fmt.Errorf("open process %d: %w", p.Pid, err)
	}
	defer windows.CloseHandle(h)

	if err := windows.AssignProcessToJobObject(pl.job, h); err != nil {
		return fmt.Errorf("assign process %d to job: %w", p.Pid, err)
	}
	return nil
}

func (pl *platform) interrupt(p *os.Process) error {
	return windows.GenerateConsoleCtrlEvent(windows.CTRL_BREAK_EVENT, uint32(p.Pid))
}

func (pl *platform) kill(p *os.Process) error {
	pl.mu.Lock()
	if pl.job != 0 {
		_ = windows.TerminateJobObject(pl.job, 1)
	}
	pl.mu.Unlock()

	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

func (pl *platform) release() error {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if pl.job == 0 {
		return nil
	}
	err := windows.CloseHandle(pl.job)
	pl.job = 0
	return err
}
