//go:build unix && !linux

package process

import "syscall"

// sysProcAttr puts the backend in its own process group so it can be
// signalled together with anything it starts.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}
