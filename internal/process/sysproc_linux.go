//go:build linux

package process

import "syscall"

// sysProcAttr puts the backend in its own process group and has the kernel
// send it SIGTERM if the shell dies without running its cleanup.
// Pdeathsig fires when the spawning OS thread exits, which for Go is the
// process exit unless the thread was locked.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
