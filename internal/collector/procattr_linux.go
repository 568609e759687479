package collector

import "syscall"

// sysProcAttr puts the command in its own process group so the whole group
// can be signalled on stop. Pdeathsig is a Linux-only safety net: if the
// server dies without stopping its collectors, the kernel sends SIGTERM to
// the direct child.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}
