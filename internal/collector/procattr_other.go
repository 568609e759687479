//go:build unix && !linux

package collector

import "syscall"

// sysProcAttr puts the command in its own process group. Pdeathsig is not
// available on non-Linux platforms; stale groups are cleaned up by
// ReapOrphans on the next server start instead.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}
