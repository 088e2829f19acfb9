//go:build !windows
// +build !windows

package rlimit

import (
	"syscall"
)

// Raise raises the soft limit on open file descriptors up to the hard
// limit. Workers and their RTC connections consume descriptors well
// past the usual soft default.
func Raise() error {
	var rlim syscall.Rlimit
	err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &rlim)
	if err != nil {
		return err
	}

	if rlim.Cur >= rlim.Max {
		return nil
	}

	rlim.Cur = rlim.Max
	return syscall.Setrlimit(syscall.RLIMIT_NOFILE, &rlim)
}
