//go:build !windows

package ipc

import "golang.org/x/sys/unix"

const syscallECONNREFUSED = unix.ECONNREFUSED
