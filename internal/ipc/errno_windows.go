//go:build windows

package ipc

import "syscall"

const syscallECONNREFUSED = syscall.Errno(10061) // WSAECONNREFUSED
