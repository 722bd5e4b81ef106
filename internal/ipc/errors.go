package ipc

import "errors"

var (
	ErrNotConnected     = errors.New("not connected to daemon")
	ErrConnectionLost   = errors.New("connection to daemon lost")
	ErrTimeout          = errors.New("request timeout")
	ErrDaemonNotRunning = errors.New("daemon is not running")

	errPeerCredsUnsupported = errors.New("peer credentials not supported")
)
