//go:build !linux

package notify

import "time"

// New returns ErrUnavailable; only the freedesktop service is supported.
func New(time.Duration) (Notifier, error) {
	return nil, ErrUnavailable
}
