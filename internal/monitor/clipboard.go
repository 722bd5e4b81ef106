package monitor

import (
	"context"
	"errors"
)

// ErrUnsupported is returned by accessors on platforms without a known
// clipboard tool.
var ErrUnsupported = errors.New("clipboard access not supported on this platform")

// Accessor reads and writes the system clipboard's text content.
type Accessor interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
}

// SystemClipboard returns the platform accessor. It also satisfies the
// coordinator's write-only clipboard dependency.
func SystemClipboard() Accessor {
	return newPlatformAccessor()
}
