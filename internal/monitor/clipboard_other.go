//go:build !linux && !darwin

package monitor

import "context"

type unsupportedAccessor struct{}

func newPlatformAccessor() Accessor {
	return unsupportedAccessor{}
}

func (unsupportedAccessor) ReadText(context.Context) (string, error) {
	return "", ErrUnsupported
}

func (unsupportedAccessor) WriteText(context.Context, string) error {
	return ErrUnsupported
}
