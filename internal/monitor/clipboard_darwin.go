//go:build darwin

package monitor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

type pasteboardAccessor struct{}

func newPlatformAccessor() Accessor {
	return pasteboardAccessor{}
}

func (pasteboardAccessor) ReadText(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, "pbpaste").Output()
	if err != nil {
		return "", fmt.Errorf("pbpaste: %w", err)
	}
	return string(out), nil
}

func (pasteboardAccessor) WriteText(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, "pbcopy")
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pbcopy: %w", err)
	}
	return nil
}
