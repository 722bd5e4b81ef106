//go:build linux

package monitor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

type tool struct {
	read  []string
	write []string
}

// Wayland first when a compositor is present, then the X11 tools.
var linuxTools = []tool{
	{read: []string{"wl-paste", "--no-newline"}, write: []string{"wl-copy"}},
	{read: []string{"xclip", "-selection", "clipboard", "-o"}, write: []string{"xclip", "-selection", "clipboard", "-i"}},
	{read: []string{"xsel", "--clipboard", "--output"}, write: []string{"xsel", "--clipboard", "--input"}},
}

// execAccessor shells out to the first clipboard tool found on PATH.
type execAccessor struct {
	tool *tool
}

func newPlatformAccessor() Accessor {
	wayland := os.Getenv("WAYLAND_DISPLAY") != ""
	for i := range linuxTools {
		t := &linuxTools[i]
		if t.read[0] == "wl-paste" && !wayland {
			continue
		}
		if _, err := exec.LookPath(t.read[0]); err == nil {
			return &execAccessor{tool: t}
		}
	}
	return &execAccessor{}
}

func (a *execAccessor) ReadText(ctx context.Context) (string, error) {
	if a.tool == nil {
		return "", fmt.Errorf("%w: install wl-clipboard, xclip or xsel", ErrUnsupported)
	}
	out, err := exec.CommandContext(ctx, a.tool.read[0], a.tool.read[1:]...).Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", a.tool.read[0], err)
	}
	return string(out), nil
}

func (a *execAccessor) WriteText(ctx context.Context, text string) error {
	if a.tool == nil {
		return fmt.Errorf("%w: install wl-clipboard, xclip or xsel", ErrUnsupported)
	}
	cmd := exec.CommandContext(ctx, a.tool.write[0], a.tool.write[1:]...)
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", a.tool.write[0], err)
	}
	return nil
}
