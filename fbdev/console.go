//go:build linux

package fbdev

import (
	"context"
	"os"

	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// console mode ioctls from the kd uapi
const (
	kdSetMode      = 0x4B3A
	kdModeText     = 0x00
	kdModeGraphics = 0x01
)

// consoleMode tracks a virtual console switched into graphics mode, so the
// kernel stops drawing the text cursor over the framebuffer
type consoleMode struct {
	tty *os.File
}

// enterGraphicsMode switches the controlling console to graphics mode. A nil
// return means there was no console to switch, which is normal for headless
// and remote sessions; presentation works regardless, the text cursor just
// stays live.
func enterGraphicsMode(logger *slog.Logger) *consoleMode {
	if !term.IsTerminal(int(os.Stdin.Fd())) && !term.IsTerminal(int(os.Stdout.Fd())) {
		logger.Debug("no controlling terminal, leaving the console mode alone")
		return nil
	}

	tty, err := os.OpenFile("/dev/tty", os.O_RDWR, 0)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "could not open the console to switch it to graphics mode",
			slog.Any("error", err))
		return nil
	}

	err = unix.IoctlSetInt(int(tty.Fd()), kdSetMode, kdModeGraphics)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "the console refused graphics mode",
			slog.Any("error", err))
		_ = tty.Close()
		return nil
	}

	return &consoleMode{tty: tty}
}

// restore puts the console back into text mode. Safe on a nil receiver.
func (c *consoleMode) restore(logger *slog.Logger) {
	if c == nil {
		return
	}

	err := unix.IoctlSetInt(int(c.tty.Fd()), kdSetMode, kdModeText)
	if err != nil {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to restore the console to text mode",
			slog.Any("error", err))
	}

	_ = c.tty.Close()
}
