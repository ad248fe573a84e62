//go:build !windows

package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// watchResize calls fn with the new size whenever the terminal is resized.
func watchResize(ctx context.Context, fd int, fn func(rows, cols int)) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGWINCH)
	defer signal.Stop(sig)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sig:
			if cols, rows, err := term.GetSize(fd); err == nil {
				fn(rows, cols)
			}
		}
	}
}
