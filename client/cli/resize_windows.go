//go:build windows

package cli

import (
	"context"
	"time"

	"golang.org/x/term"
)

// watchResize polls the console size, which has no resize signal on
// Windows, and calls fn when it changes.
func watchResize(ctx context.Context, fd int, fn func(rows, cols int)) {
	prevCols, prevRows, _ := term.GetSize(fd)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cols, rows, err := term.GetSize(fd)
			if err != nil || (cols == prevCols && rows == prevRows) {
				continue
			}
			prevCols, prevRows = cols, rows
			fn(rows, cols)
		}
	}
}
