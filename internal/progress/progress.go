// Package progress renders the fixed-width ASCII progress bar of §6: up to
// 40 cells, "[####    ] n/tot (pp%)", with a trailing newline once n == tot.
// Suppressed entirely when show_progress is 0 or tot == 0.
package progress

import (
	"fmt"
	"io"
)

const maxCells = 40

// Bar draws the progress bar to w, honoring the same suppression rules the
// original show_progress() does.
type Bar struct {
	W       io.Writer
	Enabled bool
}

// Draw renders one frame for n completed out of tot total.
func (b *Bar) Draw(n, tot int) {
	if !b.Enabled || tot == 0 || b.W == nil {
		return
	}

	var filled, width int
	fillChar := byte('=')
	if tot > maxCells {
		filled = n * maxCells / tot
		width = maxCells
		fillChar = '#'
	} else {
		filled = n
		width = tot
	}

	buf := make([]byte, 0, width+16)
	buf = append(buf, '[')
	for i := 0; i < filled; i++ {
		buf = append(buf, fillChar)
	}
	for i := filled; i < width; i++ {
		buf = append(buf, ' ')
	}
	buf = append(buf, ']')
	fmt.Fprintf(b.W, "%s %d/%d (%3d%%) ", buf, n, tot, n*100/tot)
	if n == tot {
		fmt.Fprintln(b.W)
	}
}
