package led

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/coreman2200/povpoi/internal/store"
)

// Console prints each frame as one line. On a terminal every LED is a
// truecolor block; otherwise frames are printed as hex triplets.
type Console struct {
	w     io.Writer
	color bool
	buf   []byte
	// Every prints only every n-th frame.
	Every int
	n     int
}

// NewConsole writes frames to w; colour is used when w is a terminal.
func NewConsole(w io.Writer) *Console {
	c := &Console{w: w, Every: 1}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.color = true
	}
	return c
}

func (c *Console) Write(frame []store.RGB, brightness uint8) error {
	c.n++
	if c.Every > 1 && c.n%c.Every != 0 {
		return nil
	}
	b := c.buf[:0]
	if c.color {
		b = append(b, '\r')
	}
	for _, px := range frame {
		px = px.Scale(brightness)
		if c.color {
			b = fmt.Appendf(b, "\x1b[38;2;%d;%d;%dm█", px.R, px.G, px.B)
			continue
		}
		b = fmt.Appendf(b, "%02x%02x%02x ", px.R, px.G, px.B)
	}
	if c.color {
		b = append(b, "\x1b[0m"...)
	} else {
		b = append(b, '\n')
	}
	c.buf = b
	_, err := c.w.Write(b)
	return err
}

func (c *Console) Close() error {
	if c.color {
		_, err := io.WriteString(c.w, "\x1b[0m\n")
		return err
	}
	return nil
}
