// Package led holds the LED output sinks the renderer writes to.
package led

import "github.com/coreman2200/povpoi/internal/store"

// Driver abstracts an LED output sink.
type Driver interface {
	// Write pushes one strip frame at the given global brightness.
	Write(frame []store.RGB, brightness uint8) error
	// Close releases resources.
	Close() error
}

// Pack appends frame as RGB bytes, scaled by brightness/255 unless
// brightness is 255.
func Pack(dst []byte, frame []store.RGB, brightness uint8) []byte {
	for _, c := range frame {
		if brightness != 255 {
			c = c.Scale(brightness)
		}
		dst = append(dst, c.R, c.G, c.B)
	}
	return dst
}

// Multi fans a frame out to several sinks. Every sink is written; the first
// error is returned.
type Multi []Driver

func (m Multi) Write(frame []store.RGB, brightness uint8) error {
	var first error
	for _, d := range m {
		if err := d.Write(frame, brightness); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) Close() error {
	var first error
	for _, d := range m {
		if err := d.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
