// Package layout maps display rows onto physical strip positions.
//
// The strip is wired from the controller board outward. LED 0 is driven as a
// level shifter and never shows content, so display rows start at
// DisplayStart. With Flip set, row 0 (the top of an image column) lands on
// the LED farthest from the board.
package layout

import "github.com/coreman2200/povpoi/internal/store"

type Layout struct {
	NumLEDs      int
	DisplayStart int
	DisplayCount int
	Flip         bool
}

// Default is the 32-LED APA102 poi strip.
var Default = Layout{NumLEDs: 32, DisplayStart: 1, DisplayCount: 31, Flip: true}

// Normalize clamps the display window into the strip.
func (l Layout) Normalize() Layout {
	if l.NumLEDs <= 0 {
		l.NumLEDs = 1
	}
	if l.DisplayStart < 0 || l.DisplayStart >= l.NumLEDs {
		l.DisplayStart = 0
	}
	if l.DisplayCount <= 0 || l.DisplayStart+l.DisplayCount > l.NumLEDs {
		l.DisplayCount = l.NumLEDs - l.DisplayStart
	}
	if l.DisplayCount > store.MaxImageHeight {
		l.DisplayCount = store.MaxImageHeight
	}
	return l
}

// Index maps a display row to its physical LED index.
func (l Layout) Index(row int) int {
	if l.Flip {
		return l.DisplayStart + l.DisplayCount - 1 - row
	}
	return l.DisplayStart + row
}

func (l Layout) Count() int { return l.NumLEDs }

// Map writes the display frame into the physical strip buffer. Reserved LEDs
// are forced black.
func (l Layout) Map(strip, frame []store.RGB) {
	for i := range strip {
		strip[i] = store.Black
	}
	for row := 0; row < l.DisplayCount && row < len(frame); row++ {
		if idx := l.Index(row); idx >= 0 && idx < len(strip) {
			strip[idx] = frame[row]
		}
	}
}
