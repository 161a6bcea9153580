// Package display holds the mutable device state shared by the command
// dispatcher (single writer) and the renderer (single reader).
package display

import (
	"time"

	"github.com/coreman2200/povpoi/internal/store"
)

type Mode uint8

const (
	Idle Mode = iota
	Image
	Pattern
	Sequence
	Live
	numModes
)

func (m Mode) Valid() bool { return m < numModes }

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Image:
		return "image"
	case Pattern:
		return "pattern"
	case Sequence:
		return "sequence"
	case Live:
		return "live"
	default:
		return "invalid"
	}
}

const (
	DefaultFramePeriod = 16 * time.Millisecond
	DefaultBrightness  = 128
	DefaultAutoCycle   = 2 * time.Second
)

// State is the display selection.
type State struct {
	Mode        Mode
	Index       uint8
	FramePeriod time.Duration
	Brightness  uint8
}

// Playback is the sequence timer that belongs to the current selection.
type Playback struct {
	CurrentItem uint8
	ItemStart   time.Time
	Playing     bool
	// Started is set on the first tick that finds an active sequence; the
	// item timer runs from then, not from the selection.
	Started bool
}

// LiveFrame is the single, not double-buffered, frame written by live-draw.
type LiveFrame struct {
	Pixels [store.MaxImageHeight]store.RGB
}

// Context is everything a command can change. The dispatcher and renderer
// take it explicitly rather than reaching for globals.
type Context struct {
	Store    *store.Store
	State    State
	Playback Playback
	Live     LiveFrame

	// Pixels is the number of display (non-reserved) LEDs.
	Pixels int
	// AutoCycle is the dwell per slot when Index is the auto-cycle sentinel.
	AutoCycle time.Duration

	// Selected is bumped on every selection change so the renderer can drop
	// per-selection state (column cursor, auto-cycle timer).
	Selected uint32
}

func NewContext(s *store.Store, pixels int) *Context {
	if pixels > store.MaxImageHeight {
		pixels = store.MaxImageHeight
	}
	return &Context{
		Store:  s,
		Pixels: pixels,
		State: State{
			FramePeriod: DefaultFramePeriod,
			Brightness:  DefaultBrightness,
		},
		AutoCycle: DefaultAutoCycle,
	}
}

// Select changes mode and index and resets playback in the same step, even
// when neither value changes.
func (c *Context) Select(m Mode, index uint8, now time.Time) {
	c.State.Mode = m
	c.State.Index = index
	c.ResetPlayback(now)
	c.Selected++
}

// ResetPlayback rewinds the sequence timer to the first item.
func (c *Context) ResetPlayback(now time.Time) {
	c.Playback = Playback{ItemStart: now, Playing: c.State.Mode == Sequence}
}

// SetLive overwrites the live frame; missing pixels become black.
func (c *Context) SetLive(rgb []byte) {
	for i := 0; i < c.Pixels; i++ {
		off := i * 3
		if off+3 > len(rgb) {
			c.Live.Pixels[i] = store.Black
			continue
		}
		c.Live.Pixels[i] = store.RGB{R: rgb[off], G: rgb[off+1], B: rgb[off+2]}
	}
}
