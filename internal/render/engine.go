package render

import (
	"errors"
	"time"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/layout"
	"github.com/coreman2200/povpoi/internal/protocol"
	"github.com/coreman2200/povpoi/internal/sequence"
	"github.com/coreman2200/povpoi/internal/store"
)

// Driver abstracts the LED sink (SPI strip, console, recorder).
type Driver interface {
	Write(frame []store.RGB, brightness uint8) error
}

// target identifies what is on screen so per-target state (column cursor)
// can be dropped when it changes.
type target struct {
	pattern bool
	slot    int
}

var noTarget = target{slot: -1}

// Engine produces one display frame per RenderOnce from the display
// context, maps it onto the strip and hands it to the driver.
type Engine struct {
	Ctx    *display.Context
	Layout layout.Layout
	Drv    Driver
	Limit  Limiter

	player *sequence.Player

	// framebuffers
	Frame []store.RGB // display rows
	Strip []store.RGB // physical LEDs

	tick     uint32
	column   int
	shown    target
	selected uint32

	cycleN     int
	cycleStart time.Time

	energy [store.MaxImageHeight]uint8
	seed   uint32

	// metrics (last durations in ms)
	Last struct {
		RenderMS   float64
		Brightness uint8
	}
}

// NewEngine allocates buffers and returns an Engine bound to ctx.
func NewEngine(ctx *display.Context, l layout.Layout, drv Driver) (*Engine, error) {
	if ctx == nil || ctx.Store == nil {
		return nil, errors.New("render: nil display context")
	}
	l = l.Normalize()
	if ctx.Pixels <= 0 || ctx.Pixels > l.DisplayCount {
		ctx.Pixels = l.DisplayCount
	}
	e := &Engine{
		Ctx:    ctx,
		Layout: l,
		Drv:    drv,
		Frame:  make([]store.RGB, ctx.Pixels),
		Strip:  make([]store.RGB, l.Count()),
		shown:  noTarget,
		seed:   0x2545F491,
	}
	e.selected = ctx.Selected
	e.player = sequence.NewPlayer(&ctx.Playback, sequence.Hooks{})
	return e, nil
}

// SetHooks replaces the sequence player's callbacks.
func (e *Engine) SetHooks(h sequence.Hooks) {
	e.player = sequence.NewPlayer(&e.Ctx.Playback, h)
}

// Tick is the shared pattern tick counter.
func (e *Engine) Tick() uint32 { return e.tick }

// RenderOnce renders a single frame for now and writes it to the driver.
func (e *Engine) RenderOnce(now time.Time) error {
	start := time.Now()
	ctx := e.Ctx

	if ctx.Selected != e.selected {
		e.selected = ctx.Selected
		e.shown = noTarget
		e.cycleN = 0
		e.cycleStart = now
	}

	switch ctx.State.Mode {
	case display.Image:
		slot, ok := e.resolve(false, ctx.State.Index, now)
		e.drawImage(slot, ok)
	case display.Pattern:
		slot, ok := e.resolve(true, ctx.State.Index, now)
		e.drawPattern(slot, ok)
	case display.Sequence:
		e.drawSequence(now)
	case display.Live:
		copy(e.Frame, ctx.Live.Pixels[:len(e.Frame)])
	default:
		fill(e.Frame, store.Black)
	}
	e.tick++

	bright := ctx.State.Brightness
	if e.Limit.LimitMA > 0 {
		bright = e.Limit.Apply(e.Frame, bright)
	}
	e.Layout.Map(e.Strip, e.Frame)
	e.Last.Brightness = bright

	e.Last.RenderMS = float64(time.Since(start).Microseconds()) / 1000.0
	if e.Drv != nil {
		return e.Drv.Write(e.Strip, bright)
	}
	return nil
}

// resolve turns a selection index into a store slot, following the
// auto-cycle sentinel through the active slots of the requested kind.
func (e *Engine) resolve(pattern bool, index uint8, now time.Time) (int, bool) {
	if index != protocol.AutoCycle {
		return int(index), true
	}
	if e.cycleStart.IsZero() {
		e.cycleStart = now
	}
	if dwell := e.Ctx.AutoCycle; dwell > 0 && now.Sub(e.cycleStart) >= dwell {
		n := int(now.Sub(e.cycleStart) / dwell)
		e.cycleN += n
		e.cycleStart = e.cycleStart.Add(time.Duration(n) * dwell)
	}
	if pattern {
		return e.Ctx.Store.NthActivePattern(e.cycleN)
	}
	return e.Ctx.Store.NthActiveImage(e.cycleN)
}

func (e *Engine) show(t target) {
	if t != e.shown {
		e.shown = t
		e.column = 0
	}
}

func (e *Engine) drawImage(slot int, ok bool) {
	img, active := e.Ctx.Store.Image(slot)
	if !ok || !active || img.Width == 0 {
		e.shown = noTarget
		fill(e.Frame, store.Black)
		return
	}
	e.show(target{slot: slot})
	if e.column >= int(img.Width) {
		e.column = 0
	}
	col := img.Column(e.column)
	n := copy(e.Frame, col)
	fill(e.Frame[n:], store.Black)
	e.column = (e.column + 1) % int(img.Width)
}

func (e *Engine) drawPattern(slot int, ok bool) {
	p, active := e.Ctx.Store.Pattern(slot)
	if !ok || !active {
		e.shown = noTarget
		fill(e.Frame, store.Black)
		return
	}
	e.show(target{pattern: true, slot: slot})
	if len(e.Frame) == 0 {
		return
	}
	e.renderPattern(e.Frame, p)
}

func (e *Engine) drawSequence(now time.Time) {
	seq, ok := e.Ctx.Store.Sequence(int(e.Ctx.State.Index))
	if !ok {
		e.shown = noTarget
		fill(e.Frame, store.Black)
		return
	}
	item, ok := e.player.Tick(seq, now)
	if !ok {
		fill(e.Frame, store.Black)
		return
	}
	if item.IsPattern() {
		e.drawPattern(int(item.Index()), true)
		return
	}
	e.drawImage(int(item.Index()), true)
}

func fill(dst []store.RGB, c store.RGB) {
	for i := range dst {
		dst[i] = c
	}
}
