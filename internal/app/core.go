// Package app wires ports, framers, the dispatcher and the renderer into
// the cooperative control loop.
package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/coreman2200/povpoi/internal/bridge"
	"github.com/coreman2200/povpoi/internal/diagnostics"
	"github.com/coreman2200/povpoi/internal/dispatch"
	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/layout"
	"github.com/coreman2200/povpoi/internal/protocol"
	"github.com/coreman2200/povpoi/internal/render"
	"github.com/coreman2200/povpoi/internal/sequence"
	"github.com/coreman2200/povpoi/internal/storage"
	"github.com/coreman2200/povpoi/internal/store"
	"github.com/coreman2200/povpoi/internal/transport"
)

const (
	DefaultPollInterval = time.Millisecond
	// maxReadsPerStep bounds how long one port can hold the loop.
	maxReadsPerStep = 16
)

type Options struct {
	Layout      layout.Layout
	Driver      render.Driver
	Storage     storage.Provider // nil disables the storage opcodes
	Limiter     render.Limiter
	Brightness  uint8
	FramePeriod time.Duration
	AutoCycle   time.Duration
	// Timeout bounds partial frames on every link.
	Timeout time.Duration
	// Pacing separates reply fragments on wireless links.
	Pacing       time.Duration
	PollInterval time.Duration
	Log          zerolog.Logger
}

type link struct {
	name   string
	port   transport.Port
	framer *protocol.Framer
	bridge *bridge.Bridge // nil on wired links
	closed bool
}

// Core owns every piece of mutable device state. All of it is touched only
// from Step; other goroutines talk to the core through ports.
type Core struct {
	Ctx    *display.Context
	Engine *render.Engine
	Disp   *dispatch.Dispatcher

	PollInterval time.Duration

	links   []*link
	timeout time.Duration
	pacing  time.Duration
	now     time.Time
	last    time.Time
	started bool
	frames  uint64
	rerrs   uint64
	readBuf [256]byte

	mu   sync.Mutex
	snap diagnostics.Snapshot

	log zerolog.Logger
}

// NewCore builds the content store, display context, dispatcher and
// renderer from o.
func NewCore(o Options) (*Core, error) {
	l := o.Layout.Normalize()
	ctx := display.NewContext(store.New(), l.DisplayCount)
	if o.Brightness != 0 {
		ctx.State.Brightness = o.Brightness
	}
	if o.FramePeriod > 0 {
		ctx.State.FramePeriod = o.FramePeriod
	}
	if o.AutoCycle > 0 {
		ctx.AutoCycle = o.AutoCycle
	}

	eng, err := render.NewEngine(ctx, l, o.Driver)
	if err != nil {
		return nil, err
	}
	eng.Limit = o.Limiter

	c := &Core{
		Ctx:          ctx,
		Engine:       eng,
		Disp:         dispatch.New(ctx, o.Storage, o.Log),
		PollInterval: o.PollInterval,
		timeout:      o.Timeout,
		pacing:       o.Pacing,
		log:          o.Log.With().Str("component", "core").Logger(),
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.pacing <= 0 {
		c.pacing = bridge.DefaultPacing
	}
	eng.SetHooks(sequence.Hooks{
		Advance: func(i uint8, item store.Item) {
			c.log.Debug().Uint8("item", i).Bool("pattern", item.IsPattern()).Uint8("slot", item.Index()).Msg("sequence advance")
		},
		Finish: func() { c.log.Debug().Msg("sequence finished") },
	})
	return c, nil
}

// AddWired attaches a port speaking the wired framing. Replies go back to
// the same port.
func (c *Core) AddWired(name string, p transport.Port) {
	l := &link{name: name, port: p}
	l.framer = protocol.NewFramer(protocol.DefaultCapacity, c.timeout,
		c.log.With().Str("link", name).Logger(),
		func(f protocol.Frame) { c.Disp.Dispatch(f, p, c.now) })
	c.links = append(c.links, l)
}

// AddWireless attaches a port speaking the wireless framing. Commands are
// translated into wired frames for a private framer; replies are
// translated back and paced onto the port.
func (c *Core) AddWireless(name string, p transport.Port) {
	l := &link{name: name, port: p}
	log := c.log.With().Str("link", name).Logger()
	var replies io.Writer
	l.framer = protocol.NewFramer(protocol.DefaultCapacity, c.timeout, log,
		func(f protocol.Frame) { c.Disp.Dispatch(f, replies, c.now) })
	l.bridge = bridge.New(stepWriter{c: c, f: l.framer}, p, c.timeout, c.pacing, log)
	replies = l.bridge.Replies()
	c.links = append(c.links, l)
}

// stepWriter feeds translated frames into a framer stamped with the time
// of the current step.
type stepWriter struct {
	c *Core
	f *protocol.Framer
}

func (w stepWriter) Write(p []byte) (int, error) {
	for _, b := range p {
		w.f.Feed(b, w.c.now)
	}
	return len(p), nil
}

// Step runs one loop iteration at now: drain ports, dispatch, flush paced
// replies, expire stale partial frames, and render when a frame is due.
// It reports whether a frame was rendered.
func (c *Core) Step(now time.Time) bool {
	c.now = now
	for _, l := range c.links {
		c.drain(l, now)
	}
	for _, l := range c.links {
		if l.bridge != nil {
			l.bridge.Flush(now)
			l.bridge.Expire(now)
		}
		l.framer.Expire(now)
	}

	if c.started && now.Sub(c.last) < c.Ctx.State.FramePeriod {
		return false
	}
	c.started = true
	c.last = now
	if err := c.Engine.RenderOnce(now); err != nil {
		c.rerrs++
		// first failure and then once every ~second at 60fps
		if c.rerrs == 1 || c.rerrs%64 == 0 {
			c.log.Warn().Err(err).Uint64("errors", c.rerrs).Msg("led sink write failed")
		}
	}
	c.frames++
	c.publish()
	return true
}

func (c *Core) drain(l *link, now time.Time) {
	if l.closed {
		return
	}
	for i := 0; i < maxReadsPerStep; i++ {
		n, err := l.port.Read(c.readBuf[:])
		for _, b := range c.readBuf[:n] {
			if l.bridge != nil {
				l.bridge.Feed(b, now)
			} else {
				l.framer.Feed(b, now)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				l.closed = true
				c.log.Warn().Str("link", l.name).Msg("link closed")
			} else {
				c.log.Debug().Err(err).Str("link", l.name).Msg("read failed")
			}
			return
		}
		if n == 0 {
			return
		}
	}
}

func (c *Core) publish() {
	s := diagnostics.Snapshot{
		Links:        make([]diagnostics.Link, 0, len(c.links)),
		Dispatch:     c.Disp.Stats(),
		Frames:       c.frames,
		RenderErrors: c.rerrs,
		RenderMS:     c.Engine.Last.RenderMS,
		Mode:         c.Ctx.State.Mode.String(),
		Index:        c.Ctx.State.Index,
		Brightness:   c.Ctx.State.Brightness,
		Limited:      c.Engine.Last.Brightness,
	}
	for _, l := range c.links {
		dl := diagnostics.Link{Name: l.name, Framer: l.framer.Stats(), Closed: l.closed}
		if l.bridge != nil {
			st := l.bridge.Stats()
			dl.Bridge = &st
		}
		s.Links = append(s.Links, dl)
	}
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// Snapshot returns the counters as of the last rendered frame. It is safe
// to call from any goroutine.
func (c *Core) Snapshot() diagnostics.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.snap
	s.Links = append([]diagnostics.Link(nil), c.snap.Links...)
	return s
}

// Run steps the core until ctx is done, yielding PollInterval between
// iterations.
func (c *Core) Run(ctx context.Context) error {
	t := time.NewTicker(c.PollInterval)
	defer t.Stop()
	c.log.Info().
		Int("links", len(c.links)).
		Dur("frame_period", c.Ctx.State.FramePeriod).
		Int("pixels", c.Ctx.Pixels).
		Msg("control loop started")
	for {
		c.Step(time.Now())
		select {
		case <-ctx.Done():
			c.log.Info().Uint64("frames", c.frames).Msg("control loop stopped")
			return nil
		case <-t.C:
		}
	}
}
