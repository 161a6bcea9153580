// Package selftest drives the strip through fixed sweeps so wiring and
// channel order can be checked by eye.
package selftest

import (
	"context"
	"fmt"
	"time"

	"github.com/coreman2200/povpoi/internal/layout"
	"github.com/coreman2200/povpoi/internal/render"
	"github.com/coreman2200/povpoi/internal/store"
)

type Kind string

const (
	None       Kind = ""
	Boot       Kind = "boot"
	IndexSweep Kind = "index_sweep"
	RGBTest    Kind = "rgb_channels"
)

// Parse accepts the names used in configs and on the command line.
func Parse(s string) (Kind, error) {
	switch k := Kind(s); k {
	case None, Boot, IndexSweep, RGBTest:
		return k, nil
	}
	return None, fmt.Errorf("selftest: unknown test %q", s)
}

type Plan struct{ Kind Kind }

type Runner struct {
	plan Plan
	step int
}

func NewRunner(plan Plan) *Runner { return &Runner{plan: plan} }
func (r *Runner) Kind() Kind      { return r.plan.Kind }

// Step fills the display frame for the next step; returns false when
// complete, leaving frame black.
func (r *Runner) Step(frame []store.RGB) bool {
	n := len(frame)
	for i := range frame {
		frame[i] = store.Black
	}

	switch r.plan.Kind {
	case Boot:
		// green wipe from the top row, one row per step
		if r.step >= n {
			return false
		}
		for i := 0; i <= r.step; i++ {
			frame[i] = store.RGB{G: 255}
		}
	case IndexSweep:
		if r.step >= n {
			return false
		}
		frame[r.step] = store.RGB{R: 255, G: 255, B: 255}
	case RGBTest:
		var c store.RGB
		switch r.step {
		case 0:
			c.R = 255
		case 1:
			c.G = 255
		case 2:
			c.B = 255
		default:
			return false
		}
		for i := range frame {
			frame[i] = c
		}
	default:
		return false
	}
	r.step++
	return true
}

// Run plays kind on drv, one step per interval, then holds the last step
// for hold and clears the strip. It blocks and stops early when ctx ends.
func Run(ctx context.Context, kind Kind, l layout.Layout, drv render.Driver, brightness uint8, interval, hold time.Duration) error {
	if kind == None || drv == nil {
		return nil
	}
	l = l.Normalize()
	frame := make([]store.RGB, l.DisplayCount)
	strip := make([]store.RGB, l.Count())
	r := NewRunner(Plan{Kind: kind})

	t := time.NewTicker(interval)
	defer t.Stop()
	for r.Step(frame) {
		l.Map(strip, frame)
		if err := drv.Write(strip, brightness); err != nil {
			return fmt.Errorf("selftest %s: %w", kind, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(hold):
	}
	// Step left frame black
	l.Map(strip, frame)
	return drv.Write(strip, brightness)
}
