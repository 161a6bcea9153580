package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/layout"
	"github.com/coreman2200/povpoi/internal/protocol"
	"github.com/coreman2200/povpoi/internal/store"
)

// fakeDriver captures the last frame written.
type fakeDriver struct {
	last       []store.RGB
	brightness uint8
	writes     int
}

func (d *fakeDriver) Write(buf []store.RGB, brightness uint8) error {
	d.last = append(d.last[:0], buf...)
	d.brightness = brightness
	d.writes++
	return nil
}

func plain(n int) layout.Layout {
	return layout.Layout{NumLEDs: n, DisplayCount: n}
}

func newEngine(t *testing.T, pixels int) (*Engine, *display.Context, *fakeDriver) {
	t.Helper()
	ctx := display.NewContext(store.New(), pixels)
	drv := &fakeDriver{}
	e, err := NewEngine(ctx, plain(pixels), drv)
	require.NoError(t, err)
	return e, ctx, drv
}

var (
	red    = store.RGB{R: 255}
	green  = store.RGB{G: 255}
	blue   = store.RGB{B: 255}
	yellow = store.RGB{R: 255, G: 255}
	white  = store.RGB{R: 255, G: 255, B: 255}
)

func TestTwoByTwoImageScansColumns(t *testing.T) {
	e, ctx, drv := newEngine(t, 2)
	img := &ctx.Store.Images[0]
	store.Resample(img, []byte{255, 0, 0, 0, 255, 0, 0, 0, 255, 255, 255, 0}, 2, 2, 2, 2)

	now := time.Unix(0, 0)
	ctx.Select(display.Image, 0, now)

	require.NoError(t, e.RenderOnce(now))
	assert.Equal(t, []store.RGB{red, green}, e.Frame)
	assert.Equal(t, []store.RGB{red, green}, drv.last)

	require.NoError(t, e.RenderOnce(now.Add(16*time.Millisecond)))
	assert.Equal(t, []store.RGB{blue, yellow}, e.Frame)

	require.NoError(t, e.RenderOnce(now.Add(32*time.Millisecond)))
	assert.Equal(t, []store.RGB{red, green}, e.Frame, "cursor wraps to column 0")
}

func TestColumnCursorResetsOnSlotChange(t *testing.T) {
	e, ctx, _ := newEngine(t, 1)
	store.Resample(&ctx.Store.Images[0], []byte{1, 1, 1, 2, 2, 2, 3, 3, 3}, 3, 1, 3, 1)
	store.Resample(&ctx.Store.Images[1], []byte{9, 9, 9, 8, 8, 8}, 2, 1, 2, 1)
	now := time.Unix(0, 0)

	ctx.Select(display.Image, 0, now)
	e.RenderOnce(now)
	e.RenderOnce(now)
	ctx.Select(display.Image, 1, now)
	e.RenderOnce(now)
	assert.Equal(t, store.RGB{R: 9, G: 9, B: 9}, e.Frame[0])

	ctx.Select(display.Image, 0, now)
	e.RenderOnce(now)
	assert.Equal(t, store.RGB{R: 1, G: 1, B: 1}, e.Frame[0])
}

func TestGradientIsTimeInvariant(t *testing.T) {
	e, ctx, _ := newEngine(t, 8)
	require.True(t, ctx.Store.SetPattern(0, store.Pattern{Kind: store.Gradient, Color1: store.Black, Color2: white, Speed: 200}))
	now := time.Unix(0, 0)
	ctx.Select(display.Pattern, 0, now)

	var first []store.RGB
	for i := 0; i < 50; i++ {
		require.NoError(t, e.RenderOnce(now.Add(time.Duration(i)*time.Second)))
		assert.Equal(t, store.Black, e.Frame[0])
		assert.Equal(t, white, e.Frame[7])
		if first == nil {
			first = append([]store.RGB(nil), e.Frame...)
			continue
		}
		assert.Equal(t, first, e.Frame)
	}
	for i := 1; i < 8; i++ {
		assert.GreaterOrEqual(t, first[i].R, first[i-1].R)
	}
}

func TestInactiveSlotsRenderBlack(t *testing.T) {
	e, ctx, _ := newEngine(t, 4)
	now := time.Unix(0, 0)
	for _, m := range []display.Mode{display.Image, display.Pattern, display.Sequence} {
		ctx.Select(m, 3, now)
		e.Frame[0] = red
		require.NoError(t, e.RenderOnce(now))
		assert.Equal(t, []store.RGB{{}, {}, {}, {}}, e.Frame, m.String())
	}
	ctx.Select(display.Image, 200, now)
	require.NoError(t, e.RenderOnce(now))
	assert.Equal(t, store.Black, e.Frame[0])
}

func TestLiveCopiesFrameVerbatim(t *testing.T) {
	e, ctx, _ := newEngine(t, 3)
	ctx.Select(display.Live, 0, time.Unix(0, 0))
	ctx.SetLive([]byte{1, 2, 3, 4, 5, 6})
	require.NoError(t, e.RenderOnce(time.Unix(0, 0)))
	assert.Equal(t, []store.RGB{{R: 1, G: 2, B: 3}, {R: 4, G: 5, B: 6}, {}}, e.Frame)
}

func TestSequenceRendersItemsByKind(t *testing.T) {
	e, ctx, _ := newEngine(t, 1)
	store.Resample(&ctx.Store.Images[0], []byte{7, 7, 7}, 1, 1, 1, 1)
	ctx.Store.SetPattern(1, store.Pattern{Kind: store.Gradient, Color1: blue, Color2: blue})
	ctx.Store.SetSequence(0, []store.Item{store.ImageItem(0), store.PatternSlot(1)}, []uint16{100, 100}, false)

	t0 := time.Unix(0, 0)
	ctx.Select(display.Sequence, 0, t0)
	e.RenderOnce(t0)
	assert.Equal(t, store.RGB{R: 7, G: 7, B: 7}, e.Frame[0])
	e.RenderOnce(t0.Add(150 * time.Millisecond))
	assert.Equal(t, blue, e.Frame[0])
	e.RenderOnce(t0.Add(time.Hour))
	assert.Equal(t, blue, e.Frame[0], "non-looping sequence holds its last item")
}

func TestSequenceTimerStartsWhenSequenceArrives(t *testing.T) {
	e, ctx, _ := newEngine(t, 1)
	for i, v := range []byte{10, 20, 30} {
		store.Resample(&ctx.Store.Images[i], []byte{v, v, v}, 1, 1, 1, 1)
	}

	t0 := time.Unix(0, 0)
	ctx.Select(display.Sequence, 0, t0)
	e.RenderOnce(t0)
	assert.Equal(t, store.Black, e.Frame[0], "no sequence uploaded yet")

	late := t0.Add(2500 * time.Millisecond)
	ctx.Store.SetSequence(0,
		[]store.Item{store.ImageItem(0), store.ImageItem(1), store.ImageItem(2)},
		[]uint16{1000, 1000, 1000}, true)
	e.RenderOnce(late)
	assert.Equal(t, uint8(0), ctx.Playback.CurrentItem)
	assert.Equal(t, store.RGB{R: 10, G: 10, B: 10}, e.Frame[0])

	e.RenderOnce(late.Add(1000 * time.Millisecond))
	assert.Equal(t, store.RGB{R: 20, G: 20, B: 20}, e.Frame[0])
}

func TestAutoCycleVisitsActivePatterns(t *testing.T) {
	e, ctx, _ := newEngine(t, 1)
	ctx.AutoCycle = time.Second
	ctx.Store.SetPattern(2, store.Pattern{Kind: store.Gradient, Color1: red})
	ctx.Store.SetPattern(9, store.Pattern{Kind: store.Gradient, Color1: green})

	t0 := time.Unix(0, 0)
	ctx.Select(display.Pattern, protocol.AutoCycle, t0)
	e.RenderOnce(t0)
	assert.Equal(t, red, e.Frame[0])
	e.RenderOnce(t0.Add(1500 * time.Millisecond))
	assert.Equal(t, green, e.Frame[0])
	e.RenderOnce(t0.Add(2500 * time.Millisecond))
	assert.Equal(t, red, e.Frame[0])
}

func TestLayoutReservesAndFlips(t *testing.T) {
	ctx := display.NewContext(store.New(), 31)
	drv := &fakeDriver{}
	e, err := NewEngine(ctx, layout.Default, drv)
	require.NoError(t, err)
	ctx.Select(display.Live, 0, time.Unix(0, 0))
	ctx.SetLive([]byte{255, 0, 0})

	require.NoError(t, e.RenderOnce(time.Unix(0, 0)))
	require.Len(t, drv.last, 32)
	assert.Equal(t, store.Black, drv.last[0])
	assert.Equal(t, red, drv.last[31])
	assert.Equal(t, uint8(display.DefaultBrightness), drv.brightness)
}

func TestPatternsStayInBoundsAndAdvance(t *testing.T) {
	e, ctx, _ := newEngine(t, 16)
	now := time.Unix(0, 0)
	for k := store.Rainbow; k <= store.Plasma; k++ {
		require.True(t, ctx.Store.SetPattern(0, store.Pattern{Kind: k, Color1: white, Color2: blue, Speed: 64}))
		ctx.Select(display.Pattern, 0, now)
		for i := 0; i < 300; i++ {
			require.NoError(t, e.RenderOnce(now), k.String())
		}
	}
}

func TestSparkleDecaysMonotonically(t *testing.T) {
	e, _, _ := newEngine(t, 8)
	p := store.Pattern{Kind: store.Sparkle, Color1: white, Speed: 0}
	e.energy[3] = 200
	e.seed = 1
	prev := e.energy
	for i := 0; i < 20; i++ {
		e.sparkle(e.Frame, &p)
		for j := 0; j < 8; j++ {
			if e.energy[j] != 255 {
				assert.LessOrEqual(t, e.energy[j], prev[j])
			}
		}
		prev = e.energy
	}
}

func TestLimiterCapsEstimatedCurrent(t *testing.T) {
	frame := make([]store.RGB, 30)
	for i := range frame {
		frame[i] = white
	}
	l := Limiter{LimitMA: 300, ChanMA: 20, Knee: 0.9}
	// 30 LEDs at 60 mA is 1800 mA at full brightness
	b := l.Apply(frame, 255)
	assert.Less(t, b, uint8(255))
	assert.LessOrEqual(t, l.Estimate(frame, b), 300.0)

	dark := make([]store.RGB, 30)
	assert.Equal(t, uint8(255), l.Apply(dark, 255))
	assert.Equal(t, uint8(77), Limiter{}.Apply(frame, 77))
}

func TestEngineRenderPathDoesNotAllocate(t *testing.T) {
	e, ctx, _ := newEngine(t, 31)
	ctx.Store.SetPattern(0, store.Pattern{Kind: store.Plasma, Speed: 10})
	now := time.Unix(0, 0)
	ctx.Select(display.Pattern, 0, now)
	e.Drv = nil
	allocs := testing.AllocsPerRun(100, func() { _ = e.RenderOnce(now) })
	assert.Zero(t, allocs)
}
