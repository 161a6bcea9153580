package render

import (
	"math"

	"github.com/coreman2200/povpoi/internal/store"
)

// Pattern formulas. Everything except sparkle is a pure function of
// (tick, pixel, pattern); sparkle keeps a per-pixel energy that only decays
// unless the random source ignites a pixel.

// step is how far a pattern moves per tick for a given speed byte.
func step(speed uint8) int { return int(speed)/16 + 1 }

// wheel maps a hue byte onto a fully saturated colour.
func wheel(h uint8) store.RGB {
	x := int(h) * 6
	seg, f := x/256, uint8(x%256)
	switch seg {
	case 0:
		return store.RGB{R: 255, G: f}
	case 1:
		return store.RGB{R: 255 - f, G: 255}
	case 2:
		return store.RGB{G: 255, B: f}
	case 3:
		return store.RGB{G: 255 - f, B: 255}
	case 4:
		return store.RGB{R: f, B: 255}
	default:
		return store.RGB{R: 255, B: 255 - f}
	}
}

// sine8 maps a phase byte onto 0..255.
func sine8(phase int) uint8 {
	return uint8(127.5 + 127.5*math.Sin(2*math.Pi*float64(phase&0xFF)/256))
}

// smoothstep eases x in [0,255] with 3x^2 - 2x^3.
func smoothstep(x uint8) uint8 {
	f := float64(x) / 255
	return uint8(255 * f * f * (3 - 2*f))
}

// noise is a cheap integer hash used where a pattern wants texture but must
// stay a function of its inputs.
func noise(a, b uint32) uint8 {
	h := a*0x9E3779B1 ^ b*0x85EBCA77
	h ^= h >> 15
	h *= 0xC2B2AE3D
	h ^= h >> 13
	return uint8(h)
}

func rainbow(dst []store.RGB, tick uint32, p *store.Pattern) {
	n := len(dst)
	off := int(tick) * step(p.Speed)
	for i := range dst {
		dst[i] = wheel(uint8(i*256/n + off))
	}
}

func wave(dst []store.RGB, tick uint32, p *store.Pattern) {
	n := len(dst)
	off := int(tick) * step(p.Speed)
	for i := range dst {
		level := sine8(i*256/n + off)
		dst[i] = store.Lerp(p.Color2, p.Color1, int(level), 255)
	}
}

// gradient ignores tick: it is the same every frame.
func gradient(dst []store.RGB, _ uint32, p *store.Pattern) {
	n := len(dst)
	if n == 1 {
		dst[0] = p.Color1
		return
	}
	for i := range dst {
		dst[i] = store.Lerp(p.Color1, p.Color2, i, n-1)
	}
}

func fire(dst []store.RGB, tick uint32, p *store.Pattern) {
	n := len(dst)
	t := tick * uint32(step(p.Speed))
	for i := range dst {
		// hotter toward row n-1 (the board end), flickering with time
		base := 255 * i / n
		flick := int(noise(t/4, uint32(i))) / 3
		heat := base - flick
		if heat < 0 {
			heat = 0
		}
		var c store.RGB
		switch {
		case heat < 85:
			c = store.RGB{R: uint8(heat * 3)}
		case heat < 170:
			c = store.RGB{R: 255, G: uint8((heat - 85) * 3)}
		default:
			c = store.RGB{R: 255, G: 255, B: uint8((heat - 170) * 3)}
		}
		if p.Color1 != store.Black {
			c = store.Lerp(c, p.Color1, heat, 255*2)
		}
		dst[i] = c
	}
}

func comet(dst []store.RGB, tick uint32, p *store.Pattern) {
	n := len(dst)
	head := int(tick) * step(p.Speed) % n
	tail := n/3 + 1
	for i := range dst {
		d := (head - i + n) % n
		if d >= tail {
			dst[i] = p.Color2
			continue
		}
		dst[i] = store.Lerp(p.Color2, p.Color1, tail-d, tail)
	}
}

func breathing(dst []store.RGB, tick uint32, p *store.Pattern) {
	ph := int(tick) * step(p.Speed) % 512
	if ph > 255 {
		ph = 511 - ph
	}
	c := p.Color1.Scale(smoothstep(uint8(ph)))
	for i := range dst {
		dst[i] = c
	}
}

func plasma(dst []store.RGB, tick uint32, p *store.Pattern) {
	n := len(dst)
	t := int(tick) * step(p.Speed)
	for i := range dst {
		x := i * 256 / n
		v := int(sine8(x+t)) + int(sine8(2*x-t/2)) + int(sine8(x/2+t/3))
		dst[i] = wheel(uint8(v / 3))
	}
}

// sparkle decays every pixel and, with a probability driven by speed,
// ignites one. Energy never grows without the random draw.
func (e *Engine) sparkle(dst []store.RGB, p *store.Pattern) {
	n := len(dst)
	for i := 0; i < n; i++ {
		en := e.energy[i]
		en -= en/8 + 1
		if en > e.energy[i] { // wrapped below zero
			en = 0
		}
		e.energy[i] = en
	}
	chance := uint32(p.Speed) + 16
	if e.rng()%256 < chance {
		e.energy[e.rng()%uint32(n)] = 255
	}
	for i := 0; i < n; i++ {
		dst[i] = store.Lerp(p.Color2, p.Color1, int(e.energy[i]), 255)
	}
}

// rng is a xorshift32; the render path must not allocate or lock.
func (e *Engine) rng() uint32 {
	x := e.seed
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	e.seed = x
	return x
}

func (e *Engine) renderPattern(dst []store.RGB, p *store.Pattern) {
	switch p.Kind {
	case store.Rainbow:
		rainbow(dst, e.tick, p)
	case store.Wave:
		wave(dst, e.tick, p)
	case store.Gradient:
		gradient(dst, e.tick, p)
	case store.Sparkle:
		e.sparkle(dst, p)
	case store.Fire:
		fire(dst, e.tick, p)
	case store.Comet:
		comet(dst, e.tick, p)
	case store.Breathing:
		breathing(dst, e.tick, p)
	case store.Plasma:
		plasma(dst, e.tick, p)
	default:
		fill(dst, store.Black)
	}
}
