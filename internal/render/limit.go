package render

import (
	"math"

	"github.com/coreman2200/povpoi/internal/store"
)

// Limiter keeps the estimated strip current under a budget by lowering the
// brightness handed to the sink. Frame pixels are never modified.
//
// The estimate is sum(channel/255 * ChanMA) * brightness/255 over the frame.
// Below Knee*LimitMA nothing changes; above it the current is compressed
// exponentially toward LimitMA so it never crosses the budget.
type Limiter struct {
	LimitMA float64 // 0 disables the limiter
	ChanMA  float64 // mA per channel at full scale, APA102 ≈ 20
	Knee    float64 // fraction of the budget where soft limiting starts
}

// DefaultLimiter has no budget; set LimitMA to enable it.
var DefaultLimiter = Limiter{ChanMA: 20, Knee: 0.9}

// Estimate returns the frame current in mA at the given brightness.
func (l Limiter) Estimate(frame []store.RGB, brightness uint8) float64 {
	ma := l.ChanMA
	if ma <= 0 {
		ma = DefaultLimiter.ChanMA
	}
	var sum int
	for _, c := range frame {
		sum += int(c.R) + int(c.G) + int(c.B)
	}
	return float64(sum) / 255 * ma * float64(brightness) / 255
}

// Apply returns the brightness to use for frame.
func (l Limiter) Apply(frame []store.RGB, brightness uint8) uint8 {
	if l.LimitMA <= 0 || brightness == 0 {
		return brightness
	}
	knee := l.Knee
	if knee <= 0 || knee >= 1 {
		knee = DefaultLimiter.Knee
	}
	total := l.Estimate(frame, brightness)
	if total <= 0 {
		return brightness
	}
	ratio := total / l.LimitMA
	if ratio <= knee {
		return brightness
	}
	out := knee + (1-knee)*(1-math.Exp(-(ratio-knee)/(1-knee)))
	return uint8(float64(brightness) * out / ratio)
}
