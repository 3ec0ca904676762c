package geometry

import (
	"fmt"
	"math"
)

// DefaultMaxHeight is the display height outputs are capped at.
const DefaultMaxHeight = 720

// minPlannedDimension keeps planned sizes encodable before alignment.
const minPlannedDimension = 2

// Rounding decides how fractional scaled dimensions become pixels.
type Rounding int

const (
	// RoundHalfAway rounds to the nearest pixel, ties away from zero.
	RoundHalfAway Rounding = iota
	// RoundTruncate drops the fractional part.
	RoundTruncate
)

func (r Rounding) String() string {
	switch r {
	case RoundTruncate:
		return "truncate"
	default:
		return "half_away"
	}
}

// ParseRounding accepts "half_away" (or "round") and "truncate".
func ParseRounding(s string) (Rounding, error) {
	switch s {
	case "", "half_away", "round":
		return RoundHalfAway, nil
	case "truncate", "floor":
		return RoundTruncate, nil
	}
	return RoundHalfAway, fmt.Errorf("unknown scale rounding %q", s)
}

func (r Rounding) apply(v float64) int {
	if r == RoundTruncate {
		return int(math.Trunc(v))
	}
	return int(math.Round(v))
}

// ScalePlan is the requested display size before alignment.
type ScalePlan struct {
	TargetWidth  int
	TargetHeight int
	ScaleFactor  float64 // always in (0, 1]
}

func (p ScalePlan) String() string {
	return fmt.Sprintf("%dx%d@%.4f", p.TargetWidth, p.TargetHeight, p.ScaleFactor)
}

// PlanScale fits the display size under maxHeight without ever upscaling.
// A non-positive maxHeight falls back to DefaultMaxHeight.
func PlanScale(display DisplaySize, maxHeight int, rounding Rounding) ScalePlan {
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}

	if display.Height <= maxHeight {
		return ScalePlan{
			TargetWidth:  max(display.Width, minPlannedDimension),
			TargetHeight: max(display.Height, minPlannedDimension),
			ScaleFactor:  1.0,
		}
	}

	// Multiply before dividing so exact ratios (1920*720/1080) stay exact.
	w := float64(display.Width) * float64(maxHeight) / float64(display.Height)
	h := float64(display.Height) * float64(maxHeight) / float64(display.Height)

	return ScalePlan{
		TargetWidth:  max(rounding.apply(w), minPlannedDimension),
		TargetHeight: max(rounding.apply(h), minPlannedDimension),
		ScaleFactor:  float64(maxHeight) / float64(display.Height),
	}
}
