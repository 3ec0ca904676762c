package geometry

import "fmt"

const (
	// DefaultBlock is the H.264 macroblock size hardware encoders expect.
	DefaultBlock = 16
	// MinDimension is the smallest aligned edge ever handed to an encoder.
	MinDimension = 16
)

// AlignMode picks the direction a dimension is snapped to the block grid.
type AlignMode int

const (
	// AlignFloor never exceeds the planned size.
	AlignFloor AlignMode = iota
	// AlignCeil may exceed the planned size by up to one block.
	AlignCeil
)

func (m AlignMode) String() string {
	if m == AlignCeil {
		return "ceil"
	}
	return "floor"
}

// ParseAlignMode accepts "floor" and "ceil".
func ParseAlignMode(s string) (AlignMode, error) {
	switch s {
	case "", "floor":
		return AlignFloor, nil
	case "ceil", "ceiling":
		return AlignCeil, nil
	}
	return AlignFloor, fmt.Errorf("unknown align mode %q", s)
}

// Alignment snaps sizes to multiples of Block.
type Alignment struct {
	Block int
	Mode  AlignMode
}

// DefaultAlignment floors to 16 pixel blocks.
var DefaultAlignment = Alignment{Block: DefaultBlock, Mode: AlignFloor}

// Aligned is the encoder-safe size derived from a ScalePlan.
type Aligned struct {
	Width  int
	Height int
	// IsAligned reports whether the plan already sat on the block grid.
	IsAligned bool
}

func (a Aligned) String() string {
	return fmt.Sprintf("%dx%d", a.Width, a.Height)
}

// Align snaps both target dimensions. IsAligned compares the snapped values
// with the targets before the minimum clamp is applied.
func (a Alignment) Align(plan ScalePlan) Aligned {
	w, wOK := a.snap(plan.TargetWidth)
	h, hOK := a.snap(plan.TargetHeight)
	return Aligned{Width: w, Height: h, IsAligned: wOK && hOK}
}

func (a Alignment) snap(v int) (int, bool) {
	block := a.Block
	if block <= 0 {
		block = DefaultBlock
	}

	var snapped int
	if a.Mode == AlignCeil {
		snapped = (v + block - 1) / block * block
	} else {
		snapped = v / block * block
	}
	exact := snapped == v

	return max(snapped, a.minimum()), exact
}

// minimum is the smallest multiple of the block that is at least MinDimension.
func (a Alignment) minimum() int {
	block := a.Block
	if block <= 0 {
		block = DefaultBlock
	}
	m := block
	for m < MinDimension {
		m += block
	}
	return m
}
