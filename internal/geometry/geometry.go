// Package geometry turns coded video dimensions into the size a transcode
// should be encoded at: display-space resolution, downscale-only planning and
// encoder block alignment.
package geometry

import (
	"errors"
	"fmt"
)

// ErrInvalidMetadata is returned when a coded dimension is not positive.
var ErrInvalidMetadata = errors.New("invalid video metadata")

// RawMeta is what the prober reads from the container. Width and height are
// the coded (bitstream) dimensions and do not account for rotation.
type RawMeta struct {
	CodedWidth  int
	CodedHeight int
	Rotation    int // one of 0, 90, 180, 270
}

// DisplaySize is the frame size as a viewer sees it.
type DisplaySize struct {
	Width  int
	Height int
}

func (d DisplaySize) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Resolve maps coded dimensions into display space.
func Resolve(meta RawMeta) (DisplaySize, error) {
	if meta.CodedWidth <= 0 || meta.CodedHeight <= 0 {
		return DisplaySize{}, fmt.Errorf("%w: coded size %dx%d", ErrInvalidMetadata, meta.CodedWidth, meta.CodedHeight)
	}

	switch NormalizeRotation(meta.Rotation) {
	case 90, 270:
		return DisplaySize{Width: meta.CodedHeight, Height: meta.CodedWidth}, nil
	default:
		return DisplaySize{Width: meta.CodedWidth, Height: meta.CodedHeight}, nil
	}
}

// NormalizeRotation snaps any rotation value (negative display matrix angles,
// values past a full turn) to the nearest quarter turn in [0, 360).
func NormalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	quarter := (deg + 45) / 90
	return (quarter * 90) % 360
}
