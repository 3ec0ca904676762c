// Package encoding holds the instructions handed to a transcoding engine and
// the policy that picks between hardware and software encoders.
package encoding

import (
	"fmt"

	"safe-transcode/internal/geometry"
)

// Codec identifiers understood by every engine.
const (
	VideoCodecH264 = "H264"
	AudioCodecAAC  = "AAC"
)

// DefaultBitrate is the target video bitrate in bits per second.
const DefaultBitrate = 1_500_000

// Plan is the final set of instructions for one encode.
type Plan struct {
	// Resize is false on the no-geometry fallback path, where Width and
	// Height are zero and the engine keeps the source dimensions.
	Resize     bool
	Width      int
	Height     int
	IsAligned  bool
	Bitrate    int
	VideoCodec string
	AudioCodec string
	Encoder    Selection
}

func (p Plan) String() string {
	size := "source"
	if p.Resize {
		size = fmt.Sprintf("%dx%d", p.Width, p.Height)
	}
	return fmt.Sprintf("%s %s/%s %dbps via %s", size, p.VideoCodec, p.AudioCodec, p.Bitrate, p.Encoder)
}

// NewPlan builds a resizing plan from an aligned size.
func NewPlan(aligned geometry.Aligned, bitrate int, sel Selection) Plan {
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	return Plan{
		Resize:     true,
		Width:      aligned.Width,
		Height:     aligned.Height,
		IsAligned:  aligned.IsAligned,
		Bitrate:    bitrate,
		VideoCodec: VideoCodecH264,
		AudioCodec: AudioCodecAAC,
		Encoder:    sel,
	}
}

// FallbackPlan encodes with the source geometry untouched.
func FallbackPlan(bitrate int, sel Selection) Plan {
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	return Plan{
		Bitrate:    bitrate,
		VideoCodec: VideoCodecH264,
		AudioCodec: AudioCodecAAC,
		Encoder:    sel,
	}
}
