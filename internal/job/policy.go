package job

import (
	"fmt"

	"safe-transcode/internal/encoding"
	"safe-transcode/internal/geometry"
)

// MetadataPolicy decides what happens when the source geometry is unusable.
type MetadataPolicy int

const (
	// MetadataFail ends the job with KindInvalidMetadata.
	MetadataFail MetadataPolicy = iota
	// MetadataFallback encodes at source dimensions with the software encoder.
	MetadataFallback
)

func (m MetadataPolicy) String() string {
	if m == MetadataFallback {
		return "fallback"
	}
	return "fail"
}

// ParseMetadataPolicy accepts "fail" and "fallback".
func ParseMetadataPolicy(s string) (MetadataPolicy, error) {
	switch s {
	case "", "fail":
		return MetadataFail, nil
	case "fallback":
		return MetadataFallback, nil
	}
	return MetadataFail, fmt.Errorf("unknown metadata policy %q", s)
}

// Policy holds the knobs shared by every job of a worker.
type Policy struct {
	MaxHeight   int
	Bitrate     int
	Alignment   geometry.Alignment
	Rounding    geometry.Rounding
	Metadata    MetadataPolicy
	AcceptRatio float64
}

// DefaultPolicy is 720p, 1.5 Mbps, floor alignment to 16, fail on bad metadata.
func DefaultPolicy() Policy {
	return Policy{
		MaxHeight:   geometry.DefaultMaxHeight,
		Bitrate:     encoding.DefaultBitrate,
		Alignment:   geometry.DefaultAlignment,
		Rounding:    geometry.RoundHalfAway,
		Metadata:    MetadataFail,
		AcceptRatio: DefaultAcceptRatio,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxHeight <= 0 {
		p.MaxHeight = d.MaxHeight
	}
	if p.Bitrate <= 0 {
		p.Bitrate = d.Bitrate
	}
	if p.Alignment.Block <= 0 {
		p.Alignment.Block = d.Alignment.Block
	}
	if p.AcceptRatio <= 0 {
		p.AcceptRatio = d.AcceptRatio
	}
	return p
}
