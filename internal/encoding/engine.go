package encoding

import (
	"context"
	"fmt"
)

// Request is a single encode handed to an Engine.
type Request struct {
	JobID      string
	SourcePath string
	DestPath   string
	Plan       Plan
	// Progress, when set, receives best-effort updates. Sends never block.
	Progress chan<- Progress
}

// Progress is a snapshot of a running encode.
type Progress struct {
	Percent float64
	FPS     float64
	Speed   float64
}

// Status is the terminal outcome an Engine reports.
type Status int

const (
	StatusCompleted Status = iota
	StatusError
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Result is delivered exactly once per Encode call.
type Result struct {
	Status Status
	// Message carries the engine diagnostic for StatusError.
	Message string
	Err     error
}

// Engine runs encodes asynchronously. The returned channel yields one
// Result and is then closed.
type Engine interface {
	Encode(ctx context.Context, req Request) (<-chan Result, error)
}
