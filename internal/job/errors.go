package job

import (
	"errors"
	"fmt"
)

// Kind classifies why a job ended without a delivered transcode.
type Kind string

const (
	KindInvalidMetadata      Kind = "invalid_metadata"
	KindMissingInput         Kind = "missing_input"
	KindOutputDirUnavailable Kind = "output_dir_unavailable"
	KindPathConflict         Kind = "path_conflict"
	KindEncode               Kind = "encode_error"
	KindCancelled            Kind = "cancelled"
	KindPostProcess          Kind = "post_process_error"
)

// Sentinels for errors.Is checks against a job error's kind.
var (
	ErrInvalidMetadata      = errors.New("invalid metadata")
	ErrMissingInput         = errors.New("missing input")
	ErrOutputDirUnavailable = errors.New("output directory unavailable")
	ErrPathConflict         = errors.New("input and output are the same file")
	ErrEncode               = errors.New("encode failed")
	ErrCancelled            = errors.New("encode cancelled")
	ErrPostProcess          = errors.New("post-process failed")
)

var kindSentinels = map[Kind]error{
	KindInvalidMetadata:      ErrInvalidMetadata,
	KindMissingInput:         ErrMissingInput,
	KindOutputDirUnavailable: ErrOutputDirUnavailable,
	KindPathConflict:         ErrPathConflict,
	KindEncode:               ErrEncode,
	KindCancelled:            ErrCancelled,
	KindPostProcess:          ErrPostProcess,
}

// Error is the terminal error of a job.
type Error struct {
	Kind  Kind
	Op    string // step that failed, e.g. "probe", "encode"
	JobID string
	Err   error
}

func (e *Error) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s in %s for job %s: %v", e.Kind, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind. The wrapped error is still
// reachable through Unwrap.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

func newError(kind Kind, op, jobID string, err error) *Error {
	if err == nil {
		err = kindSentinels[kind]
	}
	return &Error{Kind: kind, Op: op, JobID: jobID, Err: err}
}

// KindOf returns the kind of a job error, or "" for anything else.
func KindOf(err error) Kind {
	var jerr *Error
	if errors.As(err, &jerr) {
		return jerr.Kind
	}
	return ""
}
