// Package workflow sequences one photo through compression, upload, option
// selection, remote enhancement and result display.
//
// A Controller owns a single Session at a time. Every new session and every
// Reset bumps the session generation; responses that settle against an older
// generation are discarded without touching state.
package workflow

import (
	"errors"

	"github.com/fpang/photo-enhancer/internal/filehandler"
	"github.com/fpang/photo-enhancer/internal/transfer"
)

// State is a workflow phase.
type State int

const (
	Idle State = iota
	Uploading
	AwaitingOption
	Processing
	Result
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Uploading:
		return "uploading"
	case AwaitingOption:
		return "awaiting-option"
	case Processing:
		return "processing"
	case Result:
		return "result"
	}
	return "unknown"
}

// Busy reports whether a request is in flight.
func (s State) Busy() bool {
	return s == Uploading || s == Processing
}

// Controller errors. None of them change state.
var (
	ErrBusy              = errors.New("a request is already in progress")
	ErrInvalidTransition = errors.New("action not allowed in the current state")
	ErrInvalidScale      = errors.New("scale factor must be 2 or 4")
	ErrStaleSession      = errors.New("session was replaced before the response arrived")
)

// Session is the state of one photo's trip through the workflow.
//
// ServerHandle is set only in AwaitingOption, Processing and Result.
// ResultHandle and ResultLocator are set only in Result.
type Session struct {
	ID         string
	Generation uint64
	State      State

	// Source is the file as selected by the user, before compression.
	Source *filehandler.ImageFile
	// UploadedBytes is the size actually sent after compression.
	UploadedBytes int64

	ServerHandle string
	Selected     *transfer.Operation
	ScaleFactor  int
	ResultHandle string

	// ErrorMessage holds the latest failure reason; empty when there is none.
	ErrorMessage string

	OriginalLocator string
	ResultLocator   string
}

// clone returns a copy that shares no mutable pointers with s except Source,
// which is never modified after selection.
func (s Session) clone() Session {
	if s.Selected != nil {
		op := *s.Selected
		s.Selected = &op
	}
	return s
}
