// Package analysis defines the frame-extraction boundary: the FrameSource
// contract the timeline builder pulls from, the acoustic fallback classifier,
// and the mapping from raw emotion scores to mood categories.
package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/moodflo/moodflo/internal/timeline"
)

// ErrEndOfMedia signals natural exhaustion of the recording.
var ErrEndOfMedia = errors.New("end of media")

// TransientError marks a single-window extraction fault. The builder skips
// the window and continues; the timeline is left with a gap.
type TransientError struct {
	Window float64
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient extraction error at %.1fs: %v", e.Window, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a per-window fault.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// FrameSource produces one emotion/energy measurement per fixed time window
// when invoked incrementally. Any error other than ErrEndOfMedia or a
// TransientError is fatal to the whole extraction.
type FrameSource interface {
	NextWindow(ctx context.Context) (timeline.Frame, error)

	// Duration returns the total media length in seconds, or 0 if unknown.
	Duration() float64
}
