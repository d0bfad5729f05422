package timeline

import "errors"

var (
	// ErrOutOfOrderFrame is returned by Append when a frame's time is not
	// strictly after the last appended frame.
	ErrOutOfOrderFrame = errors.New("frame time not after last appended frame")

	// ErrNotYetAvailable means the requested time has not been computed yet
	// and the builder is still running. Callers branch on it; it is not a
	// failure.
	ErrNotYetAvailable = errors.New("frame not yet available")

	// ErrPastEnd means the timeline is complete and the requested time lies
	// beyond its last frame.
	ErrPastEnd = errors.New("time past end of timeline")
)
