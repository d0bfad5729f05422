// Package builder drives a FrameSource window by window, appending to the
// session's timeline until the recording is exhausted, the extraction fails,
// or the session is torn down.
package builder

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/moodflo/moodflo/internal/analysis"
	"github.com/moodflo/moodflo/internal/timeline"
)

// State is the builder lifecycle. Running is the only non-terminal state.
type State int

const (
	StateRunning State = iota
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool { return s != StateRunning }

// Builder owns exactly one Timeline and is the only writer to it. The finish
// hook fires exactly once, on the terminal transition, after the timeline has
// been closed.
type Builder struct {
	sessionID string
	source    analysis.FrameSource
	tl        *timeline.Timeline
	interval  time.Duration
	onFinish  func(State)

	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	state State
	err   error
}

// New prepares a builder for one session. interval is the pull cadence; zero
// means pull as fast as the source allows. onFinish may be nil.
func New(sessionID string, source analysis.FrameSource, tl *timeline.Timeline, interval time.Duration, onFinish func(State)) *Builder {
	return &Builder{
		sessionID: sessionID,
		source:    source,
		tl:        tl,
		interval:  interval,
		onFinish:  onFinish,
		done:      make(chan struct{}),
		state:     StateRunning,
	}
}

// Start launches the extraction loop. The registry guarantees at most one
// running builder per session; Start itself does not re-check.
func (b *Builder) Start(ctx context.Context) {
	ctx, b.cancel = context.WithCancel(ctx)
	go b.run(ctx)
}

// Cancel requests a prompt stop, bounded by the in-flight window extraction.
// It does not wait; use Done to observe the terminal transition.
func (b *Builder) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
}

// Done is closed after the terminal transition and finish hook.
func (b *Builder) Done() <-chan struct{} { return b.done }

// State returns the current lifecycle state.
func (b *Builder) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns the extraction error for a Failed builder, nil otherwise.
func (b *Builder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Timeline returns the timeline this builder writes.
func (b *Builder) Timeline() *timeline.Timeline { return b.tl }

func (b *Builder) run(ctx context.Context) {
	var ticker *time.Ticker
	if b.interval > 0 {
		ticker = time.NewTicker(b.interval)
		defer ticker.Stop()
	}

	for {
		if ctx.Err() != nil {
			b.finish(StateCancelled, nil)
			return
		}

		frame, err := b.source.NextWindow(ctx)
		switch {
		case err == nil:
			if appendErr := b.tl.Append(frame); appendErr != nil {
				// A source defect on one window; the rest of the
				// extraction is still worth having.
				log.Printf("session %s: dropping out-of-order frame at %.1fs: %v", b.sessionID, frame.Time, appendErr)
			}
		case errors.Is(err, analysis.ErrEndOfMedia):
			b.finish(StateCompleted, nil)
			return
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			b.finish(StateCancelled, nil)
			return
		case analysis.IsTransient(err):
			log.Printf("session %s: skipping window: %v", b.sessionID, err)
		default:
			log.Printf("session %s: extraction failed: %v", b.sessionID, err)
			b.finish(StateFailed, err)
			return
		}

		if ticker != nil {
			select {
			case <-ctx.Done():
			case <-ticker.C:
			}
		}
	}
}

func (b *Builder) finish(st State, err error) {
	b.mu.Lock()
	b.state = st
	b.err = err
	b.mu.Unlock()

	// Close before the hook so no waiter is left parked while downstream
	// consumers run.
	b.tl.Close()

	if b.onFinish != nil {
		b.onFinish(st)
	}
	close(b.done)
}
