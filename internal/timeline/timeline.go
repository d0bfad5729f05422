package timeline

import (
	"container/heap"
	"math"
	"sort"
	"sync"
)

// Timeline is an append-only, strictly time-ordered store of frames.
// Exactly one writer appends; readers never block the writer beyond the
// explicit ErrNotYetAvailable signal.
type Timeline struct {
	mu      sync.RWMutex
	frames  []Frame
	closed  bool
	waiters waiterQueue
}

func New() *Timeline {
	return &Timeline{}
}

// Append adds a frame and wakes every waiter whose threshold the new frame
// satisfies. It fails with ErrOutOfOrderFrame if the frame does not advance
// the timeline; the store is left untouched in that case.
func (t *Timeline) Append(f Frame) error {
	t.mu.Lock()
	if f.Time < 0 {
		t.mu.Unlock()
		return ErrOutOfOrderFrame
	}
	if n := len(t.frames); n > 0 && f.Time <= t.frames[n-1].Time {
		t.mu.Unlock()
		return ErrOutOfOrderFrame
	}
	t.frames = append(t.frames, f)
	released := t.waiters.release(f.Time)
	t.mu.Unlock()

	for _, w := range released {
		w.ch <- f
		close(w.ch)
	}
	return nil
}

// Close marks the timeline terminal and releases every remaining waiter with
// a terminal signal (closed channel, no frame). Idempotent.
func (t *Timeline) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	released := t.waiters.releaseAll()
	t.mu.Unlock()

	for _, w := range released {
		close(w.ch)
	}
}

// Closed reports whether the owning builder has reached a terminal state.
func (t *Timeline) Closed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// FrameAt returns the latest frame with Time <= at. While the timeline is
// still growing, a time beyond the last appended frame yields
// ErrNotYetAvailable; once closed it yields ErrPastEnd. Gaps left by skipped
// windows are tolerated: the answer is the latest frame at or before the
// requested time, never the nearest.
func (t *Timeline) FrameAt(at float64) (Frame, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.frames)
	if n == 0 {
		if t.closed {
			return Frame{}, ErrPastEnd
		}
		return Frame{}, ErrNotYetAvailable
	}
	if at > t.frames[n-1].Time {
		if t.closed {
			return Frame{}, ErrPastEnd
		}
		return Frame{}, ErrNotYetAvailable
	}

	i := sort.Search(n, func(i int) bool { return t.frames[i].Time > at })
	if i == 0 {
		return Frame{}, ErrNotYetAvailable
	}
	return t.frames[i-1], nil
}

// Snapshot returns the current frames as an immutable prefix view. O(1): the
// returned slice shares the backing array, which is append-only and never
// mutated in place.
func (t *Timeline) Snapshot() []Frame {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frames[:len(t.frames):len(t.frames)]
}

// RollingWindow returns the frames with Time in [at-window, at].
func (t *Timeline) RollingWindow(at, window float64) []Frame {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := len(t.frames)
	lo := sort.Search(n, func(i int) bool { return t.frames[i].Time >= at-window })
	hi := sort.Search(n, func(i int) bool { return t.frames[i].Time > at })
	if lo >= hi {
		return nil
	}
	return t.frames[lo:hi:hi]
}

// Len returns the number of frames appended so far.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.frames)
}

// LastTime returns the time of the most recent frame, if any.
func (t *Timeline) LastTime() (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.frames) == 0 {
		return 0, false
	}
	return t.frames[len(t.frames)-1].Time, true
}

// Stats summarizes a window of frames for live updates.
type Stats struct {
	MeanEnergy float64
	Volatility float64
	Count      int
}

// ComputeStats returns the mean energy and volatility (standard deviation of
// energy, 0 when fewer than 2 frames) over the given frames.
func ComputeStats(frames []Frame) Stats {
	s := Stats{Count: len(frames)}
	if len(frames) == 0 {
		return s
	}

	var sum float64
	for _, f := range frames {
		sum += f.Energy
	}
	s.MeanEnergy = sum / float64(len(frames))

	if len(frames) < 2 {
		return s
	}
	var sq float64
	for _, f := range frames {
		d := f.Energy - s.MeanEnergy
		sq += d * d
	}
	s.Volatility = math.Sqrt(sq / float64(len(frames)))
	return s
}

// Waiter is a one-shot registration for "notify me when a frame at or past
// my threshold exists". Append fulfills it with the satisfying frame; Close
// releases it empty; Cancel removes it without a signal.
type Waiter struct {
	t         *Timeline
	threshold float64
	ch        chan Frame
	index     int
	cancelled bool
}

// C delivers at most one frame. A close without a frame means the timeline
// reached a terminal state (or the waiter was cancelled).
func (w *Waiter) C() <-chan Frame {
	return w.ch
}

// Cancel removes the waiter from the timeline. Safe to call at most once,
// and only while no frame has been delivered on C.
func (w *Waiter) Cancel() {
	w.t.mu.Lock()
	if w.index < 0 {
		w.t.mu.Unlock()
		return
	}
	heap.Remove(&w.t.waiters, w.index)
	w.cancelled = true
	w.t.mu.Unlock()
	close(w.ch)
}

// WasCancelled distinguishes a cancelled waiter from a terminal release
// after C is closed.
func (w *Waiter) WasCancelled() bool {
	w.t.mu.RLock()
	defer w.t.mu.RUnlock()
	return w.cancelled
}

// WaitFor registers a waiter for the given threshold. If a frame at or past
// the threshold already exists the waiter is fulfilled immediately; if the
// timeline is already closed it is released immediately with the terminal
// signal.
func (t *Timeline) WaitFor(threshold float64) *Waiter {
	w := &Waiter{t: t, threshold: threshold, ch: make(chan Frame, 1), index: -1}

	t.mu.Lock()
	if n := len(t.frames); n > 0 && t.frames[n-1].Time >= threshold {
		last := t.frames[n-1]
		t.mu.Unlock()
		w.ch <- last
		close(w.ch)
		return w
	}
	if t.closed {
		t.mu.Unlock()
		close(w.ch)
		return w
	}
	heap.Push(&t.waiters, w)
	t.mu.Unlock()
	return w
}

// waiterQueue is a min-heap ordered by threshold so Append wakes exactly the
// satisfied waiters instead of broadcasting to all of them.
type waiterQueue []*Waiter

func (q waiterQueue) Len() int           { return len(q) }
func (q waiterQueue) Less(i, j int) bool { return q[i].threshold < q[j].threshold }
func (q waiterQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *waiterQueue) Push(x any)        { w := x.(*Waiter); w.index = len(*q); *q = append(*q, w) }

func (q *waiterQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

func (q *waiterQueue) release(upTo float64) []*Waiter {
	var out []*Waiter
	for q.Len() > 0 && (*q)[0].threshold <= upTo {
		out = append(out, heap.Pop(q).(*Waiter))
	}
	return out
}

func (q *waiterQueue) releaseAll() []*Waiter {
	out := make([]*Waiter, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, heap.Pop(q).(*Waiter))
	}
	return out
}
