// Package registry owns the process-wide session map: one Timeline and one
// builder per uploaded recording, with at-most-one running builder per
// session enforced by making duplicate-check, insert and builder-start a
// single atomic step.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/moodflo/moodflo/internal/analysis"
	"github.com/moodflo/moodflo/internal/builder"
	"github.com/moodflo/moodflo/internal/timeline"
)

var (
	// ErrDuplicateSession rejects a resubmitted upload while a session for
	// the same media is still alive.
	ErrDuplicateSession = errors.New("session already active for this media")

	// ErrUnknownSession marks a session id that is absent or already evicted.
	ErrUnknownSession = errors.New("unknown session")
)

// Session is the unit of work spanning one recording's analysis lifecycle.
// It lives only in memory and dies with the process or on deletion.
type Session struct {
	ID        string
	MediaRef  string
	Timeline  *timeline.Timeline
	Builder   *builder.Builder
	Duration  float64
	CreatedAt time.Time

	subscribers atomic.Int32
	terminalAt  atomic.Int64 // unix nanos, 0 while running
	aggOnce     sync.Once
}

// AddSubscriber and RemoveSubscriber track connected viewers for idle
// eviction; they do not affect the builder.
func (s *Session) AddSubscriber()    { s.subscribers.Add(1) }
func (s *Session) RemoveSubscriber() { s.subscribers.Add(-1) }

// Subscribers returns the number of connected viewers.
func (s *Session) Subscribers() int { return int(s.subscribers.Load()) }

// Aggregator consumes a completed timeline exactly once per session to build
// the full-session report.
type Aggregator interface {
	OnTimelineComplete(sessionID string, frames []timeline.Frame, duration float64)
}

// SourceFactory opens a FrameSource for an uploaded media reference.
type SourceFactory func(mediaRef string) (analysis.FrameSource, error)

// Registry is the process-wide session map. Its mutex is the only
// cross-session synchronization in the core.
type Registry struct {
	newSource  SourceFactory
	interval   time.Duration
	aggregator Aggregator
	onTerminal func(sessionID string, st builder.State, cause error)
	onDelete   func(sessionID string)

	mu       sync.Mutex
	sessions map[string]*Session
	byMedia  map[string]string
}

// New builds a registry. interval is the builder pull cadence.
func New(newSource SourceFactory, interval time.Duration) *Registry {
	return &Registry{
		newSource: newSource,
		interval:  interval,
		sessions:  make(map[string]*Session),
		byMedia:   make(map[string]string),
	}
}

// SetAggregator wires the report consumer invoked on builder completion.
func (r *Registry) SetAggregator(a Aggregator) { r.aggregator = a }

// SetOnTerminal wires the hook fired after every builder terminal
// transition (after the aggregator, so "report ready" is observable by the
// time viewers hear about completion).
func (r *Registry) SetOnTerminal(fn func(sessionID string, st builder.State, cause error)) {
	r.onTerminal = fn
}

// SetOnDelete wires the hook fired when a session is removed, so the stream
// hub can detach its subscribers.
func (r *Registry) SetOnDelete(fn func(sessionID string)) { r.onDelete = fn }

// CreateSession allocates a session for mediaRef, starts its builder and
// returns immediately. Duplicate-check, insert and start happen under one
// lock so concurrent resubmissions cannot race two builders into existence.
func (r *Registry) CreateSession(ctx context.Context, mediaRef string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byMedia[mediaRef]; ok {
		return "", ErrDuplicateSession
	}

	source, err := r.newSource(mediaRef)
	if err != nil {
		return "", fmt.Errorf("open media source: %w", err)
	}

	id := uuid.NewString()
	sess := &Session{
		ID:        id,
		MediaRef:  mediaRef,
		Timeline:  timeline.New(),
		Duration:  source.Duration(),
		CreatedAt: time.Now().UTC(),
	}
	sess.Builder = builder.New(id, source, sess.Timeline, r.interval, func(st builder.State) {
		r.handleFinish(sess, st)
	})

	r.sessions[id] = sess
	r.byMedia[mediaRef] = id

	// The builder outlives the create call; callers hand in request-scoped
	// contexts, and teardown goes through Delete, not the caller's cancel.
	sess.Builder.Start(context.WithoutCancel(ctx))

	log.Printf("session %s: created for %s (%.1fs)", id, mediaRef, sess.Duration)
	return id, nil
}

// Get returns the session or ErrUnknownSession.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// Delete tears a session down: cancels its builder, detaches subscribers via
// the delete hook and frees the timeline. Deleting twice is not an error.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		delete(r.byMedia, sess.MediaRef)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	sess.Builder.Cancel()
	if r.onDelete != nil {
		r.onDelete(id)
	}
	log.Printf("session %s: deleted", id)
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle deletes terminal sessions that have had no subscribers since
// before the cutoff. Returns the number evicted.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	r.mu.Lock()
	var victims []string
	for id, sess := range r.sessions {
		if !sess.Builder.State().Terminal() || sess.Subscribers() > 0 {
			continue
		}
		at := sess.terminalAt.Load()
		if at != 0 && time.Unix(0, at).Before(cutoff) {
			victims = append(victims, id)
		}
	}
	r.mu.Unlock()

	for _, id := range victims {
		log.Printf("session %s: evicting idle session", id)
		r.Delete(id)
	}
	return len(victims)
}

func (r *Registry) handleFinish(sess *Session, st builder.State) {
	sess.terminalAt.Store(time.Now().UnixNano())

	if st == builder.StateCompleted && r.aggregator != nil {
		// Exactly once per session, even if the builder were ever retried.
		sess.aggOnce.Do(func() {
			r.aggregator.OnTimelineComplete(sess.ID, sess.Timeline.Snapshot(), sess.Duration)
		})
	}

	if r.onTerminal != nil {
		r.onTerminal(sess.ID, st, sess.Builder.Err())
	}
}
