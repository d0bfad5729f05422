package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/moodflo/moodflo/internal/builder"
	"github.com/moodflo/moodflo/internal/registry"
	"github.com/moodflo/moodflo/internal/timeline"
)

const (
	// statsWindow is the rolling span, in recording seconds, behind every
	// live update's aggregate metrics.
	statsWindow = 60.0

	// silenceEnergy is the energy floor below which a frame counts as
	// silence for the participation metric.
	silenceEnergy = 2.0
)

// SessionRegistry is the slice of the registry the server consumes.
type SessionRegistry interface {
	CreateSession(ctx context.Context, mediaRef string) (string, error)
	Get(id string) (*registry.Session, error)
	Delete(id string)
	Len() int
}

// Hub fans a session's growing timeline out to its websocket subscribers.
// Each subscriber owns a cursor into one session; the hub never blocks the
// builder.
type Hub struct {
	sessions     SessionRegistry
	readyTimeout time.Duration
	idleTimeout  time.Duration

	mu   sync.Mutex
	subs map[string]map[*Subscriber]struct{}
}

func NewHub(sessions SessionRegistry, readyTimeout, idleTimeout time.Duration) *Hub {
	return &Hub{
		sessions:     sessions,
		readyTimeout: readyTimeout,
		idleTimeout:  idleTimeout,
		subs:         make(map[string]map[*Subscriber]struct{}),
	}
}

// Subscriber is one websocket connection's view of a session. Outbound
// messages flow through out; the connection's writer goroutine drains it.
type Subscriber struct {
	hub       *Hub
	sessionID string
	sess      *registry.Session
	out       chan []byte

	mu           sync.Mutex
	pending      *timeline.Waiter
	lastSeen     time.Time
	terminalSent bool
	closed       bool
}

// Connect attaches a new subscriber to the session, or fails with
// ErrUnknownSession.
func (h *Hub) Connect(sessionID string) (*Subscriber, error) {
	sess, err := h.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	sub := &Subscriber{
		hub:       h,
		sessionID: sessionID,
		sess:      sess,
		out:       make(chan []byte, 64),
		lastSeen:  time.Now(),
	}

	h.mu.Lock()
	m, ok := h.subs[sessionID]
	if !ok {
		m = make(map[*Subscriber]struct{})
		h.subs[sessionID] = m
	}
	m[sub] = struct{}{}
	h.mu.Unlock()
	sess.AddSubscriber()

	// The session may have been deleted between the lookup and the insert,
	// in which case CloseSession already ran without seeing us.
	if _, err := h.sessions.Get(sessionID); err != nil {
		h.Disconnect(sub)
		return nil, err
	}
	return sub, nil
}

// AwaitReady completes the handshake: it blocks until the first frame exists,
// then sends ready. A timeout or a frameless terminal sends error instead;
// the connection stays open either way.
func (h *Hub) AwaitReady(sub *Subscriber) {
	w := sub.sess.Timeline.WaitFor(0)
	timer := time.NewTimer(h.readyTimeout)
	defer timer.Stop()

	select {
	case _, ok := <-w.C():
		if !ok {
			sub.send(ErrorEvent{
				Event:   newEvent("error", time.Time{}),
				Message: "analysis ended before producing any frames",
			})
			sub.sendTerminal(sub.sess.Builder.State(), sub.sess.Builder.Err())
			return
		}
	case <-timer.C:
		w.Cancel()
		// A frame may have raced the cancellation.
		if _, ok := <-w.C(); !ok {
			sub.send(ErrorEvent{
				Event:   newEvent("error", time.Time{}),
				Message: "timed out waiting for the first frame",
			})
			return
		}
	}

	sub.send(ReadyEvent{
		Event:     newEvent("ready", time.Time{}),
		SessionID: sub.sessionID,
		Duration:  sub.sess.Duration,
	})

	// Late subscribers to an already-finished session still get their one
	// terminal event.
	if st := sub.sess.Builder.State(); st.Terminal() {
		sub.sendTerminal(st, sub.sess.Builder.Err())
	}
}

// Seek answers with an update if the requested time is computed, a status
// plus a parked waiter if the extraction has not reached it, and a status if
// the recording is over. Only the latest pending seek per subscriber is
// honored; superseded waiters are cancelled silently.
func (h *Hub) Seek(sub *Subscriber, at float64) {
	sub.mu.Lock()
	sub.lastSeen = time.Now()
	if sub.pending != nil {
		sub.pending.Cancel()
		sub.pending = nil
	}
	sub.mu.Unlock()

	f, err := sub.sess.Timeline.FrameAt(at)
	switch {
	case err == nil:
		sub.sendUpdate(at, f)
	case errors.Is(err, timeline.ErrNotYetAvailable):
		sub.send(StatusEvent{
			Event:   newEvent("status", time.Time{}),
			Message: "analysis has not reached this point yet",
		})
		w := sub.sess.Timeline.WaitFor(at)
		sub.mu.Lock()
		if sub.closed {
			sub.mu.Unlock()
			w.Cancel()
			return
		}
		sub.pending = w
		sub.mu.Unlock()
		go sub.awaitSeek(w, at)
	case errors.Is(err, timeline.ErrPastEnd):
		sub.send(StatusEvent{
			Event:   newEvent("status", time.Time{}),
			Message: "past end of recording",
		})
	}
}

func (sub *Subscriber) awaitSeek(w *timeline.Waiter, at float64) {
	if _, ok := <-w.C(); !ok {
		// Cancelled by a newer seek or released by a terminal close; the
		// terminal broadcast covers the latter.
		return
	}

	sub.mu.Lock()
	if sub.pending != w {
		sub.mu.Unlock()
		return
	}
	sub.pending = nil
	sub.mu.Unlock()

	f, err := sub.sess.Timeline.FrameAt(at)
	switch {
	case err == nil:
		sub.sendUpdate(at, f)
	case errors.Is(err, timeline.ErrNotYetAvailable):
		// The timeline advanced past the seek point without covering it:
		// the opening windows were skipped. The seek still resolves.
		sub.send(StatusEvent{
			Event:   newEvent("status", time.Time{}),
			Message: "no analysis data at this point",
		})
	case errors.Is(err, timeline.ErrPastEnd):
		sub.send(StatusEvent{
			Event:   newEvent("status", time.Time{}),
			Message: "past end of recording",
		})
	}
}

// Heartbeat refreshes the subscriber's liveness and answers with pong.
func (h *Hub) Heartbeat(sub *Subscriber) {
	sub.mu.Lock()
	sub.lastSeen = time.Now()
	sub.mu.Unlock()
	sub.send(PongEvent{Event: newEvent("pong", time.Time{})})
}

// Disconnect detaches the subscriber. Idempotent; CloseSession may already
// have detached it.
func (h *Hub) Disconnect(sub *Subscriber) {
	h.mu.Lock()
	if m, ok := h.subs[sub.sessionID]; ok {
		delete(m, sub)
		if len(m) == 0 {
			delete(h.subs, sub.sessionID)
		}
	}
	h.mu.Unlock()
	sub.detach()
}

// BroadcastTerminal delivers the builder's terminal transition to every
// subscriber of the session, at most once each.
func (h *Hub) BroadcastTerminal(sessionID string, st builder.State, cause error) {
	for _, sub := range h.snapshotSubs(sessionID) {
		sub.sendTerminal(st, cause)
	}
}

// CloseSession detaches every subscriber of a deleted session after telling
// each of them the session is gone.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	m := h.subs[sessionID]
	delete(h.subs, sessionID)
	h.mu.Unlock()

	for sub := range m {
		sub.sendClosed()
		sub.detach()
	}
}

// EvictIdle detaches subscribers that have not pinged or sought within the
// idle timeout. Returns the number evicted.
func (h *Hub) EvictIdle() int {
	if h.idleTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-h.idleTimeout)

	h.mu.Lock()
	var stale []*Subscriber
	for _, m := range h.subs {
		for sub := range m {
			sub.mu.Lock()
			if sub.lastSeen.Before(cutoff) {
				stale = append(stale, sub)
			}
			sub.mu.Unlock()
		}
	}
	h.mu.Unlock()

	for _, sub := range stale {
		log.Printf("session %s: evicting idle subscriber", sub.sessionID)
		sub.sendClosed()
		h.Disconnect(sub)
	}
	return len(stale)
}

func (h *Hub) snapshotSubs(sessionID string) []*Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.subs[sessionID]
	out := make([]*Subscriber, 0, len(m))
	for sub := range m {
		out = append(out, sub)
	}
	return out
}

func (sub *Subscriber) sendUpdate(at float64, f timeline.Frame) {
	recent := sub.sess.Timeline.RollingWindow(at, statsWindow)
	stats := timeline.ComputeStats(recent)

	snap := sub.sess.Timeline.Snapshot()
	seen, voiced := 0, 0
	for _, fr := range snap {
		if fr.Time > at {
			break
		}
		seen++
		if fr.Energy >= silenceEnergy {
			voiced++
		}
	}
	var participation float64
	if seen > 0 {
		participation = 100 * float64(voiced) / float64(seen)
	}

	sub.send(UpdateEvent{
		Event: newEvent("update", time.Time{}),
		Time:  at,
		Data: UpdateData{
			CurrentEnergy:  f.Energy,
			CurrentEmotion: string(f.Emotion),
			AvgEnergy:      stats.MeanEnergy,
			Participation:  participation,
			Volatility:     stats.Volatility,
			TimelineLength: len(snap),
		},
	})
}

func (sub *Subscriber) sendTerminal(st builder.State, cause error) {
	sub.mu.Lock()
	if sub.terminalSent || sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.terminalSent = true
	sub.mu.Unlock()

	switch st {
	case builder.StateCompleted:
		sub.send(CompleteEvent{
			Event:      newEvent("complete", time.Time{}),
			Duration:   sub.sess.Duration,
			FrameCount: sub.sess.Timeline.Len(),
		})
	case builder.StateFailed:
		msg := "analysis failed"
		if cause != nil {
			msg = cause.Error()
		}
		sub.send(ErrorEvent{Event: newEvent("error", time.Time{}), Message: msg})
	default:
		sub.send(ClosedEvent{Event: newEvent("closed", time.Time{})})
	}
}

func (sub *Subscriber) sendClosed() {
	sub.mu.Lock()
	if sub.terminalSent || sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.terminalSent = true
	sub.mu.Unlock()
	sub.send(ClosedEvent{Event: newEvent("closed", time.Time{})})
}

func (sub *Subscriber) detach() {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.closed = true
	w := sub.pending
	sub.pending = nil
	close(sub.out)
	sub.mu.Unlock()

	if w != nil {
		w.Cancel()
	}
	sub.sess.RemoveSubscriber()
}

func (sub *Subscriber) send(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("event marshal error: %v", err)
		return
	}

	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.out <- payload:
	default:
	}
}
