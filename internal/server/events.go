package server

import "time"

const EventVersion = 1

// Event is the header every server-to-client message carries.
type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// StatusEvent answers a seek that cannot be satisfied yet (or anymore)
// without tearing the connection down.
type StatusEvent struct {
	Event
	Message string `json:"message"`
}

// ReadyEvent completes the connection handshake once the first frame exists.
type ReadyEvent struct {
	Event
	SessionID string  `json:"session_id"`
	Duration  float64 `json:"duration"`
}

// UpdateData is the live metrics block attached to every update.
type UpdateData struct {
	CurrentEnergy  float64 `json:"current_energy"`
	CurrentEmotion string  `json:"current_emotion"`
	AvgEnergy      float64 `json:"avg_energy"`
	Participation  float64 `json:"participation"`
	Volatility     float64 `json:"volatility"`
	TimelineLength int     `json:"timeline_length"`
}

// UpdateEvent answers a satisfied seek.
type UpdateEvent struct {
	Event
	Time float64    `json:"time"`
	Data UpdateData `json:"data"`
}

type ErrorEvent struct {
	Event
	Message string `json:"message"`
}

// CompleteEvent is the synthetic final event sent once per subscriber when
// the extraction finishes the whole recording.
type CompleteEvent struct {
	Event
	Duration   float64 `json:"duration"`
	FrameCount int     `json:"frame_count"`
}

// ClosedEvent tells the subscriber the session is gone.
type ClosedEvent struct {
	Event
}

type PongEvent struct {
	Event
}

// ClientMessage is the envelope for everything a subscriber may send:
// {"type":"seek","time":t} or {"type":"ping"}.
type ClientMessage struct {
	Type string  `json:"type"`
	Time float64 `json:"time"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
