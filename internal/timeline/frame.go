// Package timeline holds the append-only, time-ordered frame store for one
// analysis session. A single builder goroutine appends while any number of
// readers query points, ranges and snapshots concurrently.
package timeline

// Emotion is one of the five mood categories a frame can carry.
type Emotion string

const (
	EmotionEnergised  Emotion = "energised"
	EmotionStressed   Emotion = "stressed"
	EmotionFlat       Emotion = "flat"
	EmotionThoughtful Emotion = "thoughtful"
	EmotionVolatile   Emotion = "volatile"
)

var displayNames = map[Emotion]string{
	EmotionEnergised:  "Energised",
	EmotionStressed:   "Stressed/Tense",
	EmotionFlat:       "Flat/Disengaged",
	EmotionThoughtful: "Thoughtful/Constructive",
	EmotionVolatile:   "Volatile/Unstable",
}

// Display returns the human-readable name used in reports and dashboards.
func (e Emotion) Display() string {
	if name, ok := displayNames[e]; ok {
		return name
	}
	return string(e)
}

// Frame is one emotion/energy measurement for a fixed audio window. Frames
// are immutable once appended to a Timeline.
type Frame struct {
	Time                   float64 `json:"time"`
	Energy                 float64 `json:"energy"`
	Emotion                Emotion `json:"emotion"`
	VolatilityContribution float64 `json:"volatility_contribution"`
}
