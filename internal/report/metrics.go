package report

import (
	"math"

	"github.com/moodflo/moodflo/internal/timeline"
)

const (
	// silenceEnergy is the floor below which a frame counts as silence.
	silenceEnergy = 2.0

	// volatilityScale maps the standard deviation of energy changes onto a
	// 0-10 score.
	volatilityScale = 0.5
)

// Metrics are the aggregate measurements of a whole timeline.
type Metrics struct {
	AvgEnergy       float64
	SilencePct      float64
	Participation   float64
	Volatility      float64
	EmotionShifts   int
	DominantEmotion timeline.Emotion
	Distribution    map[string]float64
}

// ComputeMetrics aggregates a completed timeline. An empty timeline yields
// zero metrics with an empty distribution.
func ComputeMetrics(frames []timeline.Frame) Metrics {
	m := Metrics{Distribution: make(map[string]float64)}
	if len(frames) == 0 {
		return m
	}

	var energySum float64
	silent := 0
	counts := make(map[timeline.Emotion]int)
	for i, f := range frames {
		energySum += f.Energy
		if f.Energy < silenceEnergy {
			silent++
		}
		counts[f.Emotion]++
		if i > 0 && f.Emotion != frames[i-1].Emotion {
			m.EmotionShifts++
		}
	}

	n := float64(len(frames))
	m.AvgEnergy = energySum / n
	m.SilencePct = 100 * float64(silent) / n
	m.Participation = 100 - m.SilencePct
	m.Volatility = energyVolatility(frames)

	best := 0
	for emotion, count := range counts {
		m.Distribution[emotion.Display()] = 100 * float64(count) / n
		if count > best || (count == best && emotion < m.DominantEmotion) {
			best = count
			m.DominantEmotion = emotion
		}
	}
	return m
}

// energyVolatility is the standard deviation of consecutive energy changes,
// scaled onto 0-10.
func energyVolatility(frames []timeline.Frame) float64 {
	if len(frames) < 2 {
		return 0
	}

	diffs := make([]float64, 0, len(frames)-1)
	var sum float64
	for i := 1; i < len(frames); i++ {
		d := frames[i].Energy - frames[i-1].Energy
		diffs = append(diffs, d)
		sum += d
	}

	mean := sum / float64(len(diffs))
	var sq float64
	for _, d := range diffs {
		sq += (d - mean) * (d - mean)
	}
	std := math.Sqrt(sq / float64(len(diffs)))

	return math.Min(std/volatilityScale, 10)
}
