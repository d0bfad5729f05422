package analysis

import (
	"math"

	"github.com/moodflo/moodflo/internal/timeline"
)

// energyScale maps raw RMS of [-1,1] samples onto the 0-10 energy range.
const energyScale = 10

// Scores are raw per-window emotion probabilities from the acoustic
// classifier.
type Scores struct {
	Neutral float64
	Happy   float64
	Sad     float64
	Angry   float64
	Fearful float64
}

// Classifier maps one window of mono PCM samples to raw emotion scores. The
// real classifier is an external collaborator; HeuristicClassifier stands in
// when none is wired.
type Classifier func(samples []float64, sampleRate int) Scores

// WindowEnergy returns the RMS energy of a window scaled to 0-10.
func WindowEnergy(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	return math.Min(rms*energyScale, 10)
}

// HeuristicClassifier estimates emotion scores from signal energy and
// zero-crossing rate. High energy with dense crossings reads as excitement,
// high energy with sparse crossings as agitation, very low energy as
// withdrawal.
func HeuristicClassifier(samples []float64, _ int) Scores {
	if len(samples) == 0 {
		return Scores{Neutral: 1}
	}

	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	var crossings int
	for i := 1; i < len(samples); i++ {
		if (samples[i] >= 0) != (samples[i-1] >= 0) {
			crossings++
		}
	}
	zcr := float64(crossings) / float64(len(samples))

	switch {
	case rms > 0.08 && zcr > 0.15:
		return Scores{Neutral: 0.2, Happy: 0.5, Sad: 0.1, Angry: 0.1, Fearful: 0.1}
	case rms > 0.08:
		return Scores{Neutral: 0.2, Happy: 0.1, Sad: 0.1, Angry: 0.4, Fearful: 0.2}
	case rms < 0.02:
		return Scores{Neutral: 0.4, Happy: 0.1, Sad: 0.3, Angry: 0.1, Fearful: 0.1}
	default:
		return Scores{Neutral: 0.6, Happy: 0.1, Sad: 0.1, Angry: 0.1, Fearful: 0.1}
	}
}

// MapEmotion folds raw scores and the window's 0-10 energy into one of the
// five mood categories.
func MapEmotion(s Scores, energy float64) timeline.Emotion {
	switch {
	case s.Happy > 0.4 && energy > 3.0:
		return timeline.EmotionEnergised
	case s.Angry+s.Fearful > 0.35 || (energy > 4.0 && s.Angry > 0.25):
		return timeline.EmotionStressed
	case s.Neutral > 0.55 && energy < 2.0:
		return timeline.EmotionFlat
	case s.Neutral > 0.35 && energy >= 2.0 && energy <= 4.5 && s.Sad < 0.25:
		return timeline.EmotionThoughtful
	default:
		return timeline.EmotionVolatile
	}
}
