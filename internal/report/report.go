// Package report turns a completed timeline into the full-session analysis:
// aggregate metrics, phase clustering, psychological safety risk and
// coaching suggestions.
package report

import (
	"github.com/moodflo/moodflo/internal/timeline"
)

// Summary is the headline block of a report.
type Summary struct {
	DominantEmotion string             `json:"dominant_emotion"`
	AvgEnergy       float64            `json:"avg_energy"`
	SilencePct      float64            `json:"silence_pct"`
	Participation   float64            `json:"participation"`
	Volatility      float64            `json:"volatility"`
	EmotionShifts   int                `json:"emotion_shifts"`
	RiskLevel       string             `json:"risk_level"`
	RiskFactors     []string           `json:"risk_factors"`
	Distribution    map[string]float64 `json:"distribution"`
}

// Report is the archived analysis of one finished session.
type Report struct {
	SessionID      string           `json:"session_id"`
	GeneratedAt    string           `json:"generated_at"`
	Duration       float64          `json:"duration"`
	Summary        Summary          `json:"summary"`
	Timeline       []timeline.Frame `json:"timeline"`
	Clusters       Clustering       `json:"clusters"`
	Suggestions    string           `json:"suggestions"`
	InsightsSource string           `json:"insights_source"`
}
