package report

import (
	"fmt"
	"strings"
)

// Psychological safety thresholds. Two or more tripped factors escalate the
// risk level.
var (
	highRisk   = riskThresholds{silence: 25, stress: 40, volatility: 7.5}
	mediumRisk = riskThresholds{silence: 15, stress: 30, volatility: 5.5}
)

const lowParticipation = 50.0

type riskThresholds struct {
	silence    float64
	stress     float64
	volatility float64
}

// AssessRisk grades the psychological safety of a session as Low, Medium or
// High and names the factors behind the grade.
func AssessRisk(m Metrics) (string, []string) {
	stressPct := stressShare(m.Distribution)

	var high []string
	if m.SilencePct > highRisk.silence {
		high = append(high, fmt.Sprintf("silence at %.1f%%", m.SilencePct))
	}
	if stressPct > highRisk.stress {
		high = append(high, fmt.Sprintf("stress at %.1f%%", stressPct))
	}
	if m.Volatility > highRisk.volatility {
		high = append(high, fmt.Sprintf("volatility at %.1f", m.Volatility))
	}
	if len(high) >= 2 {
		return "High", high
	}

	var medium []string
	if m.SilencePct > mediumRisk.silence {
		medium = append(medium, fmt.Sprintf("silence at %.1f%%", m.SilencePct))
	}
	if stressPct > mediumRisk.stress {
		medium = append(medium, fmt.Sprintf("stress at %.1f%%", stressPct))
	}
	if m.Volatility > mediumRisk.volatility {
		medium = append(medium, fmt.Sprintf("volatility at %.1f", m.Volatility))
	}
	if m.Participation < lowParticipation {
		medium = append(medium, fmt.Sprintf("participation at %.1f%%", m.Participation))
	}
	if len(medium) >= 2 {
		return "Medium", medium
	}

	return "Low", nil
}

func stressShare(distribution map[string]float64) float64 {
	for name, pct := range distribution {
		if strings.Contains(name, "Stressed") || strings.Contains(name, "Tense") {
			return pct
		}
	}
	return 0
}
