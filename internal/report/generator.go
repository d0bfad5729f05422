package report

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/moodflo/moodflo/internal/timeline"
)

// Archive persists finished reports.
type Archive interface {
	SaveReport(sessionID string, payload []byte) error
}

// Generator consumes completed timelines and archives a report for each.
// It runs synchronously inside the builder's terminal transition, so the
// report is queryable before subscribers hear about completion.
type Generator struct {
	archive  Archive
	insights *Insights
	timeout  time.Duration
}

// NewGenerator wires the aggregation pipeline. archive may be nil (reports
// are then built but not persisted); timeout bounds the insights call.
func NewGenerator(archive Archive, insights *Insights, timeout time.Duration) *Generator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Generator{archive: archive, insights: insights, timeout: timeout}
}

// OnTimelineComplete builds and archives the report for one session.
func (g *Generator) OnTimelineComplete(sessionID string, frames []timeline.Frame, duration float64) {
	started := time.Now()
	rep := g.Build(sessionID, frames, duration)

	payload, err := json.Marshal(rep)
	if err != nil {
		slog.Error("report: marshal failed", "session_id", sessionID, "error", err)
		return
	}

	if g.archive != nil {
		if err := g.archive.SaveReport(sessionID, payload); err != nil {
			slog.Error("report: archive failed", "session_id", sessionID, "error", err)
			return
		}
	}
	slog.Info("report: archived",
		"session_id", sessionID,
		"frames", len(frames),
		"risk", rep.Summary.RiskLevel,
		"insights_source", rep.InsightsSource,
		"elapsed", time.Since(started))
}

// Build assembles the report without persisting it.
func (g *Generator) Build(sessionID string, frames []timeline.Frame, duration float64) Report {
	m := ComputeMetrics(frames)
	riskLevel, riskFactors := AssessRisk(m)
	clusters := Clusterize(frames, defaultClusters)

	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()
	suggestions, source := g.insights.Generate(ctx, sessionID, m, riskLevel)

	return Report{
		SessionID:   sessionID,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Duration:    duration,
		Summary: Summary{
			DominantEmotion: m.DominantEmotion.Display(),
			AvgEnergy:       m.AvgEnergy,
			SilencePct:      m.SilencePct,
			Participation:   m.Participation,
			Volatility:      m.Volatility,
			EmotionShifts:   m.EmotionShifts,
			RiskLevel:       riskLevel,
			RiskFactors:     riskFactors,
			Distribution:    m.Distribution,
		},
		Timeline:       frames,
		Clusters:       clusters,
		Suggestions:    suggestions,
		InsightsSource: source,
	}
}
