package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/moodflo/moodflo/internal/llm"
)

// SourceModel and SourceRules mark where a report's suggestions came from.
const (
	SourceModel = "model"
	SourceRules = "rules"
)

type ClientFactory func(provider, model string) (llm.Client, error)

// Claimer records that a completion was requested for a session/prompt pair,
// so a re-generated report never pays for the same call twice.
type Claimer interface {
	ClaimInsightRequest(sessionID, promptHash string) (bool, error)
}

// Insights produces coaching suggestions for a finished session, via the
// configured model when possible and deterministic rules otherwise.
type Insights struct {
	model   string
	factory ClientFactory
	claims  Claimer
	sleep   func(time.Duration)
}

// NewInsights builds a generator. model is provider/model_name; an empty
// model or nil factory disables the model path entirely. claims may be nil.
func NewInsights(model string, factory ClientFactory, claims Claimer) *Insights {
	return &Insights{
		model:   model,
		factory: factory,
		claims:  claims,
		sleep:   time.Sleep,
	}
}

const insightsSystemPrompt = "You are an expert meeting coach analyzing emotional patterns " +
	"from acoustic analysis only (no content). Provide 4-5 concise, actionable suggestions " +
	"focused on psychological safety and practical next steps."

// Generate returns the suggestions text and its source. It never fails: every
// model-path problem degrades to the rule-based text.
func (g *Insights) Generate(ctx context.Context, sessionID string, m Metrics, riskLevel string) (string, string) {
	if g == nil || g.model == "" || g.factory == nil {
		return ruleBasedSuggestions(m, riskLevel), SourceRules
	}

	provider, model, err := llm.ParseModel(g.model)
	if err != nil {
		slog.Warn("insights: falling back to rules", "reason", "parse model failed", "error", err)
		return ruleBasedSuggestions(m, riskLevel), SourceRules
	}

	client, err := g.factory(provider, model)
	if err != nil {
		slog.Warn("insights: falling back to rules", "reason", "create client failed", "error", err)
		return ruleBasedSuggestions(m, riskLevel), SourceRules
	}

	prompt := buildInsightsPrompt(m, riskLevel)
	if g.claims != nil {
		hash := sha256.Sum256([]byte(sessionID + "\x00" + prompt))
		claimed, err := g.claims.ClaimInsightRequest(sessionID, hex.EncodeToString(hash[:]))
		if err != nil {
			slog.Warn("insights: claim failed", "session_id", sessionID, "error", err)
		} else if !claimed {
			slog.Warn("insights: completion already requested, using rules", "session_id", sessionID)
			return ruleBasedSuggestions(m, riskLevel), SourceRules
		}
	}

	messages := []llm.Message{
		{Role: "system", Content: insightsSystemPrompt},
		{Role: "user", Content: prompt},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return result, SourceModel
		}
		lastErr = err
		if attempt < len(backoff)-1 {
			g.sleep(backoff[attempt])
		}
	}

	slog.Warn("insights: falling back to rules", "reason", "completion failed after retries", "error", lastErr)
	return ruleBasedSuggestions(m, riskLevel), SourceRules
}

func buildInsightsPrompt(m Metrics, riskLevel string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting Acoustic Analysis Summary:\n\n")
	fmt.Fprintf(&b, "Dominant Emotion: %s\n", m.DominantEmotion.Display())
	fmt.Fprintf(&b, "Average Energy Level: %.1f/10\n", m.AvgEnergy)
	fmt.Fprintf(&b, "Silence Percentage: %.1f%%\n", m.SilencePct)
	fmt.Fprintf(&b, "Participation Rate: %.1f%%\n", m.Participation)
	fmt.Fprintf(&b, "Volatility Score: %.1f/10\n", m.Volatility)
	fmt.Fprintf(&b, "Psychological Safety Risk: %s\n\n", riskLevel)

	b.WriteString("Emotion Distribution:\n")
	names := make([]string, 0, len(m.Distribution))
	for name := range m.Distribution {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "- %s: %.1f%%\n", name, m.Distribution[name])
	}

	b.WriteString("\nGenerate 4-5 specific, actionable suggestions for the meeting leader based on these acoustic patterns.")
	return b.String()
}

var moodSuggestions = map[string][]string{
	"Energised": {
		"Momentum is strong: protect it by ending meetings early this week",
		"Share quick wins publicly to reward the positive energy",
		"Add buffer time between meetings to prevent burnout",
		"Capture key insights while engagement is at peak",
	},
	"Stressed": {
		"Cancel or postpone non-essential meetings this week",
		"Offer one-to-one check-ins to understand concerns",
		"Consider postponing major decisions until tension eases",
		"Review workload distribution across the team",
	},
	"Flat": {
		"Cut meeting time next week to respect energy levels",
		"Create space for anonymous feedback",
		"Introduce interactive elements or breakout discussions",
		"Review whether meeting objectives are clear and relevant",
	},
	"Thoughtful": {
		"Strong meeting dynamics: maintain this format",
		"Capture insights and decisions while they are fresh",
		"Ask the team what helped today's flow",
		"Treat this session as a baseline for future meetings",
	},
	"Volatile": {
		"Follow up individually with less active participants",
		"Reiterate shared goals and objectives in writing",
		"Break the large group into smaller discussion groups",
		"Review meeting structure and participation balance",
	},
}

var riskNotes = map[string]string{
	"High":   "Psychological safety risk is HIGH: pause group decision-making, run one-to-one check-ins, and address concerns before the next meeting.",
	"Medium": "Psychological safety risk is MEDIUM: monitor team dynamics closely, open an anonymous feedback channel, and check in with quieter members.",
	"Low":    "Psychological safety risk is LOW: team dynamics appear healthy; keep communication channels open.",
}

// ruleBasedSuggestions is the deterministic stand-in for the model path,
// keyed on the dominant mood and risk level.
func ruleBasedSuggestions(m Metrics, riskLevel string) string {
	lines := []string{
		"Review meeting structure and participation patterns",
		"Monitor emotional patterns in upcoming meetings",
		"Gather feedback on meeting effectiveness",
	}
	for key, candidate := range moodSuggestions {
		if strings.HasPrefix(string(m.DominantEmotion), strings.ToLower(key)) {
			lines = candidate
			break
		}
	}

	note, ok := riskNotes[riskLevel]
	if !ok {
		note = riskNotes["Low"]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dominant mood: %s\n\nRecommendations:\n", m.DominantEmotion.Display())
	for _, line := range lines {
		fmt.Fprintf(&b, "- %s\n", line)
	}
	b.WriteString("\n" + note)
	return b.String()
}
