package report

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/moodflo/moodflo/internal/llm"
	"github.com/moodflo/moodflo/internal/timeline"
)

type mockLLM struct {
	failures int
	reply    string
	calls    int
	lastMsgs []llm.Message
}

func (c *mockLLM) Complete(_ context.Context, messages []llm.Message) (string, error) {
	c.calls++
	c.lastMsgs = messages
	if c.calls <= c.failures {
		return "", errors.New("rate limited")
	}
	return c.reply, nil
}

type claimStub struct {
	allow  bool
	err    error
	calls  int
	hashes []string
}

func (c *claimStub) ClaimInsightRequest(_ string, promptHash string) (bool, error) {
	c.calls++
	c.hashes = append(c.hashes, promptHash)
	return c.allow, c.err
}

func testMetrics() Metrics {
	return Metrics{
		AvgEnergy:       6.5,
		SilencePct:      10,
		Participation:   90,
		Volatility:      2.5,
		EmotionShifts:   3,
		DominantEmotion: timeline.EmotionEnergised,
		Distribution:    map[string]float64{"Energised": 70, "Thoughtful/Constructive": 30},
	}
}

func TestInsightsRuleFallbackWithoutModel(t *testing.T) {
	g := NewInsights("", nil, nil)
	text, source := g.Generate(context.Background(), "s1", testMetrics(), "Low")
	if source != SourceRules {
		t.Fatalf("expected rules source, got %s", source)
	}
	if !strings.Contains(text, "Energised") {
		t.Fatalf("expected mood-specific suggestions, got %q", text)
	}
	if !strings.Contains(text, "LOW") {
		t.Fatalf("expected risk note, got %q", text)
	}
}

func TestInsightsModelPath(t *testing.T) {
	client := &mockLLM{reply: "1. Keep the pace."}
	g := NewInsights("openai/gpt-4o-mini", func(provider, model string) (llm.Client, error) {
		if provider != "openai" || model != "gpt-4o-mini" {
			t.Fatalf("unexpected routing %s/%s", provider, model)
		}
		return client, nil
	}, nil)

	text, source := g.Generate(context.Background(), "s1", testMetrics(), "Low")
	if source != SourceModel {
		t.Fatalf("expected model source, got %s", source)
	}
	if text != "1. Keep the pace." {
		t.Fatalf("unexpected suggestions %q", text)
	}

	user := client.lastMsgs[len(client.lastMsgs)-1].Content
	for _, want := range []string{"Dominant Emotion: Energised", "Average Energy Level: 6.5/10", "Psychological Safety Risk: Low"} {
		if !strings.Contains(user, want) {
			t.Fatalf("prompt missing %q:\n%s", want, user)
		}
	}
}

func TestInsightsRetriesThenSucceeds(t *testing.T) {
	client := &mockLLM{failures: 2, reply: "ok"}
	g := NewInsights("openai/gpt-4o-mini", func(string, string) (llm.Client, error) {
		return client, nil
	}, nil)
	var slept []time.Duration
	g.sleep = func(d time.Duration) { slept = append(slept, d) }

	text, source := g.Generate(context.Background(), "s1", testMetrics(), "Low")
	if source != SourceModel || text != "ok" {
		t.Fatalf("expected model success after retries, got %s / %q", source, text)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.calls)
	}
	if len(slept) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %v", slept)
	}
}

func TestInsightsFallsBackAfterExhaustedRetries(t *testing.T) {
	client := &mockLLM{failures: 99}
	g := NewInsights("openai/gpt-4o-mini", func(string, string) (llm.Client, error) {
		return client, nil
	}, nil)
	g.sleep = func(time.Duration) {}

	_, source := g.Generate(context.Background(), "s1", testMetrics(), "Low")
	if source != SourceRules {
		t.Fatalf("expected rules fallback, got %s", source)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", client.calls)
	}
}

func TestInsightsClaimPreventsDuplicateSpend(t *testing.T) {
	client := &mockLLM{reply: "ok"}
	claims := &claimStub{allow: false}
	g := NewInsights("openai/gpt-4o-mini", func(string, string) (llm.Client, error) {
		return client, nil
	}, claims)

	_, source := g.Generate(context.Background(), "s1", testMetrics(), "Low")
	if source != SourceRules {
		t.Fatalf("expected rules when claim is rejected, got %s", source)
	}
	if client.calls != 0 {
		t.Fatalf("expected no completion call, got %d", client.calls)
	}
	if claims.calls != 1 || claims.hashes[0] == "" {
		t.Fatalf("expected one hashed claim, got %+v", claims)
	}
}

func TestInsightsInvalidModelFallsBack(t *testing.T) {
	g := NewInsights("not-a-model", func(string, string) (llm.Client, error) {
		t.Fatal("factory must not be called for an unparseable model")
		return nil, nil
	}, nil)

	_, source := g.Generate(context.Background(), "s1", testMetrics(), "Low")
	if source != SourceRules {
		t.Fatalf("expected rules fallback, got %s", source)
	}
}
