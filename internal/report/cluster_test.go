package report

import (
	"strings"
	"testing"

	"github.com/moodflo/moodflo/internal/timeline"
)

func TestClusterizeEmpty(t *testing.T) {
	c := Clusterize(nil, 4)
	if c.NClusters != 0 || len(c.Labels) != 0 {
		t.Fatalf("expected empty clustering, got %+v", c)
	}
}

func TestClusterizeFewerFramesThanClusters(t *testing.T) {
	frames := []timeline.Frame{
		mkFrame(0, 5, timeline.EmotionThoughtful),
		mkFrame(5, 6, timeline.EmotionThoughtful),
	}
	c := Clusterize(frames, 4)
	if c.NClusters != 2 {
		t.Fatalf("expected k reduced to 2, got %d", c.NClusters)
	}
	if len(c.Labels) != 2 {
		t.Fatalf("expected a label per frame, got %d", len(c.Labels))
	}
}

func TestClusterizeSeparatesPhases(t *testing.T) {
	// Two clearly distinct phases: a quiet flat stretch and a loud
	// energised stretch.
	var frames []timeline.Frame
	for i := 0; i < 10; i++ {
		frames = append(frames, mkFrame(float64(i*5), 1, timeline.EmotionFlat))
	}
	for i := 10; i < 20; i++ {
		frames = append(frames, mkFrame(float64(i*5), 9, timeline.EmotionEnergised))
	}

	c := Clusterize(frames, 2)
	if c.NClusters != 2 {
		t.Fatalf("expected 2 clusters, got %d", c.NClusters)
	}

	// Every frame of a phase must land in the same cluster, and the two
	// phases in different ones.
	first := c.Labels[0]
	for i := 1; i < 10; i++ {
		if c.Labels[i] != first {
			t.Fatalf("flat phase split across clusters: %v", c.Labels)
		}
	}
	second := c.Labels[10]
	if second == first {
		t.Fatalf("phases merged into one cluster: %v", c.Labels)
	}
	for i := 11; i < 20; i++ {
		if c.Labels[i] != second {
			t.Fatalf("energised phase split across clusters: %v", c.Labels)
		}
	}

	if !strings.Contains(c.Description, "High Energy") || !strings.Contains(c.Description, "Low Energy") {
		t.Fatalf("expected both energy levels in description, got %q", c.Description)
	}
	if !strings.Contains(c.Description, "Energised") {
		t.Fatalf("expected dominant emotion in description, got %q", c.Description)
	}
}

func TestClusterizeDeterministic(t *testing.T) {
	var frames []timeline.Frame
	for i := 0; i < 30; i++ {
		energy := float64(i % 10)
		frames = append(frames, mkFrame(float64(i*5), energy, timeline.EmotionThoughtful))
	}

	a := Clusterize(frames, 4)
	b := Clusterize(frames, 4)
	if len(a.Labels) != len(b.Labels) {
		t.Fatal("label lengths differ between runs")
	}
	for i := range a.Labels {
		if a.Labels[i] != b.Labels[i] {
			t.Fatal("clustering is not deterministic")
		}
	}
}
