package report

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/moodflo/moodflo/internal/timeline"
)

const (
	defaultClusters = 4
	clusterSeed     = 42
	maxIterations   = 100
)

// Clustering groups frames into emotional phases via k-means over the
// emotion category and energy level of each frame.
type Clustering struct {
	NClusters   int    `json:"n_clusters"`
	Labels      []int  `json:"labels"`
	Description string `json:"description"`
}

var emotionOrder = []timeline.Emotion{
	timeline.EmotionEnergised,
	timeline.EmotionStressed,
	timeline.EmotionFlat,
	timeline.EmotionThoughtful,
	timeline.EmotionVolatile,
}

// Clusterize runs a deterministic k-means over the timeline. Fewer frames
// than clusters reduces k; an empty timeline yields an empty clustering.
func Clusterize(frames []timeline.Frame, k int) Clustering {
	if k <= 0 {
		k = defaultClusters
	}
	if len(frames) < k {
		k = len(frames)
	}
	if k == 0 {
		return Clustering{}
	}

	features := standardize(featureMatrix(frames))
	labels := kmeans(features, k)

	return Clustering{
		NClusters:   k,
		Labels:      labels,
		Description: describeClusters(frames, labels, k),
	}
}

// featureMatrix encodes each frame as its one-hot emotion category plus its
// normalized energy.
func featureMatrix(frames []timeline.Frame) [][]float64 {
	features := make([][]float64, len(frames))
	for i, f := range frames {
		row := make([]float64, len(emotionOrder)+1)
		for j, e := range emotionOrder {
			if f.Emotion == e {
				row[j] = 1
			}
		}
		row[len(emotionOrder)] = f.Energy / 10
		features[i] = row
	}
	return features
}

func standardize(features [][]float64) [][]float64 {
	if len(features) == 0 {
		return features
	}
	dims := len(features[0])
	n := float64(len(features))

	means := make([]float64, dims)
	for _, row := range features {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= n
	}

	stds := make([]float64, dims)
	for _, row := range features {
		for j, v := range row {
			stds[j] += (v - means[j]) * (v - means[j])
		}
	}
	for j := range stds {
		stds[j] = math.Sqrt(stds[j] / n)
		if stds[j] == 0 {
			stds[j] = 1
		}
	}

	out := make([][]float64, len(features))
	for i, row := range features {
		scaled := make([]float64, dims)
		for j, v := range row {
			scaled[j] = (v - means[j]) / stds[j]
		}
		out[i] = scaled
	}
	return out
}

func kmeans(features [][]float64, k int) []int {
	rng := rand.New(rand.NewSource(clusterSeed))

	centroids := make([][]float64, k)
	for i, idx := range rng.Perm(len(features))[:k] {
		centroids[i] = append([]float64(nil), features[idx]...)
	}

	labels := make([]int, len(features))
	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for i, row := range features {
			best, bestDist := 0, math.Inf(1)
			for c, centroid := range centroids {
				if d := sqDist(row, centroid); d < bestDist {
					best, bestDist = c, d
				}
			}
			if labels[i] != best {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}

		counts := make([]int, k)
		sums := make([][]float64, k)
		for c := range sums {
			sums[c] = make([]float64, len(features[0]))
		}
		for i, row := range features {
			c := labels[i]
			counts[c]++
			for j, v := range row {
				sums[c][j] += v
			}
		}
		for c := range centroids {
			if counts[c] == 0 {
				// Re-seed an empty cluster on a random point.
				centroids[c] = append([]float64(nil), features[rng.Intn(len(features))]...)
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}
	return labels
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func describeClusters(frames []timeline.Frame, labels []int, k int) string {
	type clusterAgg struct {
		energy float64
		count  int
		moods  map[timeline.Emotion]int
	}
	aggs := make([]clusterAgg, k)
	for i := range aggs {
		aggs[i].moods = make(map[timeline.Emotion]int)
	}
	for i, f := range frames {
		c := labels[i]
		aggs[c].energy += f.Energy
		aggs[c].count++
		aggs[c].moods[f.Emotion]++
	}

	parts := make([]string, 0, k)
	for i, agg := range aggs {
		if agg.count == 0 {
			continue
		}
		mean := agg.energy / float64(agg.count)
		var energyDesc string
		switch {
		case mean > 6:
			energyDesc = "High Energy"
		case mean < 3:
			energyDesc = "Low Energy"
		default:
			energyDesc = "Moderate Energy"
		}

		dominant := emotionOrder[0]
		best := 0
		for _, e := range emotionOrder {
			if aggs[i].moods[e] > best {
				best = aggs[i].moods[e]
				dominant = e
			}
		}
		parts = append(parts, fmt.Sprintf("Cluster %d: %s, Primarily %s", i, energyDesc, dominant.Display()))
	}
	return strings.Join(parts, " | ")
}
