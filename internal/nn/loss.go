package nn

import "math"

const probClip = 1e-7

// CrossEntropy returns the mean categorical cross-entropy of probs against
// one-hot targets and its gradient with respect to probs.
func CrossEntropy(probs, targets [][]float64) (float64, [][]float64) {
	n := float64(len(probs))
	loss := 0.0
	grad := make([][]float64, len(probs))
	for b, p := range probs {
		grad[b] = make([]float64, len(p))
		for j, y := range targets[b] {
			if y == 0 {
				continue
			}
			q := math.Min(math.Max(p[j], probClip), 1-probClip)
			loss -= y * math.Log(q)
			grad[b][j] = -y / q / n
		}
	}
	return loss / n, grad
}

// Accuracy returns the fraction of rows whose argmax matches the target's.
func Accuracy(probs, targets [][]float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	hits := 0
	for b := range probs {
		if Argmax(probs[b]) == Argmax(targets[b]) {
			hits++
		}
	}
	return float64(hits) / float64(len(probs))
}

// Argmax returns the index of the largest value, the first one on ties.
func Argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// OneHot encodes class index i among n classes.
func OneHot(i, n int) []float64 {
	v := make([]float64, n)
	v[i] = 1
	return v
}
