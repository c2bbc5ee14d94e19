package nn

import (
	"math"
	"math/rand/v2"
)

// glorotUniform fills w from U(-l, l) with l = sqrt(6 / (fanIn + fanOut)).
func glorotUniform(rng *rand.Rand, w []float64, fanIn, fanOut int) {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// orthogonal fills the rows×cols matrix w (rows >= cols) with orthonormal
// columns using Gram-Schmidt on a Gaussian sample.
func orthogonal(rng *rand.Rand, w []float64, rows, cols int) {
	for i := range w {
		w[i] = rng.NormFloat64()
	}
	col := func(c int, r int) *float64 { return &w[r*cols+c] }

	for c := range cols {
		for prev := range c {
			dot := 0.0
			for r := range rows {
				dot += *col(c, r) * *col(prev, r)
			}
			for r := range rows {
				*col(c, r) -= dot * *col(prev, r)
			}
		}
		norm := 0.0
		for r := range rows {
			norm += *col(c, r) * *col(c, r)
		}
		norm = math.Sqrt(norm)
		if norm < 1e-12 {
			// Degenerate draw; fall back to a unit basis vector.
			for r := range rows {
				*col(c, r) = 0
			}
			*col(c, c%rows) = 1
			continue
		}
		for r := range rows {
			*col(c, r) /= norm
		}
	}
}
