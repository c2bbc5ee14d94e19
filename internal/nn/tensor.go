// Package nn implements the small set of trainable layers needed by the
// gesture classifier: LSTM, bidirectional LSTM, batch normalization,
// dropout and dense layers, with Adam optimization.
//
// Activations flow through layers as Seq values shaped [batch][time][feature].
// Layers that collapse time (a final LSTM step, dense layers after it) use a
// single time step.
package nn

import (
	"math"
	"runtime"
	"sync"
)

// Seq is a batch of feature sequences indexed [batch][time][feature].
type Seq [][][]float64

// NewSeq allocates a zeroed Seq backed by one contiguous slice.
func NewSeq(batch, steps, width int) Seq {
	backing := make([]float64, batch*steps*width)
	s := make(Seq, batch)
	for b := range s {
		s[b] = make([][]float64, steps)
		for t := range s[b] {
			off := (b*steps + t) * width
			s[b][t] = backing[off : off+width : off+width]
		}
	}
	return s
}

// Dims returns the batch size, number of steps and feature width.
func (s Seq) Dims() (batch, steps, width int) {
	if len(s) == 0 || len(s[0]) == 0 {
		return len(s), 0, 0
	}
	return len(s), len(s[0]), len(s[0][0])
}

// Last returns the single-step rows of s as a matrix [batch][feature].
func (s Seq) Last() [][]float64 {
	out := make([][]float64, len(s))
	for b := range s {
		out[b] = s[b][len(s[b])-1]
	}
	return out
}

// FromRows wraps a matrix as single-step sequences.
func FromRows(rows [][]float64) Seq {
	s := make(Seq, len(rows))
	for b, r := range rows {
		s[b] = [][]float64{r}
	}
	return s
}

// Param is a named parameter vector and its accumulated gradient.
// Non-trainable parameters (batch norm moving statistics) have no gradient.
type Param struct {
	Name      string
	Value     []float64
	Grad      []float64
	Trainable bool
}

func newParam(name string, size int, trainable bool) *Param {
	p := &Param{Name: name, Value: make([]float64, size), Trainable: trainable}
	if trainable {
		p.Grad = make([]float64, size)
	}
	return p
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// matVec computes out += W x where W has len(out) rows of len(x) columns.
func matVec(out, w, x []float64) {
	n := len(x)
	for j := range out {
		row := w[j*n : (j+1)*n]
		sum := 0.0
		for i, v := range x {
			sum += row[i] * v
		}
		out[j] += sum
	}
}

// matTVec computes out += Wᵀ d where W has len(d) rows of len(out) columns.
func matTVec(out, w, d []float64) {
	n := len(out)
	for j, dj := range d {
		if dj == 0 {
			continue
		}
		row := w[j*n : (j+1)*n]
		for i := range out {
			out[i] += row[i] * dj
		}
	}
}

// outerAdd computes g += d xᵀ, g having len(d) rows of len(x) columns.
func outerAdd(g, d, x []float64) {
	n := len(x)
	for j, dj := range d {
		if dj == 0 {
			continue
		}
		row := g[j*n : (j+1)*n]
		for i, v := range x {
			row[i] += dj * v
		}
	}
}

func addTo(dst, src []float64) {
	for i, v := range src {
		dst[i] += v
	}
}

// span is a half-open range of batch indices.
type span struct{ lo, hi int }

// spans splits [0, n) into at most GOMAXPROCS contiguous ranges.
func spans(n int) []span {
	workers := min(runtime.GOMAXPROCS(0), n)
	if workers <= 1 {
		return []span{{0, n}}
	}
	size := (n + workers - 1) / workers
	out := make([]span, 0, workers)
	for lo := 0; lo < n; lo += size {
		out = append(out, span{lo, min(lo+size, n)})
	}
	return out
}

// parallel runs fn once per span, concurrently when there is more than one.
func parallel(parts []span, fn func(i int, s span)) {
	if len(parts) == 1 {
		fn(0, parts[0])
		return
	}
	var wg sync.WaitGroup
	for i, s := range parts {
		wg.Go(func() { fn(i, s) })
	}
	wg.Wait()
}
