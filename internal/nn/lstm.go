package nn

import (
	"math"
	"math/rand/v2"
)

// LSTM is a long short-term memory layer with gates ordered input, forget,
// cell, output. With reverse set it consumes the sequence back to front;
// outputs are still indexed by input time step.
type LSTM struct {
	in, units       int
	returnSequences bool
	reverse         bool

	kernel    *Param // 4·units × in
	recurrent *Param // 4·units × units
	bias      *Param // 4·units
}

func newLSTM(name string, in, units int, returnSequences, reverse bool, rng *rand.Rand) *LSTM {
	gates := 4 * units
	l := &LSTM{
		in:              in,
		units:           units,
		returnSequences: returnSequences,
		reverse:         reverse,
		kernel:          newParam(name+"/kernel", gates*in, true),
		recurrent:       newParam(name+"/recurrent_kernel", gates*units, true),
		bias:            newParam(name+"/bias", gates, true),
	}
	glorotUniform(rng, l.kernel.Value, in, gates)
	orthogonal(rng, l.recurrent.Value, gates, units)
	for j := units; j < 2*units; j++ {
		l.bias.Value[j] = 1
	}
	return l
}

// Params returns the kernel, recurrent kernel and bias.
func (l *LSTM) Params() []*Param {
	return []*Param{l.kernel, l.recurrent, l.bias}
}

type lstmCache struct {
	x     Seq
	gates Seq // activated i, f, g, o per step
	c     Seq
	tanhC Seq
	h     Seq
}

// timeAt maps processing step k to the input time index.
func (l *LSTM) timeAt(k, steps int) int {
	if l.reverse {
		return steps - 1 - k
	}
	return k
}

// Forward runs the recurrence over every sample of x.
func (l *LSTM) Forward(x Seq, training bool) (Seq, any) {
	batch, steps, _ := x.Dims()
	H := l.units

	cache := &lstmCache{
		x:     x,
		gates: NewSeq(batch, steps, 4*H),
		c:     NewSeq(batch, steps, H),
		tanhC: NewSeq(batch, steps, H),
		h:     NewSeq(batch, steps, H),
	}

	parallel(spans(batch), func(_ int, s span) {
		zeros := make([]float64, H)
		for b := s.lo; b < s.hi; b++ {
			prevH, prevC := zeros, zeros
			for k := range steps {
				t := l.timeAt(k, steps)
				z := cache.gates[b][t]
				copy(z, l.bias.Value)
				matVec(z, l.kernel.Value, x[b][t])
				matVec(z, l.recurrent.Value, prevH)

				c, tc, h := cache.c[b][t], cache.tanhC[b][t], cache.h[b][t]
				for j := range H {
					ig := sigmoid(z[j])
					fg := sigmoid(z[H+j])
					gg := math.Tanh(z[2*H+j])
					og := sigmoid(z[3*H+j])
					z[j], z[H+j], z[2*H+j], z[3*H+j] = ig, fg, gg, og

					c[j] = fg*prevC[j] + ig*gg
					tc[j] = math.Tanh(c[j])
					h[j] = og * tc[j]
				}
				prevH, prevC = h, c
			}
		}
	})

	if l.returnSequences {
		return cache.h, cache
	}

	out := NewSeq(batch, 1, H)
	last := l.timeAt(steps-1, steps)
	for b := range out {
		copy(out[b][0], cache.h[b][last])
	}
	return out, cache
}

// Backward runs backpropagation through time.
func (l *LSTM) Backward(c any, grad Seq) Seq {
	cache := c.(*lstmCache)
	batch, steps, _ := cache.x.Dims()
	H, in := l.units, l.in

	dx := NewSeq(batch, steps, in)
	parts := spans(batch)
	type partial struct{ kernel, recurrent, bias []float64 }
	grads := make([]partial, len(parts))

	parallel(parts, func(i int, s span) {
		g := partial{
			kernel:    make([]float64, len(l.kernel.Value)),
			recurrent: make([]float64, len(l.recurrent.Value)),
			bias:      make([]float64, len(l.bias.Value)),
		}
		zeros := make([]float64, H)
		dz := make([]float64, 4*H)
		dh := make([]float64, H)
		dhNext := make([]float64, H)
		dcNext := make([]float64, H)

		for b := s.lo; b < s.hi; b++ {
			clear(dhNext)
			clear(dcNext)
			for k := steps - 1; k >= 0; k-- {
				t := l.timeAt(k, steps)
				prevH, prevC := zeros, zeros
				if k > 0 {
					pt := l.timeAt(k-1, steps)
					prevH, prevC = cache.h[b][pt], cache.c[b][pt]
				}

				copy(dh, dhNext)
				switch {
				case l.returnSequences:
					addTo(dh, grad[b][t])
				case k == steps-1:
					addTo(dh, grad[b][0])
				}

				gates, tc := cache.gates[b][t], cache.tanhC[b][t]
				for j := range H {
					ig, fg, gg, og := gates[j], gates[H+j], gates[2*H+j], gates[3*H+j]
					dOut := dh[j] * tc[j]
					dc := dh[j]*og*(1-tc[j]*tc[j]) + dcNext[j]

					dz[j] = dc * gg * ig * (1 - ig)
					dz[H+j] = dc * prevC[j] * fg * (1 - fg)
					dz[2*H+j] = dc * ig * (1 - gg*gg)
					dz[3*H+j] = dOut * og * (1 - og)
					dcNext[j] = dc * fg
				}

				outerAdd(g.kernel, dz, cache.x[b][t])
				outerAdd(g.recurrent, dz, prevH)
				addTo(g.bias, dz)

				matTVec(dx[b][t], l.kernel.Value, dz)
				clear(dhNext)
				matTVec(dhNext, l.recurrent.Value, dz)
			}
		}
		grads[i] = g
	})

	for _, g := range grads {
		addTo(l.kernel.Grad, g.kernel)
		addTo(l.recurrent.Grad, g.recurrent)
		addTo(l.bias.Grad, g.bias)
	}
	return dx
}

// Bidirectional runs a forward and a reversed LSTM over the same input and
// concatenates their outputs feature-wise, forward first.
type Bidirectional struct {
	forward, backward *LSTM
}

func newBidirectional(name string, in, units int, returnSequences bool, rng *rand.Rand) *Bidirectional {
	return &Bidirectional{
		forward:  newLSTM(name+"/forward", in, units, returnSequences, false, rng),
		backward: newLSTM(name+"/backward", in, units, returnSequences, true, rng),
	}
}

// Params returns the forward parameters followed by the backward ones.
func (l *Bidirectional) Params() []*Param {
	return append(l.forward.Params(), l.backward.Params()...)
}

type biCache struct {
	forward, backward any
}

// Forward runs both directions.
func (l *Bidirectional) Forward(x Seq, training bool) (Seq, any) {
	yf, cf := l.forward.Forward(x, training)
	yb, cb := l.backward.Forward(x, training)

	batch, steps, _ := yf.Dims()
	H := l.forward.units
	out := NewSeq(batch, steps, 2*H)
	for b := range out {
		for t := range out[b] {
			copy(out[b][t][:H], yf[b][t])
			copy(out[b][t][H:], yb[b][t])
		}
	}
	return out, &biCache{forward: cf, backward: cb}
}

// Backward splits the gradient between the two directions and sums their
// input gradients.
func (l *Bidirectional) Backward(c any, grad Seq) Seq {
	cache := c.(*biCache)
	batch, steps, _ := grad.Dims()
	H := l.forward.units

	gf := make(Seq, batch)
	gb := make(Seq, batch)
	for b := range grad {
		gf[b] = make([][]float64, steps)
		gb[b] = make([][]float64, steps)
		for t := range grad[b] {
			gf[b][t] = grad[b][t][:H]
			gb[b][t] = grad[b][t][H:]
		}
	}

	dx := l.forward.Backward(cache.forward, gf)
	dxb := l.backward.Backward(cache.backward, gb)
	for b := range dx {
		for t := range dx[b] {
			addTo(dx[b][t], dxb[b][t])
		}
	}
	return dx
}
