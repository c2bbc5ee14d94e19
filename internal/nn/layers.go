package nn

import (
	"math"
	"math/rand/v2"
	"sync"
)

const (
	bnMomentum = 0.99
	bnEpsilon  = 1e-3
)

// BatchNorm normalizes each feature over batch and time. In training mode it
// uses batch statistics and updates the moving averages; in inference mode it
// uses the moving averages only.
type BatchNorm struct {
	width       int
	gamma, beta *Param
	mean, vari  *Param
}

func newBatchNorm(name string, width int) *BatchNorm {
	l := &BatchNorm{
		width: width,
		gamma: newParam(name+"/gamma", width, true),
		beta:  newParam(name+"/beta", width, true),
		mean:  newParam(name+"/moving_mean", width, false),
		vari:  newParam(name+"/moving_variance", width, false),
	}
	for i := range width {
		l.gamma.Value[i] = 1
		l.vari.Value[i] = 1
	}
	return l
}

// Params returns gamma, beta and the moving statistics.
func (l *BatchNorm) Params() []*Param {
	return []*Param{l.gamma, l.beta, l.mean, l.vari}
}

type bnCache struct {
	xhat   Seq
	invStd []float64
}

// Forward normalizes x.
func (l *BatchNorm) Forward(x Seq, training bool) (Seq, any) {
	batch, steps, width := x.Dims()
	out := NewSeq(batch, steps, width)

	if !training {
		for b := range x {
			for t := range x[b] {
				for j, v := range x[b][t] {
					inv := 1 / math.Sqrt(l.vari.Value[j]+bnEpsilon)
					out[b][t][j] = l.gamma.Value[j]*(v-l.mean.Value[j])*inv + l.beta.Value[j]
				}
			}
		}
		return out, nil
	}

	n := float64(batch * steps)
	mean := make([]float64, width)
	variance := make([]float64, width)
	for b := range x {
		for t := range x[b] {
			addTo(mean, x[b][t])
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	for b := range x {
		for t := range x[b] {
			for j, v := range x[b][t] {
				d := v - mean[j]
				variance[j] += d * d
			}
		}
	}

	cache := &bnCache{xhat: NewSeq(batch, steps, width), invStd: make([]float64, width)}
	for j := range variance {
		variance[j] /= n
		cache.invStd[j] = 1 / math.Sqrt(variance[j]+bnEpsilon)
	}

	for b := range x {
		for t := range x[b] {
			for j, v := range x[b][t] {
				xh := (v - mean[j]) * cache.invStd[j]
				cache.xhat[b][t][j] = xh
				out[b][t][j] = l.gamma.Value[j]*xh + l.beta.Value[j]
			}
		}
	}

	for j := range width {
		l.mean.Value[j] = bnMomentum*l.mean.Value[j] + (1-bnMomentum)*mean[j]
		l.vari.Value[j] = bnMomentum*l.vari.Value[j] + (1-bnMomentum)*variance[j]
	}
	return out, cache
}

// Backward propagates through the batch statistics.
func (l *BatchNorm) Backward(c any, grad Seq) Seq {
	cache := c.(*bnCache)
	batch, steps, width := grad.Dims()
	n := float64(batch * steps)

	sumDy := make([]float64, width)
	sumDyXhat := make([]float64, width)
	for b := range grad {
		for t := range grad[b] {
			for j, dy := range grad[b][t] {
				sumDy[j] += dy
				sumDyXhat[j] += dy * cache.xhat[b][t][j]
			}
		}
	}
	addTo(l.beta.Grad, sumDy)
	addTo(l.gamma.Grad, sumDyXhat)

	dx := NewSeq(batch, steps, width)
	for b := range grad {
		for t := range grad[b] {
			for j, dy := range grad[b][t] {
				k := l.gamma.Value[j] * cache.invStd[j] / n
				dx[b][t][j] = k * (n*dy - sumDy[j] - cache.xhat[b][t][j]*sumDyXhat[j])
			}
		}
	}
	return dx
}

// Dropout zeroes a fraction of activations during training and rescales the
// rest so the expected activation is unchanged. It is the identity at
// inference.
type Dropout struct {
	rate float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newDropout(rate float64, seed uint64) *Dropout {
	return &Dropout{rate: rate, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Params returns nothing; dropout has no parameters.
func (l *Dropout) Params() []*Param { return nil }

// Forward applies a fresh mask in training mode.
func (l *Dropout) Forward(x Seq, training bool) (Seq, any) {
	if !training || l.rate == 0 {
		return x, nil
	}

	batch, steps, width := x.Dims()
	mask := NewSeq(batch, steps, width)
	out := NewSeq(batch, steps, width)
	keep := 1 / (1 - l.rate)

	l.mu.Lock()
	for b := range mask {
		for t := range mask[b] {
			for j := range mask[b][t] {
				if l.rng.Float64() >= l.rate {
					mask[b][t][j] = keep
				}
			}
		}
	}
	l.mu.Unlock()

	for b := range x {
		for t := range x[b] {
			for j, v := range x[b][t] {
				out[b][t][j] = v * mask[b][t][j]
			}
		}
	}
	return out, mask
}

// Backward applies the same mask to the gradient.
func (l *Dropout) Backward(c any, grad Seq) Seq {
	if c == nil {
		return grad
	}
	mask := c.(Seq)
	batch, steps, width := grad.Dims()
	dx := NewSeq(batch, steps, width)
	for b := range grad {
		for t := range grad[b] {
			for j, g := range grad[b][t] {
				dx[b][t][j] = g * mask[b][t][j]
			}
		}
	}
	return dx
}

// Dense is a fully connected layer applied independently at every step.
type Dense struct {
	in, units  int
	activation string
	kernel     *Param // units × in
	bias       *Param
}

func newDense(name string, in, units int, activation string, rng *rand.Rand) *Dense {
	if activation == "" {
		activation = Linear
	}
	l := &Dense{
		in:         in,
		units:      units,
		activation: activation,
		kernel:     newParam(name+"/kernel", units*in, true),
		bias:       newParam(name+"/bias", units, true),
	}
	glorotUniform(rng, l.kernel.Value, in, units)
	return l
}

// Params returns the kernel and bias.
func (l *Dense) Params() []*Param {
	return []*Param{l.kernel, l.bias}
}

type denseCache struct {
	x, out Seq
}

// Forward computes act(W x + b).
func (l *Dense) Forward(x Seq, training bool) (Seq, any) {
	batch, steps, _ := x.Dims()
	out := NewSeq(batch, steps, l.units)

	parallel(spans(batch), func(_ int, s span) {
		for b := s.lo; b < s.hi; b++ {
			for t := range x[b] {
				z := out[b][t]
				copy(z, l.bias.Value)
				matVec(z, l.kernel.Value, x[b][t])
				activate(l.activation, z)
			}
		}
	})
	return out, &denseCache{x: x, out: out}
}

func activate(kind string, z []float64) {
	switch kind {
	case ReLU:
		for i, v := range z {
			if v < 0 {
				z[i] = 0
			}
		}
	case Softmax:
		peak := math.Inf(-1)
		for _, v := range z {
			peak = math.Max(peak, v)
		}
		sum := 0.0
		for i, v := range z {
			z[i] = math.Exp(v - peak)
			sum += z[i]
		}
		for i := range z {
			z[i] /= sum
		}
	}
}

// Backward propagates through the activation and the affine map.
func (l *Dense) Backward(c any, grad Seq) Seq {
	cache := c.(*denseCache)
	batch, steps, _ := grad.Dims()
	dx := NewSeq(batch, steps, l.in)

	parts := spans(batch)
	type partial struct{ kernel, bias []float64 }
	grads := make([]partial, len(parts))

	parallel(parts, func(i int, s span) {
		g := partial{kernel: make([]float64, len(l.kernel.Value)), bias: make([]float64, l.units)}
		dz := make([]float64, l.units)
		for b := s.lo; b < s.hi; b++ {
			for t := range grad[b] {
				a, da := cache.out[b][t], grad[b][t]
				switch l.activation {
				case ReLU:
					for j := range dz {
						dz[j] = 0
						if a[j] > 0 {
							dz[j] = da[j]
						}
					}
				case Softmax:
					dot := 0.0
					for j := range da {
						dot += da[j] * a[j]
					}
					for j := range dz {
						dz[j] = a[j] * (da[j] - dot)
					}
				default:
					copy(dz, da)
				}
				outerAdd(g.kernel, dz, cache.x[b][t])
				addTo(g.bias, dz)
				matTVec(dx[b][t], l.kernel.Value, dz)
			}
		}
		grads[i] = g
	})

	for _, g := range grads {
		addTo(l.kernel.Grad, g.kernel)
		addTo(l.bias.Grad, g.bias)
	}
	return dx
}
