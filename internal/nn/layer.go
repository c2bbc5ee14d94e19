package nn

import (
	"fmt"
	"math/rand/v2"
)

// Layer is one stage of a Network.
//
// Forward must not retain per-call state in the layer itself: everything
// Backward needs is returned as the cache value. In inference mode layers
// only read their parameters, so one network may serve concurrent callers.
type Layer interface {
	Forward(x Seq, training bool) (Seq, any)
	// Backward accumulates parameter gradients and returns the gradient with
	// respect to the layer input.
	Backward(cache any, grad Seq) Seq
	Params() []*Param
}

// Layer kinds understood by Spec.
const (
	KindLSTM          = "lstm"
	KindBidirectional = "bidirectional_lstm"
	KindBatchNorm     = "batch_norm"
	KindDropout       = "dropout"
	KindDense         = "dense"
)

// Activations for dense layers.
const (
	Linear  = "linear"
	ReLU    = "relu"
	Softmax = "softmax"
)

// Spec describes one layer independently of its weights.
type Spec struct {
	Kind            string  `json:"kind"`
	Units           int     `json:"units,omitempty"`
	ReturnSequences bool    `json:"return_sequences,omitempty"`
	Activation      string  `json:"activation,omitempty"`
	Rate            float64 `json:"rate,omitempty"`
}

// buildLayer constructs the layer for spec given its input shape. It returns
// the layer and its output shape.
func buildLayer(spec Spec, name string, steps, width int, rng *rand.Rand) (Layer, int, int, error) {
	switch spec.Kind {
	case KindLSTM:
		if spec.Units <= 0 {
			return nil, 0, 0, fmt.Errorf("%s: units must be positive", name)
		}
		l := newLSTM(name, width, spec.Units, spec.ReturnSequences, false, rng)
		return l, outSteps(steps, spec.ReturnSequences), spec.Units, nil

	case KindBidirectional:
		if spec.Units <= 0 {
			return nil, 0, 0, fmt.Errorf("%s: units must be positive", name)
		}
		l := newBidirectional(name, width, spec.Units, spec.ReturnSequences, rng)
		return l, outSteps(steps, spec.ReturnSequences), 2 * spec.Units, nil

	case KindBatchNorm:
		return newBatchNorm(name, width), steps, width, nil

	case KindDropout:
		if spec.Rate < 0 || spec.Rate >= 1 {
			return nil, 0, 0, fmt.Errorf("%s: dropout rate %v out of range", name, spec.Rate)
		}
		return newDropout(spec.Rate, rng.Uint64()), steps, width, nil

	case KindDense:
		if spec.Units <= 0 {
			return nil, 0, 0, fmt.Errorf("%s: units must be positive", name)
		}
		switch spec.Activation {
		case "", Linear, ReLU, Softmax:
		default:
			return nil, 0, 0, fmt.Errorf("%s: unknown activation %q", name, spec.Activation)
		}
		return newDense(name, width, spec.Units, spec.Activation, rng), steps, spec.Units, nil
	}
	return nil, 0, 0, fmt.Errorf("%s: unknown layer kind %q", name, spec.Kind)
}

func outSteps(steps int, returnSequences bool) int {
	if returnSequences {
		return steps
	}
	return 1
}
