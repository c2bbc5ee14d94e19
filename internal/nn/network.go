package nn

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrShape is returned when an input or weight set does not fit the network.
var ErrShape = errors.New("nn: shape mismatch")

// Network is a sequential stack of layers with a fixed input shape.
type Network struct {
	steps, width int
	outWidth     int
	specs        []Spec
	layers       []Layer
}

// Build constructs a network for inputs of shape (steps, width). Weights are
// initialised from seed.
func Build(steps, width int, specs []Spec, seed uint64) (*Network, error) {
	if steps <= 0 || width <= 0 {
		return nil, fmt.Errorf("%w: input %dx%d", ErrShape, steps, width)
	}
	if len(specs) == 0 {
		return nil, errors.New("nn: no layers")
	}

	rng := rand.New(rand.NewPCG(seed, seed+1))
	n := &Network{steps: steps, width: width, specs: append([]Spec(nil), specs...)}

	s, w := steps, width
	for i, spec := range specs {
		layer, ns, nw, err := buildLayer(spec, fmt.Sprintf("layer_%d", i), s, w, rng)
		if err != nil {
			return nil, err
		}
		n.layers = append(n.layers, layer)
		s, w = ns, nw
	}
	if s != 1 {
		return nil, fmt.Errorf("%w: final layer keeps %d steps", ErrShape, s)
	}
	n.outWidth = w
	return n, nil
}

// InputShape returns the expected number of steps and features.
func (n *Network) InputShape() (steps, width int) { return n.steps, n.width }

// Outputs returns the width of the final layer.
func (n *Network) Outputs() int { return n.outWidth }

// Specs returns the layer descriptions the network was built from.
func (n *Network) Specs() []Spec { return append([]Spec(nil), n.specs...) }

func (n *Network) checkInput(x Seq) error {
	if len(x) == 0 {
		return fmt.Errorf("%w: empty batch", ErrShape)
	}
	for b := range x {
		if len(x[b]) != n.steps {
			return fmt.Errorf("%w: sample %d has %d steps, want %d", ErrShape, b, len(x[b]), n.steps)
		}
		for t := range x[b] {
			if len(x[b][t]) != n.width {
				return fmt.Errorf("%w: sample %d step %d has %d features, want %d", ErrShape, b, t, len(x[b][t]), n.width)
			}
		}
	}
	return nil
}

// Forward runs every layer, returning the output rows [batch][outputs] and
// the caches needed by Backward.
func (n *Network) Forward(x Seq, training bool) ([][]float64, []any, error) {
	if err := n.checkInput(x); err != nil {
		return nil, nil, err
	}
	caches := make([]any, len(n.layers))
	for i, l := range n.layers {
		x, caches[i] = l.Forward(x, training)
	}
	return x.Last(), caches, nil
}

// Backward propagates grad, shaped like the Forward output, through every
// layer and accumulates parameter gradients.
func (n *Network) Backward(caches []any, grad [][]float64) {
	g := FromRows(grad)
	for i := len(n.layers) - 1; i >= 0; i-- {
		g = n.layers[i].Backward(caches[i], g)
	}
}

// Predict runs the network in inference mode. It does not modify the
// network and is safe for concurrent use.
func (n *Network) Predict(x Seq) ([][]float64, error) {
	out, _, err := n.Forward(x, false)
	return out, err
}

// Params returns every parameter, trainable or not, in layer order.
func (n *Network) Params() []*Param {
	var ps []*Param
	for _, l := range n.layers {
		ps = append(ps, l.Params()...)
	}
	return ps
}

// ZeroGrad clears accumulated gradients.
func (n *Network) ZeroGrad() {
	for _, p := range n.Params() {
		clear(p.Grad)
	}
}

// Weights maps parameter names to values.
type Weights map[string][]float64

// Snapshot copies every parameter value.
func (n *Network) Snapshot() Weights {
	w := make(Weights)
	for _, p := range n.Params() {
		w[p.Name] = append([]float64(nil), p.Value...)
	}
	return w
}

// Restore overwrites parameter values from w. Every parameter must be present
// with the right size.
func (n *Network) Restore(w Weights) error {
	params := n.Params()
	for _, p := range params {
		v, ok := w[p.Name]
		if !ok {
			return fmt.Errorf("%w: missing weights for %s", ErrShape, p.Name)
		}
		if len(v) != len(p.Value) {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrShape, p.Name, len(v), len(p.Value))
		}
	}
	if len(w) != len(params) {
		return fmt.Errorf("%w: %d weight sets for %d parameters", ErrShape, len(w), len(params))
	}
	for _, p := range params {
		copy(p.Value, w[p.Name])
	}
	return nil
}

// CountParams returns the number of trainable scalars.
func (n *Network) CountParams() int {
	total := 0
	for _, p := range n.Params() {
		if p.Trainable {
			total += len(p.Value)
		}
	}
	return total
}
