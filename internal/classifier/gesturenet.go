// Package classifier defines the gesture sequence classifier, its persisted
// artifact, and the predictors that serve it.
package classifier

import (
	"github.com/ayusman/mudra/internal/nn"
	"github.com/ayusman/mudra/internal/sequence"
)

// dropoutRate is applied after every recurrent and hidden dense block.
const dropoutRate = 0.3

// GestureNetSpecs returns the layer stack of the gesture classifier for the
// given number of classes.
func GestureNetSpecs(classes int) []nn.Spec {
	return []nn.Spec{
		{Kind: nn.KindBidirectional, Units: 64, ReturnSequences: true},
		{Kind: nn.KindBatchNorm},
		{Kind: nn.KindDropout, Rate: dropoutRate},
		{Kind: nn.KindBidirectional, Units: 128, ReturnSequences: true},
		{Kind: nn.KindBatchNorm},
		{Kind: nn.KindDropout, Rate: dropoutRate},
		{Kind: nn.KindLSTM, Units: 64},
		{Kind: nn.KindBatchNorm},
		{Kind: nn.KindDropout, Rate: dropoutRate},
		{Kind: nn.KindDense, Units: 64, Activation: nn.ReLU},
		{Kind: nn.KindBatchNorm},
		{Kind: nn.KindDropout, Rate: dropoutRate},
		{Kind: nn.KindDense, Units: 32, Activation: nn.ReLU},
		{Kind: nn.KindBatchNorm},
		{Kind: nn.KindDense, Units: classes, Activation: nn.Softmax},
	}
}

// NewGestureNet builds an untrained gesture classifier over normalized
// sequences.
func NewGestureNet(classes int, seed uint64) (*nn.Network, error) {
	return nn.Build(sequence.SequenceLength, sequence.FrameFeatures, GestureNetSpecs(classes), seed)
}

// Batch wraps normalized sequences as a network input batch. The rows alias
// the sequences; the network never writes to its input.
func Batch(seqs ...*sequence.Normalized) nn.Seq {
	x := make(nn.Seq, len(seqs))
	for b, s := range seqs {
		x[b] = make([][]float64, sequence.SequenceLength)
		for t := range s {
			x[b][t] = s[t][:]
		}
	}
	return x
}
