// Package training fits the gesture classifier: validation split, the epoch
// loop with checkpointing, learning-rate decay on plateau, early stopping,
// and reload of the best checkpoint.
package training

import (
	"fmt"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/nn"
)

// Model is what the trainer drives. TrainBatch performs one optimizer step.
type Model interface {
	TrainBatch(x nn.Seq, y [][]float64, learningRate float64) (loss, accuracy float64, err error)
	Evaluate(x nn.Seq, y [][]float64) (loss, accuracy float64, err error)
	Snapshot() nn.Weights
	Restore(nn.Weights) error
}

// Checkpointer persists the best model seen so far and reloads it.
type Checkpointer interface {
	Save(m Model, epoch int, valAccuracy float64) error
	Load() (Model, error)
}

// NetworkModel trains an nn.Network with Adam and cross-entropy.
type NetworkModel struct {
	Net *nn.Network
	opt *nn.Adam
}

// NewNetworkModel wraps net with a fresh optimizer.
func NewNetworkModel(net *nn.Network, learningRate float64) *NetworkModel {
	return &NetworkModel{Net: net, opt: nn.NewAdam(learningRate)}
}

func (m *NetworkModel) TrainBatch(x nn.Seq, y [][]float64, learningRate float64) (float64, float64, error) {
	m.Net.ZeroGrad()
	probs, caches, err := m.Net.Forward(x, true)
	if err != nil {
		return 0, 0, err
	}
	loss, grad := nn.CrossEntropy(probs, y)
	m.Net.Backward(caches, grad)

	m.opt.LearningRate = learningRate
	m.opt.Step(m.Net.Params())
	return loss, nn.Accuracy(probs, y), nil
}

// evalBatch bounds memory use during evaluation.
const evalBatch = 64

func (m *NetworkModel) Evaluate(x nn.Seq, y [][]float64) (float64, float64, error) {
	if len(x) == 0 {
		return 0, 0, fmt.Errorf("evaluate: empty set")
	}
	var lossSum, hits float64
	for lo := 0; lo < len(x); lo += evalBatch {
		hi := min(lo+evalBatch, len(x))
		probs, err := m.Net.Predict(x[lo:hi])
		if err != nil {
			return 0, 0, err
		}
		loss, _ := nn.CrossEntropy(probs, y[lo:hi])
		lossSum += loss * float64(hi-lo)
		hits += nn.Accuracy(probs, y[lo:hi]) * float64(hi-lo)
	}
	n := float64(len(x))
	return lossSum / n, hits / n, nil
}

func (m *NetworkModel) Snapshot() nn.Weights      { return m.Net.Snapshot() }
func (m *NetworkModel) Restore(w nn.Weights) error { return m.Net.Restore(w) }

// ArtifactCheckpoint stores checkpoints as classifier artifacts at Path.
type ArtifactCheckpoint struct {
	Path       string
	Vocabulary gesture.Vocabulary
	// LearningRate is given to the optimizer of the reloaded model.
	LearningRate float64
	// Scaled is recorded in the artifact when the examples were standardized.
	Scaled bool
}

func (c *ArtifactCheckpoint) Save(m Model, epoch int, valAccuracy float64) error {
	nm, ok := m.(*NetworkModel)
	if !ok {
		return fmt.Errorf("checkpoint: unsupported model %T", m)
	}
	a, err := classifier.NewArtifact(nm.Net, c.Vocabulary)
	if err != nil {
		return err
	}
	a.Epoch = epoch
	a.ValAccuracy = valAccuracy
	a.Scaled = c.Scaled
	return a.Save(c.Path)
}

func (c *ArtifactCheckpoint) Load() (Model, error) {
	a, err := classifier.LoadArtifact(c.Path)
	if err != nil {
		return nil, err
	}
	if err := a.CheckVocabulary(c.Vocabulary); err != nil {
		return nil, err
	}
	net, err := a.Network()
	if err != nil {
		return nil, err
	}
	return NewNetworkModel(net, c.LearningRate), nil
}
