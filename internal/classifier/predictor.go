package classifier

import (
	"errors"
	"fmt"

	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/nn"
	"github.com/ayusman/mudra/internal/sequence"
)

// ErrVocabularyMismatch is returned when a model was trained for a different
// set of classes than the one configured.
var ErrVocabularyMismatch = errors.New("classifier: vocabulary mismatch")

// Predictor maps a normalized sequence to class probabilities aligned with
// the vocabulary the model was trained on. Implementations are safe for
// concurrent use.
type Predictor interface {
	Predict(n sequence.Normalized) ([]float64, error)
}

// NetworkPredictor serves a native gesture network.
type NetworkPredictor struct {
	net *nn.Network
}

// NewNetworkPredictor wraps net, which must accept normalized sequences.
func NewNetworkPredictor(net *nn.Network) (*NetworkPredictor, error) {
	steps, width := net.InputShape()
	if steps != sequence.SequenceLength || width != sequence.FrameFeatures {
		return nil, fmt.Errorf("%w: network input %dx%d", nn.ErrShape, steps, width)
	}
	return &NetworkPredictor{net: net}, nil
}

// Predict runs the network in inference mode.
func (p *NetworkPredictor) Predict(n sequence.Normalized) ([]float64, error) {
	probs, err := p.net.Predict(Batch(&n))
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	return probs[0], nil
}

// Classes returns the number of outputs.
func (p *NetworkPredictor) Classes() int { return p.net.Outputs() }

// LoadPredictor reads the artifact at path and checks it was trained for
// vocab.
func LoadPredictor(path string, vocab gesture.Vocabulary) (*NetworkPredictor, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, err
	}
	if err := a.CheckVocabulary(vocab); err != nil {
		return nil, err
	}
	net, err := a.Network()
	if err != nil {
		return nil, err
	}
	return NewNetworkPredictor(net)
}

// ErrScalerMismatch is returned when a model trained on standardized features
// is loaded without its scaler.
var ErrScalerMismatch = errors.New("classifier: scaler mismatch")

// LoadModel loads the artifact at path together with the scaler at
// scalerPath. A missing scaler file is the identity, which is only accepted
// for artifacts trained without one. A scaler next to an unscaled artifact is
// ignored.
func LoadModel(path, scalerPath string, vocab gesture.Vocabulary) (*NetworkPredictor, *sequence.Scaler, error) {
	a, err := LoadArtifact(path)
	if err != nil {
		return nil, nil, err
	}
	if err := a.CheckVocabulary(vocab); err != nil {
		return nil, nil, err
	}

	var sc *sequence.Scaler
	if a.Scaled {
		if sc, err = sequence.LoadOptionalScaler(scalerPath); err != nil {
			return nil, nil, err
		}
		if sc == nil {
			return nil, nil, fmt.Errorf("%w: %s was trained on scaled features but %s does not exist", ErrScalerMismatch, path, scalerPath)
		}
	}

	net, err := a.Network()
	if err != nil {
		return nil, nil, err
	}
	p, err := NewNetworkPredictor(net)
	if err != nil {
		return nil, nil, err
	}
	return p, sc, nil
}
