package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/klauspost/compress/gzip"

	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/nn"
)

const (
	artifactFormat  = "mudra.gesture-net"
	artifactVersion = 1
)

// ErrBadArtifact is returned for files that are not classifier artifacts.
var ErrBadArtifact = errors.New("classifier: invalid artifact")

// Artifact is the persisted form of a trained classifier: architecture,
// weights and the vocabulary it was trained on.
type Artifact struct {
	Format      string     `json:"format"`
	Version     int        `json:"version"`
	Classes     []string   `json:"classes"`
	Steps       int        `json:"steps"`
	Features    int        `json:"features"`
	Layers      []nn.Spec  `json:"layers"`
	Weights     nn.Weights `json:"weights"`
	Epoch       int        `json:"epoch,omitempty"`
	ValAccuracy float64    `json:"val_accuracy,omitempty"`
	// Scaled marks a network trained on standardized features. Serving it
	// requires the scaler fitted during training.
	Scaled    bool      `json:"scaled,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewArtifact captures the current weights of net.
func NewArtifact(net *nn.Network, vocab gesture.Vocabulary) (*Artifact, error) {
	if net.Outputs() != vocab.Len() {
		return nil, fmt.Errorf("%w: network has %d outputs for %d classes", ErrVocabularyMismatch, net.Outputs(), vocab.Len())
	}
	steps, width := net.InputShape()
	return &Artifact{
		Format:    artifactFormat,
		Version:   artifactVersion,
		Classes:   vocab.Names(),
		Steps:     steps,
		Features:  width,
		Layers:    net.Specs(),
		Weights:   net.Snapshot(),
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Save writes the artifact as gzip-compressed JSON. The file at path is
// replaced atomically, so a concurrent reader sees either the old or the new
// artifact, never a partial one.
func (a *Artifact) Save(path string) error {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create artifact: %w", err)
	}
	defer pending.Cleanup()

	zw := gzip.NewWriter(pending)
	if err := json.NewEncoder(zw).Encode(a); err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("compress artifact: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace artifact: %w", err)
	}
	return nil
}

// LoadArtifact reads an artifact written by Save.
func LoadArtifact(path string) (*Artifact, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadArtifact, path, err)
	}
	defer zr.Close()

	var a Artifact
	if err := json.NewDecoder(zr).Decode(&a); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadArtifact, path, err)
	}
	if a.Format != artifactFormat {
		return nil, fmt.Errorf("%w: %s: format %q", ErrBadArtifact, path, a.Format)
	}
	if a.Version != artifactVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrBadArtifact, path, a.Version)
	}
	return &a, nil
}

// Vocabulary returns the classes the artifact was trained on.
func (a *Artifact) Vocabulary() (gesture.Vocabulary, error) {
	return gesture.NewVocabulary(a.Classes)
}

// CheckVocabulary fails with ErrVocabularyMismatch unless the artifact was
// trained on exactly vocab, in order.
func (a *Artifact) CheckVocabulary(vocab gesture.Vocabulary) error {
	trained, err := a.Vocabulary()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if !trained.Equal(vocab) {
		return fmt.Errorf("%w: artifact has [%s], configured [%s]", ErrVocabularyMismatch,
			strings.Join(trained.Names(), ","), strings.Join(vocab.Names(), ","))
	}
	return nil
}

// Network rebuilds the network and loads the stored weights.
func (a *Artifact) Network() (*nn.Network, error) {
	net, err := nn.Build(a.Steps, a.Features, a.Layers, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if err := net.Restore(a.Weights); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if net.Outputs() != len(a.Classes) {
		return nil, fmt.Errorf("%w: %d outputs for %d classes", ErrBadArtifact, net.Outputs(), len(a.Classes))
	}
	return net, nil
}
