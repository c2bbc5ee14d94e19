package sequence

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/google/renameio/v2"
)

// ErrNoExamples is returned when a scaler is fitted on nothing.
var ErrNoExamples = errors.New("sequence: no examples to fit scaler")

// Scaler standardizes each of the FrameFeatures columns with statistics
// fitted on training data. A nil *Scaler is the identity.
type Scaler struct {
	Mean  [FrameFeatures]float64 `json:"mean"`
	Scale [FrameFeatures]float64 `json:"scale"`
}

// FitScaler computes per-feature mean and standard deviation over every
// frame of every example. Features with zero variance keep a scale of 1.
func FitScaler(examples []Normalized) (*Scaler, error) {
	if len(examples) == 0 {
		return nil, ErrNoExamples
	}

	s := &Scaler{}
	count := float64(len(examples) * SequenceLength)

	for i := range examples {
		for t := range examples[i] {
			for j, v := range examples[i][t] {
				s.Mean[j] += v
			}
		}
	}
	for j := range s.Mean {
		s.Mean[j] /= count
	}

	var variance [FrameFeatures]float64
	for i := range examples {
		for t := range examples[i] {
			for j, v := range examples[i][t] {
				d := v - s.Mean[j]
				variance[j] += d * d
			}
		}
	}
	for j := range variance {
		sd := math.Sqrt(variance[j] / count)
		if sd == 0 {
			sd = 1
		}
		s.Scale[j] = sd
	}
	return s, nil
}

// Transform standardizes n in place. It is a no-op on a nil scaler.
func (s *Scaler) Transform(n *Normalized) {
	if s == nil {
		return
	}
	for t := range n {
		for j := range n[t] {
			n[t][j] = (n[t][j] - s.Mean[j]) / s.Scale[j]
		}
	}
}

// Save writes the scaler as JSON, replacing any existing file atomically.
func (s *Scaler) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal scaler: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write scaler: %w", err)
	}
	return nil
}

// LoadScaler reads a scaler saved by Save. A missing file yields an error
// satisfying errors.Is(err, os.ErrNotExist).
func LoadScaler(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}

	var s Scaler
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scaler %s: %w", path, err)
	}
	for j, v := range s.Scale {
		if v == 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("scaler %s: invalid scale for feature %d", path, j)
		}
	}
	return &s, nil
}

// LoadOptionalScaler is LoadScaler for an optional file: a missing file or an
// empty path yields the identity (nil) scaler.
func LoadOptionalScaler(path string) (*Scaler, error) {
	if path == "" {
		return nil, nil
	}
	s, err := LoadScaler(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return s, err
}
