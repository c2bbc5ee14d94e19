package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/sequence"
)

// ErrEmptyDataset is returned when no class directory holds any sequence.
var ErrEmptyDataset = errors.New("dataset: no training examples")

// Example pairs a normalized sequence with its class index.
type Example struct {
	Sequence sequence.Normalized
	Label    int
	Source   string
}

// Dataset is the assembled training data.
type Dataset struct {
	Vocabulary gesture.Vocabulary
	Examples   []Example
	// Counts holds the number of examples per class index.
	Counts   []int
	Warnings []string
}

// LoadDataset reads root/<class>/ for every class in vocabulary order. Files
// within a class are read in lexical order. A missing class directory is a
// warning; a malformed sequence file is an error.
func LoadDataset(root string, vocab gesture.Vocabulary) (*Dataset, error) {
	ds := &Dataset{
		Vocabulary: vocab,
		Counts:     make([]int, vocab.Len()),
	}

	for label, class := range vocab.Names() {
		dir := filepath.Join(root, class)
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			msg := fmt.Sprintf("class directory %s not found", dir)
			log.Warn().Str("class", class).Str("dir", dir).Msg("class directory not found")
			ds.Warnings = append(ds.Warnings, msg)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read class %s: %w", class, err)
		}

		for _, e := range entries {
			if e.IsDir() || !IsSequenceFile(e.Name()) {
				continue
			}
			path := filepath.Join(dir, e.Name())

			raw, err := ReadSequence(path)
			if err != nil {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
			n, err := sequence.Normalize(raw)
			if err != nil {
				return nil, fmt.Errorf("normalize %s: %w", path, err)
			}

			ds.Examples = append(ds.Examples, Example{Sequence: n, Label: label, Source: path})
			ds.Counts[label]++
		}
	}

	if len(ds.Examples) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrEmptyDataset, root)
	}
	return ds, nil
}

// Distribution maps class names to example counts.
func (d *Dataset) Distribution() map[string]int {
	out := make(map[string]int, len(d.Counts))
	for i, n := range d.Counts {
		out[d.Vocabulary.Name(i)] = n
	}
	return out
}

// Sequences returns the normalized sequences in example order.
func (d *Dataset) Sequences() []sequence.Normalized {
	out := make([]sequence.Normalized, len(d.Examples))
	for i := range d.Examples {
		out[i] = d.Examples[i].Sequence
	}
	return out
}

// ApplyScaler standardizes every example in place.
func (d *Dataset) ApplyScaler(s *sequence.Scaler) {
	for i := range d.Examples {
		s.Transform(&d.Examples[i].Sequence)
	}
}
