// Package dataset reads and writes recorded landmark sequences and assembles
// them into labelled training examples.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/sequence"
)

// Sequence file extensions.
const (
	ExtNPY  = ".npy"
	ExtJSON = ".json"
)

// ErrUnsupportedFormat is returned for files that are not sequence files.
var ErrUnsupportedFormat = errors.New("dataset: unsupported sequence file")

// IsSequenceFile reports whether name has a sequence file extension.
func IsSequenceFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtNPY, ExtJSON:
		return true
	}
	return false
}

// ReadSequence loads a raw landmark sequence from a .npy or .json file.
func ReadSequence(path string) (sequence.Sequence, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtNPY:
		return readNPY(path)
	case ExtJSON:
		return readJSON(path)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// WriteSequence stores seq at path, choosing the format from the extension.
// The file is replaced atomically.
func WriteSequence(path string, seq sequence.Sequence) error {
	if len(seq) == 0 {
		return fmt.Errorf("write %s: %w", path, sequence.ErrEmptyInput)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ExtNPY:
		return writeNPY(path, seq)
	case ExtJSON:
		return writeJSON(path, seq)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// readNPY accepts float arrays shaped (frames, 21, 3) or (frames, 63).
func readNPY(path string) (sequence.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	shape := r.Header.Descr.Shape
	switch {
	case len(shape) == 3 && shape[1] == detector.NumLandmarks && shape[2] == sequence.CoordsPerLandmark:
	case len(shape) == 2 && shape[1] == sequence.FrameFeatures:
	default:
		return nil, fmt.Errorf("%s: unexpected array shape %v", path, shape)
	}
	if r.Header.Descr.Fortran {
		return nil, fmt.Errorf("%s: fortran-ordered arrays are not supported", path)
	}

	var flat []float64
	switch strings.TrimLeft(r.Header.Descr.Type, "<>|=") {
	case "f8":
		if err := r.Read(&flat); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case "f4":
		var f32 []float32
		if err := r.Read(&f32); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		flat = make([]float64, len(f32))
		for i, v := range f32 {
			flat[i] = float64(v)
		}
	default:
		return nil, fmt.Errorf("%s: unsupported dtype %q", path, r.Header.Descr.Type)
	}

	frames := shape[0]
	if len(flat) != frames*sequence.FrameFeatures {
		return nil, fmt.Errorf("%s: %d values for %d frames", path, len(flat), frames)
	}
	rows := make([][]float64, frames)
	for t := range rows {
		rows[t] = flat[t*sequence.FrameFeatures : (t+1)*sequence.FrameFeatures]
	}
	return sequence.FromRows(rows)
}

// writeNPY stores the sequence as a float64 (frames, 63) array.
func writeNPY(path string, seq sequence.Sequence) error {
	flat := make([]float64, 0, len(seq)*sequence.FrameFeatures)
	for _, row := range seq.Rows() {
		flat = append(flat, row...)
	}
	m := mat.NewDense(len(seq), sequence.FrameFeatures, flat)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer pending.Cleanup()

	if err := npyio.Write(pending, m); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return pending.CloseAtomicallyReplace()
}

type jsonSequence struct {
	Frames [][][]float64 `json:"frames"`
}

func readJSON(path string) (sequence.Sequence, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc jsonSequence
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	seq := make(sequence.Sequence, len(doc.Frames))
	for t, frame := range doc.Frames {
		if len(frame) != detector.NumLandmarks {
			return nil, fmt.Errorf("%s: frame %d has %d landmarks", path, t, len(frame))
		}
		for i, p := range frame {
			if len(p) != sequence.CoordsPerLandmark {
				return nil, fmt.Errorf("%s: frame %d landmark %d has %d coordinates", path, t, i, len(p))
			}
			seq[t][i] = detector.Point3D{X: p[0], Y: p[1], Z: p[2]}
		}
	}
	return seq, nil
}

func writeJSON(path string, seq sequence.Sequence) error {
	doc := jsonSequence{Frames: make([][][]float64, len(seq))}
	for t, f := range seq {
		doc.Frames[t] = make([][]float64, len(f))
		for i, p := range f {
			doc.Frames[t][i] = []float64{p.X, p.Y, p.Z}
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return renameio.WriteFile(path, data, 0o644)
}
