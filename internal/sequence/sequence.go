// Package sequence turns variable-length hand landmark recordings into the
// fixed-shape feature tensors consumed by the classifier.
package sequence

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/mudra/internal/detector"
)

const (
	// SequenceLength is the number of frames in a normalized sequence.
	SequenceLength = 30
	// CoordsPerLandmark is x, y and z.
	CoordsPerLandmark = 3
	// FrameFeatures is the flattened width of one frame.
	FrameFeatures = detector.NumLandmarks * CoordsPerLandmark
)

// ErrEmptyInput is returned when a sequence has no frames to normalize.
var ErrEmptyInput = errors.New("sequence: no frames")

// Frame holds the landmarks of one detected hand in capture coordinates.
type Frame [detector.NumLandmarks]detector.Point3D

// FrameOf extracts the landmark positions of a detected hand.
func FrameOf(h detector.HandLandmarks) Frame {
	return Frame(h.Points)
}

// Sequence is an ordered list of frames of arbitrary length.
type Sequence []Frame

// Normalized is a fixed-shape sequence ready for classification. Each row is
// a frame flattened as x0,y0,z0,x1,y1,z1,...
type Normalized [SequenceLength][FrameFeatures]float64

// Align pads or truncates seq to exactly SequenceLength frames. Short input
// is padded by repeating its last frame; long input keeps the first
// SequenceLength frames. The input is not modified.
func Align(seq Sequence) (Sequence, error) {
	if len(seq) == 0 {
		return nil, ErrEmptyInput
	}

	out := make(Sequence, SequenceLength)
	n := copy(out, seq)
	last := seq[len(seq)-1]
	for i := n; i < SequenceLength; i++ {
		out[i] = last
	}
	return out, nil
}

// NormalizeFrame expresses every landmark relative to the wrist and divides
// by the largest absolute translated coordinate, so all features lie in
// [-1, 1].
func NormalizeFrame(f Frame) [FrameFeatures]float64 {
	var row [FrameFeatures]float64

	wrist := f[detector.Wrist]
	peak := 0.0
	for i, p := range f {
		x, y, z := p.X-wrist.X, p.Y-wrist.Y, p.Z-wrist.Z
		row[i*3], row[i*3+1], row[i*3+2] = x, y, z
		peak = math.Max(peak, math.Max(math.Abs(x), math.Max(math.Abs(y), math.Abs(z))))
	}

	// A frame collapsed onto the wrist stays all zero.
	if peak == 0 {
		return row
	}
	for i := range row {
		row[i] /= peak
	}
	return row
}

// Normalize aligns seq to SequenceLength frames and normalizes each frame.
// The same input always yields the same output.
func Normalize(seq Sequence) (Normalized, error) {
	var n Normalized

	aligned, err := Align(seq)
	if err != nil {
		return n, err
	}
	for t, f := range aligned {
		n[t] = NormalizeFrame(f)
	}
	return n, nil
}

// FromRows rebuilds a sequence from flattened frame rows, the inverse of the
// layout used by Normalized.
func FromRows(rows [][]float64) (Sequence, error) {
	seq := make(Sequence, len(rows))
	for t, row := range rows {
		if len(row) != FrameFeatures {
			return nil, &ShapeError{Frame: t, Got: len(row)}
		}
		for i := range seq[t] {
			seq[t][i] = detector.Point3D{X: row[i*3], Y: row[i*3+1], Z: row[i*3+2]}
		}
	}
	return seq, nil
}

// Rows flattens a sequence to one row of FrameFeatures values per frame.
func (s Sequence) Rows() [][]float64 {
	rows := make([][]float64, len(s))
	for t, f := range s {
		row := make([]float64, 0, FrameFeatures)
		for _, p := range f {
			row = append(row, p.X, p.Y, p.Z)
		}
		rows[t] = row
	}
	return rows
}

// ShapeError reports a frame whose width is not FrameFeatures.
type ShapeError struct {
	Frame int
	Got   int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("sequence: frame %d has %d values, want %d", e.Frame, e.Got, FrameFeatures)
}
