// Package fixtures provides encoded frames, landmark performances and a stub
// classifier for tests across packages.
package fixtures

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/sequence"
)

// JPEGFrame returns a w×h gray JPEG image.
func JPEGFrame(w, h int) []byte {
	img := imaging.New(w, h, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	return encode(img)
}

func encode(img image.Image) []byte {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Frames returns n small encoded frames.
func Frames(n int) [][]byte {
	frame := JPEGFrame(64, 48)
	out := make([][]byte, n)
	for i := range out {
		out[i] = frame
	}
	return out
}

// Base64Frames returns n encoded frames as base64 strings. With dataURL set
// every frame carries a data URL prefix, as browsers send them.
func Base64Frames(n int, dataURL bool) []string {
	out := make([]string, n)
	for i, f := range Frames(n) {
		s := base64.StdEncoding.EncodeToString(f)
		if dataURL {
			s = "data:image/jpeg;base64," + s
		}
		out[i] = s
	}
	return out
}

// Performance returns frames of a hand holding up fingers fingers.
func Performance(fingers, frames int) sequence.Sequence {
	seq := make(sequence.Sequence, frames)
	for i := range seq {
		seq[i] = sequence.FrameOf(detector.FingerCountLandmarks(fingers))
	}
	return seq
}

// StubPredictor returns fixed probabilities. It is safe for concurrent use.
type StubPredictor struct {
	mu    sync.Mutex
	probs []float64
	err   error
	calls int
	last  sequence.Normalized
}

// NewStubPredictor returns a predictor that always answers probs.
func NewStubPredictor(probs ...float64) *StubPredictor {
	return &StubPredictor{probs: probs}
}

// SetError makes every following prediction fail with err.
func (p *StubPredictor) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Predict records its input and returns the configured probabilities.
func (p *StubPredictor) Predict(n sequence.Normalized) ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.last = n
	if p.err != nil {
		return nil, p.err
	}
	return append([]float64(nil), p.probs...), nil
}

// Calls returns the number of Predict calls.
func (p *StubPredictor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Last returns the most recent input.
func (p *StubPredictor) Last() sequence.Normalized {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}
