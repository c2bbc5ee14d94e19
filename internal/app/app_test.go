package app

import (
	"context"
	"errors"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/fixtures"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/sequence"
)

var vocab = gesture.MustVocabulary(gesture.DefaultClasses)

func newTestService(t *testing.T, d detector.Detector, p *fixtures.StubPredictor) *Service {
	t.Helper()
	return New(Config{
		Detector:   d,
		Predictor:  p,
		Vocabulary: vocab,
		Workers:    4,
		Metrics:    metrics.New(),
	})
}

func handDetector() *detector.MockDetector {
	d := detector.NewMockDetector()
	d.SetHands([]detector.HandLandmarks{detector.FingerCountLandmarks(3)})
	return d
}

// widthDetector reports a hand whose finger count is encoded in the frame
// width, so tests can tell frames apart after concurrent detection.
type widthDetector struct{}

func (widthDetector) Detect(frame *gocv.Mat) ([]detector.HandLandmarks, error) {
	return []detector.HandLandmarks{detector.FingerCountLandmarks(frame.Cols()/16 - 1)}, nil
}

func (widthDetector) Close() error { return nil }

func TestService_Ready(t *testing.T) {
	tests := []struct {
		name      string
		detector  detector.Detector
		predictor *fixtures.StubPredictor
		want      bool
	}{
		{"complete", detector.NewMockDetector(), fixtures.NewStubPredictor(), true},
		{"no predictor", detector.NewMockDetector(), nil, false},
		{"no detector", nil, fixtures.NewStubPredictor(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Detector: tt.detector, Vocabulary: vocab}
			if tt.predictor != nil {
				cfg.Predictor = tt.predictor
			}
			s := New(cfg)
			if got := s.Ready(); got != tt.want {
				t.Errorf("Ready() = %v, want %v", got, tt.want)
			}
			if !tt.want {
				_, err := s.Recognize(context.Background(), fixtures.Frames(1), "one")
				if !errors.Is(err, ErrModelNotReady) {
					t.Errorf("Recognize error = %v, want ErrModelNotReady", err)
				}
			}
		})
	}
}

func TestService_Recognize(t *testing.T) {
	ctx := context.Background()

	t.Run("confident match", func(t *testing.T) {
		p := fixtures.NewStubPredictor(0.05, 0.05, 0.8, 0.05, 0.05)
		s := newTestService(t, handDetector(), p)

		res, err := s.Recognize(ctx, fixtures.Frames(10), "three")
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if res.Label.String() != "three" || !res.IsMatch || res.Confidence != 0.8 {
			t.Errorf("unexpected result %+v", res.Result)
		}
		if res.FramesTotal != 10 || res.FramesWithHand != 10 {
			t.Errorf("frames = %d/%d, want 10/10", res.FramesWithHand, res.FramesTotal)
		}
		if res.Message != "Hand detected in 10/10 frames" {
			t.Errorf("Message = %q", res.Message)
		}
		if len(res.Alternatives) != 3 || res.Alternatives[0].Class != "three" {
			t.Errorf("Alternatives = %+v", res.Alternatives)
		}
		if p.Calls() != 1 {
			t.Errorf("predictor called %d times, want 1", p.Calls())
		}
	})

	t.Run("no hand in any frame", func(t *testing.T) {
		p := fixtures.NewStubPredictor(1, 0, 0, 0, 0)
		s := newTestService(t, detector.NewMockDetector(), p)

		res, err := s.Recognize(ctx, fixtures.Frames(5), "one")
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if res.Label.Kind() != gesture.KindUnknown || res.Confidence != 0 || res.IsMatch {
			t.Errorf("unexpected result %+v", res.Result)
		}
		if res.Message != "No hand landmarks detected in any frame" {
			t.Errorf("Message = %q", res.Message)
		}
		if p.Calls() != 0 {
			t.Error("classifier must not run without landmarks")
		}
	})

	t.Run("low confidence", func(t *testing.T) {
		p := fixtures.NewStubPredictor(0.4, 0.3, 0.1, 0.1, 0.1)
		s := newTestService(t, handDetector(), p)

		res, err := s.Recognize(ctx, fixtures.Frames(30), "one")
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if res.Label.Kind() != gesture.KindUncertain || res.IsMatch {
			t.Errorf("unexpected result %+v", res.Result)
		}
		if res.Confidence != 0.4 {
			t.Errorf("Confidence = %v, want 0.4", res.Confidence)
		}
	})

	t.Run("undecodable frames are dropped", func(t *testing.T) {
		p := fixtures.NewStubPredictor(0.9, 0.025, 0.025, 0.025, 0.025)
		s := newTestService(t, handDetector(), p)

		frames := fixtures.Frames(4)
		frames[1] = []byte("not an image")
		frames[3] = nil

		res, err := s.Recognize(ctx, frames, "one")
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if res.Dropped != 2 || res.FramesWithHand != 2 || res.FramesTotal != 4 {
			t.Errorf("frames = %d/%d dropped %d", res.FramesWithHand, res.FramesTotal, res.Dropped)
		}
		if res.Message != "Hand detected in 2/4 frames" {
			t.Errorf("Message = %q", res.Message)
		}
	})

	t.Run("detector failures yield unknown", func(t *testing.T) {
		d := detector.NewMockDetector()
		d.SetError(errors.New("subprocess died"))
		s := newTestService(t, d, fixtures.NewStubPredictor(1, 0, 0, 0, 0))

		res, err := s.Recognize(ctx, fixtures.Frames(4), "one")
		if err != nil {
			t.Fatalf("Recognize() error = %v", err)
		}
		if res.Label.Kind() != gesture.KindUnknown || res.Dropped != 4 {
			t.Errorf("unexpected result %+v dropped %d", res.Result, res.Dropped)
		}
	})

	t.Run("no frames", func(t *testing.T) {
		s := newTestService(t, handDetector(), fixtures.NewStubPredictor(1, 0, 0, 0, 0))
		if _, err := s.Recognize(ctx, nil, "one"); !errors.Is(err, ErrNoFrames) {
			t.Errorf("error = %v, want ErrNoFrames", err)
		}
	})

	t.Run("predictor error", func(t *testing.T) {
		p := fixtures.NewStubPredictor()
		p.SetError(errors.New("boom"))
		s := newTestService(t, handDetector(), p)
		if _, err := s.Recognize(ctx, fixtures.Frames(2), "one"); err == nil {
			t.Error("expected predictor error")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		s := newTestService(t, handDetector(), fixtures.NewStubPredictor(1, 0, 0, 0, 0))
		if _, err := s.Recognize(cctx, fixtures.Frames(8), "one"); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})
}

func TestService_Recognize_PreservesFrameOrder(t *testing.T) {
	p := fixtures.NewStubPredictor(1, 0, 0, 0, 0)
	s := newTestService(t, widthDetector{}, p)

	counts := []int{5, 0, 3, 1, 4, 2, 2, 5, 0, 1, 3, 4}
	frames := make([][]byte, len(counts))
	want := make(sequence.Sequence, len(counts))
	for i, c := range counts {
		frames[i] = fixtures.JPEGFrame(16*(c+1), 16)
		want[i] = sequence.FrameOf(detector.FingerCountLandmarks(c))
	}

	if _, err := s.Recognize(context.Background(), frames, "one"); err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	expected, err := sequence.Normalize(want)
	if err != nil {
		t.Fatal(err)
	}
	if p.Last() != expected {
		t.Error("classifier input does not follow submission order")
	}
}

func TestService_AppliesScaler(t *testing.T) {
	p := fixtures.NewStubPredictor(1, 0, 0, 0, 0)
	scaler := &sequence.Scaler{}
	for i := range scaler.Mean {
		scaler.Mean[i] = 1
		scaler.Scale[i] = 2
	}
	s := New(Config{Detector: handDetector(), Predictor: p, Vocabulary: vocab, Scaler: scaler})

	if _, err := s.Recognize(context.Background(), fixtures.Frames(3), "one"); err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}

	raw, err := sequence.Normalize(fixtures.Performance(3, 3))
	if err != nil {
		t.Fatal(err)
	}
	got := p.Last()
	for f := range raw {
		for j := range raw[f] {
			if want := (raw[f][j] - 1) / 2; got[f][j] != want {
				t.Fatalf("feature [%d][%d] = %v, want %v", f, j, got[f][j], want)
			}
		}
	}
}

func TestPerformance(t *testing.T) {
	p := fixtures.NewStubPredictor(0.1, 0.1, 0.1, 0.6, 0.1)
	s := newTestService(t, handDetector(), p)
	perf := s.NewPerformance()

	if _, err := perf.Finish("four"); !errors.Is(err, ErrNoFrames) {
		t.Errorf("empty Finish error = %v, want ErrNoFrames", err)
	}

	for _, f := range fixtures.Frames(6) {
		if err := perf.Add(f); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if err := perf.Add([]byte("garbage")); err == nil {
		t.Error("expected decode error")
	}
	if total, withHand := perf.Frames(); total != 7 || withHand != 6 {
		t.Errorf("Frames() = %d, %d; want 7, 6", total, withHand)
	}

	res, err := perf.Finish("FOUR")
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if !res.IsMatch || res.FramesTotal != 7 || res.Dropped != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	// Finish resets the performance.
	if total, _ := perf.Frames(); total != 0 {
		t.Errorf("frames after Finish = %d, want 0", total)
	}
}

type closingPredictor struct {
	*fixtures.StubPredictor
	closed bool
}

func (c *closingPredictor) Close() error {
	c.closed = true
	return nil
}

func TestService_Close(t *testing.T) {
	p := &closingPredictor{StubPredictor: fixtures.NewStubPredictor(1, 0, 0, 0, 0)}
	s := New(Config{Detector: detector.NewMockDetector(), Predictor: p, Vocabulary: vocab})

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !p.closed {
		t.Error("predictor with native resources should be closed")
	}
}
