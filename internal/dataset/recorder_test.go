package dataset

import (
	"context"
	"errors"
	"testing"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/sequence"
)

func blankFrames(t *testing.T, n int) []*gocv.Mat {
	t.Helper()
	frames := make([]*gocv.Mat, n)
	for i := range frames {
		m := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
		frames[i] = &m
		t.Cleanup(func() { m.Close() })
	}
	return frames
}

// handScript returns detector results with a hand in the first withHand
// frames and none in the rest.
func handScript(withHand, total int) [][]detector.HandLandmarks {
	script := make([][]detector.HandLandmarks, total)
	for i := 0; i < withHand; i++ {
		script[i] = []detector.HandLandmarks{detector.FingerCountLandmarks(i % 6)}
	}
	return script
}

func TestRecorder(t *testing.T) {
	t.Run("pads a short performance", func(t *testing.T) {
		det := detector.NewMockDetector()
		det.SetScript(handScript(21, 21))
		rec := NewRecorder(det)

		got, err := rec.Record(context.Background(), capture.NewMockSource(blankFrames(t, 21), false))
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if len(got.Sequence) != sequence.SequenceLength {
			t.Fatalf("got %d frames", len(got.Sequence))
		}
		if got.FramesWithHand != 21 || got.FramesRead != 21 {
			t.Errorf("unexpected counts %+v", got)
		}
		last := sequence.FrameOf(detector.FingerCountLandmarks(20 % 6))
		if got.Sequence[29] != last {
			t.Error("expected padding with the last hand frame")
		}
	})

	t.Run("stops once enough hands collected", func(t *testing.T) {
		det := detector.NewMockDetector()
		det.SetHands([]detector.HandLandmarks{detector.OpenPalmLandmarks()})
		rec := NewRecorder(det)

		got, err := rec.Record(context.Background(), capture.NewMockSource(blankFrames(t, 50), false))
		if err != nil {
			t.Fatal(err)
		}
		if got.FramesRead != sequence.SequenceLength {
			t.Errorf("read %d frames, want %d", got.FramesRead, sequence.SequenceLength)
		}
	})

	t.Run("rejects below seventy percent", func(t *testing.T) {
		det := detector.NewMockDetector()
		det.SetScript(handScript(20, 40))
		rec := NewRecorder(det)

		got, err := rec.Record(context.Background(), capture.NewMockSource(blankFrames(t, 40), false))
		if !errors.Is(err, ErrTooFewHands) {
			t.Fatalf("expected ErrTooFewHands, got %v", err)
		}
		if got.FramesWithHand != 20 {
			t.Errorf("frames with hand = %d", got.FramesWithHand)
		}
	})

	t.Run("gives up after max frames", func(t *testing.T) {
		det := detector.NewMockDetector()
		rec := NewRecorder(det)

		got, err := rec.Record(context.Background(), capture.NewMockSource(blankFrames(t, 3), true))
		if !errors.Is(err, ErrTooFewHands) {
			t.Fatalf("expected ErrTooFewHands, got %v", err)
		}
		if got.FramesRead != DefaultMaxFrames {
			t.Errorf("read %d frames, want %d", got.FramesRead, DefaultMaxFrames)
		}
	})

	t.Run("bad frames are skipped", func(t *testing.T) {
		det := detector.NewMockDetector()
		det.SetHands([]detector.HandLandmarks{detector.FistLandmarks()})
		rec := NewRecorder(det)

		frames := blankFrames(t, 30)
		frames[3] = nil
		got, err := rec.Record(context.Background(), capture.NewMockSource(frames, false))
		if err != nil {
			t.Fatal(err)
		}
		if got.BadFrames != 1 || got.FramesWithHand != 29 {
			t.Errorf("unexpected counts %+v", got)
		}
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		rec := NewRecorder(detector.NewMockDetector())
		if _, err := rec.Record(ctx, capture.NewMockSource(blankFrames(t, 1), true)); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
