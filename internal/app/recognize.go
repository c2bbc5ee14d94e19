package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/sequence"
)

// Messages attached to results.
const (
	noHandMessage   = "No hand landmarks detected in any frame"
	handsMessageFmt = "Hand detected in %d/%d frames"
)

// Result is the verdict for one performance together with how much of it the
// detector could see.
type Result struct {
	gesture.Result
	FramesTotal    int
	FramesWithHand int
	// Dropped counts frames that could not be decoded or failed detection.
	Dropped      int
	Message      string
	Alternatives []gesture.Score
}

// frameOutcome is the per-frame result of decode and detection.
type frameOutcome struct {
	frame   sequence.Frame
	hand    bool
	dropped bool
}

var errEmptyFrame = errors.New("decode frame: empty frame")

// Recognize runs the full pipeline over the encoded images of one
// performance. Frames are decoded and detected concurrently but keep their
// submission order. Frames that fail to decode or detect are skipped; when no
// frame carries a hand the result is unknown.
func (s *Service) Recognize(ctx context.Context, frames [][]byte, expected string) (*Result, error) {
	if !s.Ready() {
		return nil, ErrModelNotReady
	}
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	start := time.Now()
	outcomes := make([]frameOutcome, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, data := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			frame, ok, err := s.detectEncoded(data)
			if err != nil {
				s.log.Debug().Err(err).Int("frame", i).Msg("frame dropped")
				outcomes[i].dropped = true
				return nil
			}
			outcomes[i] = frameOutcome{frame: frame, hand: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.metrics.ObserveStage("detect", time.Since(start))

	seq := make(sequence.Sequence, 0, len(frames))
	dropped := 0
	for _, o := range outcomes {
		switch {
		case o.dropped:
			dropped++
		case o.hand:
			seq = append(seq, o.frame)
		}
	}

	res, err := s.classify(seq, len(frames), expected)
	if err != nil {
		return nil, err
	}
	res.Dropped = dropped
	s.metrics.ObserveFrames(len(seq), len(frames)-len(seq)-dropped, dropped)
	return res, nil
}

// RecognizeSequence classifies landmark frames that were already extracted.
// framesTotal is the number of submitted frames the sequence came from.
func (s *Service) RecognizeSequence(seq sequence.Sequence, framesTotal int, expected string) (*Result, error) {
	if !s.Ready() {
		return nil, ErrModelNotReady
	}
	return s.classify(seq, max(framesTotal, len(seq)), expected)
}

// DetectFrame decodes one encoded image and returns the first hand in it.
func (s *Service) DetectFrame(data []byte) (sequence.Frame, bool, error) {
	if s.detector == nil {
		return sequence.Frame{}, false, ErrModelNotReady
	}
	return s.detectEncoded(data)
}

func (s *Service) detectEncoded(data []byte) (sequence.Frame, bool, error) {
	if len(data) == 0 {
		return sequence.Frame{}, false, errEmptyFrame
	}
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return sequence.Frame{}, false, fmt.Errorf("decode frame: %w", err)
	}
	defer mat.Close()
	if mat.Empty() {
		return sequence.Frame{}, false, fmt.Errorf("decode frame: not an image")
	}

	hands, err := s.detector.Detect(&mat)
	if err != nil {
		return sequence.Frame{}, false, fmt.Errorf("detect: %w", err)
	}
	hand, ok := detector.FirstHand(hands)
	if !ok {
		return sequence.Frame{}, false, nil
	}
	return sequence.FrameOf(hand), true, nil
}

func (s *Service) classify(seq sequence.Sequence, framesTotal int, expected string) (*Result, error) {
	res := &Result{FramesTotal: framesTotal, FramesWithHand: len(seq)}

	if len(seq) == 0 {
		res.Result = gesture.UnknownResult()
		res.Message = noHandMessage
		s.observe(res, expected)
		return res, nil
	}

	n, err := sequence.Normalize(seq)
	if err != nil {
		return nil, err
	}
	s.scaler.Transform(&n)

	start := time.Now()
	probs, err := s.predictor.Predict(n)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	s.metrics.ObserveStage("predict", time.Since(start))

	res.Result, err = gesture.Decide(probs, s.vocab, expected)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	res.Alternatives = gesture.Ranked(probs, s.vocab, s.alternatives)
	res.Message = fmt.Sprintf(handsMessageFmt, res.FramesWithHand, res.FramesTotal)
	s.observe(res, expected)
	return res, nil
}

func (s *Service) observe(res *Result, expected string) {
	s.metrics.ObserveRecognition(res.Label.Kind().String(), res.IsMatch, res.Confidence)

	ev := s.log.Info()
	if res.Label.Kind() != gesture.KindClass {
		ev = s.log.Debug()
	}
	ev.Str("expected", expected).
		Str("predicted", res.Label.String()).
		Float64("confidence", res.Confidence).
		Bool("match", res.IsMatch).
		Int("frames_with_hand", res.FramesWithHand).
		Int("frames_total", res.FramesTotal).
		Msg("performance classified")
}
