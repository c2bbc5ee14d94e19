package dataset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/sequence"
)

// Recording defaults.
const (
	DefaultMinHandRatio = 0.7
	DefaultMaxFrames    = 120
)

// ErrTooFewHands is returned when too few frames of a performance showed a
// hand to keep the recording.
var ErrTooFewHands = errors.New("dataset: not enough frames with hand landmarks")

// Recorder turns a stream of frames into one stored sequence.
type Recorder struct {
	Detector detector.Detector
	// MinHandRatio is the fraction of sequence.SequenceLength frames that
	// must carry a hand.
	MinHandRatio float64
	// MaxFrames bounds how many frames are read looking for hands.
	MaxFrames int
}

// NewRecorder returns a Recorder with default limits.
func NewRecorder(d detector.Detector) *Recorder {
	return &Recorder{
		Detector:     d,
		MinHandRatio: DefaultMinHandRatio,
		MaxFrames:    DefaultMaxFrames,
	}
}

// Recording is the outcome of one performance.
type Recording struct {
	Sequence       sequence.Sequence
	FramesRead     int
	FramesWithHand int
	BadFrames      int
}

// Record reads frames from src until sequence.SequenceLength frames with a
// hand are collected, MaxFrames have been read, or the source ends. The
// result is padded with its last frame to the full length.
func (r *Recorder) Record(ctx context.Context, src capture.Source) (*Recording, error) {
	if !src.IsOpen() {
		if err := src.Open(); err != nil {
			return nil, fmt.Errorf("open source: %w", err)
		}
		defer src.Close()
	}

	rec := &Recording{}
	var hands sequence.Sequence

	for len(hands) < sequence.SequenceLength && (r.MaxFrames <= 0 || rec.FramesRead < r.MaxFrames) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		frame, err := src.ReadFrame()
		if errors.Is(err, capture.ErrEndOfFrames) {
			break
		}
		rec.FramesRead++
		if errors.Is(err, capture.ErrBadFrame) {
			rec.BadFrames++
			log.Debug().Err(err).Msg("skipping unreadable frame")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read frame: %w", err)
		}

		found, err := r.Detector.Detect(frame)
		frame.Close()
		if err != nil {
			rec.BadFrames++
			log.Debug().Err(err).Msg("landmark detection failed")
			continue
		}
		if hand, ok := detector.FirstHand(found); ok {
			hands = append(hands, sequence.FrameOf(hand))
		}
	}
	rec.FramesWithHand = len(hands)

	if len(hands) == 0 || float64(len(hands)) < sequence.SequenceLength*r.MinHandRatio {
		return rec, fmt.Errorf("%w: %d of %d", ErrTooFewHands, len(hands), sequence.SequenceLength)
	}

	aligned, err := sequence.Align(hands)
	if err != nil {
		return rec, err
	}
	rec.Sequence = aligned
	return rec, nil
}

// NextSequencePath returns root/<class>/seq_<n>.npy for the first unused n,
// creating the class directory.
func NextSequencePath(root, class string) (string, error) {
	dir := filepath.Join(root, class)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create class directory: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	next := 0
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if n, err := strconv.Atoi(strings.TrimPrefix(name, "seq_")); err == nil && strings.HasPrefix(name, "seq_") && n >= next {
			next = n + 1
		}
	}
	return filepath.Join(dir, fmt.Sprintf("seq_%d%s", next, ExtNPY)), nil
}
