// Package app is the recognition service: the immutable serving handle and
// the per-performance pipeline from encoded frames to a quiz verdict.
package app

import (
	"errors"
	"io"
	"runtime"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/metrics"
	"github.com/ayusman/mudra/internal/sequence"
)

var (
	// ErrModelNotReady is returned by every recognition call when the
	// classifier or the landmark detector failed to load.
	ErrModelNotReady = errors.New("model not initialized")
	// ErrNoFrames is returned when a performance holds no frames at all.
	ErrNoFrames = errors.New("no frames provided")
)

// Config holds the collaborators of a Service. Predictor and Detector may be
// nil, in which case the service reports itself not ready.
type Config struct {
	Detector   detector.Detector
	Predictor  classifier.Predictor
	Vocabulary gesture.Vocabulary
	Scaler     *sequence.Scaler
	// Workers bounds concurrent frame decoding and detection per request.
	Workers int
	// Alternatives is the number of ranked classes attached to a result.
	Alternatives int
	Metrics      *metrics.Metrics
	Logger       *zerolog.Logger
}

// Service is constructed once at startup and shared by every handler. None of
// its fields change after New returns.
type Service struct {
	detector     detector.Detector
	predictor    classifier.Predictor
	vocab        gesture.Vocabulary
	scaler       *sequence.Scaler
	workers      int
	alternatives int
	metrics      *metrics.Metrics
	log          zerolog.Logger
}

// New creates a Service from config.
func New(config Config) *Service {
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	alternatives := config.Alternatives
	if alternatives <= 0 {
		alternatives = 3
	}
	l := log.Logger
	if config.Logger != nil {
		l = *config.Logger
	}

	s := &Service{
		detector:     config.Detector,
		predictor:    config.Predictor,
		vocab:        config.Vocabulary,
		scaler:       config.Scaler,
		workers:      workers,
		alternatives: alternatives,
		metrics:      config.Metrics,
		log:          l.With().Str("component", "recognizer").Logger(),
	}
	s.metrics.SetModelReady(s.Ready())
	return s
}

// Ready reports whether recognition requests can be served.
func (s *Service) Ready() bool {
	return s.detector != nil && s.predictor != nil && s.vocab.Len() > 0
}

// Vocabulary returns the configured classes.
func (s *Service) Vocabulary() gesture.Vocabulary {
	return s.vocab
}

// Metrics returns the instruments the service records to. It may be nil.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Close releases the detector and, when it holds native resources, the
// predictor.
func (s *Service) Close() error {
	var errs []error
	if s.detector != nil {
		errs = append(errs, s.detector.Close())
	}
	if c, ok := s.predictor.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
