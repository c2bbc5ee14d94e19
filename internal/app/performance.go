package app

import (
	"github.com/ayusman/mudra/internal/sequence"
)

// Performance accumulates frames arriving one at a time, as on a streaming
// connection. It is owned by a single goroutine.
type Performance struct {
	svc     *Service
	frames  sequence.Sequence
	total   int
	dropped int
}

// NewPerformance starts an empty performance.
func (s *Service) NewPerformance() *Performance {
	return &Performance{svc: s}
}

// Add detects the hand in one encoded frame. An undecodable frame counts
// toward the total and is reported, but does not end the performance.
func (p *Performance) Add(data []byte) error {
	if !p.svc.Ready() {
		return ErrModelNotReady
	}
	p.total++
	frame, ok, err := p.svc.detectEncoded(data)
	if err != nil {
		p.dropped++
		return err
	}
	if ok {
		p.frames = append(p.frames, frame)
	}
	return nil
}

// Frames returns the number of frames added and how many carried a hand.
func (p *Performance) Frames() (total, withHand int) {
	return p.total, len(p.frames)
}

// Finish classifies the frames collected so far against expected and resets
// the performance for reuse.
func (p *Performance) Finish(expected string) (*Result, error) {
	if p.total == 0 {
		return nil, ErrNoFrames
	}
	res, err := p.svc.RecognizeSequence(p.frames, p.total, expected)
	if err == nil {
		res.Dropped = p.dropped
		p.svc.metrics.ObserveFrames(len(p.frames), p.total-len(p.frames)-p.dropped, p.dropped)
	}
	p.Reset()
	return res, err
}

// Reset discards the collected frames.
func (p *Performance) Reset() {
	p.frames = nil
	p.total = 0
	p.dropped = 0
}
