// Package capture provides frame sources for the recording workflow. Frames
// come from still images on disk; there is no live camera access.
package capture

import (
	"errors"

	"gocv.io/x/gocv"
)

var (
	// ErrSourceNotOpen is returned when reading from a source that is not open.
	ErrSourceNotOpen = errors.New("frame source is not open")
	// ErrEndOfFrames is returned once every frame has been read.
	ErrEndOfFrames = errors.New("no more frames")
	// ErrBadFrame wraps a frame that could not be loaded. Reading may continue
	// with the next frame.
	ErrBadFrame = errors.New("unreadable frame")
)

// Source yields decoded frames in order.
type Source interface {
	Open() error
	Close() error
	// ReadFrame returns the next frame. The caller is responsible for
	// closing the returned Mat.
	ReadFrame() (*gocv.Mat, error)
	IsOpen() bool
}
