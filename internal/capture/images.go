package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// Default bounds for frames handed to the detector. Larger images are
// downscaled to fit; smaller ones are left alone.
const (
	DefaultMaxWidth  = 1280
	DefaultMaxHeight = 720
)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".bmp": true, ".gif": true, ".tif": true, ".tiff": true}

// ImageSource reads frames from image files in a fixed order. EXIF
// orientation is applied on load.
type ImageSource struct {
	paths     []string
	maxWidth  int
	maxHeight int

	mu      sync.Mutex
	index   int
	running bool
}

// NewImageSource reads the given files in order.
func NewImageSource(paths []string) *ImageSource {
	return &ImageSource{
		paths:     append([]string(nil), paths...),
		maxWidth:  DefaultMaxWidth,
		maxHeight: DefaultMaxHeight,
	}
}

// NewImageDirSource reads every image file in dir in lexical order.
func NewImageDirSource(dir string) (*ImageSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		return nil, fmt.Errorf("no image files in %s", dir)
	}
	return NewImageSource(paths), nil
}

// SetMaxSize changes the downscaling bounds. Zero keeps the original size.
func (s *ImageSource) SetMaxSize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxWidth, s.maxHeight = width, height
}

// Len returns the number of frames.
func (s *ImageSource) Len() int { return len(s.paths) }

func (s *ImageSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.index = 0
	return nil
}

func (s *ImageSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *ImageSource) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ReadFrame loads the next image. A file that cannot be decoded yields an
// error wrapping ErrBadFrame and is skipped by the next call.
func (s *ImageSource) ReadFrame() (*gocv.Mat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil, ErrSourceNotOpen
	}
	if s.index >= len(s.paths) {
		return nil, ErrEndOfFrames
	}

	path := s.paths[s.index]
	s.index++

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadFrame, path, err)
	}
	if s.maxWidth > 0 && s.maxHeight > 0 {
		b := img.Bounds()
		if b.Dx() > s.maxWidth || b.Dy() > s.maxHeight {
			img = imaging.Fit(img, s.maxWidth, s.maxHeight, imaging.Lanczos)
		}
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadFrame, path, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, fmt.Errorf("%w: %s: empty image", ErrBadFrame, path)
	}
	return &mat, nil
}
