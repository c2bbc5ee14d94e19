package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results. It is safe for
// concurrent use.
type MockDetector struct {
	mu     sync.Mutex
	hands  []HandLandmarks
	script [][]HandLandmarks
	err    error
	calls  int
}

// NewMockDetector creates a new MockDetector instance.
func NewMockDetector() *MockDetector {
	return &MockDetector{}
}

// SetHands sets the hands that will be returned by Detect.
func (m *MockDetector) SetHands(hands []HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hands = hands
}

// SetScript queues per-call results. Each Detect call consumes the next
// entry; once the script is exhausted the hands from SetHands are returned.
func (m *MockDetector) SetScript(results [][]HandLandmarks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append([][]HandLandmarks(nil), results...)
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls reports how many times Detect has been called.
func (m *MockDetector) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Detect returns the pre-configured hands or error.
func (m *MockDetector) Detect(frame *gocv.Mat) ([]HandLandmarks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) > 0 {
		next := m.script[0]
		m.script = m.script[1:]
		return next, nil
	}
	return m.hands, nil
}

// Close is a no-op for the mock detector.
func (m *MockDetector) Close() error {
	return nil
}

// finger chains from knuckle to tip, thumb first.
var fingers = [5][4]int{
	{ThumbCMC, ThumbMCP, ThumbIP, ThumbTip},
	{IndexMCP, IndexPIP, IndexDIP, IndexTip},
	{MiddleMCP, MiddlePIP, MiddleDIP, MiddleTip},
	{RingMCP, RingPIP, RingDIP, RingTip},
	{PinkyMCP, PinkyPIP, PinkyDIP, PinkyTip},
}

// FingerCountLandmarks returns a right hand holding up the first n fingers,
// counting from the thumb, with the remaining fingers curled into the palm.
// n is clamped to [0, 5].
func FingerCountLandmarks(n int) HandLandmarks {
	n = max(0, min(n, 5))

	landmarks := HandLandmarks{
		Handedness: "Right",
		Score:      0.95,
	}
	landmarks.Points[Wrist] = Point3D{X: 0.5, Y: 0.8, Z: 0.0}

	for f, chain := range fingers {
		// Knuckles fan out across the palm, thumb furthest right.
		baseX := 0.60 - 0.05*float64(f)
		baseY := 0.70
		if f == 0 {
			baseY = 0.75
		}
		extended := f < n
		for j, idx := range chain {
			step := float64(j + 1)
			var p Point3D
			if extended {
				p = Point3D{X: baseX + 0.01*float64(2-f)*step, Y: baseY - 0.11*step, Z: 0.0}
				if f == 0 {
					p = Point3D{X: baseX + 0.05*step, Y: baseY - 0.05*step, Z: 0.02}
				}
			} else {
				p = Point3D{X: baseX - 0.02*step, Y: baseY + 0.01*step*float64(j%2), Z: -0.02 * step}
			}
			landmarks.Points[idx] = p
		}
	}
	return landmarks
}

// OpenPalmLandmarks returns a hand with all fingers extended.
func OpenPalmLandmarks() HandLandmarks {
	return FingerCountLandmarks(5)
}

// FistLandmarks returns a hand with every finger curled.
func FistLandmarks() HandLandmarks {
	return FingerCountLandmarks(0)
}
