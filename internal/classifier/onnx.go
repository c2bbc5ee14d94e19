package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/sequence"
)

// ONNXMetadata describes an exported model.
type ONNXMetadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// ReadONNXMetadata loads metadata and checks it against the normalized
// sequence shape and vocab.
func ReadONNXMetadata(path string, vocab gesture.Vocabulary) (*ONNXMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta ONNXMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	if meta.InputName == "" {
		meta.InputName = "input"
	}
	if meta.OutputName == "" {
		meta.OutputName = "output"
	}

	if product(meta.InputShape) != sequence.SequenceLength*sequence.FrameFeatures {
		return nil, fmt.Errorf("%w: onnx input shape %v", ErrBadArtifact, meta.InputShape)
	}
	if product(meta.OutputShape) != int64(vocab.Len()) {
		return nil, fmt.Errorf("%w: onnx output shape %v for %d classes", ErrVocabularyMismatch, meta.OutputShape, vocab.Len())
	}
	trained, err := gesture.NewVocabulary(meta.Classes)
	if err != nil || !trained.Equal(vocab) {
		return nil, fmt.Errorf("%w: onnx classes %v", ErrVocabularyMismatch, meta.Classes)
	}
	return &meta, nil
}

func product(shape []int64) int64 {
	if len(shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

var (
	ortOnce sync.Once
	ortErr  error
)

func initONNXRuntime(libPath string) error {
	ortOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortErr = ort.InitializeEnvironment()
	})
	return ortErr
}

// ONNXPredictor serves a classifier exported to ONNX, for models trained
// outside this module. The session owns a single input and output tensor,
// so calls are serialized.
type ONNXPredictor struct {
	Metadata ONNXMetadata

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXPredictor loads modelPath with metadata from metadataPath. libPath
// optionally points at the onnxruntime shared library.
func NewONNXPredictor(modelPath, metadataPath, libPath string, vocab gesture.Vocabulary) (*ONNXPredictor, error) {
	meta, err := ReadONNXMetadata(metadataPath, vocab)
	if err != nil {
		return nil, err
	}

	if err := initONNXRuntime(libPath); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(meta.OutputShape...))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{meta.InputName}, []string{meta.OutputName},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output},
		nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &ONNXPredictor{
		Metadata: *meta,
		session:  session,
		input:    input,
		output:   output,
	}, nil
}

// Predict copies n into the input tensor and runs the session.
func (p *ONNXPredictor) Predict(n sequence.Normalized) ([]float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data := p.input.GetData()
	i := 0
	for t := range n {
		for _, v := range n[t] {
			data[i] = float32(v)
			i++
		}
	}

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx inference: %w", err)
	}

	out := p.output.GetData()
	probs := make([]float64, len(out))
	for j, v := range out {
		probs[j] = float64(v)
	}
	return probs, nil
}

// Close releases the session and tensors. The runtime environment stays
// initialized for the life of the process.
func (p *ONNXPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.input != nil {
		p.input.Destroy()
		p.input = nil
	}
	if p.output != nil {
		p.output.Destroy()
		p.output = nil
	}
	if p.session != nil {
		p.session.Destroy()
		p.session = nil
	}
	return nil
}
