package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/gesture"
	"github.com/ayusman/mudra/internal/store"
)

// Request limits.
const (
	MaxBodyBytes = 100 << 20
	MaxFrames    = 300
)

// ModelNotReadyMessage is reported while the classifier or detector is
// missing.
const ModelNotReadyMessage = "Model not initialized"

type quizRequest struct {
	Frames []string `json:"frames"`
	// ExpectedSign must be present but may be empty; an empty sign never
	// matches.
	ExpectedSign *string `json:"expectedSign"`
}

// QuizResponse is the verdict reported to clients.
type QuizResponse struct {
	IsCorrect      bool            `json:"isCorrect"`
	PredictedSign  string          `json:"predictedSign"`
	Confidence     float64         `json:"confidence"`
	Message        string          `json:"message,omitempty"`
	FramesTotal    int             `json:"framesTotal"`
	FramesWithHand int             `json:"framesWithHand"`
	Alternatives   []gesture.Score `json:"alternatives,omitempty"`
}

// NewQuizResponse converts a recognition result.
func NewQuizResponse(res *app.Result) QuizResponse {
	return QuizResponse{
		IsCorrect:      res.IsMatch,
		PredictedSign:  res.Label.String(),
		Confidence:     res.Confidence,
		Message:        res.Message,
		FramesTotal:    res.FramesTotal,
		FramesWithHand: res.FramesWithHand,
		Alternatives:   res.Alternatives,
	}
}

// DecodeFrame decodes one base64 frame, stripping a data URL prefix if
// present.
func DecodeFrame(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		i := strings.IndexByte(s, ',')
		if i < 0 {
			return nil, errors.New("malformed data URL")
		}
		s = s[i+1:]
	}
	if s == "" {
		return nil, errors.New("empty frame")
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return data, nil
}

// RecordAttempt stores the outcome of a recognition. A nil store records
// nothing.
func RecordAttempt(s *store.Store, res *app.Result, expected, source string, logger *zerolog.Logger) {
	if s == nil {
		return
	}
	attempt := &store.Attempt{
		Expected:       expected,
		Predicted:      res.Label.String(),
		Confidence:     res.Confidence,
		Correct:        res.IsMatch,
		FramesTotal:    res.FramesTotal,
		FramesWithHand: res.FramesWithHand,
		Source:         source,
	}
	if err := s.Attempts().Create(attempt); err != nil {
		logger.Error().Err(err).Msg("failed to record attempt")
	}
}

// QuizHandler serves POST /api/quiz.
type QuizHandler struct {
	service *app.Service
	store   *store.Store
}

// NewQuizHandler creates a QuizHandler. The store is optional.
func NewQuizHandler(svc *app.Service, s *store.Store) *QuizHandler {
	return &QuizHandler{service: svc, store: s}
}

// ServeHTTP implements the http.Handler interface.
func (h *QuizHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	logger := zerolog.Ctx(r.Context())

	if h.service == nil || !h.service.Ready() {
		logger.Error().Msg("recognition requested without a loaded model")
		writeError(w, http.StatusInternalServerError, ModelNotReadyMessage)
		return
	}

	frames, expected, problems := parseQuizRequest(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if len(problems) > 0 {
		logger.Debug().Strs("problems", problems).Msg("rejected recognition request")
		writeProblems(w, problems)
		return
	}

	res, err := h.service.Recognize(r.Context(), frames, expected)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrModelNotReady):
			writeError(w, http.StatusInternalServerError, ModelNotReadyMessage)
		case errors.Is(err, app.ErrNoFrames):
			writeProblems(w, []string{"No frames provided"})
		default:
			logger.Error().Err(err).Msg("recognition failed")
			writeError(w, http.StatusInternalServerError, "Error in recognition: "+err.Error())
		}
		return
	}

	RecordAttempt(h.store, res, expected, "http", logger)
	writeJSON(w, http.StatusOK, NewQuizResponse(res))
}

// parseQuizRequest decodes the body and collects every structural problem
// with it. A frame that is not valid base64 is passed on as nil so recognition
// counts it as dropped.
func parseQuizRequest(body io.Reader) ([][]byte, string, []string) {
	var req quizRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return nil, "", []string{"Invalid JSON: " + err.Error()}
	}

	var problems []string
	if len(req.Frames) == 0 {
		problems = append(problems, "No frames provided")
	}
	if len(req.Frames) > MaxFrames {
		problems = append(problems, fmt.Sprintf("Too many frames: %d > %d", len(req.Frames), MaxFrames))
	}
	if req.ExpectedSign == nil {
		problems = append(problems, "expectedSign is required")
	}
	if len(problems) > 0 {
		return nil, "", problems
	}

	frames := make([][]byte, len(req.Frames))
	for i, f := range req.Frames {
		if data, err := DecodeFrame(f); err == nil {
			frames[i] = data
		}
	}
	return frames, *req.ExpectedSign, nil
}

// QuestionsHandler serves GET /api/quiz/questions.
type QuestionsHandler struct {
	vocab gesture.Vocabulary
}

// NewQuestionsHandler creates a QuestionsHandler for vocab.
func NewQuestionsHandler(vocab gesture.Vocabulary) *QuestionsHandler {
	return &QuestionsHandler{vocab: vocab}
}

// ServeHTTP implements the http.Handler interface.
func (h *QuestionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, h.vocab.Questions())
}

// ClassesHandler serves GET /api/classes.
type ClassesHandler struct {
	vocab gesture.Vocabulary
}

// NewClassesHandler creates a ClassesHandler for vocab.
func NewClassesHandler(vocab gesture.Vocabulary) *ClassesHandler {
	return &ClassesHandler{vocab: vocab}
}

type classesResponse struct {
	Classes   []string `json:"classes"`
	Threshold float64  `json:"threshold"`
}

// ServeHTTP implements the http.Handler interface.
func (h *ClassesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, classesResponse{
		Classes:   h.vocab.Names(),
		Threshold: gesture.ConfidenceThreshold,
	})
}
