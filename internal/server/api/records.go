package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/store"
)

// defaultAttemptLimit caps GET /api/attempts without a limit parameter.
const defaultAttemptLimit = 50

// AttemptsHandler serves /api/attempts and /api/attempts/stats.
type AttemptsHandler struct {
	store *store.Store
}

// NewAttemptsHandler creates an AttemptsHandler with the given store.
func NewAttemptsHandler(s *store.Store) *AttemptsHandler {
	return &AttemptsHandler{store: s}
}

type listAttemptsResponse struct {
	Attempts []*store.Attempt `json:"attempts"`
}

// ServeHTTP implements the http.Handler interface.
func (h *AttemptsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/attempts")
	switch strings.Trim(path, "/") {
	case "":
		h.list(w, r)
	case "stats":
		h.stats(w, r)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *AttemptsHandler) list(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", defaultAttemptLimit)
	if !ok {
		writeProblems(w, []string{"limit must be a non-negative integer"})
		return
	}

	attempts, err := h.store.Attempts().List(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attempts")
		return
	}

	writeJSON(w, http.StatusOK, listAttemptsResponse{Attempts: attempts})
}

func (h *AttemptsHandler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Attempts().Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute attempt stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// TrainingHandler serves /api/training/runs and /api/training/runs/{id}.
type TrainingHandler struct {
	store *store.Store
}

// NewTrainingHandler creates a TrainingHandler with the given store.
func NewTrainingHandler(s *store.Store) *TrainingHandler {
	return &TrainingHandler{store: s}
}

type listRunsResponse struct {
	Runs []*store.TrainingRun `json:"runs"`
}

// ServeHTTP implements the http.Handler interface.
func (h *TrainingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/training/runs")
	id := strings.Trim(path, "/")

	switch r.Method {
	case http.MethodGet:
		if id == "" {
			h.list(w, r)
			return
		}
		h.get(w, r, id)
	case http.MethodDelete:
		if id == "" {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.delete(w, r, id)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TrainingHandler) list(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.TrainingRuns().List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list training runs")
		return
	}

	writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs})
}

func (h *TrainingHandler) get(w http.ResponseWriter, r *http.Request, id string) {
	run, err := h.store.TrainingRuns().GetByID(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Training run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get training run")
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *TrainingHandler) delete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.store.TrainingRuns().Delete(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Training run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete training run")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
