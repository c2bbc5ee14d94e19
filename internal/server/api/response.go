// Package api provides the HTTP API handlers of the recognition service.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
)

type errorResponse struct {
	Error string `json:"error"`
}

// problemResponse is the body of a 400 for a malformed request.
type problemResponse struct {
	Error    string   `json:"error"`
	Problems []string `json:"problems"`
	Count    int      `json:"count"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeProblems writes a 400 listing every problem found in the request.
func writeProblems(w http.ResponseWriter, problems []string) {
	message := problems[0]
	if len(problems) > 1 {
		message = "Invalid request: " + strconv.Itoa(len(problems)) + " problems"
	}
	writeJSON(w, http.StatusBadRequest, problemResponse{
		Error:    message,
		Problems: problems,
		Count:    len(problems),
	})
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
