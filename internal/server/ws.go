package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/server/api"
	"github.com/ayusman/mudra/internal/store"
)

const (
	streamReadLimit  = 16 << 20
	streamWriteWait  = 10 * time.Second
	streamAckEvery   = 10
	streamSourceName = "stream"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// Stream message types sent to clients.
const (
	msgResult   = "result"
	msgProgress = "progress"
	msgError    = "error"
)

// streamMessage is every server-to-client message.
type streamMessage struct {
	Type           string            `json:"type"`
	Result         *api.QuizResponse `json:"result,omitempty"`
	FramesTotal    int               `json:"framesTotal,omitempty"`
	FramesWithHand int               `json:"framesWithHand,omitempty"`
	Error          string            `json:"error,omitempty"`
}

// streamControl is a JSON text message from the client. An expectedSign ends
// the performance; reset discards it.
type streamControl struct {
	ExpectedSign *string `json:"expectedSign"`
	Reset        bool    `json:"reset"`
}

// StreamHandler runs streaming recognition over a WebSocket. Each text or
// binary message carries one encoded frame; a JSON control message ends the
// performance and yields one result. The connection may then start another.
type StreamHandler struct {
	service *app.Service
	store   *store.Store
}

// NewStreamHandler creates a StreamHandler. The store is optional.
func NewStreamHandler(svc *app.Service, s *store.Store) *StreamHandler {
	return &StreamHandler{service: svc, store: s}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := zerolog.Ctx(r.Context())

	if !h.service.Ready() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": api.ModelNotReadyMessage})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// The server's request deadlines do not apply to a long-lived stream.
	conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(streamReadLimit)

	m := h.service.Metrics()
	m.StreamOpened()
	defer m.StreamClosed()

	perf := h.service.NewPerformance()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("stream closed")
			}
			return
		}

		msg, ok := h.handle(perf, mt, data, logger)
		if !ok {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Debug().Err(err).Msg("stream write failed")
			return
		}
	}
}

// handle processes one client message and returns the reply, if any.
func (h *StreamHandler) handle(perf *app.Performance, mt int, data []byte, logger *zerolog.Logger) (streamMessage, bool) {
	if mt == websocket.TextMessage && bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		var ctl streamControl
		if err := json.Unmarshal(data, &ctl); err != nil {
			return streamMessage{Type: msgError, Error: "Invalid JSON: " + err.Error()}, true
		}
		if ctl.Reset {
			perf.Reset()
			return streamMessage{Type: msgProgress}, true
		}
		if ctl.ExpectedSign == nil {
			return streamMessage{Type: msgError, Error: "expectedSign is required"}, true
		}
		expected := *ctl.ExpectedSign

		res, err := perf.Finish(expected)
		if err != nil {
			if errors.Is(err, app.ErrNoFrames) {
				return streamMessage{Type: msgError, Error: "No frames provided"}, true
			}
			logger.Error().Err(err).Msg("stream recognition failed")
			return streamMessage{Type: msgError, Error: "Error in recognition: " + err.Error()}, true
		}
		api.RecordAttempt(h.store, res, expected, streamSourceName, logger)
		resp := api.NewQuizResponse(res)
		return streamMessage{Type: msgResult, Result: &resp}, true
	}

	frame := data
	if mt == websocket.TextMessage {
		var err error
		if frame, err = api.DecodeFrame(string(data)); err != nil {
			// Counted as a dropped frame of the performance.
			logger.Debug().Err(err).Msg("undecodable text frame")
			frame = nil
		}
	}

	if err := perf.Add(frame); err != nil {
		logger.Debug().Err(err).Msg("stream frame dropped")
	}

	total, withHand := perf.Frames()
	if total%streamAckEvery != 0 {
		return streamMessage{}, false
	}
	return streamMessage{Type: msgProgress, FramesTotal: total, FramesWithHand: withHand}, true
}
