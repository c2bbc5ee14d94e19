package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/fixtures"
)

func dialStream(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/quiz/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) streamMessage {
	t.Helper()
	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read error = %v", err)
	}
	return msg
}

func TestStreamHandler(t *testing.T) {
	st := newTestStore(t)
	srv := New(Config{Service: newTestService(true, 0.05, 0.7, 0.1, 0.1, 0.05), Store: st})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialStream(t, ts)
	frames := fixtures.Frames(12)

	t.Run("binary and text frames then result", func(t *testing.T) {
		for _, f := range frames[:6] {
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				t.Fatalf("write error = %v", err)
			}
		}
		for _, f := range fixtures.Base64Frames(6, true) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				t.Fatalf("write error = %v", err)
			}
		}

		progress := readMessage(t, conn)
		if progress.Type != msgProgress || progress.FramesTotal != 10 || progress.FramesWithHand != 10 {
			t.Errorf("unexpected progress %+v", progress)
		}

		if err := conn.WriteJSON(map[string]string{"expectedSign": "two"}); err != nil {
			t.Fatalf("write error = %v", err)
		}
		msg := readMessage(t, conn)
		if msg.Type != msgResult || msg.Result == nil {
			t.Fatalf("expected result, got %+v", msg)
		}
		if !msg.Result.IsCorrect || msg.Result.PredictedSign != "two" || msg.Result.FramesTotal != 12 {
			t.Errorf("unexpected result %+v", msg.Result)
		}
		if msg.Result.Message != "Hand detected in 12/12 frames" {
			t.Errorf("unexpected message %q", msg.Result.Message)
		}
	})

	t.Run("connection is reusable but needs frames", func(t *testing.T) {
		if err := conn.WriteJSON(map[string]string{"expectedSign": "two"}); err != nil {
			t.Fatalf("write error = %v", err)
		}
		msg := readMessage(t, conn)
		if msg.Type != msgError || msg.Error != "No frames provided" {
			t.Errorf("unexpected message %+v", msg)
		}
	})

	t.Run("undecodable text frame counts as dropped", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte("@@@")); err != nil {
			t.Fatalf("write error = %v", err)
		}
		for _, f := range frames[:2] {
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				t.Fatalf("write error = %v", err)
			}
		}
		if err := conn.WriteJSON(map[string]string{"expectedSign": "two"}); err != nil {
			t.Fatalf("write error = %v", err)
		}

		msg := readMessage(t, conn)
		if msg.Type != msgResult || msg.Result == nil {
			t.Fatalf("expected result, got %+v", msg)
		}
		if msg.Result.FramesTotal != 3 || msg.Result.FramesWithHand != 2 {
			t.Errorf("frames = %d/%d, want 2/3", msg.Result.FramesWithHand, msg.Result.FramesTotal)
		}
		if msg.Result.Message != "Hand detected in 2/3 frames" {
			t.Errorf("unexpected message %q", msg.Result.Message)
		}
	})

	t.Run("control message needs expectedSign", func(t *testing.T) {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"other": 1}`)); err != nil {
			t.Fatalf("write error = %v", err)
		}
		msg := readMessage(t, conn)
		if msg.Type != msgError || msg.Error != "expectedSign is required" {
			t.Errorf("unexpected message %+v", msg)
		}
	})

	t.Run("attempt recorded with stream source", func(t *testing.T) {
		attempts, err := st.Attempts().List(0)
		if err != nil {
			t.Fatalf("failed to list attempts: %v", err)
		}
		if len(attempts) != 2 {
			t.Fatalf("expected 2 attempts, got %d", len(attempts))
		}
		for _, a := range attempts {
			if a.Source != "stream" || !a.Correct {
				t.Errorf("unexpected attempt %+v", a)
			}
		}
	})
}

func TestStreamHandler_NoHand(t *testing.T) {
	srv := New(Config{Service: newTestService(false, 1, 0, 0, 0, 0)})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialStream(t, ts)
	for _, f := range fixtures.Frames(3) {
		if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
			t.Fatalf("write error = %v", err)
		}
	}
	if err := conn.WriteJSON(map[string]string{"expectedSign": "one"}); err != nil {
		t.Fatalf("write error = %v", err)
	}

	msg := readMessage(t, conn)
	if msg.Type != msgResult || msg.Result.PredictedSign != "unknown" || msg.Result.IsCorrect {
		t.Errorf("unexpected message %+v", msg)
	}
}

func TestStreamHandler_ModelNotReady(t *testing.T) {
	svc := app.New(app.Config{Detector: detector.NewMockDetector(), Vocabulary: vocab})
	srv := New(Config{Service: svc})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/quiz/stream"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %v", resp)
	}
	resp.Body.Close()
}
