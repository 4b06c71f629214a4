package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/continuumhq/continuum/internal/model"
)

type recordingAcker struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (a *recordingAcker) MarkRead(_ context.Context, _ string, id uuid.UUID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, id)
	return nil
}

func (a *recordingAcker) acked() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.ids...)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

func hubServer(t *testing.T, hub *Hub, userID string, replay []model.Notification, acker Acker) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Register(r.Context(), userID, ws, replay, acker)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestReplayOnConnect(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	replay := []model.Notification{
		{ID: uuid.New(), UserID: "u1", Type: model.NotifyStaleDecision, Title: "older"},
		{ID: uuid.New(), UserID: "u1", Type: model.NotifyStaleDecision, Title: "newer"},
	}
	srv := hubServer(t, hub, "u1", replay, &recordingAcker{})
	ws := dial(t, srv)

	// Replay arrives oldest-first, before anything else.
	for _, want := range []string{"older", "newer"} {
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got model.Notification
		if err := ws.ReadJSON(&got); err != nil {
			t.Fatalf("read replay: %v", err)
		}
		if got.Title != want {
			t.Fatalf("replay order: got %q, want %q", got.Title, want)
		}
	}
}

func TestSendReachesLiveConnection(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	srv := hubServer(t, hub, "u1", nil, &recordingAcker{})
	ws := dial(t, srv)

	waitFor(t, func() bool { return hub.ConnectionCount("u1") == 1 })

	n := model.Notification{ID: uuid.New(), UserID: "u1", Type: model.NotifyCommitLinked, Title: "pushed"}
	hub.Send("u1", n)

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got model.Notification
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.ID != n.ID {
		t.Fatalf("got %v, want %v", got.ID, n.ID)
	}

	// Other users receive nothing and sending to them does not panic.
	hub.Send("u2", n)
}

func TestAckFrameMarksRead(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	acker := &recordingAcker{}
	srv := hubServer(t, hub, "u1", nil, acker)
	ws := dial(t, srv)

	id := uuid.New()
	frame, _ := json.Marshal(map[string]string{"ack": id.String()})
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	waitFor(t, func() bool { return len(acker.acked()) == 1 })
	if acker.acked()[0] != id {
		t.Fatalf("acked %v, want %v", acker.acked()[0], id)
	}

	// Garbage frames are ignored, not fatal.
	ws.WriteMessage(websocket.TextMessage, []byte("not json"))
	ws.WriteMessage(websocket.TextMessage, []byte(`{"ack":"not-a-uuid"}`))
	time.Sleep(50 * time.Millisecond)
	if hub.ConnectionCount("u1") != 1 {
		t.Fatal("connection should survive malformed frames")
	}
}

func TestDisconnectPrunesRegistry(t *testing.T) {
	hub := NewHub(slog.New(slog.DiscardHandler))
	srv := hubServer(t, hub, "u1", nil, &recordingAcker{})
	ws := dial(t, srv)

	waitFor(t, func() bool { return hub.ConnectionCount("u1") == 1 })
	ws.Close()
	waitFor(t, func() bool { return hub.ConnectionCount("u1") == 0 })
}
