package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"consultdesk/internal/websocket"
	"consultdesk/pkg/types"
)

var testUpgrader = gorilla.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// newRoomMember registers a live connection in room and returns the frames it receives
func newRoomMember(t *testing.T, registry *websocket.Registry, id, room string) (*websocket.Connection, <-chan map[string]any) {
	t.Helper()
	received := make(chan map[string]any, 100)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()
		for {
			var frame map[string]any
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			received <- frame
		}
	}))
	t.Cleanup(server.Close)

	ws, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}

	conn := websocket.NewConnection(ws, &types.Principal{ID: id, Kind: types.KindAgent}, websocket.DefaultOptions())
	t.Cleanup(func() { _ = conn.Close() })

	if err := registry.RegisterConnection(conn); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if err := registry.Join(conn, room); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	return conn, received
}

func expectFrame(t *testing.T, ch <-chan map[string]any) map[string]any {
	t.Helper()
	select {
	case frame := <-ch:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("expected a frame")
		return nil
	}
}

func expectNoFrame(t *testing.T, ch <-chan map[string]any) {
	t.Helper()
	select {
	case frame := <-ch:
		t.Fatalf("unexpected frame: %v", frame)
	case <-time.After(150 * time.Millisecond):
	}
}

func startHub(t *testing.T, registry *websocket.Registry) *Hub {
	t.Helper()
	h := NewHub(registry)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestHub_StartStop(t *testing.T) {
	h := NewHub(websocket.NewRegistry())
	ctx := context.Background()

	if err := h.Start(ctx); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}
	if err := h.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := h.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := h.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}

	// restartable
	if err := h.Start(ctx); err != nil {
		t.Errorf("restart failed: %v", err)
	}
	_ = h.Stop()
}

func TestHub_BroadcastWhenStopped(t *testing.T) {
	h := NewHub(websocket.NewRegistry())
	if err := h.Broadcast(context.Background(), "lead-1", "x", nil, ""); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}
}

func TestHub_ContextCancelStopsLoop(t *testing.T) {
	h := NewHub(websocket.NewRegistry())
	ctx, cancel := context.WithCancel(context.Background())
	_ = h.Start(ctx)
	cancel()

	deadline := time.Now().Add(time.Second)
	for h.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Running() {
		t.Error("hub should stop when its context is cancelled")
	}
}

func TestHub_BroadcastReachesRoomMembers(t *testing.T) {
	registry := websocket.NewRegistry()
	h := startHub(t, registry)

	_, inRoomA := newRoomMember(t, registry, "agent-1", "lead-1")
	_, inRoomB := newRoomMember(t, registry, "agent-2", "lead-1")
	_, elsewhere := newRoomMember(t, registry, "agent-3", "lead-2")

	payload := map[string]string{"message": "hello"}
	if err := h.Broadcast(context.Background(), "lead-1", types.EventReceiveMessage, payload, ""); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	for _, ch := range []<-chan map[string]any{inRoomA, inRoomB} {
		frame := expectFrame(t, ch)
		if frame["event"] != types.EventReceiveMessage {
			t.Errorf("event = %v", frame["event"])
		}
		data, _ := frame["data"].(map[string]any)
		if data["message"] != "hello" {
			t.Errorf("data = %v", frame["data"])
		}
	}
	expectNoFrame(t, elsewhere)
}

func TestHub_BroadcastExcludesSender(t *testing.T) {
	registry := websocket.NewRegistry()
	h := startHub(t, registry)

	sender, senderFrames := newRoomMember(t, registry, "agent-1", "lead-1")
	_, peerFrames := newRoomMember(t, registry, "lead-1", "lead-1")

	notice := types.TypingNotice{User: "Agent", IsTyping: true}
	if err := h.Broadcast(context.Background(), "lead-1", types.EventUserTyping, notice, sender.ID()); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	frame := expectFrame(t, peerFrames)
	if frame["event"] != types.EventUserTyping {
		t.Errorf("event = %v", frame["event"])
	}
	expectNoFrame(t, senderFrames)
}

func TestHub_BroadcastEmptyRoomIsNoop(t *testing.T) {
	h := startHub(t, websocket.NewRegistry())
	if err := h.Broadcast(context.Background(), "lead-404", "x", nil, ""); err != nil {
		t.Errorf("empty room broadcast = %v", err)
	}
}

func TestHub_BroadcastPreservesOrder(t *testing.T) {
	registry := websocket.NewRegistry()
	h := startHub(t, registry)
	_, frames := newRoomMember(t, registry, "agent-1", "lead-1")

	for i := 0; i < 20; i++ {
		if err := h.Broadcast(context.Background(), "lead-1", "n", i, ""); err != nil {
			t.Fatalf("Broadcast failed: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		frame := expectFrame(t, frames)
		if n, _ := frame["data"].(float64); int(n) != i {
			t.Fatalf("frame %d carried %v", i, frame["data"])
		}
	}
}

func TestNewEnvelope(t *testing.T) {
	if _, err := NewEnvelope("bad room", "x", nil, ""); err != ErrInvalidRoom {
		t.Errorf("invalid room = %v", err)
	}
	if _, err := NewEnvelope("lead-1", "x", make(chan int), ""); err == nil {
		t.Error("unencodable payload should fail")
	}

	env, err := NewEnvelope("lead-1", "x", map[string]int{"a": 1}, "c1")
	if err != nil {
		t.Fatal(err)
	}
	data, _ := json.Marshal(env)
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Room != "lead-1" || decoded.Except != "c1" || string(decoded.Payload) != `{"a":1}` {
		t.Errorf("decoded envelope = %+v", decoded)
	}
}

// FUNCTIONAL VALIDATION TEST: a stuck socket in one room must not delay another room
func TestHub_SlowConsumerDoesNotStallOtherRooms(t *testing.T) {
	registry := websocket.NewRegistry()

	// no socket behind it, so nothing drains the single-slot buffer
	stuck := websocket.NewConnection(nil, &types.Principal{ID: "agent-stuck", Kind: types.KindAgent},
		websocket.Options{SendBuffer: 1, WriteTimeout: time.Second})
	if err := registry.RegisterConnection(stuck); err != nil {
		t.Fatalf("RegisterConnection failed: %v", err)
	}
	if err := registry.Join(stuck, "lead-a"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	_, roomB := newRoomMember(t, registry, "agent-b", "lead-b")

	h := startHub(t, registry)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := h.Broadcast(ctx, "lead-a", types.EventReceiveMessage, map[string]int{"seq": i}, ""); err != nil {
			t.Fatalf("Broadcast to lead-a failed: %v", err)
		}
	}
	start := time.Now()
	if err := h.Broadcast(ctx, "lead-b", types.EventReceiveMessage, map[string]string{"message": "hi"}, ""); err != nil {
		t.Fatalf("Broadcast to lead-b failed: %v", err)
	}

	select {
	case <-roomB:
		if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
			t.Errorf("room lead-b waited %v behind a stuck socket", elapsed)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("room lead-b was stalled by a stuck socket in lead-a")
	}

	select {
	case <-stuck.Done():
	case <-time.After(time.Second):
		t.Error("slow consumer should be closed once its buffer overflows")
	}
}
