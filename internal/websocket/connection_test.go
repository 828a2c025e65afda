package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

// Test WebSocket upgrader for creating test connections
var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var testPrincipal = &types.Principal{ID: "agent-1", Name: "Agent", Kind: types.KindAgent}

// Architectural Validation Tests
func TestConnection_InterfaceCompliance(t *testing.T) {
	var _ interfaces.Connection = &Connection{}
}

// Functional Validation Tests
func TestConnection_NewConnectionInitialization(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, testPrincipal, DefaultOptions())
	defer conn.Close()

	if cap(conn.writeCh) != 100 {
		t.Errorf("Expected write channel buffer of 100, got %d", cap(conn.writeCh))
	}
	if conn.ID() == "" {
		t.Error("connection id should be assigned")
	}
	if conn.Principal() != testPrincipal {
		t.Error("principal should be attached at construction")
	}
	if len(conn.Rooms()) != 0 {
		t.Error("new connection should not be in any room")
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	a := NewConnection(nil, testPrincipal, DefaultOptions())
	b := NewConnection(nil, testPrincipal, DefaultOptions())
	if a.ID() == b.ID() {
		t.Error("connection ids must be unique")
	}
}

func TestConnection_WriteJSONDelivers(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, testPrincipal, DefaultOptions())
	defer conn.Close()

	if err := conn.WriteJSON(types.Outbound{Event: types.EventUserTyping, Data: types.TypingNotice{User: "Agent", IsTyping: true}}); err != nil {
		t.Fatalf("WriteJSON failed: %v", err)
	}

	select {
	case data := <-received:
		var out map[string]any
		if err := json.Unmarshal(data, &out); err != nil {
			t.Fatalf("invalid JSON on the wire: %v", err)
		}
		if out["event"] != types.EventUserTyping {
			t.Errorf("event = %v", out["event"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestConnection_ConcurrentWrites(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, testPrincipal, DefaultOptions())
	defer conn.Close()

	const writers = 10
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			if err := conn.WriteJSON(map[string]int{"n": i}); err != nil {
				t.Errorf("WriteJSON failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < writers; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of %d messages delivered", i, writers)
		}
	}
}

func TestConnection_WriteAfterClose(t *testing.T) {
	wsConn, _ := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, testPrincipal, DefaultOptions())

	if err := conn.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	_ = conn.Close() // idempotent

	if err := conn.WriteJSON("x"); err != ErrConnectionClosed {
		t.Errorf("WriteJSON after close = %v, want ErrConnectionClosed", err)
	}
	select {
	case <-conn.Done():
	default:
		t.Error("Done should be closed after Close")
	}
}

func TestConnection_InvalidJSON(t *testing.T) {
	conn := NewConnection(nil, testPrincipal, DefaultOptions())
	if err := conn.WriteJSON(make(chan int)); err != ErrInvalidJSON {
		t.Errorf("WriteJSON(chan) = %v, want ErrInvalidJSON", err)
	}
}

func TestConnection_WriteTimeoutWhenBufferFull(t *testing.T) {
	// No writer goroutine runs for a nil socket, so the buffer never drains
	conn := NewConnection(nil, testPrincipal, Options{SendBuffer: 1, WriteTimeout: 20 * time.Millisecond})

	if err := conn.WriteJSON("first"); err != nil {
		t.Fatalf("first write should fit the buffer: %v", err)
	}
	if err := conn.WriteJSON("second"); err != ErrWriteTimeout {
		t.Errorf("second write = %v, want ErrWriteTimeout", err)
	}
}

func TestConnection_TrySendDropsSlowConsumer(t *testing.T) {
	// a nil socket has no writer, so the single slot never drains
	conn := NewConnection(nil, testPrincipal, Options{SendBuffer: 1, WriteTimeout: time.Minute})

	if err := conn.TrySend([]byte(`{"event":"first"}`)); err != nil {
		t.Fatalf("first frame should fit the buffer: %v", err)
	}

	start := time.Now()
	if err := conn.TrySend([]byte(`{"event":"second"}`)); err != ErrSlowConsumer {
		t.Errorf("overflow = %v, want ErrSlowConsumer", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("TrySend blocked for %v", elapsed)
	}

	select {
	case <-conn.Done():
	default:
		t.Error("slow consumer should be closed")
	}
	if err := conn.TrySend([]byte(`{}`)); err != ErrConnectionClosed {
		t.Errorf("TrySend after drop = %v, want ErrConnectionClosed", err)
	}
}

func TestConnection_TrySendDelivers(t *testing.T) {
	wsConn, received := createTestWebSocketConnection(t)
	conn := NewConnection(wsConn, testPrincipal, DefaultOptions())
	defer conn.Close()

	if err := conn.TrySend([]byte(`{"event":"ping"}`)); err != nil {
		t.Fatalf("TrySend failed: %v", err)
	}
	select {
	case data := <-received:
		if string(data) != `{"event":"ping"}` {
			t.Errorf("received %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}
}

// createTestWebSocketConnection dials a server that forwards every frame it reads
func createTestWebSocketConnection(t *testing.T) (*websocket.Conn, <-chan []byte) {
	t.Helper()
	received := make(chan []byte, 100)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		defer conn.Close()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			received <- data
		}
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to create test WebSocket connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return conn, received
}
