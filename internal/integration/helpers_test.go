package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"

	"consultdesk/internal/app"
	"consultdesk/internal/config"
	"consultdesk/pkg/types"
)

// startApplication runs a full application on an ephemeral port
func startApplication(t *testing.T) *app.Application {
	t.Helper()
	t.Setenv("CONSULTDESK_HTTP_HOST", "127.0.0.1")
	t.Setenv("CONSULTDESK_HTTP_PORT", "0")
	t.Setenv("CONSULTDESK_AUTH_JWT_SECRET", "integration-secret")
	t.Setenv("CONSULTDESK_DATABASE_PATH", filepath.Join(t.TempDir(), "integration.db"))
	t.Setenv("CONSULTDESK_LOG_LEVEL", "error")

	cfg, err := config.LoadFromEnv()
	if err != nil {
		t.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Failed to stop application: %v", err)
		}
	})
	return application
}

func issueToken(t *testing.T, application *app.Application, p types.Principal) string {
	t.Helper()
	token, err := application.Tokens().Issue(p)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

func chatURL(application *app.Application, token string) string {
	return "ws://" + application.Addr() + "/chat?token=" + token
}

// client is a test socket that decodes server frames
type client struct {
	t    *testing.T
	conn *gorilla.Conn
}

func connect(t *testing.T, application *app.Application, p types.Principal) *client {
	t.Helper()
	conn, resp, err := gorilla.DefaultDialer.Dial(chatURL(application, issueToken(t, application, p)), nil)
	if err != nil {
		t.Fatalf("Failed to connect %s: %v", p.ID, err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("Expected 101, got %d", resp.StatusCode)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event, ackID string, data any) {
	c.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("Failed to marshal payload: %v", err)
	}
	frame := types.Frame{Event: event, AckID: ackID, Data: raw}
	if err := c.conn.WriteJSON(frame); err != nil {
		c.t.Fatalf("Failed to send %s: %v", event, err)
	}
}

type serverFrame struct {
	Event string          `json:"event"`
	AckID string          `json:"ack_id"`
	OK    bool            `json:"ok"`
	Error string          `json:"error"`
	Data  json.RawMessage `json:"data"`
}

// next reads frames until one with the given event arrives
func (c *client) next(event string) serverFrame {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("Failed to set read deadline: %v", err)
		}
		var f serverFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("Waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

// silent asserts that no frame of the given event arrives within d
func (c *client) silent(event string, d time.Duration) {
	c.t.Helper()
	deadline := time.Now().Add(d)
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			c.t.Fatalf("Failed to set read deadline: %v", err)
		}
		var f serverFrame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		if f.Event == event {
			c.t.Fatalf("Unexpected %s frame: %s", event, f.Data)
		}
	}
}

// join enters room and waits for the ack, so earlier connect-time
// membership is settled as well
func (c *client) join(room string) {
	c.t.Helper()
	c.send(types.EventJoinRoom, "join-"+room, types.RoomPayload{LeadID: room})
	ack := c.next(types.EventAck)
	var result struct {
		Joined bool `json:"joined"`
	}
	if !ack.OK || json.Unmarshal(ack.Data, &result) != nil || !result.Joined {
		c.t.Fatalf("join %s failed: %+v", room, ack)
	}
}
