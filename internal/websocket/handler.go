package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"consultdesk/internal/auth"
	"consultdesk/internal/httpjson"
	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

// Dispatcher handles one decoded client frame and reports the outcome
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Connection, frame *types.Frame) *types.Result
}

// RoomPolicy names the room a principal is placed in on connect
type RoomPolicy interface {
	OwnRoom(p *types.Principal) (string, bool)
}

// Handler upgrades authenticated requests on /chat and runs each socket
// ARCHITECTURAL DISCOVERY: Multi-stage validation (token -> upgrade -> registration -> auto-join)
// ensures unauthenticated clients never hold a socket or reach event dispatch
type Handler struct {
	registry   *Registry
	verifier   interfaces.TokenVerifier
	dispatcher Dispatcher
	rooms      RoomPolicy
	opts       Options
	upgrader   websocket.Upgrader
}

// NewHandler creates a gateway handler. allowedOrigins empty or containing "*" accepts any origin.
func NewHandler(registry *Registry, verifier interfaces.TokenVerifier, dispatcher Dispatcher, rooms RoomPolicy, opts Options, allowedOrigins []string) *Handler {
	return &Handler{
		registry:   registry,
		verifier:   verifier,
		dispatcher: dispatcher,
		rooms:      rooms,
		opts:       opts,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	allowAll := len(allowed) == 0
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		return origin == "" || set[strings.ToLower(strings.TrimRight(origin, "/"))]
	}
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token or auth.token query parameters
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return auth.ExtractBearer(h)
	}
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return auth.ExtractBearer(t)
	}
	return auth.ExtractBearer(q.Get("auth.token"))
}

// HandleWebSocket authenticates, upgrades and starts the connection loop
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// FUNCTIONAL DISCOVERY: verification before upgrade means a rejected client
	// gets a plain 401 and never processes an event
	principal, err := h.verifier.Verify(TokenFromRequest(r))
	if err != nil {
		slog.Warn("chat connection rejected", "remote_addr", r.RemoteAddr, "error", err)
		httpjson.Error(w, http.StatusUnauthorized, err.Error())
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "principal_id", principal.ID, "error", err)
		return
	}

	conn := NewConnection(ws, principal, h.opts)
	if err := h.registry.RegisterConnection(conn); err != nil {
		slog.Error("failed to register connection", "conn_id", conn.ID(), "error", err)
		_ = conn.Close()
		return
	}

	// Leads are placed in their own room; staff join explicitly
	if room, ok := h.rooms.OwnRoom(principal); ok {
		if err := h.registry.Join(conn, room); err != nil {
			slog.Warn("lead auto-join failed", "conn_id", conn.ID(), "room", room, "error", err)
		}
	}

	slog.Info("chat connection established",
		"conn_id", conn.ID(), "principal_id", principal.ID, "kind", principal.Kind.String())

	go h.handleConnection(conn)
}

// handleConnection runs heartbeat and the read loop until the socket closes
// ARCHITECTURAL DISCOVERY: frames from one socket are processed strictly in order;
// different sockets interleave freely
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		slog.Info("chat connection closed", "conn_id", conn.ID(), "principal_id", conn.Principal().ID)
	}()

	pongWait := h.opts.PongWait
	if pongWait <= 0 {
		pongWait = DefaultOptions().PongWait
	}
	pingInterval := h.opts.PingInterval
	if pingInterval <= 0 || pingInterval >= pongWait {
		pingInterval = pongWait / 2
	}

	if err := conn.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		slog.Warn("failed to set read deadline", "conn_id", conn.ID(), "error", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("websocket read error", "conn_id", conn.ID(), "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		h.processFrame(conn, data)
	}
}

// processFrame decodes and dispatches one frame, then acknowledges it
func (h *Handler) processFrame(conn *Connection, data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		h.reply(conn, &frame, types.Err(ErrInvalidFrame))
		return
	}

	// handlers run to completion even if the socket drops mid-event
	result := h.dispatcher.Dispatch(context.Background(), conn, &frame)
	if result == nil {
		result = types.Ok(nil)
	}
	h.reply(conn, &frame, result)
}

// reply sends the ack when the client asked for one and an error event on failure
func (h *Handler) reply(conn interfaces.Connection, frame *types.Frame, result *types.Result) {
	if frame.AckID != "" {
		ack := types.Ack{Event: types.EventAck, AckID: frame.AckID, Result: result}
		if err := conn.WriteJSON(ack); err != nil {
			slog.Debug("failed to write ack", "conn_id", conn.ID(), "error", err)
		}
	}

	if !result.OK {
		slog.Debug("socket event failed", "conn_id", conn.ID(), "event", frame.Event, "error", result.Error)
		notice := types.Outbound{
			Event: types.EventError,
			Data:  map[string]string{"event": frame.Event, "error": result.Error},
		}
		if err := conn.WriteJSON(notice); err != nil {
			slog.Debug("failed to write error event", "conn_id", conn.ID(), "error", err)
		}
	}
}
