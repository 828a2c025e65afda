package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"consultdesk/internal/chat"
	"consultdesk/internal/websocket"
	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

var _ websocket.Dispatcher = (*Router)(nil)

// JoinResult is the join_room acknowledgement
type JoinResult struct {
	LeadID string `json:"lead_id"`
	Joined bool   `json:"joined"`
}

// Router dispatches gateway events to the chat service and fans results out to rooms
// ARCHITECTURAL DISCOVERY: Pure event routing; room policy lives in chat.Service,
// socket bookkeeping in the registry and delivery in the broadcaster
type Router struct {
	registry    *websocket.Registry
	chat        *chat.Service
	broadcaster interfaces.RoomBroadcaster
	rateLimiter *RateLimiter
}

// NewRouter creates an event router. A nil limiter means 100 sends per minute.
func NewRouter(registry *websocket.Registry, service *chat.Service, broadcaster interfaces.RoomBroadcaster, limiter *RateLimiter) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRateLimit, 0)
	}
	return &Router{
		registry:    registry,
		chat:        service,
		broadcaster: broadcaster,
		rateLimiter: limiter,
	}
}

// RateLimiter exposes the send limiter so its cleanup loop can be run
func (r *Router) RateLimiter() *RateLimiter { return r.rateLimiter }

// Dispatch handles one client frame
func (r *Router) Dispatch(ctx context.Context, conn *websocket.Connection, frame *types.Frame) *types.Result {
	switch frame.Event {
	case types.EventJoinRoom:
		return r.joinRoom(conn, frame)
	case types.EventSendMessage:
		return r.sendMessage(ctx, conn, frame)
	case types.EventTyping:
		return r.typing(ctx, conn, frame)
	case types.EventMarkRead:
		return r.markRead(ctx, conn, frame)
	default:
		return types.Err(ErrUnknownEvent)
	}
}

func decode(frame *types.Frame, v any) error {
	if len(frame.Data) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(frame.Data, v); err != nil {
		return ErrInvalidPayload
	}
	return nil
}

// joinRoom adds the socket to a room the principal may enter.
// FUNCTIONAL DISCOVERY: a lead asking for a foreign room is a silent no-op;
// the ack reports joined=false rather than an error
func (r *Router) joinRoom(conn *websocket.Connection, frame *types.Frame) *types.Result {
	var payload types.RoomPayload
	if err := decode(frame, &payload); err != nil {
		return types.Err(err)
	}
	if !types.IsValidID(payload.LeadID) {
		return types.Err(types.ErrInvalidID)
	}

	p := conn.Principal()
	if conn.InRoom(payload.LeadID) {
		return types.Ok(JoinResult{LeadID: payload.LeadID, Joined: true})
	}
	if !r.chat.CanJoin(p, payload.LeadID) {
		slog.Debug("join_room dropped", "conn_id", conn.ID(), "principal_id", p.ID, "room", payload.LeadID)
		return types.Ok(JoinResult{LeadID: payload.LeadID, Joined: false})
	}

	if err := r.registry.Join(conn, payload.LeadID); err != nil {
		return types.Err(err)
	}
	slog.Debug("joined room", "conn_id", conn.ID(), "principal_id", p.ID, "room", payload.LeadID)
	return types.Ok(JoinResult{LeadID: payload.LeadID, Joined: true})
}

// sendMessage persists then broadcasts
// ARCHITECTURAL DISCOVERY: Persist-then-route; the broadcast carries the stored
// record so every member sees the server id and timestamp
func (r *Router) sendMessage(ctx context.Context, conn *websocket.Connection, frame *types.Frame) *types.Result {
	var payload types.SendMessagePayload
	if err := decode(frame, &payload); err != nil {
		return types.Err(err)
	}

	p := conn.Principal()
	if !r.rateLimiter.Allow(p.ID) {
		return types.Err(ErrRateLimitExceeded)
	}

	msg, err := r.chat.SendMessage(ctx, p, payload.LeadID, payload.Message)
	if err != nil {
		return types.Err(clientError(err, types.EventSendMessage, p))
	}

	if err := r.broadcaster.Broadcast(ctx, msg.LeadID, types.EventReceiveMessage, msg, ""); err != nil {
		// stored already; members catch up from history
		slog.Error("failed to broadcast message", "message_id", msg.ID, "room", msg.LeadID, "error", err)
	}
	return types.Ok(msg)
}

func (r *Router) typing(ctx context.Context, conn *websocket.Connection, frame *types.Frame) *types.Result {
	var payload types.TypingPayload
	if err := decode(frame, &payload); err != nil {
		return types.Err(err)
	}
	if !types.IsValidID(payload.LeadID) {
		return types.Err(types.ErrInvalidID)
	}

	p := conn.Principal()
	if p.Kind == types.KindLead && !r.chat.CanJoin(p, payload.LeadID) {
		return types.Err(chat.ErrRoomForbidden)
	}

	notice := types.TypingNotice{User: p.Name, IsTyping: payload.IsTyping}
	if err := r.broadcaster.Broadcast(ctx, payload.LeadID, types.EventUserTyping, notice, conn.ID()); err != nil {
		slog.Warn("failed to broadcast typing", "room", payload.LeadID, "error", err)
		return types.Err(ErrInternal)
	}
	return types.Ok(nil)
}

func (r *Router) markRead(ctx context.Context, conn *websocket.Connection, frame *types.Frame) *types.Result {
	var payload types.RoomPayload
	if err := decode(frame, &payload); err != nil {
		return types.Err(err)
	}

	p := conn.Principal()
	receipt, err := r.chat.MarkRead(ctx, p, payload.LeadID)
	if err != nil {
		return types.Err(clientError(err, types.EventMarkRead, p))
	}
	return types.Ok(receipt)
}

// clientError keeps validation and permission errors and hides storage details
func clientError(err error, event string, p *types.Principal) error {
	switch {
	case errors.Is(err, interfaces.ErrForbidden),
		errors.Is(err, types.ErrInvalidID),
		errors.Is(err, types.ErrEmptyMessage),
		errors.Is(err, types.ErrMessageTooLong):
		return err
	}
	slog.Error("chat event failed", "event", event, "principal_id", p.ID, "error", err)
	if event == types.EventSendMessage {
		return ErrPersistFailed
	}
	return ErrInternal
}
