package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"consultdesk/internal/websocket"
	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

var _ interfaces.RoomBroadcaster = (*Hub)(nil)

// Envelope is one room event in flight. It is also the pub/sub wire format.
type Envelope struct {
	Room    string          `json:"room"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Except  string          `json:"except,omitempty"` // connection id excluded from delivery
}

// NewEnvelope encodes payload once so every recipient gets identical bytes
func NewEnvelope(roomID, event string, payload any, exceptConnID string) (Envelope, error) {
	if !types.IsValidID(roomID) {
		return Envelope{}, ErrInvalidRoom
	}
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		raw = data
	}
	return Envelope{Room: roomID, Event: event, Payload: raw, Except: exceptConnID}, nil
}

// Hub is the in-process room broadcaster
// ARCHITECTURAL DISCOVERY: Central coordination point for all outbound room traffic;
// one goroutine drains the queue so deliveries into a room keep their enqueue order
type Hub struct {
	// FUNCTIONAL DISCOVERY: Buffered channel absorbs message bursts
	broadcastChannel chan Envelope
	shutdownChannel  chan struct{}
	done             chan struct{}

	registry *websocket.Registry

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub delivering to sockets tracked by registry
func NewHub(registry *websocket.Registry) *Hub {
	return &Hub{
		broadcastChannel: make(chan Envelope, 1000),
		registry:         registry,
	}
}

// Start begins hub processing
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	slog.Info("starting room hub")
	go h.run(ctx, h.shutdownChannel, h.done)
	return nil
}

// Stop shuts the hub down and waits for the run loop to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	slog.Info("room hub stopped")
	return nil
}

// Running reports whether the run loop is active
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Broadcast queues event for every local member of roomID except exceptConnID
func (h *Hub) Broadcast(ctx context.Context, roomID, event string, payload any, exceptConnID string) error {
	env, err := NewEnvelope(roomID, event, payload, exceptConnID)
	if err != nil {
		return err
	}
	return h.Deliver(ctx, env)
}

// Deliver queues an already encoded envelope for local delivery
func (h *Hub) Deliver(ctx context.Context, env Envelope) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	shutdown := h.shutdownChannel
	h.mu.RUnlock()

	// TECHNICAL DISCOVERY: blocking enqueue applies backpressure to the sender
	// instead of dropping room traffic when the buffer is full
	select {
	case h.broadcastChannel <- env:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the main hub processing loop
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case env := <-h.broadcastChannel:
			h.deliver(env)

		case <-shutdown:
			return

		case <-ctx.Done():
			slog.Info("room hub context cancelled")
			h.mu.Lock()
			if h.running {
				h.running = false
				close(h.shutdownChannel)
			}
			h.mu.Unlock()
			return
		}
	}
}

// deliver writes env to every member of its room
// FUNCTIONAL DISCOVERY: delivery continues past individual socket failures
// TECHNICAL DISCOVERY: the loop never waits on a socket; a full buffer drops
// that socket instead of stalling every other room
func (h *Hub) deliver(env Envelope) {
	frame := types.Outbound{Event: env.Event}
	if len(env.Payload) > 0 {
		frame.Data = env.Payload
	}
	data, err := json.Marshal(frame)
	if err != nil {
		slog.Error("failed to encode room frame", "room", env.Room, "event", env.Event, "error", err)
		return
	}

	for _, conn := range h.registry.RoomConnections(env.Room) {
		if conn.ID() == env.Except {
			continue
		}
		if err := conn.TrySend(data); err != nil {
			slog.Warn("room delivery failed",
				"room", env.Room, "event", env.Event, "conn_id", conn.ID(), "error", err)
		}
	}
}
