package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"consultdesk/pkg/types"
)

// Options tunes a gateway socket
type Options struct {
	SendBuffer   int           // outbound frames queued per connection
	WriteTimeout time.Duration // per-frame write deadline and enqueue timeout
	PingInterval time.Duration // heartbeat ping period
	PongWait     time.Duration // read deadline extended by each pong
}

// DefaultOptions returns the gateway defaults
func DefaultOptions() Options {
	return Options{
		SendBuffer:   100,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		PongWait:     60 * time.Second,
	}
}

// Connection implements interfaces.Connection for an authenticated socket
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn      *websocket.Conn
	id        string
	principal *types.Principal // immutable after construction
	writeCh   chan []byte
	opts      Options
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu    sync.RWMutex // protects rooms
	rooms map[string]struct{}
}

// NewConnection wraps an upgraded socket for a verified principal
func NewConnection(conn *websocket.Conn, principal *types.Principal, opts Options) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:      conn,
		id:        uuid.New().String(),
		principal: principal,
		writeCh:   make(chan []byte, opts.SendBuffer),
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		rooms:     make(map[string]struct{}),
	}

	// Start the single writer goroutine
	if conn != nil {
		go c.writeLoop()
	}

	return c
}

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races
func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the per-socket identifier
func (c *Connection) ID() string { return c.id }

// Principal returns the principal attached at authentication
func (c *Connection) Principal() *types.Principal { return c.principal }

// Done is closed when the connection is closed
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// WriteJSON queues v for the writer goroutine
func (c *Connection) WriteJSON(v any) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.opts.WriteTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// TrySend queues a pre-encoded frame without blocking. A full buffer marks
// the socket as a slow consumer: the frame is dropped and the socket closed,
// so the client reconnects and refetches history.
func (c *Connection) TrySend(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		_ = c.Close()
		return ErrSlowConsumer
	}
}

// Close stops the writer and closes the socket; safe to call repeatedly
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Rooms returns a snapshot of joined rooms
func (c *Connection) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// InRoom reports room membership
func (c *Connection) InRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

func (c *Connection) addRoom(room string) {
	c.mu.Lock()
	c.rooms[room] = struct{}{}
	c.mu.Unlock()
}

func (c *Connection) removeRoom(room string) {
	c.mu.Lock()
	delete(c.rooms, room)
	c.mu.Unlock()
}
