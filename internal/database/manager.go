package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	dbconfig "consultdesk/pkg/database"
)

var (
	// ErrManagerClosed is returned for writes after Close
	ErrManagerClosed = errors.New("database manager is closed")
	// ErrWriteTimeout is returned when the writer queue stays full
	ErrWriteTimeout = errors.New("write operation timeout")
)

// Manager implements interfaces.DatabaseManager
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	loopDone     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status

	retryDelay   time.Duration
	writeTimeout time.Duration

	// lastCreated is owned by the write loop
	lastCreated time.Time
	now         func() time.Time
}

// writeOperation represents a database write operation
type writeOperation struct {
	ctx       context.Context
	operation func(*sqlx.DB) error
	result    chan error
}

// NewManager opens the database, applies embedded migrations and starts the writer
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	migrations := dbconfig.NewMigrationManager(db, dbconfig.Migrations())
	if err := migrations.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	// FUNCTIONAL DISCOVERY: a database migrated by hand or drifted since must not
	// start serving; the check runs before the write loop exists
	if err := migrations.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	return newManager(db, config), nil
}

func newManager(db *sqlx.DB, config *dbconfig.Config) *Manager {
	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
		loopDone:     make(chan struct{}),
		retryDelay:   5 * time.Second,
		writeTimeout: 30 * time.Second,
		now:          time.Now,
	}
	if config != nil && config.Timeout > 0 {
		manager.writeTimeout = config.Timeout
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	// and gives every stored message a strictly increasing created_at
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	defer close(m.loopDone)

	for {
		select {
		case op := <-m.writeChannel:
			// FUNCTIONAL DISCOVERY: Retry exactly once after a fixed delay
			err := op.operation(m.db)
			if err != nil && op.ctx.Err() == nil && !isPermanent(err) {
				slog.Warn("database write failed, retrying", "delay", m.retryDelay, "error", err)
				select {
				case <-time.After(m.retryDelay):
					err = op.operation(m.db)
					if err != nil {
						slog.Error("database write failed after retry", "error", err)
					}
				case <-op.ctx.Done():
					err = op.ctx.Err()
				case <-m.shutdown:
				}
			}
			op.result <- err

		case <-m.shutdown:
			slog.Info("database write loop shutting down")
			return
		}
	}
}

// isPermanent reports errors a retry cannot fix
func isPermanent(err error) bool {
	return isConstraintViolation(err)
}

// isConstraintViolation recognises unique/check/foreign key failures from either driver
func isConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Class() == "23"
	}
	return false
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-time.After(m.writeTimeout):
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrManagerClosed
	}

	// once queued the operation runs to completion; there is no cancellation of in-flight writes
	select {
	case err := <-result:
		return err
	case <-m.loopDone:
		select {
		case err := <-result:
			return err
		default:
			return ErrManagerClosed
		}
	}
}

// nextTimestamp returns a creation time strictly after the previous one.
// Must only be called from the write loop.
func (m *Manager) nextTimestamp() time.Time {
	ts := m.now().UTC().Truncate(time.Microsecond)
	if !ts.After(m.lastCreated) {
		ts = m.lastCreated.Add(time.Microsecond)
	}
	m.lastCreated = ts
	return ts
}

// rebind converts '?' placeholders to the driver's bind style
func (m *Manager) rebind(query string) string {
	return m.db.Rebind(query)
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := m.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM schema_migrations"); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// DB returns the underlying connection for schema tooling
func (m *Manager) DB() *sqlx.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}
