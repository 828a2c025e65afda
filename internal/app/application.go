package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"

	"consultdesk/internal/api"
	"consultdesk/internal/auth"
	"consultdesk/internal/chat"
	"consultdesk/internal/config"
	"consultdesk/internal/database"
	"consultdesk/internal/hub"
	"consultdesk/internal/router"
	"consultdesk/internal/websocket"
	"consultdesk/pkg/interfaces"
	"consultdesk/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	tokens      *auth.TokenManager
	registry    *websocket.Registry
	roomHub     *hub.Hub
	redisClient *redis.Client
	relay       *hub.RedisBroadcaster // nil in local broadcast mode
	broadcaster interfaces.RoomBroadcaster
	chat        *chat.Service
	router      *router.Router
	apiServer   *api.Server
	httpServer  *http.Server

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Bootstrap admin → Registry → Hub/Broadcaster → Chat → Router → WebSocket → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Database manager; migrations run inside NewManager
	dbManager, err := database.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		TTL:    cfg.Auth.TokenTTL,
	})
	if err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}
	passwords := auth.NewPasswordHasher()

	// STEP 2: Head-office admin so a fresh deployment can log in
	if err := BootstrapAdmin(context.Background(), dbManager, passwords, cfg.Auth); err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	// STEP 3: Connection registry
	registry := websocket.NewRegistry()

	// STEP 4: Room fan-out, local or through Redis
	roomHub := hub.NewHub(registry)
	app := &Application{
		config:      cfg,
		dbManager:   dbManager,
		tokens:      tokens,
		registry:    registry,
		roomHub:     roomHub,
		broadcaster: roomHub,
	}
	if cfg.Broadcast.Mode == config.BroadcastRedis {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Broadcast.RedisAddr,
			Password: cfg.Broadcast.RedisPassword,
			DB:       cfg.Broadcast.RedisDB,
		})
		app.relay = hub.NewRedisBroadcaster(app.redisClient, roomHub, cfg.Broadcast.ChannelPrefix)
		app.broadcaster = app.relay
	}

	// STEP 5: Chat rules and socket event routing
	app.chat = chat.NewService(dbManager)
	app.router = router.NewRouter(registry, app.chat, app.broadcaster,
		router.NewRateLimiter(cfg.WebSocket.RateLimit, 0))

	// STEP 6: WebSocket gateway
	wsHandler := websocket.NewHandler(registry, tokens, app.router, app.chat, websocket.Options{
		SendBuffer:   cfg.WebSocket.BufferSize,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		PongWait:     cfg.WebSocket.ReadTimeout,
	}, cfg.HTTP.AllowedOrigins)

	// STEP 7: HTTP API with /chat mounted
	app.apiServer = api.NewServer(api.Dependencies{
		Store:          dbManager,
		Chat:           app.chat,
		Registry:       registry,
		Tokens:         tokens,
		Passwords:      passwords,
		Socket:         http.HandlerFunc(wsHandler.HandleWebSocket),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})

	// TECHNICAL DISCOVERY: WriteTimeout bounds plain HTTP responses; on /chat each
	// frame sets its own write deadline, replacing the one the hijacked conn inherits
	app.httpServer = &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// BootstrapAdmin creates the configured head-office admin when it does not exist yet
func BootstrapAdmin(ctx context.Context, store interfaces.UserStore, passwords *auth.PasswordHasher, cfg *config.AuthConfig) error {
	if cfg == nil || cfg.BootstrapAdminEmail == "" {
		return nil
	}

	_, err := store.GetUserByEmail(ctx, cfg.BootstrapAdminEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return fmt.Errorf("failed to look up bootstrap admin: %w", err)
	}

	hash, err := passwords.Hash(cfg.BootstrapAdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash bootstrap admin password: %w", err)
	}
	branchID := cfg.BootstrapBranchID
	admin := &types.User{
		Name:         cfg.BootstrapAdminName,
		Email:        cfg.BootstrapAdminEmail,
		PasswordHash: hash,
		Role:         "admin",
		BranchID:     &branchID,
		BranchType:   types.BranchTypeHeadOffice,
	}
	if err := store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	slog.Info("bootstrap admin created", "email", admin.Email, "branch_id", branchID)
	return nil
}

// Start begins application execution
// Hub and relay start first so the first socket event already has a delivery path
func (app *Application) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	// STEP 1: Room hub
	if err := app.roomHub.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("failed to start room hub: %w", err)
	}

	// STEP 2: Redis relay
	if app.relay != nil {
		if err := app.relay.Start(ctx); err != nil {
			_ = app.roomHub.Stop()
			cancel()
			return fmt.Errorf("failed to start redis broadcaster: %w", err)
		}
	}

	go app.router.RateLimiter().Run(ctx)

	// STEP 3: Listener; binding synchronously surfaces port conflicts here
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		app.stopBroadcast()
		cancel()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	app.mu.Lock()
	app.listener = ln
	app.cancel = cancel
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("consultdesk started",
		"addr", ln.Addr().String(),
		"database", app.config.Database.Driver,
		"broadcast", app.config.Broadcast.Mode)
	return nil
}

func (app *Application) stopBroadcast() {
	if app.relay != nil {
		if err := app.relay.Stop(); err != nil {
			slog.Warn("redis broadcaster shutdown error", "error", err)
		}
	}
	if err := app.roomHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		slog.Warn("room hub shutdown error", "error", err)
	}
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Broadcaster → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	slog.Info("shutting down consultdesk")

	// STEP 1: Stop accepting requests; hijacked sockets are not tracked by Shutdown
	if err := app.httpServer.Shutdown(ctx); err != nil {
		slog.Warn("HTTP server shutdown error", "error", err)
	}

	// STEP 2: Stop fan-out
	app.stopBroadcast()

	app.mu.Lock()
	if app.cancel != nil {
		app.cancel()
	}
	app.mu.Unlock()

	if app.redisClient != nil {
		if err := app.redisClient.Close(); err != nil {
			slog.Warn("redis client close error", "error", err)
		}
	}

	// STEP 3: Drain the write loop and close the pool
	if err := app.dbManager.Close(); err != nil {
		return fmt.Errorf("database shutdown error: %w", err)
	}

	slog.Info("consultdesk shutdown complete")
	return nil
}

// Addr returns the bound address once started, else the configured one
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP surface for in-process tests
func (app *Application) Handler() http.Handler { return app.apiServer }

// Tokens exposes the token manager so tooling can mint tokens
func (app *Application) Tokens() *auth.TokenManager { return app.tokens }

// NewLogger builds the process logger from the log configuration
func NewLogger(cfg *config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}
