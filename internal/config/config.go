package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	dbconfig "consultdesk/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. CONSULTDESK_AUTH_JWT_SECRET
const EnvPrefix = "CONSULTDESK"

// Broadcast modes
const (
	BroadcastLocal = "local"
	BroadcastRedis = "redis"
)

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  *dbconfig.Config `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Broadcast *BroadcastConfig `mapstructure:"broadcast"`
	Log       *LogConfig       `mapstructure:"log"`
}

type HTTPConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// Addr returns host:port for the listener
func (h *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", h.Host, h.Port)
}

// FUNCTIONAL DISCOVERY: ReadTimeout doubles as the pong wait; a socket silent
// for longer than that is dropped
type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
	RateLimit    int           `mapstructure:"rate_limit"` // send_message per principal per minute
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`

	// Optional head-office admin created at startup when missing
	BootstrapAdminEmail    string `mapstructure:"bootstrap_admin_email"`
	BootstrapAdminPassword string `mapstructure:"bootstrap_admin_password"`
	BootstrapAdminName     string `mapstructure:"bootstrap_admin_name"`
	BootstrapBranchID      string `mapstructure:"bootstrap_branch_id"`
}

type BroadcastConfig struct {
	Mode          string `mapstructure:"mode"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel maps the configured level name
func (l *LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", l.Level)
	}
	return level, nil
}

// FUNCTIONAL DISCOVERY: Production-ready defaults; only the JWT secret has no default
func DefaultConfig() *Config {
	return &Config{
		Database: dbconfig.DefaultConfig(),
		HTTP: &HTTPConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
			RateLimit:    100,
		},
		Auth: &AuthConfig{
			Issuer:             "consultdesk",
			TokenTTL:           24 * time.Hour,
			BootstrapAdminName: "Head Office Admin",
			BootstrapBranchID:  "head-office",
		},
		Broadcast: &BroadcastConfig{
			Mode:          BroadcastLocal,
			RedisAddr:     "localhost:6379",
			ChannelPrefix: "consultdesk:room:",
		},
		Log: &LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database == nil {
		return errors.New("database configuration is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.HTTP == nil {
		return errors.New("HTTP configuration is required")
	}
	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return errors.New("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return errors.New("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}
	if c.WebSocket.RateLimit <= 0 {
		return errors.New("WebSocket rate limit must be positive")
	}

	if c.Auth == nil {
		return errors.New("auth configuration is required")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("auth JWT secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token TTL must be positive")
	}
	if c.Auth.BootstrapAdminEmail != "" && c.Auth.BootstrapAdminPassword == "" {
		return errors.New("bootstrap admin password is required when an email is set")
	}

	if c.Broadcast == nil {
		return errors.New("broadcast configuration is required")
	}
	switch c.Broadcast.Mode {
	case BroadcastLocal:
	case BroadcastRedis:
		if c.Broadcast.RedisAddr == "" {
			return errors.New("redis address is required in redis broadcast mode")
		}
	default:
		return fmt.Errorf("unknown broadcast mode %q", c.Broadcast.Mode)
	}

	if c.Log == nil {
		return errors.New("log configuration is required")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}

	return nil
}

// newViper returns a viper instance seeded with every default.
// TECHNICAL DISCOVERY: AutomaticEnv only resolves keys viper already knows,
// so each key gets a default before env lookup
func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()

	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.path", d.Database.DatabasePath)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.conn_max_idle_time", d.Database.ConnMaxIdleTime)
	v.SetDefault("database.timeout", d.Database.Timeout)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.allowed_origins", d.HTTP.AllowedOrigins)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.rate_limit", d.WebSocket.RateLimit)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.bootstrap_admin_email", d.Auth.BootstrapAdminEmail)
	v.SetDefault("auth.bootstrap_admin_password", d.Auth.BootstrapAdminPassword)
	v.SetDefault("auth.bootstrap_admin_name", d.Auth.BootstrapAdminName)
	v.SetDefault("auth.bootstrap_branch_id", d.Auth.BootstrapBranchID)

	v.SetDefault("broadcast.mode", d.Broadcast.Mode)
	v.SetDefault("broadcast.redis_addr", d.Broadcast.RedisAddr)
	v.SetDefault("broadcast.redis_password", d.Broadcast.RedisPassword)
	v.SetDefault("broadcast.redis_db", d.Broadcast.RedisDB)
	v.SetDefault("broadcast.channel_prefix", d.Broadcast.ChannelPrefix)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	return v
}

func withEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func decode(v *viper.Viper) (*Config, error) {
	config := DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return config, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// A missing file is not an error and existing variables are never overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv overlays CONSULTDESK_* variables on the defaults
func LoadFromEnv() (*Config, error) {
	v := newViper()
	withEnv(v)
	return decode(v)
}

// LoadFromFile overlays a json, yaml or toml file on the defaults
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigWithPrecedence resolves each key as file > environment > defaults,
// after loading an optional .env from the working directory
func LoadConfigWithPrecedence(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := newViper()
	withEnv(v)

	if path != "" {
		file := viper.New()
		file.SetConfigFile(path)
		if err := file.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// TECHNICAL DISCOVERY: viper ranks env above file; Set outranks both
		for _, key := range file.AllKeys() {
			v.Set(key, file.Get(key))
		}
	}

	config, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
