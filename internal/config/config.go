package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full service configuration.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Database  *DatabaseConfig  `json:"database"`
	Redis     *RedisConfig     `json:"redis"`
	Sync      *SyncConfig      `json:"sync"`
	Log       *LogConfig       `json:"log"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	// AllowedOrigins feeds both CORS and the WebSocket origin check.
	AllowedOrigins []string `json:"allowed_origins"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	// ReadTimeout is how long a connection may stay silent, pongs included.
	ReadTimeout       time.Duration `json:"read_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	BufferSize        int           `json:"buffer_size"`
	MaxMessageBytes   int64         `json:"max_message_bytes"`
	MessagesPerMinute int           `json:"messages_per_minute"`
}

// DatabaseConfig locates the exercise catalogue. An empty path keeps the
// catalogue in memory.
type DatabaseConfig struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
	Seed           bool   `json:"seed"`
}

// RedisConfig enables the exercise cache when Addr is set.
type RedisConfig struct {
	Addr     string        `json:"addr"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	CacheTTL time.Duration `json:"cache_ttl"`
}

// SyncConfig controls edit debouncing.
type SyncConfig struct {
	// QuietPeriod is how long a sender must pause before its latest edit is
	// applied. Zero applies every edit immediately.
	QuietPeriod time.Duration `json:"quiet_period"`
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// DefaultConfig returns settings suitable for a single classroom server.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:      30 * time.Second,
			ReadTimeout:       60 * time.Second,
			WriteTimeout:      5 * time.Second,
			BufferSize:        100,
			MaxMessageBytes:   128 * 1024,
			MessagesPerMinute: 600,
		},
		Database: &DatabaseConfig{
			Path:           "./data/codementor.db",
			MaxConnections: 10,
			Seed:           true,
		},
		Redis: &RedisConfig{
			CacheTTL: 10 * time.Minute,
		},
		Sync: &SyncConfig{
			QuietPeriod: 300 * time.Millisecond,
		},
		Log: &LogConfig{
			Level: "info",
		},
	}
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must be longer than the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageBytes <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}
	if c.WebSocket.MessagesPerMinute < 0 {
		return fmt.Errorf("WebSocket rate limit cannot be negative")
	}

	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path != "" && c.Database.MaxConnections <= 0 {
		return fmt.Errorf("database max connections must be positive")
	}

	if c.Redis == nil {
		return fmt.Errorf("redis configuration is required")
	}
	if c.Redis.Addr != "" && c.Redis.CacheTTL <= 0 {
		return fmt.Errorf("redis cache TTL must be positive")
	}

	if c.Sync == nil {
		return fmt.Errorf("sync configuration is required")
	}
	if c.Sync.QuietPeriod < 0 {
		return fmt.Errorf("sync quiet period cannot be negative")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// Address returns the host:port the HTTP server listens on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

const envPrefix = "CODEMENTOR_"

// LoadFromEnv overlays CODEMENTOR_* environment variables on the defaults.
// Unparseable values are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)
	envList("HTTP_ALLOWED_ORIGINS", &config.HTTP.AllowedOrigins)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if v, ok := os.LookupEnv(envPrefix + "WEBSOCKET_MAX_MESSAGE_BYTES"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageBytes = n
		}
	}
	envInt("WEBSOCKET_MESSAGES_PER_MINUTE", &config.WebSocket.MessagesPerMinute)

	// An explicitly empty path selects the in-memory catalogue.
	if v, ok := os.LookupEnv(envPrefix + "DATABASE_PATH"); ok {
		config.Database.Path = v
	}
	envInt("DATABASE_MAX_CONNECTIONS", &config.Database.MaxConnections)
	envBool("DATABASE_SEED", &config.Database.Seed)

	envString("REDIS_ADDR", &config.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Redis.Password)
	envInt("REDIS_DB", &config.Redis.DB)
	envDuration("REDIS_CACHE_TTL", &config.Redis.CacheTTL)

	envDuration("SYNC_QUIET_PERIOD", &config.Sync.QuietPeriod)

	envString("LOG_LEVEL", &config.Log.Level)
	envBool("LOG_DEVELOPMENT", &config.Log.Development)

	return config
}

func envString(name string, dst *string) {
	if v := os.Getenv(envPrefix + name); v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v := os.Getenv(envPrefix + name); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func envList(name string, dst *[]string) {
	v := os.Getenv(envPrefix + name)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// ConfigFile is the JSON shape of a config file. Durations are strings
// such as "30s".
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Database  *DatabaseConfigFile  `json:"database"`
	Redis     *RedisConfigFile     `json:"redis"`
	Sync      *SyncConfigFile      `json:"sync"`
	Log       *LogConfig           `json:"log"`
}

type HTTPConfigFile struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ReadTimeout     string   `json:"read_timeout"`
	WriteTimeout    string   `json:"write_timeout"`
	ShutdownTimeout string   `json:"shutdown_timeout"`
	AllowedOrigins  []string `json:"allowed_origins"`
}

type WebSocketConfigFile struct {
	PingInterval      string `json:"ping_interval"`
	ReadTimeout       string `json:"read_timeout"`
	WriteTimeout      string `json:"write_timeout"`
	BufferSize        int    `json:"buffer_size"`
	MaxMessageBytes   int64  `json:"max_message_bytes"`
	MessagesPerMinute *int   `json:"messages_per_minute"`
}

type DatabaseConfigFile struct {
	Path           string `json:"path"`
	MaxConnections int    `json:"max_connections"`
	Seed           *bool  `json:"seed"`
}

type RedisConfigFile struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	CacheTTL string `json:"cache_ttl"`
}

type SyncConfigFile struct {
	QuietPeriod string `json:"quiet_period"`
}

// LoadFromFile reads a JSON config file over the defaults and validates the
// result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()
	if err := file.apply(config); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}
	return config, nil
}

func (f *ConfigFile) apply(config *Config) error {
	if f.HTTP != nil {
		if f.HTTP.Host != "" {
			config.HTTP.Host = f.HTTP.Host
		}
		if f.HTTP.Port > 0 {
			config.HTTP.Port = f.HTTP.Port
		}
		if err := parseDuration("http.read_timeout", f.HTTP.ReadTimeout, &config.HTTP.ReadTimeout); err != nil {
			return err
		}
		if err := parseDuration("http.write_timeout", f.HTTP.WriteTimeout, &config.HTTP.WriteTimeout); err != nil {
			return err
		}
		if err := parseDuration("http.shutdown_timeout", f.HTTP.ShutdownTimeout, &config.HTTP.ShutdownTimeout); err != nil {
			return err
		}
		if f.HTTP.AllowedOrigins != nil {
			config.HTTP.AllowedOrigins = f.HTTP.AllowedOrigins
		}
	}

	if f.WebSocket != nil {
		if err := parseDuration("websocket.ping_interval", f.WebSocket.PingInterval, &config.WebSocket.PingInterval); err != nil {
			return err
		}
		if err := parseDuration("websocket.read_timeout", f.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout); err != nil {
			return err
		}
		if err := parseDuration("websocket.write_timeout", f.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout); err != nil {
			return err
		}
		if f.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = f.WebSocket.BufferSize
		}
		if f.WebSocket.MaxMessageBytes > 0 {
			config.WebSocket.MaxMessageBytes = f.WebSocket.MaxMessageBytes
		}
		if f.WebSocket.MessagesPerMinute != nil {
			config.WebSocket.MessagesPerMinute = *f.WebSocket.MessagesPerMinute
		}
	}

	if f.Database != nil {
		config.Database.Path = f.Database.Path
		if f.Database.MaxConnections > 0 {
			config.Database.MaxConnections = f.Database.MaxConnections
		}
		if f.Database.Seed != nil {
			config.Database.Seed = *f.Database.Seed
		}
	}

	if f.Redis != nil {
		config.Redis.Addr = f.Redis.Addr
		config.Redis.Password = f.Redis.Password
		config.Redis.DB = f.Redis.DB
		if err := parseDuration("redis.cache_ttl", f.Redis.CacheTTL, &config.Redis.CacheTTL); err != nil {
			return err
		}
	}

	if f.Sync != nil {
		if err := parseDuration("sync.quiet_period", f.Sync.QuietPeriod, &config.Sync.QuietPeriod); err != nil {
			return err
		}
	}

	if f.Log != nil {
		if f.Log.Level != "" {
			config.Log.Level = f.Log.Level
		}
		config.Log.Development = f.Log.Development
	}
	return nil
}

func parseDuration(field, value string, dst *time.Duration) error {
	if value == "" {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

// LoadConfigWithPrecedence returns the file config when filepath names a
// readable, valid file, else the environment config over defaults.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}
	return config
}
