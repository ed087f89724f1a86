// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the room relay.
package server

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/roomrelay/internal/activity"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
	Activity        activity.Config
}

const (
	defaultPort            = ":5001"
	defaultMaxMessageSize  = 4096
	defaultRateLimitBurst  = 10
	defaultShutdownTimeout = 30 * time.Second
)

var (
	configMu     sync.RWMutex
	activeConfig Config
	origins      originPolicy
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:5001",
		},
		MaxMessageSize: defaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          defaultRateLimitBurst,
			RefillInterval: time.Second,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		Activity:        activity.DefaultConfig(),
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultRateLimitBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	policy := newOriginPolicy(cfg.AllowedOrigins)
	cfg.AllowedOrigins = policy.list()

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	origins = policy
	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	copied := *cfg
	copied.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	copied.Activity.KafkaBrokers = append([]string(nil), cfg.Activity.KafkaBrokers...)
	sanitizeConfig(copied)
}

// CurrentConfig returns a copy of the active configuration.
func CurrentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	cfg.Activity.KafkaBrokers = append([]string(nil), cfg.Activity.KafkaBrokers...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadDotEnv loads variables from the given .env files (".env" when none are
// named) without overriding variables already present in the environment.
func LoadDotEnv(paths ...string) {
	if err := godotenv.Load(paths...); err != nil {
		log.Println("No .env file found, using process environment")
	}
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseList(origins)
	}
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseSeconds(interval, cfg.RateLimit.RefillInterval)
	}
	if timeout := os.Getenv("SHUTDOWN_TIMEOUT"); timeout != "" {
		cfg.ShutdownTimeout = parseSeconds(timeout, cfg.ShutdownTimeout)
	}

	loadActivityFromEnv(&cfg.Activity)
	return &cfg
}

func loadActivityFromEnv(cfg *activity.Config) {
	if sink := os.Getenv("ACTIVITY_SINK"); sink != "" {
		cfg.Sink = strings.ToLower(strings.TrimSpace(sink))
	}
	if size := os.Getenv("ACTIVITY_BUFFER"); size != "" {
		cfg.BufferSize = parseIntValue(size, cfg.BufferSize)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.RedisAddr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if parsed, err := strconv.Atoi(db); err == nil && parsed >= 0 {
			cfg.RedisDB = parsed
		}
	}
	if channel := os.Getenv("REDIS_CHANNEL"); channel != "" {
		cfg.RedisChannel = channel
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = parseList(brokers)
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.KafkaTopic = topic
	}
}

func parseList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
