// Package server provides configuration helpers that define runtime defaults,
// validation, and viper-backed loading for the Agora service.
package server

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tyrowin/agora/internal/topic"
)

// Configuration keys shared by flags, environment variables and config files.
const (
	KeyHost                    = "host"
	KeyPort                    = "port"
	KeyPath                    = "path"
	KeyTopicCapacity           = "topic-capacity"
	KeyOutboundQueueSize       = "outbound-queue-size"
	KeyMaxMessageSize          = "max-message-size"
	KeyAllowedOrigins          = "allowed-origins"
	KeyRateLimitBurst          = "rate-limit-burst"
	KeyRateLimitRefillInterval = "rate-limit-refill-interval"
	KeyShutdownTimeout         = "shutdown-timeout"
)

// RateLimitConfig defines the parameters for per-connection inbound rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration.
type Config struct {
	Host              string
	Port              int
	Path              string
	TopicCapacity     int
	OutboundQueueSize int
	MaxMessageSize    int64
	AllowedOrigins    []string
	RateLimit         RateLimitConfig
	WriteWait         time.Duration
	PongWait          time.Duration
	ShutdownTimeout   time.Duration
}

func defaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8081,
		Path:              "/ws",
		TopicCapacity:     topic.DefaultCapacity,
		OutboundQueueSize: 256,
		MaxMessageSize:    64 * 1024,
		AllowedOrigins: []string{
			"http://localhost:8081",
		},
		RateLimit: RateLimitConfig{
			Burst:          100,
			RefillInterval: time.Second,
		},
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize returns a copy of c with every unset or invalid field replaced by
// its default.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = def.Port
	}
	if c.Path == "" {
		c.Path = def.Path
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.TopicCapacity <= 0 {
		c.TopicCapacity = def.TopicCapacity
	}
	if c.OutboundQueueSize <= 0 {
		c.OutboundQueueSize = def.OutboundQueueSize
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = def.WriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = def.PongWait
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = def.AllowedOrigins
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Addr returns the host:port the server binds to.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// pingPeriod must stay below PongWait so a healthy peer never times out.
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

// NewConfigFromViper creates a Config from the keys set in v. Keys that are
// not set keep their default values.
func NewConfigFromViper(v *viper.Viper) *Config {
	cfg := defaultConfig()

	if v.IsSet(KeyHost) {
		cfg.Host = v.GetString(KeyHost)
	}
	if v.IsSet(KeyPort) {
		cfg.Port = parseIntValue(v.GetString(KeyPort), cfg.Port)
	}
	if v.IsSet(KeyPath) {
		cfg.Path = v.GetString(KeyPath)
	}
	if v.IsSet(KeyTopicCapacity) {
		cfg.TopicCapacity = parseIntValue(v.GetString(KeyTopicCapacity), cfg.TopicCapacity)
	}
	if v.IsSet(KeyOutboundQueueSize) {
		cfg.OutboundQueueSize = parseIntValue(v.GetString(KeyOutboundQueueSize), cfg.OutboundQueueSize)
	}
	if v.IsSet(KeyMaxMessageSize) {
		cfg.MaxMessageSize = parseMaxMessageSize(v.GetString(KeyMaxMessageSize), cfg.MaxMessageSize)
	}
	if v.IsSet(KeyAllowedOrigins) {
		switch origins := v.Get(KeyAllowedOrigins).(type) {
		case string:
			cfg.AllowedOrigins = parseOrigins(origins)
		default:
			cfg.AllowedOrigins = v.GetStringSlice(KeyAllowedOrigins)
		}
	}
	if v.IsSet(KeyRateLimitBurst) {
		cfg.RateLimit.Burst = parseIntValue(v.GetString(KeyRateLimitBurst), cfg.RateLimit.Burst)
	}
	if v.IsSet(KeyRateLimitRefillInterval) {
		cfg.RateLimit.RefillInterval = parseDuration(v.GetString(KeyRateLimitRefillInterval), cfg.RateLimit.RefillInterval)
	}
	if v.IsSet(KeyShutdownTimeout) {
		cfg.ShutdownTimeout = parseDuration(v.GetString(KeyShutdownTimeout), cfg.ShutdownTimeout)
	}

	return &cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
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

// parseDuration accepts Go duration strings ("1500ms") and bare integers,
// which are read as seconds.
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
