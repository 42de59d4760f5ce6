// Package config holds the reporting parameters consumed by launches and the
// settings of the local collector.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	DefaultAddr          = ":8585"
	DefaultMaxUploadSize = 32 * 1024 * 1024
	DefaultTailHistory   = 200
)

// CollectorConfig configures the local collector server
type CollectorConfig struct {
	Addr     string
	LogLevel slog.Level
	// Token is the API key clients present as a Bearer token
	Token              string
	TokenAutoGenerated bool
	// MaxUploadSize bounds the body of one log batch upload
	MaxUploadSize int64
	// TailHistory is the number of past log events replayed to a new subscriber
	TailHistory int
}

// NewCollectorConfig returns defaults overridden by COLLECTOR_* environment variables
func NewCollectorConfig() *CollectorConfig {
	cfg := &CollectorConfig{
		Addr:          DefaultAddr,
		LogLevel:      slog.LevelInfo,
		MaxUploadSize: DefaultMaxUploadSize,
		TailHistory:   DefaultTailHistory,
	}

	if v := os.Getenv("COLLECTOR_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("COLLECTOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = ParseLogLevel(v)
	}
	if v := os.Getenv("COLLECTOR_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("COLLECTOR_MAX_UPLOAD_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil && size > 0 {
			cfg.MaxUploadSize = size
		} else {
			slog.Warn("invalid COLLECTOR_MAX_UPLOAD_SIZE, using default", slog.String("value", v))
		}
	}
	if v := os.Getenv("COLLECTOR_TAIL_HISTORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.TailHistory = n
		} else {
			slog.Warn("invalid COLLECTOR_TAIL_HISTORY, using default", slog.String("value", v))
		}
	}

	return cfg
}

// SetLogLevel parses a level name. Unknown names mean info.
func (c *CollectorConfig) SetLogLevel(level string) {
	c.LogLevel = ParseLogLevel(level)
}

// EnsureToken generates a random token when none was configured
func (c *CollectorConfig) EnsureToken() {
	if c.Token != "" {
		return
	}
	c.Token = generateRandomToken(16)
	c.TokenAutoGenerated = true
}

// ParseLogLevel maps a level name to a slog level, defaulting to info
func ParseLogLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func generateRandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
