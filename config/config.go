// Package config loads environment variables into the typed Config used across the service.
// Defaults let the binary start locally with only BACKEND_BASE_URL and a join source set;
// Validate reports what is still missing before collections can run.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Chat socket
	ChatURL            string        `env:"CHAT_WS_URL" envDefault:"wss://kr-ss1.chat.naver.com/chat"`
	ChatOrigin         string        `env:"CHAT_ORIGIN" envDefault:"https://chzzk.naver.com"`
	CollectWindow      time.Duration `env:"COLLECT_WINDOW" envDefault:"30s"`
	PingInterval       time.Duration `env:"PING_INTERVAL" envDefault:"60s"`
	RecentMessageCount int           `env:"RECENT_MESSAGE_COUNT" envDefault:"50"`

	// Reconnect is off unless RECONNECT_MAX_ATTEMPTS > 0
	ReconnectMaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"0"`
	ReconnectMaxBackoff  time.Duration `env:"RECONNECT_MAX_BACKOFF" envDefault:"10s"`

	// Delivery
	BackendBaseURL  string        `env:"BACKEND_BASE_URL"`
	DeliveryTimeout time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"10s"`

	// Join credential source: the sidecar URL wins over a static payload
	JoinSourceURL string        `env:"JOIN_SOURCE_URL"`
	JoinPayload   string        `env:"JOIN_PAYLOAD"`
	JoinTimeout   time.Duration `env:"JOIN_TIMEOUT" envDefault:"60s"`

	MaxConcurrentSessions int `env:"MAX_CONCURRENT_SESSIONS" envDefault:"4"`
	// finished outcomes kept for GET /sessions/{id}
	RecentOutcomes int `env:"RECENT_OUTCOMES" envDefault:"256"`

	// HTTP trigger
	HTTPAddr         string `env:"HTTP_ADDR" envDefault:":3001"`
	CollectorToken   string `env:"COLLECTOR_TOKEN"`
	RateLimitEnabled bool   `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitPerIP   int    `env:"RATE_LIMIT_REQUESTS_PER_IP" envDefault:"10"`
	RateLimitWindow  int    `env:"RATE_LIMIT_WINDOW_SECONDS" envDefault:"60"`

	// Run history; disabled when DB_DSN is empty
	DBDsn                string        `env:"DB_DSN"`
	RunRetention         time.Duration `env:"RUN_RETENTION" envDefault:"168h"`
	RunRetentionInterval time.Duration `env:"RUN_RETENTION_INTERVAL" envDefault:"6h"`

	// Tracing
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName    string `env:"OTEL_SERVICE_NAME" envDefault:"chat-collector"`
	ServiceVersion string `env:"SERVICE_VERSION" envDefault:"dev"`
}

// Load parses the environment. It fails only on values that do not parse;
// use Validate before starting collections.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Validate checks the values a collection cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.BackendBaseURL == "" {
		errs = append(errs, errors.New("BACKEND_BASE_URL is required"))
	}
	if c.JoinSourceURL == "" && c.JoinPayload == "" {
		errs = append(errs, errors.New("one of JOIN_SOURCE_URL or JOIN_PAYLOAD is required"))
	}
	if c.CollectWindow <= 0 {
		errs = append(errs, fmt.Errorf("COLLECT_WINDOW must be positive, got %s", c.CollectWindow))
	}
	if c.PingInterval <= 0 {
		errs = append(errs, fmt.Errorf("PING_INTERVAL must be positive, got %s", c.PingInterval))
	}
	if c.MaxConcurrentSessions <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_SESSIONS must be positive, got %d", c.MaxConcurrentSessions))
	}
	if c.ReconnectMaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative, got %d", c.ReconnectMaxAttempts))
	}
	return errors.Join(errs...)
}

// HistoryEnabled reports whether collection runs are persisted.
func (c *Config) HistoryEnabled() bool { return c.DBDsn != "" }
