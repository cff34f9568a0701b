// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN shared by all control-plane instances.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// TokenSecret is the HMAC signing secret shared with the identity-system plugin.
	// Token issuance and verification refuse to start without it.
	TokenSecret string `mapstructure:"TOKEN_SECRET"`
	// TokenIssuer is the issuer recorded in token claims (e.g. "lab-identity").
	TokenIssuer string `mapstructure:"TOKEN_ISSUER"`
	// TokenValidity is the token validity window (e.g. "5m").
	TokenValidity string `mapstructure:"TOKEN_VALIDITY"`

	// MaxSessionsPerStudent caps concurrent non-terminal sessions per user.
	MaxSessionsPerStudent int `mapstructure:"MAX_SESSIONS_PER_STUDENT"`
	// SessionTTL is the hard session lifetime (e.g. "4h"); the sweeper reclaims past it.
	SessionTTL string `mapstructure:"SESSION_TTL"`
	// IdleWarning is the inactivity span after which a warning is surfaced (e.g. "10m").
	IdleWarning string `mapstructure:"IDLE_WARNING"`
	// IdleLimit is the inactivity span after which a session without focus mode is terminated.
	IdleLimit string `mapstructure:"IDLE_LIMIT"`
	// SweepInterval is the period of the sweeper's TTL/idle/pool passes.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// PoolAssignWait bounds how long an assign waits for scale-out before reporting exhaustion.
	PoolAssignWait string `mapstructure:"POOL_ASSIGN_WAIT"`
	// PoolProbeInterval is how often an assign re-probes for a warm instance while waiting.
	PoolProbeInterval string `mapstructure:"POOL_PROBE_INTERVAL"`

	// UpstreamTimeout applies to each gateway and compute call.
	UpstreamTimeout string `mapstructure:"UPSTREAM_TIMEOUT"`

	// GatewayURL is the remote-desktop gateway API base URL.
	GatewayURL string `mapstructure:"GATEWAY_URL"`
	// GatewayAPIKey and GatewayAPISecret sign the per-request gateway auth token.
	GatewayAPIKey    string `mapstructure:"GATEWAY_API_KEY"`
	GatewayAPISecret string `mapstructure:"GATEWAY_API_SECRET"`

	// AWSRegion is used by the compute-group adapter; empty falls back to the SDK default chain.
	AWSRegion string `mapstructure:"AWS_REGION"`

	// CORSOrigins is a comma-separated allow-list for browser clients.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// OTLPEndpoint enables trace export when set (e.g. http://localhost:4317).
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext OTLP export regardless of endpoint scheme.
	OTLPInsecure bool `mapstructure:"OTLP_INSECURE"`

	// Events (optional). When Kafka brokers are set, the orchestrator emits
	// session lifecycle events to Kafka and cmd/worker ships them to Loki.
	// EventsKafkaBrokers is a comma-separated list of broker addresses.
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic for session events.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for cmd/worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where cmd/worker pushes session events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("TOKEN_SECRET", "")
	v.SetDefault("TOKEN_ISSUER", "lab-identity")
	v.SetDefault("TOKEN_VALIDITY", "5m")
	v.SetDefault("MAX_SESSIONS_PER_STUDENT", 1)
	v.SetDefault("SESSION_TTL", "4h")
	v.SetDefault("IDLE_WARNING", "10m")
	v.SetDefault("IDLE_LIMIT", "20m")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("POOL_ASSIGN_WAIT", "30s")
	v.SetDefault("POOL_PROBE_INTERVAL", "2s")
	v.SetDefault("UPSTREAM_TIMEOUT", "10s")
	v.SetDefault("GATEWAY_URL", "")
	v.SetDefault("GATEWAY_API_KEY", "")
	v.SetDefault("GATEWAY_API_SECRET", "")
	v.SetDefault("AWS_REGION", "")
	v.SetDefault("CORS_ORIGINS", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "lab-session-events")
	v.SetDefault("KAFKA_GROUP_ID", "lab-events-worker")
	v.SetDefault("LOKI_URL", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.MaxSessionsPerStudent < 1 {
		return nil, errors.New("config: MAX_SESSIONS_PER_STUDENT must be at least 1")
	}

	return &cfg, nil
}

// TokenValidityWindow parses TokenValidity. Returns 5m if unset or invalid.
func (c *Config) TokenValidityWindow() time.Duration {
	return durationOr(c.TokenValidity, 5*time.Minute)
}

// SessionLifetime parses SessionTTL. Returns 4h if unset or invalid.
func (c *Config) SessionLifetime() time.Duration {
	return durationOr(c.SessionTTL, 4*time.Hour)
}

// IdleWarningAfter parses IdleWarning. Returns 10m if unset or invalid.
func (c *Config) IdleWarningAfter() time.Duration {
	return durationOr(c.IdleWarning, 10*time.Minute)
}

// IdleLimitAfter parses IdleLimit. Returns 20m if unset or invalid.
func (c *Config) IdleLimitAfter() time.Duration {
	return durationOr(c.IdleLimit, 20*time.Minute)
}

// SweepEvery parses SweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return durationOr(c.SweepInterval, time.Minute)
}

// AssignWait parses PoolAssignWait. Returns 30s if unset or invalid.
func (c *Config) AssignWait() time.Duration {
	return durationOr(c.PoolAssignWait, 30*time.Second)
}

// ProbeEvery parses PoolProbeInterval. Returns 2s if unset or invalid.
func (c *Config) ProbeEvery() time.Duration {
	return durationOr(c.PoolProbeInterval, 2*time.Second)
}

// UpstreamCallTimeout parses UpstreamTimeout. Returns 10s if unset or invalid.
func (c *Config) UpstreamCallTimeout() time.Duration {
	return durationOr(c.UpstreamTimeout, 10*time.Second)
}

// CORSOriginList returns the allowed CORS origins from the comma-separated config.
func (c *Config) CORSOriginList() []string {
	return splitList(c.CORSOrigins)
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event emission is enabled (non-empty list) and to create the producer.
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.EventsKafkaBrokers)
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
