// Package config loads the service configuration from a JSON file with
// environment overrides. Precedence is defaults, then file, then
// environment, so secrets never need to live on disk.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is the prefix for all environment overrides.
const EnvPrefix = "SWOOPIN"

// Config is the complete service configuration.
type Config struct {
	Service ServiceConfig `json:"service"`
	HTTP    HTTPConfig    `json:"http"`
	NATS    NATSConfig    `json:"nats"`
	Webhook WebhookConfig `json:"webhook"`
	YouTube YouTubeConfig `json:"youtube"`
	AI      AIConfig      `json:"ai"`
	Metrics MetricsConfig `json:"metrics"`
	Workers WorkerConfig  `json:"workers"`
}

// ServiceConfig identifies the deployment.
type ServiceConfig struct {
	Name        string `json:"name"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// HTTPConfig configures the API and webhook listener.
type HTTPConfig struct {
	Addr      string `json:"addr"`
	APIPrefix string `json:"api_prefix"`
}

// NATSConfig configures the NATS connection. An empty URL disables NATS
// entirely and the service runs on in-memory stores, processing webhooks
// inline.
type NATSConfig struct {
	URL           string        `json:"url,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// Enabled reports whether a NATS connection is configured.
func (n NATSConfig) Enabled() bool { return n.URL != "" }

// WebhookConfig holds provider webhook credentials. AppSecret signs
// delivery payloads; NextAppSecret is accepted during secret rotation.
type WebhookConfig struct {
	VerifyToken   string `json:"verify_token,omitempty"`
	AppSecret     string `json:"app_secret,omitempty"`
	NextAppSecret string `json:"next_app_secret,omitempty"`
}

// YouTubeConfig configures the comment poller. Polling is disabled when
// the client credentials are empty.
type YouTubeConfig struct {
	ClientID     string        `json:"client_id,omitempty"`
	ClientSecret string        `json:"client_secret,omitempty"`
	PollInterval time.Duration `json:"poll_interval,omitempty"`
	MaxResults   int           `json:"max_results,omitempty"`
}

// Enabled reports whether the poller should run.
func (y YouTubeConfig) Enabled() bool { return y.ClientID != "" && y.ClientSecret != "" }

// AIConfig holds the platform AI key. Integrations may carry their own
// key, which takes precedence per account.
type AIConfig struct {
	APIKey string `json:"api_key,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty"`
	Path string `json:"path,omitempty"`
}

// WorkerConfig sizes the event consumer pool.
type WorkerConfig struct {
	Count      int           `json:"count,omitempty"`
	QueueSize  int           `json:"queue_size,omitempty"`
	JobTimeout time.Duration `json:"job_timeout,omitempty"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{Name: "swoopin", Environment: "dev"},
		HTTP:    HTTPConfig{Addr: ":8080", APIPrefix: "/api/v1/"},
		NATS: NATSConfig{
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		YouTube: YouTubeConfig{
			PollInterval: 60 * time.Second,
			MaxResults:   50,
		},
		Metrics: MetricsConfig{Addr: ":9090", Path: "/metrics"},
		Workers: WorkerConfig{Count: 8, QueueSize: 256, JobTimeout: 30 * time.Second},
	}
}

// Load reads the configuration file at path, if any, and applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		raw := withParsedDurations(data)
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.Webhook.VerifyToken != "" && c.Webhook.AppSecret == "" {
		return fmt.Errorf("webhook.app_secret is required when webhook.verify_token is set")
	}
	if c.YouTube.Enabled() && c.YouTube.PollInterval < time.Second {
		return fmt.Errorf("youtube.poll_interval must be at least 1s")
	}
	if c.Workers.Count < 0 || c.Workers.QueueSize < 0 {
		return fmt.Errorf("workers.count and workers.queue_size must not be negative")
	}
	return nil
}

// String renders the config as JSON with secrets redacted, for startup
// logging.
func (c *Config) String() string {
	clone := *c
	clone.NATS.Token = redact(clone.NATS.Token)
	clone.Webhook.AppSecret = redact(clone.Webhook.AppSecret)
	clone.Webhook.NextAppSecret = redact(clone.Webhook.NextAppSecret)
	clone.YouTube.ClientSecret = redact(clone.YouTube.ClientSecret)
	clone.AI.APIKey = redact(clone.AI.APIKey)
	data, err := json.MarshalIndent(&clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("config marshal error: %v", err)
	}
	return string(data)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Service.Environment, "ENVIRONMENT")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Token, "NATS_TOKEN")
	setString(&cfg.Webhook.VerifyToken, "WEBHOOK_VERIFY_TOKEN")
	setString(&cfg.Webhook.AppSecret, "WEBHOOK_APP_SECRET")
	setString(&cfg.Webhook.NextAppSecret, "WEBHOOK_NEXT_APP_SECRET")
	setString(&cfg.YouTube.ClientID, "YOUTUBE_CLIENT_ID")
	setString(&cfg.YouTube.ClientSecret, "YOUTUBE_CLIENT_SECRET")
	setDuration(&cfg.YouTube.PollInterval, "YOUTUBE_POLL_INTERVAL")
	setString(&cfg.AI.APIKey, "AI_API_KEY")
	setString(&cfg.Metrics.Addr, "METRICS_ADDR")
	setInt(&cfg.Workers.Count, "WORKER_COUNT")
}

func setString(dst *string, suffix string) {
	if val := os.Getenv(EnvPrefix + "_" + suffix); val != "" {
		*dst = val
	}
}

func setInt(dst *int, suffix string) {
	if val := os.Getenv(EnvPrefix + "_" + suffix); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, suffix string) {
	if val := os.Getenv(EnvPrefix + "_" + suffix); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

// withParsedDurations rewrites duration strings like "30s" into
// nanosecond numbers so time.Duration fields unmarshal from readable
// JSON.
func withParsedDurations(data []byte) []byte {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return data
	}
	convertDurations(raw)
	converted, err := json.Marshal(raw)
	if err != nil {
		return data
	}
	return converted
}

var durationKeys = map[string]bool{
	"reconnect_wait": true,
	"poll_interval":  true,
	"job_timeout":    true,
}

func convertDurations(m map[string]any) {
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			convertDurations(val)
		case string:
			if !durationKeys[k] {
				continue
			}
			if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
				m[k] = int64(d)
			}
		}
	}
}
