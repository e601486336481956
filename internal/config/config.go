// Package config loads the immutable bridge configuration from the
// environment.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v10"
)

// WebhookTarget is a named outbound endpoint tools can invoke.
type WebhookTarget struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Secret  string            `json:"secret"`
}

// Config holds every setting the bridge reads. It is loaded once in main
// and passed explicitly to constructors; nothing reads the environment
// after start.
type Config struct {
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	AIWebhookURL     string  `env:"AI_WEBHOOK_URL"`
	AIAPIKey         string  `env:"AI_API_KEY"`
	AITimeoutSeconds float64 `env:"AI_TIMEOUT" envDefault:"30"`

	ExtraWebhooksJSON  string `env:"EXTRA_WEBHOOKS"`
	FrontendWebhookURL string `env:"FRONTEND_WEBHOOK_URL"`
	ModelName          string `env:"MODEL_NAME" envDefault:"external-ai"`

	ChatTimeoutSeconds float64 `env:"CHAT_COMPLETION_TIMEOUT" envDefault:"300"`

	ConversationDBPath       string `env:"CONVERSATION_DB_PATH" envDefault:"conversation_history.db"`
	ConversationHistoryLimit int    `env:"CONVERSATION_HISTORY_LIMIT" envDefault:"20"`

	RetentionDays int           `env:"RETENTION_DAYS" envDefault:"30"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`

	WebhookMaxAttempts   int `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"3"`
	WebhookBackoffBaseMS int `env:"WEBHOOK_BACKOFF_BASE_MS" envDefault:"1000"`

	AuthEnabled         bool   `env:"AUTH_ENABLED" envDefault:"false"`
	AuthToken           string `env:"AUTH_TOKEN"`
	AuthRouteTokensJSON string `env:"AUTH_ROUTE_TOKENS"`

	// Parsed from the *_JSON fields above.
	ExtraWebhooks   map[string]WebhookTarget `env:"-"`
	AuthRouteTokens map[string]string        `env:"-"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.parseJSONFields(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseJSONFields() error {
	c.ExtraWebhooks = map[string]WebhookTarget{}
	if c.ExtraWebhooksJSON != "" {
		if err := json.Unmarshal([]byte(c.ExtraWebhooksJSON), &c.ExtraWebhooks); err != nil {
			return fmt.Errorf("EXTRA_WEBHOOKS must be a JSON object: %w", err)
		}
	}
	for name, target := range c.ExtraWebhooks {
		if !IsHTTPURL(target.URL) {
			return fmt.Errorf("webhook %q: url %q is not an absolute http(s) URL", name, target.URL)
		}
		if target.Method == "" {
			target.Method = "POST"
			c.ExtraWebhooks[name] = target
		}
	}

	c.AuthRouteTokens = map[string]string{}
	if c.AuthRouteTokensJSON != "" {
		if err := json.Unmarshal([]byte(c.AuthRouteTokensJSON), &c.AuthRouteTokens); err != nil {
			return fmt.Errorf("AUTH_ROUTE_TOKENS must be a JSON object: %w", err)
		}
	}
	return nil
}

func (c *Config) validate() error {
	if c.AIWebhookURL != "" && !IsHTTPURL(c.AIWebhookURL) {
		return fmt.Errorf("AI_WEBHOOK_URL %q is not an absolute http(s) URL", c.AIWebhookURL)
	}
	if c.FrontendWebhookURL != "" && !IsHTTPURL(c.FrontendWebhookURL) {
		return fmt.Errorf("FRONTEND_WEBHOOK_URL %q is not an absolute http(s) URL", c.FrontendWebhookURL)
	}
	if c.AITimeoutSeconds <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be greater than zero")
	}
	if c.ChatTimeoutSeconds <= 0 {
		return fmt.Errorf("CHAT_COMPLETION_TIMEOUT must be greater than zero")
	}
	if c.ConversationHistoryLimit <= 0 || c.ConversationHistoryLimit > 200 {
		return fmt.Errorf("CONVERSATION_HISTORY_LIMIT must be in 1..200, got %d", c.ConversationHistoryLimit)
	}
	if c.WebhookMaxAttempts <= 0 {
		return fmt.Errorf("WEBHOOK_MAX_ATTEMPTS must be greater than zero")
	}
	return nil
}

// AITimeout returns the per-attempt webhook timeout.
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSeconds * float64(time.Second))
}

// ChatTimeout returns how long a chat-completion request waits for the
// asynchronous callback before answering with a gateway timeout.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.ChatTimeoutSeconds * float64(time.Second))
}

// WebhookBackoffBase returns the base delay for retry backoff.
func (c *Config) WebhookBackoffBase() time.Duration {
	return time.Duration(c.WebhookBackoffBaseMS) * time.Millisecond
}

// Retention returns the message retention window. A negative RETENTION_DAYS
// disables the sweep; zero means "expire everything older than now".
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// SweepEnabled reports whether the background retention sweep should run.
func (c *Config) SweepEnabled() bool {
	return c.RetentionDays >= 0
}

// IsHTTPURL reports whether raw parses as an absolute http or https URL.
func IsHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
