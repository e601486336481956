package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	assert.NoError(t, err)

	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "conversation_history.db", cfg.ConversationDBPath)
	assert.Equal(t, 20, cfg.ConversationHistoryLimit)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, time.Hour, cfg.SweepInterval)
	assert.Equal(t, 3, cfg.WebhookMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.AITimeout())
	assert.Equal(t, 300*time.Second, cfg.ChatTimeout())
	assert.Equal(t, time.Second, cfg.WebhookBackoffBase())
	assert.True(t, cfg.SweepEnabled())
	assert.False(t, cfg.AuthEnabled)
	assert.Empty(t, cfg.ExtraWebhooks)
}

func TestLoadExtraWebhooks(t *testing.T) {
	t.Setenv("EXTRA_WEBHOOKS", `{"crm":{"url":"https://crm.example.com/hook","headers":{"X-Api-Key":"k"},"secret":"s"}}`)

	cfg, err := Load()
	assert.NoError(t, err)

	target := cfg.ExtraWebhooks["crm"]
	assert.Equal(t, "https://crm.example.com/hook", target.URL)
	assert.Equal(t, "POST", target.Method, "method defaults to POST")
	assert.Equal(t, "k", target.Headers["X-Api-Key"])
	assert.Equal(t, "s", target.Secret)
}

func TestLoadRejectsBadWebhookURL(t *testing.T) {
	t.Setenv("EXTRA_WEBHOOKS", `{"bad":{"url":"not-a-url"}}`)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsMalformedWebhookJSON(t *testing.T) {
	t.Setenv("EXTRA_WEBHOOKS", `{broken`)
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadAIWebhookURL(t *testing.T) {
	t.Setenv("AI_WEBHOOK_URL", "ftp://nope")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadHistoryLimitBounds(t *testing.T) {
	t.Setenv("CONVERSATION_HISTORY_LIMIT", "0")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("CONVERSATION_HISTORY_LIMIT", "201")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("CONVERSATION_HISTORY_LIMIT", "200")
	cfg, err := Load()
	assert.NoError(t, err)
	assert.Equal(t, 200, cfg.ConversationHistoryLimit)
}

func TestRetentionSemantics(t *testing.T) {
	t.Setenv("RETENTION_DAYS", "-1")
	cfg, err := Load()
	assert.NoError(t, err)
	assert.False(t, cfg.SweepEnabled())

	t.Setenv("RETENTION_DAYS", "0")
	cfg, err = Load()
	assert.NoError(t, err)
	assert.True(t, cfg.SweepEnabled(), "zero retention still sweeps")
	assert.Equal(t, time.Duration(0), cfg.Retention())
}

func TestLoadAuthRouteTokens(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("AUTH_TOKEN", "default")
	t.Setenv("AUTH_ROUTE_TOKENS", `{"/conversations":"conv"}`)

	cfg, err := Load()
	assert.NoError(t, err)
	assert.True(t, cfg.AuthEnabled)
	assert.Equal(t, "conv", cfg.AuthRouteTokens["/conversations"])
}

func TestIsHTTPURL(t *testing.T) {
	assert.True(t, IsHTTPURL("http://example.com"))
	assert.True(t, IsHTTPURL("https://example.com/path"))
	assert.False(t, IsHTTPURL("example.com"))
	assert.False(t, IsHTTPURL("ftp://example.com"))
	assert.False(t, IsHTTPURL("https://"))
	assert.False(t, IsHTTPURL(""))
}
