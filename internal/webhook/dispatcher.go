// Package webhook sends outbound HTTP requests to configured or ad-hoc
// endpoints with bounded retry.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/config"
)

// SecretHeader carries a target's shared secret on every request to it.
const SecretHeader = "X-Webhook-Secret"

// ErrorKind classifies a dispatch failure.
type ErrorKind string

const (
	// KindUnknownTarget means the target is neither a configured name nor
	// an absolute http(s) URL.
	KindUnknownTarget ErrorKind = "unknown_target"
	// KindUnreachable means every attempt failed before an HTTP response
	// arrived (timeout or connection error).
	KindUnreachable ErrorKind = "unreachable"
	// KindBackendError means the endpoint answered with a terminal HTTP
	// error status.
	KindBackendError ErrorKind = "backend_error"
)

// Error is a terminal dispatch failure. Attempts counts every request
// made, including the one that produced LastStatus.
type Error struct {
	Kind       ErrorKind
	Target     string
	Attempts   int
	LastStatus int
	LastBody   string
	cause      error
}

func (e *Error) Error() string {
	if e.LastStatus > 0 {
		return fmt.Sprintf("webhook %s: %s after %d attempt(s): status %d %s",
			e.Target, e.Kind, e.Attempts, e.LastStatus, e.LastBody)
	}
	if e.cause != nil {
		return fmt.Sprintf("webhook %s: %s after %d attempt(s): %v", e.Target, e.Kind, e.Attempts, e.cause)
	}
	return fmt.Sprintf("webhook %s: %s", e.Target, e.Kind)
}

func (e *Error) Unwrap() error { return e.cause }

// Delivery is a successful webhook response.
type Delivery struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Headers    http.Header     `json:"-"`
}

// Dispatcher builds and sends outbound webhook requests. It holds no
// mutable state; every call is independent.
type Dispatcher struct {
	targets     map[string]config.WebhookTarget
	client      *http.Client
	aiURL       string
	aiAPIKey    string
	frontendURL string
	maxAttempts int
	backoffBase time.Duration
	logger      *zap.Logger
}

// NewDispatcher creates a dispatcher from the loaded configuration.
func NewDispatcher(cfg *config.Config, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		targets:     cfg.ExtraWebhooks,
		client:      &http.Client{Timeout: cfg.AITimeout()},
		aiURL:       cfg.AIWebhookURL,
		aiAPIKey:    cfg.AIAPIKey,
		frontendURL: cfg.FrontendWebhookURL,
		maxAttempts: cfg.WebhookMaxAttempts,
		backoffBase: cfg.WebhookBackoffBase(),
		logger:      logger,
	}
}

// Targets returns the static named-target table.
func (d *Dispatcher) Targets() map[string]config.WebhookTarget {
	return d.targets
}

// HasFrontend reports whether a frontend notification webhook is
// configured.
func (d *Dispatcher) HasFrontend() bool { return d.frontendURL != "" }

// Send resolves target (configured name first, then literal URL), merges
// headers, and posts payload with the retry policy applied.
func (d *Dispatcher) Send(ctx context.Context, target string, payload any, method string, extraHeaders map[string]string) (*Delivery, error) {
	url := target
	headers := map[string]string{"Content-Type": "application/json"}

	if cfg, ok := d.targets[target]; ok {
		url = cfg.URL
		if method == "" {
			method = cfg.Method
		}
		// Keys are canonicalized so a caller's "x-api-key" reliably
		// overrides a configured "X-Api-Key" instead of racing it.
		for k, v := range cfg.Headers {
			headers[http.CanonicalHeaderKey(k)] = v
		}
		if cfg.Secret != "" {
			headers[SecretHeader] = cfg.Secret
		}
	} else if !config.IsHTTPURL(target) {
		return nil, &Error{Kind: KindUnknownTarget, Target: target}
	}
	if method == "" {
		method = http.MethodPost
	}
	for k, v := range extraHeaders {
		headers[http.CanonicalHeaderKey(k)] = v
	}

	return d.do(ctx, target, strings.ToUpper(method), url, headers, payload)
}

// SendAI posts a payload to the primary AI webhook.
func (d *Dispatcher) SendAI(ctx context.Context, payload any) (*Delivery, error) {
	if d.aiURL == "" {
		return nil, &Error{Kind: KindUnknownTarget, Target: "ai"}
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if d.aiAPIKey != "" {
		headers["Authorization"] = "Bearer " + d.aiAPIKey
	}
	return d.do(ctx, "ai", http.MethodPost, d.aiURL, headers, payload)
}

// NotifyFrontend posts a record to the frontend webhook. Single attempt;
// callers treat failures as best-effort.
func (d *Dispatcher) NotifyFrontend(ctx context.Context, payload any) error {
	if d.frontendURL == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal frontend payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.frontendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build frontend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("frontend webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("frontend webhook returned %d: %s", resp.StatusCode, string(text))
	}
	return nil
}

func (d *Dispatcher) do(ctx context.Context, target, method, url string, headers map[string]string, payload any) (*Delivery, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var lastStatus int
	var lastBody string
	var lastErr error

	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			lastStatus, lastBody = 0, ""
			d.logger.Warn("webhook attempt failed",
				zap.String("target", target), zap.Int("attempt", attempt), zap.Error(err))
			if attempt < d.maxAttempts && d.wait(ctx, attempt) {
				continue
			}
			return nil, &Error{Kind: KindUnreachable, Target: target, Attempts: attempt, cause: lastErr}
		}

		text, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < d.maxAttempts && d.wait(ctx, attempt) {
				continue
			}
			return nil, &Error{Kind: KindUnreachable, Target: target, Attempts: attempt, cause: readErr}
		}

		// 5xx is transient; 4xx signals a payload problem and is terminal.
		if resp.StatusCode >= 500 {
			lastStatus, lastBody = resp.StatusCode, string(text)
			d.logger.Warn("webhook returned server error",
				zap.String("target", target), zap.Int("attempt", attempt), zap.Int("status", resp.StatusCode))
			if attempt < d.maxAttempts && d.wait(ctx, attempt) {
				continue
			}
			return nil, &Error{Kind: KindBackendError, Target: target, Attempts: attempt, LastStatus: lastStatus, LastBody: lastBody}
		}
		if resp.StatusCode >= 400 {
			return nil, &Error{Kind: KindBackendError, Target: target, Attempts: attempt, LastStatus: resp.StatusCode, LastBody: string(text)}
		}

		return &Delivery{
			StatusCode: resp.StatusCode,
			Body:       normalizeBody(resp, text),
			Headers:    resp.Header,
		}, nil
	}

	// Unreachable: the loop always returns from its final attempt.
	return nil, &Error{Kind: KindUnreachable, Target: target, Attempts: d.maxAttempts, LastStatus: lastStatus, LastBody: lastBody, cause: lastErr}
}

// wait sleeps for the exponential backoff delay of the given attempt.
// It returns false if the context was cancelled while waiting.
func (d *Dispatcher) wait(ctx context.Context, attempt int) bool {
	delay := d.backoffBase << (attempt - 1)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// normalizeBody returns the raw body for JSON responses and wraps
// anything else so callers always receive a JSON value.
func normalizeBody(resp *http.Response, text []byte) json.RawMessage {
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") && json.Valid(text) {
		return json.RawMessage(text)
	}
	wrapped, _ := json.Marshal(map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(text),
	})
	return wrapped
}
