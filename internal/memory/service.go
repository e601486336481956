// Package memory holds the conversation-history business logic shared by
// the MCP tools, the session REST surface, and the legacy callback.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/domain"
	"github.com/ninjacat-ai/mcp-bridge/internal/store"
	"github.com/ninjacat-ai/mcp-bridge/internal/webhook"
)

// ErrSessionNotFound is returned when a caller references a session with
// no stored messages.
var ErrSessionNotFound = errors.New("session not found")

// AllowedStatuses are the only values accepted in a record's status field,
// when one is present at all.
var AllowedStatuses = map[string]bool{
	"info":     true,
	"success":  true,
	"error":    true,
	"complete": true,
}

const callbackBuffer = 100

// Service exposes transcript operations with the bridge's defaulting and
// validation rules applied.
type Service struct {
	store      *store.SQLiteStore
	dispatcher *webhook.Dispatcher
	logger     *zap.Logger

	mu        sync.Mutex
	callbacks []map[string]any

	pending *pendingResponses
}

// NewService creates the memory service.
func NewService(s *store.SQLiteStore, d *webhook.Dispatcher, logger *zap.Logger) *Service {
	return &Service{store: s, dispatcher: d, logger: logger, pending: newPendingResponses()}
}

// AwaitResponse registers a waiter for the next record that arrives for
// sessionID. The returned cancel func must be called if the caller stops
// waiting.
func (s *Service) AwaitResponse(sessionID string) (<-chan map[string]any, func()) {
	ch := s.pending.register(sessionID)
	return ch, func() { s.pending.cancel(sessionID) }
}

// Store returns the underlying transcript store.
func (s *Service) Store() *store.SQLiteStore { return s.store }

// ListSessions returns session summaries, most recently updated first.
func (s *Service) ListSessions(ctx context.Context, limit int) ([]domain.SessionSummary, error) {
	return s.store.ListSessions(ctx, limit)
}

// Detail returns a session's messages, oldest first. A session with no
// stored messages is reported as not found.
func (s *Service) Detail(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	messages, err := s.store.Recent(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return messages, nil
}

// Delete removes a session and reports whether anything was deleted.
func (s *Service) Delete(ctx context.Context, sessionID string) (bool, error) {
	return s.store.Delete(ctx, sessionID)
}

// Recall assembles the context-recall payload: messages, per-role splits,
// and the rendered context block. Unknown sessions yield an empty recall,
// not an error.
func (s *Service) Recall(ctx context.Context, sessionID string, limit int) (*domain.Recall, error) {
	if limit <= 0 {
		limit = s.store.HistoryLimit()
	}
	messages, err := s.store.Recent(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}

	recall := &domain.Recall{
		SessionID:         sessionID,
		Messages:          messages,
		UserMessages:      []string{},
		AssistantMessages: []string{},
		ContextBlock:      store.FormatContextBlock(messages),
		MessageCount:      len(messages),
		LimitApplied:      limit,
	}
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleUser:
			recall.UserMessages = append(recall.UserMessages, msg.Content)
		case domain.RoleAssistant:
			recall.AssistantMessages = append(recall.AssistantMessages, msg.Content)
		}
	}
	return recall, nil
}

// ContextBlock renders a session's recent history for prompt injection.
func (s *Service) ContextBlock(ctx context.Context, sessionID string, limit int) (string, error) {
	return s.store.ContextBlock(ctx, sessionID, limit)
}

// RecordRequest carries a response to persist. All fields are optional,
// but at least one of SessionID, Message, or Payload must be set.
type RecordRequest struct {
	SessionID string
	Message   string
	Payload   map[string]any
	Role      domain.Role
	Status    string
}

// RecordResult describes a persisted response.
type RecordResult struct {
	SessionID       string         `json:"session_id"`
	Role            domain.Role    `json:"role"`
	Message         string         `json:"message"`
	Status          string         `json:"status,omitempty"`
	Stored          bool           `json:"stored"`
	MessageInferred bool           `json:"message_inferred"`
	Payload         map[string]any `json:"payload"`
}

// Record persists an assistant response (or any role) into the
// transcript. The session id may arrive directly or under any alias
// inside the payload; when absent entirely, a fresh session is created so
// the record is never dropped.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	// An empty payload object is still a payload: every field is optional
	// and the record must not be dropped.
	if req.SessionID == "" && req.Message == "" && req.Payload == nil {
		return nil, fmt.Errorf("at least one of session_id, message, or payload is required")
	}

	payload := map[string]any{}
	for k, v := range req.Payload {
		payload[k] = v
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = ExtractSessionID(payload)
	}
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}

	status := req.Status
	if status == "" {
		if v, ok := payload["status"].(string); ok {
			status = v
		}
	}
	if status != "" {
		if !AllowedStatuses[status] {
			return nil, fmt.Errorf("invalid status %q, expected one of %v", status, allowedStatusList())
		}
		if _, ok := payload["status"]; !ok {
			payload["status"] = status
		}
	}

	role := req.Role
	if role == "" {
		if v, ok := payload["role"].(string); ok && v != "" {
			role = domain.Role(v)
		} else {
			role = domain.RoleAssistant
		}
	}

	message := req.Message
	inferred := false
	if message == "" {
		for _, key := range []string{"message", "payload_summary", "content"} {
			if v, ok := payload[key].(string); ok && v != "" {
				message = v
				break
			}
		}
	}
	if message == "" {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("serialize payload: %w", err)
		}
		message = string(raw)
		inferred = true
	}

	setIfAbsent(payload, "sessionID", sessionID)
	setIfAbsent(payload, "session_id", sessionID)
	setIfAbsent(payload, "role", string(role))
	setIfAbsent(payload, "message", message)

	metadata, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize metadata: %w", err)
	}
	if _, err := s.store.Append(ctx, sessionID, role, message, metadata); err != nil {
		return nil, err
	}

	return &RecordResult{
		SessionID:       sessionID,
		Role:            role,
		Message:         message,
		Status:          status,
		Stored:          true,
		MessageInferred: inferred,
		Payload:         payload,
	}, nil
}

// RecordAndNotify persists the record, remembers it for the callback
// resource, and forwards it to the frontend webhook. Notification failure
// never fails the call.
func (s *Service) RecordAndNotify(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	result, err := s.Record(ctx, req)
	if err != nil {
		return nil, err
	}

	s.rememberCallback(result.Payload)
	s.pending.complete(result.SessionID, result.Payload)

	if s.dispatcher != nil && s.dispatcher.HasFrontend() {
		if err := s.dispatcher.NotifyFrontend(ctx, result.Payload); err != nil {
			s.logger.Warn("frontend notification failed",
				zap.String("session_id", result.SessionID), zap.Error(err))
		}
	}
	return result, nil
}

func (s *Service) rememberCallback(payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, payload)
	if len(s.callbacks) > callbackBuffer {
		s.callbacks = s.callbacks[len(s.callbacks)-callbackBuffer:]
	}
}

// CallbackMessages returns the recently recorded callback payloads.
func (s *Service) CallbackMessages() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]map[string]any, len(s.callbacks))
	copy(out, s.callbacks)
	return out
}

func setIfAbsent(m map[string]any, key string, value any) {
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

func allowedStatusList() []string {
	list := make([]string, 0, len(AllowedStatuses))
	for s := range AllowedStatuses {
		list = append(list, s)
	}
	sort.Strings(list)
	return list
}
