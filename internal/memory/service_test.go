package memory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/config"
	"github.com/ninjacat-ai/mcp-bridge/internal/domain"
	"github.com/ninjacat-ai/mcp-bridge/internal/store"
	"github.com/ninjacat-ai/mcp-bridge/internal/webhook"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:", 20)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewService(s, nil, zap.NewNop())
}

func TestRecordFullPayload(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	result, err := svc.Record(ctx, RecordRequest{
		Payload: map[string]any{
			"session_id": "s1",
			"message":    "analysis complete",
			"status":     "success",
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, "s1", result.SessionID)
	assert.Equal(t, domain.RoleAssistant, result.Role)
	assert.Equal(t, "analysis complete", result.Message)
	assert.True(t, result.Stored)
	assert.False(t, result.MessageInferred)

	messages, err := svc.Detail(ctx, "s1", 10)
	assert.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, "analysis complete", messages[0].Content)

	var meta map[string]any
	assert.NoError(t, json.Unmarshal(messages[0].Metadata, &meta))
	assert.Equal(t, "success", meta["status"])
}

func TestRecordOnlyMessageSynthesizesSession(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.Record(context.Background(), RecordRequest{Message: "hello"})
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.SessionID, "sess_"))
	assert.Equal(t, "hello", result.Message)

	// The record is retrievable under the synthesized session.
	messages, err := svc.Detail(context.Background(), result.SessionID, 10)
	assert.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, "hello", messages[0].Content)
}

func TestRecordSessionIDFromNestedAlias(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.Record(context.Background(), RecordRequest{
		Payload: map[string]any{
			"message": "done",
			"data":    map[string]any{"conversation_id": "deep1"},
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, "deep1", result.SessionID)
}

func TestRecordInfersMessageFromPayload(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.Record(context.Background(), RecordRequest{
		Payload: map[string]any{"session_id": "s1", "payload_summary": "42 rows updated"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "42 rows updated", result.Message)
	assert.False(t, result.MessageInferred)

	// No textual field at all: the payload itself becomes the message.
	result, err = svc.Record(context.Background(), RecordRequest{
		Payload: map[string]any{"session_id": "s2", "count": float64(3)},
	})
	assert.NoError(t, err)
	assert.True(t, result.MessageInferred)
	assert.Contains(t, result.Message, `"count"`)
}

func TestRecordEmptyPayloadObject(t *testing.T) {
	svc := newTestService(t)

	// Every payload field is optional; an empty object is still recorded.
	result, err := svc.Record(context.Background(), RecordRequest{Payload: map[string]any{}})
	assert.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.SessionID, "sess_"))
	assert.True(t, result.MessageInferred)
	assert.Equal(t, "{}", result.Message)

	// With nothing supplied at all there is no record to make.
	_, err = svc.Record(context.Background(), RecordRequest{})
	assert.Error(t, err)
}

func TestRecordInvalidStatus(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Record(context.Background(), RecordRequest{
		Payload: map[string]any{"session_id": "s1", "message": "hi", "status": "weird"},
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid status")
}

func TestRecordRoleFromPayload(t *testing.T) {
	svc := newTestService(t)

	result, err := svc.Record(context.Background(), RecordRequest{
		Payload: map[string]any{"session_id": "s1", "message": "hi", "role": "user"},
	})
	assert.NoError(t, err)
	assert.Equal(t, domain.RoleUser, result.Role)
}

func TestRecallShape(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(t)

	for _, m := range []struct {
		role    domain.Role
		content string
	}{
		{domain.RoleUser, "question"},
		{domain.RoleAssistant, "answer"},
		{domain.RoleSystem, "note"},
	} {
		_, err := svc.Store().Append(ctx, "s1", m.role, m.content, nil)
		assert.NoError(t, err)
	}

	recall, err := svc.Recall(ctx, "s1", 10)
	assert.NoError(t, err)
	assert.Equal(t, "s1", recall.SessionID)
	assert.Equal(t, 3, recall.MessageCount)
	assert.Equal(t, 10, recall.LimitApplied)
	assert.Equal(t, []string{"question"}, recall.UserMessages)
	assert.Equal(t, []string{"answer"}, recall.AssistantMessages)
	assert.Equal(t, "User: question\nAssistant: answer\nSystem: note", recall.ContextBlock)
}

func TestRecallUnknownSessionIsEmpty(t *testing.T) {
	svc := newTestService(t)

	recall, err := svc.Recall(context.Background(), "nope", 0)
	assert.NoError(t, err)
	assert.Equal(t, 0, recall.MessageCount)
	assert.Equal(t, 20, recall.LimitApplied)
	assert.Empty(t, recall.ContextBlock)
	assert.NotNil(t, recall.UserMessages)
}

func TestDetailUnknownSession(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Detail(context.Background(), "nope", 10)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestRecordAndNotifyForwardsToFrontend(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st, err := store.NewSQLiteStore(":memory:", 20)
	assert.NoError(t, err)
	defer st.Close()

	cfg := &config.Config{
		FrontendWebhookURL:   srv.URL,
		AITimeoutSeconds:     5,
		WebhookMaxAttempts:   3,
		WebhookBackoffBaseMS: 1,
	}
	svc := NewService(st, webhook.NewDispatcher(cfg, zap.NewNop()), zap.NewNop())

	result, err := svc.RecordAndNotify(context.Background(), RecordRequest{
		Payload: map[string]any{"session_id": "s1", "message": "hi"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "s1", gotBody["session_id"])

	callbacks := svc.CallbackMessages()
	assert.Len(t, callbacks, 1)
	assert.Equal(t, result.Payload["message"], callbacks[0]["message"])
}

func TestRecordAndNotifyToleratesFrontendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	st, err := store.NewSQLiteStore(":memory:", 20)
	assert.NoError(t, err)
	defer st.Close()

	cfg := &config.Config{
		FrontendWebhookURL:   srv.URL,
		AITimeoutSeconds:     5,
		WebhookMaxAttempts:   3,
		WebhookBackoffBaseMS: 1,
	}
	svc := NewService(st, webhook.NewDispatcher(cfg, zap.NewNop()), zap.NewNop())

	result, err := svc.RecordAndNotify(context.Background(), RecordRequest{
		Payload: map[string]any{"session_id": "s1", "message": "hi"},
	})
	assert.NoError(t, err)
	assert.True(t, result.Stored)
}

// A chat-completion waiter registered on a session must be handed the
// payload when a record for that session arrives.
func TestRecordAndNotifyCompletesWaiter(t *testing.T) {
	svc := newTestService(t)

	wait, cancel := svc.AwaitResponse("conv-1")
	defer cancel()

	_, err := svc.RecordAndNotify(context.Background(), RecordRequest{
		Payload: map[string]any{"sessionID": "conv-1", "message": "answer"},
	})
	assert.NoError(t, err)

	select {
	case payload := <-wait:
		assert.Equal(t, "answer", payload["message"])
	default:
		t.Fatal("waiter was not completed")
	}
}

// A cancelled waiter must not receive late payloads, and records for
// sessions nobody waits on are still stored.
func TestAwaitResponseCancel(t *testing.T) {
	svc := newTestService(t)

	wait, cancel := svc.AwaitResponse("conv-2")
	cancel()

	result, err := svc.RecordAndNotify(context.Background(), RecordRequest{
		Payload: map[string]any{"sessionID": "conv-2", "message": "late"},
	})
	assert.NoError(t, err)
	assert.True(t, result.Stored)

	select {
	case <-wait:
		t.Fatal("cancelled waiter received a payload")
	default:
	}
}
