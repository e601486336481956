package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/config"
	"github.com/ninjacat-ai/mcp-bridge/internal/domain"
	"github.com/ninjacat-ai/mcp-bridge/internal/memory"
	"github.com/ninjacat-ai/mcp-bridge/internal/webhook"
)

// Bridge wires the tool handlers to the transcript store and the webhook
// dispatcher.
type Bridge struct {
	svc        *memory.Service
	dispatcher *webhook.Dispatcher
	cfg        *config.Config
	logger     *zap.Logger
}

// NewBridge builds the handler set.
func NewBridge(svc *memory.Service, dispatcher *webhook.Dispatcher, cfg *config.Config, logger *zap.Logger) *Bridge {
	return &Bridge{svc: svc, dispatcher: dispatcher, cfg: cfg, logger: logger}
}

// RegisterAll installs every bridge tool and resource into the registry.
func (b *Bridge) RegisterAll(reg *Registry) {
	reg.MustRegister(Tool{
		Name:        "start_ai_message",
		Description: "Send a prompt to the in-house AI webhook and return its response.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string", "description": "Prompt text to send to the AI backend"},
				"conversation_id": {"type": ["string", "null"], "description": "Session whose stored history is prepended as context"},
				"metadata": {"type": ["object", "null"], "description": "Opaque metadata forwarded with the prompt"},
				"attachments": {"type": ["array", "null"], "items": {"type": "object"}},
				"extra": {"type": ["object", "null"], "description": "Extra fields merged into the outbound payload"}
			},
			"required": ["prompt"]
		}`),
		Handler: b.startAIMessage,
	})

	reg.MustRegister(Tool{
		Name:        "trigger_webhook",
		Description: "Invoke a configured webhook (or absolute URL) with the supplied payload.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"target": {"type": "string", "description": "Configured webhook name or an absolute http(s) URL"},
				"payload": {"type": ["object", "null"]},
				"method": {"type": ["string", "null"]},
				"headers": {"type": ["object", "null"], "additionalProperties": {"type": "string"}}
			},
			"required": ["target"]
		}`),
		Handler: b.triggerWebhook,
	})

	reg.MustRegister(Tool{
		Name:        "call_ai_and_webhook",
		Description: "Send the AI prompt, then optionally dispatch a follow-up webhook with the result.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"prompt": {"type": "string"},
				"conversation_id": {"type": ["string", "null"]},
				"webhook_target": {"type": ["string", "null"]},
				"webhook_payload": {"type": ["object", "null"]}
			},
			"required": ["prompt"]
		}`),
		Handler: b.callAIAndWebhook,
	})

	reg.MustRegister(Tool{
		Name:        "send_user_response",
		Description: "Record a response into conversation memory and forward it to the frontend webhook if one is configured.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": ["string", "null"], "description": "Session to record the response in"},
				"message": {"type": ["string", "null"], "description": "Response message content"},
				"payload": {"type": ["object", "null"], "description": "Additional payload data"},
				"role": {"type": ["string", "null"], "description": "Message role, defaults to assistant"},
				"status": {"type": ["string", "null"], "description": "One of info, success, error, complete"}
			}
		}`),
		Handler: b.sendUserResponse,
	})

	reg.MustRegister(Tool{
		Name:        "list_conversations",
		Description: "Return the most recently updated sessions stored in the transcript database.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"limit": {"type": ["integer", "null"], "description": "Maximum number of sessions to return"}
			}
		}`),
		Handler: b.listConversations,
	})

	reg.MustRegister(Tool{
		Name:        "get_conversation",
		Description: "Dump role/content/metadata for a session.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"limit": {"type": ["integer", "null"]}
			},
			"required": ["session_id"]
		}`),
		Handler: b.getConversation,
	})

	reg.MustRegister(Tool{
		Name:        "recall_conversation_context",
		Description: "Return a context block plus separated user/assistant turns for a session.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"},
				"limit": {"type": ["integer", "null"]}
			},
			"required": ["session_id"]
		}`),
		Handler: b.recallConversationContext,
	})

	reg.MustRegister(Tool{
		Name:        "delete_conversation",
		Description: "Remove a stored session and all of its messages.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"session_id": {"type": "string"}
			},
			"required": ["session_id"]
		}`),
		Handler: b.deleteConversation,
	})

	b.registerResources(reg)
}

func (b *Bridge) registerResources(reg *Registry) {
	reg.MustRegisterResource(Resource{
		URI:         "bridge://webhooks",
		Name:        "Configured Webhooks",
		Description: "Named webhook targets available to trigger_webhook, secrets redacted.",
		MimeType:    "application/json",
		Reader: func(ctx context.Context) (string, error) {
			summary := map[string]any{}
			for name, target := range b.dispatcher.Targets() {
				summary[name] = map[string]any{
					"url":        target.URL,
					"method":     target.Method,
					"headers":    target.Headers,
					"has_secret": target.Secret != "",
				}
			}
			return marshalIndent(summary)
		},
	})

	reg.MustRegisterResource(Resource{
		URI:         "bridge://messages",
		Name:        "Callback Messages",
		Description: "Follow-up messages recorded via send_user_response or the callback endpoint.",
		MimeType:    "application/json",
		Reader: func(ctx context.Context) (string, error) {
			return marshalIndent(b.svc.CallbackMessages())
		},
	})

	reg.MustRegisterResource(Resource{
		URI:         "memory://sessions",
		Name:        "Conversation Sessions",
		Description: "List of all stored conversation sessions.",
		MimeType:    "application/json",
		Reader: func(ctx context.Context) (string, error) {
			sessions, err := b.svc.ListSessions(ctx, 0)
			if err != nil {
				return "", err
			}
			if sessions == nil {
				sessions = []domain.SessionSummary{}
			}
			return marshalIndent(map[string]any{"sessions": sessions})
		},
	})

	reg.MustRegisterResource(Resource{
		URI:         "memory://health",
		Name:        "Memory Service Health",
		Description: "Health status of the transcript store.",
		MimeType:    "application/json",
		Reader: func(ctx context.Context) (string, error) {
			return marshalIndent(map[string]any{
				"status":             "ok",
				"conversation_limit": b.svc.Store().HistoryLimit(),
			})
		},
	})
}

type startAIArgs struct {
	Prompt         string            `json:"prompt"`
	ConversationID string            `json:"conversation_id"`
	Metadata       json.RawMessage   `json:"metadata"`
	Attachments    []json.RawMessage `json:"attachments"`
	Extra          map[string]any    `json:"extra"`
}

func (b *Bridge) startAIMessage(ctx context.Context, args json.RawMessage) (any, error) {
	var in startAIArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return b.dispatchPrompt(ctx, in)
}

// dispatchPrompt builds the outbound AI payload, prepending stored
// conversation context when the session is known.
func (b *Bridge) dispatchPrompt(ctx context.Context, in startAIArgs) (*webhook.Delivery, error) {
	if in.Prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	payload := map[string]any{"prompt": in.Prompt}
	if b.cfg.ModelName != "" {
		payload["model"] = b.cfg.ModelName
	}
	if in.ConversationID != "" {
		payload["conversation_id"] = in.ConversationID
		block, err := b.svc.ContextBlock(ctx, in.ConversationID, 0)
		if err != nil {
			return nil, err
		}
		if block != "" {
			payload["context"] = block
		}
	}
	if len(in.Metadata) > 0 {
		payload["metadata"] = in.Metadata
	}
	if len(in.Attachments) > 0 {
		payload["attachments"] = in.Attachments
	}
	for k, v := range in.Extra {
		payload[k] = v
	}

	b.logger.Debug("dispatching AI prompt", zap.String("conversation_id", in.ConversationID))
	return b.dispatcher.SendAI(ctx, payload)
}

type triggerWebhookArgs struct {
	Target  string            `json:"target"`
	Payload map[string]any    `json:"payload"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
}

func (b *Bridge) triggerWebhook(ctx context.Context, args json.RawMessage) (any, error) {
	var in triggerWebhookArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.Target == "" {
		return nil, fmt.Errorf("target is required")
	}
	if in.Payload == nil {
		in.Payload = map[string]any{}
	}
	return b.dispatcher.Send(ctx, in.Target, in.Payload, in.Method, in.Headers)
}

type callAIAndWebhookArgs struct {
	Prompt         string         `json:"prompt"`
	ConversationID string         `json:"conversation_id"`
	WebhookTarget  string         `json:"webhook_target"`
	WebhookPayload map[string]any `json:"webhook_payload"`
}

func (b *Bridge) callAIAndWebhook(ctx context.Context, args json.RawMessage) (any, error) {
	var in callAIAndWebhookArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	// If the AI step fails the webhook is skipped and the failure
	// surfaces as-is.
	aiResponse, err := b.dispatchPrompt(ctx, startAIArgs{Prompt: in.Prompt, ConversationID: in.ConversationID})
	if err != nil {
		return nil, err
	}

	result := map[string]any{"ai_response": aiResponse}
	if in.WebhookTarget == "" {
		return result, nil
	}

	followUp := in.WebhookPayload
	if followUp == nil {
		followUp = map[string]any{"ai_response": aiResponse}
	}
	delivery, err := b.dispatcher.Send(ctx, in.WebhookTarget, followUp, "", nil)
	if err != nil {
		// The AI call already completed; report both so the caller keeps
		// the finished work.
		result["webhook_error"] = err.Error()
		return result, nil
	}
	result["webhook_response"] = delivery
	return result, nil
}

type sendUserResponseArgs struct {
	SessionID string         `json:"session_id"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
	Role      string         `json:"role"`
	Status    string         `json:"status"`
}

func (b *Bridge) sendUserResponse(ctx context.Context, args json.RawMessage) (any, error) {
	var in sendUserResponseArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	return b.svc.RecordAndNotify(ctx, memory.RecordRequest{
		SessionID: in.SessionID,
		Message:   in.Message,
		Payload:   in.Payload,
		Role:      domain.Role(in.Role),
		Status:    in.Status,
	})
}

type sessionArgs struct {
	SessionID string `json:"session_id"`
	Limit     int    `json:"limit"`
}

func (b *Bridge) listConversations(ctx context.Context, args json.RawMessage) (any, error) {
	var in sessionArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}
	sessions, err := b.svc.ListSessions(ctx, in.Limit)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	return map[string]any{"sessions": sessions}, nil
}

func (b *Bridge) getConversation(ctx context.Context, args json.RawMessage) (any, error) {
	var in sessionArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	messages, err := b.svc.Detail(ctx, in.SessionID, in.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"session_id": in.SessionID, "messages": messages}, nil
}

func (b *Bridge) recallConversationContext(ctx context.Context, args json.RawMessage) (any, error) {
	var in sessionArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	return b.svc.Recall(ctx, in.SessionID, in.Limit)
}

func (b *Bridge) deleteConversation(ctx context.Context, args json.RawMessage) (any, error) {
	var in sessionArgs
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if in.SessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	deleted, err := b.svc.Delete(ctx, in.SessionID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "deleted", "session_id": in.SessionID, "deleted": deleted}, nil
}

func marshalIndent(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
