package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// chatNotice is appended to every bridged prompt so the AI backend knows
// the answer must come back through its webhook tool, not inline.
const chatNotice = " **NOTICE: this is an automated message, this message has been sent using a webhook. please respond using your webhook tool**"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// Models lists the single model the bridge fronts, in OpenAI list shape.
// GET /v1/models
func (h *Handler) Models(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       h.cfg.ModelName,
			"object":   "model",
			"created":  1640995200,
			"owned_by": h.cfg.ModelName,
		}},
	})
}

// ChatCompletions bridges a synchronous OpenAI-style chat request onto
// the asynchronous webhook flow: the last user message is forwarded to
// the AI backend under a fresh conversation id, and the handler blocks
// until the backend posts that id back through /callback or the wait
// times out. Streaming is not supported; the stream flag is ignored.
// POST /v1/chat/completions
func (h *Handler) ChatCompletions(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
	}
	var in chatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
	}
	if len(in.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No messages"})
	}

	prompt := ""
	for i := len(in.Messages) - 1; i >= 0; i-- {
		if in.Messages[i].Role == "user" {
			prompt = in.Messages[i].Content
			break
		}
	}
	if prompt == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "No user message"})
	}
	prompt += chatNotice

	conversationID := uuid.New().String()
	wait, cancel := h.svc.AwaitResponse(conversationID)
	defer cancel()

	ctx := c.Request().Context()
	if _, err := h.dispatcher.SendAI(ctx, map[string]any{
		"prompt":    prompt,
		"sessionID": conversationID,
	}); err != nil {
		h.logger.Error("chat completion dispatch failed",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]any{
			"error": map[string]any{"message": err.Error(), "type": "upstream_error"},
		})
	}

	timer := time.NewTimer(h.cfg.ChatTimeout())
	defer timer.Stop()
	select {
	case payload := <-wait:
		content, _ := payload["message"].(string)
		h.logger.Info("chat completion resolved",
			zap.String("conversation_id", conversationID))
		return c.JSON(http.StatusOK, chatCompletion(conversationID, h.cfg.ModelName, prompt, content))
	case <-timer.C:
		h.logger.Warn("chat completion timed out",
			zap.String("conversation_id", conversationID))
		return c.JSON(http.StatusGatewayTimeout, map[string]any{
			"error": map[string]any{
				"message": "Backend did not respond within timeout period. Please try again.",
				"type":    "timeout",
			},
		})
	case <-ctx.Done():
		return ctx.Err()
	}
}

func chatCompletion(conversationID, model, prompt, content string) map[string]any {
	promptTokens := len(strings.Fields(prompt))
	completionTokens := len(strings.Fields(content))
	return map[string]any{
		"id":      "chatcmpl-" + conversationID,
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index": 0,
			"message": map[string]any{
				"role":    "assistant",
				"content": content,
			},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
			"total_tokens":      promptTokens + completionTokens,
		},
	}
}

// OpenAPISchema describes the OpenAI-compatible surface for clients that
// discover endpoints from a schema.
// GET /mcp/openapi.json
func (h *Handler) OpenAPISchema(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, []byte(openAPISchema))
}

const openAPISchema = `{
  "openapi": "3.0.0",
  "info": {
    "title": "MCP Webhook Bridge",
    "version": "0.1.0",
    "description": "OpenAI-compatible chat surface bridged to webhook-driven AI backends."
  },
  "paths": {
    "/v1/models": {
      "get": {
        "summary": "List available models",
        "responses": {"200": {"description": "Model list"}}
      }
    },
    "/v1/chat/completions": {
      "post": {
        "summary": "Create a chat completion",
        "requestBody": {
          "required": true,
          "content": {
            "application/json": {
              "schema": {
                "type": "object",
                "required": ["messages"],
                "properties": {
                  "model": {"type": "string"},
                  "messages": {
                    "type": "array",
                    "items": {
                      "type": "object",
                      "properties": {
                        "role": {"type": "string"},
                        "content": {"type": "string"}
                      }
                    }
                  },
                  "stream": {"type": "boolean"}
                }
              }
            }
          }
        },
        "responses": {
          "200": {"description": "Chat completion"},
          "400": {"description": "No usable message in the request"},
          "504": {"description": "Backend did not respond in time"}
        }
      }
    }
  }
}`
