// Package api exposes the bridge over HTTP: the JSON-RPC endpoint, the
// session REST surface, and the legacy callback.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/auth"
	"github.com/ninjacat-ai/mcp-bridge/internal/config"
	"github.com/ninjacat-ai/mcp-bridge/internal/domain"
	"github.com/ninjacat-ai/mcp-bridge/internal/memory"
	"github.com/ninjacat-ai/mcp-bridge/internal/rpc"
	"github.com/ninjacat-ai/mcp-bridge/internal/store"
	"github.com/ninjacat-ai/mcp-bridge/internal/transport/ws"
	"github.com/ninjacat-ai/mcp-bridge/internal/webhook"
)

// Handler handles HTTP requests.
type Handler struct {
	engine     *rpc.Engine
	svc        *memory.Service
	dispatcher *webhook.Dispatcher
	guard      *auth.Guard
	wsrv       *ws.Server
	cfg        *config.Config
	logger     *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *rpc.Engine, svc *memory.Service, dispatcher *webhook.Dispatcher, guard *auth.Guard, wsrv *ws.Server, cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, svc: svc, dispatcher: dispatcher, guard: guard, wsrv: wsrv, cfg: cfg, logger: logger}
}

// NewServer builds the echo server with middleware and routes installed.
func (h *Handler) NewServer() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(h.authMiddleware)

	h.RegisterRoutes(e)
	return e
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Index)
	e.GET("/healthz", h.Health)
	e.POST("/rpc", h.RPC)
	e.GET("/mcp", h.wsrv.Handle)

	e.GET("/conversations", h.ListConversations)
	e.GET("/conversations/:session_id", h.ConversationDetail)
	e.DELETE("/conversations/:session_id", h.DeleteConversation)
	e.GET("/memory/recall", h.RecallMemory)
	e.POST("/memory/recall", h.RecallMemory)

	e.POST("/callback", h.Callback)

	e.GET("/v1/models", h.Models)
	e.POST("/v1/chat/completions", h.ChatCompletions)
	e.POST("/mcp/openai/v1/chat/completions", h.ChatCompletions)
	e.GET("/mcp/openapi.json", h.OpenAPISchema)
}

func (h *Handler) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.guard != nil && !h.guard.Allow(c.Request().URL.Path, c.Request().Header.Get("Authorization")) {
			c.Response().Header().Set("WWW-Authenticate", "Bearer")
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		}
		return next(c)
	}
}

// Index describes the service.
func (h *Handler) Index(c echo.Context) error {
	return c.String(http.StatusOK, "MCP webhook bridge. JSON-RPC at POST /rpc, WebSocket at /mcp.")
}

// Health returns health status. Always unauthenticated.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RPC serves one JSON-RPC request per POST body. Transport-level success
// is always HTTP 200; JSON-RPC errors travel inside the body.
func (h *Handler) RPC(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	resp := h.engine.Handle(c.Request().Context(), body)
	if resp == nil {
		// Notification: acknowledged, nothing to say.
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSONBlob(http.StatusOK, resp)
}

// ListConversations returns stored session summaries.
// GET /conversations?limit=
func (h *Handler) ListConversations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	sessions, err := h.svc.ListSessions(c.Request().Context(), limit)
	if err != nil {
		return h.storeError(c, err)
	}
	if sessions == nil {
		sessions = []domain.SessionSummary{}
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// ConversationDetail returns one session's messages.
// GET /conversations/:session_id?limit=
func (h *Handler) ConversationDetail(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	messages, err := h.svc.Detail(c.Request().Context(), sessionID, limit)
	if err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Session not found"})
		}
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"session_id": sessionID, "messages": messages})
}

// DeleteConversation removes a session.
// DELETE /conversations/:session_id
func (h *Handler) DeleteConversation(c echo.Context) error {
	sessionID := c.Param("session_id")
	deleted, err := h.svc.Delete(c.Request().Context(), sessionID)
	if err != nil {
		return h.storeError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":     "deleted",
		"session_id": sessionID,
		"deleted":    deleted,
	})
}

// RecallMemory serves the context-recall surface. The session identifier
// may arrive under any accepted alias in the body, query, or headers; a
// request without one gets a connectivity probe answer instead of an
// error.
func (h *Handler) RecallMemory(c echo.Context) error {
	req := c.Request()

	var payload map[string]any
	if req.Method == http.MethodPost {
		body, err := readBody(c)
		if err == nil && len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				h.logger.Warn("recall body is not a JSON object", zap.Error(err))
				payload = nil
			}
		}
	}

	sessionID := ""
	if payload != nil {
		sessionID = memory.ExtractSessionID(payload)
	}
	if sessionID == "" {
		sessionID = memory.ExtractSessionIDFromValues(c.QueryParams())
	}
	if sessionID == "" {
		sessionID = memory.ExtractSessionIDFromHeader(req.Header)
	}

	if sessionID == "" {
		h.logger.Info("recall probe without session id")
		return c.JSON(http.StatusOK, map[string]any{
			"status":              "healthy",
			"requires_session_id": true,
			"message":             "Provide a session identifier via body, query, or headers.",
		})
	}

	limit := recallLimit(payload, c)
	recall, err := h.svc.Recall(req.Context(), sessionID, limit)
	if err != nil {
		return h.storeError(c, err)
	}
	h.logger.Info("recall served",
		zap.String("session_id", sessionID),
		zap.Int("message_count", recall.MessageCount),
		zap.Int("limit_applied", recall.LimitApplied))
	return c.JSON(http.StatusOK, recall)
}

// Callback is the legacy entry point for AI follow-up messages. It routes
// into the same record-response path as the send_user_response tool. An
// empty JSON object is valid: every field is optional and only status is
// validated when present.
func (h *Handler) Callback(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil || data == nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
	}

	result, err := h.svc.RecordAndNotify(c.Request().Context(), memory.RecordRequest{Payload: data})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return h.storeError(c, err)
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	h.logger.Info("callback recorded", zap.String("session_id", result.SessionID))
	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

func (h *Handler) storeError(c echo.Context, err error) error {
	h.logger.Error("store error", zap.Error(err))
	if errors.Is(err, store.ErrUnavailable) {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "transcript store unavailable"})
	}
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
