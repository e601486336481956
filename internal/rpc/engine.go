// Package rpc implements the transport-agnostic JSON-RPC 2.0 dispatch
// engine shared by the stdio, WebSocket, and HTTP bindings.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/tools"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// ProtocolVersion is the MCP revision the bridge speaks.
const ProtocolVersion = "2024-11-05"

// ServerName and ServerVersion identify the bridge in initialize results.
const (
	ServerName    = "mcp-webhook-bridge"
	ServerVersion = "0.1.0"
)

// Request is one incoming JSON-RPC message.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is one outgoing JSON-RPC message. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is a structured JSON-RPC error.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Engine validates, dispatches, and serializes JSON-RPC requests. It
// holds no per-call state; transports share one instance.
type Engine struct {
	registry *tools.Registry
	logger   *zap.Logger
}

// NewEngine creates the dispatch engine over a populated registry.
func NewEngine(registry *tools.Registry, logger *zap.Logger) *Engine {
	return &Engine{registry: registry, logger: logger}
}

// Handle processes one raw JSON-RPC message and returns the serialized
// response. A nil return means the message was a notification and no
// response should be written.
func (e *Engine) Handle(ctx context.Context, raw []byte) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return marshal(errorResponse(nil, CodeInvalidRequest, "batch requests are not supported"))
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return marshal(errorResponse(nil, CodeParseError, "parse error"))
	}

	// A message without an id is a notification: run the method for its
	// side effects but never write a response.
	if len(req.ID) == 0 || bytes.Equal(req.ID, []byte("null")) {
		if req.JSONRPC == "2.0" && req.Method != "" {
			e.logger.Debug("handling notification", zap.String("method", req.Method))
			e.dispatch(ctx, &req)
		}
		return nil
	}

	if req.JSONRPC != "2.0" {
		return marshal(errorResponse(req.ID, CodeInvalidRequest, `jsonrpc must be "2.0"`))
	}
	if req.Method == "" {
		return marshal(errorResponse(req.ID, CodeInvalidRequest, "method is required"))
	}

	return marshal(e.dispatch(ctx, &req))
}

func (e *Engine) dispatch(ctx context.Context, req *Request) (resp *Response) {
	// A handler must never take the process down; a panic is reported as
	// an internal error on this request only.
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("rpc handler panicked",
				zap.String("method", req.Method), zap.Any("panic", r))
			resp = errorResponse(req.ID, CodeInternalError, "internal error")
		}
	}()

	switch req.Method {
	case "initialize":
		return result(req.ID, map[string]any{
			"protocolVersion": ProtocolVersion,
			"capabilities": map[string]any{
				"tools":     map[string]any{"listChanged": false},
				"resources": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{
				"name":    ServerName,
				"version": ServerVersion,
			},
		})
	case "ping":
		return result(req.ID, map[string]any{})
	case "tools/list":
		return result(req.ID, map[string]any{"tools": e.registry.Tools()})
	case "tools/call":
		return e.callTool(ctx, req)
	case "resources/list":
		return result(req.ID, map[string]any{"resources": e.registry.Resources()})
	case "resources/read":
		return e.readResource(ctx, req)
	default:
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (e *Engine) callTool(ctx context.Context, req *Request) *Response {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "params must include a tool name")
	}

	tool, ok := e.registry.Lookup(params.Name)
	if !ok {
		return errorResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("unknown tool: %s", params.Name))
	}

	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	out, err := tool.Handler(ctx, args)
	if err != nil {
		// Tool-level failure: the protocol call itself succeeded.
		e.logger.Warn("tool call failed", zap.String("tool", params.Name), zap.Error(err))
		return result(req.ID, toolResult(err.Error(), true))
	}

	text, err := json.Marshal(out)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, "failed to serialize tool result")
	}
	return result(req.ID, toolResult(string(text), false))
}

type readParams struct {
	URI string `json:"uri"`
}

func (e *Engine) readResource(ctx context.Context, req *Request) *Response {
	var params readParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.URI == "" {
		return errorResponse(req.ID, CodeInvalidParams, "params must include a uri")
	}

	if !e.registry.Has(params.URI) {
		resp := errorResponse(req.ID, CodeInvalidParams, fmt.Sprintf("resource not found: %s", params.URI))
		resp.Error.Data = map[string]any{"kind": "resource_not_found", "uri": params.URI}
		return resp
	}

	res, content, err := e.registry.Read(ctx, params.URI)
	if err != nil {
		return errorResponse(req.ID, CodeInternalError, err.Error())
	}
	return result(req.ID, map[string]any{
		"contents": []map[string]any{{
			"uri":      res.URI,
			"mimeType": res.MimeType,
			"text":     content,
		}},
	})
}

// toolResult wraps handler output in the MCP content shape. isError marks
// a tool failure as distinct from a protocol error.
func toolResult(text string, isError bool) map[string]any {
	return map[string]any{
		"content": []map[string]any{{"type": "text", "text": text}},
		"isError": isError,
	}
}

func result(id json.RawMessage, v any) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: v}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &Response{JSONRPC: "2.0", ID: id, Error: &ErrorObject{Code: code, Message: message}}
}

func marshal(resp *Response) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		// Result serialization already happened; only an unmarshalable
		// error payload could land here.
		fallback := Response{JSONRPC: "2.0", ID: resp.ID, Error: &ErrorObject{Code: CodeInternalError, Message: "internal error"}}
		raw, _ = json.Marshal(fallback)
	}
	return raw
}
