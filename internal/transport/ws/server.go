// Package ws serves the RPC engine over persistent WebSocket
// connections, one JSON-RPC message per text frame.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/auth"
	"github.com/ninjacat-ai/mcp-bridge/internal/rpc"
)

const (
	readTimeout    = 120 * time.Second
	writeTimeout   = 10 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 1 << 20
	sendBuffer     = 32
)

// Server upgrades HTTP requests and pumps JSON-RPC frames through the
// engine. Closing a connection cancels only that connection's in-flight
// calls.
type Server struct {
	engine   *rpc.Engine
	guard    *auth.Guard
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a WebSocket binding for the engine.
func NewServer(engine *rpc.Engine, guard *auth.Guard, logger *zap.Logger) *Server {
	return &Server{
		engine: engine,
		guard:  guard,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle performs the upgrade and runs the connection until close.
func (s *Server) Handle(c echo.Context) error {
	req := c.Request()
	if s.guard != nil && !s.guard.Allow(req.URL.Path, req.Header.Get("Authorization")) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	send := make(chan []byte, sendBuffer)
	go s.writePump(ctx, conn, send, cancel)
	s.readPump(ctx, conn, send)
	return nil
}

// readPump reads frames until the connection drops. Each frame is
// dispatched on its own goroutine so a slow handler never blocks the
// next frame; responses are serialized through the send channel.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, send chan<- []byte) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		go func(frame []byte) {
			resp := s.engine.Handle(ctx, frame)
			if resp == nil {
				return
			}
			select {
			case send <- resp:
			case <-ctx.Done():
			}
		}(message)
	}
}

// writePump owns all writes on the connection, including keepalive pings.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, send <-chan []byte, cancel context.CancelFunc) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		cancel()
		conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case message := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
