// Package stdio runs the RPC engine over newline-delimited JSON on
// standard input/output.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/ninjacat-ai/mcp-bridge/internal/rpc"
)

// maxLineSize bounds a single JSON-RPC message on the stream.
const maxLineSize = 1 << 20

// Transport frames one JSON object per line in each direction. Responses
// are written in dispatch order; EOF ends the loop cleanly.
type Transport struct {
	engine *rpc.Engine
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// New creates a stdio transport over the given streams.
func New(engine *rpc.Engine, in io.Reader, out io.Writer, logger *zap.Logger) *Transport {
	return &Transport{engine: engine, in: in, out: out, logger: logger}
}

// Run reads requests until EOF or context cancellation. Each line is one
// request; each response is one line.
func (t *Transport) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(t.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		resp := t.engine.Handle(ctx, line)
		if resp == nil {
			continue
		}
		if _, err := t.out.Write(append(resp, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	t.logger.Info("stdio transport closed")
	return nil
}
