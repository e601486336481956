package api

import (
	"io"
	"strconv"

	"github.com/labstack/echo/v4"
)

const maxBodySize = 1 << 20

func readBody(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize))
}

// recallLimit resolves the history window from the body or query,
// accepting both limit and history_limit spellings.
func recallLimit(payload map[string]any, c echo.Context) int {
	if payload != nil {
		for _, key := range []string{"limit", "history_limit"} {
			switch v := payload[key].(type) {
			case float64:
				return int(v)
			case string:
				if n, err := strconv.Atoi(v); err == nil {
					return n
				}
			}
		}
	}
	for _, key := range []string{"limit", "history_limit"} {
		if raw := c.QueryParam(key); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				return n
			}
		}
	}
	return 0
}
