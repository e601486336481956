package memory

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// sessionKeyAliases are the field names under which callers may supply a
// session identifier.
var sessionKeyAliases = map[string]bool{
	"session_id":        true,
	"sessionid":         true,
	"session":           true,
	"x_session_id":      true,
	"x_session":         true,
	"conversation_id":   true,
	"conversationid":    true,
	"conversation":      true,
	"x_conversation_id": true,
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(key), "-", "_")
}

// ExtractSessionID finds a session identifier anywhere in a decoded JSON
// payload, searching alias keys and recursing into nested objects and
// arrays.
func ExtractSessionID(source map[string]any) string {
	for key, value := range source {
		if value == nil {
			continue
		}
		if sessionKeyAliases[normalizeKey(key)] {
			if candidate := coerceSessionValue(value); candidate != "" {
				return candidate
			}
		}
		if nested := extractFromValue(value); nested != "" {
			return nested
		}
	}
	return ""
}

func extractFromValue(value any) string {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if nested := extractFromValue(item); nested != "" {
				return nested
			}
		}
	case map[string]any:
		return ExtractSessionID(v)
	}
	return ""
}

func coerceSessionValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		for _, item := range v {
			if s := coerceSessionValue(item); s != "" {
				return s
			}
		}
	case map[string]any:
		return ExtractSessionID(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
	return ""
}

// ExtractSessionIDFromValues checks query parameters for an alias key.
func ExtractSessionIDFromValues(values url.Values) string {
	for key, vals := range values {
		if sessionKeyAliases[normalizeKey(key)] {
			for _, v := range vals {
				if v != "" {
					return v
				}
			}
		}
	}
	return ""
}

// ExtractSessionIDFromHeader checks request headers for an alias key.
func ExtractSessionIDFromHeader(header http.Header) string {
	for key, vals := range header {
		if sessionKeyAliases[normalizeKey(key)] {
			for _, v := range vals {
				if v != "" {
					return v
				}
			}
		}
	}
	return ""
}
