package memory

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSessionIDAliases(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    string
	}{
		{"canonical", map[string]any{"session_id": "s1"}, "s1"},
		{"compact", map[string]any{"sessionid": "s2"}, "s2"},
		{"bare", map[string]any{"session": "s3"}, "s3"},
		{"header style", map[string]any{"X-Session-Id": "s4"}, "s4"},
		{"conversation", map[string]any{"conversation_id": "s5"}, "s5"},
		{"mixed case", map[string]any{"Conversation": "s6"}, "s6"},
		{"numeric coerced", map[string]any{"session_id": float64(42)}, "42"},
		{"nested object", map[string]any{"data": map[string]any{"session_id": "s7"}}, "s7"},
		{"nested array", map[string]any{"items": []any{map[string]any{"conversation_id": "s8"}}}, "s8"},
		{"no alias", map[string]any{"message": "hi", "user_id": "u1"}, ""},
		{"nil value skipped", map[string]any{"session_id": nil}, ""},
		{"empty string skipped", map[string]any{"session_id": ""}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractSessionID(tc.payload))
		})
	}
}

func TestExtractSessionIDFromValues(t *testing.T) {
	assert.Equal(t, "q1", ExtractSessionIDFromValues(url.Values{"session_id": {"q1"}}))
	assert.Equal(t, "q2", ExtractSessionIDFromValues(url.Values{"conversation": {"q2"}}))
	assert.Equal(t, "", ExtractSessionIDFromValues(url.Values{"limit": {"5"}}))
}

func TestExtractSessionIDFromHeader(t *testing.T) {
	h := http.Header{}
	h.Set("X-Session-Id", "h1")
	assert.Equal(t, "h1", ExtractSessionIDFromHeader(h))

	h = http.Header{}
	h.Set("X-Conversation-Id", "h2")
	assert.Equal(t, "h2", ExtractSessionIDFromHeader(h))

	h = http.Header{}
	h.Set("Authorization", "Bearer t")
	assert.Equal(t, "", ExtractSessionIDFromHeader(h))
}
