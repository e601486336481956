package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardDisabledAllowsEverything(t *testing.T) {
	g := NewGuard(false, "secret", nil, nil)
	assert.True(t, g.Allow("/rpc", ""))
	assert.True(t, g.Allow("/conversations", "Bearer wrong"))
}

func TestGuardDefaultToken(t *testing.T) {
	g := NewGuard(true, "secret", nil, []string{"/healthz"})

	assert.True(t, g.Allow("/rpc", "Bearer secret"))
	assert.True(t, g.Allow("/rpc", "secret"), "bare token accepted")
	assert.True(t, g.Allow("/rpc", "bearer secret"), "scheme is case-insensitive")
	assert.False(t, g.Allow("/rpc", ""))
	assert.False(t, g.Allow("/rpc", "Bearer wrong"))
	assert.False(t, g.Allow("/rpc", "Basic secret"))
}

func TestGuardExemptPaths(t *testing.T) {
	g := NewGuard(true, "secret", nil, []string{"/healthz"})

	assert.True(t, g.Allow("/healthz", ""))
	assert.True(t, g.Allow("/healthz/", ""), "trailing slash normalized")
	assert.False(t, g.Allow("/healthzzz", ""))
}

func TestGuardRouteTokensLongestPrefixWins(t *testing.T) {
	g := NewGuard(true, "default", map[string]string{
		"/conversations":          "convtoken",
		"/conversations/internal": "internaltoken",
	}, nil)

	assert.True(t, g.Allow("/conversations", "Bearer convtoken"))
	assert.True(t, g.Allow("/conversations/s1", "Bearer convtoken"))
	assert.False(t, g.Allow("/conversations/s1", "Bearer internaltoken"))

	assert.True(t, g.Allow("/conversations/internal", "Bearer internaltoken"))
	assert.True(t, g.Allow("/conversations/internal/x", "Bearer internaltoken"))
	assert.False(t, g.Allow("/conversations/internal/x", "Bearer convtoken"))

	// Unmatched paths fall back to the default token.
	assert.True(t, g.Allow("/rpc", "Bearer default"))
	assert.False(t, g.Allow("/rpc", "Bearer convtoken"))
}

func TestGuardPrefixMatchesWholeSegments(t *testing.T) {
	g := NewGuard(true, "", map[string]string{"/conv": "tok"}, nil)

	assert.True(t, g.Allow("/conv", "Bearer tok"))
	assert.True(t, g.Allow("/conv/x", "Bearer tok"))
	// "/conversations" shares the string prefix but not the path segment,
	// and with no default token it passes unguarded.
	assert.True(t, g.Allow("/conversations", ""))
}

func TestGuardRootPrefixCoversAll(t *testing.T) {
	g := NewGuard(true, "", map[string]string{"/": "roottoken"}, nil)

	assert.True(t, g.Allow("/anything", "Bearer roottoken"))
	assert.False(t, g.Allow("/anything", ""))
}

func TestGuardNoTokensConfigured(t *testing.T) {
	g := NewGuard(true, "", nil, nil)
	assert.True(t, g.Allow("/rpc", ""))
}
