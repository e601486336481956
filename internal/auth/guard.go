// Package auth implements the bearer-token route guard.
package auth

import (
	"sort"
	"strings"
)

// Guard decides whether a request may proceed based on its path and
// bearer token. Route tokens are matched longest-prefix-first; the
// default token applies when no prefix matches. Exempt paths are always
// allowed. The guard is immutable after construction.
type Guard struct {
	enabled      bool
	defaultToken string
	routeTokens  []prefixToken
	exempt       map[string]bool
}

type prefixToken struct {
	prefix string
	token  string
}

// NewGuard builds a guard. exemptPaths are allowed unauthenticated even
// when the guard is enabled; the health-check path belongs here.
func NewGuard(enabled bool, defaultToken string, routeTokens map[string]string, exemptPaths []string) *Guard {
	g := &Guard{
		enabled:      enabled,
		defaultToken: defaultToken,
		exempt:       make(map[string]bool, len(exemptPaths)),
	}
	for _, p := range exemptPaths {
		g.exempt[normalizePath(p)] = true
	}
	for prefix, token := range routeTokens {
		if token == "" {
			continue
		}
		g.routeTokens = append(g.routeTokens, prefixToken{prefix: normalizePath(prefix), token: token})
	}
	// Longest prefix first so more specific routes win.
	sort.Slice(g.routeTokens, func(i, j int) bool {
		return len(g.routeTokens[i].prefix) > len(g.routeTokens[j].prefix)
	})
	return g
}

// Enabled reports whether the guard is active at all.
func (g *Guard) Enabled() bool { return g.enabled }

// Allow reports whether a request for path carrying authorization (the
// raw Authorization header value) may proceed.
func (g *Guard) Allow(path, authorization string) bool {
	if !g.enabled {
		return true
	}
	cleaned := normalizePath(path)
	if g.exempt[cleaned] {
		return true
	}

	required := g.matchRouteToken(cleaned)
	if required == "" {
		required = g.defaultToken
	}
	if required == "" {
		return true
	}
	return bearerToken(authorization) == required
}

func (g *Guard) matchRouteToken(cleaned string) string {
	for _, rt := range g.routeTokens {
		if rt.prefix == "/" {
			return rt.token
		}
		if cleaned == rt.prefix || strings.HasPrefix(cleaned, rt.prefix+"/") {
			return rt.token
		}
	}
	return ""
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// bearerToken extracts the token from an Authorization header value. A
// bare token without the Bearer scheme is accepted for convenience.
func bearerToken(authorization string) string {
	if authorization == "" {
		return ""
	}
	scheme, token, found := strings.Cut(authorization, " ")
	if !found {
		return scheme
	}
	if strings.EqualFold(scheme, "Bearer") {
		return token
	}
	return ""
}
