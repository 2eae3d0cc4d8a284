package wsconn

import (
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// originChecker validates the upgrade handshake's Origin header against a
// configurable allowlist of full https origins (§6 frontend_origin),
// grounded on the teacher's checkOrigin/normalizeHTTPSOrigin pair in
// internal/handler/ws.go.
type originChecker struct {
	allowed atomic.Value // []string
	mu      sync.Mutex
}

func newOriginChecker(allowed []string) *originChecker {
	c := &originChecker{}
	c.set(allowed)
	return c
}

func (c *originChecker) set(allowed []string) {
	normalized := make([]string, 0, len(allowed))
	for _, a := range allowed {
		if n, ok := normalizeHTTPSOrigin(a); ok {
			normalized = append(normalized, n)
		}
	}
	c.allowed.Store(normalized)
}

func (c *originChecker) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	allowed, _ := c.allowed.Load().([]string)
	if len(allowed) == 0 || origin == "" {
		return false
	}

	normalizedOrigin, ok := normalizeHTTPSOrigin(origin)
	if !ok {
		return false
	}

	for _, a := range allowed {
		if strings.EqualFold(a, normalizedOrigin) {
			return true
		}
	}
	return false
}

func normalizeHTTPSOrigin(origin string) (string, bool) {
	origin = strings.TrimSpace(origin)
	const scheme = "https://"
	if !strings.HasPrefix(strings.ToLower(origin), scheme) {
		return "", false
	}
	rest := origin[len(scheme):]
	if rest == "" || strings.ContainsAny(rest, "/?#@") {
		return "", false
	}
	return "https://" + strings.ToLower(rest), true
}
