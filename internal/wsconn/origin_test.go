package wsconn

import (
	"net/http"
	"testing"
)

func TestNormalizeHTTPSOrigin(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://example.com", "https://example.com", true},
		{"HTTPS://Example.COM", "https://example.com", true},
		{"http://example.com", "", false},
		{"example.com", "", false},
		{"https://example.com/path", "", false},
		{"https://example.com?q=1", "", false},
		{"https://user@example.com", "", false},
		{"", "", false},
	}

	for _, c := range cases {
		got, ok := normalizeHTTPSOrigin(c.in)
		if ok != c.ok || got != c.want {
			t.Errorf("normalizeHTTPSOrigin(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestOriginCheckerAllowsConfiguredOrigin(t *testing.T) {
	checker := newOriginChecker([]string{"https://app.example.com"})

	req, _ := http.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	if !checker.check(req) {
		t.Error("expected configured origin to be allowed")
	}

	req.Header.Set("Origin", "https://evil.example.com")
	if checker.check(req) {
		t.Error("expected unconfigured origin to be rejected")
	}
}

func TestOriginCheckerRejectsWhenEmpty(t *testing.T) {
	checker := newOriginChecker(nil)
	req, _ := http.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://app.example.com")
	if checker.check(req) {
		t.Error("expected empty allowlist to reject every origin")
	}
}

func TestOriginCheckerUpdatesLive(t *testing.T) {
	checker := newOriginChecker([]string{"https://a.example.com"})
	checker.set([]string{"https://b.example.com"})

	req, _ := http.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://a.example.com")
	if checker.check(req) {
		t.Error("expected old origin to be rejected after set")
	}
	req.Header.Set("Origin", "https://b.example.com")
	if !checker.check(req) {
		t.Error("expected new origin to be allowed after set")
	}
}
