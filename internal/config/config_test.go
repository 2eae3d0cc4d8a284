package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	v := NewViper()
	v.Set("frontend_origin", "https://example.com")
	v.Set("jwt_signing_secret", "shh")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.OpLogWindow != 100 {
		t.Errorf("OpLogWindow = %d, want 100", cfg.OpLogWindow)
	}
	if len(cfg.FrontendOrigins) != 1 || cfg.FrontendOrigins[0] != "https://example.com" {
		t.Errorf("FrontendOrigins = %v", cfg.FrontendOrigins)
	}
}

func TestLoadMissingFrontendOrigin(t *testing.T) {
	v := NewViper()
	v.Set("jwt_signing_secret", "shh")

	if _, err := Load(v); err == nil {
		t.Fatal("expected error for missing frontend_origin")
	}
}

func TestSplitOrigins(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{"", nil},
		{"https://a.com", []string{"https://a.com"}},
		{"https://a.com, https://b.com", []string{"https://a.com", "https://b.com"}},
		{" , ", nil},
	}

	for _, c := range cases {
		got := splitOrigins(c.raw)
		if len(got) != len(c.want) {
			t.Errorf("splitOrigins(%q) = %v, want %v", c.raw, got, c.want)
			continue
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Errorf("splitOrigins(%q)[%d] = %q, want %q", c.raw, i, got[i], c.want[i])
			}
		}
	}
}

func TestValidateRejectsNonPositiveWindows(t *testing.T) {
	v := NewViper()
	v.Set("frontend_origin", "https://example.com")
	v.Set("op_log_window", 0)

	if _, err := Load(v); err == nil {
		t.Fatal("expected error for non-positive op_log_window")
	}
}
