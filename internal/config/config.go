// Package config loads the §6 recognized options via viper, the same
// SetDefault/AutomaticEnv/validate shape as the retrieval pack's gravity
// backend config, combined with the teacher's fail-fast-on-invalid-config
// style from cmd/server/main.go.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "COLLAB"

// Config captures the process-wide runtime configuration (§6).
type Config struct {
	ListenAddr         string
	DurableStoreURL    string
	EphemeralStoreURL  string
	FrontendOrigins    []string
	IdleTimeout        time.Duration
	StoreRetryAttempts int
	OpLogWindow        int
	PresenceTTL        time.Duration
	OpLogTTL           time.Duration
	ChatRingSize       int
	ChatRingTTL        time.Duration
	JWTSigningSecret   string
	TrustedProxies     []string
}

// NewViper returns a viper instance with §6 defaults and COLLAB_-prefixed
// env bindings configured, but not yet validated.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults sets every §6 recognized option's documented default.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("durable_store_url", "collab.db")
	v.SetDefault("ephemeral_store_url", "redis://127.0.0.1:6379/0")
	v.SetDefault("frontend_origin", "")
	v.SetDefault("idle_timeout_seconds", 60)
	v.SetDefault("store_retry_attempts", 3)
	v.SetDefault("op_log_window", 100)
	v.SetDefault("presence_ttl_seconds", 3600)
	v.SetDefault("op_log_ttl_seconds", 300)
	v.SetDefault("chat_ring_size", 100)
	v.SetDefault("chat_ring_ttl_seconds", 86400)
	v.SetDefault("jwt_signing_secret", "")
	v.SetDefault("trusted_proxies", "")
}

// Load reads and validates configuration from v, failing fast on anything
// §6 requires but that is missing or malformed, the same posture as the
// teacher's main.go log.Fatal-on-missing-env checks.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		ListenAddr:         v.GetString("listen_addr"),
		DurableStoreURL:    v.GetString("durable_store_url"),
		EphemeralStoreURL:  v.GetString("ephemeral_store_url"),
		FrontendOrigins:    splitOrigins(v.GetString("frontend_origin")),
		IdleTimeout:        time.Duration(v.GetInt("idle_timeout_seconds")) * time.Second,
		StoreRetryAttempts: v.GetInt("store_retry_attempts"),
		OpLogWindow:        v.GetInt("op_log_window"),
		PresenceTTL:        time.Duration(v.GetInt("presence_ttl_seconds")) * time.Second,
		OpLogTTL:           time.Duration(v.GetInt("op_log_ttl_seconds")) * time.Second,
		ChatRingSize:       v.GetInt("chat_ring_size"),
		ChatRingTTL:        time.Duration(v.GetInt("chat_ring_ttl_seconds")) * time.Second,
		JWTSigningSecret:   v.GetString("jwt_signing_secret"),
		TrustedProxies:     splitOrigins(v.GetString("trusted_proxies")),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if strings.TrimSpace(c.DurableStoreURL) == "" {
		return fmt.Errorf("durable_store_url is required")
	}
	if strings.TrimSpace(c.EphemeralStoreURL) == "" {
		return fmt.Errorf("ephemeral_store_url is required")
	}
	if len(c.FrontendOrigins) == 0 {
		return fmt.Errorf("frontend_origin must name at least one full https origin")
	}
	if c.StoreRetryAttempts <= 0 {
		return fmt.Errorf("store_retry_attempts must be positive")
	}
	if c.OpLogWindow <= 0 {
		return fmt.Errorf("op_log_window must be positive")
	}
	if c.ChatRingSize <= 0 {
		return fmt.Errorf("chat_ring_size must be positive")
	}
	return nil
}
