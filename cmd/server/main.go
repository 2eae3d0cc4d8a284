package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/collabedit/core/internal/chatlog"
	collabconfig "github.com/collabedit/core/internal/config"
	"github.com/collabedit/core/internal/ephemeral"
	"github.com/collabedit/core/internal/hub"
	"github.com/collabedit/core/internal/identity"
	"github.com/collabedit/core/internal/middleware"
	"github.com/collabedit/core/internal/oplog"
	"github.com/collabedit/core/internal/presence"
	"github.com/collabedit/core/internal/store"
	"github.com/collabedit/core/internal/wsconn"
)

// connectRate bounds how many join attempts a single IP may make to /ws
// in connectWindow, the way the teacher rate-limited its auth endpoints.
const (
	connectRate   = 20
	connectWindow = time.Minute
)

// idleRoomExpiry mirrors the teacher's CleanupInactiveRooms window. The
// reaper deletes the room's rows from the durable store only; a hub still
// running for a reaped room is not stopped and its sessions stay connected.
const idleRoomExpiry = 30 * 24 * time.Hour

func main() {
	v := collabconfig.NewViper()
	cfg, err := collabconfig.Load(v)
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}

	docStore, err := store.Open(cfg.DurableStoreURL)
	if err != nil {
		log.Fatal("failed to open durable store: ", err)
	}
	defer docStore.Close()
	slog.Info("durable store ready", "url", cfg.DurableStoreURL)

	redisOpts, err := redis.ParseURL(cfg.EphemeralStoreURL)
	if err != nil {
		log.Fatal("invalid ephemeral_store_url: ", err)
	}
	ephemeralStore := ephemeral.New(redis.NewClient(redisOpts))
	defer ephemeralStore.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := ephemeralStore.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatal("ephemeral store unreachable: ", err)
	}
	pingCancel()
	slog.Info("ephemeral store ready", "url", cfg.EphemeralStoreURL)

	var verifier identity.Verifier
	if cfg.JWTSigningSecret != "" {
		verifier = identity.NewJWTVerifier(cfg.JWTSigningSecret)
	} else {
		log.Fatal("jwt_signing_secret is required (or substitute your own identity.Verifier before launch)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := hub.NewRegistry(ctx, hub.Deps{
		Store:         docStore,
		Presence:      presence.New(ephemeralStore),
		OpLog:         oplog.New(ephemeralStore),
		Chat:          chatlog.New(ephemeralStore),
		RetryAttempts: cfg.StoreRetryAttempts,
		OpLogWindow:   cfg.OpLogWindow,
	})

	go runIdleRoomReaper(ctx, docStore, registry)

	wsHandler := wsconn.NewHandler(registry, verifier, cfg.IdleTimeout, cfg.FrontendOrigins)
	limiter := middleware.NewRateLimiter(ctx, connectRate, connectWindow)
	limiter.SetTrustedProxies(cfg.TrustedProxies)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	mux.Handle("/ws", limiter.Middleware(wsHandler))

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("collaborative editing core starting", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server error: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("server stopped")
}

// runIdleRoomReaper sweeps rooms whose last activity predates
// idleRoomExpiry, the way the teacher's runCleanupTasks swept expired
// sessions/CSRF tokens on an hourly ticker.
func runIdleRoomReaper(ctx context.Context, docStore store.DocumentStore, registry *hub.Registry) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := docStore.InactiveRoomIDs(ctx, idleRoomExpiry)
			if err != nil {
				slog.Error("idle room sweep failed", "error", err)
				continue
			}
			for _, roomID := range ids {
				if err := docStore.DeleteRoom(ctx, roomID); err != nil {
					slog.Error("failed to delete inactive room", "room_id", roomID, "error", err)
					continue
				}
				slog.Info("reaped inactive room", "room_id", roomID)
			}
			if len(ids) > 0 {
				slog.Info("idle room sweep complete", "count", len(ids), "active_hubs", registry.Count())
			}
		}
	}
}
