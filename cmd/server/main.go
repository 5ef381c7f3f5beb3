package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/avolkov/huddle/internal/adapters/rest"
	"github.com/avolkov/huddle/internal/auth"
	"github.com/avolkov/huddle/internal/config"
	"github.com/avolkov/huddle/internal/core"
	"github.com/avolkov/huddle/internal/dispatch"
	"github.com/avolkov/huddle/internal/media/stub"
	"github.com/avolkov/huddle/internal/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	kv, cleanup, err := buildKV(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect store")
	}
	defer cleanup()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := dispatch.NewHub(cfg.Dispatch.JobTimeout)
	hub.SetMetrics(dispatch.NewMetrics(reg))

	engine := buildEngine(cfg)
	manager := core.NewRoomManager(core.NewRoomStore(kv))
	manager.BindEngine(engine)

	tokens := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TTL)

	r := rest.SetupRouter(cfg, manager, engine, hub, tokens, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

// buildEngine wires the media engine. Only the in-process engine ships
// today; it negotiates but does not switch packets, so running it
// against the redis backend gets called out at startup.
func buildEngine(cfg *config.Config) core.MediaEngine {
	if cfg.Store.Backend == "redis" {
		log.Warn().Str("module", "main").Msg("in-process media engine with redis store: signaling is durable but no media is relayed")
	} else {
		log.Info().Str("module", "main").Msg("using in-process media engine")
	}
	return stub.NewEngine()
}

// buildKV picks the durable backend. Memory is for development only; a
// restart loses all rooms.
func buildKV(ctx context.Context, cfg *config.Config) (core.KV, func(), error) {
	switch cfg.Store.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Addr,
			Password: cfg.Store.Password,
			DB:       cfg.Store.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		log.Info().Str("module", "main").Str("addr", cfg.Store.Addr).Msg("redis connected")
		return store.NewRedis(client), func() { _ = client.Close() }, nil
	case "memory":
		log.Warn().Str("module", "main").Msg("using in-memory store, rooms do not survive restarts")
		return store.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
