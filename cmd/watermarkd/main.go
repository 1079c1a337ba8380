// Command watermarkd runs the watermark engine's HTTP API: embed, verify,
// and registry endpoints backed by internal/dispatcher. It shuts down
// gracefully on SIGINT/SIGTERM (signal.Notify + http.Server.Shutdown with
// a bounded timeout).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/aegiswm/watermark/internal/api"
	"github.com/aegiswm/watermark/internal/api/ratelimit"
	"github.com/aegiswm/watermark/internal/config"
	"github.com/aegiswm/watermark/internal/dispatcher"
	"github.com/aegiswm/watermark/internal/registry"
	"github.com/aegiswm/watermark/internal/security"
	"github.com/aegiswm/watermark/internal/wmlog"
)

const shutdownTimeout = 30 * time.Second

func main() {
	wmlog.Init(os.Getenv("WATERMARK_LOG_LEVEL"), os.Getenv("WATERMARK_LOG_PRETTY") == "1")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	reg := registry.New(cfg.RegistryPath)
	d := dispatcher.New(cfg.SecretKey, reg)
	keys := security.NewKeyManager(cfg.SecretKey)
	limiter := ratelimit.New(cfg.RedisAddr, ratelimit.Config{})
	defer limiter.Close()

	srv := api.NewServer(d, keys, limiter, os.Getenv("WATERMARK_CORS_ORIGIN"))

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("failed to shut down gracefully")
			os.Exit(1)
		}
	}()

	log.Info().
		Str("addr", cfg.ListenAddr).
		Str("registry_path", cfg.RegistryPath).
		Bool("redis", cfg.RedisAddr != "").
		Msg("starting watermark engine")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}

	log.Info().Msg("watermark engine stopped")
}
