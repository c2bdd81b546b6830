package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/musicflow/server/internal/adapters/http"
	ws "github.com/musicflow/server/internal/adapters/signal"
	"github.com/musicflow/server/internal/config"
	"github.com/musicflow/server/internal/media"
	"github.com/musicflow/server/internal/presence"
	"github.com/musicflow/server/internal/room"
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
		log.Error().Err(err).Msg("failed to load config")
	}

	registry := room.NewRegistry()
	tracker := presence.NewTracker()
	controller := ws.NewController(cfg, registry, tracker)
	upstream := media.NewClient(cfg.StreamUpstream, cfg.SearchUpstream)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Signal:   controller,
		Registry: registry,
		Presence: tracker,
		Resolver: upstream,
		Searcher: upstream,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Musicflow server started")
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
