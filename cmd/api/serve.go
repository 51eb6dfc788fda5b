package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/forno/backend/internal/config"
	"github.com/zhouzirui/forno/backend/internal/handler"
	"github.com/zhouzirui/forno/backend/internal/handler/relay"
	"github.com/zhouzirui/forno/backend/internal/model/chat"
	"github.com/zhouzirui/forno/backend/internal/model/persona"
	"github.com/zhouzirui/forno/backend/internal/model/user"
	"github.com/zhouzirui/forno/backend/internal/observability"
	"github.com/zhouzirui/forno/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/forno/backend/internal/service/chat"
	"github.com/zhouzirui/forno/backend/internal/service/session"
	"github.com/zhouzirui/forno/backend/internal/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and websocket server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// store is the persistence surface the server needs: turns, users and teardown.
type store interface {
	chat.TurnStore
	user.Store
	Close() error
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (store, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		logger.Warn().Msg("using in-memory store, turns are lost on restart")
		return chatservice.NewMemoryStore(), nil
	case config.StoreDriverSQLite:
		return sqlite.Open(ctx, cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()

	personaStore := persona.NewMemoryStore(persona.Seed())
	activePersona, err := persona.Resolve(personaStore, cfg.AI.PersonaID)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg.Store, log.Logger)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close store")
		}
	}()

	generator, err := ai.NewService(ctx, cfg.AI, log.Logger)
	if err != nil {
		log.Error().Err(err).Str("provider", cfg.AI.Provider).Msg("failed to initialize AI service")
		return err
	}
	log.Info().Str("provider", generator.Provider()).Str("persona", activePersona.ID).Msg("AI service initialized")

	registry := relay.NewRegistry(relay.RegistryOptions{
		SendBuffer:   cfg.Relay.SendBuffer,
		WriteTimeout: cfg.Relay.WriteTimeout,
		PingInterval: cfg.Relay.PingInterval,
		Metrics:      metrics,
		Logger:       log.Logger,
	})

	coordinator := session.NewCoordinator(st, generator, ai.NewPromptBuilder(activePersona), registry, session.Options{
		HistoryLimit: cfg.Session.HistoryLimit,
		ContextLimit: cfg.Session.ContextLimit,
		Metrics:      metrics,
		Logger:       log.Logger,
	})

	if cfg.Session.IdleTTL > 0 {
		sweeper, err := session.NewSweeper(coordinator.Sessions(), cfg.Session.SweepSchedule, cfg.Session.IdleTTL, metrics, log.Logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
	}

	relayHandler := relay.NewHandler(registry, coordinator, relay.Options{PingInterval: cfg.Relay.PingInterval, Metrics: metrics, Logger: log.Logger})

	router := handler.NewRouter(handler.Dependencies{
		Personas:      personaStore,
		ActivePersona: activePersona.ID,
		Users:         st,
		Relay:         relayHandler,
		Registry:      registry,
		Metrics:       metrics,
		Logger:        log.Logger,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("forno backend listening")
	err = runServer(ctx, srv, registry, relayHandler)
	if err != nil {
		log.Error().Err(err).Msg("server error")
	}
	return err
}

// runServer serves until ctx is cancelled, then drains HTTP requests, closes every websocket
// connection and waits for their in-flight frames before returning.
func runServer(ctx context.Context, srv *http.Server, registry *relay.Registry, relayHandler *relay.Handler) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if serveErr == nil {
		_ = srv.Shutdown(shutdownCtx)
		serveErr = <-errCh
	}
	registry.Close()
	if err := relayHandler.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("websocket connections did not drain in time")
	}

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}
