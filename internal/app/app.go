package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/deploydeck/internal/auth"
	"github.com/vovakirdan/deploydeck/internal/backend/local"
	"github.com/vovakirdan/deploydeck/internal/config"
	"github.com/vovakirdan/deploydeck/internal/maintenance"
	"github.com/vovakirdan/deploydeck/internal/realtime"
	"github.com/vovakirdan/deploydeck/internal/store"
	"github.com/vovakirdan/deploydeck/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/deploydeck/internal/transport/http"
)

// App wires together storage, realtime and transport layers.
type App struct {
	cfg         *config.Config
	server      *stdhttp.Server
	hub         *realtime.Hub
	relay       *realtime.RedisRelay
	redis       *redis.Client
	maintenance *maintenance.Scheduler
	store       store.Store
	log         *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	a := &App{cfg: cfg, store: st, log: logger}

	a.hub = realtime.NewHub(logger, cfg.SubscriberBuffer)
	var publisher realtime.Publisher = a.hub
	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.relay = realtime.NewRedisRelay(a.redis, cfg.Redis.Channel, a.hub, logger)
		publisher = a.relay
		logger.Info().Str("addr", cfg.Redis.Addr).Str("channel", cfg.Redis.Channel).Msg("redis relay enabled")
	}

	if cfg.Maintenance.Enabled {
		a.maintenance, err = maintenance.New(st, cfg.Maintenance.Schedule, logger)
		if err != nil {
			a.cleanup()
			return nil, fmt.Errorf("init maintenance: %w", err)
		}
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
	authService := auth.NewService(st, jwtConfig, cfg.AdminEmail)

	ds := local.New(st, publisher, a.hub, logger)
	a.server = transporthttp.NewServer(ds, authService, cfg, logger)

	return a, nil
}

// Run starts every component and blocks until ctx is cancelled or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	if n, err := a.store.CountMessages(ctx, local.DefaultScope); err == nil {
		a.log.Info().Int("messages", n).Str("scope", local.DefaultScope).Msg("chat history available")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	if a.relay != nil {
		g.Go(func() error { return a.relay.Run(gctx) })
	}
	if a.maintenance != nil {
		g.Go(func() error { return a.maintenance.Run(gctx) })
	}

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("starting http server")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
		a.redis = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
		a.store = nil
	}
}
