package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/Stanislav-Kankin/idle-company-game/internal/api"
	"github.com/Stanislav-Kankin/idle-company-game/internal/clients"
	"github.com/Stanislav-Kankin/idle-company-game/internal/config"
	"github.com/Stanislav-Kankin/idle-company-game/internal/game"
	"github.com/Stanislav-Kankin/idle-company-game/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE and referenced by
// server.go and provision.go.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	store        *clients.PostgresStore
	cache        *clients.RedisCache
	events       *clients.NATSPublisher
	game         *game.Service
	router       *api.Router
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates one circuit breaker per client
//  3. Dials Postgres and NATS (required, fatal on failure), sets up Redis
//  4. Creates the game service
//  5. Creates the HTTP router
func buildAppContext(ctx context.Context, cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}

	// OTEL is best-effort: a missing collector must never block startup.
	// When OTLPEndpoint is empty, telemetry is disabled entirely; this
	// avoids the SDK's periodic-reader noise when no collector is running
	// locally.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Info("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(
			ctx,
			cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName,
			cfg.Telemetry.OTLPInsecure,
		)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
		}
	}

	// One circuit breaker per client so each dependency trips independently.
	store, err := clients.NewPostgresStore(ctx, cfg.Postgres, clients.NewCircuitBreaker("postgres"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.store = store

	// TTL of two ticks keeps the snapshot readable across a skipped tick.
	app.cache = clients.NewRedisCache(cfg.Redis, 2*cfg.Game.TickInterval, clients.NewCircuitBreaker("redis"))

	events, err := clients.NewNATSPublisher(cfg.NATS, clients.NewCircuitBreaker("nats"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.events = events

	app.game = game.New(game.Config{
		TickInterval:    cfg.Game.TickInterval,
		StartingBalance: cfg.Game.StartingBalance,
		StartingRate:    cfg.Game.StartingRate,
		LeaderboardSize: cfg.Game.LeaderboardSize,
	}, app.store, app.cache, app.events)

	app.router = api.NewRouter(*cfg, app.game, slog.Default())

	return app, nil
}

// Close releases every client connection and flushes telemetry. It is safe
// to call with partially constructed state.
func (a *AppContext) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("redis close error", "err", err)
		}
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.otelProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelProvider.Shutdown(ctx); err != nil {
			slog.Warn("OTEL shutdown error", "err", err)
		}
	}
}
