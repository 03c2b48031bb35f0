package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/vedant-gala/Credora/internal/cache"
	"github.com/vedant-gala/Credora/internal/calculator"
	"github.com/vedant-gala/Credora/internal/categorize"
	"github.com/vedant-gala/Credora/internal/config"
	"github.com/vedant-gala/Credora/internal/database"
	"github.com/vedant-gala/Credora/internal/database/postgres"
	"github.com/vedant-gala/Credora/internal/events"
	"github.com/vedant-gala/Credora/internal/features"
	"github.com/vedant-gala/Credora/internal/handler"
	"github.com/vedant-gala/Credora/internal/optimizer"
	"github.com/vedant-gala/Credora/internal/repository"
	"github.com/vedant-gala/Credora/internal/repository/memory"
	"github.com/vedant-gala/Credora/internal/service"
	"github.com/vedant-gala/Credora/internal/tracker"
	"github.com/vedant-gala/Credora/internal/window"
)

const cachePrefix = "credora:"

// app is the wired set of components every command runs against.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	flags   *features.Manager
	events  *events.Manager
	store   repository.Store
	repo    repository.Store
	closers []io.Closer
	svc     *service.Service
}

// newLogger builds the process logger from the log section.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the store the database section selects.
func openStore(ctx context.Context, cfg config.DatabaseConfig) (repository.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		db, err := database.NewDB(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// openCache opens the configured cache backend.
func openCache(ctx context.Context, cfg config.CacheConfig) (cache.Cache, io.Closer, error) {
	switch cfg.Backend {
	case config.CacheRedis:
		c, err := cache.NewRedisCache(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cachePrefix)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	case config.CacheMemory, "":
		c, err := cache.NewInMemoryCache(cfg.Size)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: logger,
		flags:  features.NewManager(cfg.Features),
	}
	if cfg.Cache.Enabled {
		a.flags.Set(features.CacheEnabled, true)
	}

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Database.Driver, err)
	}
	a.store, a.repo = store, store
	a.closers = append(a.closers, store)

	if a.flags.IsEnabled(features.CacheEnabled) {
		c, closer, err := openCache(ctx, cfg.Cache)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open %s cache: %w", cfg.Cache.Backend, err)
		}
		if closer != nil {
			a.closers = append(a.closers, closer)
		}
		a.repo = cache.NewRepository(store, c, cfg.Cache.TTL(), logger)
	}

	a.events = events.NewManager(a.flags.IsEnabled(features.EventHooksEnabled), logger)
	a.subscribeLogging()

	loc, err := cfg.Location()
	if err != nil {
		a.Close()
		return nil, err
	}
	rates, err := cfg.ExchangeRates()
	if err != nil {
		a.Close()
		return nil, err
	}

	calc := calculator.New(rates)
	tr := tracker.New(a.repo, window.NewResolver(loc), calc,
		tracker.WithEvents(a.events),
		tracker.WithLogger(logger),
		tracker.WithMaxRetries(cfg.Rewards.MaxCommitRetries))
	opt := optimizer.New(calc, tr, optimizer.WithConcurrency(cfg.Rewards.OptimizerConcurrency))
	cat := categorize.New(a.repo, a.flags.IsEnabled(features.FuzzyMerchantLookup))

	a.svc = service.NewService(a.repo, tr, opt, cat,
		service.WithEvents(a.events),
		service.WithLogger(logger))

	logger.Debug("Components wired",
		slog.String("driver", cfg.Database.Driver),
		slog.Bool("cache", a.flags.IsEnabled(features.CacheEnabled)),
		slog.Bool("events", a.flags.IsEnabled(features.EventHooksEnabled)),
		slog.Bool("fuzzy_merchants", a.flags.IsEnabled(features.FuzzyMerchantLookup)))
	return a, nil
}

// subscribeLogging records reward lifecycle events in the log.
func (a *app) subscribeLogging() {
	a.events.Subscribe(events.EventThresholdCommitted, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.ThresholdCommittedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		a.logger.Info("Threshold committed",
			slog.String("key", data.State.Key().String()),
			slog.String("reward", data.Quote.Amount.String()),
			slog.Bool("capped", data.Quote.Capped),
			slog.Bool("unlocked", data.Quote.UnlockedBonus))
		return nil
	})
	a.events.Subscribe(events.EventWindowRolledOver, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.WindowRolledOverData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		a.logger.Info("Window finalized",
			slog.String("key", data.Finalized.Key().String()),
			slog.String("next_window", data.NextKey))
		return nil
	})
	a.events.Subscribe(events.EventRecommendationIssued, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.RecommendationIssuedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		a.logger.Info("Recommendation issued",
			slog.String("user_id", data.UserID),
			slog.String("card_id", data.Recommendation.Card.ID),
			slog.String("effective_value", data.Recommendation.Quote.EffectiveValue.String()))
		return nil
	})
}

// pinger returns the store's health check, if it has one.
func (a *app) pinger() handler.Pinger {
	if p, ok := a.store.(handler.Pinger); ok {
		return p
	}
	return nil
}

// Close drains event handlers and closes the cache and store.
func (a *app) Close() error {
	a.events.Shutdown()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setupFromFlags loads the configuration file named by the root flags (empty
// for defaults plus environment), applies flag overrides and wires the app.
func setupFromFlags(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return nil, err
	}
	if opts.driver != "" {
		cfg.Database.Driver = opts.driver
	}
	if opts.dbPath != "" {
		cfg.Database.Path = opts.dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	return newApp(ctx, cfg, logger)
}
