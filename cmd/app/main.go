package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/duisenbekovayan/order_live/internal/bridge"
	"github.com/duisenbekovayan/order_live/internal/cache"
	"github.com/duisenbekovayan/order_live/internal/config"
	"github.com/duisenbekovayan/order_live/internal/httpapi"
	xlog "github.com/duisenbekovayan/order_live/internal/log"
	"github.com/duisenbekovayan/order_live/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := xlog.WithComponent("main")
		l.Fatal().Err(err).Msg("load config")
	}
	xlog.Configure(xlog.Config{Level: cfg.LogLevel, Service: "order_live_agent"})
	logger := xlog.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("agent stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	manifest := cache.DefaultManifest()
	if cfg.ManifestPath != "" {
		m, err := cache.LoadManifest(cfg.ManifestPath)
		if err != nil {
			return err
		}
		manifest = m
	}

	// Cache storage
	var store cache.Storage = cache.NewMemoryStorage()
	if cfg.CacheBackend == "redis" {
		rs, err := cache.NewRedisStorage(ctx, cache.RedisConfig{Addr: cfg.RedisAddr})
		if err != nil {
			return err
		}
		defer rs.Close()
		store = rs
	}

	fetcher, err := cache.NewHTTPFetcher(cfg.OriginURL, nil)
	if err != nil {
		return err
	}

	// Postgres: order lookup and the durable outbox
	var (
		outbox bridge.Outbox = bridge.NewMemoryOutbox()
		orders httpapi.OrderStore
	)
	if cfg.PG.Enabled {
		pg, err := storage.New(storage.DSN(cfg.PG.Host, cfg.PG.Port, cfg.PG.User, cfg.PG.Password, cfg.PG.DB))
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		outbox = pg
		orders = pg
	}

	hub := httpapi.NewHub(nil)
	settings := bridge.DefaultSettings()
	settings.CustomerPrefix = cfg.CustomerPathPrefix
	worker := bridge.NewWorker(bridge.WorkerOptions{
		Cache: cache.New(cache.Options{
			Manifest: manifest,
			Storage:  store,
			Fetcher:  fetcher,
		}),
		Fetcher:  fetcher,
		Host:     hub,
		Outbox:   outbox,
		Settings: &settings,
	})

	reg := bridge.NewRegistration(ctx, nil)
	defer reg.Close()
	if err := reg.Register(ctx, bridge.NewAgent(manifest.Generation, worker.Handlers(), nil)); err != nil {
		return err
	}
	hub.Bind(reg.Post, reg.ClientsGone)

	api := httpapi.New(httpapi.Options{
		Addr:       cfg.HTTPAddr,
		Agent:      reg,
		Hub:        hub,
		Orders:     orders,
		RateLimit:  cfg.PushRateLimit,
		RateWindow: cfg.PushRateWin,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(api.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hub.Close()
		err := api.Shutdown(shutdownCtx)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	logger.Info().Str("addr", cfg.HTTPAddr).Str(xlog.FieldGeneration, manifest.Generation).Msg("agent ready")
	return g.Wait()
}
