package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/outage-report-sync/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/outage-report-sync/internal/adapter/kafka"
	"github.com/couchcryptid/outage-report-sync/internal/adapter/localstore"
	"github.com/couchcryptid/outage-report-sync/internal/adapter/mapbox"
	"github.com/couchcryptid/outage-report-sync/internal/adapter/remote"
	"github.com/couchcryptid/outage-report-sync/internal/config"
	"github.com/couchcryptid/outage-report-sync/internal/domain"
	"github.com/couchcryptid/outage-report-sync/internal/observability"
	"github.com/couchcryptid/outage-report-sync/internal/store"
	"github.com/couchcryptid/outage-report-sync/internal/syncer"
)

// localKV is a key/value backend that owns a connection.
type localKV interface {
	store.KeyValueStore
	io.Closer
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	local, err := openLocalStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open local store", "backend", cfg.LocalStore, "error", err)
		os.Exit(1)
	}
	logger.Info("local store opened", "backend", cfg.LocalStore)

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var (
		publisher store.EventPublisher
		writer    *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled() {
		writer = kafkaadapter.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		publisher = writer
		logger.Info("change feed enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	} else {
		logger.Info("change feed disabled")
	}

	var (
		stores     []*store.Store
		refreshers []syncer.Refresher
		backends   []httpadapter.Backend
		readiness  httpadapter.Readiness
	)
	for _, spec := range cfg.Kinds {
		client := remote.NewClient(spec, cfg.RemoteBaseURL, cfg.RemoteAPIKey, cfg.RemoteTimeout, logger, metrics)
		s := store.New(spec, local, client, logger, metrics, store.Options{
			Location:            cfg.DeviceLocation,
			LedgerRetentionDays: cfg.LedgerRetentionDays,
			PageSize:            cfg.RemotePageSize,
			Geocoder:            geocoder,
			Publisher:           publisher,
		})
		stores = append(stores, s)
		refreshers = append(refreshers, s)
		backends = append(backends, httpadapter.Backend{Store: s, Admin: client})
		readiness = append(readiness, s)
	}

	api := httpadapter.NewAPI(logger, backends...)
	srv := httpadapter.NewServer(cfg.HTTPAddr, readiness, api, logger)

	// Start HTTP server; /readyz reports 503 until every store has loaded.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	if err := loadStores(ctx, stores); err != nil {
		logger.Error("failed to load report stores", "error", err)
		stop()
	}

	// Start periodic sync.
	syncLoop := syncer.New(refreshers, cfg.SyncInterval, logger, metrics)
	go func() {
		if err := syncLoop.Run(ctx); err != nil {
			logger.Error("sync loop error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := local.Close(); err != nil {
		logger.Error("local store close error", "error", err)
	}

	logger.Info("shutdown complete")
}

func openLocalStore(ctx context.Context, cfg *config.Config) (localKV, error) {
	switch cfg.LocalStore {
	case config.LocalStoreSQLite:
		return localstore.OpenSQLite(ctx, cfg.SQLitePath)
	case config.LocalStoreRedis:
		return localstore.OpenRedis(ctx, cfg.RedisURL, cfg.RedisPrefix)
	case config.LocalStoreMemory:
		return localstore.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown local store %q", cfg.LocalStore)
	}
}

// loadStores loads every kind concurrently. A failure of one store does not stop
// the others; all errors are returned together.
func loadStores(ctx context.Context, stores []*store.Store) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range stores {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Load(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("load %s: %w", s.Kind().Kind, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
