package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/outage-report-sync/internal/domain"
)

// Local persistence backends.
const (
	LocalStoreSQLite = "sqlite"
	LocalStoreRedis  = "redis"
	LocalStoreMemory = "memory"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	Kinds           []domain.KindSpec
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Local persistence.
	LocalStore  string
	SQLitePath  string
	RedisURL    string
	RedisPrefix string

	// Remote report service.
	RemoteBaseURL  string
	RemoteAPIKey   string
	RemoteTimeout  time.Duration
	RemotePageSize int

	// Confirmation ledger and sync behaviour.
	DeviceLocation      *time.Location
	LedgerRetentionDays int
	SyncInterval        time.Duration

	// Change feed; disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	// Mapbox geocoding configuration.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	kinds, err := parseKinds(sharedcfg.EnvOrDefault("REPORT_KINDS", "outage,incident"))
	if err != nil {
		return nil, err
	}

	remoteTimeout, err := parsePositiveDuration("REMOTE_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}
	mapboxTimeout, err := parsePositiveDuration("MAPBOX_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}

	syncInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("SYNC_INTERVAL", "5m"))
	if err != nil || syncInterval < 0 {
		return nil, errors.New("invalid SYNC_INTERVAL")
	}

	pageSize, err := parseInt("REMOTE_PAGE_SIZE", 200, 1, 1000)
	if err != nil {
		return nil, err
	}
	retention, err := parseInt("LEDGER_RETENTION_DAYS", 30, 0, 3650)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(sharedcfg.EnvOrDefault("DEVICE_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEVICE_TIMEZONE: %w", err)
	}

	var brokers []string
	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	mapboxToken := os.Getenv("MAPBOX_TOKEN")
	mapboxEnabled := mapboxToken != ""
	if v := os.Getenv("MAPBOX_ENABLED"); v != "" {
		mapboxEnabled = v == "true"
	}

	cfg := &Config{
		Kinds:           kinds,
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		LocalStore:  strings.ToLower(sharedcfg.EnvOrDefault("LOCAL_STORE", LocalStoreSQLite)),
		SQLitePath:  sharedcfg.EnvOrDefault("SQLITE_PATH", "reports.db"),
		RedisURL:    sharedcfg.EnvOrDefault("REDIS_URL", "redis://localhost:6379/0"),
		RedisPrefix: sharedcfg.EnvOrDefault("REDIS_PREFIX", "report-sync:"),

		RemoteBaseURL:  strings.TrimRight(sharedcfg.EnvOrDefault("REMOTE_BASE_URL", "http://localhost:8090/api"), "/"),
		RemoteAPIKey:   os.Getenv("REMOTE_API_KEY"),
		RemoteTimeout:  remoteTimeout,
		RemotePageSize: pageSize,

		DeviceLocation:      loc,
		LedgerRetentionDays: retention,
		SyncInterval:        syncInterval,

		KafkaBrokers: brokers,
		KafkaTopic:   sharedcfg.EnvOrDefault("KAFKA_TOPIC", "report-events"),

		MapboxToken:     mapboxToken,
		MapboxEnabled:   mapboxEnabled,
		MapboxTimeout:   mapboxTimeout,
		MapboxCacheSize: parseMapboxCacheSize(),
	}

	switch cfg.LocalStore {
	case LocalStoreSQLite, LocalStoreRedis, LocalStoreMemory:
	default:
		return nil, fmt.Errorf("LOCAL_STORE must be one of sqlite, redis, memory, got %q", cfg.LocalStore)
	}
	if cfg.LocalStore == LocalStoreSQLite && cfg.SQLitePath == "" {
		return nil, errors.New("SQLITE_PATH is required when LOCAL_STORE is sqlite")
	}
	if cfg.RemoteBaseURL == "" {
		return nil, errors.New("REMOTE_BASE_URL is required")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	if cfg.MapboxEnabled && cfg.MapboxToken == "" {
		return nil, errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}

	return cfg, nil
}

// KafkaEnabled reports whether the change feed should be published.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func parseKinds(s string) ([]domain.KindSpec, error) {
	var kinds []domain.KindSpec
	seen := make(map[domain.Kind]bool)
	for _, name := range strings.Split(s, ",") {
		if strings.TrimSpace(name) == "" {
			continue
		}
		spec, err := domain.LookupKind(name)
		if err != nil {
			return nil, fmt.Errorf("invalid REPORT_KINDS: %w", err)
		}
		if seen[spec.Kind] {
			continue
		}
		seen[spec.Kind] = true
		kinds = append(kinds, spec)
	}
	if len(kinds) == 0 {
		return nil, errors.New("REPORT_KINDS is required")
	}
	return kinds, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func parseMapboxCacheSize() int {
	if s := os.Getenv("MAPBOX_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 1000
}
