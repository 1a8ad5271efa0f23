package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/catalogsync/pkg/config"
	"github.com/utafrali/catalogsync/pkg/database"
)

// Config holds all configuration for the catalog sync service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	HTTPPort        int           `env:"SYNC_HTTP_PORT" envDefault:"8012"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	AdminToken      string        `env:"ADMIN_TOKEN"`

	// Per-client limit on the storefront search endpoint; 0 disables it.
	SearchRateLimitRPS   float64 `env:"SEARCH_RATE_LIMIT_RPS" envDefault:"20"`
	SearchRateLimitBurst int     `env:"SEARCH_RATE_LIMIT_BURST" envDefault:"40"`

	// Catalog source (postgres, remote or memory)
	CatalogBackend     string        `env:"CATALOG_BACKEND" envDefault:"postgres"`
	CatalogServiceURL  string        `env:"CATALOG_SERVICE_URL" envDefault:"http://localhost:8001"`
	CatalogToken       string        `env:"CATALOG_SERVICE_TOKEN"`
	CatalogPageSize    int           `env:"CATALOG_PAGE_SIZE" envDefault:"500"`
	CatalogMaxAttempts int           `env:"CATALOG_MAX_ATTEMPTS" envDefault:"4"`
	CatalogRetryBase   time.Duration `env:"CATALOG_RETRY_BASE" envDefault:"500ms"`

	PostgresHost     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser     string `env:"POSTGRES_USER" envDefault:"catalog"`
	PostgresPassword string `env:"POSTGRES_PASSWORD" envDefault:"catalog_secret"`
	PostgresDB       string `env:"POSTGRES_DB" envDefault:"catalog"`
	PostgresSSLMode  string `env:"POSTGRES_SSLMODE" envDefault:"disable"`

	DBSlowQueryThreshold time.Duration `env:"DB_SLOW_QUERY_THRESHOLD" envDefault:"500ms"`

	// Search index (elasticsearch or memory). Elasticsearch connection fields
	// have no defaults: leaving them empty keeps the service up but answers
	// every sync request with 503.
	SearchEngine                string        `env:"SEARCH_ENGINE" envDefault:"elasticsearch"`
	ElasticsearchHost           string        `env:"ELASTICSEARCH_HOST"`
	ElasticsearchPort           int           `env:"ELASTICSEARCH_PORT"`
	ElasticsearchProtocol       string        `env:"ELASTICSEARCH_PROTOCOL"`
	ElasticsearchAPIKey         string        `env:"ELASTICSEARCH_API_KEY"`
	ElasticsearchIndex          string        `env:"ELASTICSEARCH_INDEX" envDefault:"catalog_products"`
	ElasticsearchConnectTimeout time.Duration `env:"ELASTICSEARCH_CONNECT_TIMEOUT" envDefault:"5s"`

	IndexBatchSize   int           `env:"INDEX_BATCH_SIZE" envDefault:"200"`
	IndexMaxAttempts int           `env:"INDEX_MAX_ATTEMPTS" envDefault:"4"`
	IndexRetryBase   time.Duration `env:"INDEX_RETRY_BASE" envDefault:"200ms"`
	IndexCallTimeout time.Duration `env:"INDEX_CALL_TIMEOUT" envDefault:"10s"`

	SyncWorkers       int           `env:"SYNC_WORKERS" envDefault:"4"`
	ItemSyncDrainWait time.Duration `env:"ITEM_SYNC_DRAIN_WAIT" envDefault:"2s"`

	// Lease (redis, dynamodb or memory)
	LeaseBackend       string        `env:"LEASE_BACKEND" envDefault:"redis"`
	RedisHost          string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort          int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword      string        `env:"REDIS_PASSWORD"`
	RedisDB            int           `env:"REDIS_DB" envDefault:"0"`
	DynamoDBLeaseTable string        `env:"DYNAMODB_LEASE_TABLE" envDefault:"catalogsync-leases"`
	FullLeaseTTL       time.Duration `env:"FULL_LEASE_TTL" envDefault:"5m"`
	ItemLeaseTTL       time.Duration `env:"ITEM_LEASE_TTL" envDefault:"1m"`

	// Sync log (postgres, sqlite or memory)
	SyncLogBackend      string        `env:"SYNC_LOG_BACKEND" envDefault:"postgres"`
	SQLitePath          string        `env:"SQLITE_PATH" envDefault:"catalogsync.db"`
	StatusFailureWindow time.Duration `env:"STATUS_FAILURE_WINDOW" envDefault:"24h"`

	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	OTelEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTelEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTelSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load catalog sync config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Postgres returns the connection settings shared by the catalog reader and
// the sync log store.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host = c.PostgresHost
	pg.Port = c.PostgresPort
	pg.User = c.PostgresUser
	pg.Password = c.PostgresPassword
	pg.DBName = c.PostgresDB
	pg.SSLMode = c.PostgresSSLMode
	return pg
}

// Redis returns the lease store's Redis settings.
func (c *Config) Redis() database.RedisConfig {
	rc := database.DefaultRedisConfig()
	rc.Host = c.RedisHost
	rc.Port = c.RedisPort
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	return rc
}

// NeedsPostgres reports whether any backend selection requires a pool.
func (c *Config) NeedsPostgres() bool {
	return c.CatalogBackend == "postgres" || c.SyncLogBackend == "postgres"
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// validate rejects unknown backends and bad sizes. Elasticsearch connection fields
// are checked lazily by the index client.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if !oneOf(c.CatalogBackend, "postgres", "remote", "memory") {
		return fmt.Errorf("invalid CATALOG_BACKEND %q", c.CatalogBackend)
	}
	if !oneOf(c.SearchEngine, "elasticsearch", "memory") {
		return fmt.Errorf("invalid SEARCH_ENGINE %q", c.SearchEngine)
	}
	if !oneOf(c.LeaseBackend, "redis", "dynamodb", "memory") {
		return fmt.Errorf("invalid LEASE_BACKEND %q", c.LeaseBackend)
	}
	if !oneOf(c.SyncLogBackend, "postgres", "sqlite", "memory") {
		return fmt.Errorf("invalid SYNC_LOG_BACKEND %q", c.SyncLogBackend)
	}
	if c.CatalogPageSize < 1 {
		return fmt.Errorf("CATALOG_PAGE_SIZE must be positive, got %d", c.CatalogPageSize)
	}
	if c.CatalogMaxAttempts < 1 {
		return fmt.Errorf("CATALOG_MAX_ATTEMPTS must be at least 1, got %d", c.CatalogMaxAttempts)
	}
	if c.IndexBatchSize < 1 {
		return fmt.Errorf("INDEX_BATCH_SIZE must be positive, got %d", c.IndexBatchSize)
	}
	if c.IndexMaxAttempts < 1 {
		return fmt.Errorf("INDEX_MAX_ATTEMPTS must be at least 1, got %d", c.IndexMaxAttempts)
	}
	if c.IndexCallTimeout <= 0 {
		return fmt.Errorf("INDEX_CALL_TIMEOUT must be positive")
	}
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SYNC_WORKERS must be at least 1, got %d", c.SyncWorkers)
	}
	if c.FullLeaseTTL < time.Second || c.ItemLeaseTTL < time.Second {
		return fmt.Errorf("lease TTLs must be at least 1s")
	}
	if c.KafkaEnabled && len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when KAFKA_ENABLED is set")
	}
	return nil
}
