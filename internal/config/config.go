package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/propstrack/maintenance-server/internal/blobstore"
	"github.com/propstrack/maintenance-server/internal/cleanup"
	"github.com/propstrack/maintenance-server/internal/limits"
	"github.com/propstrack/maintenance-server/internal/models"
	"github.com/propstrack/maintenance-server/internal/reconcile"
	"github.com/propstrack/maintenance-server/internal/storage"
)

// Store and backend types
const (
	StoreTypePostgres = "postgres"
	StoreTypeMemory   = "memory"

	BlobTypeS3     = "s3"
	BlobTypeMemory = "memory"

	CounterBackendStore = "store"
	CounterBackendRedis = "redis"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	NATS      NATSConfig      `yaml:"nats"`
	JWT       JWTConfig       `yaml:"jwt"`
	Auth      AuthConfig      `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
	Blob      BlobConfig      `yaml:"blob"`
	Quota     QuotaConfig     `yaml:"quota"`
	Cleanup   CleanupConfig   `yaml:"cleanup"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// APIConfig represents API configuration
type APIConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig selects the document store
type StorageConfig struct {
	Type string `yaml:"type"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// NATSConfig represents NATS configuration
type NATSConfig struct {
	URL               string        `yaml:"url"`
	ClientName        string        `yaml:"client_name"`
	Username          string        `yaml:"username"`
	Password          string        `yaml:"password"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	Stream            string        `yaml:"stream"`
	Durable           string        `yaml:"durable"`
	MaxDeliver        int           `yaml:"max_deliver"`
	AckWait           time.Duration `yaml:"ack_wait"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
}

// JWTConfig represents JWT configuration
type JWTConfig struct {
	Secret         string        `yaml:"secret"`
	Issuer         string        `yaml:"issuer"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

// ServiceKey is a named API key; only its bcrypt hash is configured.
type ServiceKey struct {
	Name string `yaml:"name"`
	Hash string `yaml:"hash"`
}

// AuthConfig lists the service keys accepted besides user tokens
type AuthConfig struct {
	ServiceKeys []ServiceKey `yaml:"service_keys"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BlobConfig selects the object bucket
type BlobConfig struct {
	Type string             `yaml:"type"`
	S3   blobstore.S3Config `yaml:"s3"`
}

// QuotaConfig overrides the built-in plan table
type QuotaConfig struct {
	Plans          map[string]limits.Quotas `yaml:"plans"`
	CounterBackend string                   `yaml:"counter_backend"`
	SweepSchedule  string                   `yaml:"sweep_schedule"`
}

// CleanupConfig configures the garbage collector
type CleanupConfig struct {
	MaxAtomicOps int                    `yaml:"max_atomic_ops"`
	PageSize     int                    `yaml:"page_size"`
	Policies     cleanup.Policies       `yaml:"policies"`
	Manual       []models.CleanupPolicy `yaml:"manual"`
	Monitored    []string               `yaml:"monitored_collections"`
	Schedules    CleanupSchedules       `yaml:"schedules"`
}

// CleanupSchedules are cron specs of the automatic passes
type CleanupSchedules struct {
	Processed    string `yaml:"processed"`
	ExpiredCodes string `yaml:"expired_codes"`
	Failed       string `yaml:"failed"`
}

// ReconcileConfig configures the storage reconciler
type ReconcileConfig struct {
	Sources []reconcile.Source `yaml:"sources"`
}

// Load loads configuration from file. An empty filename yields the defaults
// with environment overrides.
func Load(filename string) (*Config, error) {
	var cfg Config
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	// Apply environment overrides
	cfg.applyEnvOverrides()
	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		c.Redis.Addr = redisAddr
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	if bucket := os.Getenv("BLOB_BUCKET"); bucket != "" {
		c.Blob.S3.Bucket = bucket
	}

	if storeType := os.Getenv("STORE_TYPE"); storeType != "" {
		c.Storage.Type = storeType
	}
}

// setDefaults fills every unset value
func (c *Config) setDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "maintenance-server"
	}
	if c.API.Port == 0 {
		c.API.Port = 8090
	}
	if len(c.API.AllowedOrigins) == 0 {
		c.API.AllowedOrigins = []string{"*"}
	}
	if c.Storage.Type == "" {
		c.Storage.Type = StoreTypePostgres
	}
	if c.Blob.Type == "" {
		c.Blob.Type = BlobTypeS3
		if c.Storage.Type == StoreTypeMemory {
			c.Blob.Type = BlobTypeMemory
		}
	}
	if c.NATS.ClientName == "" {
		c.NATS.ClientName = c.Server.Name
	}
	if c.NATS.Stream == "" {
		c.NATS.Stream = "DOCUMENTS"
	}
	if c.NATS.Durable == "" {
		c.NATS.Durable = "maintenance"
	}
	if c.NATS.MaxDeliver == 0 {
		c.NATS.MaxDeliver = 10
	}
	if c.NATS.AckWait == 0 {
		c.NATS.AckWait = time.Minute
	}
	if c.NATS.RetryDelay == 0 {
		c.NATS.RetryDelay = 5 * time.Second
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	if c.NATS.ReconnectInterval == 0 {
		c.NATS.ReconnectInterval = 2 * time.Second
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "propstrack"
	}
	if c.JWT.AccessTokenTTL == 0 {
		c.JWT.AccessTokenTTL = time.Hour
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Quota.CounterBackend == "" {
		c.Quota.CounterBackend = CounterBackendStore
	}
	if c.Quota.SweepSchedule == "" {
		c.Quota.SweepSchedule = "45 * * * *"
	}

	if c.Cleanup.MaxAtomicOps == 0 {
		c.Cleanup.MaxAtomicOps = cleanup.DefaultMaxAtomicOps
	}
	if c.Cleanup.PageSize == 0 {
		c.Cleanup.PageSize = cleanup.DefaultPageSize
	}
	defaults := cleanup.DefaultPolicies()
	if c.Cleanup.Policies.Processed.Collection == "" {
		c.Cleanup.Policies.Processed = defaults.Processed
	}
	if len(c.Cleanup.Policies.ExpiredCodes) == 0 {
		c.Cleanup.Policies.ExpiredCodes = defaults.ExpiredCodes
	}
	if c.Cleanup.Policies.Failed.Collection == "" {
		c.Cleanup.Policies.Failed = defaults.Failed
	}
	if len(c.Cleanup.Manual) == 0 {
		c.Cleanup.Manual = cleanup.DefaultManualPolicies()
	}
	if c.Cleanup.Schedules.Processed == "" {
		c.Cleanup.Schedules.Processed = "0 3 * * *"
	}
	if c.Cleanup.Schedules.ExpiredCodes == "" {
		c.Cleanup.Schedules.ExpiredCodes = "0 * * * *"
	}
	if c.Cleanup.Schedules.Failed == "" {
		c.Cleanup.Schedules.Failed = "30 3 * * 0"
	}

	if len(c.Reconcile.Sources) == 0 {
		c.Reconcile.Sources = reconcile.DefaultSources()
	}
}

// Validate rejects settings the services cannot run with
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Type {
	case StoreTypePostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for postgres storage"))
		}
	case StoreTypeMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.type %q", c.Storage.Type))
	}

	switch c.Blob.Type {
	case BlobTypeS3, BlobTypeMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown blob.type %q", c.Blob.Type))
	}

	switch c.Quota.CounterBackend {
	case CounterBackendStore:
	case CounterBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis counter backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown quota.counter_backend %q", c.Quota.CounterBackend))
	}

	if c.Cleanup.MaxAtomicOps <= 0 || c.Cleanup.MaxAtomicOps >= storage.MaxBatchOps {
		errs = append(errs, fmt.Errorf("cleanup.max_atomic_ops must be between 1 and %d, got %d",
			storage.MaxBatchOps-1, c.Cleanup.MaxAtomicOps))
	}
	if c.Cleanup.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("cleanup.page_size must be positive, got %d", c.Cleanup.PageSize))
	}

	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Policy builds the quota policy: the built-in table with configured plans
// replacing their defaults.
func (c *Config) Policy() (*limits.Policy, error) {
	if len(c.Quota.Plans) == 0 {
		return limits.DefaultPolicy(), nil
	}
	table := limits.DefaultQuotas()
	for name, q := range c.Quota.Plans {
		plan := models.Plan(name)
		if models.ParsePlan(name) != plan {
			return nil, fmt.Errorf("quota.plans: unknown plan %q", name)
		}
		table[plan] = q
	}
	policy, err := limits.NewPolicy(table)
	if err != nil {
		return nil, fmt.Errorf("quota.plans: %w", err)
	}
	return policy, nil
}

// CleanupOptions returns the garbage collector bounds.
func (c *Config) CleanupOptions() cleanup.Options {
	return cleanup.Options{MaxAtomicOps: c.Cleanup.MaxAtomicOps, PageSize: c.Cleanup.PageSize}
}

// APIAddr is the REST listen address.
func (c *Config) APIAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
