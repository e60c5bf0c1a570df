package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server      ServerConfig
	App         AppConfig
	Cache       CacheConfig
	Database    DatabaseConfig
	InventoryDB InventoryDBConfig
	Matching    MatchingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"300s"` // runs block on outreach
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name           string   `envconfig:"APP_NAME" default:"microhub-redistribution"`
	Environment    string   `envconfig:"APP_ENV" default:"development"`
	Debug          bool     `envconfig:"APP_DEBUG" default:"false"`
	Version        string   `envconfig:"APP_VERSION" default:"1.0.0"`
	APIKeys        []string `envconfig:"API_KEYS" default:""` // empty disables auth
	CurrencySymbol string   `envconfig:"CURRENCY_SYMBOL" default:"₹"`
}

// CacheConfig holds cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"microhub:redistribution"`
}

// DatabaseConfig holds MySQL connection settings (for the buyer directory).
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"microhub"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
}

// InventoryDBConfig holds inventory snapshot source settings.
type InventoryDBConfig struct {
	Source  string `envconfig:"INVENTORY_SOURCE" default:"csv"` // csv, sqlite, postgres or mongodb
	CSVPath string `envconfig:"INVENTORY_CSV_PATH" default:"./data/inventory.csv"`
	Path    string `envconfig:"INVENTORY_DB_PATH" default:"./data/inventory.db"`
	// PostgreSQL settings
	Host     string `envconfig:"INVENTORY_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"INVENTORY_DB_PORT" default:"5432"`
	Name     string `envconfig:"INVENTORY_DB_NAME" default:"microhub"`
	User     string `envconfig:"INVENTORY_DB_USER" default:"postgres"`
	Password string `envconfig:"INVENTORY_DB_PASS" default:""`
	SSLMode  string `envconfig:"INVENTORY_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"microhub"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"inventory_units"`
	// PurgeAfterDays deletes units expired this many days ago; 0 keeps them.
	PurgeAfterDays int `envconfig:"INVENTORY_PURGE_AFTER_DAYS" default:"0"`
}

// MatchingConfig holds redistribution engine settings.
type MatchingConfig struct {
	BuyerSource       string        `envconfig:"BUYER_SOURCE" default:"seed"` // seed, mysql or sqlite
	Seed              int64         `envconfig:"MATCH_SEED" default:"0"`      // 0 seeds from the clock
	AcceptProbability float64       `envconfig:"MATCH_ACCEPT_PROBABILITY" default:"0.3"`
	MinLatency        time.Duration `envconfig:"MATCH_MIN_LATENCY" default:"800ms"`
	MaxLatency        time.Duration `envconfig:"MATCH_MAX_LATENCY" default:"1800ms"`
	ResponseTimeout   time.Duration `envconfig:"MATCH_RESPONSE_TIMEOUT" default:"5s"`
	MaxCandidates     int           `envconfig:"MATCH_MAX_CANDIDATES" default:"0"`
	ExpiryWindowDays  int           `envconfig:"MATCH_EXPIRY_WINDOW_DAYS" default:"2"`
	AutoEnqueue       bool          `envconfig:"MATCH_AUTO_ENQUEUE" default:"true"`
	Escalation        int           `envconfig:"RETRY_ESCALATION_PERCENT" default:"20"`
	MaxAttempts       int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"0"`
	RetryInterval     time.Duration `envconfig:"RETRY_INTERVAL" default:"0"` // 0 disables scheduled passes
	RunRetention      time.Duration `envconfig:"RUN_RETENTION" default:"24h"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (i *InventoryDBConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		i.User, i.Password, i.Host, i.Port, i.Name, i.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.InventoryDB.Source) {
	case "csv", "sqlite", "postgres", "postgresql", "mongodb", "mongo":
	default:
		errs = append(errs, fmt.Errorf("INVENTORY_SOURCE %q is not one of csv, sqlite, postgres, mongodb", c.InventoryDB.Source))
	}
	switch strings.ToLower(c.Matching.BuyerSource) {
	case "seed", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("BUYER_SOURCE %q is not one of seed, mysql, sqlite", c.Matching.BuyerSource))
	}
	switch strings.ToLower(c.Cache.Type) {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("CACHE_TYPE %q is not one of memory, redis", c.Cache.Type))
	}

	m := c.Matching
	if m.AcceptProbability < 0 || m.AcceptProbability > 1 {
		errs = append(errs, fmt.Errorf("MATCH_ACCEPT_PROBABILITY must be within [0,1], got %v", m.AcceptProbability))
	}
	if m.MinLatency < 0 || m.MaxLatency < m.MinLatency {
		errs = append(errs, fmt.Errorf("MATCH_MIN_LATENCY (%v) must be >= 0 and <= MATCH_MAX_LATENCY (%v)", m.MinLatency, m.MaxLatency))
	}
	if m.ResponseTimeout < 0 || m.RetryInterval < 0 {
		errs = append(errs, errors.New("MATCH_RESPONSE_TIMEOUT and RETRY_INTERVAL must not be negative"))
	}
	if m.Escalation < 1 || m.Escalation > 90 {
		errs = append(errs, fmt.Errorf("RETRY_ESCALATION_PERCENT must be within 1..90, got %d", m.Escalation))
	}
	if m.MaxCandidates < 0 || m.MaxAttempts < 0 || m.ExpiryWindowDays < 0 {
		errs = append(errs, errors.New("MATCH_MAX_CANDIDATES, RETRY_MAX_ATTEMPTS and MATCH_EXPIRY_WINDOW_DAYS must not be negative"))
	}

	return errors.Join(errs...)
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
