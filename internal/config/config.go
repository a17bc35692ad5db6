package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. AUCTION_DB_HOST.
const EnvPrefix = "AUCTION_"

// Config represents the application configuration.
type Config struct {
	Discord        DiscordConfig        `yaml:"discord" envPrefix:"DISCORD_"`
	Database       DatabaseConfig       `yaml:"database" envPrefix:"DB_"`
	Server         ServerConfig         `yaml:"server" envPrefix:"SERVER_"`
	Telemetry      TelemetryConfig      `yaml:"telemetry" envPrefix:"OTEL_"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election" envPrefix:"LEADER_"`
	Auction        AuctionConfig        `yaml:"auction"`
	Auth           AuthConfig           `yaml:"auth" envPrefix:"AUTH_"`
}

// DiscordConfig holds Discord bot settings. The bot is disabled when Token
// is empty.
type DiscordConfig struct {
	Token   string `yaml:"token" env:"TOKEN"`
	GuildID string `yaml:"guild_id" env:"GUILD_ID"`
}

// DatabaseConfig selects and configures the shared store driver.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"` // "memory", "postgres", "sqlite" or "redis"
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	DBName   string `yaml:"dbname" env:"NAME"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE"`
	// Path is the SQLite database file.
	Path string `yaml:"path" env:"PATH"`
	// RedisAddr and RedisDB configure the redis driver.
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB   int    `yaml:"redis_db" env:"REDIS_DB"`
	// ConnectTimeout bounds the initial connection handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name" env:"SERVICE_NAME"`
	ServiceVersion string `yaml:"service_version" env:"SERVICE_VERSION"`
	OTLPEndpoint   string `yaml:"otlp_endpoint" env:"ENDPOINT"`
	Insecure       bool   `yaml:"insecure" env:"INSECURE"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled" env:"ENABLED"`
	LeaseName      string        `yaml:"lease_name" env:"LEASE_NAME"`
	LeaseNamespace string        `yaml:"lease_namespace" env:"LEASE_NAMESPACE"`
	LeaseDuration  time.Duration `yaml:"lease_duration" env:"LEASE_DURATION"`
	RenewDeadline  time.Duration `yaml:"renew_deadline" env:"RENEW_DEADLINE"`
	RetryPeriod    time.Duration `yaml:"retry_period" env:"RETRY_PERIOD"`
}

// AuctionConfig holds the auction rules and transaction limits.
type AuctionConfig struct {
	// Budget is each team's budget in lakhs.
	Budget int `yaml:"budget" env:"BUDGET"`
	// BasePrice is applied to players added without one.
	BasePrice int `yaml:"base_price" env:"BASE_PRICE"`
	// MaxRetries is how many times a conflicting commit is retried.
	MaxRetries    uint          `yaml:"max_retries" env:"MAX_RETRIES"`
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`
	// OpTimeout bounds each store round trip.
	OpTimeout time.Duration `yaml:"op_timeout" env:"OP_TIMEOUT"`
}

// AuthConfig holds operator authentication settings.
type AuthConfig struct {
	// AllowAll disables the privilege gate for single-operator local use.
	AllowAll  bool           `yaml:"allow_all" env:"ALLOW_ALL"`
	JWTSecret string         `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration  `yaml:"token_ttl" env:"TOKEN_TTL"`
	Admins    []AdminAccount `yaml:"admins"`
}

// AdminAccount is an operator allowed to mutate auction state. Username and
// PasswordHash (bcrypt) enable HTTP login; DiscordID enables the bot.
type AdminAccount struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
	DiscordID    string `yaml:"discord_id"`
}

// Defaults returns the configuration used before the file and environment
// are applied.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "memory",
			Host:           "localhost",
			Port:           5432,
			SSLMode:        "disable",
			Path:           "auction.db",
			RedisAddr:      "localhost:6379",
			ConnectTimeout: 10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "team-auction",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "team-auction-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
		Auction: AuctionConfig{
			Budget:        1000,
			BasePrice:     20,
			MaxRetries:    3,
			RetryInterval: 25 * time.Millisecond,
			OpTimeout:     5 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL: 12 * time.Hour,
		},
	}
}

// Load reads a YAML configuration file from the given path and applies
// AUCTION_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	var errs []error

	switch c.Database.Driver {
	case "memory", "postgres", "sqlite", "redis":
		// valid
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q: must be one of memory, postgres, sqlite, redis", c.Database.Driver))
	}
	if c.Database.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("database.connect_timeout must be positive"))
	}

	if c.Auction.Budget <= 0 {
		errs = append(errs, fmt.Errorf("auction.budget must be positive, got %d", c.Auction.Budget))
	}
	if c.Auction.BasePrice <= 0 || c.Auction.BasePrice > c.Auction.Budget {
		errs = append(errs, fmt.Errorf("auction.base_price must be between 1 and the budget, got %d", c.Auction.BasePrice))
	}
	if c.Auction.OpTimeout <= 0 {
		errs = append(errs, errors.New("auction.op_timeout must be positive"))
	}

	for i, a := range c.Auth.Admins {
		if a.Username == "" && a.DiscordID == "" {
			errs = append(errs, fmt.Errorf("auth.admins[%d]: username or discord_id is required", i))
		}
		if a.Username != "" && !strings.HasPrefix(a.PasswordHash, "$2") {
			errs = append(errs, fmt.Errorf("auth.admins[%d]: password_hash must be a bcrypt hash", i))
		}
		if a.Username != "" && c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.admins[%d]: jwt_secret is required for password login", i))
		}
	}

	return errors.Join(errs...)
}
