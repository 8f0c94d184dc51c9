package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	DefaultProviderBaseURL       = "https://identitytoolkit.googleapis.com/v1"
	DefaultProviderMutateTimeout = 15 * time.Second
	DefaultProviderProbeTimeout  = 10 * time.Second
)

// Config holds all application settings
type Config struct {
	Server           ServerConfig
	Database         DatabaseConfig
	Redis            RedisConfig
	IdentityProvider IdentityProviderConfig `mapstructure:"identity_provider"`
	Operator         OperatorConfig
	Notifier         NotifierConfig
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
	Log              LogConfig
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           string
	Mode           string
	ReadTimeout    int      `mapstructure:"read_timeout"`
	WriteTimeout   int      `mapstructure:"write_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host          string
	Port          string
	User          string
	Password      string
	DBName        string
	SSLMode       string
	MigrationsURL string `mapstructure:"migrations_url"`
}

// RedisConfig holds Redis connection settings. Mode is "single", "sentinel" or "cluster".
type RedisConfig struct {
	Mode       string   `mapstructure:"mode"`
	Addrs      []string `mapstructure:"addrs"`
	Addr       string   `mapstructure:"addr"`
	Password   string   `mapstructure:"password"`
	DB         int      `mapstructure:"db"`
	MasterName string   `mapstructure:"master_name"`
	MaxRetries int      `mapstructure:"max_retries"`
}

// IdentityProviderConfig is injected into the provider client at construction.
type IdentityProviderConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	ContinueURL   string        `mapstructure:"continue_url"`
	MutateTimeout time.Duration `mapstructure:"mutate_timeout"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

// OperatorConfig holds credentials for the operator console.
// PasswordHash is a bcrypt hash; the plain password never appears in config.
type OperatorConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
}

// NotifierConfig configures the override audit mail. Empty ResendAPIKey disables it.
type NotifierConfig struct {
	ResendAPIKey string `mapstructure:"resend_api_key"`
	From         string `mapstructure:"from"`
	OpsAddress   string `mapstructure:"ops_address"`
}

// RateLimitConfig limits public verification endpoints per client IP
type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

// LogConfig configures zerolog
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// PostgresConnectionString builds the PostgreSQL DSN
func (d *DatabaseConfig) PostgresConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// PostgresURL builds the URL form of the DSN used by golang-migrate
func (d *DatabaseConfig) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// IsRelease reports whether the server runs in gin release mode
func (s *ServerConfig) IsRelease() bool {
	return strings.EqualFold(s.Mode, "release")
}

// Load reads configuration from an optional file and explicitly bound env vars
func Load(configPath string) (*Config, error) {
	vip := viper.New()

	vip.SetDefault("server.port", "8080")
	vip.SetDefault("server.mode", "debug")
	vip.SetDefault("server.read_timeout", 15)
	vip.SetDefault("server.write_timeout", 30)
	vip.SetDefault("database.port", "5432")
	vip.SetDefault("database.sslmode", "disable")
	vip.SetDefault("database.migrations_url", "file://migrations")
	vip.SetDefault("redis.mode", "single")
	vip.SetDefault("identity_provider.base_url", DefaultProviderBaseURL)
	vip.SetDefault("identity_provider.mutate_timeout", DefaultProviderMutateTimeout)
	vip.SetDefault("identity_provider.probe_timeout", DefaultProviderProbeTimeout)
	vip.SetDefault("operator.username", "operator")
	vip.SetDefault("operator.token_ttl", 8*time.Hour)
	vip.SetDefault("rate_limit.enabled", true)
	vip.SetDefault("rate_limit.max_requests", 10)
	vip.SetDefault("rate_limit.window", time.Minute)
	vip.SetDefault("log.level", "info")

	vip.BindEnv("server.port", "SERVER_PORT")
	vip.BindEnv("server.mode", "GIN_MODE")

	vip.BindEnv("database.host", "DATABASE_HOST")
	vip.BindEnv("database.port", "DATABASE_PORT")
	vip.BindEnv("database.user", "DATABASE_USER")
	vip.BindEnv("database.password", "DATABASE_PASSWORD")
	vip.BindEnv("database.dbname", "DATABASE_DBNAME")
	vip.BindEnv("database.sslmode", "DATABASE_SSLMODE")
	vip.BindEnv("database.migrations_url", "DATABASE_MIGRATIONS_URL")

	vip.BindEnv("redis.mode", "REDIS_MODE")
	vip.BindEnv("redis.addrs", "REDIS_ADDRS")
	vip.BindEnv("redis.addr", "REDIS_ADDR")
	vip.BindEnv("redis.password", "REDIS_PASSWORD")
	vip.BindEnv("redis.db", "REDIS_DB")
	vip.BindEnv("redis.master_name", "REDIS_MASTER_NAME")

	vip.BindEnv("identity_provider.base_url", "IDENTITY_PROVIDER_BASE_URL")
	vip.BindEnv("identity_provider.api_key", "IDENTITY_PROVIDER_API_KEY")
	vip.BindEnv("identity_provider.continue_url", "IDENTITY_PROVIDER_CONTINUE_URL")

	vip.BindEnv("operator.username", "OPERATOR_USERNAME")
	vip.BindEnv("operator.password_hash", "OPERATOR_PASSWORD_HASH")
	vip.BindEnv("operator.jwt_secret", "OPERATOR_JWT_SECRET")

	vip.BindEnv("notifier.resend_api_key", "RESEND_API_KEY")
	vip.BindEnv("notifier.from", "NOTIFIER_FROM")
	vip.BindEnv("notifier.ops_address", "NOTIFIER_OPS_ADDRESS")

	vip.BindEnv("rate_limit.enabled", "RATE_LIMIT_ENABLED")
	vip.BindEnv("log.level", "LOG_LEVEL")
	vip.BindEnv("log.pretty", "LOG_PRETTY")

	if configPath != "" {
		vip.SetConfigFile(configPath)
		// A missing file is fine: env vars and defaults still apply.
		if err := vip.ReadInConfig(); err != nil {
			log.Warn().Err(err).Str("path", configPath).Msg("config file not read, using env vars and defaults")
		}
	}

	var cfg Config
	if err := vip.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.IdentityProvider.APIKey) == "" {
		return fmt.Errorf("identity provider api key is required (check IDENTITY_PROVIDER_API_KEY env var)")
	}
	if strings.TrimSpace(c.IdentityProvider.BaseURL) == "" {
		return fmt.Errorf("identity provider base url is required")
	}
	if c.IdentityProvider.MutateTimeout <= 0 {
		c.IdentityProvider.MutateTimeout = DefaultProviderMutateTimeout
	}
	if c.IdentityProvider.ProbeTimeout <= 0 {
		c.IdentityProvider.ProbeTimeout = DefaultProviderProbeTimeout
	}
	if strings.TrimSpace(c.Operator.JWTSecret) == "" {
		return fmt.Errorf("operator jwt secret is required (check OPERATOR_JWT_SECRET env var)")
	}
	if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
		return fmt.Errorf("database configuration (host, dbname, user) is incomplete (check DATABASE_HOST, DATABASE_DBNAME, DATABASE_USER env vars)")
	}
	if c.Server.IsRelease() && c.Database.Password == "" {
		return fmt.Errorf("database password is required in release mode (check DATABASE_PASSWORD env var)")
	}
	return nil
}
