package config

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// Config represents the complete configuration for the taskdeck service.
type Config struct {
	Server     ServerConfig     `koanf:"server"     validate:"required"`
	Database   DatabaseConfig   `koanf:"database"   validate:"required"`
	Redis      RedisConfig      `koanf:"redis"`
	Executor   ExecutorConfig   `koanf:"executor"   validate:"required"`
	Crypto     CryptoConfig     `koanf:"crypto"`
	Tools      ToolsConfig      `koanf:"tools"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host         string        `koanf:"host"          validate:"required"        env:"SERVER_HOST"`
	Port         int           `koanf:"port"          validate:"min=1,max=65535" env:"SERVER_PORT"`
	CORSEnabled  bool          `koanf:"cors_enabled"                             env:"SERVER_CORS_ENABLED"`
	CORS         CORSConfig    `koanf:"cors"`
	ReadTimeout  time.Duration `koanf:"read_timeout"                             env:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `koanf:"write_timeout"                            env:"SERVER_WRITE_TIMEOUT"`
	MaxUploadMB  int           `koanf:"max_upload_mb" validate:"min=1"           env:"SERVER_MAX_UPLOAD_MB"`
	Auth         AuthConfig    `koanf:"auth"`
}

// CORSConfig contains CORS configuration.
type CORSConfig struct {
	AllowedOrigins   []string `koanf:"allowed_origins"   env:"SERVER_CORS_ALLOWED_ORIGINS"`
	AllowCredentials bool     `koanf:"allow_credentials" env:"SERVER_CORS_ALLOW_CREDENTIALS"`
	MaxAge           int      `koanf:"max_age"           env:"SERVER_CORS_MAX_AGE"`
}

// AuthConfig maps bearer tokens to the organization and user they act as.
// Tokens use the form "token=organization_id:user_id".
type AuthConfig struct {
	Enabled bool              `koanf:"enabled" env:"SERVER_AUTH_ENABLED"`
	Tokens  []SensitiveString `koanf:"tokens"  env:"SERVER_AUTH_TOKENS"  sensitive:"true"`
}

// DatabaseConfig contains database connection configuration.
type DatabaseConfig struct {
	ConnString      SensitiveString `koanf:"conn_string"       env:"DB_CONN_STRING"       sensitive:"true"`
	Host            string          `koanf:"host"              env:"DB_HOST"`
	Port            string          `koanf:"port"              env:"DB_PORT"`
	User            string          `koanf:"user"              env:"DB_USER"`
	Password        SensitiveString `koanf:"password"          env:"DB_PASSWORD"          sensitive:"true"`
	DBName          string          `koanf:"name"              env:"DB_NAME"`
	SSLMode         string          `koanf:"ssl_mode"          env:"DB_SSL_MODE"`
	MaxOpenConns    int             `koanf:"max_open_conns"    env:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns    int             `koanf:"max_idle_conns"    env:"DB_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration   `koanf:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME"`
	PingTimeout     time.Duration   `koanf:"ping_timeout"      env:"DB_PING_TIMEOUT"`
	AutoMigrate     bool            `koanf:"auto_migrate"      env:"DB_AUTO_MIGRATE"`
}

// DSN returns the connection string, building one from components when needed.
func (c *DatabaseConfig) DSN() string {
	if c.ConnString != "" {
		return string(c.ConnString)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, string(c.Password)),
		Host:   fmt.Sprintf("%s:%s", c.Host, c.Port),
		Path:   "/" + c.DBName,
	}
	if c.SSLMode != "" {
		q := url.Values{}
		q.Set("sslmode", c.SSLMode)
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// RedisConfig configures the live progress fan-out. Empty URL disables it.
type RedisConfig struct {
	URL        string        `koanf:"url"         env:"REDIS_URL"`
	Prefix     string        `koanf:"prefix"      env:"REDIS_PREFIX"`
	MaxEntries int64         `koanf:"max_entries" env:"REDIS_MAX_ENTRIES" validate:"min=0"`
	TTL        time.Duration `koanf:"ttl"         env:"REDIS_TTL"`
}

// ExecutorConfig describes how to reach the external agent executor.
type ExecutorConfig struct {
	BaseURL                  string        `koanf:"base_url"                   validate:"required,url" env:"EXECUTOR_BASE_URL"`
	RequestTimeout           time.Duration `koanf:"request_timeout"                                    env:"EXECUTOR_REQUEST_TIMEOUT"`
	StreamIdleTimeout        time.Duration `koanf:"stream_idle_timeout"                                env:"EXECUTOR_STREAM_IDLE_TIMEOUT"`
	StreamMaxDuration        time.Duration `koanf:"stream_max_duration"                                env:"EXECUTOR_STREAM_MAX_DURATION"`
	StreamReconnectAttempts  uint64        `koanf:"stream_reconnect_attempts"                          env:"EXECUTOR_STREAM_RECONNECT_ATTEMPTS"`
	StreamReconnectBaseDelay time.Duration `koanf:"stream_reconnect_base_delay"                        env:"EXECUTOR_STREAM_RECONNECT_BASE_DELAY"`
	MaxConsumers             int64         `koanf:"max_consumers"              validate:"min=1"        env:"EXECUTOR_MAX_CONSUMERS"`
}

// CryptoConfig holds the keypair used to seal tool and LLM secrets at rest.
type CryptoConfig struct {
	PublicKey  SensitiveString `koanf:"public_key"  env:"CRYPTO_PUBLIC_KEY"  sensitive:"true"`
	PrivateKey SensitiveString `koanf:"private_key" env:"CRYPTO_PRIVATE_KEY" sensitive:"true"`
}

// ToolsConfig controls the tool catalog cache.
type ToolsConfig struct {
	CatalogCacheSize int           `koanf:"catalog_cache_size" validate:"min=1" env:"TOOLS_CATALOG_CACHE_SIZE"`
	CatalogCacheTTL  time.Duration `koanf:"catalog_cache_ttl"                   env:"TOOLS_CATALOG_CACHE_TTL"`
}

// MonitoringConfig controls the Prometheus exporter.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment     string        `koanf:"environment"      validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel        string        `koanf:"log_level"        validate:"oneof=debug info warn error disabled" env:"RUNTIME_LOG_LEVEL"`
	LogJSON         bool          `koanf:"log_json"                                                         env:"RUNTIME_LOG_JSON"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"                                                 env:"RUNTIME_SHUTDOWN_TIMEOUT"`
}

// Service defines the configuration loading interface.
type Service interface {
	// Load loads configuration from the specified sources; later sources win.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns which source provided a configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Default returns a Config with default values for development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5001,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 0,
			MaxUploadMB:  50,
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:3000"},
				MaxAge:         86400,
			},
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			Password:        "postgres",
			DBName:          "taskdeck",
			SSLMode:         "disable",
			MaxOpenConns:    20,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			PingTimeout:     3 * time.Second,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			Prefix:     "taskdeck:progress:",
			MaxEntries: 500,
			TTL:        24 * time.Hour,
		},
		Executor: ExecutorConfig{
			BaseURL:                  "http://localhost:5172",
			RequestTimeout:           60 * time.Second,
			StreamIdleTimeout:        30 * time.Minute,
			StreamMaxDuration:        6 * time.Hour,
			StreamReconnectAttempts:  3,
			StreamReconnectBaseDelay: time.Second,
			MaxConsumers:             256,
		},
		Tools: ToolsConfig{
			CatalogCacheSize: 256,
			CatalogCacheTTL:  5 * time.Minute,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Runtime: RuntimeConfig{
			Environment:     "development",
			LogLevel:        "info",
			ShutdownTimeout: 30 * time.Second,
		},
	}
}
