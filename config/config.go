// Package config loads service configuration and initialises logging.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the root configuration tree.
type Config struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Server       ServerConfig       `yaml:"server" mapstructure:"server"`
	Auth         AuthConfig         `yaml:"auth" mapstructure:"auth"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Claims       ClaimsConfig       `yaml:"claims" mapstructure:"claims"`
	Mail         MailConfig         `yaml:"mail" mapstructure:"mail"`
	Tracking     TrackingConfig     `yaml:"tracking" mapstructure:"tracking"`
	Outbox       OutboxConfig       `yaml:"outbox" mapstructure:"outbox"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
	Telemetry    TelemetryConfig    `yaml:"telemetry" mapstructure:"telemetry"`
}

// StoreConfig configures the PostgreSQL connection.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port" mapstructure:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// AuthConfig configures access tokens.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl" mapstructure:"token_ttl"`
}

// VerificationConfig configures emailed action codes.
type VerificationConfig struct {
	LinkBaseURL string        `yaml:"link_base_url" mapstructure:"link_base_url"`
	TTL         time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// ClaimsConfig configures the claim workflow.
type ClaimsConfig struct {
	CredentialTTL    time.Duration `yaml:"credential_ttl" mapstructure:"credential_ttl"`
	TrackingAttempts int           `yaml:"tracking_attempts" mapstructure:"tracking_attempts"`
}

// MailConfig selects and configures the outbound mailer.
type MailConfig struct {
	Driver     string  `yaml:"driver" mapstructure:"driver"`
	WebhookURL string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	APIKey     string  `yaml:"api_key" mapstructure:"api_key"`
	From       string  `yaml:"from" mapstructure:"from"`
	RatePerSec float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	MaxRetries uint64  `yaml:"max_retries" mapstructure:"max_retries"`
}

// TrackingConfig limits anonymous tracking lookups per client.
type TrackingConfig struct {
	RatePerMinute float64 `yaml:"rate_per_minute" mapstructure:"rate_per_minute"`
	Burst         int     `yaml:"burst" mapstructure:"burst"`
}

// OutboxConfig configures the outbox relay.
type OutboxConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	BatchSize    int           `yaml:"batch_size" mapstructure:"batch_size"`
	MaxAttempts  int           `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TelemetryConfig toggles OpenTelemetry metrics.
type TelemetryConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	ExportInterval time.Duration `yaml:"export_interval" mapstructure:"export_interval"`
}

// Load reads configuration from .env, config.yaml and REALTY_* environment variables.
func Load() (*Config, error) {
	// A missing .env is the normal case outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REALTY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("verification.link_base_url", "http://localhost:3000/verify")
	v.SetDefault("verification.ttl", 24*time.Hour)
	v.SetDefault("claims.credential_ttl", 30*24*time.Hour)
	v.SetDefault("claims.tracking_attempts", 8)
	v.SetDefault("mail.driver", "log")
	v.SetDefault("mail.webhook_url", "")
	v.SetDefault("mail.api_key", "")
	v.SetDefault("mail.from", "no-reply@realtyclaims.local")
	v.SetDefault("mail.rate_per_second", 5.0)
	v.SetDefault("mail.max_retries", 3)
	v.SetDefault("tracking.rate_per_minute", 20.0)
	v.SetDefault("tracking.burst", 5)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.batch_size", 20)
	v.SetDefault("outbox.max_attempts", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.export_interval", 15*time.Second)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings the API server cannot start without.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required")
	}
	if c.Auth.JWTSecret == "" {
		return eris.New("config: auth.jwt_secret is required")
	}
	switch c.Mail.Driver {
	case "log":
	case "webhook":
		if c.Mail.WebhookURL == "" {
			return eris.New("config: mail.webhook_url is required for the webhook driver")
		}
	default:
		return eris.Errorf("config: unknown mail driver %q", c.Mail.Driver)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
