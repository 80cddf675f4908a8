package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" envconfig:"SERVER"`
	Database DatabaseConfig `yaml:"database" envconfig:"DATABASE"`
	Stripe   StripeConfig   `yaml:"stripe" envconfig:"STRIPE"`
	Coinbase CoinbaseConfig `yaml:"coinbase" envconfig:"COINBASE"`
	Keys     KeysConfig     `yaml:"keys" envconfig:"KEYS"`
	Claims   ClaimsConfig   `yaml:"claims" envconfig:"CLAIMS"`
	Email    EmailConfig    `yaml:"email" envconfig:"EMAIL"`
	Security SecurityConfig `yaml:"security" envconfig:"SECURITY"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	BaseURL         string        `yaml:"base_url" envconfig:"BASE_URL" default:"http://localhost:8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"15s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig contains Postgres connection configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url" envconfig:"URL"`
	MaxConns        int32         `yaml:"max_conns" envconfig:"MAX_CONNS" default:"8"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT" default:"10s"`
	SweeperInterval time.Duration `yaml:"sweeper_interval" envconfig:"SWEEPER_INTERVAL" default:"10m"`
}

// StripeConfig contains Stripe API and webhook configuration
type StripeConfig struct {
	SecretKey     string        `yaml:"secret_key" envconfig:"SECRET_KEY"`
	WebhookSecret string        `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
	Tolerance     time.Duration `yaml:"tolerance" envconfig:"TOLERANCE" default:"300s"`
}

// CoinbaseConfig contains Coinbase Commerce webhook configuration
type CoinbaseConfig struct {
	WebhookSecret string `yaml:"webhook_secret" envconfig:"WEBHOOK_SECRET"`
}

// KeysConfig contains license key issuance configuration
type KeysConfig struct {
	// HashSecret salts the one-way key hash: sha256(secret:key).
	HashSecret string `yaml:"hash_secret" envconfig:"HASH_SECRET"`
	// DeliverySecret is the server-held secret the bundle cipher key is
	// derived from.
	DeliverySecret string `yaml:"delivery_secret" envconfig:"DELIVERY_SECRET"`
	// FulfillSecret guards the internal /api/fulfill endpoint.
	FulfillSecret string `yaml:"fulfill_secret" envconfig:"FULFILL_SECRET"`
}

// ClaimsConfig contains claim token configuration
type ClaimsConfig struct {
	TokenTTL   time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL" default:"30m"`
	RatePerMin int           `yaml:"rate_per_min" envconfig:"RATE_PER_MIN" default:"30"`
	RateBurst  int           `yaml:"rate_burst" envconfig:"RATE_BURST" default:"10"`
}

// EmailConfig contains transactional email (Resend) configuration
type EmailConfig struct {
	APIKey  string `yaml:"api_key" envconfig:"API_KEY"`
	From    string `yaml:"from" envconfig:"FROM"`
	ReplyTo string `yaml:"reply_to" envconfig:"REPLY_TO"`
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL" default:"https://api.resend.com"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS" default:"true"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	// AuthBaseURL is the collaborator endpoint used to resolve bearer
	// tokens for /api/redeem. AuthServiceKey is sent as its apikey header.
	AuthBaseURL    string `yaml:"auth_base_url" envconfig:"AUTH_BASE_URL"`
	AuthServiceKey string `yaml:"auth_service_key" envconfig:"AUTH_SERVICE_KEY"`
}

// RateLimitConfig contains global rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED" default:"true"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" default:"100"`
	Burst   int     `yaml:"burst" envconfig:"BURST" default:"50"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format      string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output      string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT" default:"false"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Load from environment variables first
	if err := envconfig.Process("ROSINA", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// Load from config file if exists
	configFile := getConfigFilePath()
	if configFile != "" {
		fileConfig, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileConfig, cfg)
	}

	// Validate configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs merges file config with env config (env takes precedence)
func mergeConfigs(fileConfig, envConfig Config) Config {
	if envConfig.Server.Port == 0 {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if envConfig.Server.BaseURL == "" {
		envConfig.Server.BaseURL = fileConfig.Server.BaseURL
	}
	if envConfig.Database.URL == "" {
		envConfig.Database.URL = fileConfig.Database.URL
	}
	if envConfig.Stripe.SecretKey == "" {
		envConfig.Stripe.SecretKey = fileConfig.Stripe.SecretKey
	}
	if envConfig.Stripe.WebhookSecret == "" {
		envConfig.Stripe.WebhookSecret = fileConfig.Stripe.WebhookSecret
	}
	if envConfig.Coinbase.WebhookSecret == "" {
		envConfig.Coinbase.WebhookSecret = fileConfig.Coinbase.WebhookSecret
	}
	if envConfig.Keys.HashSecret == "" {
		envConfig.Keys.HashSecret = fileConfig.Keys.HashSecret
	}
	if envConfig.Keys.DeliverySecret == "" {
		envConfig.Keys.DeliverySecret = fileConfig.Keys.DeliverySecret
	}
	if envConfig.Keys.FulfillSecret == "" {
		envConfig.Keys.FulfillSecret = fileConfig.Keys.FulfillSecret
	}
	if envConfig.Email.APIKey == "" {
		envConfig.Email.APIKey = fileConfig.Email.APIKey
	}
	if envConfig.Email.From == "" {
		envConfig.Email.From = fileConfig.Email.From
	}
	if envConfig.Security.AuthBaseURL == "" {
		envConfig.Security.AuthBaseURL = fileConfig.Security.AuthBaseURL
	}
	if envConfig.Security.AuthServiceKey == "" {
		envConfig.Security.AuthServiceKey = fileConfig.Security.AuthServiceKey
	}

	return envConfig
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	if c.Keys.HashSecret == "" {
		return fmt.Errorf("keys hash secret is required")
	}

	if c.Keys.DeliverySecret == "" {
		return fmt.Errorf("keys delivery secret is required")
	}

	if c.Keys.FulfillSecret == "" {
		return fmt.Errorf("fulfill secret is required")
	}

	if c.Claims.TokenTTL <= 0 {
		return fmt.Errorf("claim token ttl must be positive")
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	// Always use JSON logging format
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/app.log"
	}

	return nil
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	// Check for config file in common locations
	locations := []string{
		"config.yaml",
		"configs/config.yaml",
		"../configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No config file found, use env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			BaseURL:         "http://localhost:8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxConns:        8,
			ConnectTimeout:  10 * time.Second,
			SweeperInterval: 10 * time.Minute,
		},
		Stripe: StripeConfig{
			Tolerance: 300 * time.Second,
		},
		Claims: ClaimsConfig{
			TokenTTL:   30 * time.Minute,
			RatePerMin: 30,
			RateBurst:  10,
		},
		Email: EmailConfig{
			BaseURL: "https://api.resend.com",
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/app.log",
		},
	}
}
