package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the auth server configuration
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`
	Env  string `envconfig:"ENV" default:"development"`

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	RedisURL string `envconfig:"REDIS_URL" required:"true"`

	// JWT configuration
	JWT JWTConfig

	// CORS configuration
	CORS CORSConfig

	// Rate limiting configuration
	RateLimit RateLimitConfig
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" required:"true"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	Name     string `envconfig:"DB_NAME" required:"true"`
	SSLMode  string `envconfig:"DB_SSL_MODE" default:"require"`

	MaxOpenConns int `envconfig:"DB_MAX_OPEN_CONNS" default:"50"`
}

// ConnectionString returns the PostgreSQL connection string
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// JWTConfig holds signing keys and lifetimes for both token kinds
type JWTConfig struct {
	SecretKey        string        `envconfig:"JWT_SECRET_KEY" required:"true"`
	RefreshSecretKey string        `envconfig:"JWT_REFRESH_SECRET_KEY" required:"true"`
	AccessTokenTTL   time.Duration `envconfig:"JWT_ACCESS_TOKEN_TTL" default:"15m"`
	RefreshTokenTTL  time.Duration `envconfig:"JWT_REFRESH_TOKEN_TTL" default:"168h"`
	Issuer           string        `envconfig:"JWT_ISSUER" default:"jobportal-identity"`
}

// Validate checks the keys and lifetimes the codec depends on
func (j JWTConfig) Validate() error {
	if j.SecretKey == "" || j.RefreshSecretKey == "" {
		return fmt.Errorf("jwt signing keys must not be empty")
	}
	if j.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token ttl must be positive, got %v", j.AccessTokenTTL)
	}
	if j.RefreshTokenTTL <= j.AccessTokenTTL {
		return fmt.Errorf("refresh token ttl (%v) must exceed access token ttl (%v)", j.RefreshTokenTTL, j.AccessTokenTTL)
	}
	return nil
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
}

// RateLimitConfig holds login rate limiting configuration
type RateLimitConfig struct {
	Window          time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"10m"`
	MaxAttempts     int           `envconfig:"RATE_LIMIT_MAX_ATTEMPTS" default:"5"`
	LockoutDuration time.Duration `envconfig:"RATE_LIMIT_LOCKOUT_DURATION" default:"15m"`
}

// Load loads the server configuration from the environment, reading an
// optional .env file first
func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.JWT.Validate(); err != nil {
		return nil, fmt.Errorf("invalid jwt configuration: %w", err)
	}
	return &cfg, nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func loadDotEnv() {
	path := os.Getenv("DOTENV_PATH")
	if path == "" {
		path = ".env"
	}
	// Missing file is fine; the environment may already be populated.
	_ = godotenv.Load(path)
}
