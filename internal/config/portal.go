package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Storage backends for the portal session store
const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMemory = "memory"
	StorageNone   = "none"
)

// PortalConfig holds the portal client configuration
type PortalConfig struct {
	APIBaseURL     string        `envconfig:"PORTAL_API_BASE_URL" default:"http://localhost:8080"`
	RequestTimeout time.Duration `envconfig:"PORTAL_REQUEST_TIMEOUT" default:"10s"`
	ListenAddr     string        `envconfig:"PORTAL_LISTEN_ADDR" default:"127.0.0.1:3000"`
	LogFile        string        `envconfig:"PORTAL_LOG_FILE" default:""`
	Debug          bool          `envconfig:"PORTAL_DEBUG" default:"false"`

	Storage StorageConfig
	Routes  RoutesConfig
}

// StorageConfig selects the durable medium backing the session store
type StorageConfig struct {
	Backend  string `envconfig:"PORTAL_STORAGE" default:"file"`
	Path     string `envconfig:"PORTAL_STORAGE_PATH" default:""`
	RedisURL string `envconfig:"PORTAL_REDIS_URL" default:""`
	RedisKey string `envconfig:"PORTAL_REDIS_KEY" default:"portal:session"`
}

// RoutesConfig holds redirect targets
type RoutesConfig struct {
	Landing         map[string]string `envconfig:"PORTAL_LANDING_ROUTES" default:"employer:/employer/dashboard,jobseeker:/jobs"`
	Unauthenticated string            `envconfig:"PORTAL_LOGIN_ROUTE" default:"/login"`
	Home            string            `envconfig:"PORTAL_HOME_ROUTE" default:"/"`
}

// LandingFor returns the landing route for a role, falling back to home
func (r RoutesConfig) LandingFor(role string) string {
	if target, ok := r.Landing[role]; ok && target != "" {
		return target
	}
	return r.Home
}

// LoadPortal loads the portal client configuration from the environment
func LoadPortal() (*PortalConfig, error) {
	loadDotEnv()

	var cfg PortalConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load portal configuration: %w", err)
	}

	switch cfg.Storage.Backend {
	case StorageFile, StorageMemory, StorageNone:
	case StorageRedis:
		if cfg.Storage.RedisURL == "" {
			return nil, fmt.Errorf("PORTAL_REDIS_URL is required for the redis storage backend")
		}
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	return &cfg, nil
}
