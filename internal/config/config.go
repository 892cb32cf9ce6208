// Package config loads Geomark configuration from the environment.
package config

import (
	"fmt"
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
	Server       ServerConfig
	App          AppConfig
	Storage      StorageConfig
	Remote       RemoteConfig
	Sync         SyncConfig
	Connectivity ConnectivityConfig
}

// ServerConfig holds local control API settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"127.0.0.1"`
	Port            int           `envconfig:"SERVER_PORT" default:"8787"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"geomarkd"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"0.1.0"`
}

// StorageConfig holds the local store settings.
type StorageConfig struct {
	DataDir string `envconfig:"DATA_DIR" default:"./data"`
}

// RemoteConfig holds remote landmark API settings.
type RemoteConfig struct {
	BaseURL   string        `envconfig:"REMOTE_BASE_URL" default:"https://labs.anontech.info/cse489/t3/api.php"`
	AuthToken string        `envconfig:"REMOTE_AUTH_TOKEN" default:""`
	Timeout   time.Duration `envconfig:"REMOTE_TIMEOUT" default:"30s"`
}

// SyncConfig holds sync orchestrator settings.
type SyncConfig struct {
	Interval    time.Duration `envconfig:"SYNC_INTERVAL" default:"5m"`
	MaxAttempts int           `envconfig:"SYNC_MAX_ATTEMPTS" default:"3"`
	QueueSize   int           `envconfig:"SYNC_QUEUE_SIZE" default:"1000"`
}

// ConnectivityConfig holds reachability probe settings.
type ConnectivityConfig struct {
	ProbeInterval time.Duration `envconfig:"CONNECTIVITY_PROBE_INTERVAL" default:"15s"`
	ProbeTimeout  time.Duration `envconfig:"CONNECTIVITY_PROBE_TIMEOUT" default:"5s"`
	Debounce      time.Duration `envconfig:"CONNECTIVITY_DEBOUNCE" default:"10s"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad reads configuration and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
