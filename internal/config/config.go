package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"fleetsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Storage    StorageConfig    `yaml:"storage"`
	Sync       SyncConfig       `yaml:"sync"`
	Network    NetworkConfig    `yaml:"network"`
	GPS        GPSConfig        `yaml:"gps"`
	Server     ServerConfig     `yaml:"server"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// APIConfig describes the remote proof and GPS services.
type APIConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Token     string          `yaml:"token"`
	OAuth2    OAuth2Config    `yaml:"oauth2"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type OAuth2Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client-credentials auth is configured.
func (c OAuth2Config) Enabled() bool {
	return c.ClientID != "" && c.TokenURL != ""
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type StorageConfig struct {
	Driver   string      `yaml:"driver"`
	Path     string      `yaml:"path"`
	Redis    RedisConfig `yaml:"redis"`
	Failover bool        `yaml:"failover"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SyncConfig struct {
	MaxRetries int             `yaml:"max_retries"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

type NetworkConfig struct {
	ProbeURL      string        `yaml:"probe_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type GPSConfig struct {
	TruckID        string        `yaml:"truck_id"`
	Interval       time.Duration `yaml:"interval"`
	BufferCapacity int           `yaml:"buffer_capacity"`
	InitialStatus  string        `yaml:"initial_status"`
	RouteFile      string        `yaml:"route_file"`
}

type ServerConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Port      int             `yaml:"port"`
	APIKey    string          `yaml:"api_key"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type AlertsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool    `yaml:"enabled"`
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

func Load(configPath string) (*Config, error) {
	// .env is optional on devices; only a malformed file is an error
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api base_url is required")
	}

	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.Path == "" {
			return errors.New("storage path is required for sqlite driver")
		}
	case DriverRedis:
		if c.Storage.Redis.Address == "" {
			return errors.New("storage redis address is required for redis driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Storage.Driver)
	}

	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync max_retries must be >= 1, got %d", c.Sync.MaxRetries)
	}
	if c.GPS.Interval <= 0 {
		return errors.New("gps interval must be positive")
	}
	if c.GPS.BufferCapacity < 1 {
		return fmt.Errorf("gps buffer_capacity must be >= 1, got %d", c.GPS.BufferCapacity)
	}
	if c.GPS.InitialStatus != "" && !models.TruckStatus(c.GPS.InitialStatus).Valid() {
		return fmt.Errorf("unknown gps initial_status: %s", c.GPS.InitialStatus)
	}
	if c.Alerts.Telegram.Enabled && c.Alerts.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required when alerts are enabled")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "fleetsync"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 15 * time.Second
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverSQLite
	}
	if c.Storage.Driver == DriverSQLite && c.Storage.Path == "" {
		c.Storage.Path = "data/fleetsync.db"
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = models.DefaultMaxRetries
	}
	if c.Network.ProbeInterval == 0 {
		c.Network.ProbeInterval = 5 * time.Second
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = 3 * time.Second
	}
	if c.Network.ProbeURL == "" && c.API.BaseURL != "" {
		c.Network.ProbeURL = strings.TrimRight(c.API.BaseURL, "/") + "/actuator/health"
	}
	if c.GPS.Interval == 0 {
		c.GPS.Interval = models.DefaultTrackingInterval * time.Second
	}
	if c.GPS.BufferCapacity == 0 {
		c.GPS.BufferCapacity = models.DefaultGPSBufferCapacity
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
