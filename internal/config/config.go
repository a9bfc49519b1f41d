package config

import (
	"fmt"
	"os"
	"time"

	"chatsync/internal/utils"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port    string `yaml:"port"`
		BaseURL string `yaml:"base_url"`
		// UploadDir holds avatar uploads served under /uploads
		UploadDir string `yaml:"upload_dir"`
	} `yaml:"server"`
	Storage struct {
		// Driver is "postgres" or "memory"
		Driver      string `yaml:"driver"`
		DatabaseURL string `yaml:"database_url"`
	} `yaml:"storage"`
	Auth struct {
		JWTSecret  string        `yaml:"jwt_secret"`
		AccessTTL  time.Duration `yaml:"access_ttl"`
		RefreshTTL time.Duration `yaml:"refresh_ttl"`
	} `yaml:"auth"`
	Realtime struct {
		EventsPerSecond float64 `yaml:"events_per_second"`
		EventBurst      int     `yaml:"event_burst"`
	} `yaml:"realtime"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// Default returns the configuration used when neither a file nor env vars say otherwise.
func Default() *Config {
	c := &Config{}
	c.Server.Port = "3001"
	c.Server.UploadDir = "uploads"
	c.Storage.Driver = "postgres"
	c.Auth.JWTSecret = "secret"
	c.Auth.AccessTTL = 72 * time.Hour
	c.Auth.RefreshTTL = 30 * 24 * time.Hour
	c.Realtime.EventsPerSecond = 10
	c.Realtime.EventBurst = 20
	c.Logging.Level = "info"
	return c
}

// Load merges defaults, the optional YAML file named by CHATSYNC_CONFIG and the environment,
// in that order of precedence (env wins).
func Load() (*Config, error) {
	_ = utils.LoadEnv()
	c := Default()
	if path := utils.GetEnv("CHATSYNC_CONFIG", ""); path != "" {
		if err := c.mergeFile(path); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = utils.GetEnv("PORT", c.Server.Port)
	c.Server.BaseURL = utils.GetEnv("BASE_URL", c.Server.BaseURL)
	c.Server.UploadDir = utils.GetEnv("UPLOAD_DIR", c.Server.UploadDir)
	c.Storage.Driver = utils.GetEnv("STORAGE", c.Storage.Driver)
	c.Storage.DatabaseURL = utils.GetEnv("DATABASE_URL", c.Storage.DatabaseURL)
	if c.Storage.DatabaseURL == "" {
		// Fallback to individual vars
		c.Storage.DatabaseURL = "postgres://" + utils.GetEnv("POSTGRES_USER", "postgres") + ":" +
			utils.GetEnv("POSTGRES_PASSWORD", "postgres") + "@" +
			utils.GetEnv("POSTGRES_HOST", "localhost") + ":" +
			utils.GetEnv("POSTGRES_PORT", "5432") + "/" +
			utils.GetEnv("POSTGRES_DB", "chatdb") + "?sslmode=disable"
	}
	c.Auth.JWTSecret = utils.GetEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AccessTTL = utils.GetEnvDuration("JWT_ACCESS_TTL", c.Auth.AccessTTL)
	c.Auth.RefreshTTL = utils.GetEnvDuration("JWT_REFRESH_TTL", c.Auth.RefreshTTL)
	c.Realtime.EventsPerSecond = utils.GetEnvFloat("WS_EVENTS_PER_SECOND", c.Realtime.EventsPerSecond)
	c.Realtime.EventBurst = utils.GetEnvInt("WS_EVENT_BURST", c.Realtime.EventBurst)
	c.Logging.Level = utils.GetEnv("LOG_LEVEL", c.Logging.Level)
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret must not be empty")
	}
	if c.Realtime.EventsPerSecond <= 0 || c.Realtime.EventBurst <= 0 {
		return fmt.Errorf("realtime rate limit must be positive")
	}
	return nil
}
