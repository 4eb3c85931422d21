// Package config loads server settings from defaults, an optional YAML file,
// a .env file and ROCKIMAGES_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "ROCKIMAGES"

// Config holds application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Preview  PreviewConfig  `mapstructure:"preview"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	BaseURL         string        `mapstructure:"base_url"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Metrics         bool          `mapstructure:"metrics"`
}

type StorageConfig struct {
	Root string `mapstructure:"root"`
}

type PreviewConfig struct {
	Workers     int   `mapstructure:"workers"`
	QueueSize   int   `mapstructure:"queue_size"`
	MaxWidth    int   `mapstructure:"max_width"`
	JPEGQuality int   `mapstructure:"jpeg_quality"`
	MaxPixels   int64 `mapstructure:"max_pixels"`
}

type CatalogConfig struct {
	DeleteMode    string        `mapstructure:"delete_mode"`
	PurgeAfter    time.Duration `mapstructure:"purge_after"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	RateBurst     int           `mapstructure:"rate_burst"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("server.max_upload_mb", 512)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "rockimages.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.metrics", true)

	v.SetDefault("storage.root", "data/media")

	v.SetDefault("preview.workers", 2)
	v.SetDefault("preview.queue_size", 256)
	v.SetDefault("preview.max_width", 400)
	v.SetDefault("preview.jpeg_quality", 70)
	v.SetDefault("preview.max_pixels", 40_000_000)

	v.SetDefault("catalog.delete_mode", "hard")
	v.SetDefault("catalog.purge_after", 7*24*time.Hour)
	v.SetDefault("catalog.purge_interval", time.Hour)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("auth.rate_per_second", 1.0)
	v.SetDefault("auth.rate_burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. configFile may be empty, in which case
// rockimages.yaml is looked up in the working directory and /etc/rockimages
// and is optional.
func Load(configFile string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("rockimages")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rockimages")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn: must be set")
	}
	if c.Storage.Root == "" {
		return errors.New("storage.root: must be set")
	}
	switch strings.ToLower(c.Catalog.DeleteMode) {
	case "hard", "soft":
	default:
		return fmt.Errorf("catalog.delete_mode: must be hard or soft, got %q", c.Catalog.DeleteMode)
	}
	if c.Preview.JPEGQuality < 1 || c.Preview.JPEGQuality > 100 {
		return fmt.Errorf("preview.jpeg_quality: must be between 1 and 100, got %d", c.Preview.JPEGQuality)
	}
	return nil
}

// MaxUploadBytes is the multipart memory limit handed to gin.
func (c ServerConfig) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}
