// Package config loads service configuration from an optional YAML file,
// environment overrides and built-in defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	AuthModeDisabled = "disabled"
	AuthModeJWT      = "jwt"
)

type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	MinIO    MinIOConfig    `yaml:"minio"`
	HTTP     HTTPConfig     `yaml:"http"`
	Render   ServiceConfig  `yaml:"render"`
	Assets   ServiceConfig  `yaml:"assets"`
	Enrich   EnrichConfig   `yaml:"enrich"`
	Auth     AuthConfig     `yaml:"auth"`
}

type AppConfig struct {
	Addr        string   `yaml:"addr"`
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`
	GinMode     string   `yaml:"gin_mode"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Driver       string `yaml:"driver"`
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

type MinIOConfig struct {
	Endpoint      string `yaml:"endpoint"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	Secure        bool   `yaml:"secure"`
	Bucket        string `yaml:"bucket"`
	PublicBaseURL string `yaml:"public_base_url"`
}

// HTTPConfig bounds outbound calls made while classifying and scraping.
type HTTPConfig struct {
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	ScrapeTimeout time.Duration `yaml:"scrape_timeout"`
	UserAgent     string        `yaml:"user_agent"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes"`
}

// ServiceConfig describes an external HTTP collaborator. An empty BaseURL
// disables it.
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type EnrichConfig struct {
	Workers    int           `yaml:"workers"`
	QueueSize  int           `yaml:"queue_size"`
	JobTimeout time.Duration `yaml:"job_timeout"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type AuthConfig struct {
	Mode          string `yaml:"mode"`
	JWTSecret     string `yaml:"jwt_secret"`
	DefaultUserID string `yaml:"default_user_id"`
	// Admins may change service endpoints. Ignored when auth is disabled.
	Admins []string `yaml:"admins"`
}

func Default() *Config {
	return &Config{
		App: AppConfig{
			Addr:      ":8080",
			LogLevel:  "info",
			LogFormat: "text",
			GinMode:   "release",
		},
		Database: DatabaseConfig{
			Driver:       DriverMySQL,
			DSN:          "stash:stash@tcp(127.0.0.1:3306)/stash?charset=utf8mb4&parseTime=True&loc=Local",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		MinIO: MinIOConfig{
			Endpoint:  "127.0.0.1:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "stash",
		},
		HTTP: HTTPConfig{
			ProbeTimeout:  4 * time.Second,
			ScrapeTimeout: 8 * time.Second,
			MaxBodyBytes:  20 << 20,
		},
		Render: ServiceConfig{Timeout: 9 * time.Second},
		Assets: ServiceConfig{Timeout: 9 * time.Second},
		Enrich: EnrichConfig{
			Workers:    4,
			QueueSize:  1000,
			JobTimeout: 45 * time.Second,
			StaleAfter: 10 * time.Minute,
		},
		Auth: AuthConfig{
			Mode:          AuthModeDisabled,
			DefaultUserID: "local",
		},
	}
}

// Load reads filename (when it exists) over the defaults, applies environment
// overrides and validates the result.
func Load(filename string) (*Config, error) {
	cfg := Default()
	if filename != "" {
		data, err := os.ReadFile(filename)
		switch {
		case err == nil:
			expanded := os.ExpandEnv(string(data))
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, errors.Wrapf(err, "parse config file %s", filename)
			}
		case !os.IsNotExist(err):
			return nil, errors.Wrapf(err, "read config file %s", filename)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.App.Addr = getenv("ADDR", c.App.Addr)
	c.App.LogLevel = getenv("LOG_LEVEL", c.App.LogLevel)
	c.App.LogFormat = getenv("LOG_FORMAT", c.App.LogFormat)
	c.App.GinMode = getenv("GIN_MODE", c.App.GinMode)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.App.CORSOrigins = strings.Split(v, ",")
	}

	c.Database.Driver = getenv("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getenv("DB_DSN", c.Database.DSN)
	c.Database.MaxOpenConns = getenvInt("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)

	c.MinIO.Endpoint = getenv("MINIO_ENDPOINT", c.MinIO.Endpoint)
	c.MinIO.AccessKey = getenv("MINIO_ACCESS_KEY", c.MinIO.AccessKey)
	c.MinIO.SecretKey = getenv("MINIO_SECRET_KEY", c.MinIO.SecretKey)
	c.MinIO.Secure = getenvBool("MINIO_SECURE", c.MinIO.Secure)
	c.MinIO.Bucket = getenv("MINIO_BUCKET", c.MinIO.Bucket)
	c.MinIO.PublicBaseURL = getenv("MINIO_PUBLIC_BASE_URL", c.MinIO.PublicBaseURL)

	c.HTTP.ProbeTimeout = getenvSeconds("PROBE_TIMEOUT_SECONDS", c.HTTP.ProbeTimeout)
	c.HTTP.ScrapeTimeout = getenvSeconds("SCRAPE_TIMEOUT_SECONDS", c.HTTP.ScrapeTimeout)
	c.HTTP.UserAgent = getenv("SCRAPE_USER_AGENT", c.HTTP.UserAgent)

	c.Render.BaseURL = getenv("RENDER_BASE_URL", c.Render.BaseURL)
	c.Render.APIKey = getenv("RENDER_API_KEY", c.Render.APIKey)
	c.Render.Timeout = getenvSeconds("RENDER_TIMEOUT_SECONDS", c.Render.Timeout)
	c.Assets.BaseURL = getenv("ASSETS_BASE_URL", c.Assets.BaseURL)
	c.Assets.APIKey = getenv("ASSETS_API_KEY", c.Assets.APIKey)
	c.Assets.Timeout = getenvSeconds("ASSETS_TIMEOUT_SECONDS", c.Assets.Timeout)

	c.Enrich.Workers = getenvInt("ENRICH_WORKERS", c.Enrich.Workers)
	c.Enrich.QueueSize = getenvInt("ENRICH_QUEUE_SIZE", c.Enrich.QueueSize)
	c.Enrich.JobTimeout = getenvSeconds("ENRICH_JOB_TIMEOUT_SECONDS", c.Enrich.JobTimeout)

	c.Auth.Mode = getenv("AUTH_MODE", c.Auth.Mode)
	c.Auth.JWTSecret = getenv("JWT_SECRET", c.Auth.JWTSecret)
	if v := os.Getenv("AUTH_ADMINS"); v != "" {
		c.Auth.Admins = strings.Split(v, ",")
	}
}

func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.App,
		validation.Field(&c.App.Addr, validation.Required),
		validation.Field(&c.App.LogFormat, validation.In("text", "json")),
		validation.Field(&c.App.GinMode, validation.In("debug", "release", "test")),
	); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := validation.ValidateStruct(&c.Database,
		validation.Field(&c.Database.Driver, validation.Required, validation.In(DriverMySQL, DriverPostgres, DriverSQLite)),
		validation.Field(&c.Database.DSN, validation.Required),
		validation.Field(&c.Database.MaxOpenConns, validation.Min(1)),
	); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := validation.ValidateStruct(&c.MinIO,
		validation.Field(&c.MinIO.Endpoint, validation.Required),
		validation.Field(&c.MinIO.Bucket, validation.Required),
	); err != nil {
		return fmt.Errorf("minio: %w", err)
	}
	if err := validation.ValidateStruct(&c.HTTP,
		validation.Field(&c.HTTP.ProbeTimeout, validation.Required, validation.Max(10*time.Second)),
		validation.Field(&c.HTTP.ScrapeTimeout, validation.Required, validation.Max(10*time.Second)),
		validation.Field(&c.HTTP.MaxBodyBytes, validation.Required),
	); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := validation.ValidateStruct(&c.Enrich,
		validation.Field(&c.Enrich.Workers, validation.Required, validation.Min(1)),
		validation.Field(&c.Enrich.QueueSize, validation.Required, validation.Min(1)),
		validation.Field(&c.Enrich.JobTimeout, validation.Required),
	); err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	if c.Auth.Mode == "" {
		c.Auth.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.Mode, validation.In(AuthModeDisabled, AuthModeJWT)),
	); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if c.Auth.Mode == AuthModeJWT && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth: mode is %q but jwt_secret is empty", AuthModeJWT)
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getenvSeconds(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return def
}
