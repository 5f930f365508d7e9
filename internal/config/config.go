// Package config loads process configuration from a YAML file with
// environment variable overrides. The loaded Config is constructed once
// in main and passed down explicitly; no package holds ambient state.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors-origins"`
}

// DatabaseConfig holds the durable store DSN.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// AuthConfig holds credential verification settings.
type AuthConfig struct {
	JWTSecret                 string `yaml:"jwt-secret"`
	JWTRefreshSecret          string `yaml:"jwt-refresh-secret"`
	AccessTokenExpireMinutes  int    `yaml:"access-token-expire-minutes"`
	RefreshTokenExpireMinutes int    `yaml:"refresh-token-expire-minutes"`
	InitToken                 string `yaml:"init-token"`
}

// AccessTokenExpiry returns the access token lifetime.
func (c AuthConfig) AccessTokenExpiry() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenExpiry returns the refresh token lifetime.
func (c AuthConfig) RefreshTokenExpiry() time.Duration {
	return time.Duration(c.RefreshTokenExpireMinutes) * time.Minute
}

// OpenAIConfig holds downstream provider settings.
type OpenAIConfig struct {
	APIKey         string `yaml:"api-key"`
	BaseURL        string `yaml:"base-url"`
	TimeoutSeconds int    `yaml:"timeout-seconds"`
}

// Timeout returns the provider call timeout.
func (c OpenAIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig holds optional rate limiter settings. Rate limiting is
// disabled when Addr is empty.
type RedisConfig struct {
	Addr              string `yaml:"addr"`
	Password          string `yaml:"password"`
	DB                int    `yaml:"db"`
	RequestsPerSecond int    `yaml:"requests-per-second"`
}

// UsageConfig holds usage ledger retention settings.
type UsageConfig struct {
	RetentionDays int `yaml:"retention-days"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// Config is the root configuration passed down from main.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Redis    RedisConfig    `yaml:"redis"`
	Usage    UsageConfig    `yaml:"usage"`
	Log      LogConfig      `yaml:"log"`
}

// Default values applied when neither file nor environment set a field.
const (
	defaultHost                      = "0.0.0.0"
	defaultPort                      = 5000
	defaultDSN                       = "openai-api.db"
	defaultAccessTokenExpireMinutes  = 30
	defaultRefreshTokenExpireMinutes = 60 * 24 * 7
	defaultOpenAIBaseURL             = "https://api.openai.com"
	defaultOpenAITimeoutSeconds      = 120
	defaultRetentionDays             = 60
	defaultLogLevel                  = "info"
)

// Load reads the configuration file at path, applies environment
// overrides, fills defaults, and validates required fields. An empty
// path skips the file and uses environment and defaults only.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		data, errRead := os.ReadFile(path)
		if errRead != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, errRead)
		}
		if errUnmarshal := yaml.Unmarshal(data, &cfg); errUnmarshal != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, errUnmarshal)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return Config{}, fmt.Errorf("config: missing auth.jwt-secret (or JWT_SECRET_KEY)")
	}
	if strings.TrimSpace(cfg.Auth.JWTRefreshSecret) == "" {
		return Config{}, fmt.Errorf("config: missing auth.jwt-refresh-secret (or JWT_REFRESH_SECRET_KEY)")
	}
	if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
		return Config{}, fmt.Errorf("config: missing openai.api-key (or OPENAI_API_KEY)")
	}
	return cfg, nil
}

// applyEnvOverrides maps environment variables onto the config. The
// variable names follow the deployment conventions of the service.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.Server.Host, "HOST")
	setInt(&cfg.Server.Port, "PORT")
	setString(&cfg.Database.DSN, "DB_URL")
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET_KEY")
	setString(&cfg.Auth.JWTRefreshSecret, "JWT_REFRESH_SECRET_KEY")
	setInt(&cfg.Auth.AccessTokenExpireMinutes, "ACCESS_TOKEN_EXPIRE_MINUTE")
	setInt(&cfg.Auth.RefreshTokenExpireMinutes, "REFRESH_TOKEN_EXPIRE_MINUTE")
	setString(&cfg.Auth.InitToken, "AUTH_INIT_TOKEN")
	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setInt(&cfg.OpenAI.TimeoutSeconds, "OPENAI_TIMEOUT_SECONDS")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.RequestsPerSecond, "RATE_LIMIT_PER_SECOND")
	setInt(&cfg.Usage.RetentionDays, "USAGE_RETENTION_DAYS")
	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.File, "LOG_FILE")
}

// applyDefaults fills zero-valued fields with defaults.
func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Server.Host) == "" {
		cfg.Server.Host = defaultHost
	}
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = defaultPort
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		cfg.Database.DSN = defaultDSN
	}
	if cfg.Auth.AccessTokenExpireMinutes <= 0 {
		cfg.Auth.AccessTokenExpireMinutes = defaultAccessTokenExpireMinutes
	}
	if cfg.Auth.RefreshTokenExpireMinutes <= 0 {
		cfg.Auth.RefreshTokenExpireMinutes = defaultRefreshTokenExpireMinutes
	}
	if strings.TrimSpace(cfg.OpenAI.BaseURL) == "" {
		cfg.OpenAI.BaseURL = defaultOpenAIBaseURL
	}
	if cfg.OpenAI.TimeoutSeconds <= 0 {
		cfg.OpenAI.TimeoutSeconds = defaultOpenAITimeoutSeconds
	}
	if cfg.Usage.RetentionDays <= 0 {
		cfg.Usage.RetentionDays = defaultRetentionDays
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = defaultLogLevel
	}
}

func setString(dst *string, key string) {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			*dst = trimmed
		}
	}
}

func setInt(dst *int, key string) {
	if value, ok := os.LookupEnv(key); ok {
		parsed, errParse := strconv.Atoi(strings.TrimSpace(value))
		if errParse == nil {
			*dst = parsed
		}
	}
}
