package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"device-checkin/internal/checkin"
)

// Config represents the agent configuration
type Config struct {
	// Registration service
	ServerURL string `mapstructure:"server_url"`
	ClientID  string `mapstructure:"client_id"`
	Locale    string `mapstructure:"locale"`
	Timeout   int    `mapstructure:"timeout"` // seconds, per HTTP request

	// Credential storage
	DatabasePath  string `mapstructure:"database_path"`
	EncryptionKey string `mapstructure:"encryption_key"` // hex, 32 bytes

	// Logging configuration
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// Checkin scheduling
	CheckinInterval int         `mapstructure:"checkin_interval"` // seconds
	RefreshTick     int         `mapstructure:"refresh_tick"`     // seconds
	Retry           RetryConfig `mapstructure:"retry"`

	// Local status API
	API APIConfig `mapstructure:"api"`
}

// RetryConfig configures the backoff between failed checkins
type RetryConfig struct {
	BaseDelay   int     `mapstructure:"base_delay"` // seconds
	MaxDelay    int     `mapstructure:"max_delay"`  // seconds
	Multiplier  float64 `mapstructure:"multiplier"`
	Jitter      float64 `mapstructure:"jitter"`
	MaxAttempts int     `mapstructure:"max_attempts"`
}

// APIConfig configures the local status API
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		ServerURL:       "https://checkin.example.com",
		ClientID:        "",
		Locale:          "en_US",
		Timeout:         30,
		DatabasePath:    "./checkin.db",
		EncryptionKey:   "",
		LogLevel:        "info",
		LogFile:         "",
		CheckinInterval: int(checkin.DefaultCheckinInterval / time.Second),
		RefreshTick:     60,
		Retry: RetryConfig{
			BaseDelay:   30,
			MaxDelay:    1800,
			Multiplier:  2,
			Jitter:      0.1,
			MaxAttempts: 8,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8089,
		},
	}
}

// Load loads configuration from .env, file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := DefaultConfig()

	// A missing .env is fine
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v, cfg)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/device-checkin")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".device-checkin"))
		}
	}

	v.SetEnvPrefix("CHECKIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper so environment overrides are picked up
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("client_id", cfg.ClientID)
	v.SetDefault("locale", cfg.Locale)
	v.SetDefault("timeout", cfg.Timeout)
	v.SetDefault("database_path", cfg.DatabasePath)
	v.SetDefault("encryption_key", cfg.EncryptionKey)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("checkin_interval", cfg.CheckinInterval)
	v.SetDefault("refresh_tick", cfg.RefreshTick)
	v.SetDefault("retry.base_delay", cfg.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.multiplier", cfg.Retry.Multiplier)
	v.SetDefault("retry.jitter", cfg.Retry.Jitter)
	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}

	if c.EncryptionKey != "" {
		if _, err := c.EncryptionKeyBytes(); err != nil {
			return err
		}
	}

	if c.CheckinInterval <= 0 {
		return fmt.Errorf("checkin_interval must be positive")
	}

	if c.RefreshTick <= 0 {
		return fmt.Errorf("refresh_tick must be positive")
	}

	if err := c.RetryPolicy().Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}

	if c.API.Enabled && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("api.port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// EncryptionKeyBytes decodes the hex encryption key
func (c *Config) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("encryption_key must be hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption_key must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

// RetryPolicy converts the retry settings into a checkin.RetryPolicy
func (c *Config) RetryPolicy() checkin.RetryPolicy {
	return checkin.RetryPolicy{
		BaseDelay:   time.Duration(c.Retry.BaseDelay) * time.Second,
		MaxDelay:    time.Duration(c.Retry.MaxDelay) * time.Second,
		Multiplier:  c.Retry.Multiplier,
		Jitter:      c.Retry.Jitter,
		MaxAttempts: c.Retry.MaxAttempts,
	}
}

// CheckinIntervalDuration returns the checkin interval as a duration
func (c *Config) CheckinIntervalDuration() time.Duration {
	return time.Duration(c.CheckinInterval) * time.Second
}

// RefreshTickDuration returns the refresher tick as a duration
func (c *Config) RefreshTickDuration() time.Duration {
	return time.Duration(c.RefreshTick) * time.Second
}

// TimeoutDuration returns the per-request HTTP timeout as a duration
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
