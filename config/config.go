// Package config provides configuration for the chat stream service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"gopkg.in/yaml.v3"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Auth settings
	AuthToken string // Bearer credential validated at channel connect time

	// Database
	DatabaseURL string

	// Provider settings
	ProviderName    string
	ProviderBaseURL string
	ProviderAPIKey  string
	Model           string
	SystemPrompt    string
	ProviderTimeout time.Duration

	// WebSocket settings
	PingInterval   time.Duration
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	MaxMessageSize int64

	// Client reconnect settings
	ReconnectMax  int
	ReconnectBase time.Duration

	// Delay between the done event's persisted reload and the streaming
	// buffer clear, so the UI swaps without a visible gap.
	SettleDelay time.Duration

	// Logging
	LogLevel string
}

// fileConfig is the YAML config file shape. Environment variables override
// file values.
type fileConfig struct {
	HTTPPort        int    `yaml:"http_port"`
	AuthToken       string `yaml:"auth_token"`
	DatabaseURL     string `yaml:"database_url"`
	ProviderName    string `yaml:"provider_name"`
	ProviderBaseURL string `yaml:"provider_base_url"`
	ProviderAPIKey  string `yaml:"provider_api_key"`
	Model           string `yaml:"model"`
	SystemPrompt    string `yaml:"system_prompt"`
	LogLevel        string `yaml:"log_level"`
}

// Load loads configuration: defaults, then the optional YAML file named by
// CHATSTREAM_CONFIG, then environment variables (a .env file is picked up
// automatically).
func Load() *Config {
	cfg := &Config{
		HTTPPort:        getEnvInt("HTTP_PORT", 8085),
		AuthToken:       getEnv("AUTH_TOKEN", ""),
		DatabaseURL:     getEnv("DATABASE_URL", "file:chatstream.db?cache=shared&mode=rwc"),
		ProviderName:    getEnv("PROVIDER_NAME", "openai"),
		ProviderBaseURL: getEnv("PROVIDER_BASE_URL", "https://api.openai.com"),
		ProviderAPIKey:  getEnv("PROVIDER_API_KEY", ""),
		Model:           getEnv("MODEL", "gpt-4o-mini"),
		SystemPrompt:    getEnv("SYSTEM_PROMPT", ""),
		ProviderTimeout: time.Duration(getEnvInt("PROVIDER_TIMEOUT_MS", 120000)) * time.Millisecond,
		PingInterval:    time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WriteTimeout:    time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		ReadTimeout:     time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		MaxMessageSize:  int64(getEnvInt("WS_MAX_MESSAGE_SIZE", 65536)),
		ReconnectMax:    getEnvInt("RECONNECT_MAX", 5),
		ReconnectBase:   time.Duration(getEnvInt("RECONNECT_BASE_MS", 1000)) * time.Millisecond,
		SettleDelay:     time.Duration(getEnvInt("SETTLE_DELAY_MS", 300)) * time.Millisecond,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	if path := os.Getenv("CHATSTREAM_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			fmt.Fprintf(os.Stderr, "WARN: failed to load config file %s: %v\n", path, err)
		}
	}

	return cfg
}

// applyFile overlays values from a YAML file for keys not set in the
// environment.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("invalid yaml: %w", err)
	}

	if fc.HTTPPort != 0 && os.Getenv("HTTP_PORT") == "" {
		c.HTTPPort = fc.HTTPPort
	}
	if fc.AuthToken != "" && os.Getenv("AUTH_TOKEN") == "" {
		c.AuthToken = fc.AuthToken
	}
	if fc.DatabaseURL != "" && os.Getenv("DATABASE_URL") == "" {
		c.DatabaseURL = fc.DatabaseURL
	}
	if fc.ProviderName != "" && os.Getenv("PROVIDER_NAME") == "" {
		c.ProviderName = fc.ProviderName
	}
	if fc.ProviderBaseURL != "" && os.Getenv("PROVIDER_BASE_URL") == "" {
		c.ProviderBaseURL = fc.ProviderBaseURL
	}
	if fc.ProviderAPIKey != "" && os.Getenv("PROVIDER_API_KEY") == "" {
		c.ProviderAPIKey = fc.ProviderAPIKey
	}
	if fc.Model != "" && os.Getenv("MODEL") == "" {
		c.Model = fc.Model
	}
	if fc.SystemPrompt != "" && os.Getenv("SYSTEM_PROMPT") == "" {
		c.SystemPrompt = fc.SystemPrompt
	}
	if fc.LogLevel != "" && os.Getenv("LOG_LEVEL") == "" {
		c.LogLevel = fc.LogLevel
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
