package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Environment          string
	APIURL               string
	WSURL                string
	StateDB              string
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	ConnectDelay         time.Duration
	MaxRefreshAttempts   int
	InsecureTLS          bool
}

func Load() (*Config, error) {
	reconnectInterval, err := time.ParseDuration(getEnv("CHAT_RECONNECT_INTERVAL", "3s"))
	if err != nil {
		return nil, fmt.Errorf("CHAT_RECONNECT_INTERVAL: %w", err)
	}

	connectDelay, err := time.ParseDuration(getEnv("CHAT_CONNECT_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("CHAT_CONNECT_DELAY: %w", err)
	}

	maxReconnect, err := strconv.Atoi(getEnv("CHAT_MAX_RECONNECT_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("CHAT_MAX_RECONNECT_ATTEMPTS: %w", err)
	}

	maxRefresh, err := strconv.Atoi(getEnv("CHAT_MAX_REFRESH_ATTEMPTS", "1"))
	if err != nil {
		return nil, fmt.Errorf("CHAT_MAX_REFRESH_ATTEMPTS: %w", err)
	}

	insecure, err := strconv.ParseBool(getEnv("CHAT_INSECURE_TLS", "false"))
	if err != nil {
		return nil, fmt.Errorf("CHAT_INSECURE_TLS: %w", err)
	}

	cfg := &Config{
		Environment:          getEnv("CHAT_ENV", "development"),
		APIURL:               getEnv("CHAT_API_URL", "https://localhost:8080"),
		WSURL:                getEnv("CHAT_WS_URL", "wss://localhost:8080/ws/chat"),
		StateDB:              getEnv("CHAT_STATE_DB", "chat-state.db"),
		ReconnectInterval:    reconnectInterval,
		MaxReconnectAttempts: maxReconnect,
		ConnectDelay:         connectDelay,
		MaxRefreshAttempts:   maxRefresh,
		InsecureTLS:          insecure,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	api, err := url.Parse(c.APIURL)
	if err != nil || api.Host == "" || (api.Scheme != "http" && api.Scheme != "https") {
		return fmt.Errorf("CHAT_API_URL must be an absolute http(s) URL, got %q", c.APIURL)
	}

	ws, err := url.Parse(c.WSURL)
	if err != nil || ws.Host == "" || (ws.Scheme != "ws" && ws.Scheme != "wss") {
		return fmt.Errorf("CHAT_WS_URL must be an absolute ws(s) URL, got %q", c.WSURL)
	}

	if c.StateDB == "" {
		return fmt.Errorf("CHAT_STATE_DB is required")
	}

	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("CHAT_RECONNECT_INTERVAL must be greater than 0")
	}

	if c.ConnectDelay < 0 {
		return fmt.Errorf("CHAT_CONNECT_DELAY must not be negative")
	}

	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("CHAT_MAX_RECONNECT_ATTEMPTS must not be negative")
	}

	if c.MaxRefreshAttempts < 1 {
		return fmt.Errorf("CHAT_MAX_REFRESH_ATTEMPTS must be at least 1")
	}

	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
