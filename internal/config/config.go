package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

// Channel names accepted by CHANNEL.
const (
	ChannelConsole  = "console"
	ChannelWhatsApp = "whatsapp"
	ChannelHTTP     = "http"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	LogLevel          string
	HTTPListenAddr    string
	Channel           string
	DatabaseURL       string
	OrderAPIBaseURL   string
	OrderAPITimeout   time.Duration
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	DisplayLocation   *time.Location
	GeminiAPIKeys     []string
	GeminiModel       string
	GeminiTimeout     time.Duration
	GeminiCooldown    time.Duration
	MetricsNamespace  string
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RedisTLS          bool
	WhatsAppStorePath string
	WhatsAppLogLevel  string
	WhatsAppOperators []string
}

// Load returns configuration populated from environment variables with fallbacks.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		AppEnv:            getenvDefault("APP_ENV", "development"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		HTTPListenAddr:    getenvDefault("HTTP_LISTEN_ADDR", ":8080"),
		Channel:           strings.ToLower(getenvDefault("CHANNEL", ChannelConsole)),
		DatabaseURL:       getenvDefault("DATABASE_URL", "file:data/order-chatbot.db"),
		OrderAPIBaseURL:   trimmedEnv("ORDER_API_BASE_URL"),
		OAuthTokenURL:     trimmedEnv("OAUTH_TOKEN_URL"),
		OAuthClientID:     trimmedEnv("OAUTH_CLIENT_ID"),
		OAuthClientSecret: trimmedEnv("OAUTH_CLIENT_SECRET"),
		GeminiAPIKeys:     splitAndTrim(trimmedEnv("GEMINI_KEYS")),
		GeminiModel:       getenvDefault("GEMINI_MODEL", "gemini-2.5-flash-lite"),
		MetricsNamespace:  getenvDefault("METRICS_NAMESPACE", "order_chatbot"),
		RedisAddr:         trimmedEnv("REDIS_ADDR"),
		RedisPassword:     trimmedEnv("REDIS_PASSWORD"),
		WhatsAppStorePath: getenvDefault("WHATSAPP_STORE_PATH", "data/wa-store.db"),
		WhatsAppLogLevel:  getenvDefault("WHATSAPP_LOG_LEVEL", "INFO"),
		WhatsAppOperators: splitAndTrim(trimmedEnv("WHATSAPP_OPERATORS")),
	}

	var err error
	if cfg.OrderAPITimeout, err = time.ParseDuration(getenvDefault("ORDER_API_TIMEOUT", "15s")); err != nil {
		return nil, fmt.Errorf("invalid ORDER_API_TIMEOUT duration: %w", err)
	}
	if cfg.GeminiTimeout, err = time.ParseDuration(getenvDefault("GEMINI_TIMEOUT", "20s")); err != nil {
		return nil, fmt.Errorf("invalid GEMINI_TIMEOUT duration: %w", err)
	}
	if cfg.GeminiCooldown, err = time.ParseDuration(getenvDefault("GEMINI_COOLDOWN", "1h")); err != nil {
		return nil, fmt.Errorf("invalid GEMINI_COOLDOWN duration: %w", err)
	}

	if cfg.DisplayLocation, err = time.LoadLocation(getenvDefault("DISPLAY_TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE: %w", err)
	}

	if redisDBStr := getenvDefault("REDIS_DB", "0"); redisDBStr != "" {
		db, convErr := strconv.Atoi(redisDBStr)
		if convErr != nil {
			return nil, fmt.Errorf("invalid REDIS_DB value: %w", convErr)
		}
		cfg.RedisDB = db
	}
	cfg.RedisTLS = strings.EqualFold(getenvDefault("REDIS_TLS", "false"), "true")

	switch cfg.Channel {
	case ChannelConsole, ChannelHTTP:
	case ChannelWhatsApp:
		if len(cfg.WhatsAppOperators) == 0 {
			return nil, fmt.Errorf("WHATSAPP_OPERATORS is required when CHANNEL=whatsapp")
		}
	default:
		return nil, fmt.Errorf("invalid CHANNEL %q", cfg.Channel)
	}

	if cfg.OrderAPIBaseURL == "" {
		return nil, fmt.Errorf("ORDER_API_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.OrderAPIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid ORDER_API_BASE_URL: %w", err)
	}
	if cfg.OAuthTokenURL == "" {
		return nil, fmt.Errorf("OAUTH_TOKEN_URL is required")
	}
	if cfg.OAuthClientID == "" || cfg.OAuthClientSecret == "" {
		return nil, fmt.Errorf("OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required")
	}

	cfg.OrderAPIBaseURL = strings.TrimRight(cfg.OrderAPIBaseURL, "/")

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func splitAndTrim(val string) []string {
	if val == "" {
		return nil
	}
	parts := strings.Split(val, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			res = append(res, trimmed)
		}
	}
	return res
}

func trimmedEnv(key string) string {
	if val, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(val)
	}
	return ""
}
