package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string
	// RedisURL enables the cross-tab notification relay. Empty disables it.
	RedisURL string
	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string

	GradesAPIURL   string
	GradesSavePath string
	CSRFCookieName string
	CSRFHeaderName string
	RequestTimeout time.Duration

	BlurGrace        time.Duration
	SavedRevertDelay time.Duration
	ErrorRevertDelay time.Duration
	NotifyDuration   time.Duration
	NotifySuccess    bool

	GradeMin      float64
	GradeMax      float64
	GradeDecimals int
	GradeTokens   []string

	WSConnectRPS   float64
	WSConnectBurst int
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		RedisURL:       getEnv("REDIS_URL", ""),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),

		GradesAPIURL:   getEnv("GRADES_API_URL", "http://localhost:8000"),
		GradesSavePath: getEnv("GRADES_SAVE_PATH", "/api/grades/save/"),
		CSRFCookieName: getEnv("CSRF_COOKIE_NAME", "csrftoken"),
		CSRFHeaderName: getEnv("CSRF_HEADER_NAME", "X-CSRFToken"),
		RequestTimeout: getEnvMillis("REQUEST_TIMEOUT_MS", 10000),

		BlurGrace:        getEnvMillis("BLUR_GRACE_MS", 100),
		SavedRevertDelay: getEnvMillis("SAVED_REVERT_MS", 2000),
		ErrorRevertDelay: getEnvMillis("ERROR_REVERT_MS", 2000),
		NotifyDuration:   getEnvMillis("NOTIFY_DURATION_MS", 3000),
		NotifySuccess:    getEnvBool("NOTIFY_SUCCESS", false),

		GradeMin:      getEnvFloat("GRADE_MIN", 1),
		GradeMax:      getEnvFloat("GRADE_MAX", 5),
		GradeDecimals: getEnvInt("GRADE_DECIMALS", 0),
		GradeTokens:   splitList(getEnv("GRADE_TOKENS", "pass,fail")),

		WSConnectRPS:   getEnvFloat("WS_CONNECT_RPS", 2),
		WSConnectBurst: getEnvInt("WS_CONNECT_BURST", 10),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// getEnvMillis reads a millisecond count. Negative values fall back.
func getEnvMillis(key string, fallback int) time.Duration {
	ms := getEnvInt(key, fallback)
	if ms < 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// splitList splits a comma-separated string into a trimmed slice.
// Returns nil if the input is empty.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
