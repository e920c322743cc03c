package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration. It is built once at startup from
// environment variables and never mutated afterwards.
type Config struct {
	Debug bool
	Host  string
	Port  string

	// Database. DBURL set to the literal "memory" selects the in-process store.
	DBURL       string
	DBUser      string
	DBPassword  string
	DBNamespace string
	DBDatabase  string

	// LLM provider: "mock", "openai" or "azure".
	LLMProvider string
	LLMAPIKey   string
	LLMAPIURL   string
	LLMModel    string

	// Dialogue tuning.
	MaxContextLength int
	ResponseWindow   time.Duration
	SessionTimeout   time.Duration
	PipelineDeadline time.Duration

	// Tool API keys (builtin tools run as deterministic stubs without them).
	WeatherAPIKey string
	SearchAPIKey  string

	LogLevel string
	LogFile  string

	CORSOrigins []string

	// Optional YAML persona file with system instructions.
	PersonaFile string

	// Media blob storage.
	MediaStoragePath string
	MaxUploadSizeMB  int
}

// Load builds the configuration from environment variables.
func Load() *Config {
	return &Config{
		Debug: getEnv("DEBUG", "false") == "true",
		Host:  getEnv("HOST", "0.0.0.0"),
		Port:  getEnv("PORT", "8000"),

		DBURL:       getEnv("DB_URL", "memory"),
		DBUser:      getEnv("DB_USER", ""),
		DBPassword:  getEnv("DB_PASSWORD", ""),
		DBNamespace: getEnv("DB_NAMESPACE", "spectrum"),
		DBDatabase:  getEnv("DB_DATABASE", "dialogue"),

		LLMProvider: getEnv("LLM_PROVIDER", "mock"),
		LLMAPIKey:   getEnv("LLM_API_KEY", ""),
		LLMAPIURL:   getEnv("LLM_API_URL", ""),
		LLMModel:    getEnv("LLM_MODEL", "gpt-4o-mini"),

		MaxContextLength: getEnvInt("MAX_CONTEXT_LENGTH", 4000),
		ResponseWindow:   time.Duration(getEnvInt("RESPONSE_WINDOW_HOURS", 3)) * time.Hour,
		SessionTimeout:   time.Duration(getEnvInt("SESSION_TIMEOUT_HOURS", 1)) * time.Hour,
		PipelineDeadline: time.Duration(getEnvInt("PIPELINE_DEADLINE_SECONDS", 120)) * time.Second,

		WeatherAPIKey: getEnv("WEATHER_API_KEY", ""),
		SearchAPIKey:  getEnv("SEARCH_API_KEY", ""),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogFile:  getEnv("LOG_FILE", ""),

		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "*"), ","),

		PersonaFile: getEnv("PERSONA_FILE", ""),

		MediaStoragePath: getEnv("MEDIA_STORAGE_PATH", "media"),
		MaxUploadSizeMB:  getEnvInt("MAX_UPLOAD_SIZE_MB", 10),
	}
}

// UseMemoryStore reports whether the in-process store is selected.
func (c *Config) UseMemoryStore() bool {
	return c.DBURL == "" || c.DBURL == "memory"
}

// TablePrefix returns the table name prefix derived from the namespace.
func (c *Config) TablePrefix() string {
	if c.DBNamespace == "" {
		return ""
	}
	return c.DBNamespace + "_"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
