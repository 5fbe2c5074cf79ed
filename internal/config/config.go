package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	// Workflow provider (Dify-style workflow API)
	WorkflowBaseURL  string
	WorkflowAPIKey   string
	WorkflowEndpoint string
	WorkflowTimeout  time.Duration

	// Per-tenant API keys, resolved by subdomain. JSON object of
	// subdomain -> key; WorkflowAPIKey applies when a subdomain has
	// no entry.
	TenantKeysJSON string

	// Reconciliation
	WaitTimeout    time.Duration
	StorePollEvery time.Duration
	ResultTTL      time.Duration
	FormDraftTTL   time.Duration

	// Storage
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	DatabaseURL   string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		WorkflowBaseURL:  getEnv("WORKFLOW_BASE_URL", "https://api.dify.ai/v1"),
		WorkflowAPIKey:   getEnv("WORKFLOW_API_KEY", ""),
		WorkflowEndpoint: getEnv("WORKFLOW_ENDPOINT", "/workflows/run"),
		WorkflowTimeout:  getEnvAsDuration("WORKFLOW_TIMEOUT", 50*time.Second),

		TenantKeysJSON: getEnv("TENANT_KEYS_JSON", ""),

		WaitTimeout:    getEnvAsDuration("WAIT_TIMEOUT", 30*time.Second),
		StorePollEvery: getEnvAsDuration("STORE_POLL_INTERVAL", 500*time.Millisecond),
		ResultTTL:      getEnvAsDuration("RESULT_TTL", 5*time.Minute),
		FormDraftTTL:   getEnvAsDuration("FORM_DRAFT_TTL", 24*time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
	}
}

// TenantKeys parses TenantKeysJSON into a subdomain -> API key map.
// Malformed JSON yields an empty map rather than an error: a broken
// tenant table must not take down the default tenant.
func (c *Config) TenantKeys() map[string]string {
	keys := map[string]string{}
	raw := strings.TrimSpace(c.TenantKeysJSON)
	if raw == "" {
		return keys
	}
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return map[string]string{}
	}
	return keys
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
