package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Model describes one entry of the static model registry.
type Model struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	Cost          string `json:"cost"`
	UpstreamModel string `json:"-"`
}

// TierLimit is the request budget for one rate-limit tier.
type TierLimit struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	// Server
	Port string // default: 8080

	// Cache / limiter backend (optional; empty means in-process fallback)
	RedisURL string

	// Providers
	GeminiAPIKey   string
	GroqAPIKey     string
	DeepSeekAPIKey string
	CerebrasAPIKey string

	// Search
	TavilyAPIKey   string
	TavilyEndpoint string

	// Identity verification
	AppleClientID         string
	AppleSkipVerification bool

	// Admission
	MasterAPIToken    string
	PremiumSessionTTL time.Duration
	RateLimits        map[string]TierLimit

	// Outbound transport
	MaxConnections     int
	MaxIdleConnections int
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration

	// Retry policy
	RetryAttempts   int
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
}

// Models is the static registry of models this gateway can fan out to.
var Models = map[string]Model{
	"gemini": {
		ID:            "gemini",
		Name:          "Gemini 2.5 Flash",
		Provider:      "Google",
		Cost:          "free",
		UpstreamModel: "gemini-2.5-flash",
	},
	"llama-70b": {
		ID:            "llama-70b",
		Name:          "Llama 3.3 70B",
		Provider:      "Groq",
		Cost:          "free",
		UpstreamModel: "llama-3.3-70b-versatile",
	},
	"llama-8b": {
		ID:            "llama-8b",
		Name:          "Llama 3.1 8B",
		Provider:      "Groq",
		Cost:          "free",
		UpstreamModel: "llama-3.1-8b-instant",
	},
	"mixtral": {
		ID:            "mixtral",
		Name:          "Llama 4 Maverick 17B (MoE)",
		Provider:      "Groq",
		Cost:          "free",
		UpstreamModel: "meta-llama/llama-4-maverick-17b-128e-instruct",
	},
	"deepseek": {
		ID:            "deepseek",
		Name:          "DeepSeek V2.5",
		Provider:      "DeepSeek",
		Cost:          "~$0.14/1M tokens",
		UpstreamModel: "deepseek-chat",
	},
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		RedisURL:             os.Getenv("REDIS_URL"),
		GeminiAPIKey:         os.Getenv("GEMINI_API_KEY"),
		GroqAPIKey:           os.Getenv("GROQ_API_KEY"),
		DeepSeekAPIKey:       os.Getenv("DEEPSEEK_API_KEY"),
		CerebrasAPIKey:       os.Getenv("CEREBRAS_API_KEY"),
		TavilyAPIKey:         os.Getenv("TAVILY_API_KEY"),
		TavilyEndpoint:       getEnv("TAVILY_ENDPOINT", "https://api.tavily.com/search"),
		AppleClientID:        os.Getenv("APPLE_CLIENT_ID"),
		MasterAPIToken:       os.Getenv("CORO_API_TOKEN"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		MaxConnections:       100,
		MaxIdleConnections:   20,
		ConnectTimeout:       10 * time.Second,
		ReadTimeout:          60 * time.Second,
		WriteTimeout:         10 * time.Second,
		RetryAttempts:        3,
		RetryMinBackoff:      1 * time.Second,
		RetryMaxBackoff:      10 * time.Second,
	}

	cfg.AppleSkipVerification = getEnv("APPLE_SKIP_VERIFICATION", "false") == "true"

	ttl, err := getEnvSeconds("PREMIUM_SESSION_TTL", 86400)
	if err != nil {
		return nil, err
	}
	cfg.PremiumSessionTTL = ttl

	cfg.RateLimits = map[string]TierLimit{}
	for tier, fallback := range map[string]int{"anonymous": 30, "authenticated": 60, "premium": 180} {
		limit, err := getEnvInt(fmt.Sprintf("RATE_LIMIT_%s", envName(tier)), fallback)
		if err != nil {
			return nil, err
		}
		window, err := getEnvSeconds(fmt.Sprintf("RATE_LIMIT_%s_WINDOW", envName(tier)), 60)
		if err != nil {
			return nil, err
		}
		cfg.RateLimits[tier] = TierLimit{Limit: limit, Window: window}
	}

	return cfg, nil
}

// APIKeysStatus reports which provider keys are configured, for startup logs.
func (c *Config) APIKeysStatus() map[string]bool {
	return map[string]bool{
		"GEMINI_API_KEY":   c.GeminiAPIKey != "",
		"GROQ_API_KEY":     c.GroqAPIKey != "",
		"DEEPSEEK_API_KEY": c.DeepSeekAPIKey != "",
		"CEREBRAS_API_KEY": c.CerebrasAPIKey != "",
	}
}

func envName(tier string) string {
	switch tier {
	case "anonymous":
		return "ANONYMOUS"
	case "authenticated":
		return "AUTHENTICATED"
	default:
		return "PREMIUM"
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvSeconds(key string, fallback int) (time.Duration, error) {
	v, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}
