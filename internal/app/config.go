// Package app wires the cascade engine, its supporting services, and the HTTP
// surface into a runnable server. The core library reads no environment;
// every CASCADE_* variable below configures the binary only.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ModelConfig describes one tier of the server's cascade.
type ModelConfig struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	InputPerMTok  float64
	OutputPerMTok float64
}

type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	// Cascade tiers.
	Drafter  ModelConfig
	Verifier ModelConfig

	// Optional embedding backend for semantic validation.
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	EmbeddingModel   string

	// Quality policy.
	QualityFloor      float64
	SemanticThreshold float64
	StrictQuality     bool

	// Pre-router policy.
	SkipDrafterForHard     bool
	SkipVerifierForTrivial bool

	// Engine toggles.
	SpeculativeVerifier  bool
	CachingEnabled       bool
	MaxCostPerRequestUSD float64

	// Guardrail defaults (per-profile flags override).
	ContentModeration bool
	PIIDetection      bool

	// Timeouts.
	PerModelTimeoutSecs int
	RequestTimeoutSecs  int

	// Security & hardening.
	AuthRequired   bool
	CORSOrigins    []string
	RateLimitRPS   int
	RateLimitBurst int

	// OpenTelemetry tracing (opt-in).
	OTelEnabled     bool
	OTelEndpoint    string
	OTelServiceName string
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr: getEnv("CASCADE_LISTEN_ADDR", ":8080"),
		LogLevel:   getEnv("CASCADE_LOG_LEVEL", "info"),
		DBDSN:      getEnv("CASCADE_DB_DSN", "file:cascade.sqlite"),

		Drafter: ModelConfig{
			Provider:      getEnv("CASCADE_DRAFTER_PROVIDER", "openai"),
			Model:         getEnv("CASCADE_DRAFTER_MODEL", "gpt-4o-mini"),
			BaseURL:       getEnv("CASCADE_DRAFTER_BASE_URL", "https://api.openai.com"),
			APIKey:        getEnv("CASCADE_DRAFTER_API_KEY", ""),
			InputPerMTok:  getEnvFloat("CASCADE_DRAFTER_INPUT_PER_MTOK", 0.15),
			OutputPerMTok: getEnvFloat("CASCADE_DRAFTER_OUTPUT_PER_MTOK", 0.60),
		},
		Verifier: ModelConfig{
			Provider:      getEnv("CASCADE_VERIFIER_PROVIDER", "openai"),
			Model:         getEnv("CASCADE_VERIFIER_MODEL", "gpt-4o"),
			BaseURL:       getEnv("CASCADE_VERIFIER_BASE_URL", "https://api.openai.com"),
			APIKey:        getEnv("CASCADE_VERIFIER_API_KEY", ""),
			InputPerMTok:  getEnvFloat("CASCADE_VERIFIER_INPUT_PER_MTOK", 2.50),
			OutputPerMTok: getEnvFloat("CASCADE_VERIFIER_OUTPUT_PER_MTOK", 10.0),
		},

		EmbeddingBaseURL: getEnv("CASCADE_EMBEDDING_BASE_URL", ""),
		EmbeddingAPIKey:  getEnv("CASCADE_EMBEDDING_API_KEY", ""),
		EmbeddingModel:   getEnv("CASCADE_EMBEDDING_MODEL", "text-embedding-3-small"),

		QualityFloor:      getEnvFloat("CASCADE_QUALITY_FLOOR", 0.6),
		SemanticThreshold: getEnvFloat("CASCADE_SEMANTIC_THRESHOLD", 0.5),
		StrictQuality:     getEnvBool("CASCADE_STRICT_QUALITY", false),

		SkipDrafterForHard:     getEnvBool("CASCADE_SKIP_DRAFTER_FOR_HARD", true),
		SkipVerifierForTrivial: getEnvBool("CASCADE_SKIP_VERIFIER_FOR_TRIVIAL", false),

		SpeculativeVerifier:  getEnvBool("CASCADE_SPECULATIVE_VERIFIER", false),
		CachingEnabled:       getEnvBool("CASCADE_CACHING_ENABLED", false),
		MaxCostPerRequestUSD: getEnvFloat("CASCADE_MAX_COST_PER_REQUEST_USD", 0),

		ContentModeration: getEnvBool("CASCADE_CONTENT_MODERATION", true),
		PIIDetection:      getEnvBool("CASCADE_PII_DETECTION", true),

		PerModelTimeoutSecs: getEnvInt("CASCADE_PER_MODEL_TIMEOUT_SECS", 30),
		RequestTimeoutSecs:  getEnvInt("CASCADE_REQUEST_TIMEOUT_SECS", 120),

		AuthRequired:   getEnvBool("CASCADE_AUTH_REQUIRED", false),
		CORSOrigins:    getEnvStringSlice("CASCADE_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("CASCADE_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("CASCADE_RATE_LIMIT_BURST", 120),

		OTelEnabled:     getEnvBool("CASCADE_OTEL_ENABLED", false),
		OTelEndpoint:    getEnv("CASCADE_OTEL_ENDPOINT", "localhost:4318"),
		OTelServiceName: getEnv("CASCADE_OTEL_SERVICE_NAME", "cascaded"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("CASCADE_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("CASCADE_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.PerModelTimeoutSecs <= 0 {
		return fmt.Errorf("CASCADE_PER_MODEL_TIMEOUT_SECS must be > 0, got %d", c.PerModelTimeoutSecs)
	}
	if c.QualityFloor < 0 || c.QualityFloor > 1 {
		return fmt.Errorf("CASCADE_QUALITY_FLOOR must be in [0,1], got %f", c.QualityFloor)
	}
	if c.Drafter.Model == "" || c.Verifier.Model == "" {
		return fmt.Errorf("drafter and verifier models must be set")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
