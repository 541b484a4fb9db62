// Package config assembles the typed configuration consumed by the core.
// The core never reads environment variables itself; resolving env vars into
// this struct is the responsibility of the cmd/ entrypoint.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"deepresearch.app/core/core/db"
)

// Config holds every configuration value the research core consumes.
type Config struct {
	// Env is the environment name (development, staging, production).
	Env string

	// Port is the HTTP server port. The core itself never binds a listener;
	// this is threaded through to the external HTTP collaborator.
	Port string

	// DB backs the analytics archival store.
	DB db.Config

	Redis RedisConfig

	// SessionStoreDir is the root directory the file-backed session store
	// writes session content under.
	SessionStoreDir string

	// SessionIndexDir is the root directory for the Badger-backed session
	// metadata index.
	SessionIndexDir string

	OTel OTelConfig

	Models ModelsDefaults

	Search SearchConfig

	LLM LLMConfig

	// NodeID seeds the snowflake ID generator.
	NodeID int64

	// PromptCeiling is the hard ceiling (characters) on any assembled prompt
	// delivered to the LLM adapter.
	PromptCeiling int

	// AggregationCeiling is the total-context ceiling (characters) the
	// Search Aggregator distributes across sources in a single query.
	AggregationCeiling int

	// SourceCeiling is the per-source content ceiling (characters).
	SourceCeiling int

	// QueryCeiling is the per-query text ceiling (characters).
	QueryCeiling int

	// IdleResendInterval is how often the Broadcaster re-emits the current
	// snapshot to attached subscribers when no mutation has occurred.
	IdleResendInterval time.Duration

	// SessionCleanupAge is the age past which active sessions are archived
	// by the cleanup ticker.
	SessionCleanupAge time.Duration

	// ModelCatalogTTL is the cache lifetime for the model catalog.
	ModelCatalogTTL time.Duration

	// TerminateGrace is the minimum grace period the Task Registry waits
	// after publishing a terminal frame before evicting the task record.
	TerminateGrace time.Duration
}

// RedisConfig configures the search rate limiter and model-catalog cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OTelConfig configures the OpenTelemetry exporters.
type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
	enabled        bool
}

// Enabled reports whether an OTLP endpoint has been configured.
func (c OTelConfig) Enabled() bool {
	return c.enabled && c.Endpoint != ""
}

// ModelsDefaults names the default thinking/task model deployments used when
// a request omits its own models_config.
type ModelsDefaults struct {
	Thinking string
	Task     string
}

// LLMConfig configures the Anthropic and OpenAI backends the Model Adapter
// routes between by model-family prefix.
type LLMConfig struct {
	AnthropicAPIKey  string
	AnthropicBaseURL string

	OpenAIAPIKey  string
	OpenAIBaseURL string
}

// SearchConfig configures the web-search adapter.
type SearchConfig struct {
	BaseURL            string
	APIKey             string
	RequestsPerMinute  int
	TypesenseNodeURL   string
	TypesenseAPIKey    string
	TypesenseCollection string
}

// Load loads configuration from environment variables, with sensible
// development defaults.
func Load() Config {
	return Config{
		Env:             getEnv("RESEARCH_ENV", "development"),
		Port:            getEnv("PORT", "8080"),
		SessionStoreDir: getEnv("SESSION_STORE_DIR", "data/sessions"),
		SessionIndexDir: getEnv("SESSION_INDEX_DIR", "data/sessions-index"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "deepresearch-core"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			enabled:        getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "") != "",
		},
		Models: ModelsDefaults{
			Thinking: getEnv("MODEL_THINKING_DEFAULT", "claude-sonnet-4-5-20250514"),
			Task:     getEnv("MODEL_TASK_DEFAULT", "gpt-4o-mini"),
		},
		Search: SearchConfig{
			BaseURL:             getEnv("SEARCH_BASE_URL", ""),
			APIKey:              getEnv("SEARCH_API_KEY", ""),
			RequestsPerMinute:   getEnvInt("SEARCH_REQUESTS_PER_MINUTE", 60),
			TypesenseNodeURL:    getEnv("TYPESENSE_NODE_URL", ""),
			TypesenseAPIKey:     getEnv("TYPESENSE_API_KEY", ""),
			TypesenseCollection: getEnv("TYPESENSE_COLLECTION", "sources"),
		},
		LLM: LLMConfig{
			AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicBaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
			OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		},
		NodeID:             int64(getEnvInt("SNOWFLAKE_NODE_ID", 1)),
		PromptCeiling:      getEnvInt("PROMPT_CEILING_CHARS", 250_000),
		AggregationCeiling: getEnvInt("AGGREGATION_CEILING_CHARS", 240_000),
		SourceCeiling:      getEnvInt("SOURCE_CEILING_CHARS", 80_000),
		QueryCeiling:       getEnvInt("QUERY_CEILING_CHARS", 400),
		IdleResendInterval: getEnvDuration("IDLE_RESEND_INTERVAL", 10*time.Second),
		SessionCleanupAge:  getEnvDuration("SESSION_CLEANUP_AGE", 30*24*time.Hour),
		ModelCatalogTTL:    getEnvDuration("MODEL_CATALOG_TTL", 30*time.Minute),
		TerminateGrace:     getEnvDuration("TASK_TERMINATE_GRACE", 1*time.Second),
	}
}

// buildDSN constructs the analytics database connection string from
// individual env vars.
func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "deepresearch")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
