package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deepresearch.app/core/common/id"
	"deepresearch.app/core/common/llm"
	"deepresearch.app/core/common/logger"
	"deepresearch.app/core/common/search"
	"deepresearch.app/core/core/config"
	"deepresearch.app/core/core/db"
	"deepresearch.app/core/internal/aggregator"
	"deepresearch.app/core/internal/analytics"
	"deepresearch.app/core/internal/broadcaster"
	"deepresearch.app/core/internal/pipeline"
	"deepresearch.app/core/internal/platform/otelx"
	"deepresearch.app/core/internal/registry"
	"deepresearch.app/core/internal/research"
	"deepresearch.app/core/internal/sessionstore"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// Process wiring only: there is no HTTP listener here. Routing, auth, and
// format conversion are out of scope — this process
// exposes the research core to in-process and scheduled callers only, and
// spends its runtime driving the two background tickers below.
func main() {
	_ = godotenv.Load()

	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg := config.Load()

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otelx.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "deep research core starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to analytics database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "analytics database connected")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected")

	sessionIndex, err := sessionstore.OpenIndex(cfg.SessionIndexDir)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open session index", "error", err)
		os.Exit(1)
	}
	defer sessionIndex.Close()

	sessionStore, err := sessionstore.New(cfg.SessionStoreDir, sessionIndex)
	if err != nil {
		slog.ErrorContext(ctx, "failed to open session store", "error", err)
		os.Exit(1)
	}

	analyticsStore := analytics.New(database)

	llmAdapter, err := buildLLMAdapter(cfg, redisClient)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build model adapter", "error", err)
		os.Exit(1)
	}

	searchAdapter := buildSearchAdapter(cfg, redisClient)

	// reg is wired after bc since the Broadcaster needs a snapshot function
	// the Task Registry can answer; the closure captures reg by reference so
	// the order can stay registry-owns-publisher without an import cycle.
	var reg *registry.Registry
	bc := broadcaster.NewBroadcaster(func(taskID int64) (research.Task, bool) {
		if reg == nil {
			return research.Task{}, false
		}
		task, err := reg.Get(taskID)
		if err != nil {
			return research.Task{}, false
		}
		return task, true
	})
	reg = registry.New(bc, cfg.TerminateGrace).WithArchiver(analyticsStore)

	aggregatorFactory := func(taskModel string, maxResults int) *aggregator.Aggregator {
		return aggregator.New(searchAdapter, llmAdapter, taskModel, aggregator.Config{
			MaxResults:         maxResults,
			SourceCeiling:      cfg.SourceCeiling,
			AggregationCeiling: cfg.AggregationCeiling,
			QueryCeiling:       cfg.QueryCeiling,
			PromptCeiling:      cfg.PromptCeiling,
		})
	}

	engine := pipeline.New(llmAdapter, aggregatorFactory, sessionStore, reg, pipeline.Config{
		PromptCeiling:      cfg.PromptCeiling,
		AggregationCeiling: cfg.AggregationCeiling,
		SourceCeiling:      cfg.SourceCeiling,
		QueryCeiling:       cfg.QueryCeiling,
		DefaultMaxResults:  5,
	})
	_ = engine // driven by the in-process caller wiring this cmd leaves to its embedder

	stop := runTickers(ctx, cfg, sessionStore, bc)
	defer stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

// buildLLMAdapter wires the Anthropic and OpenAI backends behind the single
// Model Adapter contract, keyed by model-family prefix, plus a model
// catalog seeded from the configured defaults. No grounding tool is wired in
// since this deployment has no configured grounding backend — the adapter
// demotes Grounding: true requests to ungrounded agents on its own.
func buildLLMAdapter(cfg config.Config, rdb *redis.Client) (*llm.Adapter, error) {
	backends := make(map[string]llm.Backend)
	var fallback llm.Backend

	if cfg.LLM.AnthropicAPIKey != "" {
		anthropicClient, err := llm.NewAnthropicClient(llm.Config{
			APIKey:  cfg.LLM.AnthropicAPIKey,
			BaseURL: cfg.LLM.AnthropicBaseURL,
			Model:   cfg.Models.Thinking,
		})
		if err != nil {
			return nil, fmt.Errorf("building anthropic backend: %w", err)
		}
		backends["claude"] = anthropicClient
		fallback = anthropicClient
	}

	if cfg.LLM.OpenAIAPIKey != "" {
		openaiClient, err := llm.NewAgentClient(llm.Config{
			APIKey:  cfg.LLM.OpenAIAPIKey,
			BaseURL: cfg.LLM.OpenAIBaseURL,
			Model:   cfg.Models.Task,
		})
		if err != nil {
			return nil, fmt.Errorf("building openai backend: %w", err)
		}
		backends["gpt"] = openaiClient
		backends["o1"] = openaiClient
		backends["chato1"] = openaiClient
		if fallback == nil {
			fallback = openaiClient
		}
	}

	catalog := llm.NewCatalog(rdb, cfg.ModelCatalogTTL, func(ctx context.Context) ([]llm.ModelInfo, error) {
		return []llm.ModelInfo{
			{Name: cfg.Models.Thinking, Capability: llm.CapabilityThinking, ContextLimit: cfg.PromptCeiling},
			{Name: cfg.Models.Task, Capability: llm.CapabilityTask, ContextLimit: cfg.PromptCeiling},
		}, nil
	})

	return llm.NewAdapter(backends, fallback, nil, catalog), nil
}

// buildSearchAdapter prefers the Typesense-backed local corpus when
// configured, falling back to the rate-limited HTTP
// web-search adapter otherwise.
func buildSearchAdapter(cfg config.Config, rdb *redis.Client) search.Adapter {
	if cfg.Search.TypesenseNodeURL != "" {
		return search.NewTypesenseAdapter(cfg.Search.TypesenseNodeURL, cfg.Search.TypesenseAPIKey, cfg.Search.TypesenseCollection)
	}
	limiter := search.NewRateLimiter(rdb, cfg.Search.RequestsPerMinute)
	return search.NewHTTPAdapter(cfg.Search.BaseURL, cfg.Search.APIKey, limiter)
}

// runTickers starts the two background goroutines supplementing the
// synchronous phase operations: session archival cleanup, and broadcaster
// idle resend. It returns a stop function that halts them.
func runTickers(ctx context.Context, cfg config.Config, store *sessionstore.Store, bc *broadcaster.Broadcaster) func() {
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		daysOld := int(cfg.SessionCleanupAge.Hours() / 24)
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if archived, err := store.Cleanup(ctx, daysOld); err != nil {
					slog.WarnContext(ctx, "session cleanup tick failed", "error", err)
				} else if archived > 0 {
					slog.InfoContext(ctx, "session cleanup archived stale sessions", "count", archived)
				}
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.IdleResendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				bc.MaybeResendIdle(cfg.IdleResendInterval)
			}
		}
	}()

	return func() { close(done) }
}

const banner = `
██████╗ ███████╗███████╗██████╗     ██████╗ ███████╗███████╗███████╗ █████╗ ██████╗  ██████╗██╗  ██╗
██╔══██╗██╔════╝██╔════╝██╔══██╗    ██╔══██╗██╔════╝██╔════╝██╔════╝██╔══██╗██╔══██╗██╔════╝██║  ██║
██║  ██║█████╗  █████╗  ██████╔╝    ██████╔╝█████╗  ███████╗█████╗  ███████║██████╔╝██║     ███████║
██║  ██║██╔══╝  ██╔══╝  ██╔═══╝     ██╔══██╗██╔══╝  ╚════██║██╔══╝  ██╔══██║██╔══██╗██║     ██╔══██║
██████╔╝███████╗███████╗██║         ██║  ██║███████╗███████║███████╗██║  ██║██║  ██║╚██████╗██║  ██║
╚═════╝ ╚══════╝╚══════╝╚═╝         ╚═╝  ╚═╝╚══════╝╚══════╝╚══════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝╚═╝  ╚═╝
`
