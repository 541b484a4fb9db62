// Command explore is an interactive, single-process driver for the research
// pipeline: it reads a topic from stdin, runs QUESTIONS → PLAN → EXECUTE →
// FINAL REPORT synchronously against the configured model and search
// backends, and prints the resulting report. It's a fast, scriptable way to
// exercise the core loop without a server process, driving pipeline.Engine
// directly rather than a single exploration agent.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"deepresearch.app/core/common/llm"
	"deepresearch.app/core/common/search"
	"deepresearch.app/core/core/config"
	"deepresearch.app/core/internal/aggregator"
	"deepresearch.app/core/internal/broadcaster"
	"deepresearch.app/core/internal/pipeline"
	"deepresearch.app/core/internal/registry"
	"deepresearch.app/core/internal/research"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg := config.Load()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer rdb.Close()

	llmAdapter, err := buildAdapter(cfg, rdb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build model adapter: %v\n", err)
		os.Exit(1)
	}

	var searchAdapter search.Adapter
	if cfg.Search.TypesenseNodeURL != "" {
		searchAdapter = search.NewTypesenseAdapter(cfg.Search.TypesenseNodeURL, cfg.Search.TypesenseAPIKey, cfg.Search.TypesenseCollection)
	} else {
		searchAdapter = search.NewHTTPAdapter(cfg.Search.BaseURL, cfg.Search.APIKey, search.NewRateLimiter(rdb, cfg.Search.RequestsPerMinute))
	}

	var reg *registry.Registry
	bc := broadcaster.NewBroadcaster(func(taskID int64) (research.Task, bool) {
		if reg == nil {
			return research.Task{}, false
		}
		t, err := reg.Get(taskID)
		if err != nil {
			return research.Task{}, false
		}
		return t, true
	})
	reg = registry.New(bc, cfg.TerminateGrace)

	engine := pipeline.New(llmAdapter, func(taskModel string, maxResults int) *aggregator.Aggregator {
		return aggregator.New(searchAdapter, llmAdapter, taskModel, aggregator.Config{
			MaxResults:         maxResults,
			SourceCeiling:      cfg.SourceCeiling,
			AggregationCeiling: cfg.AggregationCeiling,
			QueryCeiling:       cfg.QueryCeiling,
			PromptCeiling:      cfg.PromptCeiling,
		})
	}, nil, reg, pipeline.Config{
		PromptCeiling:      cfg.PromptCeiling,
		AggregationCeiling: cfg.AggregationCeiling,
		SourceCeiling:      cfg.SourceCeiling,
		QueryCeiling:       cfg.QueryCeiling,
		DefaultMaxResults:  5,
	})

	models := research.ModelsConfig{Thinking: cfg.Models.Thinking, Task: cfg.Models.Task}

	fmt.Fprintln(os.Stderr, "Research CLI ready. Enter a topic (or 'quit' to exit):")

	scanner := bufio.NewScanner(os.Stdin)
	var taskSeq int64
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		topic := strings.TrimSpace(scanner.Text())
		if topic == "" {
			continue
		}
		if topic == "quit" || topic == "exit" || topic == "q" {
			break
		}

		taskSeq++
		if err := runOnce(ctx, engine, reg, taskSeq, topic, models); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}

	fmt.Fprintln(os.Stderr, "Goodbye!")
}

func runOnce(ctx context.Context, engine *pipeline.Engine, reg *registry.Registry, taskID int64, topic string, models research.ModelsConfig) error {
	if _, err := reg.Create(taskID, nil); err != nil {
		return fmt.Errorf("registering task: %w", err)
	}

	questions, perr := engine.Questions(ctx, nil, topic, models)
	if perr != nil {
		reg.Terminate(ctx, taskID, research.TaskFailed)
		return fmt.Errorf("questions phase: %s", perr)
	}
	fmt.Fprintf(os.Stderr, "\nFollow-up questions:\n")
	for _, q := range questions.Questions {
		fmt.Fprintf(os.Stderr, "  - %s\n", q)
	}

	plan, perr := engine.Plan(ctx, nil, topic, questions.Questions, "", models)
	if perr != nil {
		reg.Terminate(ctx, taskID, research.TaskFailed)
		return fmt.Errorf("plan phase: %s", perr)
	}
	fmt.Fprintf(os.Stderr, "\nResearch plan:\n%s\n", plan.Plan)

	exec, perr := engine.Execute(ctx, nil, taskID, topic, plan.Plan, models, 5, func(percent int) {
		reg.Update(taskID, func(t *research.Task) {
			t.Progress = percent
			t.CurrentStep = "searching"
		})
		fmt.Fprintf(os.Stderr, "\rprogress: %d%%", percent)
	})
	if perr != nil {
		reg.Terminate(ctx, taskID, research.TaskFailed)
		return fmt.Errorf("execute phase: %s", perr)
	}
	fmt.Fprintln(os.Stderr)

	report, perr := engine.FinalReport(ctx, nil, topic, plan.Plan, exec.Findings, "", models)
	if perr != nil {
		reg.Terminate(ctx, taskID, research.TaskFailed)
		return fmt.Errorf("final report phase: %s", perr)
	}

	reg.Terminate(ctx, taskID, research.TaskCompleted)

	fmt.Println(report.Report)
	fmt.Println()
	return nil
}

func buildAdapter(cfg config.Config, rdb *redis.Client) (*llm.Adapter, error) {
	backends := make(map[string]llm.Backend)
	var fallback llm.Backend

	if cfg.LLM.AnthropicAPIKey != "" {
		c, err := llm.NewAnthropicClient(llm.Config{APIKey: cfg.LLM.AnthropicAPIKey, BaseURL: cfg.LLM.AnthropicBaseURL, Model: cfg.Models.Thinking})
		if err != nil {
			return nil, err
		}
		backends["claude"] = c
		fallback = c
	}
	if cfg.LLM.OpenAIAPIKey != "" {
		c, err := llm.NewAgentClient(llm.Config{APIKey: cfg.LLM.OpenAIAPIKey, BaseURL: cfg.LLM.OpenAIBaseURL, Model: cfg.Models.Task})
		if err != nil {
			return nil, err
		}
		backends["gpt"] = c
		backends["o1"] = c
		backends["chato1"] = c
		if fallback == nil {
			fallback = c
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
