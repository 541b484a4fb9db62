// Package aggregator implements the Search Aggregator: parallel
// execution of N LLM-scored searches with strict prompt-length accounting,
// partial-failure tolerance, and deterministic aggregation.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"deepresearch.app/core/common/llm"
	"deepresearch.app/core/common/search"
	"deepresearch.app/core/internal/platform/otelx"
	"deepresearch.app/core/internal/research"
)

// Query is one generated {query, researchGoal} pair feeding the execute
// phase's parallel search & synthesize step.
type Query struct {
	Query        string
	ResearchGoal string
}

// Config bounds the aggregator's per-query and per-context behavior,
// sourced from core/config.
type Config struct {
	MaxResults         int
	SourceCeiling      int
	AggregationCeiling int
	QueryCeiling       int
	PromptCeiling      int
	Concurrency        int
}

// Aggregator runs queries against a search.Adapter and synthesizes learnings
// through the task model.
type Aggregator struct {
	adapter   search.Adapter
	synthesis *llm.Adapter
	taskModel string
	cfg       Config
}

func New(adapter search.Adapter, synthesis *llm.Adapter, taskModel string, cfg Config) *Aggregator {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 5
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	return &Aggregator{adapter: adapter, synthesis: synthesis, taskModel: taskModel, cfg: cfg}
}

// Result is the aggregator's output: the ordered SearchTasks plus the
// Markdown summary and structured findings array used downstream by
// FINAL REPORT.
type Result struct {
	SearchTasks        []research.SearchTask
	Markdown           string
	AggregatedFindings []research.AggregatedFinding
}

// onQuery is invoked after each query completes, letting the pipeline
// engine push linear-in-(completed/total) progress frames.
type onQuery func(completed, total int)

// Run executes every query, preserving output order to match input order.
// Each query runs in isolation: a failure in query i never prevents
// query j from completing.
func (a *Aggregator) Run(ctx context.Context, queries []Query, progress onQuery) (Result, error) {
	n := len(queries)
	tasks := make([]research.SearchTask, n)
	findings := make([]research.AggregatedFinding, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Concurrency)

	var completed atomic.Int64
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			task, finding := a.runOne(gctx, i, q)
			tasks[i] = task
			findings[i] = finding
			done := completed.Add(1)
			if progress != nil {
				progress(int(done), n)
			}
			return nil
		})
	}
	// errgroup.Wait's returned error is always nil here: runOne captures
	// every failure into a failed SearchTask instead of propagating it, so
	// one query's failure never prevents the others from running.
	_ = g.Wait()

	return Result{
		SearchTasks:        tasks,
		Markdown:           renderMarkdown(tasks),
		AggregatedFindings: findings,
	}, nil
}

func (a *Aggregator) runOne(ctx context.Context, index int, q Query) (research.SearchTask, research.AggregatedFinding) {
	ctx, span := otelx.StartQuerySpan(ctx, index+1)
	defer span.End()

	query := research.TruncateWords(q.Query, a.cfg.QueryCeiling)

	results, err := a.adapter.Search(ctx, query, a.cfg.MaxResults)
	if err != nil {
		span.RecordError(err)
		return failedTask(query, q.ResearchGoal, fmt.Sprintf("Error executing search: %v", err)),
			research.AggregatedFinding{Query: query, ResearchGoal: q.ResearchGoal, QueryNumber: index + 1}
	}

	sources := make([]research.Source, 0, len(results))
	for _, r := range results {
		content := research.TruncateSentence(r.Content, a.cfg.SourceCeiling)
		sources = append(sources, research.Source{
			Title:   r.Title,
			URL:     r.URL,
			Content: content,
			Score:   r.Score,
			Image:   r.Image,
		})
	}

	sources = distributeCeiling(ctx, sources, a.cfg.AggregationCeiling)

	images := make([]research.Image, 0, len(sources))
	for _, s := range sources {
		if s.Image != nil {
			images = append(images, *s.Image)
		}
	}

	contextBlock := buildContextBlock(sources)
	prompt := synthesisPrompt(query, q.ResearchGoal, contextBlock)
	prompt = enforcePromptCeiling(prompt, a.cfg.PromptCeiling)

	resp, err := a.synthesis.Generate(ctx, llm.GenerateRequest{
		System:    synthesisSystemPrompt,
		Prompt:    prompt,
		Model:     a.taskModel,
		MaxTokens: 2048,
	})
	if err != nil {
		span.RecordError(err)
		return failedTask(query, q.ResearchGoal, fmt.Sprintf("Error executing synthesis: %v", err)),
			research.AggregatedFinding{Query: query, ResearchGoal: q.ResearchGoal, QueryNumber: index + 1}
	}

	task := research.SearchTask{
		Query:        query,
		ResearchGoal: q.ResearchGoal,
		State:        research.SearchCompleted,
		Learning:     resp.Content,
		Sources:      sources,
		Images:       images,
	}

	count := len(sources)
	finding := research.AggregatedFinding{
		Query:        query,
		ResearchGoal: q.ResearchGoal,
		Findings:     resp.Content,
		QueryNumber:  index + 1,
		SourcesCount: &count,
	}
	return task, finding
}

func failedTask(query, goal, learning string) research.SearchTask {
	return research.SearchTask{
		Query:        query,
		ResearchGoal: goal,
		State:        research.SearchFailed,
		Learning:     learning,
	}
}

// distributeCeiling enforces the aggregation ceiling by distributing it
// evenly across remaining sources and truncating each at a sentence
// boundary; sources beyond the ceiling are dropped and a warning is logged.
func distributeCeiling(ctx context.Context, sources []research.Source, ceiling int) []research.Source {
	if ceiling <= 0 {
		return sources
	}

	kept := make([]research.Source, 0, len(sources))
	remaining := ceiling
	remainingCount := len(sources)

	for _, s := range sources {
		if remainingCount == 0 || remaining <= 0 {
			break
		}
		share := remaining / remainingCount
		if len(s.Content) > share {
			s.Content = research.TruncateSentence(s.Content, share)
		}
		remaining -= len(s.Content)
		remainingCount--
		kept = append(kept, s)
	}

	if len(kept) < len(sources) {
		slog.WarnContext(ctx, "aggregation ceiling reached, dropping sources",
			"sources_total", len(sources), "sources_kept", len(kept), "aggregation_ceiling", ceiling)
	}
	return kept
}

func buildContextBlock(sources []research.Source) string {
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, s.Title, s.URL, s.Content)
	}
	return b.String()
}

const synthesisSystemPrompt = "You are a research analyst. Synthesize dense, well-cited learnings from the provided sources."

func synthesisPrompt(query, goal, contextBlock string) string {
	return fmt.Sprintf(
		"Query: %s\nResearch goal: %s\n\nSources:\n%s\n\nProduce a dense synthesis of the findings relevant to the query and research goal. Cite sources inline using [n] markers keyed to the numbered sources above.",
		query, goal, contextBlock,
	)
}

// enforcePromptCeiling reduces the prompt to fit the hard ceiling,
// preserving at least 70% of the original text; if it cannot, the prompt is
// cut hard at the ceiling. The synthesis prompt therefore never exceeds the
// ceiling, and a query never fails with ContextTooLarge.
func enforcePromptCeiling(prompt string, ceiling int) string {
	if ceiling <= 0 || len(prompt) <= ceiling {
		return prompt
	}
	reduced, ok := research.TruncateToFraction(prompt, ceiling, 0.7)
	if !ok {
		return prompt[:ceiling]
	}
	return reduced
}

func renderMarkdown(tasks []research.SearchTask) string {
	var b strings.Builder
	b.WriteString("## Research Execution Results\n\n")
	for i, t := range tasks {
		fmt.Fprintf(&b, "### Query %d: %s\n", i+1, t.Query)
		fmt.Fprintf(&b, "**Research goal:** %s\n\n", t.ResearchGoal)
		fmt.Fprintf(&b, "**Sources found:** %d\n\n", len(t.Sources))
		b.WriteString(t.Learning)
		b.WriteString("\n\n")
	}
	return b.String()
}
