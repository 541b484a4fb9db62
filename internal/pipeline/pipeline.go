// Package pipeline drives each research phase to a deterministic artifact.
// Each phase is a pure function of its inputs plus LLM output; the engine
// never hides state between phases beyond what is saved to the Session
// Store.
package pipeline

import (
	"context"

	"deepresearch.app/core/common/llm"
	"deepresearch.app/core/internal/aggregator"
	"deepresearch.app/core/internal/platform/otelx"
	"deepresearch.app/core/internal/registry"
	"deepresearch.app/core/internal/research"
	"deepresearch.app/core/internal/sessionstore"
)

// Config bounds every phase's prompt accounting.
type Config struct {
	PromptCeiling      int
	AggregationCeiling int
	SourceCeiling      int
	QueryCeiling       int
	Concurrency        int
	DefaultMaxResults  int
}

// AggregatorFactory builds a Search Aggregator bound to the task model and
// result count named by a session's ResearchConfig; construction is cheap
// enough to do per EXECUTE call since the aggregator itself is stateless
// beyond that binding.
type AggregatorFactory func(taskModel string, maxResults int) *aggregator.Aggregator

// Engine is the Pipeline Engine. It composes prompts, invokes the
// Model Adapter, and enforces the prompt-length ceiling. Each phase returns
// its artifact to the caller; no phase writes to the Session Store or
// advances a session's current phase.
type Engine struct {
	llmAdapter  *llm.Adapter
	aggregators AggregatorFactory
	store       *sessionstore.Store
	registry    *registry.Registry
	cfg         Config
}

func New(llmAdapter *llm.Adapter, aggregators AggregatorFactory, store *sessionstore.Store, reg *registry.Registry, cfg Config) *Engine {
	if cfg.DefaultMaxResults <= 0 {
		cfg.DefaultMaxResults = 5
	}
	return &Engine{
		llmAdapter:  llmAdapter,
		aggregators: aggregators,
		store:       store,
		registry:    reg,
		cfg:         cfg,
	}
}

func (e *Engine) generate(ctx context.Context, system, prompt, model, name string, maxTokens int) (string, *research.Error) {
	prompt, perr := enforcePromptCeiling(prompt, e.cfg.PromptCeiling)
	if perr != nil {
		return "", perr
	}

	resp, err := e.llmAdapter.Generate(ctx, llm.GenerateRequest{
		System:    system,
		Prompt:    prompt,
		Model:     model,
		Name:      name,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", research.NewError(research.KindUpstreamFailure, "model generation failed", err)
	}
	return resp.Content, nil
}

// Questions runs the QUESTIONS phase: at least five follow-up questions,
// no web grounding, budget <= 2048 output tokens.
func (e *Engine) Questions(ctx context.Context, sessionID *int64, topic string, models research.ModelsConfig) (QuestionsArtifact, *research.Error) {
	ctx, span := otelx.StartPhaseSpan(ctx, sessionID, string(research.PhaseQuestions))
	defer span.End()

	report, perr := e.generate(ctx, systemPreamble(), questionsPrompt(topic), models.Thinking, "questions", 2048)
	if perr != nil {
		return QuestionsArtifact{}, perr
	}

	questions := splitLines(report)
	return QuestionsArtifact{Questions: questions, Report: report}, nil
}

// Plan runs the PLAN phase: a sectioned research plan, no overlapping
// sections, budget <= 3072 output tokens.
func (e *Engine) Plan(ctx context.Context, sessionID *int64, topic string, questions []string, feedback string, models research.ModelsConfig) (PlanArtifact, *research.Error) {
	ctx, span := otelx.StartPhaseSpan(ctx, sessionID, "plan")
	defer span.End()

	plan, perr := e.generate(ctx, systemPreamble(), planPrompt(topic, questions, feedback), models.Thinking, "plan", 3072)
	if perr != nil {
		return PlanArtifact{}, perr
	}
	return PlanArtifact{Plan: plan}, nil
}

// Execute runs the EXECUTE phase's two sub-steps: query generation (budget
// <= 4096 tokens, graceful fallback on parse failure) then delegation to
// the Search Aggregator. onProgress is called with the boundary
// percentages defined in the progress-reporting rule.
func (e *Engine) Execute(ctx context.Context, sessionID *int64, taskID int64, topic, plan string, models research.ModelsConfig, maxResults int, onProgress func(percent int)) (ExecuteArtifact, *research.Error) {
	ctx, span := otelx.StartPhaseSpan(ctx, sessionID, string(research.PhaseResearch))
	defer span.End()

	if onProgress != nil {
		onProgress(0)
	}

	if e.registry != nil {
		if err := e.registry.CheckCancelled(taskID); err != nil {
			return ExecuteArtifact{}, research.NewError(research.KindCancelled, "cancelled before query generation", err)
		}
	}

	raw, perr := e.generate(ctx, systemPreamble(), queryGenerationPrompt(topic, plan), models.Thinking, "execute-queries", 4096)
	if perr != nil {
		return ExecuteArtifact{}, perr
	}
	queries := parseQueries(raw, topic)

	if onProgress != nil {
		onProgress(10)
	}

	if maxResults <= 0 {
		maxResults = e.cfg.DefaultMaxResults
	}
	agg := e.aggregators(models.Task, maxResults)

	total := len(queries)
	result, err := agg.Run(ctx, queries, func(completed, _ int) {
		if e.registry != nil && e.registry.IsCancelled(taskID) {
			return
		}
		if onProgress != nil {
			onProgress(progressFor(completed, total))
		}
	})
	if err != nil {
		return ExecuteArtifact{}, research.NewError(research.KindUpstreamFailure, "search aggregator failed", err)
	}

	if onProgress != nil {
		onProgress(90)
	}

	return ExecuteArtifact{
		Findings:           result.Markdown,
		AggregatedFindings: result.AggregatedFindings,
		SearchTasks:        result.SearchTasks,
	}, nil
}

// FinalReport runs the FINAL REPORT phase: budget <= 8192 output tokens,
// instructed to include all learnings and aim for >= 5 pages.
func (e *Engine) FinalReport(ctx context.Context, sessionID *int64, topic, plan, findings, requirement string, models research.ModelsConfig) (FinalReportArtifact, *research.Error) {
	ctx, span := otelx.StartPhaseSpan(ctx, sessionID, string(research.PhaseReport))
	defer span.End()

	report, perr := e.generate(ctx, systemPreamble(), finalReportPrompt(topic, plan, findings, requirement), models.Thinking, "final-report", 8192)
	if perr != nil {
		return FinalReportArtifact{}, perr
	}
	return FinalReportArtifact{Report: report}, nil
}

// CustomExport runs the CUSTOM EXPORT phase. Unlike EXECUTE, a parse
// failure here is fatal: the phase returns a ParseError rather than
// degrading.
func (e *Engine) CustomExport(ctx context.Context, sessionID *int64, report string, titles []string, models research.ModelsConfig) (CustomExportArtifact, *research.Error) {
	ctx, span := otelx.StartPhaseSpan(ctx, sessionID, "custom-export")
	defer span.End()

	if len(titles) == 0 {
		return CustomExportArtifact{}, research.NewError(research.KindValidation, "custom export requires at least one slide title", nil)
	}

	raw, perr := e.generate(ctx, systemPreamble(), customExportPrompt(report, titles), models.Task, "", 4096)
	if perr != nil {
		return CustomExportArtifact{}, perr
	}

	return parseCustomExport(raw, titles)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := trimSpaceNonEmpty(s[start:i])
			if line != "" {
				lines = append(lines, line)
			}
			start = i + 1
		}
	}
	return lines
}

func trimSpaceNonEmpty(s string) string {
	start, end := 0, len(s)
	for start < end && isSpaceOrBullet(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r'
}

func isSpaceOrBullet(b byte) bool {
	return isSpace(b) || b == '-' || b == '*'
}
