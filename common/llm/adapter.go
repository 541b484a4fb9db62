package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// reasoningFamilyMarkers are the model-name substrings that select
// max_completion_tokens/no-temperature shaping.
var reasoningFamilyMarkers = []string{"o1", "chato1"}

func isReasoningFamily(model string) bool {
	lower := strings.ToLower(model)
	for _, marker := range reasoningFamilyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// GenerateRequest is the single contract every model family is shaped into.
type GenerateRequest struct {
	System      string
	Prompt      string
	Model       string
	Name        string // agent cache key; empty means no reuse
	MaxTokens   int
	Temperature *float64
	Grounding   bool
}

// GenerateResponse carries the model's text output and usage accounting.
type GenerateResponse struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Backend is the minimal surface an underlying model-family client exposes
// to the Adapter. AgentClient (anthropic/openai) already implements it via
// ChatWithTools, so the adapter drives those through a single Message slice.
type Backend interface {
	ChatWithTools(ctx context.Context, req AgentRequest) (*AgentResponse, error)
	Model() string
}

// groundingTool is the adapter-configured tool reference attached to an
// agent when GenerateRequest.Grounding is requested and the backend
// supports it. A nil groundingTool silently demotes the flag.
type groundingTool struct {
	Tool Tool
}

// cachedAgent is the adapter's memo of one (name) agent: which backend it
// was bound to and whether grounding was actually attached.
type cachedAgent struct {
	backend       Backend
	groundingUsed bool
}

// Adapter presents the single generate(...) contract over heterogeneous
// model families and backends, with agent reuse and a cached model catalog.
type Adapter struct {
	backends map[string]Backend // keyed by family prefix, e.g. "claude", "gpt", "o1"
	fallback Backend

	grounding *groundingTool

	mu     sync.Mutex
	agents map[string]*cachedAgent

	catalog *Catalog
}

// NewAdapter builds an Adapter over the given family backends. fallback is
// used when no registered prefix matches the requested model.
func NewAdapter(backends map[string]Backend, fallback Backend, grounding *groundingTool, catalog *Catalog) *Adapter {
	return &Adapter{
		backends:  backends,
		fallback:  fallback,
		grounding: grounding,
		agents:    make(map[string]*cachedAgent),
		catalog:   catalog,
	}
}

// WithGroundingTool attaches the web-grounding tool reference the adapter
// will offer to agents created with Grounding: true.
func WithGroundingTool(t Tool) *groundingTool {
	return &groundingTool{Tool: t}
}

func (a *Adapter) backendFor(model string) Backend {
	lower := strings.ToLower(model)
	for prefix, b := range a.backends {
		if strings.HasPrefix(lower, prefix) {
			return b
		}
	}
	return a.fallback
}

// agentFor returns the cached agent for name, creating and caching one on
// miss. Agent creation failures fall back to a nameless, tool-less agent on
// the same backend.
func (a *Adapter) agentFor(ctx context.Context, name string, backend Backend, grounding bool) *cachedAgent {
	if name == "" {
		return a.newAgent(ctx, backend, grounding)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if cached, ok := a.agents[name]; ok {
		return cached
	}

	agent := a.newAgent(ctx, backend, grounding)
	a.agents[name] = agent
	return agent
}

func (a *Adapter) newAgent(ctx context.Context, backend Backend, grounding bool) *cachedAgent {
	if grounding && a.grounding == nil {
		slog.DebugContext(ctx, "llm adapter: grounding requested but no grounding tool configured, demoting")
		grounding = false
	}
	if backend == nil {
		slog.WarnContext(ctx, "llm adapter: agent creation failed, falling back to nameless tool-less agent")
		return &cachedAgent{backend: a.fallback, groundingUsed: false}
	}
	return &cachedAgent{backend: backend, groundingUsed: grounding}
}

// Generate shapes req into the target family's parameters and invokes it.
// Reasoning-family models (o1/chato1) use max_completion_tokens and omit
// temperature; all other chat-style models use max_tokens and temperature.
// This shaping is opaque to the caller.
func (a *Adapter) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	backend := a.backendFor(req.Model)
	if backend == nil {
		return nil, fmt.Errorf("llm adapter: no backend configured for model %q", req.Model)
	}

	agent := a.agentFor(ctx, req.Name, backend, req.Grounding)

	messages := []Message{{Role: "system", Content: req.System}, {Role: "user", Content: req.Prompt}}

	agentReq := AgentRequest{
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	}

	if agent.groundingUsed {
		agentReq.Tools = []Tool{a.grounding.Tool}
	}

	if !isReasoningFamily(req.Model) {
		agentReq.Temperature = req.Temperature
	}
	// Reasoning-family models: temperature intentionally left nil — the
	// underlying client already swaps in max_completion_tokens for these.

	resp, err := agent.backend.ChatWithTools(ctx, agentReq)
	if err != nil {
		return nil, fmt.Errorf("llm adapter generate: %w", err)
	}

	return &GenerateResponse{
		Content:          resp.Content,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}
