package aggregator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"deepresearch.app/core/common/llm"
	"deepresearch.app/core/common/search"
	"deepresearch.app/core/internal/research"
)

type fakeAdapter struct {
	resultsByQuery map[string][]search.Result
	errByQuery     map[string]error
}

func (f *fakeAdapter) Search(ctx context.Context, query string, maxResults int) ([]search.Result, error) {
	if err, ok := f.errByQuery[query]; ok {
		return nil, err
	}
	return f.resultsByQuery[query], nil
}

type fakeBackend struct {
	model string
}

func (f *fakeBackend) ChatWithTools(ctx context.Context, req llm.AgentRequest) (*llm.AgentResponse, error) {
	return &llm.AgentResponse{Content: "synthesis for: " + req.Messages[len(req.Messages)-1].Content}, nil
}

func (f *fakeBackend) Model() string { return f.model }

func newTestAggregator(adapter search.Adapter, cfg Config) *Aggregator {
	backend := &fakeBackend{model: "task-model"}
	adapterLLM := llm.NewAdapter(map[string]llm.Backend{"task-model": backend}, backend, nil, nil)
	return New(adapter, adapterLLM, "task-model", cfg)
}

func TestRun_PreservesInputOrder(t *testing.T) {
	fa := &fakeAdapter{
		resultsByQuery: map[string][]search.Result{
			"a": {{Title: "A1", URL: "u1", Content: "content a"}},
			"b": {{Title: "B1", URL: "u2", Content: "content b"}},
			"c": {{Title: "C1", URL: "u3", Content: "content c"}},
		},
	}
	agg := newTestAggregator(fa, Config{SourceCeiling: 1000, AggregationCeiling: 10000, QueryCeiling: 400, PromptCeiling: 250000})

	queries := []Query{{Query: "a", ResearchGoal: "ga"}, {Query: "b", ResearchGoal: "gb"}, {Query: "c", ResearchGoal: "gc"}}
	result, err := agg.Run(context.Background(), queries, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.SearchTasks) != 3 {
		t.Fatalf("len(SearchTasks) = %d, want 3", len(result.SearchTasks))
	}
	for i, want := range []string{"a", "b", "c"} {
		if result.SearchTasks[i].Query != want {
			t.Errorf("SearchTasks[%d].Query = %q, want %q", i, result.SearchTasks[i].Query, want)
		}
		if result.AggregatedFindings[i].QueryNumber != i+1 {
			t.Errorf("AggregatedFindings[%d].QueryNumber = %d, want %d", i, result.AggregatedFindings[i].QueryNumber, i+1)
		}
	}
}

func TestRun_PartialFailureDoesNotBlockOtherQueries(t *testing.T) {
	fa := &fakeAdapter{
		resultsByQuery: map[string][]search.Result{
			"good": {{Title: "G1", URL: "u1", Content: "content"}},
		},
		errByQuery: map[string]error{
			"bad": errors.New("search backend unavailable"),
		},
	}
	agg := newTestAggregator(fa, Config{SourceCeiling: 1000, AggregationCeiling: 10000, QueryCeiling: 400, PromptCeiling: 250000})

	queries := []Query{{Query: "bad", ResearchGoal: "g1"}, {Query: "good", ResearchGoal: "g2"}}
	result, err := agg.Run(context.Background(), queries, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.SearchTasks[0].State != research.SearchFailed {
		t.Errorf("SearchTasks[0].State = %s, want failed", result.SearchTasks[0].State)
	}
	if len(result.SearchTasks[0].Sources) != 0 {
		t.Errorf("failed SearchTask must not carry partial sources")
	}
	if result.SearchTasks[1].State != research.SearchCompleted {
		t.Errorf("SearchTasks[1].State = %s, want completed", result.SearchTasks[1].State)
	}
}

func TestRun_TruncatesQueryAtWordBoundary(t *testing.T) {
	longQuery := strings.Repeat("word ", 100)
	fa := &fakeAdapter{resultsByQuery: map[string][]search.Result{}}
	agg := newTestAggregator(fa, Config{SourceCeiling: 1000, AggregationCeiling: 10000, QueryCeiling: 50, PromptCeiling: 250000})

	result, err := agg.Run(context.Background(), []Query{{Query: longQuery, ResearchGoal: "g"}}, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(result.SearchTasks[0].Query) > 50 {
		t.Errorf("query not truncated: len = %d", len(result.SearchTasks[0].Query))
	}
}

func TestDistributeCeiling_DropsSourcesBeyondCeiling(t *testing.T) {
	sources := []research.Source{
		{Title: "1", Content: strings.Repeat("x", 100)},
		{Title: "2", Content: strings.Repeat("y", 100)},
		{Title: "3", Content: strings.Repeat("z", 100)},
	}
	kept := distributeCeiling(context.Background(), sources, 60)
	total := 0
	for _, s := range kept {
		total += len(s.Content)
	}
	if total > 60 {
		t.Errorf("total content %d exceeds ceiling 60", total)
	}
}
