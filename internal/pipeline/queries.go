package pipeline

import (
	"encoding/json"
	"regexp"
	"strings"

	"deepresearch.app/core/internal/aggregator"
)

// fencedJSONBlock matches a ```json ... ``` or bare ``` ... ``` fence.
var fencedJSONBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if m := fencedJSONBlock.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

type rawQuery struct {
	Query        string `json:"query"`
	ResearchGoal string `json:"researchGoal"`
}

// parseQueries implements the EXECUTE query-generation parse rule: strip a
// fenced ```json block if present, otherwise parse directly; on any parse
// failure (or an empty array) fall back to a single
// {query: topic, researchGoal: "General research"} element. The engine
// MUST NOT discard the raw response on parse failure — it degrades instead.
func parseQueries(raw, topic string) []aggregator.Query {
	cleaned := stripFence(raw)

	var parsed []rawQuery
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil || len(parsed) == 0 {
		return []aggregator.Query{{Query: topic, ResearchGoal: "General research"}}
	}

	queries := make([]aggregator.Query, 0, len(parsed))
	for _, p := range parsed {
		if p.Query == "" {
			continue
		}
		goal := p.ResearchGoal
		if goal == "" {
			goal = "General research"
		}
		queries = append(queries, aggregator.Query{Query: p.Query, ResearchGoal: goal})
	}
	if len(queries) == 0 {
		return []aggregator.Query{{Query: topic, ResearchGoal: "General research"}}
	}
	return queries
}
