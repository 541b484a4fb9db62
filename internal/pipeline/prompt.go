package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"deepresearch.app/core/common/llm"
	"deepresearch.app/core/internal/research"
)

// querySchemaHint and slideSchemaHint are embedded in their phase prompts so
// the model sees the exact shape expected, generated the same way the
// teacher's structured-output client documents its schemas
// (common/llm/llm.go: GenerateSchemaFrom). The engine still parses the
// response defensively (fence-stripped, fallback-on-failure) since not
// every model family honors a schema hint as strictly as OpenAI's
// response_format does.
var (
	querySchemaHint = schemaHint([]rawQuery{})
	slideSchemaHint = schemaHint(rawExport{})
)

func schemaHint(v any) string {
	schema := llm.GenerateSchemaFrom(v)
	encoded, err := json.Marshal(schema)
	if err != nil {
		return ""
	}
	return string(encoded)
}

// systemPreamble is shared by every phase; it is injected with today's date
// the same way the corpus's planner prompts do.
func systemPreamble() string {
	return fmt.Sprintf(
		"You are a meticulous research assistant. Today's date is %s. "+
			"Follow the user's instructions precisely and respond only with the requested content.",
		time.Now().Format("2006-01-02"),
	)
}

func questionsPrompt(topic string) string {
	return fmt.Sprintf(
		"Topic:\n%s\n\nGenerate at least five concise follow-up questions that would help scope a thorough research "+
			"plan on this topic. Write the questions in the same language as the topic. Return one question per line, "+
			"with no numbering or extra commentary.",
		topic,
	)
}

func planPrompt(topic string, questions []string, feedback string) string {
	qs := ""
	for i, q := range questions {
		qs += fmt.Sprintf("%d. %s\n", i+1, q)
	}
	return fmt.Sprintf(
		"Topic:\n%s\n\nFollow-up questions already asked:\n%s\nUser feedback:\n%s\n\n"+
			"Produce a sectioned research plan. Each section must have a short title and a one-sentence summary of "+
			"what it covers. Sections must not overlap in scope.",
		topic, qs, feedback,
	)
}

const queryGenerationInstructions = "Return a strict JSON array of objects shaped like " +
	"{\"query\": string, \"researchGoal\": string}, one per research angle the plan calls for. " +
	"Return JSON only, with no commentary."

func queryGenerationPrompt(topic, plan string) string {
	return fmt.Sprintf(
		"Topic:\n%s\n\nResearch plan:\n%s\n\n%s\n\nJSON schema:\n%s",
		topic, plan, queryGenerationInstructions, querySchemaHint,
	)
}

func finalReportPrompt(topic, plan, findings, requirement string) string {
	req := requirement
	if req == "" {
		req = "No additional style guidance was provided; use clear, professional Markdown."
	}
	return fmt.Sprintf(
		"Topic:\n%s\n\nResearch plan:\n%s\n\nAggregated findings:\n%s\n\nStyle guidance:\n%s\n\n"+
			"Write a long-form Markdown research report that includes ALL the learnings above, organized under the "+
			"plan's sections, citing sources with [n] markers where the findings provide them. Aim for at least five "+
			"pages of content.",
		topic, plan, findings, req,
	)
}

const customExportInstructions = "Return strict JSON shaped like {\"slides\": [{\"title\": string, \"content\": " +
	"<array of short bullet strings, or an object mapping category to an array of bullet strings>}]}. " +
	"Preserve the exact order of slide titles given. If the report has no content relevant to a slide's title, " +
	"set that slide's content to the literal string \"Content unavailable in provided Markdown.\""

func customExportPrompt(report string, titles []string) string {
	order := ""
	for i, t := range titles {
		order += fmt.Sprintf("%d. %s\n", i+1, t)
	}
	return fmt.Sprintf(
		"Final report (Markdown):\n%s\n\nSlide titles, in required order:\n%s\n%s\n\nJSON schema:\n%s",
		report, order, customExportInstructions, slideSchemaHint,
	)
}

// enforcePromptCeiling reduces prompt to fit ceiling characters, preserving
// at least 70% of the original text at a sentence or word boundary. Returns
// a ContextTooLarge error if it cannot.
func enforcePromptCeiling(prompt string, ceiling int) (string, *research.Error) {
	if ceiling <= 0 || len(prompt) <= ceiling {
		return prompt, nil
	}
	reduced, ok := research.TruncateToFraction(prompt, ceiling, 0.7)
	if !ok {
		return "", research.NewError(research.KindContextTooLarge,
			fmt.Sprintf("prompt of %d characters cannot be reduced to the %d-character ceiling while retaining 70%%", len(prompt), ceiling), nil)
	}
	return reduced, nil
}
