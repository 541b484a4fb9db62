package pipeline

import (
	"encoding/json"

	"deepresearch.app/core/internal/research"
)

// unavailableContent is the literal fallback required when a slide
// title has no relevant section in the source report.
const unavailableContent = "Content unavailable in provided Markdown."

type rawSlide struct {
	Title   string          `json:"title"`
	Content json.RawMessage `json:"content"`
}

type rawExport struct {
	Slides []rawSlide `json:"slides"`
}

// parseCustomExport enforces strict JSON parsing (a ParseError is fatal for
// this phase, unlike EXECUTE's query generation) and the exact slide-title
// order given by titles, regardless of the order the model returned them
// in. Any title absent from the model's response gets the literal
// unavailable-content fallback.
func parseCustomExport(raw string, titles []string) (CustomExportArtifact, *research.Error) {
	cleaned := stripFence(raw)

	var parsed rawExport
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return CustomExportArtifact{}, research.NewError(research.KindParseError,
			"custom export response was not valid JSON", err)
	}

	byTitle := make(map[string]json.RawMessage, len(parsed.Slides))
	for _, s := range parsed.Slides {
		byTitle[s.Title] = s.Content
	}

	slides := make([]Slide, 0, len(titles))
	for _, title := range titles {
		raw, ok := byTitle[title]
		if !ok || len(raw) == 0 {
			slides = append(slides, Slide{Title: title, Content: unavailableContent})
			continue
		}

		content, err := decodeSlideContent(raw)
		if err != nil {
			slides = append(slides, Slide{Title: title, Content: unavailableContent})
			continue
		}
		slides = append(slides, Slide{Title: title, Content: content})
	}

	return CustomExportArtifact{Slides: slides}, nil
}

// decodeSlideContent accepts either an ordered bullet list or a
// category-to-bullets mapping (SWOT-style slides).
func decodeSlideContent(raw json.RawMessage) (any, error) {
	var bullets []string
	if err := json.Unmarshal(raw, &bullets); err == nil {
		return bullets, nil
	}

	var categories map[string][]string
	if err := json.Unmarshal(raw, &categories); err == nil {
		return categories, nil
	}

	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	return nil, errUnrecognizedSlideContent
}

var errUnrecognizedSlideContent = research.NewError(research.KindParseError, "unrecognized slide content shape", nil)
