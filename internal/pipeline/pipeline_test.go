package pipeline

import (
	"context"
	"testing"

	"deepresearch.app/core/internal/research"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestPipeline(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Pipeline Suite")
}

var _ = Describe("parseQueries", func() {
	It("parses a bare JSON array", func() {
		raw := `[{"query": "a", "researchGoal": "goal a"}, {"query": "b", "researchGoal": "goal b"}]`
		queries := parseQueries(raw, "topic")
		Expect(queries).To(HaveLen(2))
		Expect(queries[0].Query).To(Equal("a"))
		Expect(queries[1].ResearchGoal).To(Equal("goal b"))
	})

	It("strips a fenced json code block", func() {
		raw := "```json\n[{\"query\": \"a\", \"researchGoal\": \"goal a\"}]\n```"
		queries := parseQueries(raw, "topic")
		Expect(queries).To(HaveLen(1))
		Expect(queries[0].Query).To(Equal("a"))
	})

	It("falls back to a single general-research query on parse failure", func() {
		queries := parseQueries("not json at all", "my topic")
		Expect(queries).To(HaveLen(1))
		Expect(queries[0].Query).To(Equal("my topic"))
		Expect(queries[0].ResearchGoal).To(Equal("General research"))
	})

	It("falls back on an empty array", func() {
		queries := parseQueries("[]", "my topic")
		Expect(queries).To(HaveLen(1))
		Expect(queries[0].Query).To(Equal("my topic"))
	})

	It("defaults a missing researchGoal to General research", func() {
		queries := parseQueries(`[{"query": "a"}]`, "topic")
		Expect(queries[0].ResearchGoal).To(Equal("General research"))
	})
})

var _ = Describe("parseCustomExport", func() {
	It("enforces the caller's slide-title order regardless of response order", func() {
		raw := `{"slides": [{"title": "Conclusion", "content": ["c1"]}, {"title": "Intro", "content": ["i1"]}]}`
		artifact, err := parseCustomExport(raw, []string{"Intro", "Conclusion"})
		Expect(err).To(BeNil())
		Expect(artifact.Slides).To(HaveLen(2))
		Expect(artifact.Slides[0].Title).To(Equal("Intro"))
		Expect(artifact.Slides[1].Title).To(Equal("Conclusion"))
	})

	It("fills missing slide titles with the literal fallback content", func() {
		raw := `{"slides": [{"title": "Intro", "content": ["i1"]}]}`
		artifact, err := parseCustomExport(raw, []string{"Intro", "Missing"})
		Expect(err).To(BeNil())
		Expect(artifact.Slides[1].Content).To(Equal(unavailableContent))
	})

	It("accepts category-mapped content for SWOT-style slides", func() {
		raw := `{"slides": [{"title": "SWOT", "content": {"Strengths": ["s1"], "Weaknesses": ["w1"]}}]}`
		artifact, err := parseCustomExport(raw, []string{"SWOT"})
		Expect(err).To(BeNil())
		content, ok := artifact.Slides[0].Content.(map[string][]string)
		Expect(ok).To(BeTrue())
		Expect(content["Strengths"]).To(Equal([]string{"s1"}))
	})

	It("returns a ParseError for invalid JSON", func() {
		_, err := parseCustomExport("not json", []string{"Intro"})
		Expect(err).NotTo(BeNil())
		Expect(err.Kind).To(Equal(research.KindParseError))
	})

	It("rejects an empty slide-title list at the engine level", func() {
		engine := New(nil, nil, nil, nil, Config{})
		_, perr := engine.CustomExport(context.Background(), nil, "report", nil, research.ModelsConfig{})
		Expect(perr).NotTo(BeNil())
		Expect(perr.Kind).To(Equal(research.KindValidation))
	})
})
