package pipeline

import "deepresearch.app/core/internal/research"

// QuestionsArtifact is the output of the QUESTIONS phase.
type QuestionsArtifact struct {
	Questions []string
	Report    string
}

// PlanArtifact is the output of the PLAN phase.
type PlanArtifact struct {
	Plan string
}

// ExecuteArtifact is the output of the EXECUTE phase: the Search
// Aggregator's result plus the queries that produced it.
type ExecuteArtifact struct {
	Findings           string
	AggregatedFindings []research.AggregatedFinding
	SearchTasks        []research.SearchTask
}

// FinalReportArtifact is the output of the FINAL REPORT phase.
type FinalReportArtifact struct {
	Report string
}

// Slide is one element of a CUSTOM EXPORT's output array. Content is either
// []string (ordered bullets), map[string][]string (SWOT-style categories),
// or the literal fallback string when the report had nothing relevant.
type Slide struct {
	Title   string `json:"title"`
	Content any    `json:"content"`
}

// CustomExportArtifact is the output of the CUSTOM EXPORT phase.
type CustomExportArtifact struct {
	Slides []Slide
}
