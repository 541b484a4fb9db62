// Package search provides the uniform result shape over external search
// APIs that the Search Aggregator consumes.
package search

import (
	"context"

	"deepresearch.app/core/internal/research"
)

// Adapter has the single capability the aggregator needs: search.
type Adapter interface {
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)
}

// Result is one raw hit returned by an Adapter, before the aggregator
// applies its per-source truncation and context-ceiling distribution.
type Result struct {
	Title   string
	URL     string
	Content string
	Score   float64
	Image   *research.Image
}
