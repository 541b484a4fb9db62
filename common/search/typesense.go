package search

import (
	"context"
	"fmt"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
)

// TypesenseAdapter is the alternate Search Adapter backend: a pre-crawled or
// offline corpus indexed in Typesense. Exempt from the shared rate limiter
// since it never leaves the local deployment.
type TypesenseAdapter struct {
	client     *typesense.Client
	collection string
}

func NewTypesenseAdapter(nodeURL, apiKey, collection string) *TypesenseAdapter {
	client := typesense.NewClient(
		typesense.WithServer(nodeURL),
		typesense.WithAPIKey(apiKey),
	)
	return &TypesenseAdapter{client: client, collection: collection}
}

type typesenseDoc struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
}

func (a *TypesenseAdapter) Search(ctx context.Context, query string, maxResults int) ([]Result, error) {
	perPage := maxResults
	searchParams := &api.SearchCollectionParams{
		Q:       query,
		QueryBy: "title,content",
		PerPage: &perPage,
	}

	resp, err := a.client.Collection(a.collection).Documents().Search(ctx, searchParams)
	if err != nil {
		return nil, fmt.Errorf("typesense search: %w", err)
	}

	if resp.Hits == nil {
		return nil, nil
	}

	results := make([]Result, 0, len(*resp.Hits))
	for _, hit := range *resp.Hits {
		if hit.Document == nil {
			continue
		}
		doc := *hit.Document
		title, _ := doc["title"].(string)
		url, _ := doc["url"].(string)
		content, _ := doc["content"].(string)

		score := 0.0
		if hit.TextMatch != nil {
			score = float64(*hit.TextMatch)
		}

		results = append(results, Result{
			Title:   title,
			URL:     url,
			Content: content,
			Score:   score,
		})
	}
	return results, nil
}
