// Package search finds submitted topics by title and description.
package search

import (
	"context"

	"barcamp/api/internal/model"
)

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	Pinned  bool   `json:"pinned"`
}

// Query describes a search request.
type Query struct {
	Text       string
	PinnedOnly bool
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
}

// TopicRecord is the data we index for a topic.
type TopicRecord struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Authors     []string `json:"authors"`
	Pinned      bool     `json:"pinned"`
}

func recordOf(t model.Topic) TopicRecord {
	authors := t.AuthorIDs
	if authors == nil {
		authors = []string{}
	}
	return TopicRecord{ID: t.ID, Title: t.Title, Description: t.Description, Authors: authors, Pinned: t.Pinned}
}

func limitOf(q Query) int {
	if q.Limit <= 0 {
		return 20
	}
	return q.Limit
}
