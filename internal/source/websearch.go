package source

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/pkg/jina"
)

const webSearchPageSize = 10

// WebSearch fetches organic results from the Jina search API.
type WebSearch struct {
	client jina.Client
}

// NewWebSearch creates a web search fetcher.
func NewWebSearch(c jina.Client) *WebSearch {
	return &WebSearch{client: c}
}

// Kind implements Fetcher.
func (w *WebSearch) Kind() model.SourceKind { return model.SourceWebSearch }

// Fetch implements Fetcher. A full page implies there may be another.
func (w *WebSearch) Fetch(ctx context.Context, query string, sub model.SubScope, cursor *Cursor) ([]model.RawCandidate, *Cursor, error) {
	page := 1
	if cursor != nil && cursor.Page > 0 {
		page = cursor.Page
	}
	q := SearchText(query, sub)

	resp, err := w.client.Search(ctx, q, jina.WithLocale("fr", "fr"), jina.WithPage(page, webSearchPageSize))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "source: web search %q page %d", q, page)
	}

	out := make([]model.RawCandidate, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.Title == "" && r.URL == "" {
			continue
		}
		out = append(out, model.RawCandidate{
			Source: model.SourceWebSearch,
			Payload: map[string]any{
				"title":       r.Title,
				"url":         r.URL,
				"description": r.Description,
				"content":     r.Content,
			},
		})
	}

	var next *Cursor
	if len(resp.Data) >= webSearchPageSize {
		next = &Cursor{Page: page + 1}
	}
	return out, next, nil
}
