// Package source fetches raw repairer candidates from external providers,
// one Fetcher per provider, each behind an anti-blocking throttle.
package source

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/repairer-sync/internal/model"
)

// Cursor is an opaque continuation point returned by a Fetcher. A nil cursor
// means the first page; a nil next cursor means there are no more pages.
type Cursor struct {
	PageToken string `json:"page_token,omitempty"`
	Page      int    `json:"page,omitempty"`
}

// Fetcher returns one page of raw candidates for a query within a sub-scope.
// Errors carry a resilience class (transient or quota) when the provider
// reported one; anything else is treated as permanent by callers.
type Fetcher interface {
	Kind() model.SourceKind
	Fetch(ctx context.Context, query string, sub model.SubScope, cursor *Cursor) ([]model.RawCandidate, *Cursor, error)
}

// SearchText renders the provider query for a sub-scope, e.g.
// "réparation téléphone Lyon 69001".
func SearchText(query string, sub model.SubScope) string {
	parts := []string{strings.TrimSpace(query)}
	if sub.City.Name != "" {
		parts = append(parts, sub.City.Name)
	}
	if sub.City.PostalCode != "" {
		parts = append(parts, sub.City.PostalCode)
	}
	return strings.Join(parts, " ")
}

type entry struct {
	fetcher Fetcher
	queries []string
}

// Registry holds the configured fetchers and their query lists.
type Registry struct {
	entries map[model.SourceKind]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.SourceKind]entry)}
}

// Register adds f under its kind, replacing any previous fetcher.
func (r *Registry) Register(f Fetcher, queries []string) {
	r.entries[f.Kind()] = entry{fetcher: f, queries: append([]string(nil), queries...)}
}

// Get returns the fetcher for kind.
func (r *Registry) Get(kind model.SourceKind) (Fetcher, error) {
	e, ok := r.entries[kind]
	if !ok {
		return nil, eris.Errorf("source: %q is not configured", kind)
	}
	return e.fetcher, nil
}

// Queries returns the search queries configured for kind.
func (r *Registry) Queries(kind model.SourceKind) []string {
	return append([]string(nil), r.entries[kind].queries...)
}

// Kinds lists registered source kinds in name order.
func (r *Registry) Kinds() []model.SourceKind {
	out := make([]model.SourceKind, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
