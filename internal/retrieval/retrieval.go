// Package retrieval implements semantic search over the vector index:
// query embedding, k-NN lookup, distance-to-similarity normalization and the
// post-query filters the index cannot express natively.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/log"
)

// DefaultLimit is the result count used when the caller does not specify one.
const DefaultLimit = 10

// overfetchFactor is how many extra candidates to pull from the index when
// post-query filters are active, so filtering does not starve the result set.
const overfetchFactor = 3

// Index is the subset of the vector index the engine queries.
type Index interface {
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]index.Result, error)
}

// Embedder embeds a single query string.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Filters are the post-query predicates applied after the k-NN lookup.
// Zero values mean "no constraint".
type Filters struct {
	DocType  string
	Author   string
	DateFrom time.Time
	DateTo   time.Time
	Tags     []string
}

// Active reports whether any filter is set.
func (f *Filters) Active() bool {
	if f == nil {
		return false
	}
	return f.DocType != "" || f.Author != "" || !f.DateFrom.IsZero() || !f.DateTo.IsZero() || len(f.Tags) > 0
}

// Match is a single search hit, best matches first.
type Match struct {
	ID         string
	Text       string
	Similarity float64
	Metadata   map[string]any
}

// Similarity maps a cosine distance in the nominal [0,2] range onto [0,1],
// 1 meaning identical. Out-of-range distances clamp rather than error. This
// is the one canonical mapping; every component converts distances through
// it.
func Similarity(distance float64) float64 {
	if math.IsNaN(distance) || distance < 0 {
		distance = index.WorstDistance
	}
	s := (index.WorstDistance - distance) / index.WorstDistance
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// Engine executes semantic searches.
type Engine struct {
	index    Index
	embedder Embedder
	logger   log.Logger
}

// New creates an Engine.
func New(idx Index, embedder Embedder, logger log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{index: idx, embedder: embedder, logger: logger}
}

// Search embeds the query, runs a k-NN lookup and applies post-query
// filters, returning up to limit matches in similarity-descending order.
// When filters are active the index is over-fetched so post-filtering can
// still fill the limit. No matches is an empty slice, not an error.
func (e *Engine) Search(ctx context.Context, query string, limit int, filters *Filters) ([]Match, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	vector, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	k := limit
	if filters.Active() {
		k = limit * overfetchFactor
	}

	results, err := e.index.Query(ctx, vector, k, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	matches := make([]Match, 0, limit)
	for _, r := range results {
		if !matchesFilters(r.Metadata, filters) {
			continue
		}
		matches = append(matches, Match{
			ID:         r.ID,
			Text:       r.Content,
			Similarity: Similarity(r.Distance),
			Metadata:   r.Metadata,
		})
		if len(matches) >= limit {
			break
		}
	}

	e.logger.Debug("search complete", "query_length", len(query),
		"candidates", len(results), "matches", len(matches))
	return matches, nil
}

// matchesFilters applies the post-query predicates. A result missing the
// field a predicate needs is kept rather than excluded; the index is shared
// across content types and absence of a field is not evidence of a mismatch.
func matchesFilters(meta map[string]any, f *Filters) bool {
	if !f.Active() {
		return true
	}

	if f.DocType != "" {
		if dt := index.MetaString(meta, "doc_type"); dt != "" && dt != f.DocType {
			return false
		}
	}

	if f.Author != "" {
		if author := index.MetaString(meta, "author"); author != "" && !strings.EqualFold(author, f.Author) {
			return false
		}
	}

	if !f.DateFrom.IsZero() || !f.DateTo.IsZero() {
		if raw := index.MetaString(meta, "created_at"); raw != "" {
			created, err := time.Parse(time.RFC3339, raw)
			if err == nil {
				if !f.DateFrom.IsZero() && created.Before(f.DateFrom) {
					return false
				}
				if !f.DateTo.IsZero() && created.After(f.DateTo) {
					return false
				}
			}
			// Malformed timestamps skip the date filter instead of excluding
			// the result.
		}
	}

	if len(f.Tags) > 0 {
		tags := index.MetaStrings(meta, "tags")
		if len(tags) > 0 && !anyTagMatches(tags, f.Tags) {
			return false
		}
	}

	return true
}

// anyTagMatches reports whether any requested tag appears in the result's
// tag list, case-insensitively.
func anyTagMatches(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
