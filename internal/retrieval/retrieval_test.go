package retrieval

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/log"
)

// stubIndex returns canned results and records the requested k.
type stubIndex struct {
	results []index.Result
	err     error
	lastK   int
}

func (s *stubIndex) Query(_ context.Context, _ []float32, k int, _ map[string]string) ([]index.Result, error) {
	s.lastK = k
	if s.err != nil {
		return nil, s.err
	}
	if k < len(s.results) {
		return s.results[:k], nil
	}
	return s.results, nil
}

type stubQueryEmbedder struct{ err error }

func (s *stubQueryEmbedder) EmbedOne(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0, 0}, nil
}

func result(id string, distance float64, meta map[string]any) index.Result {
	if meta == nil {
		meta = map[string]any{}
	}
	return index.Result{ID: id, Content: "text for " + id, Distance: distance, Metadata: meta}
}

func TestSimilarityMonotonic(t *testing.T) {
	distances := []float64{0, 0.1, 0.5, 1.0, 1.5, 2.0, 3.0}
	for i := 1; i < len(distances); i++ {
		if Similarity(distances[i-1]) < Similarity(distances[i]) {
			t.Errorf("similarity not monotonic between d=%f and d=%f", distances[i-1], distances[i])
		}
	}
}

func TestSimilarityBounds(t *testing.T) {
	tests := []struct {
		distance float64
		want     float64
	}{
		{0, 1},
		{1, 0.5},
		{2, 0},
		{2.5, 0},  // beyond nominal range clamps to 0
		{-0.5, 0}, // negative distance treated as worst case
		{math.NaN(), 0},
	}
	for _, tt := range tests {
		got := Similarity(tt.distance)
		if got < 0 || got > 1 {
			t.Errorf("Similarity(%f) = %f out of [0,1]", tt.distance, got)
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Similarity(%f) = %f, want %f", tt.distance, got, tt.want)
		}
	}
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	idx := &stubIndex{results: []index.Result{
		result("a", 0.2, nil),
		result("b", 0.6, nil),
		result("c", 1.4, nil),
	}}
	e := New(idx, &stubQueryEmbedder{}, log.NewNop())

	matches, err := e.Search(context.Background(), "query", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	for i := 1; i < len(matches); i++ {
		if matches[i-1].Similarity < matches[i].Similarity {
			t.Error("matches not in similarity-descending order")
		}
	}
	if idx.lastK != 10 {
		t.Errorf("expected k=10 without filters, got %d", idx.lastK)
	}
}

func TestSearchOverfetchesWithFilters(t *testing.T) {
	idx := &stubIndex{}
	e := New(idx, &stubQueryEmbedder{}, log.NewNop())

	_, err := e.Search(context.Background(), "query", 10, &Filters{DocType: "note"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if idx.lastK != 30 {
		t.Errorf("expected 3x overfetch with filters, got k=%d", idx.lastK)
	}
}

func TestSearchStopsAtLimit(t *testing.T) {
	idx := &stubIndex{results: []index.Result{
		result("a", 0.1, map[string]any{"doc_type": "note"}),
		result("b", 0.2, map[string]any{"doc_type": "prd"}),
		result("c", 0.3, map[string]any{"doc_type": "note"}),
		result("d", 0.4, map[string]any{"doc_type": "note"}),
	}}
	e := New(idx, &stubQueryEmbedder{}, log.NewNop())

	matches, err := e.Search(context.Background(), "query", 2, &Filters{DocType: "note"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected limit of 2, got %d", len(matches))
	}
	if matches[0].ID != "a" || matches[1].ID != "c" {
		t.Errorf("wrong matches after filtering: %s, %s", matches[0].ID, matches[1].ID)
	}
}

func TestSearchFilters(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	results := []index.Result{
		result("typed", 0.1, map[string]any{"doc_type": "prd"}),
		result("authored", 0.2, map[string]any{"author": "Ada Lovelace"}),
		result("dated", 0.3, map[string]any{"created_at": base.Format(time.RFC3339)}),
		result("baddate", 0.4, map[string]any{"created_at": "not-a-date"}),
		result("tagged", 0.5, map[string]any{"tags": []any{"Design", "infra"}}),
		result("bare", 0.6, nil),
	}

	tests := []struct {
		name    string
		filters Filters
		wantIDs []string
	}{
		{
			"doc type exact",
			Filters{DocType: "prd"},
			// bare has no doc_type field and is kept.
			[]string{"typed", "authored", "dated", "baddate", "tagged", "bare"},
		},
		{
			"author case-insensitive",
			Filters{Author: "ada lovelace"},
			[]string{"typed", "authored", "dated", "baddate", "tagged", "bare"},
		},
		{
			"date range excludes earlier",
			Filters{DateFrom: base.AddDate(0, 1, 0)},
			// dated is before DateFrom and excluded; baddate kept (malformed
			// timestamp skips the predicate).
			[]string{"typed", "authored", "baddate", "tagged", "bare"},
		},
		{
			"tags any match",
			Filters{Tags: []string{"design"}},
			[]string{"typed", "authored", "dated", "baddate", "tagged", "bare"},
		},
		{
			"tags no match excludes tagged",
			Filters{Tags: []string{"security"}},
			[]string{"typed", "authored", "dated", "baddate", "bare"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(&stubIndex{results: results}, &stubQueryEmbedder{}, log.NewNop())
			matches, err := e.Search(context.Background(), "query", 10, &tt.filters)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			var ids []string
			for _, m := range matches {
				ids = append(ids, m.ID)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("got %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Fatalf("got %v, want %v", ids, tt.wantIDs)
				}
			}
		})
	}
}

func TestSearchExcludesMismatchedDocType(t *testing.T) {
	idx := &stubIndex{results: []index.Result{
		result("a", 0.1, map[string]any{"doc_type": "note"}),
		result("b", 0.2, map[string]any{"doc_type": "prd"}),
	}}
	e := New(idx, &stubQueryEmbedder{}, log.NewNop())

	matches, err := e.Search(context.Background(), "query", 10, &Filters{DocType: "note"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != "a" {
		t.Errorf("expected only 'a', got %+v", matches)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	e := New(&stubIndex{}, &stubQueryEmbedder{}, log.NewNop())
	if _, err := e.Search(context.Background(), "   ", 10, nil); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestSearchNoMatchesIsEmptyNotError(t *testing.T) {
	e := New(&stubIndex{}, &stubQueryEmbedder{}, log.NewNop())
	matches, err := e.Search(context.Background(), "query", 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected empty result, got %d", len(matches))
	}
}

func TestSearchPropagatesErrors(t *testing.T) {
	embedErr := errors.New("embedder down")
	e := New(&stubIndex{}, &stubQueryEmbedder{err: embedErr}, log.NewNop())
	if _, err := e.Search(context.Background(), "query", 10, nil); !errors.Is(err, embedErr) {
		t.Errorf("expected embed error, got %v", err)
	}

	idxErr := errors.New("index down")
	e = New(&stubIndex{err: idxErr}, &stubQueryEmbedder{}, log.NewNop())
	if _, err := e.Search(context.Background(), "query", 10, nil); !errors.Is(err, idxErr) {
		t.Errorf("expected index error, got %v", err)
	}
}
