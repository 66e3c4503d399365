package index_test

import (
	"context"
	"testing"

	"github.com/tessera-kb/tessera/internal/embed"
	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/testutil"
)

// unitVector returns a 768-dim vector with 1.0 at position hot, matching the
// schema's vector(768) column.
func unitVector(hot int) []float32 {
	v := make([]float32, embed.Dimension)
	v[hot] = 1.0
	return v
}

func TestPostgresIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}

	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	idx := index.NewPostgres(db.Pool, log.NewNop())

	entries := []index.Entry{
		{
			ID:      "doc-1_0",
			Vector:  unitVector(0),
			Content: "alpha chunk",
			Metadata: map[string]any{
				"document_id": "1", "doc_type": "note", "chunk_index": 0,
			},
		},
		{
			ID:      "doc-1_1",
			Vector:  unitVector(1),
			Content: "beta chunk",
			Metadata: map[string]any{
				"document_id": "1", "doc_type": "note", "chunk_index": 1,
			},
		},
		{
			ID:      "doc-2_0",
			Vector:  unitVector(2),
			Content: "gamma chunk",
			Metadata: map[string]any{
				"document_id": "2", "doc_type": "prd", "chunk_index": 0,
			},
		},
	}
	for _, e := range entries {
		if err := idx.Upsert(ctx, e); err != nil {
			t.Fatalf("upserting %s: %v", e.ID, err)
		}
	}

	t.Run("query returns nearest first", func(t *testing.T) {
		results, err := idx.Query(ctx, unitVector(0), 3, nil)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("expected 3 results, got %d", len(results))
		}
		if results[0].ID != "doc-1_0" {
			t.Errorf("expected doc-1_0 nearest, got %s", results[0].ID)
		}
		if results[0].Distance > 0.0001 {
			t.Errorf("identical vector should have ~0 distance, got %f", results[0].Distance)
		}
		if results[1].Distance < results[0].Distance {
			t.Error("results not ordered by distance")
		}
	})

	t.Run("metadata filter restricts candidates", func(t *testing.T) {
		results, err := idx.Query(ctx, unitVector(0), 10, map[string]string{"doc_type": "prd"})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(results) != 1 || results[0].ID != "doc-2_0" {
			t.Fatalf("expected only doc-2_0, got %+v", results)
		}
	})

	t.Run("metadata round-trips", func(t *testing.T) {
		results, err := idx.Query(ctx, unitVector(1), 1, nil)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		got := results[0]
		if index.MetaString(got.Metadata, "document_id") != "1" {
			t.Errorf("document_id not preserved: %v", got.Metadata)
		}
		if index.MetaInt(got.Metadata, "chunk_index") != 1 {
			t.Errorf("chunk_index not preserved: %v", got.Metadata)
		}
	})

	t.Run("upsert replaces by id", func(t *testing.T) {
		updated := entries[0]
		updated.Content = "alpha chunk v2"
		if err := idx.Upsert(ctx, updated); err != nil {
			t.Fatalf("upsert: %v", err)
		}
		results, err := idx.Query(ctx, unitVector(0), 1, nil)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if results[0].Content != "alpha chunk v2" {
			t.Errorf("expected replaced content, got %q", results[0].Content)
		}
	})

	t.Run("count and delete by filter", func(t *testing.T) {
		count, err := idx.CountByFilter(ctx, map[string]string{"document_id": "1"})
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count != 2 {
			t.Fatalf("expected 2 entries for document 1, got %d", count)
		}

		deleted, err := idx.DeleteByFilter(ctx, map[string]string{"document_id": "1"})
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if deleted != 2 {
			t.Errorf("expected 2 deleted, got %d", deleted)
		}

		count, err = idx.CountByFilter(ctx, map[string]string{"document_id": "1"})
		if err != nil {
			t.Fatalf("recount: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 entries after delete, got %d", count)
		}
	})

	t.Run("empty delete filter rejected", func(t *testing.T) {
		if _, err := idx.DeleteByFilter(ctx, nil); err == nil {
			t.Error("expected error for empty filter")
		}
	})
}
