package graph

import (
	"context"
	"testing"

	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/store"
)

type fakeStore struct {
	docs   []store.Document
	repos  []store.Repository
	sheets []store.Spreadsheet
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error)     { return f.docs, nil }
func (f *fakeStore) ListRepositories(context.Context) ([]store.Repository, error) { return f.repos, nil }
func (f *fakeStore) ListSpreadsheets(context.Context) ([]store.Spreadsheet, error) {
	return f.sheets, nil
}

func TestBuildGraph(t *testing.T) {
	s := &fakeStore{
		docs: []store.Document{doc("A", "Alpha"), doc("B", "Beta")},
		repos: []store.Repository{
			{ID: "R", Name: "search-service", Description: "retrieval code"},
		},
		sheets: []store.Spreadsheet{
			{ID: "S", Title: "Budget", SheetNames: []string{"2025", "2026"}},
		},
	}

	emb := &fakeEmbedder{labels: map[string]float32{"Alpha": 1, "Beta": 2, "search-service": 3}}
	idx := &fakeGraphIndex{byLabel: map[float32][]index.Result{
		1: {docResult("B", 0.8)},
	}}
	d := NewDiscoverer(idx, emb, log.NewNop(), 0.3)

	g, err := NewBuilder(s, d, log.NewNop()).Build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 2 documents + 1 repository + 1 spreadsheet + 2 sheet nodes.
	if len(g.Nodes) != 6 {
		t.Errorf("expected 6 nodes, got %d", len(g.Nodes))
	}

	byID := make(map[string]Node)
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}
	if byID["doc-A"].Type != NodeDocument {
		t.Errorf("missing or mistyped document node: %+v", byID["doc-A"])
	}
	if byID["repo-R"].Type != NodeRepository {
		t.Errorf("missing repository node")
	}
	if byID["spreadsheet-S"].Type != NodeSpreadsheet {
		t.Errorf("missing spreadsheet node")
	}
	if byID["sheet-S-0"].Type != NodeSheet || byID["sheet-S-1"].Type != NodeSheet {
		t.Errorf("missing sheet nodes")
	}

	var structural, semantic int
	for _, e := range g.Edges {
		switch e.Kind {
		case EdgeHasSheet:
			structural++
			if e.Source != "spreadsheet-S" {
				t.Errorf("has_sheet edge from wrong source: %+v", e)
			}
		case EdgeRelated:
			semantic++
		}
	}
	if structural != 2 {
		t.Errorf("expected 2 has_sheet edges, got %d", structural)
	}
	if semantic != 1 {
		t.Errorf("expected 1 semantic edge, got %d", semantic)
	}

	want := Stats{Documents: 2, Repositories: 1, Spreadsheets: 1, SemanticEdges: 1, StructuralEdges: 2}
	if g.Stats != want {
		t.Errorf("stats mismatch: got %+v, want %+v", g.Stats, want)
	}
}
