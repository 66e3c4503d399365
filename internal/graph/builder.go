package graph

import (
	"context"
	"fmt"

	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/store"
)

// Layout constants: one column per node type, stacked vertically. The
// rendering layer is free to re-layout; these are stable starting positions.
const (
	columnWidth = 380.0
	rowHeight   = 120.0
)

// Store is the relational access the builder needs.
type Store interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListRepositories(ctx context.Context) ([]store.Repository, error)
	ListSpreadsheets(ctx context.Context) ([]store.Spreadsheet, error)
}

// Builder assembles the full graph payload: nodes, structural edges and
// discovered semantic edges.
type Builder struct {
	store      Store
	discoverer *Discoverer
	logger     log.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(s Store, d *Discoverer, logger log.Logger) *Builder {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Builder{store: s, discoverer: d, logger: logger}
}

// Build loads all entities, lays out nodes, adds structural has_sheet edges
// and runs relationship discovery for semantic edges. Discovery failures
// degrade to a structural-only graph rather than failing the build.
func (b *Builder) Build(ctx context.Context) (Graph, error) {
	docs, err := b.store.ListDocuments(ctx)
	if err != nil {
		return Graph{}, fmt.Errorf("loading documents: %w", err)
	}
	repos, err := b.store.ListRepositories(ctx)
	if err != nil {
		return Graph{}, fmt.Errorf("loading repositories: %w", err)
	}
	sheets, err := b.store.ListSpreadsheets(ctx)
	if err != nil {
		return Graph{}, fmt.Errorf("loading spreadsheets: %w", err)
	}

	g := Graph{
		Stats: Stats{
			Documents:    len(docs),
			Repositories: len(repos),
			Spreadsheets: len(sheets),
		},
	}

	for i, doc := range docs {
		g.Nodes = append(g.Nodes, Node{
			ID:   DocumentNodeID(doc.ID),
			Type: NodeDocument,
			Data: map[string]any{
				"title":    doc.Title,
				"doc_type": doc.DocType,
				"author":   doc.Author,
				"tags":     doc.Tags,
			},
			Position: Position{X: 0, Y: float64(i) * rowHeight},
		})
	}

	for i, r := range repos {
		g.Nodes = append(g.Nodes, Node{
			ID:   RepositoryNodeID(r.ID),
			Type: NodeRepository,
			Data: map[string]any{
				"name":            r.Name,
				"language":        r.Language,
				"total_files":     r.TotalFiles,
				"total_functions": r.TotalFunctions,
				"lines_of_code":   r.LinesOfCode,
			},
			Position: Position{X: columnWidth, Y: float64(i) * rowHeight},
		})
	}

	for i, sp := range sheets {
		spNode := SpreadsheetNodeID(sp.ID)
		g.Nodes = append(g.Nodes, Node{
			ID:   spNode,
			Type: NodeSpreadsheet,
			Data: map[string]any{
				"title":       sp.Title,
				"sheet_count": len(sp.SheetNames),
			},
			Position: Position{X: 2 * columnWidth, Y: float64(i) * rowHeight},
		})

		for j, name := range sp.SheetNames {
			sheetNode := fmt.Sprintf("sheet-%s-%d", sp.ID, j)
			g.Nodes = append(g.Nodes, Node{
				ID:       sheetNode,
				Type:     NodeSheet,
				Data:     map[string]any{"name": name},
				Position: Position{X: 3 * columnWidth, Y: float64(i)*rowHeight + float64(j)*40},
			})
			g.Edges = append(g.Edges, Edge{
				ID:     fmt.Sprintf("edge-%s-%s", spNode, sheetNode),
				Source: spNode,
				Target: sheetNode,
				Kind:   EdgeHasSheet,
			})
			g.Stats.StructuralEdges++
		}
	}

	semantic, err := b.discoverer.Discover(ctx, docs, repos)
	if err != nil {
		// Partial semantic edges plus structural edges beat no graph at all.
		b.logger.Warn("relationship discovery incomplete", "error", err, "edges", len(semantic))
	}
	g.Edges = append(g.Edges, semantic...)
	g.Stats.SemanticEdges = len(semantic)

	return g, nil
}
