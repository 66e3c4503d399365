package graph

import (
	"context"
	"fmt"
	"sort"

	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/retrieval"
	"github.com/tessera-kb/tessera/internal/store"
)

// DefaultMinConfidence is the edge retention threshold when none is
// configured.
const DefaultMinConfidence = 0.3

// queryTextLimit bounds the identifying text embedded per entity.
const queryTextLimit = 300

// Per-pass fetch and keep budgets. The shared index mixes document and code
// vectors, and same-type matches score far higher than cross-type ones; the
// document-to-repository pass over-fetches heavily so cross-type candidates
// are not starved out by same-type noise.
const (
	docRepoFetchK = 500
	docRepoKeep   = 10

	docDocFetchK = 10
	docDocKeep   = 5

	repoRepoFetchK = 100
	repoRepoKeep   = 10
)

// Index is the subset of the vector index discovery queries.
type Index interface {
	Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]index.Result, error)
}

// Embedder embeds a single entity query string.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Discoverer infers weighted semantic edges between entities purely from
// embedding proximity.
type Discoverer struct {
	index         Index
	embedder      Embedder
	logger        log.Logger
	minConfidence float64
}

// NewDiscoverer creates a Discoverer. A non-positive minConfidence falls
// back to DefaultMinConfidence.
func NewDiscoverer(idx Index, embedder Embedder, logger log.Logger, minConfidence float64) *Discoverer {
	if logger == nil {
		logger = log.NewNop()
	}
	if minConfidence <= 0 {
		minConfidence = DefaultMinConfidence
	}
	return &Discoverer{index: idx, embedder: embedder, logger: logger, minConfidence: minConfidence}
}

// Discover runs three passes (document-repository, document-document,
// repository-repository) over the candidate entities and returns the
// deduplicated semantic edges. Targets outside the candidate set are
// discarded: the index may hold vectors for entities beyond the caller's
// current scope.
//
// A failure on any single entity is logged and skipped; only context
// cancellation aborts the whole run.
func (d *Discoverer) Discover(ctx context.Context, docs []store.Document, repos []store.Repository) ([]Edge, error) {
	docSet := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		docSet[doc.ID] = struct{}{}
	}
	repoSet := make(map[string]struct{}, len(repos))
	for _, r := range repos {
		repoSet[r.ID] = struct{}{}
	}

	// One seen-set across all passes: an edge recorded for a pair is never
	// recorded again, even when rediscovered from the opposite direction.
	seen := make(map[string]struct{})
	var edges []Edge

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return edges, fmt.Errorf("discovery interrupted: %w", err)
		}

		targets, err := d.relatedTargets(ctx, documentQueryText(doc), docRepoFetchK, docRepoKeep,
			func(meta map[string]any) (string, bool) {
				id := index.MetaString(meta, "repository_id")
				_, ok := repoSet[id]
				return id, id != "" && ok
			})
		if err != nil {
			d.logger.Warn("document-repository pass failed for entity", "document_id", doc.ID, "error", err)
		}
		for _, t := range targets {
			edges = appendEdge(edges, seen, DocumentNodeID(doc.ID), RepositoryNodeID(t.id), t.confidence)
		}

		targets, err = d.relatedTargets(ctx, documentQueryText(doc), docDocFetchK, docDocKeep,
			func(meta map[string]any) (string, bool) {
				if index.MetaString(meta, "repository_id") != "" {
					return "", false
				}
				id := index.MetaString(meta, "document_id")
				if id == "" || id == doc.ID {
					return "", false
				}
				_, ok := docSet[id]
				return id, ok
			})
		if err != nil {
			d.logger.Warn("document-document pass failed for entity", "document_id", doc.ID, "error", err)
		}
		for _, t := range targets {
			edges = appendEdge(edges, seen, DocumentNodeID(doc.ID), DocumentNodeID(t.id), t.confidence)
		}
	}

	for _, repo := range repos {
		if err := ctx.Err(); err != nil {
			return edges, fmt.Errorf("discovery interrupted: %w", err)
		}

		targets, err := d.relatedTargets(ctx, repositoryQueryText(repo), repoRepoFetchK, repoRepoKeep,
			func(meta map[string]any) (string, bool) {
				id := index.MetaString(meta, "repository_id")
				if id == "" || id == repo.ID {
					return "", false
				}
				_, ok := repoSet[id]
				return id, ok
			})
		if err != nil {
			d.logger.Warn("repository-repository pass failed for entity", "repository_id", repo.ID, "error", err)
		}
		for _, t := range targets {
			edges = appendEdge(edges, seen, RepositoryNodeID(repo.ID), RepositoryNodeID(t.id), t.confidence)
		}
	}

	d.logger.Info("relationship discovery complete",
		"documents", len(docs), "repositories", len(repos), "edges", len(edges))
	return edges, nil
}

type scoredTarget struct {
	id         string
	confidence float64
}

// relatedTargets embeds the query text, over-fetches from the index,
// classifies each hit into a target entity, and averages similarity per
// target. Averaging across all supporting chunk-level matches rewards
// entities with multiple corroborating hits over a single lucky one. Targets
// below the confidence threshold are dropped, and at most keep targets are
// returned, strongest first.
func (d *Discoverer) relatedTargets(ctx context.Context, queryText string, fetchK, keep int,
	classify func(meta map[string]any) (string, bool)) ([]scoredTarget, error) {

	vector, err := d.embedder.EmbedOne(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding entity text: %w", err)
	}

	results, err := d.index.Query(ctx, vector, fetchK, nil)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, r := range results {
		id, ok := classify(r.Metadata)
		if !ok {
			continue
		}
		sums[id] += retrieval.Similarity(r.Distance)
		counts[id]++
	}

	targets := make([]scoredTarget, 0, len(sums))
	for id, sum := range sums {
		confidence := sum / float64(counts[id])
		if confidence < d.minConfidence {
			continue
		}
		targets = append(targets, scoredTarget{id: id, confidence: confidence})
	}

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].confidence != targets[j].confidence {
			return targets[i].confidence > targets[j].confidence
		}
		return targets[i].id < targets[j].id
	})
	if len(targets) > keep {
		targets = targets[:keep]
	}
	return targets, nil
}

// appendEdge records a semantic edge unless the unordered pair was already
// seen or the edge would be a self-loop.
func appendEdge(edges []Edge, seen map[string]struct{}, sourceNode, targetNode string, confidence float64) []Edge {
	if sourceNode == targetNode {
		return edges
	}
	key := sortedPairKey(sourceNode, targetNode)
	if _, dup := seen[key]; dup {
		return edges
	}
	seen[key] = struct{}{}

	return append(edges, Edge{
		ID:         fmt.Sprintf("edge-semantic-%s-%s", sourceNode, targetNode),
		Source:     sourceNode,
		Target:     targetNode,
		Kind:       EdgeRelated,
		Label:      fmt.Sprintf("%.0f%%", confidence*100),
		Confidence: confidence,
		Animated:   true,
	})
}

// sortedPairKey normalizes an unordered node pair so symmetric discoveries
// collapse onto one key.
func sortedPairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// DocumentNodeID returns the graph node identifier for a document.
func DocumentNodeID(id string) string { return "doc-" + id }

// RepositoryNodeID returns the graph node identifier for a repository.
func RepositoryNodeID(id string) string { return "repo-" + id }

// SpreadsheetNodeID returns the graph node identifier for a spreadsheet.
func SpreadsheetNodeID(id string) string { return "spreadsheet-" + id }

func documentQueryText(doc store.Document) string {
	return truncate(doc.Title+". "+doc.Summary, queryTextLimit)
}

func repositoryQueryText(r store.Repository) string {
	return truncate(r.Name+". "+r.Description, queryTextLimit)
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
