// Package index implements the embedding index: a persistent vector store
// keyed by opaque string IDs, holding the embedded vector, the exact text
// that was embedded, and a metadata map.
//
// Entries are written wholesale on ingestion and deleted wholesale by
// metadata filter on re-ingestion; they are never mutated in place. Both
// Upsert and DeleteByFilter are idempotent, so concurrent ingestion of
// different sources needs no locking. Concurrent re-ingestion of the same
// source is serialized by the jobs layer, not here.
//
// The store is backed by PostgreSQL with pgvector. Distances returned by
// Query are cosine distances in the nominal range [0,2]; converting them to
// similarity scores is the retrieval layer's concern.
package index

import "time"

// ID prefixes for the shared index. Document chunks carry a chunk suffix
// ("doc-{documentID}_{chunkIndex}"), code chunks map one-to-one
// ("code-{chunkID}").
const (
	DocumentIDPrefix = "doc-"
	CodeIDPrefix     = "code-"
)

// WorstDistance is the distance assumed when the index returns a malformed
// or missing distance. Cosine distance tops out at 2.0 (opposite vectors).
const WorstDistance = 2.0

// Entry is a single vector record to upsert.
type Entry struct {
	ID       string
	Vector   []float32
	Content  string
	Metadata map[string]any
}

// Result is a single k-NN query hit.
type Result struct {
	ID        string
	Content   string
	Distance  float64
	Metadata  map[string]any
	CreatedAt time.Time
}
