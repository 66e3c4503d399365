package store

import "time"

// Document is a prose document imported from an external source (Google
// Docs, Markdown vault, URL import).
type Document struct {
	ID        string
	Title     string
	Summary   string
	Content   string
	DocType   string
	Author    string
	SourceURL string
	VaultPath string
	Tags      []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Repository is an imported code repository. Aggregate counters come from
// the sync step that extracted its code chunks.
type Repository struct {
	ID             string
	Name           string
	Description    string
	Language       string
	TotalFiles     int
	TotalFunctions int
	LinesOfCode    int
	LocalPath      string
	LastSynced     time.Time
}

// Spreadsheet is an imported workbook; SheetNames drive the structural
// has_sheet edges in the knowledge graph.
type Spreadsheet struct {
	ID         string
	Title      string
	SourceURL  string
	SheetNames []string
	CreatedAt  time.Time
}

// CodeChunk is a single extracted code unit (function, method, class or
// file). It maps one-to-one onto an index vector.
type CodeChunk struct {
	ID           string
	RepositoryID string
	FilePath     string
	ChunkType    string
	ChunkName    string
	FullName     string
	Signature    string
	Docstring    string
	Language     string
	Content      string
	StartLine    int
	EndLine      int
}

// EmbeddingRecord is the relational shadow of a document's presence in the
// vector index. It exists so the indexer can answer "already indexed?"
// without a vector query, and so forced re-indexing can clear both sides.
type EmbeddingRecord struct {
	DocumentID string
	ChunkCount int
	Model      string
	IndexedAt  time.Time
}
