// Package indexer orchestrates the write path of the vector index: chunking
// prose documents, formatting code chunks, generating embeddings and
// upserting the results.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/tessera-kb/tessera/internal/chunker"
	"github.com/tessera-kb/tessera/internal/config"
	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/store"
)

// codeBodyLimit bounds the code body included in the embeddable text so
// dense files do not dominate embedding cost or signal.
const codeBodyLimit = 1000

// Index is the subset of the vector index the indexer writes to.
type Index interface {
	Upsert(ctx context.Context, e index.Entry) error
	DeleteByFilter(ctx context.Context, filter map[string]string) (int64, error)
	CountByFilter(ctx context.Context, filter map[string]string) (int64, error)
}

// Embedder turns a batch of texts into vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Shadow is the relational record of what has been indexed, used for the
// idempotent short-circuit and cleared on forced re-indexing.
type Shadow interface {
	GetEmbeddingRecord(ctx context.Context, documentID string) (store.EmbeddingRecord, error)
	UpsertEmbeddingRecord(ctx context.Context, r store.EmbeddingRecord) error
	DeleteEmbeddingRecord(ctx context.Context, documentID string) error
}

// Indexer writes documents and code chunks into the vector index.
type Indexer struct {
	index    Index
	embedder Embedder
	shadow   Shadow
	logger   log.Logger

	chunkSize    int
	chunkOverlap int
	model        string
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithChunking overrides the default chunk size and overlap.
func WithChunking(size, overlap int) Option {
	return func(ix *Indexer) {
		ix.chunkSize = size
		ix.chunkOverlap = overlap
	}
}

// WithModel records the embedder model name on shadow records.
func WithModel(model string) Option {
	return func(ix *Indexer) {
		ix.model = model
	}
}

// New creates an Indexer with default chunking.
func New(idx Index, embedder Embedder, shadow Shadow, logger log.Logger, opts ...Option) *Indexer {
	if logger == nil {
		logger = log.NewNop()
	}
	ix := &Indexer{
		index:        idx,
		embedder:     embedder,
		shadow:       shadow,
		logger:       logger,
		chunkSize:    chunker.DefaultChunkSize,
		chunkOverlap: chunker.DefaultOverlap,
		model:        config.DefaultEmbedderModel,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// IndexDocument chunks, embeds and upserts a document, returning the number
// of chunks written. Without force, a document that already has vectors is
// left untouched and the existing chunk count is returned. With force, all
// existing vectors and the shadow record are deleted first, so re-indexing
// replaces rather than appends.
//
// A document whose content is empty after trimming returns 0 with a warning,
// not an error.
func (ix *Indexer) IndexDocument(ctx context.Context, doc store.Document, force bool) (int, error) {
	if strings.TrimSpace(doc.Content) == "" {
		ix.logger.Warn("skipping document with empty content", "document_id", doc.ID, "title", doc.Title)
		return 0, nil
	}

	docFilter := map[string]string{"document_id": doc.ID}

	if !force {
		if count, ok := ix.existingCount(ctx, doc.ID, docFilter); ok {
			ix.logger.Debug("document already indexed", "document_id", doc.ID, "chunks", count)
			return count, nil
		}
	} else {
		deleted, err := ix.index.DeleteByFilter(ctx, docFilter)
		if err != nil {
			return 0, fmt.Errorf("clearing vectors for document %q: %w", doc.ID, err)
		}
		if err := ix.shadow.DeleteEmbeddingRecord(ctx, doc.ID); err != nil {
			return 0, fmt.Errorf("clearing embedding record for document %q: %w", doc.ID, err)
		}
		ix.logger.Info("cleared existing vectors for re-index", "document_id", doc.ID, "deleted", deleted)
	}

	chunks, err := chunker.Chunk(contextHeader(doc)+doc.Content, ix.chunkSize, ix.chunkOverlap)
	if err != nil {
		return 0, fmt.Errorf("chunking document %q: %w", doc.ID, err)
	}
	if len(chunks) == 0 {
		ix.logger.Warn("document produced no chunks", "document_id", doc.ID)
		return 0, nil
	}

	vectors, err := ix.embedder.Embed(ctx, chunks)
	if err != nil {
		return 0, fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	for i, chunk := range chunks {
		entry := index.Entry{
			ID:       fmt.Sprintf("%s%s_%d", index.DocumentIDPrefix, doc.ID, i),
			Vector:   vectors[i],
			Content:  chunk,
			Metadata: documentMetadata(doc, i),
		}
		if err := ix.index.Upsert(ctx, entry); err != nil {
			return 0, fmt.Errorf("upserting chunk %d of document %q: %w", i, doc.ID, err)
		}
	}

	rec := store.EmbeddingRecord{DocumentID: doc.ID, ChunkCount: len(chunks), Model: ix.model}
	if err := ix.shadow.UpsertEmbeddingRecord(ctx, rec); err != nil {
		return 0, fmt.Errorf("recording embeddings for document %q: %w", doc.ID, err)
	}

	ix.logger.Info("indexed document", "document_id", doc.ID, "title", doc.Title, "chunks", len(chunks))
	return len(chunks), nil
}

// existingCount reports whether the document already has vectors. The shadow
// record is authoritative; when it is missing, the index itself is consulted
// so a lost shadow row does not trigger duplicate embedding work.
func (ix *Indexer) existingCount(ctx context.Context, documentID string, filter map[string]string) (int, bool) {
	rec, err := ix.shadow.GetEmbeddingRecord(ctx, documentID)
	if err == nil {
		return rec.ChunkCount, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		ix.logger.Warn("reading embedding record failed, falling back to index count",
			"document_id", documentID, "error", err)
	}

	count, err := ix.index.CountByFilter(ctx, filter)
	if err != nil {
		ix.logger.Warn("counting existing vectors failed, proceeding with indexing",
			"document_id", documentID, "error", err)
		return 0, false
	}
	return int(count), count > 0
}

// IndexCodeChunk embeds a single code unit as exactly one vector and returns
// the vector ID. Code chunks are never sub-chunked.
func (ix *Indexer) IndexCodeChunk(ctx context.Context, c store.CodeChunk) (string, error) {
	text := formatCodeChunk(c)

	vector, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("embedding code chunk %q: %w", c.ID, err)
	}

	id := index.CodeIDPrefix + c.ID
	entry := index.Entry{
		ID:       id,
		Vector:   vector[0],
		Content:  text,
		Metadata: codeMetadata(c),
	}
	if err := ix.index.Upsert(ctx, entry); err != nil {
		return "", fmt.Errorf("upserting code chunk %q: %w", c.ID, err)
	}

	ix.logger.Debug("indexed code chunk", "vector_id", id, "name", c.ChunkName, "file", c.FilePath)
	return id, nil
}

// BatchStats summarizes a batch indexing run.
type BatchStats struct {
	Indexed int
	Failed  int
	Chunks  int
}

// IndexAllDocuments indexes every document in the slice, logging and
// continuing past per-document failures. Only a canceled context aborts the
// batch.
func (ix *Indexer) IndexAllDocuments(ctx context.Context, docs []store.Document, force bool) (BatchStats, error) {
	var stats BatchStats
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("batch indexing interrupted: %w", err)
		}

		count, err := ix.IndexDocument(ctx, doc, force)
		if err != nil {
			stats.Failed++
			ix.logger.Error("indexing document failed", "document_id", doc.ID, "title", doc.Title, "error", err)
			continue
		}
		stats.Indexed++
		stats.Chunks += count
	}

	ix.logger.Info("batch indexing complete",
		"indexed", stats.Indexed, "failed", stats.Failed, "chunks", stats.Chunks)
	return stats, nil
}

// contextHeader builds the synthetic first-chunk header carrying document
// identity (title, summary, tags), so even generic later chunks retrieve
// with document context attached.
func contextHeader(doc store.Document) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(doc.Title)
	b.WriteString("\n\n")
	if doc.Summary != "" {
		b.WriteString("Summary: ")
		b.WriteString(doc.Summary)
		b.WriteString("\n\n")
	}
	if len(doc.Tags) > 0 {
		b.WriteString("Tags: ")
		b.WriteString(strings.Join(doc.Tags, ", "))
		b.WriteString("\n\n")
	}
	return b.String()
}

func documentMetadata(doc store.Document, chunkIndex int) map[string]any {
	m := map[string]any{
		"document_id":    doc.ID,
		"document_title": doc.Title,
		"chunk_index":    chunkIndex,
		"doc_type":       doc.DocType,
		"author":         doc.Author,
		"source_url":     doc.SourceURL,
		"vault_path":     doc.VaultPath,
		"tags":           doc.Tags,
	}
	if !doc.CreatedAt.IsZero() {
		m["created_at"] = doc.CreatedAt.UTC().Format(time.RFC3339)
	}
	return m
}

// formatCodeChunk builds the embeddable text for a code unit: identity line,
// file path, then signature, docstring and a bounded slice of the body.
func formatCodeChunk(c store.CodeChunk) string {
	parts := []string{
		fmt.Sprintf("%s: %s", capitalize(c.ChunkType), c.ChunkName),
		"File: " + c.FilePath,
	}
	if c.Signature != "" {
		parts = append(parts, "Signature: "+c.Signature)
	}
	if c.Docstring != "" {
		parts = append(parts, "Documentation: "+c.Docstring)
	}
	body := c.Content
	// Truncate on runes: a byte slice could split a multi-byte character.
	if runes := []rune(body); len(runes) > codeBodyLimit {
		body = string(runes[:codeBodyLimit])
	}
	parts = append(parts, "Code:\n"+body)
	return strings.Join(parts, "\n\n")
}

func codeMetadata(c store.CodeChunk) map[string]any {
	return map[string]any{
		"repository_id": c.RepositoryID,
		"file_path":     c.FilePath,
		"chunk_type":    c.ChunkType,
		"chunk_name":    c.ChunkName,
		"full_name":     c.FullName,
		"language":      c.Language,
		"start_line":    c.StartLine,
		"end_line":      c.EndLine,
		"source_type":   "code",
		"doc_type":      "code",
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
