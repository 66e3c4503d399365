// Package store implements the relational layer over PostgreSQL: documents,
// repositories, spreadsheets, code chunks and the embedding shadow records
// that pair with entries in the vector index.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tessera-kb/tessera/internal/log"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store provides CRUD access to the relational schema. Safe for concurrent
// use; all state lives in the connection pool.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store over the given pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// SaveDocument inserts or replaces a document by ID.
func (s *Store) SaveDocument(ctx context.Context, d Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, title, summary, content, doc_type, author, source_url, vault_path, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET title      = EXCLUDED.title,
		    summary    = EXCLUDED.summary,
		    content    = EXCLUDED.content,
		    doc_type   = EXCLUDED.doc_type,
		    author     = EXCLUDED.author,
		    source_url = EXCLUDED.source_url,
		    vault_path = EXCLUDED.vault_path,
		    tags       = EXCLUDED.tags,
		    updated_at = now()`,
		d.ID, d.Title, d.Summary, d.Content, d.DocType, d.Author, d.SourceURL, d.VaultPath, d.Tags)
	if err != nil {
		return fmt.Errorf("saving document %q: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns a document by ID, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	var d Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, summary, content, doc_type, author, source_url, vault_path, tags, created_at, updated_at
		FROM documents WHERE id = $1`, id).
		Scan(&d.ID, &d.Title, &d.Summary, &d.Content, &d.DocType, &d.Author,
			&d.SourceURL, &d.VaultPath, &d.Tags, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("getting document %q: %w", id, err)
	}
	return d, nil
}

// ListDocuments returns all documents, newest first. Content is included;
// callers that only need identity should ignore it.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, summary, content, doc_type, author, source_url, vault_path, tags, created_at, updated_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Summary, &d.Content, &d.DocType, &d.Author,
			&d.SourceURL, &d.VaultPath, &d.Tags, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return docs, nil
}

// ListDocumentsByCollection returns the documents belonging to a collection,
// newest first.
func (s *Store) ListDocumentsByCollection(ctx context.Context, collectionID string) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT d.id, d.title, d.summary, d.content, d.doc_type, d.author, d.source_url, d.vault_path, d.tags, d.created_at, d.updated_at
		FROM documents d
		JOIN collection_documents cd ON cd.document_id = d.id
		WHERE cd.collection_id = $1
		ORDER BY d.created_at DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("listing documents for collection %q: %w", collectionID, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Summary, &d.Content, &d.DocType, &d.Author,
			&d.SourceURL, &d.VaultPath, &d.Tags, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading document rows: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document by ID. Deleting a missing document is
// not an error.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document %q: %w", id, err)
	}
	return nil
}

// GetEmbeddingRecord returns the embedding shadow record for a document, or
// ErrNotFound when the document has never been indexed.
func (s *Store) GetEmbeddingRecord(ctx context.Context, documentID string) (EmbeddingRecord, error) {
	var r EmbeddingRecord
	err := s.pool.QueryRow(ctx, `
		SELECT document_id, chunk_count, model, indexed_at
		FROM document_embeddings WHERE document_id = $1`, documentID).
		Scan(&r.DocumentID, &r.ChunkCount, &r.Model, &r.IndexedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return EmbeddingRecord{}, fmt.Errorf("embedding record for %q: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return EmbeddingRecord{}, fmt.Errorf("getting embedding record for %q: %w", documentID, err)
	}
	return r, nil
}

// UpsertEmbeddingRecord records that a document's chunks are present in the
// vector index.
func (s *Store) UpsertEmbeddingRecord(ctx context.Context, r EmbeddingRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_embeddings (document_id, chunk_count, model, indexed_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (document_id) DO UPDATE
		SET chunk_count = EXCLUDED.chunk_count,
		    model       = EXCLUDED.model,
		    indexed_at  = now()`,
		r.DocumentID, r.ChunkCount, r.Model)
	if err != nil {
		return fmt.Errorf("upserting embedding record for %q: %w", r.DocumentID, err)
	}
	return nil
}

// DeleteEmbeddingRecord removes the shadow record for a document. Missing
// records are not an error.
func (s *Store) DeleteEmbeddingRecord(ctx context.Context, documentID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM document_embeddings WHERE document_id = $1`, documentID)
	if err != nil {
		return fmt.Errorf("deleting embedding record for %q: %w", documentID, err)
	}
	return nil
}
