package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tessera-kb/tessera/internal/log"
)

// queryTimeout bounds vector search so a slow scan cannot block a request
// indefinitely.
const queryTimeout = 10 * time.Second

// Postgres is the pgvector-backed embedding index. Safe for concurrent use:
// all state lives in the connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgres creates an index over the given pool. The vectors table is
// created by db migrations; this constructor performs no schema work.
func NewPostgres(pool *pgxpool.Pool, logger log.Logger) *Postgres {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, logger: logger}
}

// Upsert inserts or replaces a vector entry by ID.
func (p *Postgres) Upsert(ctx context.Context, e Entry) error {
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %q: %w", e.ID, err)
	}

	vec := pgvector.NewVector(e.Vector)
	_, err = p.pool.Exec(ctx, `
		INSERT INTO vectors (id, embedding, content, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
		    content   = EXCLUDED.content,
		    metadata  = EXCLUDED.metadata`,
		e.ID, vec, e.Content, metadata)
	if err != nil {
		return fmt.Errorf("upserting vector %q: %w", e.ID, err)
	}

	p.logger.Debug("upserted vector", "id", e.ID, "content_length", len(e.Content))
	return nil
}

// DeleteByFilter removes all entries whose metadata contains the given
// key/value pairs. Returns the number of deleted entries. Deleting with an
// empty filter is rejected to prevent accidental truncation.
func (p *Postgres) DeleteByFilter(ctx context.Context, filter map[string]string) (int64, error) {
	if len(filter) == 0 {
		return 0, fmt.Errorf("refusing to delete with empty filter")
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshaling delete filter: %w", err)
	}

	tag, err := p.pool.Exec(ctx, `DELETE FROM vectors WHERE metadata @> $1`, filterJSON)
	if err != nil {
		return 0, fmt.Errorf("deleting vectors: %w", err)
	}

	p.logger.Debug("deleted vectors", "filter", filter, "count", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// CountByFilter counts entries whose metadata contains the given key/value
// pairs.
func (p *Postgres) CountByFilter(ctx context.Context, filter map[string]string) (int64, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshaling count filter: %w", err)
	}

	var count int64
	err = p.pool.QueryRow(ctx, `SELECT count(*) FROM vectors WHERE metadata @> $1`, filterJSON).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return count, nil
}

// Query returns the k nearest entries to vector by cosine distance, best
// match first. An optional metadata filter restricts candidates with JSONB
// containment before the distance scan.
func (p *Postgres) Query(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	vec := pgvector.NewVector(vector)

	var rows pgx.Rows
	var err error
	if len(filter) > 0 {
		var filterJSON []byte
		filterJSON, err = json.Marshal(filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling query filter: %w", err)
		}
		rows, err = p.pool.Query(queryCtx, `
			SELECT id, content, embedding <=> $1 AS distance, metadata, created_at
			FROM vectors
			WHERE metadata @> $2
			ORDER BY embedding <=> $1
			LIMIT $3`, vec, filterJSON, k)
	} else {
		rows, err = p.pool.Query(queryCtx, `
			SELECT id, content, embedding <=> $1 AS distance, metadata, created_at
			FROM vectors
			ORDER BY embedding <=> $1
			LIMIT $2`, vec, k)
	}
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	results := make([]Result, 0, k)
	for rows.Next() {
		var r Result
		var metadata []byte
		if err := rows.Scan(&r.ID, &r.Content, &r.Distance, &metadata, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning query row: %w", err)
		}
		if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
			// A single entry with corrupt metadata should not sink the whole
			// query; surface it as an empty map and let filters skip it.
			p.logger.Warn("malformed vector metadata", "id", r.ID, "error", err)
			r.Metadata = map[string]any{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading query rows: %w", err)
	}

	return results, nil
}
