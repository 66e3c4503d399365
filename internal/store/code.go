package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SaveRepository inserts or replaces a repository by ID.
func (s *Store) SaveRepository(ctx context.Context, r Repository) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repositories (id, name, description, language, total_files, total_functions, lines_of_code, local_path, last_synced)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET name            = EXCLUDED.name,
		    description     = EXCLUDED.description,
		    language        = EXCLUDED.language,
		    total_files     = EXCLUDED.total_files,
		    total_functions = EXCLUDED.total_functions,
		    lines_of_code   = EXCLUDED.lines_of_code,
		    local_path      = EXCLUDED.local_path,
		    last_synced     = EXCLUDED.last_synced`,
		r.ID, r.Name, r.Description, r.Language, r.TotalFiles, r.TotalFunctions,
		r.LinesOfCode, r.LocalPath, r.LastSynced)
	if err != nil {
		return fmt.Errorf("saving repository %q: %w", r.ID, err)
	}
	return nil
}

// GetRepository returns a repository by ID, or ErrNotFound.
func (s *Store) GetRepository(ctx context.Context, id string) (Repository, error) {
	var r Repository
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, language, total_files, total_functions, lines_of_code, local_path, last_synced
		FROM repositories WHERE id = $1`, id).
		Scan(&r.ID, &r.Name, &r.Description, &r.Language, &r.TotalFiles,
			&r.TotalFunctions, &r.LinesOfCode, &r.LocalPath, &r.LastSynced)
	if errors.Is(err, pgx.ErrNoRows) {
		return Repository{}, fmt.Errorf("repository %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return Repository{}, fmt.Errorf("getting repository %q: %w", id, err)
	}
	return r, nil
}

// ListRepositories returns all repositories ordered by name.
func (s *Store) ListRepositories(ctx context.Context) ([]Repository, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, language, total_files, total_functions, lines_of_code, local_path, last_synced
		FROM repositories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}
	defer rows.Close()

	var repos []Repository
	for rows.Next() {
		var r Repository
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.Language, &r.TotalFiles,
			&r.TotalFunctions, &r.LinesOfCode, &r.LocalPath, &r.LastSynced); err != nil {
			return nil, fmt.Errorf("scanning repository row: %w", err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading repository rows: %w", err)
	}
	return repos, nil
}

// SaveCodeChunk inserts or replaces a code chunk by ID.
func (s *Store) SaveCodeChunk(ctx context.Context, c CodeChunk) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO code_chunks (id, repository_id, file_path, chunk_type, chunk_name, full_name, signature, docstring, language, content, start_line, end_line)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET repository_id = EXCLUDED.repository_id,
		    file_path     = EXCLUDED.file_path,
		    chunk_type    = EXCLUDED.chunk_type,
		    chunk_name    = EXCLUDED.chunk_name,
		    full_name     = EXCLUDED.full_name,
		    signature     = EXCLUDED.signature,
		    docstring     = EXCLUDED.docstring,
		    language      = EXCLUDED.language,
		    content       = EXCLUDED.content,
		    start_line    = EXCLUDED.start_line,
		    end_line      = EXCLUDED.end_line`,
		c.ID, c.RepositoryID, c.FilePath, c.ChunkType, c.ChunkName, c.FullName,
		c.Signature, c.Docstring, c.Language, c.Content, c.StartLine, c.EndLine)
	if err != nil {
		return fmt.Errorf("saving code chunk %q: %w", c.ID, err)
	}
	return nil
}

// ListCodeChunks returns all code chunks for a repository, ordered by file
// path then start line.
func (s *Store) ListCodeChunks(ctx context.Context, repositoryID string) ([]CodeChunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, repository_id, file_path, chunk_type, chunk_name, full_name, signature, docstring, language, content, start_line, end_line
		FROM code_chunks WHERE repository_id = $1
		ORDER BY file_path, start_line`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("listing code chunks for %q: %w", repositoryID, err)
	}
	defer rows.Close()

	var chunks []CodeChunk
	for rows.Next() {
		var c CodeChunk
		if err := rows.Scan(&c.ID, &c.RepositoryID, &c.FilePath, &c.ChunkType, &c.ChunkName,
			&c.FullName, &c.Signature, &c.Docstring, &c.Language, &c.Content,
			&c.StartLine, &c.EndLine); err != nil {
			return nil, fmt.Errorf("scanning code chunk row: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading code chunk rows: %w", err)
	}
	return chunks, nil
}

// SaveSpreadsheet inserts or replaces a spreadsheet by ID.
func (s *Store) SaveSpreadsheet(ctx context.Context, sp Spreadsheet) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO spreadsheets (id, title, source_url, sheet_names)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET title       = EXCLUDED.title,
		    source_url  = EXCLUDED.source_url,
		    sheet_names = EXCLUDED.sheet_names`,
		sp.ID, sp.Title, sp.SourceURL, sp.SheetNames)
	if err != nil {
		return fmt.Errorf("saving spreadsheet %q: %w", sp.ID, err)
	}
	return nil
}

// ListSpreadsheets returns all spreadsheets ordered by title.
func (s *Store) ListSpreadsheets(ctx context.Context) ([]Spreadsheet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, source_url, sheet_names, created_at
		FROM spreadsheets ORDER BY title`)
	if err != nil {
		return nil, fmt.Errorf("listing spreadsheets: %w", err)
	}
	defer rows.Close()

	var sheets []Spreadsheet
	for rows.Next() {
		var sp Spreadsheet
		if err := rows.Scan(&sp.ID, &sp.Title, &sp.SourceURL, &sp.SheetNames, &sp.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning spreadsheet row: %w", err)
		}
		sheets = append(sheets, sp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading spreadsheet rows: %w", err)
	}
	return sheets, nil
}
