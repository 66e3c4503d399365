package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/store"
)

// CodeStore persists repositories and their extracted chunks.
type CodeStore interface {
	SaveRepository(ctx context.Context, r store.Repository) error
	GetRepository(ctx context.Context, id string) (store.Repository, error)
	SaveCodeChunk(ctx context.Context, c store.CodeChunk) error
}

// CodeIndexer embeds a single code chunk into the vector index.
type CodeIndexer interface {
	IndexCodeChunk(ctx context.Context, c store.CodeChunk) (string, error)
}

// CodeHandler ingests code chunks extracted by external analyzers.
type CodeHandler struct {
	store   CodeStore
	indexer CodeIndexer
	logger  log.Logger
}

// NewCodeHandler creates a code handler.
func NewCodeHandler(s CodeStore, indexer CodeIndexer, logger log.Logger) *CodeHandler {
	return &CodeHandler{store: s, indexer: indexer, logger: logger}
}

// RegisterRoutes registers code ingestion routes.
func (h *CodeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/code/chunks", h.handleChunks)
	mux.HandleFunc("GET /api/code/repositories/{id}", h.handleRepository)
}

func (h *CodeHandler) handleRepository(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	repo, err := h.store.GetRepository(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "repository not found")
			return
		}
		h.logger.Error("loading repository failed", "repository_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "repository_failed", "loading repository failed")
		return
	}

	writeJSON(w, http.StatusOK, repo)
}

// CodeChunksRequest is the body for POST /api/code/chunks. The repository is
// upserted first so chunk rows always have a parent.
type CodeChunksRequest struct {
	Repository store.Repository  `json:"repository"`
	Chunks     []store.CodeChunk `json:"chunks"`
}

// CodeChunksResponse reports per-chunk outcomes. Indexing is best-effort:
// one bad chunk does not fail the batch.
type CodeChunksResponse struct {
	Indexed   int      `json:"indexed"`
	Failed    int      `json:"failed"`
	VectorIDs []string `json:"vector_ids"`
}

func (h *CodeHandler) handleChunks(w http.ResponseWriter, r *http.Request) {
	var req CodeChunksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	if req.Repository.ID == "" {
		writeError(w, http.StatusBadRequest, "missing_repository", "repository.id is required")
		return
	}
	if len(req.Chunks) == 0 {
		writeError(w, http.StatusBadRequest, "missing_chunks", "at least one chunk is required")
		return
	}

	ctx := r.Context()
	if err := h.store.SaveRepository(ctx, req.Repository); err != nil {
		h.logger.Error("saving repository failed", "repository_id", req.Repository.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "save_failed", "saving repository failed")
		return
	}

	resp := CodeChunksResponse{VectorIDs: []string{}}
	for _, c := range req.Chunks {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if c.RepositoryID == "" {
			c.RepositoryID = req.Repository.ID
		}

		if err := h.store.SaveCodeChunk(ctx, c); err != nil {
			h.logger.Warn("saving code chunk failed", "chunk_id", c.ID, "file", c.FilePath, "error", err)
			resp.Failed++
			continue
		}
		vectorID, err := h.indexer.IndexCodeChunk(ctx, c)
		if err != nil {
			h.logger.Warn("indexing code chunk failed", "chunk_id", c.ID, "file", c.FilePath, "error", err)
			resp.Failed++
			continue
		}
		resp.Indexed++
		resp.VectorIDs = append(resp.VectorIDs, vectorID)
	}

	h.logger.Info("code chunks ingested",
		"repository_id", req.Repository.ID,
		"indexed", resp.Indexed,
		"failed", resp.Failed)

	writeJSON(w, http.StatusOK, resp)
}
