package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/internal/jobs"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/store"
)

// URLFetcher retrieves a web page as a document.
type URLFetcher interface {
	FetchURL(ctx context.Context, rawURL string) (store.Document, error)
}

// DocumentStore persists documents for the import flow.
type DocumentStore interface {
	SaveDocument(ctx context.Context, d store.Document) error
	GetDocument(ctx context.Context, id string) (store.Document, error)
}

// DocumentIndexer writes a document's chunks into the vector index.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, doc store.Document, force bool) (int, error)
}

// JobSubmitter starts supervised background work.
type JobSubmitter interface {
	Submit(ctx context.Context, kind, sourceID string, work func(ctx context.Context) error) (uuid.UUID, error)
}

// ImportHandler serves document import and job polling endpoints.
type ImportHandler struct {
	fetcher  URLFetcher
	docs     DocumentStore
	indexer  DocumentIndexer
	jobs     JobSubmitter
	recorder jobs.Recorder
	logger   log.Logger
}

// NewImportHandler creates an import handler.
func NewImportHandler(fetcher URLFetcher, docs DocumentStore, indexer DocumentIndexer, submitter JobSubmitter, recorder jobs.Recorder, logger log.Logger) *ImportHandler {
	return &ImportHandler{
		fetcher:  fetcher,
		docs:     docs,
		indexer:  indexer,
		jobs:     submitter,
		recorder: recorder,
		logger:   logger,
	}
}

// RegisterRoutes registers import and job routes.
func (h *ImportHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/documents/import", h.handleImport)
	mux.HandleFunc("POST /api/documents/{id}/reindex", h.handleReindex)
	mux.HandleFunc("GET /api/jobs/{id}", h.handleJob)
}

// ImportRequest is the body for POST /api/documents/import.
type ImportRequest struct {
	URL string `json:"url"`
}

// JobResponse acknowledges accepted background work.
type JobResponse struct {
	JobID uuid.UUID  `json:"job_id"`
	State jobs.State `json:"state"`
}

func (h *ImportHandler) handleImport(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON with a url field")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "missing_url", "url is required")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "invalid_url", "url must be http or https")
		return
	}

	// The URL is the source ID: submitting the same page twice serializes
	// instead of racing.
	jobID, err := h.jobs.Submit(r.Context(), "import_url", req.URL, func(ctx context.Context) error {
		doc, err := h.fetcher.FetchURL(ctx, req.URL)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", req.URL, err)
		}
		if err := h.docs.SaveDocument(ctx, doc); err != nil {
			return fmt.Errorf("saving document: %w", err)
		}
		chunks, err := h.indexer.IndexDocument(ctx, doc, false)
		if err != nil {
			return fmt.Errorf("indexing document %s: %w", doc.ID, err)
		}
		h.logger.Info("imported document", "document_id", doc.ID, "url", req.URL, "chunks", chunks)
		return nil
	})
	if err != nil {
		h.logger.Error("submitting import job failed", "url", req.URL, "error", err)
		writeError(w, http.StatusInternalServerError, "job_failed", "submitting import job failed")
		return
	}

	writeJSON(w, http.StatusAccepted, JobResponse{JobID: jobID, State: jobs.StatePending})
}

func (h *ImportHandler) handleReindex(w http.ResponseWriter, r *http.Request) {
	docID := r.PathValue("id")

	doc, err := h.docs.GetDocument(r.Context(), docID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		h.logger.Error("loading document for reindex failed", "document_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "reindex_failed", "loading document failed")
		return
	}

	jobID, err := h.jobs.Submit(r.Context(), "reindex_document", doc.ID, func(ctx context.Context) error {
		chunks, err := h.indexer.IndexDocument(ctx, doc, true)
		if err != nil {
			return fmt.Errorf("reindexing document %s: %w", doc.ID, err)
		}
		h.logger.Info("reindexed document", "document_id", doc.ID, "chunks", chunks)
		return nil
	})
	if err != nil {
		h.logger.Error("submitting reindex job failed", "document_id", docID, "error", err)
		writeError(w, http.StatusInternalServerError, "job_failed", "submitting reindex job failed")
		return
	}

	writeJSON(w, http.StatusAccepted, JobResponse{JobID: jobID, State: jobs.StatePending})
}

func (h *ImportHandler) handleJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_job_id", "job id must be a UUID")
		return
	}

	job, err := h.recorder.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		h.logger.Error("loading job failed", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "job_lookup_failed", "loading job failed")
		return
	}

	writeJSON(w, http.StatusOK, job)
}
