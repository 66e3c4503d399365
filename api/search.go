package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/rag"
	"github.com/tessera-kb/tessera/internal/retrieval"
	"github.com/tessera-kb/tessera/internal/store"
)

const suggestionLimit = 10

// Searcher runs semantic search.
type Searcher interface {
	Search(ctx context.Context, query string, limit int, filters *retrieval.Filters) ([]retrieval.Match, error)
}

// AnswerComposer produces grounded answers from search matches.
type AnswerComposer interface {
	Compose(ctx context.Context, query string, matches []retrieval.Match) *string
	ComposeStream(ctx context.Context, query string, matches []retrieval.Match, emit func(rag.StreamEvent) error) error
}

// DocumentLister lists stored documents, backing the filter, suggestion and
// collection endpoints.
type DocumentLister interface {
	ListDocuments(ctx context.Context) ([]store.Document, error)
	ListDocumentsByCollection(ctx context.Context, collectionID string) ([]store.Document, error)
}

// SearchHandler serves the search endpoints.
type SearchHandler struct {
	search   Searcher
	composer AnswerComposer
	docs     DocumentLister
	logger   log.Logger
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(search Searcher, composer AnswerComposer, docs DocumentLister, logger log.Logger) *SearchHandler {
	return &SearchHandler{search: search, composer: composer, docs: docs, logger: logger}
}

// RegisterRoutes registers search routes.
func (h *SearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", h.handleSearch)
	mux.HandleFunc("GET /api/search/answer-stream", h.handleAnswerStream)
	mux.HandleFunc("GET /api/search/filters", h.handleFilters)
	mux.HandleFunc("GET /api/search/suggestions", h.handleSuggestions)
	mux.HandleFunc("GET /api/collections/{id}/documents", h.handleCollectionDocuments)
}

// SearchResult is one hit in the search response.
type SearchResult struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Similarity float64        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// SearchResponse is the response for GET /api/search.
type SearchResponse struct {
	Query        string         `json:"query"`
	Results      []SearchResult `json:"results"`
	TotalResults int            `json:"total_results"`
	AIAnswer     *string        `json:"ai_answer,omitempty"`
}

func (h *SearchHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query parameter 'q' is required")
		return
	}

	limit := retrieval.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	matches, err := h.search.Search(r.Context(), query, limit, filters)
	if err != nil {
		h.logger.Error("search failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "semantic search failed")
		return
	}

	resp := SearchResponse{
		Query:        query,
		Results:      make([]SearchResult, 0, len(matches)),
		TotalResults: len(matches),
	}
	for _, m := range matches {
		resp.Results = append(resp.Results, SearchResult{
			ID:         m.ID,
			Text:       m.Text,
			Similarity: m.Similarity,
			Metadata:   m.Metadata,
		})
	}

	// The answer is best-effort: a nil pointer means generation was skipped
	// or failed, and the search results still stand on their own.
	if r.URL.Query().Get("answer") != "false" {
		resp.AIAnswer = h.composer.Compose(r.Context(), query, matches)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleAnswerStream streams the answer as Server-Sent Events. Each event is
// a JSON-encoded rag.StreamEvent in the data field, with the event type
// duplicated in the SSE event field for EventSource listeners.
func (h *SearchHandler) handleAnswerStream(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "missing_query", "query parameter 'q' is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer does not support streaming")
		return
	}

	filters, err := filtersFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error())
		return
	}

	matches, err := h.search.Search(r.Context(), query, retrieval.DefaultLimit, filters)
	if err != nil {
		h.logger.Error("search for stream failed", "query", query, "error", err)
		writeError(w, http.StatusInternalServerError, "search_failed", "semantic search failed")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Keep reverse proxies from buffering the stream.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	emit := func(ev rag.StreamEvent) error {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding stream event: %w", err)
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
			return fmt.Errorf("writing stream event: %w", err)
		}
		flusher.Flush()
		return nil
	}

	if err := h.composer.ComposeStream(r.Context(), query, matches, emit); err != nil {
		// Headers are already sent; the disconnect or write failure can only
		// be logged.
		h.logger.Warn("answer stream ended early", "query", query, "error", err)
	}
}

// FilterValues lists the filter values present across the corpus.
type FilterValues struct {
	DocTypes []string `json:"doc_types"`
	Authors  []string `json:"authors"`
	Tags     []string `json:"tags"`
}

func (h *SearchHandler) handleFilters(w http.ResponseWriter, r *http.Request) {
	docs, err := h.docs.ListDocuments(r.Context())
	if err != nil {
		h.logger.Error("listing documents for filters failed", "error", err)
		writeError(w, http.StatusInternalServerError, "filters_failed", "loading filter values failed")
		return
	}

	docTypes := map[string]struct{}{}
	authors := map[string]struct{}{}
	tags := map[string]struct{}{}
	for _, d := range docs {
		if d.DocType != "" {
			docTypes[d.DocType] = struct{}{}
		}
		if d.Author != "" {
			authors[d.Author] = struct{}{}
		}
		for _, t := range d.Tags {
			if t != "" {
				tags[t] = struct{}{}
			}
		}
	}

	writeJSON(w, http.StatusOK, FilterValues{
		DocTypes: sortedKeys(docTypes),
		Authors:  sortedKeys(authors),
		Tags:     sortedKeys(tags),
	})
}

// Suggestion is one autocomplete candidate.
type Suggestion struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (h *SearchHandler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))

	suggestions := []Suggestion{}
	if query != "" {
		docs, err := h.docs.ListDocuments(r.Context())
		if err != nil {
			h.logger.Error("listing documents for suggestions failed", "error", err)
			writeError(w, http.StatusInternalServerError, "suggestions_failed", "loading suggestions failed")
			return
		}
		for _, d := range docs {
			if strings.Contains(strings.ToLower(d.Title), query) {
				suggestions = append(suggestions, Suggestion{ID: d.ID, Title: d.Title})
				if len(suggestions) == suggestionLimit {
					break
				}
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// CollectionDocumentsResponse lists the documents in one collection.
type CollectionDocumentsResponse struct {
	CollectionID string           `json:"collection_id"`
	Documents    []store.Document `json:"documents"`
	Total        int              `json:"total"`
}

func (h *SearchHandler) handleCollectionDocuments(w http.ResponseWriter, r *http.Request) {
	collectionID := r.PathValue("id")

	docs, err := h.docs.ListDocumentsByCollection(r.Context(), collectionID)
	if err != nil {
		h.logger.Error("listing collection documents failed", "collection_id", collectionID, "error", err)
		writeError(w, http.StatusInternalServerError, "collection_failed", "loading collection documents failed")
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}

	writeJSON(w, http.StatusOK, CollectionDocumentsResponse{
		CollectionID: collectionID,
		Documents:    docs,
		Total:        len(docs),
	})
}

// filtersFromQuery parses filter parameters. Dates accept either a bare day
// (2024-01-31) or a full RFC 3339 timestamp; the DateTo day form is made
// inclusive by moving it to the end of that day.
func filtersFromQuery(r *http.Request) (*retrieval.Filters, error) {
	q := r.URL.Query()
	f := &retrieval.Filters{
		DocType: strings.TrimSpace(q.Get("doc_type")),
		Author:  strings.TrimSpace(q.Get("author")),
	}

	if raw := q.Get("date_from"); raw != "" {
		t, err := parseFilterDate(raw, false)
		if err != nil {
			return nil, fmt.Errorf("invalid date_from %q", raw)
		}
		f.DateFrom = t
	}
	if raw := q.Get("date_to"); raw != "" {
		t, err := parseFilterDate(raw, true)
		if err != nil {
			return nil, fmt.Errorf("invalid date_to %q", raw)
		}
		f.DateTo = t
	}

	for _, t := range strings.Split(q.Get("tags"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Tags = append(f.Tags, t)
		}
	}

	if !f.Active() {
		return nil, nil
	}
	return f, nil
}

func parseFilterDate(raw string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
