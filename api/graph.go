package api

import (
	"context"
	"net/http"

	"github.com/tessera-kb/tessera/internal/graph"
	"github.com/tessera-kb/tessera/internal/log"
)

// GraphBuilder assembles the knowledge graph.
type GraphBuilder interface {
	Build(ctx context.Context) (graph.Graph, error)
}

// GraphHandler serves the knowledge graph endpoint.
type GraphHandler struct {
	builder GraphBuilder
	logger  log.Logger
}

// NewGraphHandler creates a graph handler.
func NewGraphHandler(builder GraphBuilder, logger log.Logger) *GraphHandler {
	return &GraphHandler{builder: builder, logger: logger}
}

// RegisterRoutes registers graph routes.
func (h *GraphHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/graph", h.handleGraph)
}

func (h *GraphHandler) handleGraph(w http.ResponseWriter, r *http.Request) {
	g, err := h.builder.Build(r.Context())
	if err != nil {
		h.logger.Error("building graph failed", "error", err)
		writeError(w, http.StatusInternalServerError, "graph_failed", "building knowledge graph failed")
		return
	}
	writeJSON(w, http.StatusOK, g)
}
