// Package graph builds the knowledge graph: nodes for documents,
// repositories and spreadsheets, structural edges from containment, and
// semantic edges inferred from embedding proximity.
package graph

// Node kinds.
const (
	NodeDocument    = "document"
	NodeRepository  = "repository"
	NodeSpreadsheet = "spreadsheet"
	NodeSheet       = "sheet"
)

// Edge kinds.
const (
	EdgeRelated  = "related"
	EdgeHasSheet = "has_sheet"
)

// Position is a 2D layout hint for the rendering layer.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single graph vertex. Data carries display fields specific to the
// node type.
type Node struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Data     map[string]any `json:"data"`
	Position Position       `json:"position"`
}

// Edge links two nodes. Confidence is set only on semantic edges.
type Edge struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Target     string  `json:"target"`
	Kind       string  `json:"type"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Animated   bool    `json:"animated,omitempty"`
}

// Stats summarizes a built graph.
type Stats struct {
	Documents       int `json:"documents"`
	Repositories    int `json:"repositories"`
	Spreadsheets    int `json:"spreadsheets"`
	SemanticEdges   int `json:"semantic_edges"`
	StructuralEdges int `json:"structural_edges"`
}

// Graph is the full payload handed to the rendering layer.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
	Stats Stats  `json:"stats"`
}
