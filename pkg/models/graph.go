package models

type GraphNode struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	Type         string         `json:"type"`
	BusinessType string         `json:"business_type,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
}

type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label,omitempty"`
}

type KnowledgeGraph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

type GraphEntityFilter struct {
	BusinessType string
	EntityType   string
	Page         int
	Size         int
}
