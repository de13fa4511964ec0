package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ldi/casegen/pkg/models"
)

func (s *Service) GetKnowledgeGraph(ctx context.Context, businessType string) (*models.KnowledgeGraph, error) {
	q := newQuery().str("business_type", businessType, 50)
	var g models.KnowledgeGraph
	if err := s.http.Do(ctx, http.MethodGet, endpoint("knowledge-graph", "graph"), q.values(), nil, &g); err != nil {
		return nil, fmt.Errorf("failed to get knowledge graph: %w", err)
	}
	if g.Nodes == nil {
		g.Nodes = []models.GraphNode{}
	}
	if g.Edges == nil {
		g.Edges = []models.GraphEdge{}
	}
	return &g, nil
}

func (s *Service) ListGraphEntities(ctx context.Context, f models.GraphEntityFilter) (*models.Page[models.GraphNode], error) {
	q := newQuery().
		page(f.Page, f.Size).
		str("business_type", f.BusinessType, 50).
		str("entity_type", f.EntityType, 50)
	var page models.Page[models.GraphNode]
	if err := s.http.Do(ctx, http.MethodGet, endpoint("knowledge-graph", "entities"), q.values(), nil, &page); err != nil {
		return nil, fmt.Errorf("failed to list graph entities: %w", err)
	}
	return &page, nil
}
