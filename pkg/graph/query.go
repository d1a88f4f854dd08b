package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/Ramsey-B/fern/pkg/tracing"
)

const (
	maxHops        = 4
	maxLineageHops = 16
)

// QueryService reads neighborhoods and merge lineage back out of the projection
type QueryService struct {
	client *Client
	logger ectologger.Logger
}

func NewQueryService(client *Client, logger ectologger.Logger) *QueryService {
	return &QueryService{
		client: client,
		logger: logger,
	}
}

// Subgraph is a deduplicated set of entity nodes and the edges between them
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

type Node struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Labels      []string `json:"labels"`
}

// Edge endpoints are entity ids. Role is set on RELATED edges only.
type Edge struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
	Role string `json:"role,omitempty"`
}

// Neighbors returns the entities connected to entityID by RELATED edges within hops
func (s *QueryService) Neighbors(ctx context.Context, entityID string, hops int) (*Subgraph, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.Neighbors")
	defer span.End()

	hops = max(1, min(hops, maxHops))
	cypher := fmt.Sprintf(`
		MATCH p = (:Entity {id: $id})-[:RELATED*1..%d]-(:Entity)
		RETURN p
	`, hops)
	return s.paths(ctx, cypher, entityID)
}

// Lineage returns every entity merged, directly or through a chain, into entityID
func (s *QueryService) Lineage(ctx context.Context, entityID string) (*Subgraph, error) {
	ctx, span := tracing.StartSpan(ctx, "graph.QueryService.Lineage")
	defer span.End()

	cypher := fmt.Sprintf(`
		MATCH p = (:Entity)-[:MERGED_INTO*1..%d]->(:Entity {id: $id})
		RETURN p
	`, maxLineageHops)
	return s.paths(ctx, cypher, entityID)
}

// paths runs a query whose rows carry a path in column p
func (s *QueryService) paths(ctx context.Context, cypher, entityID string) (*Subgraph, error) {
	out, err := s.client.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, map[string]any{"id": entityID})
		if err != nil {
			return nil, err
		}
		c := newCollector()
		for result.Next(ctx) {
			if p, ok := result.Record().Get("p"); ok {
				c.add(p)
			}
		}
		return c.graph, result.Err()
	})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("entity_id", entityID).Error("Failed to query graph")
		return nil, fmt.Errorf("failed to query graph: %w", err)
	}
	return out.(*Subgraph), nil
}

// collector folds paths into a Subgraph, translating driver element ids to entity ids
type collector struct {
	graph    *Subgraph
	entityOf map[string]string
	seenEdge map[string]bool
}

func newCollector() *collector {
	return &collector{
		graph:    &Subgraph{Nodes: []Node{}, Edges: []Edge{}},
		entityOf: map[string]string{},
		seenEdge: map[string]bool{},
	}
}

func (c *collector) add(val any) {
	switch v := val.(type) {
	case neo4j.Path:
		// nodes first so edge endpoints resolve
		for _, n := range v.Nodes {
			c.add(n)
		}
		for _, r := range v.Relationships {
			c.add(r)
		}
	case neo4j.Node:
		if _, ok := c.entityOf[v.ElementId]; ok {
			return
		}
		id, _ := v.Props["id"].(string)
		c.entityOf[v.ElementId] = id
		kind, _ := v.Props["kind"].(string)
		name, _ := v.Props["display_name"].(string)
		c.graph.Nodes = append(c.graph.Nodes, Node{ID: id, Kind: kind, DisplayName: name, Labels: v.Labels})
	case neo4j.Relationship:
		// MERGED_INTO edges carry no id of their own
		id, ok := v.Props["id"].(string)
		if !ok {
			id = v.ElementId
		}
		if c.seenEdge[id] {
			return
		}
		c.seenEdge[id] = true
		role, _ := v.Props["role"].(string)
		c.graph.Edges = append(c.graph.Edges, Edge{
			ID:   id,
			Type: v.Type,
			From: c.entityOf[v.StartElementId],
			To:   c.entityOf[v.EndElementId],
			Role: role,
		})
	case []any:
		for _, item := range v {
			c.add(item)
		}
	}
}
