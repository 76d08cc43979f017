package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Query runs a read-only Cypher query. Nodes, relationships and temporal
// values in the result are flattened so the rows encode as plain JSON.
func (s *Neo4jStore) Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error) {
	records, err := s.read(ctx, query, params)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}

	rows := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		row := make(map[string]any, len(rec.Keys))
		for i, key := range rec.Keys {
			row[key] = flatten(rec.Values[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// QueryError wraps a failed passthrough query.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("cypher query failed: %v", e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func flatten(val any) any {
	switch v := val.(type) {
	case neo4j.Node:
		return map[string]any{
			"id":         v.ElementId,
			"labels":     v.Labels,
			"properties": flatten(v.Props),
		}
	case neo4j.Relationship:
		return map[string]any{
			"id":         v.ElementId,
			"type":       v.Type,
			"from":       v.StartElementId,
			"to":         v.EndElementId,
			"properties": flatten(v.Props),
		}
	case neo4j.Path:
		nodes := make([]any, len(v.Nodes))
		for i, n := range v.Nodes {
			nodes[i] = flatten(n)
		}
		rels := make([]any, len(v.Relationships))
		for i, r := range v.Relationships {
			rels[i] = flatten(r)
		}
		return map[string]any{"nodes": nodes, "relationships": rels}
	case neo4j.Date:
		return v.Time().Format("2006-01-02")
	case neo4j.LocalDateTime:
		return v.Time()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = flatten(item)
		}
		return out
	case map[string]any:
		if v == nil {
			return v
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = flatten(item)
		}
		return out
	default:
		return v
	}
}
