// Package graph defines the destination graph store and its Neo4j and
// in-memory implementations.
package graph

import (
	"context"
	"errors"

	"relgraph/internal/typemap"
)

var (
	// ErrNotFound is returned when a class, index, vertex or edge does not exist.
	ErrNotFound = errors.New("graph: not found")
	// ErrDuplicateKey is returned when a write violates a unique index.
	ErrDuplicateKey = errors.New("graph: duplicate key")
)

// ClassKind distinguishes vertex and edge classes.
type ClassKind string

const (
	KindVertex ClassKind = "vertex"
	KindEdge   ClassKind = "edge"
)

// ClassDef describes a class. Superclass is empty for roots and edges.
type ClassDef struct {
	Name       string
	Kind       ClassKind
	Superclass string
}

// PropertyDef is a declared property of a class.
type PropertyDef struct {
	Name      string
	Type      typemap.Type
	Mandatory bool
	ReadOnly  bool
	NotNull   bool
}

// ClassInfo is a class with its declared properties keyed by name.
type ClassInfo struct {
	ClassDef
	Properties map[string]PropertyDef
}

// IndexDef is a composite index over properties of one class.
type IndexDef struct {
	Name       string
	Class      string
	Properties []string
	Unique     bool
}

// Vertex is a stored vertex. Labels hold the class and all its ancestors;
// Class is the most specific one.
type Vertex struct {
	ID         string
	Class      string
	Labels     []string
	Properties map[string]any
}

// Edge is a stored directed edge.
type Edge struct {
	ID         string
	Label      string
	From       string
	To         string
	Properties map[string]any
}

// SchemaStore manages the destination's class catalog and indexes.
type SchemaStore interface {
	GetClass(ctx context.Context, name string) (*ClassInfo, error)
	CreateClass(ctx context.Context, def ClassDef) error
	CreateProperty(ctx context.Context, class string, def PropertyDef) error
	DropProperty(ctx context.Context, class, name string) error
	GetIndex(ctx context.Context, name string) (*IndexDef, error)
	CreateIndex(ctx context.Context, def IndexDef) error
	DropIndex(ctx context.Context, name string) error
}

// DataStore reads and writes vertices and edges. FindVertexByKey matches
// vertices of class and of its subclasses.
type DataStore interface {
	FindVertexByKey(ctx context.Context, class string, keys []string, values []any) (*Vertex, error)
	CreateVertex(ctx context.Context, class string, props map[string]any) (*Vertex, error)
	// SetProperties merges props into the vertex; a nil value removes the property.
	SetProperties(ctx context.Context, id string, props map[string]any) error
	// SetClass moves the vertex to class, which must descend from its current class.
	SetClass(ctx context.Context, id, class string) error
	OutEdges(ctx context.Context, from, label string) ([]Edge, error)
	CreateEdge(ctx context.Context, label, from, to string, props map[string]any) (*Edge, error)
	SetEdgeProperties(ctx context.Context, id string, props map[string]any) error
}

// Store is a complete destination.
type Store interface {
	SchemaStore
	DataStore
	// CountByClass returns the number of vertices and edges per class,
	// counting a vertex once for each of its labels.
	CountByClass(ctx context.Context) (map[string]int64, error)
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

// Querier runs native read queries against stores that support them.
type Querier interface {
	Query(ctx context.Context, query string, params map[string]any) ([]map[string]any, error)
}
