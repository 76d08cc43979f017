// Package model holds the graph model derived from the relational schema:
// vertex and edge types kept in an arena and addressed by handle.
package model

import (
	"slices"
	"strings"

	"relgraph/internal/schema"
	"relgraph/internal/typemap"
)

// Kind tags an element type as vertex or edge.
type Kind int

const (
	Vertex Kind = iota
	Edge
)

func (k Kind) String() string {
	if k == Edge {
		return "edge"
	}
	return "vertex"
}

// Handle addresses an element in the model arena.
type Handle int

// None is the zero parent or endpoint.
const None Handle = -1

// Property is a modeled property of a vertex or edge type.
type Property struct {
	Name       string
	Ordinal    int
	Entity     string // source entity owning Column; empty for schema-only properties
	Column     string
	SourceType string
	Type       typemap.Type

	FromPrimaryKey bool
	Included       bool
	Mandatory      bool
	ReadOnly       bool
	NotNull        bool
}

// ElementType is a vertex or edge type. Kind-specific fields are zero for the
// other kind.
type ElementType struct {
	Handle     Handle
	Kind       Kind
	Name       string
	Properties []*Property
	Parent     Handle
	Level      int

	// Vertex types.
	In            []Handle
	Out           []Handle
	FromJoinTable bool

	// Edge types. An edge type is shared by every relationship resolving to
	// its name, so it may connect several vertex pairs. Ends is sorted by
	// vertex names; From and To repeat its first pair.
	From              Handle
	To                Handle
	Ends              []EdgeEnds
	RelationshipCount int // sum over Ends
	Aggregator        bool
	Logical           bool
}

// EdgeEnds is one (out, in) vertex pair of an edge type and the number of
// relationships bound to it.
type EdgeEnds struct {
	From          Handle
	To            Handle
	Relationships int
}

// Property finds a property by exact name.
func (t *ElementType) Property(name string) *Property {
	for _, p := range t.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// PropertyByColumn finds the property mapped from entity.column.
func (t *ElementType) PropertyByColumn(entity, column string) *Property {
	for _, p := range t.Properties {
		if strings.EqualFold(p.Entity, entity) && strings.EqualFold(p.Column, column) {
			return p
		}
	}
	return nil
}

// KeyProperties returns the type's own primary-key properties.
func (t *ElementType) KeyProperties() []*Property {
	var out []*Property
	for _, p := range t.Properties {
		if p.FromPrimaryKey {
			out = append(out, p)
		}
	}
	return out
}

// EdgeBinding ties a relationship to the edge type representing it.
type EdgeBinding struct {
	Edge    Handle
	Inverse bool // edge points from the referenced vertex to the referencing one
}

// AggregatedJoin records a join table collapsed into an aggregator edge.
// OutRel references the edge's out vertex, InRel its in vertex.
type AggregatedJoin struct {
	Entity *schema.Entity
	Edge   Handle
	OutRel *schema.Relationship
	InRel  *schema.Relationship
}

// Model is the graph model. It is built once, optionally aggregated once,
// and read-only afterwards.
type Model struct {
	Schema *schema.Schema
	Joins  []*AggregatedJoin

	elements []*ElementType
	byName   map[string]Handle
	byFold   map[string]Handle
	vertexOf map[*schema.Entity]Handle
	bindings map[*schema.Relationship]EdgeBinding
}

// New returns an empty model over s.
func New(s *schema.Schema) *Model {
	return &Model{
		Schema:   s,
		byName:   make(map[string]Handle),
		byFold:   make(map[string]Handle),
		vertexOf: make(map[*schema.Entity]Handle),
		bindings: make(map[*schema.Relationship]EdgeBinding),
	}
}

// Get returns the element at h, or nil when h is None or deleted.
func (m *Model) Get(h Handle) *ElementType {
	if h < 0 || int(h) >= len(m.elements) {
		return nil
	}
	return m.elements[h]
}

// Element finds an element by exact name.
func (m *Model) Element(name string) *ElementType {
	h, ok := m.byName[name]
	if !ok {
		return nil
	}
	return m.elements[h]
}

// ElementFold finds an element by name, ignoring case.
func (m *Model) ElementFold(name string) *ElementType {
	h, ok := m.byFold[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return m.elements[h]
}

// Vertices returns the live vertex types in creation order.
func (m *Model) Vertices() []*ElementType { return m.ofKind(Vertex) }

// Edges returns the live edge types in creation order.
func (m *Model) Edges() []*ElementType { return m.ofKind(Edge) }

func (m *Model) ofKind(k Kind) []*ElementType {
	var out []*ElementType
	for _, t := range m.elements {
		if t != nil && t.Kind == k {
			out = append(out, t)
		}
	}
	return out
}

// VertexOf returns the vertex type mapped from e, or nil.
func (m *Model) VertexOf(e *schema.Entity) *ElementType {
	h, ok := m.vertexOf[e]
	if !ok {
		return nil
	}
	return m.Get(h)
}

// Binding returns the edge type representing r.
func (m *Model) Binding(r *schema.Relationship) (EdgeBinding, bool) {
	b, ok := m.bindings[r]
	return b, ok
}

// Lineage returns t followed by its ancestors, nearest first.
func (m *Model) Lineage(t *ElementType) []*ElementType {
	var out []*ElementType
	for cur := t; cur != nil; cur = m.Get(cur.Parent) {
		out = append(out, cur)
	}
	return out
}

// KeyProperties returns the primary-key properties identifying instances of
// t: its own, or those of the nearest ancestor declaring any.
func (m *Model) KeyProperties(t *ElementType) []*Property {
	for _, cur := range m.Lineage(t) {
		if key := cur.KeyProperties(); len(key) > 0 {
			return key
		}
	}
	return nil
}

// FindProperty looks name up on t and its ancestors.
func (m *Model) FindProperty(t *ElementType, name string) *Property {
	for _, cur := range m.Lineage(t) {
		if p := cur.Property(name); p != nil {
			return p
		}
	}
	return nil
}

// ColumnProperty finds the property of t, or of an ancestor, holding column
// of e's table. Key columns resolve positionally to the key properties.
func (m *Model) ColumnProperty(t *ElementType, e *schema.Entity, column string) *Property {
	for _, cur := range m.Lineage(t) {
		for _, p := range cur.Properties {
			if !strings.EqualFold(p.Column, column) {
				continue
			}
			if owner := m.Schema.Entity(p.Entity); owner != nil && strings.EqualFold(owner.Table, e.Table) {
				return p
			}
		}
	}
	key := m.KeyProperties(t)
	for i, name := range e.KeyColumnNames() {
		if strings.EqualFold(name, column) && i < len(key) {
			return key[i]
		}
	}
	return nil
}

// IsA reports whether t is ancestor or descends from it.
func (m *Model) IsA(t, ancestor *ElementType) bool {
	for _, cur := range m.Lineage(t) {
		if cur == ancestor {
			return true
		}
	}
	return false
}

func (m *Model) add(t *ElementType) Handle {
	h := Handle(len(m.elements))
	t.Handle = h
	m.elements = append(m.elements, t)
	m.byName[t.Name] = h
	m.byFold[strings.ToLower(t.Name)] = h
	return h
}

// connect adds the pair (out, in) to edge type t, or counts one more
// relationship on it when present.
func (m *Model) connect(t, out, in *ElementType) {
	t.RelationshipCount++
	for i := range t.Ends {
		if t.Ends[i].From == out.Handle && t.Ends[i].To == in.Handle {
			t.Ends[i].Relationships++
			return
		}
	}
	t.Ends = append(t.Ends, EdgeEnds{From: out.Handle, To: in.Handle, Relationships: 1})
	if !slices.Contains(out.Out, t.Handle) {
		out.Out = append(out.Out, t.Handle)
	}
	if !slices.Contains(in.In, t.Handle) {
		in.In = append(in.In, t.Handle)
	}
	m.sortEnds(t)
}

// disconnect drops one relationship from the pair (from, to) of t. A pair
// left without relationships is removed, and so is t once no pair remains.
func (m *Model) disconnect(t *ElementType, from, to Handle) {
	i := slices.IndexFunc(t.Ends, func(e EdgeEnds) bool { return e.From == from && e.To == to })
	if i < 0 {
		return
	}
	t.RelationshipCount--
	t.Ends[i].Relationships--
	if t.Ends[i].Relationships > 0 {
		return
	}
	t.Ends = slices.Delete(t.Ends, i, i+1)
	if len(t.Ends) == 0 {
		m.remove(t.Handle)
		return
	}
	if v := m.Get(from); v != nil && !slices.ContainsFunc(t.Ends, func(e EdgeEnds) bool { return e.From == from }) {
		v.Out = removeHandle(v.Out, t.Handle)
	}
	if v := m.Get(to); v != nil && !slices.ContainsFunc(t.Ends, func(e EdgeEnds) bool { return e.To == to }) {
		v.In = removeHandle(v.In, t.Handle)
	}
	m.sortEnds(t)
}

func (m *Model) sortEnds(t *ElementType) {
	name := func(h Handle) string {
		if v := m.Get(h); v != nil {
			return v.Name
		}
		return ""
	}
	slices.SortFunc(t.Ends, func(a, b EdgeEnds) int {
		if c := strings.Compare(name(a.From), name(b.From)); c != 0 {
			return c
		}
		return strings.Compare(name(a.To), name(b.To))
	})
	t.From, t.To = t.Ends[0].From, t.Ends[0].To
}

func (m *Model) bind(r *schema.Relationship, b EdgeBinding) { m.bindings[r] = b }

// remove deletes h and unlinks it from endpoints and entity mappings.
func (m *Model) remove(h Handle) {
	t := m.Get(h)
	if t == nil {
		return
	}
	m.elements[h] = nil
	delete(m.byName, t.Name)
	delete(m.byFold, strings.ToLower(t.Name))

	switch t.Kind {
	case Edge:
		for _, ends := range t.Ends {
			if from := m.Get(ends.From); from != nil {
				from.Out = removeHandle(from.Out, h)
			}
			if to := m.Get(ends.To); to != nil {
				to.In = removeHandle(to.In, h)
			}
		}
		for r, b := range m.bindings {
			if b.Edge == h {
				delete(m.bindings, r)
			}
		}
	case Vertex:
		for e, v := range m.vertexOf {
			if v == h {
				delete(m.vertexOf, e)
			}
		}
	}
}

func removeHandle(list []Handle, h Handle) []Handle {
	out := list[:0]
	for _, x := range list {
		if x != h {
			out = append(out, x)
		}
	}
	return out
}
