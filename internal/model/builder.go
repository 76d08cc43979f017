package model

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"relgraph/internal/config"
	"relgraph/internal/naming"
	"relgraph/internal/run"
	"relgraph/internal/schema"
	"relgraph/internal/typemap"
)

// Builder derives a Model from an analyzed Schema.
type Builder struct {
	resolver naming.Resolver
	driver   typemap.Driver
	overlay  *config.Overlay
	state    *run.State
}

// NewBuilder creates a builder. overlay may be nil.
func NewBuilder(resolver naming.Resolver, driver typemap.Driver, overlay *config.Overlay, state *run.State) *Builder {
	return &Builder{resolver: resolver, driver: driver, overlay: overlay, state: state}
}

// Build creates one vertex type per entity and one edge type per
// relationship, collapsing relationships that share endpoints and name.
func (b *Builder) Build(s *schema.Schema) (*Model, error) {
	m := New(s)

	var secondary []*schema.Entity
	for _, e := range s.Entities {
		if vm := b.overlay.VertexFor(e.Name); vm != nil && len(vm.Tables) > 1 && !b.isPrimary(s, vm, e) {
			secondary = append(secondary, e)
			continue
		}
		if _, err := b.vertex(m, e); err != nil {
			return nil, err
		}
	}
	for _, e := range secondary {
		if err := b.merge(m, e); err != nil {
			return nil, err
		}
	}

	for _, e := range s.Entities {
		if e.Parent == nil {
			continue
		}
		v, p := m.VertexOf(e), m.VertexOf(e.Parent)
		if v != nil && p != nil {
			v.Parent = p.Handle
		}
	}

	for _, e := range s.Entities {
		for _, r := range e.Out {
			b.edge(m, r)
		}
	}

	b.state.Logger.Named("model").Info("graph model built",
		zap.Int("vertex_types", len(m.Vertices())),
		zap.Int("edge_types", len(m.Edges())))
	return m, nil
}

// isPrimary reports whether e is the first table of a merged mapping that is
// present in the schema.
func (b *Builder) isPrimary(s *schema.Schema, vm *config.VertexMapping, e *schema.Entity) bool {
	for _, t := range vm.SourceTables() {
		if first := s.Entity(t); first != nil {
			return first == e
		}
	}
	return false
}

func (b *Builder) vertex(m *Model, e *schema.Entity) (*ElementType, error) {
	name := b.resolver.VertexName(e.Name)
	if vm := b.overlay.VertexFor(e.Name); vm != nil {
		name = vm.Name
	}
	if prev := m.ElementFold(name); prev != nil {
		return nil, &run.SchemaInconsistencyError{
			Subject: e.Name,
			Message: fmt.Sprintf("vertex name %s already used by %s", name, prev.Name),
		}
	}

	t := &ElementType{
		Kind:          Vertex,
		Name:          name,
		Parent:        None,
		Level:         e.Level,
		FromJoinTable: e.JoinTable,
		From:          None,
		To:            None,
	}
	own := e.PrimaryKey != nil && !e.PrimaryKey.Inherited
	for _, a := range e.Attributes {
		key := own && containsAttr(e.PrimaryKey.Attributes, a)
		if err := b.addProperty(t, e, a, key); err != nil {
			return nil, err
		}
	}

	m.add(t)
	m.vertexOf[e] = t.Handle
	return t, nil
}

// merge appends the non-key columns of a secondary table to the vertex of
// its mapping's primary table. Key columns align positionally with the
// primary key.
func (b *Builder) merge(m *Model, e *schema.Entity) error {
	vm := b.overlay.VertexFor(e.Name)
	t := m.Element(vm.Name)
	if t == nil {
		return &run.SchemaInconsistencyError{Subject: e.Name, Message: "merged vertex " + vm.Name + " has no primary table"}
	}
	if got, want := len(e.KeyColumnNames()), len(t.KeyProperties()); got != want {
		return &run.SchemaInconsistencyError{
			Subject: e.Name,
			Message: fmt.Sprintf("merged into %s with %d key columns, %s has %d", vm.Name, got, vm.Name, want),
		}
	}
	for _, a := range e.Attributes {
		if containsAttr(e.PrimaryKey.Attributes, a) {
			continue
		}
		if err := b.addProperty(t, e, a, false); err != nil {
			return err
		}
	}
	m.vertexOf[e] = t.Handle
	return nil
}

func (b *Builder) addProperty(t *ElementType, e *schema.Entity, a *schema.Attribute, key bool) error {
	p := b.property(e, a)
	p.FromPrimaryKey = key
	if key {
		p.Included = true
	}
	if prev := t.Property(p.Name); prev != nil {
		return &run.SchemaInconsistencyError{
			Subject: e.Name,
			Message: fmt.Sprintf("column %s maps to property %s of %s already taken by %s", a.Name, p.Name, t.Name, prev.Column),
		}
	}
	p.Ordinal = len(t.Properties) + 1
	t.Properties = append(t.Properties, p)
	return nil
}

// property converts a column into a model property, applying the overlay
// mapping of its table and resolving the target type.
func (b *Builder) property(e *schema.Entity, a *schema.Attribute) *Property {
	typ, ok := typemap.Resolve(b.driver, a.Type)
	if !ok {
		b.state.Warn(&run.UnsupportedTypeWarning{Entity: e.Name, Column: a.Name, SourceType: a.Type})
	}
	p := &Property{
		Name:       b.resolver.PropertyName(a.Name),
		Entity:     e.Name,
		Column:     a.Name,
		SourceType: a.Type,
		Type:       typ,
		Included:   true,
	}
	if pm, ok := b.overlay.Property(e.Name, a.Name); ok {
		if pm.Name != "" {
			p.Name = pm.Name
		}
		p.Included = pm.Included()
		p.Mandatory = pm.Mandatory
		p.ReadOnly = pm.ReadOnly
		p.NotNull = pm.NotNull
	}
	return p
}

// edge binds r to an edge type, creating or collapsing as needed.
func (b *Builder) edge(m *Model, r *schema.Relationship) {
	child, parent := m.VertexOf(r.Child), m.VertexOf(r.Parent)
	if parent == nil || child == nil {
		b.state.Warn(&run.MissingReferenceWarning{Entity: r.Child.Name, Target: r.Parent.Name, Reason: "no vertex type for endpoint"})
		return
	}
	// Columns of tables merged into the same vertex relate rows to themselves.
	if child == parent && r.Child != r.Parent {
		return
	}

	em := b.edgeMapping(r)
	name := "Has" + parent.Name
	out, in := child, parent
	inverse := false
	var props []config.EdgeProperty
	if em != nil {
		name = em.Name
		props = em.Properties
		if em.Inverse() {
			out, in, inverse = parent, child, true
		}
	}

	t := b.bindEdge(m, name, out, in)
	t.Logical = t.Logical || r.Logical
	for _, ep := range props {
		addEdgeProperty(t, ep)
	}
	m.bind(r, EdgeBinding{Edge: t.Handle, Inverse: inverse})
}

func (b *Builder) edgeMapping(r *schema.Relationship) *config.EdgeMapping {
	if !r.Logical {
		return b.overlay.EdgeFor(r.Child.Name, r.Parent.Name, r.ForeignKeyNames())
	}
	for _, em := range b.overlay.LogicalEdges() {
		if strings.EqualFold(em.From, r.Child.Name) && strings.EqualFold(em.To, r.Parent.Name) &&
			equalFold(em.Columns, r.ForeignKeyNames()) {
			return em
		}
	}
	return nil
}

// bindEdge binds the pair (out, in) to the edge type called name, creating
// the type when absent. Relationships resolving to the same name share one
// edge type whatever their endpoints, so adding a table never renames the
// edges of another. Only a name held by a vertex type is prefixed with the
// out vertex name.
func (b *Builder) bindEdge(m *Model, name string, out, in *ElementType) *ElementType {
	name = edgeName(m, name, out)
	t := m.ElementFold(name)
	if t == nil {
		t = &ElementType{Kind: Edge, Name: name, Parent: None, From: None, To: None}
		m.add(t)
	}
	m.connect(t, out, in)
	return t
}

func edgeName(m *Model, name string, out *ElementType) string {
	free := func(n string) bool {
		x := m.ElementFold(n)
		return x == nil || x.Kind == Edge
	}
	if free(name) {
		return name
	}
	base := out.Name + name
	if free(base) {
		return base
	}
	for i := 2; ; i++ {
		if candidate := fmt.Sprintf("%s%d", base, i); free(candidate) {
			return candidate
		}
	}
}

func addEdgeProperty(t *ElementType, ep config.EdgeProperty) {
	if t.Property(ep.Name) != nil {
		return
	}
	t.Properties = append(t.Properties, &Property{
		Name:      ep.Name,
		Ordinal:   len(t.Properties) + 1,
		Type:      ep.Type,
		Included:  true,
		Mandatory: ep.Mandatory,
		ReadOnly:  ep.ReadOnly,
		NotNull:   ep.NotNull,
	})
}

func containsAttr(list []*schema.Attribute, a *schema.Attribute) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
