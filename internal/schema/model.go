// Package schema builds the in-memory relational schema model: entities,
// attributes, keys, foreign-key relationships and inheritance bags.
package schema

import (
	"sort"
	"strings"

	"relgraph/internal/config"
	"relgraph/internal/database/relational"
	"relgraph/internal/run"
)

// Attribute is a column of an entity.
type Attribute struct {
	Name     string
	Ordinal  int
	Type     string
	Nullable bool
}

// PrimaryKey lists the key attributes in key order. An inherited key is
// borrowed from an ancestor and is not stored by this entity's own columns.
type PrimaryKey struct {
	Attributes []*Attribute
	Inherited  bool
}

// Names returns the key attribute names.
func (pk *PrimaryKey) Names() []string {
	if pk == nil {
		return nil
	}
	out := make([]string, len(pk.Attributes))
	for i, a := range pk.Attributes {
		out[i] = a.Name
	}
	return out
}

// Relationship is a directed reference from Child.ForeignKey to
// Parent.ParentKey. Both sides have the same length and order.
type Relationship struct {
	Name       string
	Child      *Entity
	Parent     *Entity
	ForeignKey []*Attribute
	ParentKey  []*Attribute
	Logical    bool // declared by the overlay, not backed by a physical foreign key
}

// ForeignKeyNames returns the referencing column names.
func (r *Relationship) ForeignKeyNames() []string { return attrNames(r.ForeignKey) }

// ParentKeyNames returns the referenced column names.
func (r *Relationship) ParentKeyNames() []string { return attrNames(r.ParentKey) }

// Entity is a source table, or a logical subtype stored in its parent's table.
type Entity struct {
	Name       string
	SchemaName string
	Table      string // physical table holding the entity's rows

	Attributes          []*Attribute // own attributes in ordinal order
	InheritedAttributes []*Attribute // table-per-concrete-type copies of ancestor columns
	PrimaryKey          *PrimaryKey

	// KeyAttributes are the columns of Table that carry the key values when
	// the key is inherited, aligned with the root's key order.
	KeyAttributes []*Attribute

	Out []*Relationship
	In  []*Relationship

	Level              int
	Parent             *Entity
	Bag                *HierarchicalBag
	DiscriminatorValue string

	JoinTable bool
	Physical  bool
}

// Ref returns the table backing the entity.
func (e *Entity) Ref() relational.TableRef {
	return relational.TableRef{Schema: e.SchemaName, Name: e.Table}
}

// Attribute finds an own attribute by name, ignoring case.
func (e *Entity) Attribute(name string) *Attribute {
	for _, a := range e.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}

// KeyColumnNames returns the columns of the entity's table holding its key.
func (e *Entity) KeyColumnNames() []string {
	if e.PrimaryKey != nil && e.PrimaryKey.Inherited {
		return attrNames(e.KeyAttributes)
	}
	return e.PrimaryKey.Names()
}

// Ancestors returns the parent chain, nearest first.
func (e *Entity) Ancestors() []*Entity {
	var out []*Entity
	for p := e.Parent; p != nil; p = p.Parent {
		out = append(out, p)
	}
	return out
}

// Root returns the top of the entity's hierarchy, or the entity itself.
func (e *Entity) Root() *Entity {
	r := e
	for r.Parent != nil {
		r = r.Parent
	}
	return r
}

// Pattern returns the inheritance encoding of the entity's bag, if any.
func (e *Entity) Pattern() config.Pattern {
	if e.Bag == nil {
		return ""
	}
	return e.Bag.Pattern
}

func (e *Entity) renumber() {
	for i, a := range e.Attributes {
		a.Ordinal = i + 1
	}
}

func (e *Entity) removeAttributes(drop []*Attribute) {
	kept := e.Attributes[:0]
	for _, a := range e.Attributes {
		if !containsAttr(drop, a) {
			kept = append(kept, a)
		}
	}
	e.Attributes = kept
	e.renumber()
}

func (e *Entity) removeRelationship(r *Relationship) {
	e.Out = removeRel(e.Out, r)
	r.Parent.In = removeRel(r.Parent.In, r)
}

// HierarchicalBag groups the entities of one inheritance tree by level.
type HierarchicalBag struct {
	Pattern       config.Pattern
	Discriminator string // single-table only
	Root          *Entity
	Levels        map[int][]*Entity
}

func newBag(pattern config.Pattern, root *Entity, discriminator string) *HierarchicalBag {
	b := &HierarchicalBag{Pattern: pattern, Discriminator: discriminator, Root: root, Levels: make(map[int][]*Entity)}
	b.add(root)
	return b
}

func (b *HierarchicalBag) add(e *Entity) {
	e.Bag = b
	b.Levels[e.Level] = append(b.Levels[e.Level], e)
}

// Entities returns the bag members ordered by level, root first.
func (b *HierarchicalBag) Entities() []*Entity {
	levels := make([]int, 0, len(b.Levels))
	for l := range b.Levels {
		levels = append(levels, l)
	}
	sort.Ints(levels)
	var out []*Entity
	for _, l := range levels {
		out = append(out, b.Levels[l]...)
	}
	return out
}

// Schema is the analyzed relational model.
type Schema struct {
	Entities []*Entity
	Bags     []*HierarchicalBag

	byName map[string]*Entity
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{byName: make(map[string]*Entity)}
}

// Entity finds an entity by name, ignoring case.
func (s *Schema) Entity(name string) *Entity {
	return s.byName[strings.ToLower(name)]
}

// Add registers an entity. It fails when the name is already taken.
func (s *Schema) Add(e *Entity) error {
	key := strings.ToLower(e.Name)
	if _, ok := s.byName[key]; ok {
		return &run.SchemaInconsistencyError{Subject: e.Name, Message: "duplicate entity name"}
	}
	s.byName[key] = e
	s.Entities = append(s.Entities, e)
	return nil
}

// AddRelationship links child.columns to parent.parentColumns. Column counts
// must match and every column must exist on its side.
func (s *Schema) AddRelationship(name string, child, parent *Entity, columns, parentColumns []string, logical bool) (*Relationship, error) {
	if len(columns) == 0 || len(columns) != len(parentColumns) {
		return nil, &run.SchemaInconsistencyError{
			Subject: child.Name,
			Message: "foreign key " + name + " column count does not match the referenced key of " + parent.Name,
		}
	}
	r := &Relationship{Name: name, Child: child, Parent: parent, Logical: logical}
	for i := range columns {
		fk := child.lookupColumn(columns[i])
		if fk == nil {
			return nil, &run.SchemaInconsistencyError{Subject: child.Name, Message: "foreign key " + name + " names unknown column " + columns[i]}
		}
		pk := parent.lookupColumn(parentColumns[i])
		if pk == nil {
			return nil, &run.SchemaInconsistencyError{Subject: parent.Name, Message: "foreign key " + name + " references unknown column " + parentColumns[i]}
		}
		r.ForeignKey = append(r.ForeignKey, fk)
		r.ParentKey = append(r.ParentKey, pk)
	}
	child.Out = append(child.Out, r)
	parent.In = append(parent.In, r)
	return r, nil
}

// lookupColumn finds a column of the entity's table, including key
// attributes stripped by inheritance processing.
func (e *Entity) lookupColumn(name string) *Attribute {
	if a := e.Attribute(name); a != nil {
		return a
	}
	for _, a := range e.InheritedAttributes {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	for _, a := range e.KeyAttributes {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	if e.PrimaryKey != nil && !e.PrimaryKey.Inherited {
		for _, a := range e.PrimaryKey.Attributes {
			if strings.EqualFold(a.Name, name) {
				return a
			}
		}
	}
	return nil
}

func attrNames(attrs []*Attribute) []string {
	out := make([]string, len(attrs))
	for i, a := range attrs {
		out[i] = a.Name
	}
	return out
}

func containsAttr(list []*Attribute, a *Attribute) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func removeRel(list []*Relationship, r *Relationship) []*Relationship {
	out := list[:0]
	for _, x := range list {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}
