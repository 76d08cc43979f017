package importer

import (
	"errors"
	"strings"

	"relgraph/internal/config"
	"relgraph/internal/database/relational"
	"relgraph/internal/model"
	"relgraph/internal/run"
	"relgraph/internal/schema"
	"relgraph/internal/typemap"
)

var (
	errNoKey   = errors.New("entity has no primary key, rows cannot be upserted")
	errNullKey = errors.New("primary key column is null")
	errMissing = errors.New("referenced vertex does not exist")
)

// column binds a source column to the property receiving its value. Table is
// set for columns read through a join.
type column struct {
	table string
	name  string
	prop  *model.Property
}

func (c column) key() string {
	if c.table == "" {
		return c.name
	}
	return relational.JoinedColumn(c.table, c.name)
}

func (c column) extract(row relational.Row) (any, error) {
	raw, _ := row.Value(c.key())
	return typemap.Convert(c.prop.Type, raw)
}

// vertexPlan turns rows of one entity into vertices of its type.
type vertexPlan struct {
	entity *schema.Entity
	vertex *model.ElementType
	owner  *model.ElementType // declares the key properties
	keys   []column
	props  []column
	joins  []relational.Join
	edges  []*edgePlan
}

func (p *vertexPlan) keyNames() []string {
	out := make([]string, len(p.keys))
	for i, c := range p.keys {
		out[i] = c.prop.Name
	}
	return out
}

func (p *vertexPlan) propType(name string) typemap.Type {
	for _, c := range p.props {
		if c.prop.Name == name {
			return c.prop.Type
		}
	}
	return typemap.String
}

// rowKey returns the raw key columns of row for error context.
func (p *vertexPlan) rowKey(row relational.Row) map[string]any {
	out := make(map[string]any, len(p.keys))
	for _, c := range p.keys {
		out[c.name], _ = row.Value(c.key())
	}
	return out
}

// extract converts the key and property values of row.
func (p *vertexPlan) extract(row relational.Row) ([]any, map[string]any, error) {
	key := make([]any, len(p.keys))
	for i, c := range p.keys {
		v, err := c.extract(row)
		if err == nil && v == nil {
			err = errNullKey
		}
		if err != nil {
			return nil, nil, &run.RowExtractionError{Entity: p.entity.Name, Key: p.rowKey(row), Column: c.name, Err: err}
		}
		key[i] = v
	}
	props := make(map[string]any, len(p.props))
	for _, c := range p.props {
		v, err := c.extract(row)
		if err != nil {
			return nil, nil, &run.RowExtractionError{Entity: p.entity.Name, Key: p.rowKey(row), Column: c.name, Err: err}
		}
		props[c.prop.Name] = v
	}
	return key, props, nil
}

// edgePlan follows one relationship from a row to the vertex it reaches.
type edgePlan struct {
	rel     *schema.Relationship
	edge    *model.ElementType
	inverse bool
	target  *model.ElementType
	lookup  *model.ElementType
	columns []column
	keyed   bool // columns hold the target's key, so a stub can stand in for it
}

func (ep *edgePlan) names() []string {
	out := make([]string, len(ep.columns))
	for i, c := range ep.columns {
		out[i] = c.prop.Name
	}
	return out
}

// unit is one independent stream of pass one: an entity, or a whole
// single-table hierarchy read from its root table.
type unit struct {
	name          string
	query         relational.RowQuery
	plans         []*vertexPlan
	discriminator string
}

// classify picks the plan for a row. Single-table rows go to the subclass
// whose discriminator value matches, defaulting to the root.
func (u *unit) classify(row relational.Row) *vertexPlan {
	if u.discriminator == "" || len(u.plans) == 1 {
		return u.plans[0]
	}
	value, err := row.String(u.discriminator)
	if err != nil || row.IsNull(u.discriminator) {
		return u.plans[0]
	}
	for _, p := range u.plans[1:] {
		if p.entity.DiscriminatorValue == value {
			return p
		}
	}
	return u.plans[0]
}

// keyOwner returns the nearest type in t's lineage declaring key properties.
func keyOwner(m *model.Model, t *model.ElementType) *model.ElementType {
	for _, cur := range m.Lineage(t) {
		if len(cur.KeyProperties()) > 0 {
			return cur
		}
	}
	return nil
}

func (e *Engine) planUnit(ent *schema.Entity) *unit {
	if ent.Pattern() != config.SingleTable {
		p := e.planVertex(ent)
		if p == nil {
			return nil
		}
		return &unit{name: ent.Name, plans: []*vertexPlan{p}, query: query(ent.Ref(), p)}
	}

	u := &unit{name: ent.Name, discriminator: ent.Bag.Discriminator}
	for _, member := range ent.Bag.Entities() {
		p := e.planVertex(member)
		if p == nil {
			if member == ent {
				return nil
			}
			continue
		}
		u.plans = append(u.plans, p)
	}
	u.query = query(ent.Ref(), u.plans...)
	u.query.Columns = appendColumn(u.query.Columns, u.discriminator)
	return u
}

// planVertex resolves which row columns feed which properties of ent's
// vertex type, including columns inherited from ancestors.
func (e *Engine) planVertex(ent *schema.Entity) *vertexPlan {
	m := e.model
	v := m.VertexOf(ent)
	if v == nil {
		return nil
	}
	owner := keyOwner(m, v)
	cols := ent.KeyColumnNames()
	if owner == nil || len(cols) == 0 || len(cols) != len(owner.KeyProperties()) {
		e.state.Warn(&run.RowExtractionError{Entity: ent.Name, Err: errNoKey})
		return nil
	}

	p := &vertexPlan{entity: ent, vertex: v, owner: owner}
	for i, c := range cols {
		p.keys = append(p.keys, column{name: c, prop: owner.KeyProperties()[i]})
	}
	p.props = ownColumns(ent, v, "")

	rels := append([]*schema.Relationship(nil), ent.Out...)
	switch ent.Pattern() {
	case config.SingleTable:
		for _, anc := range ent.Ancestors() {
			p.props = append(p.props, ownColumns(anc, m.VertexOf(anc), "")...)
			rels = append(rels, anc.Out...)
		}
	case config.TablePerType:
		for _, anc := range ent.Ancestors() {
			ancKey := anc.KeyColumnNames()
			j := relational.Join{Table: anc.Ref()}
			for i := range cols {
				j.On = append(j.On, relational.JoinOn{Left: cols[i], Right: ancKey[i]})
			}
			for _, c := range ownColumns(anc, m.VertexOf(anc), anc.Table) {
				j.Columns = append(j.Columns, c.name)
				p.props = append(p.props, c)
			}
			p.joins = append(p.joins, j)
		}
	case config.TablePerConcreteType:
		for _, a := range ent.InheritedAttributes {
			if c, ok := inheritedColumn(m, ent, a); ok {
				p.props = append(p.props, c)
			}
		}
		for _, anc := range ent.Ancestors() {
			rels = append(rels, anc.Out...)
		}
	}

	for _, r := range rels {
		if ep := e.planEdge(r); ep != nil {
			p.edges = append(p.edges, ep)
		}
	}
	return p
}

// ownColumns lists the included non-key properties ent contributes to t.
func ownColumns(ent *schema.Entity, t *model.ElementType, table string) []column {
	if t == nil {
		return nil
	}
	var out []column
	for _, a := range ent.Attributes {
		prop := t.PropertyByColumn(ent.Name, a.Name)
		if prop == nil || !prop.Included || prop.FromPrimaryKey {
			continue
		}
		out = append(out, column{table: table, name: a.Name, prop: prop})
	}
	return out
}

// inheritedColumn maps a table-per-concrete-type copy of an ancestor column
// to the ancestor's property.
func inheritedColumn(m *model.Model, ent *schema.Entity, a *schema.Attribute) (column, bool) {
	for _, anc := range ent.Ancestors() {
		t := m.VertexOf(anc)
		if t == nil {
			continue
		}
		if prop := t.PropertyByColumn(anc.Name, a.Name); prop != nil && prop.Included && !prop.FromPrimaryKey {
			return column{name: a.Name, prop: prop}, true
		}
	}
	return column{}, false
}

// planEdge binds the foreign-key columns of r to the properties identifying
// the reached vertex. Relationships without an edge type are skipped.
func (e *Engine) planEdge(r *schema.Relationship) *edgePlan {
	m := e.model
	b, ok := m.Binding(r)
	if !ok {
		return nil
	}
	edge, target := m.Get(b.Edge), m.VertexOf(r.Parent)
	if edge == nil || target == nil {
		return nil
	}
	ep, ok := e.reachPlan(r, target)
	if !ok {
		return nil
	}
	ep.edge = edge
	ep.inverse = b.Inverse
	return ep
}

func (e *Engine) reachPlan(r *schema.Relationship, target *model.ElementType) (*edgePlan, bool) {
	m := e.model
	ep := &edgePlan{rel: r, target: target, lookup: target}
	parentCols := r.ParentKeyNames()
	for i, fk := range r.ForeignKeyNames() {
		prop := m.ColumnProperty(target, r.Parent, parentCols[i])
		if prop == nil {
			e.state.Warn(&run.MissingReferenceWarning{
				Entity: r.Child.Name,
				Target: r.Parent.Name,
				Reason: "referenced column " + parentCols[i] + " has no property",
			})
			return nil, false
		}
		ep.columns = append(ep.columns, column{name: fk, prop: prop})
	}

	// Columns covering the key are reordered to key order so lookups and
	// locks agree with the vertex upsert.
	owner := keyOwner(m, target)
	if owner == nil {
		return ep, true
	}
	key := owner.KeyProperties()
	if len(key) != len(ep.columns) {
		return ep, true
	}
	ordered := make([]column, len(key))
	for i, kp := range key {
		found := false
		for _, c := range ep.columns {
			if c.prop == kp {
				ordered[i], found = c, true
				break
			}
		}
		if !found {
			return ep, true
		}
	}
	ep.columns, ep.keyed, ep.lookup = ordered, true, owner
	return ep, true
}

// query selects every column the plans read, base table first.
func query(table relational.TableRef, plans ...*vertexPlan) relational.RowQuery {
	q := relational.RowQuery{Table: table}
	for _, p := range plans {
		for _, c := range p.keys {
			q.Columns = appendColumn(q.Columns, c.name)
		}
		for _, c := range p.props {
			if c.table == "" {
				q.Columns = appendColumn(q.Columns, c.name)
			}
		}
		for _, ep := range p.edges {
			for _, c := range ep.columns {
				q.Columns = appendColumn(q.Columns, c.name)
			}
		}
		q.Joins = append(q.Joins, p.joins...)
	}
	return q
}

func appendColumn(cols []string, name string) []string {
	for _, c := range cols {
		if strings.EqualFold(c, name) {
			return cols
		}
	}
	return append(cols, name)
}
