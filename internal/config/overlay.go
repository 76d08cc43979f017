package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"relgraph/internal/typemap"
)

// Edge directions.
const (
	DirectionDirect  = "direct"
	DirectionInverse = "inverse"
)

// AggregationEquality merges rows of several tables sharing the same key
// values into one vertex.
const AggregationEquality = "equality"

// Overlay is the user-supplied mapping document. It is decoded first and then
// resolved once; after Resolve it is read-only. All lookup methods are safe on
// a nil *Overlay.
type Overlay struct {
	Vertices []*VertexMapping `yaml:"vertices"`
	Edges    []*EdgeMapping   `yaml:"edges"`

	byTable  map[string]*VertexMapping
	resolved bool
}

// VertexMapping maps one table, or several tables merged by key equality, to
// a vertex class.
type VertexMapping struct {
	Name                string            `yaml:"name"`
	Table               string            `yaml:"table"`
	Tables              []string          `yaml:"tables"`
	AggregationFunction string            `yaml:"aggregationFunction"`
	Properties          []PropertyMapping `yaml:"properties"`
}

// SourceTables lists the mapped tables, primary table first.
func (v *VertexMapping) SourceTables() []string {
	if v.Table != "" {
		return []string{v.Table}
	}
	return v.Tables
}

// PropertyMapping renames, excludes or constrains a single column.
type PropertyMapping struct {
	Column    string `yaml:"column"`
	Name      string `yaml:"name"`
	Include   *bool  `yaml:"include"`
	Mandatory bool   `yaml:"mandatory"`
	ReadOnly  bool   `yaml:"readOnly"`
	NotNull   bool   `yaml:"notNull"`
}

// Included reports whether the column takes part in the migration.
func (p PropertyMapping) Included() bool { return p.Include == nil || *p.Include }

// EdgeMapping names an edge class for a relationship between two tables. With
// Logical set it declares a relationship that has no physical foreign key;
// with JoinTable set it names the edge that replaces that join table.
type EdgeMapping struct {
	Name       string         `yaml:"name"`
	From       string         `yaml:"from"`
	To         string         `yaml:"to"`
	Columns    []string       `yaml:"columns"`
	ToColumns  []string       `yaml:"toColumns"`
	Direction  string         `yaml:"direction"`
	Logical    bool           `yaml:"logical"`
	JoinTable  string         `yaml:"joinTable"`
	Properties []EdgeProperty `yaml:"properties"`

	FromVertex *VertexMapping `yaml:"-"`
	ToVertex   *VertexMapping `yaml:"-"`
}

// Inverse reports whether the edge points from the referenced table to the
// referencing one.
func (e *EdgeMapping) Inverse() bool { return e.Direction == DirectionInverse }

// EdgeProperty is a schema-only property declared on an edge class.
type EdgeProperty struct {
	Name      string       `yaml:"name"`
	Type      typemap.Type `yaml:"type"`
	Mandatory bool         `yaml:"mandatory"`
	ReadOnly  bool         `yaml:"readOnly"`
	NotNull   bool         `yaml:"notNull"`
}

// LoadOverlay reads, decodes and resolves an overlay document.
func LoadOverlay(path string) (*Overlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read overlay: %w", err)
	}
	return ParseOverlay(data)
}

// ParseOverlay decodes and resolves an overlay document.
func ParseOverlay(data []byte) (*Overlay, error) {
	var o Overlay
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse overlay: %w", err)
	}
	if err := o.Resolve(); err != nil {
		return nil, err
	}
	return &o, nil
}

// Resolve validates the document and wires edge endpoints to the vertex
// mappings of their tables. It is idempotent.
func (o *Overlay) Resolve() error {
	if o.resolved {
		return nil
	}
	o.byTable = make(map[string]*VertexMapping)

	for i, v := range o.Vertices {
		field := fmt.Sprintf("overlay.vertices[%d]", i)
		if v == nil {
			return &ConfigError{Field: field, Message: "must not be empty"}
		}
		if v.Name == "" {
			return &ConfigError{Field: field + ".name", Message: "must not be empty"}
		}
		switch {
		case v.Table != "" && len(v.Tables) > 0:
			return &ConfigError{Field: field, Message: "table and tables are mutually exclusive"}
		case v.Table == "" && len(v.Tables) == 0:
			return &ConfigError{Field: field + ".table", Message: "must not be empty"}
		case len(v.Tables) == 1:
			return &ConfigError{Field: field + ".tables", Message: "needs at least two tables"}
		case len(v.Tables) > 1 && v.AggregationFunction != AggregationEquality:
			return &ConfigError{Field: field + ".aggregationFunction", Message: fmt.Sprintf("must be %q", AggregationEquality)}
		}
		for _, t := range v.SourceTables() {
			key := fold(t)
			if prev, ok := o.byTable[key]; ok {
				return &ConfigError{Field: field, Message: fmt.Sprintf("table %s already mapped by %s", t, prev.Name)}
			}
			o.byTable[key] = v
		}
		for j, p := range v.Properties {
			if p.Column == "" {
				return &ConfigError{Field: fmt.Sprintf("%s.properties[%d].column", field, j), Message: "must not be empty"}
			}
		}
	}

	for i, e := range o.Edges {
		field := fmt.Sprintf("overlay.edges[%d]", i)
		if e == nil {
			return &ConfigError{Field: field, Message: "must not be empty"}
		}
		if e.Name == "" {
			return &ConfigError{Field: field + ".name", Message: "must not be empty"}
		}
		if e.Direction != "" && e.Direction != DirectionDirect && e.Direction != DirectionInverse {
			return &ConfigError{Field: field + ".direction", Message: fmt.Sprintf("must be %q or %q", DirectionDirect, DirectionInverse)}
		}
		if e.JoinTable == "" && (e.From == "" || e.To == "") {
			return &ConfigError{Field: field, Message: "from and to are required"}
		}
		if e.Logical {
			if e.JoinTable != "" {
				return &ConfigError{Field: field, Message: "a logical edge cannot name a join table"}
			}
			if len(e.Columns) == 0 || len(e.Columns) != len(e.ToColumns) {
				return &ConfigError{Field: field + ".columns", Message: "logical edges need matching columns and toColumns"}
			}
		} else if len(e.ToColumns) > 0 && len(e.ToColumns) != len(e.Columns) {
			return &ConfigError{Field: field + ".toColumns", Message: "must match columns"}
		}
		for j, p := range e.Properties {
			if p.Name == "" {
				return &ConfigError{Field: fmt.Sprintf("%s.properties[%d].name", field, j), Message: "must not be empty"}
			}
		}
		e.FromVertex = o.byTable[fold(e.From)]
		e.ToVertex = o.byTable[fold(e.To)]
	}

	o.resolved = true
	return nil
}

// VertexFor returns the mapping covering table.
func (o *Overlay) VertexFor(table string) *VertexMapping {
	if o == nil {
		return nil
	}
	return o.byTable[fold(table)]
}

// Property returns the column mapping declared for table.column.
func (o *Overlay) Property(table, column string) (PropertyMapping, bool) {
	v := o.VertexFor(table)
	if v == nil {
		return PropertyMapping{}, false
	}
	for _, p := range v.Properties {
		if strings.EqualFold(p.Column, column) {
			return p, true
		}
	}
	return PropertyMapping{}, false
}

// EdgeFor returns the mapping of the physical relationship from table `from`
// (columns) to table `to`. A mapping without columns matches any relationship
// between the two tables.
func (o *Overlay) EdgeFor(from, to string, columns []string) *EdgeMapping {
	if o == nil {
		return nil
	}
	for _, e := range o.Edges {
		if e.Logical || e.JoinTable != "" {
			continue
		}
		if !strings.EqualFold(e.From, from) || !strings.EqualFold(e.To, to) {
			continue
		}
		if len(e.Columns) > 0 && !equalFoldAll(e.Columns, columns) {
			continue
		}
		return e
	}
	return nil
}

// EdgeForJoin returns the mapping naming the edge that replaces joinTable.
func (o *Overlay) EdgeForJoin(joinTable string) *EdgeMapping {
	if o == nil {
		return nil
	}
	for _, e := range o.Edges {
		if e.JoinTable != "" && strings.EqualFold(e.JoinTable, joinTable) {
			return e
		}
	}
	return nil
}

// LogicalEdges returns the relationships declared without a foreign key.
func (o *Overlay) LogicalEdges() []*EdgeMapping {
	if o == nil {
		return nil
	}
	var out []*EdgeMapping
	for _, e := range o.Edges {
		if e.Logical {
			out = append(out, e)
		}
	}
	return out
}

func fold(s string) string { return strings.ToLower(s) }

func equalFoldAll(a, b []string) bool {
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
