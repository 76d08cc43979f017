package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/config"
	"relgraph/internal/database/relational"
	"relgraph/internal/run"
	"relgraph/internal/typemap"
)

// mockCatalog serves metadata from maps keyed by table name.
type mockCatalog struct {
	tables []string
	cols   map[string][]relational.Column
	pks    map[string][]string
	fks    map[string][]relational.ForeignKey
	err    error
}

func newMockCatalog() *mockCatalog {
	return &mockCatalog{
		cols: map[string][]relational.Column{},
		pks:  map[string][]string{},
		fks:  map[string][]relational.ForeignKey{},
	}
}

func (m *mockCatalog) table(name string, pk []string, cols ...string) *mockCatalog {
	m.tables = append(m.tables, name)
	for i, c := range cols {
		m.cols[name] = append(m.cols[name], relational.Column{Name: c, Ordinal: i + 1, Type: "VARCHAR"})
	}
	m.pks[name] = pk
	return m
}

func (m *mockCatalog) fk(from string, cols []string, to string, refCols []string) *mockCatalog {
	m.fks[from] = append(m.fks[from], relational.ForeignKey{
		Name: from + "_" + to + "_fk", Columns: cols, RefTable: to, RefColumns: refCols,
	})
	return m
}

func (m *mockCatalog) Driver() typemap.Driver { return typemap.SQLite }

func (m *mockCatalog) ListEntities(context.Context) ([]relational.TableRef, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []relational.TableRef
	for _, t := range m.tables {
		out = append(out, relational.TableRef{Name: t})
	}
	return out, nil
}

func (m *mockCatalog) ListAttributes(_ context.Context, t relational.TableRef) ([]relational.Column, error) {
	return m.cols[t.Name], nil
}

func (m *mockCatalog) ListPrimaryKey(_ context.Context, t relational.TableRef) ([]string, error) {
	return m.pks[t.Name], nil
}

func (m *mockCatalog) ListForeignKeys(_ context.Context, t relational.TableRef) ([]relational.ForeignKey, error) {
	return m.fks[t.Name], nil
}

func filmCatalog() *mockCatalog {
	return newMockCatalog().
		table("DIRECTOR", []string{"ID"}, "ID", "NAME", "SURNAME").
		table("FILM", []string{"ID"}, "ID", "TITLE", "DIRECTOR").
		table("ACTOR", []string{"ID"}, "ID", "NAME").
		table("FILM_ACTOR", []string{"FILM_ID", "ACTOR_ID"}, "FILM_ID", "ACTOR_ID").
		fk("FILM", []string{"DIRECTOR"}, "DIRECTOR", []string{"ID"}).
		fk("FILM_ACTOR", []string{"FILM_ID"}, "FILM", []string{"ID"}).
		fk("FILM_ACTOR", []string{"ACTOR_ID"}, "ACTOR", []string{"ID"})
}

func analyze(t *testing.T, c relational.Catalog, opts ...Option) (*Schema, *run.State) {
	t.Helper()
	state := run.NewState(nil)
	s, err := NewAnalyzer(c, state, opts...).Analyze(context.Background())
	require.NoError(t, err)
	return s, state
}

func TestAnalyzeEntitiesAndRelationships(t *testing.T) {
	s, state := analyze(t, filmCatalog())
	require.Len(t, s.Entities, 4)
	assert.Empty(t, state.Warnings())

	film := s.Entity("film")
	require.NotNil(t, film)
	assert.Equal(t, []string{"ID"}, film.PrimaryKey.Names())
	assert.Equal(t, 3, film.Attribute("DIRECTOR").Ordinal)
	assert.Equal(t, 0, film.Level)
	assert.False(t, film.JoinTable)

	require.Len(t, film.Out, 1)
	rel := film.Out[0]
	assert.Same(t, s.Entity("DIRECTOR"), rel.Parent)
	assert.Equal(t, []string{"DIRECTOR"}, rel.ForeignKeyNames())
	assert.Equal(t, []string{"ID"}, rel.ParentKeyNames())
	assert.Contains(t, s.Entity("DIRECTOR").In, rel)

	assert.True(t, s.Entity("FILM_ACTOR").JoinTable)
}

func TestAnalyzeForeignKeyCountMismatch(t *testing.T) {
	c := filmCatalog().fk("FILM", []string{"TITLE", "DIRECTOR"}, "DIRECTOR", []string{"ID"})
	_, err := NewAnalyzer(c, run.NewState(nil)).Analyze(context.Background())

	var sie *run.SchemaInconsistencyError
	require.ErrorAs(t, err, &sie)
	assert.Equal(t, "FILM", sie.Subject)
	assert.True(t, run.IsFatal(err))
}

func TestAnalyzeUnknownForeignKeyColumn(t *testing.T) {
	c := filmCatalog().fk("FILM", []string{"STUDIO"}, "DIRECTOR", []string{"ID"})
	_, err := NewAnalyzer(c, run.NewState(nil)).Analyze(context.Background())
	var sie *run.SchemaInconsistencyError
	require.ErrorAs(t, err, &sie)
	assert.Contains(t, sie.Message, "STUDIO")
}

func TestAnalyzeTableFilter(t *testing.T) {
	s, state := analyze(t, filmCatalog(), WithTableFilter(nil, []string{"director"}))
	assert.Nil(t, s.Entity("DIRECTOR"))
	assert.Empty(t, s.Entity("FILM").Out)

	w := state.Warnings()
	require.Len(t, w, 1)
	var missing *run.MissingReferenceWarning
	require.ErrorAs(t, w[0], &missing)
	assert.Equal(t, "DIRECTOR", missing.Target)

	s, _ = analyze(t, filmCatalog(), WithTableFilter([]string{"FILM", "DIRECTOR"}, nil))
	assert.Len(t, s.Entities, 2)
}

func TestAnalyzeCatalogFailure(t *testing.T) {
	c := filmCatalog()
	c.err = errors.New("connection refused")
	_, err := NewAnalyzer(c, run.NewState(nil)).Analyze(context.Background())

	var sce *run.StoreCommunicationError
	require.ErrorAs(t, err, &sce)
	assert.ErrorIs(t, err, c.err)
}

func TestJoinTableDetection(t *testing.T) {
	c := newMockCatalog().
		table("FILM", []string{"ID"}, "ID").
		table("ACTOR", []string{"ID"}, "ID").
		// Surrogate key: not a join table.
		table("CASTING", []string{"ID"}, "ID", "FILM_ID", "ACTOR_ID").
		// Key includes a non-FK column: not a join table.
		table("APPEARANCE", []string{"FILM_ID", "ACTOR_ID", "SCENE"}, "FILM_ID", "ACTOR_ID", "SCENE").
		// Extra non-key column is fine.
		table("ROLE", []string{"FILM_ID", "ACTOR_ID"}, "FILM_ID", "ACTOR_ID", "CHARACTER").
		fk("CASTING", []string{"FILM_ID"}, "FILM", []string{"ID"}).
		fk("CASTING", []string{"ACTOR_ID"}, "ACTOR", []string{"ID"}).
		fk("APPEARANCE", []string{"FILM_ID"}, "FILM", []string{"ID"}).
		fk("APPEARANCE", []string{"ACTOR_ID"}, "ACTOR", []string{"ID"}).
		fk("ROLE", []string{"FILM_ID"}, "FILM", []string{"ID"}).
		fk("ROLE", []string{"ACTOR_ID"}, "ACTOR", []string{"ID"})

	s, _ := analyze(t, c)
	assert.False(t, s.Entity("CASTING").JoinTable)
	assert.False(t, s.Entity("APPEARANCE").JoinTable)
	assert.True(t, s.Entity("ROLE").JoinTable)
}

func vehicleCatalog() *mockCatalog {
	return newMockCatalog().
		table("OWNER", []string{"ID"}, "ID", "NAME").
		table("VEHICLE", []string{"ID"}, "ID", "PLATE", "KIND", "DOORS", "PAYLOAD", "OWNER_ID").
		fk("VEHICLE", []string{"OWNER_ID"}, "OWNER", []string{"ID"})
}

func TestSingleTableHierarchy(t *testing.T) {
	doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{{
		Table:         "VEHICLE",
		Pattern:       config.SingleTable,
		Discriminator: "KIND",
		Subclasses: []config.Subclass{
			{Name: "CAR", DiscriminatorValue: "CAR", Attributes: []string{"DOORS"}},
			{Name: "TRUCK", DiscriminatorValue: "TRUCK", Attributes: []string{"PAYLOAD"}},
		},
	}}}
	s, _ := analyze(t, vehicleCatalog(), WithHierarchy(doc))

	vehicle := s.Entity("VEHICLE")
	assert.Nil(t, vehicle.Attribute("KIND"), "discriminator is stripped")
	assert.Equal(t, []string{"ID", "PLATE", "OWNER_ID"}, attrNames(vehicle.Attributes))
	assert.Equal(t, 3, vehicle.Attribute("OWNER_ID").Ordinal)

	require.Len(t, s.Bags, 1)
	bag := s.Bags[0]
	assert.Equal(t, config.SingleTable, bag.Pattern)
	assert.Equal(t, "KIND", bag.Discriminator)
	assert.Same(t, vehicle, bag.Root)
	assert.Len(t, bag.Levels[1], 2)

	for _, name := range []string{"CAR", "TRUCK"} {
		child := s.Entity(name)
		require.NotNil(t, child, name)
		assert.False(t, child.Physical)
		assert.Equal(t, "VEHICLE", child.Table)
		assert.Same(t, vehicle, child.Parent)
		assert.Equal(t, 1, child.Level)
		assert.Equal(t, name, child.DiscriminatorValue)
		assert.True(t, child.PrimaryKey.Inherited)
		assert.Equal(t, vehicle.PrimaryKey.Attributes, child.PrimaryKey.Attributes, "key shared by reference")
		assert.Equal(t, []string{"ID"}, child.KeyColumnNames())
		assert.Nil(t, child.Attribute("KIND"))
	}
	assert.Equal(t, []string{"DOORS"}, attrNames(s.Entity("CAR").Attributes))
	assert.Equal(t, 1, s.Entity("CAR").Attribute("DOORS").Ordinal)
	assert.Len(t, vehicle.Out, 1, "owner relationship stays on the root")
	assert.Equal(t, []*Entity{vehicle, s.Entity("CAR"), s.Entity("TRUCK")}, bag.Entities())
}

func TestSingleTableNestedSubclasses(t *testing.T) {
	doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{{
		Table: "VEHICLE", Pattern: config.SingleTable, Discriminator: "KIND",
		Subclasses: []config.Subclass{{
			Name: "CAR", DiscriminatorValue: "CAR", Attributes: []string{"DOORS"},
			Subclasses: []config.Subclass{
				{Name: "CABRIO", DiscriminatorValue: "CABRIO", Attributes: []string{"DOORS"}},
			},
		}},
	}}}
	s, _ := analyze(t, vehicleCatalog(), WithHierarchy(doc))

	cabrio := s.Entity("CABRIO")
	require.NotNil(t, cabrio)
	assert.Equal(t, 2, cabrio.Level)
	assert.Same(t, s.Entity("CAR"), cabrio.Parent)
	assert.Same(t, s.Entity("VEHICLE"), cabrio.Root())
	assert.Equal(t, []string{"DOORS"}, attrNames(cabrio.Attributes))
	assert.Empty(t, s.Entity("CAR").Attributes)
}

func TestTablePerTypeHierarchy(t *testing.T) {
	c := newMockCatalog().
		table("PERSON", []string{"ID"}, "ID", "NAME").
		table("EMPLOYEE", []string{"PERSON_ID"}, "PERSON_ID", "SALARY").
		table("MANAGER", []string{"EMP_ID"}, "EMP_ID", "BONUS").
		fk("EMPLOYEE", []string{"PERSON_ID"}, "PERSON", []string{"ID"}).
		fk("MANAGER", []string{"EMP_ID"}, "EMPLOYEE", []string{"PERSON_ID"})
	doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{{
		Table: "PERSON", Pattern: config.TablePerType,
		Subclasses: []config.Subclass{{Table: "EMPLOYEE", Subclasses: []config.Subclass{{Table: "MANAGER"}}}},
	}}}
	s, _ := analyze(t, c, WithHierarchy(doc))

	person, employee, manager := s.Entity("PERSON"), s.Entity("EMPLOYEE"), s.Entity("MANAGER")
	assert.Equal(t, []string{"SALARY"}, attrNames(employee.Attributes))
	assert.Equal(t, 1, employee.Attribute("SALARY").Ordinal)
	assert.True(t, employee.PrimaryKey.Inherited)
	assert.Equal(t, []string{"ID"}, employee.PrimaryKey.Names())
	assert.Equal(t, []string{"PERSON_ID"}, employee.KeyColumnNames())
	assert.Empty(t, employee.Out, "inheritance foreign key is not a relationship")
	assert.Empty(t, person.In)
	assert.Same(t, person, employee.Parent)

	assert.Equal(t, 2, manager.Level)
	assert.Equal(t, []string{"EMP_ID"}, manager.KeyColumnNames())
	assert.Equal(t, []string{"BONUS"}, attrNames(manager.Attributes))
	assert.Equal(t, config.TablePerType, manager.Pattern())
}

func TestTablePerConcreteTypeHierarchy(t *testing.T) {
	c := newMockCatalog().
		table("PALETTE", []string{"ID"}, "ID").
		table("SHAPE", []string{"ID"}, "ID", "COLOR", "PALETTE_ID").
		table("CIRCLE", []string{"ID"}, "ID", "COLOR", "PALETTE_ID", "RADIUS").
		fk("SHAPE", []string{"PALETTE_ID"}, "PALETTE", []string{"ID"}).
		fk("CIRCLE", []string{"PALETTE_ID"}, "PALETTE", []string{"ID"})
	doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{{
		Table: "SHAPE", Pattern: config.TablePerConcreteType,
		Subclasses: []config.Subclass{{Table: "CIRCLE"}},
	}}}
	s, _ := analyze(t, c, WithHierarchy(doc))

	circle := s.Entity("CIRCLE")
	assert.Equal(t, []string{"RADIUS"}, attrNames(circle.Attributes))
	assert.Equal(t, 1, circle.Attribute("RADIUS").Ordinal)
	assert.Equal(t, []string{"COLOR", "PALETTE_ID"}, attrNames(circle.InheritedAttributes))
	assert.Equal(t, []string{"ID"}, circle.KeyColumnNames())
	assert.Empty(t, circle.Out, "relationship already declared by SHAPE")
	assert.Len(t, s.Entity("PALETTE").In, 1)
}

func TestMalformedHierarchy(t *testing.T) {
	tests := []struct {
		name string
		h    config.Hierarchy
		want string
	}{
		{"missing table", config.Hierarchy{Pattern: config.SingleTable}, "hierarchies[0]"},
		{"unknown table", config.Hierarchy{Table: "BOAT", Pattern: config.SingleTable, Discriminator: "KIND"}, "hierarchy BOAT"},
		{"bad pattern", config.Hierarchy{Table: "VEHICLE", Pattern: "joined"}, "hierarchy VEHICLE"},
		{"missing discriminator", config.Hierarchy{Table: "VEHICLE", Pattern: config.SingleTable}, "hierarchy VEHICLE"},
		{"unknown discriminator", config.Hierarchy{Table: "VEHICLE", Pattern: config.SingleTable, Discriminator: "TYPE"}, "hierarchy VEHICLE"},
		{"subclass without name", config.Hierarchy{
			Table: "VEHICLE", Pattern: config.SingleTable, Discriminator: "KIND",
			Subclasses: []config.Subclass{{DiscriminatorValue: "CAR"}},
		}, "hierarchy VEHICLE.subclasses[0]"},
		{"subclass without value", config.Hierarchy{
			Table: "VEHICLE", Pattern: config.SingleTable, Discriminator: "KIND",
			Subclasses: []config.Subclass{{Name: "CAR"}},
		}, "hierarchy VEHICLE/CAR"},
		{"duplicate value", config.Hierarchy{
			Table: "VEHICLE", Pattern: config.SingleTable, Discriminator: "KIND",
			Subclasses: []config.Subclass{{Name: "CAR", DiscriminatorValue: "C"}, {Name: "CAB", DiscriminatorValue: "C"}},
		}, "hierarchy VEHICLE/CAB"},
		{"unknown attribute", config.Hierarchy{
			Table: "VEHICLE", Pattern: config.SingleTable, Discriminator: "KIND",
			Subclasses: []config.Subclass{{Name: "CAR", DiscriminatorValue: "CAR", Attributes: []string{"WINGS"}}},
		}, "hierarchy VEHICLE/CAR"},
		{"subclass without table", config.Hierarchy{
			Table: "VEHICLE", Pattern: config.TablePerType,
			Subclasses: []config.Subclass{{Name: "CAR"}},
		}, "hierarchy VEHICLE.subclasses[0]"},
		{"key arity", config.Hierarchy{
			Table: "VEHICLE", Pattern: config.TablePerConcreteType,
			Subclasses: []config.Subclass{{Table: "OWNER_VEHICLE"}},
		}, "hierarchy VEHICLE/OWNER_VEHICLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := vehicleCatalog().table("OWNER_VEHICLE", []string{"OWNER_ID", "VEHICLE_ID"}, "OWNER_ID", "VEHICLE_ID")
			doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{tt.h}}
			_, err := NewAnalyzer(c, run.NewState(nil), WithHierarchy(doc)).Analyze(context.Background())

			var sie *run.SchemaInconsistencyError
			require.ErrorAs(t, err, &sie)
			assert.Equal(t, tt.want, sie.Subject)
		})
	}
}

func TestAddLogicalRelationship(t *testing.T) {
	s, _ := analyze(t, filmCatalog())
	r, err := s.AddRelationship("same_name", s.Entity("ACTOR"), s.Entity("DIRECTOR"), []string{"NAME"}, []string{"NAME"}, true)
	require.NoError(t, err)
	assert.True(t, r.Logical)
	assert.Contains(t, s.Entity("ACTOR").Out, r)

	_, err = s.AddRelationship("bad", s.Entity("ACTOR"), s.Entity("DIRECTOR"), []string{"NAME"}, nil, true)
	assert.True(t, run.IsFatal(err))
}
