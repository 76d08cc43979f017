package importer

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"relgraph/internal/config"
	"relgraph/internal/database/graph"
	"relgraph/internal/database/relational"
	"relgraph/internal/mapper"
	"relgraph/internal/model"
	"relgraph/internal/naming"
	"relgraph/internal/reconcile"
	"relgraph/internal/run"
	"relgraph/internal/schema"
)

// sqliteSource creates a SQLite database in a temp dir, runs stmts against
// it and opens it as a migration source.
func sqliteSource(t *testing.T, stmts ...string) (*relational.SQLSource, *sql.DB) {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "source.db")

	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, stmt := range stmts {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	src, err := relational.Open(ctx, "sqlite", dsn, "")
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src, db
}

// migrate maps src, writes the schema and imports the rows into store.
func migrate(t *testing.T, src relational.Source, store graph.Store, opts mapper.Options) (*run.State, error) {
	t.Helper()
	state := run.NewState(nil)
	return state, migrateState(t, src, store, opts, state)
}

func migrateState(t *testing.T, src relational.Source, store graph.Store, opts mapper.Options, state *run.State) error {
	t.Helper()
	ctx := context.Background()
	if opts.Naming == "" {
		opts.Naming = naming.StrategyJava
	}
	mp, err := mapper.New(src, state, opts)
	require.NoError(t, err)
	m, err := mp.Map(ctx)
	require.NoError(t, err)
	require.NoError(t, reconcile.NewWriter(store, state).Write(ctx, m))
	return New(src, store, m, state, WithWorkers(4)).Run(ctx)
}

// buildModel maps src the way migrate does, without writing anything.
func buildModel(t *testing.T, src relational.Source) *model.Model {
	t.Helper()
	mp, err := mapper.New(src, run.NewState(nil), mapper.Options{Naming: naming.StrategyJava})
	require.NoError(t, err)
	m, err := mp.Map(context.Background())
	require.NoError(t, err)
	return m
}

func mustMigrate(t *testing.T, src relational.Source, store graph.Store, opts mapper.Options) run.Snapshot {
	t.Helper()
	state, err := migrate(t, src, store, opts)
	require.NoError(t, err)
	return state.Stats.Snapshot()
}

func counts(t *testing.T, store graph.Store) map[string]int64 {
	t.Helper()
	c, err := store.CountByClass(context.Background())
	require.NoError(t, err)
	return c
}

func vertex(t *testing.T, store graph.Store, class string, key any) *graph.Vertex {
	t.Helper()
	v, err := store.FindVertexByKey(context.Background(), class, []string{"id"}, []any{key})
	require.NoError(t, err)
	return v
}

var filmTables = []string{
	`CREATE TABLE DIRECTOR (ID VARCHAR(10) PRIMARY KEY, NAME TEXT, SURNAME TEXT)`,
	`CREATE TABLE FILM (ID VARCHAR(10) PRIMARY KEY, TITLE TEXT, DIRECTOR VARCHAR(10) REFERENCES DIRECTOR(ID))`,
}

func TestImportDirectorFilm(t *testing.T) {
	src, _ := sqliteSource(t, append(filmTables,
		`INSERT INTO DIRECTOR VALUES ('D001', 'Quentin', 'Tarantino')`,
		`INSERT INTO FILM VALUES ('F001', 'Pulp Fiction', 'D001')`,
	)...)
	store := graph.NewMemoryStore()

	first := mustMigrate(t, src, store, mapper.Options{})
	assert.EqualValues(t, 2, first.VerticesCreated+first.StubsCreated)
	assert.EqualValues(t, 1, first.EdgesCreated)
	assert.Equal(t, map[string]int64{"Director": 1, "Film": 1, "HasDirector": 1}, counts(t, store))

	director := vertex(t, store, "Director", "D001")
	assert.Equal(t, map[string]any{"id": "D001", "name": "Quentin", "surname": "Tarantino"}, director.Properties)
	film := vertex(t, store, "Film", "F001")
	edges, err := store.OutEdges(context.Background(), film.ID, "HasDirector")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, director.ID, edges[0].To)

	second := mustMigrate(t, src, store, mapper.Options{})
	assert.Zero(t, second.VerticesCreated)
	assert.Zero(t, second.VerticesUpdated)
	assert.Zero(t, second.EdgesCreated)
	assert.EqualValues(t, 1, second.EdgesDeduped)
	assert.EqualValues(t, 2, second.WritesAvoided)
	assert.Equal(t, map[string]int64{"Director": 1, "Film": 1, "HasDirector": 1}, counts(t, store))
}

func TestImportUpdatesChangedRows(t *testing.T) {
	src, db := sqliteSource(t, append(filmTables,
		`INSERT INTO DIRECTOR VALUES ('D001', 'Quentin', 'Tarantino')`,
		`INSERT INTO FILM VALUES ('F001', 'Pulp Fiction', 'D001')`,
	)...)
	store := graph.NewMemoryStore()
	mustMigrate(t, src, store, mapper.Options{})

	_, err := db.Exec(`UPDATE FILM SET TITLE = 'Jackie Brown'`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE DIRECTOR SET SURNAME = NULL`)
	require.NoError(t, err)

	stats := mustMigrate(t, src, store, mapper.Options{})
	assert.EqualValues(t, 2, stats.VerticesUpdated)
	assert.Zero(t, stats.WritesAvoided)
	assert.Equal(t, "Jackie Brown", vertex(t, store, "Film", "F001").Properties["title"])
	assert.NotContains(t, vertex(t, store, "Director", "D001").Properties, "surname")
}

func TestImportStubCompletion(t *testing.T) {
	src, db := sqliteSource(t, append(filmTables,
		`INSERT INTO FILM VALUES ('F001', 'Pulp Fiction', 'D002')`,
	)...)
	store := graph.NewMemoryStore()

	stats := mustMigrate(t, src, store, mapper.Options{})
	assert.EqualValues(t, 1, stats.StubsCreated)
	stub := vertex(t, store, "Director", "D002")
	assert.Equal(t, map[string]any{"id": "D002"}, stub.Properties)

	_, err := db.Exec(`INSERT INTO DIRECTOR VALUES ('D002', 'Sofia', 'Coppola')`)
	require.NoError(t, err)

	stats = mustMigrate(t, src, store, mapper.Options{})
	assert.EqualValues(t, 1, stats.StubsCompleted)
	assert.Zero(t, stats.StubsCreated)
	assert.Zero(t, stats.VerticesCreated)

	director := vertex(t, store, "Director", "D002")
	assert.Equal(t, stub.ID, director.ID)
	assert.Equal(t, "Coppola", director.Properties["surname"])
	assert.EqualValues(t, 1, counts(t, store)["Director"])
}

func TestImportNullForeignKeySkipsTraversal(t *testing.T) {
	src, _ := sqliteSource(t, append(filmTables,
		`INSERT INTO FILM VALUES ('F001', 'Rope', NULL)`,
	)...)
	store := graph.NewMemoryStore()

	state, err := migrate(t, src, store, mapper.Options{})
	require.NoError(t, err)

	assert.Zero(t, state.Stats.StubsCreated.Load())
	assert.Zero(t, state.Stats.EdgesCreated.Load())
	assert.Empty(t, state.Warnings())
	assert.Equal(t, map[string]int64{"Film": 1}, counts(t, store))
}

func TestImportKeyUniquenessAcrossWorkers(t *testing.T) {
	stmts := append(filmTables,
		`CREATE TABLE AWARD (ID INTEGER PRIMARY KEY, WINNER VARCHAR(10) REFERENCES DIRECTOR(ID))`,
		`INSERT INTO DIRECTOR VALUES ('D001', 'Quentin', 'Tarantino')`,
	)
	for _, id := range []string{"1", "2", "3", "4", "5", "6", "7", "8"} {
		stmts = append(stmts,
			`INSERT INTO FILM VALUES ('F`+id+`', 'Film `+id+`', 'D00`+id+`')`,
			`INSERT INTO AWARD VALUES (`+id+`, 'D00`+id+`')`)
	}
	src, _ := sqliteSource(t, stmts...)
	store := graph.NewMemoryStore()

	// Every relationship carries one edge per row, under whatever name the
	// model gives it.
	want := map[string]int64{"Director": 8, "Film": 8, "Award": 8}
	m := buildModel(t, src)
	for _, e := range m.Schema.Entities {
		for _, r := range e.Out {
			b, ok := m.Binding(r)
			require.True(t, ok, r.Name)
			want[m.Get(b.Edge).Name] += 8
		}
	}
	require.Len(t, want, 4, "both foreign keys share one edge type")

	mustMigrate(t, src, store, mapper.Options{})
	c := counts(t, store)
	assert.Equal(t, want, c)

	mustMigrate(t, src, store, mapper.Options{})
	assert.Equal(t, c, counts(t, store))
}

func TestImportAggregatedJoinTable(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE ACTOR (ID INTEGER PRIMARY KEY, NAME TEXT)`,
		`CREATE TABLE FILM (ID INTEGER PRIMARY KEY, TITLE TEXT)`,
		`CREATE TABLE FILM_ACTOR (FILM_ID INTEGER REFERENCES FILM(ID), ACTOR_ID INTEGER REFERENCES ACTOR(ID), ROLE TEXT, PRIMARY KEY (FILM_ID, ACTOR_ID))`,
		`INSERT INTO ACTOR VALUES (1, 'Uma'), (2, 'John')`,
		`INSERT INTO FILM VALUES (10, 'Pulp Fiction'), (11, 'Kill Bill')`,
		`INSERT INTO FILM_ACTOR VALUES (10, 1, 'Mia'), (10, 2, 'Vincent'), (11, 1, 'Beatrix'), (11, 99, 'Ghost')`,
	)
	store := graph.NewMemoryStore()

	state, err := migrate(t, src, store, mapper.Options{Aggregate: true})
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{"Actor": 2, "Film": 2, "FilmActor": 3}, counts(t, store))
	assert.EqualValues(t, 1, state.Stats.RowsSkipped.Load())
	var rxe *run.RowExtractionError
	require.Len(t, state.Warnings(), 1)
	require.ErrorAs(t, state.Warnings()[0], &rxe)
	assert.ErrorIs(t, rxe, errMissing)

	film := vertex(t, store, "Film", int64(10))
	uma := vertex(t, store, "Actor", int64(1))
	edges, err := store.OutEdges(context.Background(), film.ID, "FilmActor")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		if e.To == uma.ID {
			assert.Equal(t, map[string]any{"role": "Mia"}, e.Properties)
		}
	}

	again, err := migrate(t, src, store, mapper.Options{Aggregate: true})
	require.NoError(t, err)
	assert.Zero(t, again.Stats.EdgesCreated.Load())
	assert.EqualValues(t, 3, again.Stats.EdgesDeduped.Load())
}

func TestImportSkippedRowLoggedAtWarn(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE ACTOR (ID INTEGER PRIMARY KEY, NAME TEXT)`,
		`CREATE TABLE FILM (ID INTEGER PRIMARY KEY, TITLE TEXT)`,
		`CREATE TABLE FILM_ACTOR (FILM_ID INTEGER REFERENCES FILM(ID), ACTOR_ID INTEGER REFERENCES ACTOR(ID), ROLE TEXT, PRIMARY KEY (FILM_ID, ACTOR_ID))`,
		`INSERT INTO ACTOR VALUES (1, 'Uma')`,
		`INSERT INTO FILM VALUES (10, 'Pulp Fiction')`,
		`INSERT INTO FILM_ACTOR VALUES (10, 1, 'Mia'), (10, 99, 'Ghost')`,
	)
	core, logs := observer.New(zapcore.WarnLevel)
	state := run.NewState(zap.New(core))

	require.NoError(t, migrateState(t, src, graph.NewMemoryStore(), mapper.Options{Aggregate: true}, state))

	recovered := logs.FilterMessage("recovered").All()
	require.Len(t, recovered, 1)
	entry := recovered[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	fields := entry.ContextMap()
	assert.Equal(t, "importer", fields["component"])
	require.Contains(t, fields, "row")
	row, ok := fields["row"].(map[string]any)
	require.True(t, ok, "row is %T", fields["row"])
	assert.Equal(t, "Ghost", row["ROLE"])
	assert.EqualValues(t, 99, row["ACTOR_ID"])
}

func TestImportNaiveJoinTableVertices(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE ACTOR (ID INTEGER PRIMARY KEY)`,
		`CREATE TABLE FILM (ID INTEGER PRIMARY KEY)`,
		`CREATE TABLE FILM_ACTOR (FILM_ID INTEGER REFERENCES FILM(ID), ACTOR_ID INTEGER REFERENCES ACTOR(ID), PRIMARY KEY (FILM_ID, ACTOR_ID))`,
		`INSERT INTO ACTOR VALUES (1)`,
		`INSERT INTO FILM VALUES (10)`,
		`INSERT INTO FILM_ACTOR VALUES (10, 1)`,
	)
	store := graph.NewMemoryStore()

	mustMigrate(t, src, store, mapper.Options{})

	c := counts(t, store)
	assert.EqualValues(t, 1, c["FilmActor"])
	assert.EqualValues(t, 1, c["HasFilm"])
	assert.EqualValues(t, 1, c["HasActor"])
}

func TestImportBooleanEncodings(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE FLAG (ID INTEGER PRIMARY KEY, ACTIVE BOOLEAN)`,
		`INSERT INTO FLAG VALUES (1, 't'), (2, 'f'), (3, 1)`,
	)
	store := graph.NewMemoryStore()

	mustMigrate(t, src, store, mapper.Options{})
	assert.Equal(t, true, vertex(t, store, "Flag", int64(1)).Properties["active"])
	assert.Equal(t, false, vertex(t, store, "Flag", int64(2)).Properties["active"])
	assert.Equal(t, true, vertex(t, store, "Flag", int64(3)).Properties["active"])

	again := mustMigrate(t, src, store, mapper.Options{})
	assert.EqualValues(t, 3, again.WritesAvoided)
}

func TestImportRowExtractionError(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE ITEM (ID INTEGER PRIMARY KEY, QTY INTEGER)`,
		`INSERT INTO ITEM VALUES (1, 5), (2, 'lots')`,
	)
	store := graph.NewMemoryStore()

	state, err := migrate(t, src, store, mapper.Options{})
	require.NoError(t, err)

	assert.EqualValues(t, 1, state.Stats.RowsSkipped.Load())
	require.Len(t, state.Warnings(), 1)
	var rxe *run.RowExtractionError
	require.ErrorAs(t, state.Warnings()[0], &rxe)
	assert.Equal(t, "ITEM", rxe.Entity)
	assert.Equal(t, "QTY", rxe.Column)
	assert.Equal(t, map[string]any{"ID": int64(2)}, rxe.Key)
	assert.False(t, run.IsFatal(rxe))
	assert.EqualValues(t, 1, counts(t, store)["Item"])
}

func TestImportSingleTableHierarchy(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE VEHICLE (ID INTEGER PRIMARY KEY, PLATE TEXT, KIND TEXT, DOORS INTEGER, PAYLOAD INTEGER)`,
		`INSERT INTO VEHICLE VALUES (1, 'AB-1', 'CAR', 4, NULL), (2, 'CD-2', 'TRUCK', NULL, 12), (3, 'EF-3', NULL, NULL, NULL)`,
	)
	doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{{
		Table:         "VEHICLE",
		Pattern:       config.SingleTable,
		Discriminator: "KIND",
		Subclasses: []config.Subclass{
			{Name: "CAR", DiscriminatorValue: "CAR", Attributes: []string{"DOORS"}},
			{Name: "TRUCK", DiscriminatorValue: "TRUCK", Attributes: []string{"PAYLOAD"}},
		},
	}}}
	store := graph.NewMemoryStore()

	mustMigrate(t, src, store, mapper.Options{Hierarchy: doc})

	assert.Equal(t, map[string]int64{"Vehicle": 3, "Car": 1, "Truck": 1}, counts(t, store))
	car := vertex(t, store, "Vehicle", int64(1))
	assert.Equal(t, "Car", car.Class)
	assert.Equal(t, map[string]any{"id": int64(1), "plate": "AB-1", "doors": int64(4)}, car.Properties)
	assert.Equal(t, "Vehicle", vertex(t, store, "Vehicle", int64(3)).Class)

	again := mustMigrate(t, src, store, mapper.Options{Hierarchy: doc})
	assert.EqualValues(t, 3, again.WritesAvoided)
}

func TestImportTablePerTypeHierarchy(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE PERSON (ID INTEGER PRIMARY KEY, NAME TEXT)`,
		`CREATE TABLE EMPLOYEE (PERSON_ID INTEGER PRIMARY KEY REFERENCES PERSON(ID), SALARY INTEGER)`,
		`INSERT INTO PERSON VALUES (1, 'Ann'), (2, 'Bob')`,
		`INSERT INTO EMPLOYEE VALUES (1, 5000)`,
	)
	doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{{
		Table:      "PERSON",
		Pattern:    config.TablePerType,
		Subclasses: []config.Subclass{{Table: "EMPLOYEE"}},
	}}}
	store := graph.NewMemoryStore()

	mustMigrate(t, src, store, mapper.Options{Hierarchy: doc})

	assert.Equal(t, map[string]int64{"Person": 2, "Employee": 1}, counts(t, store))
	ann := vertex(t, store, "Person", int64(1))
	assert.Equal(t, "Employee", ann.Class)
	assert.Equal(t, map[string]any{"id": int64(1), "name": "Ann", "salary": int64(5000)}, ann.Properties)
	assert.Equal(t, "Person", vertex(t, store, "Person", int64(2)).Class)
}

func TestImportTablePerConcreteTypeHierarchy(t *testing.T) {
	src, _ := sqliteSource(t,
		`CREATE TABLE PALETTE (ID INTEGER PRIMARY KEY)`,
		`CREATE TABLE SHAPE (ID INTEGER PRIMARY KEY, COLOR TEXT, PALETTE_ID INTEGER REFERENCES PALETTE(ID))`,
		`CREATE TABLE CIRCLE (ID INTEGER PRIMARY KEY, COLOR TEXT, PALETTE_ID INTEGER REFERENCES PALETTE(ID), RADIUS INTEGER)`,
		`INSERT INTO PALETTE VALUES (1)`,
		`INSERT INTO SHAPE VALUES (1, 'red', 1)`,
		`INSERT INTO CIRCLE VALUES (2, 'blue', 1, 7)`,
	)
	doc := &config.HierarchyDoc{Hierarchies: []config.Hierarchy{{
		Table:      "SHAPE",
		Pattern:    config.TablePerConcreteType,
		Subclasses: []config.Subclass{{Table: "CIRCLE"}},
	}}}
	store := graph.NewMemoryStore()

	mustMigrate(t, src, store, mapper.Options{Hierarchy: doc})

	circle := vertex(t, store, "Shape", int64(2))
	assert.Equal(t, "Circle", circle.Class)
	assert.Equal(t, map[string]any{"id": int64(2), "color": "blue", "paletteId": int64(1), "radius": int64(7)}, circle.Properties)
	edges, err := store.OutEdges(context.Background(), circle.ID, "HasPalette")
	require.NoError(t, err)
	assert.Len(t, edges, 1, "inherited relationship is walked from the subclass table")
}

type failingStore struct {
	*graph.MemoryStore
}

func (failingStore) CreateVertex(context.Context, string, map[string]any) (*graph.Vertex, error) {
	return nil, errors.New("connection reset")
}

func TestImportStoreFailureIsFatal(t *testing.T) {
	src, _ := sqliteSource(t, append(filmTables,
		`INSERT INTO DIRECTOR VALUES ('D001', 'Quentin', 'Tarantino')`,
	)...)

	_, err := migrate(t, src, failingStore{graph.NewMemoryStore()}, mapper.Options{})

	var sce *run.StoreCommunicationError
	require.ErrorAs(t, err, &sce)
	assert.Equal(t, "create vertex Director", sce.Op)
	assert.True(t, run.IsFatal(err))
}

func TestEntityDoneCallback(t *testing.T) {
	ctx := context.Background()
	src, _ := sqliteSource(t, append(filmTables,
		`INSERT INTO DIRECTOR VALUES ('D001', 'Quentin', 'Tarantino'), ('D002', 'Sofia', 'Coppola')`,
	)...)
	store := graph.NewMemoryStore()
	state := run.NewState(nil)
	mp, err := mapper.New(src, state, mapper.Options{Naming: naming.StrategyJava})
	require.NoError(t, err)
	m, err := mp.Map(ctx)
	require.NoError(t, err)
	require.NoError(t, reconcile.NewWriter(store, state).Write(ctx, m))

	var mu sync.Mutex
	got := map[string]int64{}
	err = New(src, store, m, state, WithWorkers(1), WithEntityDone(func(entity string, n int64) {
		mu.Lock()
		defer mu.Unlock()
		got[entity] = n
	})).Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, map[string]int64{"DIRECTOR": 2, "FILM": 0}, got)
	assert.Equal(t, run.StepImportPass2, state.Step())
}

func TestVertexKey(t *testing.T) {
	assert.NotEqual(t, vertexKey("Film", []any{int64(1)}), vertexKey("Film", []any{"1"}))
	assert.NotEqual(t, vertexKey("Film", []any{"a", "b"}), vertexKey("Film", []any{"ab"}))
	assert.Equal(t, vertexKey("Film", []any{int64(1)}), vertexKey("Film", []any{int64(1)}))
}

func TestClassifyDefaultsToRoot(t *testing.T) {
	root := &vertexPlan{entity: &schema.Entity{Name: "VEHICLE"}}
	car := &vertexPlan{entity: &schema.Entity{Name: "CAR", DiscriminatorValue: "CAR"}}
	u := &unit{discriminator: "KIND", plans: []*vertexPlan{root, car}}

	assert.Same(t, car, u.classify(relational.Row{"KIND": "CAR"}))
	assert.Same(t, root, u.classify(relational.Row{"KIND": "BOAT"}))
	assert.Same(t, root, u.classify(relational.Row{"KIND": nil}))
}
