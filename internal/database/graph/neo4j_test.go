package graph

import (
	"errors"
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/typemap"
)

func TestCreateIndexStatement(t *testing.T) {
	tests := []struct {
		name string
		def  IndexDef
		want string
	}{
		{
			name: "unique composite",
			def:  IndexDef{Name: "Film.pkey", Class: "Film", Properties: []string{"id", "year"}, Unique: true},
			want: "CREATE CONSTRAINT `Film.pkey` IF NOT EXISTS FOR (n:`Film`) REQUIRE (n.`id`, n.`year`) IS UNIQUE",
		},
		{
			name: "plain",
			def:  IndexDef{Name: "Actor.name", Class: "Actor", Properties: []string{"name"}},
			want: "CREATE INDEX `Actor.name` IF NOT EXISTS FOR (n:`Actor`) ON (n.`name`)",
		},
		{
			name: "backtick in name",
			def:  IndexDef{Name: "we`ird", Class: "C", Properties: []string{"p"}},
			want: "CREATE INDEX `we``ird` IF NOT EXISTS FOR (n:`C`) ON (n.`p`)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, createIndexStatement(tt.def))
		})
	}
}

func TestDropIndexStatement(t *testing.T) {
	assert.Equal(t, "DROP CONSTRAINT `Film.pkey` IF EXISTS", dropIndexStatement(IndexDef{Name: "Film.pkey", Unique: true}))
	assert.Equal(t, "DROP INDEX `Actor.name` IF EXISTS", dropIndexStatement(IndexDef{Name: "Actor.name"}))
}

func TestFindStatement(t *testing.T) {
	q, params, err := findStatement("Film", []string{"id", "year"}, []any{int64(1), int64(1999)})
	require.NoError(t, err)
	assert.Equal(t,
		"MATCH (n:`Film`) WHERE n.`id` = $k0 AND n.`year` = $k1 RETURN elementId(n) AS id, labels(n) AS labels, properties(n) AS props LIMIT 1",
		q)
	assert.Equal(t, map[string]any{"k0": int64(1), "k1": int64(1999)}, params)

	_, _, err = findStatement("Film", []string{"id"}, nil)
	assert.Error(t, err)
}

func TestLabelExpr(t *testing.T) {
	assert.Equal(t, ":`Car`:`Vehicle`", labelExpr([]string{"Car", "Vehicle"}))
}

func TestClassFromCatalog(t *testing.T) {
	info, err := classFromCatalog("Car", "vertex", "Vehicle", []any{
		map[string]any{"name": "doors", "type": "INTEGER", "mandatory": true, "readOnly": false, "notNull": true},
		"ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, ClassDef{Name: "Car", Kind: KindVertex, Superclass: "Vehicle"}, info.ClassDef)
	assert.Equal(t, PropertyDef{Name: "doors", Type: typemap.Integer, Mandatory: true, NotNull: true}, info.Properties["doors"])

	root, err := classFromCatalog("Vehicle", "vertex", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, root.Superclass)

	_, err = classFromCatalog("Car", "vertex", "", []any{map[string]any{"name": "x", "type": "VECTOR"}})
	assert.Error(t, err)
}

func TestTranslate(t *testing.T) {
	dup := translate(&neo4j.Neo4jError{Code: constraintViolation, Msg: "already exists"})
	assert.ErrorIs(t, dup, ErrDuplicateKey)

	other := translate(errors.New("connection reset"))
	assert.NotErrorIs(t, other, ErrDuplicateKey)
	assert.Contains(t, other.Error(), "connection reset")
}

func TestFlatten(t *testing.T) {
	node := neo4j.Node{ElementId: "4:x:1", Labels: []string{"Film"}, Props: map[string]any{"id": "F001"}}
	rel := neo4j.Relationship{ElementId: "5:x:1", Type: "HasDirector", StartElementId: "4:x:1", EndElementId: "4:x:2"}
	flatNode := map[string]any{"id": "4:x:1", "labels": []string{"Film"}, "properties": map[string]any{"id": "F001"}}

	got := flatten([]any{node, map[string]any{"r": rel}, int64(3)})

	assert.Equal(t, []any{
		flatNode,
		map[string]any{"r": map[string]any{
			"id": "5:x:1", "type": "HasDirector", "from": "4:x:1", "to": "4:x:2", "properties": map[string]any(nil),
		}},
		int64(3),
	}, got)

	path := flatten(neo4j.Path{Nodes: []neo4j.Node{node}, Relationships: []neo4j.Relationship{}})
	assert.Equal(t, map[string]any{"nodes": []any{flatNode}, "relationships": []any{}}, path)

	day := neo4j.Date(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-03-09", flatten(day))
	assert.Equal(t, "x", flatten("x"))
}

func TestQueryErrorUnwraps(t *testing.T) {
	cause := errors.New("syntax error")
	err := &QueryError{Query: "MATCH", Err: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "cypher query failed: syntax error", err.Error())
}

func TestStringList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, stringList([]any{"a", 1, "b"}))
	assert.Empty(t, stringList(nil))
}
