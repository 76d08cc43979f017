package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/typemap"
)

func vehicleStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.CreateClass(ctx, ClassDef{Name: "Vehicle", Kind: KindVertex}))
	require.NoError(t, s.CreateClass(ctx, ClassDef{Name: "Car", Kind: KindVertex, Superclass: "Vehicle"}))
	require.NoError(t, s.CreateClass(ctx, ClassDef{Name: "HasOwner", Kind: KindEdge}))
	require.NoError(t, s.CreateIndex(ctx, IndexDef{Name: "Vehicle.pkey", Class: "Vehicle", Properties: []string{"id"}, Unique: true}))
	return s
}

func TestMemoryStoreClasses(t *testing.T) {
	ctx := context.Background()
	s := vehicleStore(t)

	require.NoError(t, s.CreateProperty(ctx, "Car", PropertyDef{Name: "doors", Type: typemap.Integer, NotNull: true}))
	info, err := s.GetClass(ctx, "Car")
	require.NoError(t, err)
	assert.Equal(t, "Vehicle", info.Superclass)
	assert.Equal(t, PropertyDef{Name: "doors", Type: typemap.Integer, NotNull: true}, info.Properties["doors"])

	require.NoError(t, s.DropProperty(ctx, "Car", "doors"))
	info, err = s.GetClass(ctx, "Car")
	require.NoError(t, err)
	assert.Empty(t, info.Properties)

	_, err = s.GetClass(ctx, "Boat")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.CreateClass(ctx, ClassDef{Name: "Bike", Superclass: "Boat"}), ErrNotFound)
	assert.Error(t, s.CreateClass(ctx, ClassDef{Name: "Car"}))
}

func TestMemoryStoreIndexes(t *testing.T) {
	ctx := context.Background()
	s := vehicleStore(t)

	idx, err := s.GetIndex(ctx, "Vehicle.pkey")
	require.NoError(t, err)
	assert.True(t, idx.Unique)
	assert.Equal(t, []string{"id"}, idx.Properties)

	require.NoError(t, s.DropIndex(ctx, "Vehicle.pkey"))
	_, err = s.GetIndex(ctx, "Vehicle.pkey")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DropIndex(ctx, "Vehicle.pkey"), ErrNotFound)

	_, err = s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(1)})
	require.NoError(t, err)
	_, err = s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(1)})
	require.NoError(t, err)
	err = s.CreateIndex(ctx, IndexDef{Name: "Vehicle.pkey", Class: "Vehicle", Properties: []string{"id"}, Unique: true})
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestMemoryStoreUniqueKeyAcrossSubclasses(t *testing.T) {
	ctx := context.Background()
	s := vehicleStore(t)

	car, err := s.CreateVertex(ctx, "Car", map[string]any{"id": int64(7), "plate": "AB-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Car", "Vehicle"}, car.Labels)

	_, err = s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(7)})
	assert.True(t, errors.Is(err, ErrDuplicateKey))

	found, err := s.FindVertexByKey(ctx, "Vehicle", []string{"id"}, []any{int64(7)})
	require.NoError(t, err)
	assert.Equal(t, car.ID, found.ID)
	assert.Equal(t, "Car", found.Class)

	_, err = s.FindVertexByKey(ctx, "Car", []string{"id"}, []any{int64(8)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreSetPropertiesAndClass(t *testing.T) {
	ctx := context.Background()
	s := vehicleStore(t)

	v, err := s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(1), "plate": nil})
	require.NoError(t, err)
	assert.NotContains(t, v.Properties, "plate")

	require.NoError(t, s.SetProperties(ctx, v.ID, map[string]any{"plate": "X", "color": "red"}))
	require.NoError(t, s.SetProperties(ctx, v.ID, map[string]any{"color": nil}))
	got, err := s.FindVertexByKey(ctx, "Vehicle", []string{"id"}, []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": int64(1), "plate": "X"}, got.Properties)

	require.NoError(t, s.SetClass(ctx, v.ID, "Car"))
	got, err = s.FindVertexByKey(ctx, "Car", []string{"id"}, []any{int64(1)})
	require.NoError(t, err)
	assert.Equal(t, "Car", got.Class)
	assert.Error(t, s.SetClass(ctx, v.ID, "Vehicle"), "downgrades are rejected")

	other, err := s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(2)})
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetProperties(ctx, other.ID, map[string]any{"id": int64(1)}), ErrDuplicateKey)
	assert.ErrorIs(t, s.SetProperties(ctx, "missing", nil), ErrNotFound)
}

func TestMemoryStoreKeyIndexFollowsWrites(t *testing.T) {
	ctx := context.Background()
	s := vehicleStore(t)

	const n = 2000
	ids := make([]string, n)
	for i := range n {
		v, err := s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(i), "plate": fmt.Sprintf("P-%d", i)})
		require.NoError(t, err)
		ids[i] = v.ID
	}
	pkey := s.tuples[tupleName("Vehicle", []string{"id"})]
	require.NotNil(t, pkey)
	assert.Len(t, pkey.ids, n)

	// Built on first lookup from the vertices already stored.
	got, err := s.FindVertexByKey(ctx, "Vehicle", []string{"plate"}, []any{"P-1500"})
	require.NoError(t, err)
	assert.Equal(t, ids[1500], got.ID)

	require.NoError(t, s.SetProperties(ctx, ids[1500], map[string]any{"id": int64(n), "plate": "NEW"}))
	_, err = s.FindVertexByKey(ctx, "Vehicle", []string{"id"}, []any{int64(1500)})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindVertexByKey(ctx, "Vehicle", []string{"plate"}, []any{"P-1500"})
	assert.ErrorIs(t, err, ErrNotFound)
	got, err = s.FindVertexByKey(ctx, "Vehicle", []string{"plate"}, []any{"NEW"})
	require.NoError(t, err)
	assert.Equal(t, ids[1500], got.ID)

	// The freed key can be taken again, the moved one cannot.
	_, err = s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(1500)})
	require.NoError(t, err)
	_, err = s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(n)})
	assert.ErrorIs(t, err, ErrDuplicateKey)

	_, err = s.FindVertexByKey(ctx, "Car", []string{"id"}, []any{int64(3)})
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.SetClass(ctx, ids[3], "Car"))
	got, err = s.FindVertexByKey(ctx, "Car", []string{"id"}, []any{int64(3)})
	require.NoError(t, err)
	assert.Equal(t, ids[3], got.ID)

	_, err = s.FindVertexByKey(ctx, "Vehicle", []string{"id"}, []any{3})
	assert.ErrorIs(t, err, ErrNotFound, "int and int64 keys differ")

	require.NoError(t, s.Reset(ctx))
	_, err = s.FindVertexByKey(ctx, "Vehicle", []string{"id"}, []any{int64(3)})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(3)})
	assert.NoError(t, err)
}

func TestMemoryStoreEdges(t *testing.T) {
	ctx := context.Background()
	s := vehicleStore(t)

	a, _ := s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(1)})
	b, _ := s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(2)})

	e, err := s.CreateEdge(ctx, "HasOwner", a.ID, b.ID, map[string]any{"since": "2020"})
	require.NoError(t, err)
	_, err = s.CreateEdge(ctx, "HasOwner", a.ID, "missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.CreateEdge(ctx, "Unknown", a.ID, b.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetEdgeProperties(ctx, e.ID, map[string]any{"since": "2021"}))
	edges, err := s.OutEdges(ctx, a.ID, "HasOwner")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, b.ID, edges[0].To)
	assert.Equal(t, "2021", edges[0].Properties["since"])

	none, err := s.OutEdges(ctx, b.ID, "HasOwner")
	require.NoError(t, err)
	assert.Empty(t, none)

	counts, err := s.CountByClass(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"Vehicle": 2, "HasOwner": 1}, counts)

	require.NoError(t, s.Reset(ctx))
	counts, _ = s.CountByClass(ctx)
	assert.Empty(t, counts)
	_, err = s.GetClass(ctx, "Vehicle")
	assert.NoError(t, err, "reset keeps the catalog")
}

func TestMemoryStoreConcurrentCreates(t *testing.T) {
	ctx := context.Background()
	s := vehicleStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateVertex(ctx, "Vehicle", map[string]any{"id": int64(42)})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateKey)
		}
	}
	assert.Equal(t, 1, created)
}
