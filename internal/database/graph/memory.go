package graph

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store. It keeps the class catalog, enforces
// unique indexes and is safe for concurrent use. It backs dry runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	classes  map[string]*ClassInfo
	indexes  map[string]IndexDef
	vertices map[string]*Vertex
	edges    map[string]*Edge
	out      map[string][]string // vertex id -> outgoing edge ids
	tuples   map[string]*tupleIndex
	seq      int64
}

// tupleIndex maps the key tuple of every vertex labeled class to the ids
// holding it. Unique indexes and key lookups share these.
type tupleIndex struct {
	class string
	keys  []string
	ids   map[string][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		classes: make(map[string]*ClassInfo),
		indexes: make(map[string]IndexDef),
	}
	s.resetData()
	return s
}

func (s *MemoryStore) resetData() {
	s.vertices = make(map[string]*Vertex)
	s.edges = make(map[string]*Edge)
	s.out = make(map[string][]string)
	s.tuples = make(map[string]*tupleIndex)
}

func (s *MemoryStore) nextID(prefix string) string {
	s.seq++
	return prefix + strconv.FormatInt(s.seq, 10)
}

// ===== Schema =====

func (s *MemoryStore) GetClass(_ context.Context, name string) (*ClassInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[name]
	if !ok {
		return nil, fmt.Errorf("class %s: %w", name, ErrNotFound)
	}
	return &ClassInfo{ClassDef: c.ClassDef, Properties: maps.Clone(c.Properties)}, nil
}

func (s *MemoryStore) CreateClass(_ context.Context, def ClassDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[def.Name]; ok {
		return fmt.Errorf("class %s already exists", def.Name)
	}
	if def.Superclass != "" {
		if _, ok := s.classes[def.Superclass]; !ok {
			return fmt.Errorf("superclass %s of %s: %w", def.Superclass, def.Name, ErrNotFound)
		}
	}
	s.classes[def.Name] = &ClassInfo{ClassDef: def, Properties: make(map[string]PropertyDef)}
	return nil
}

func (s *MemoryStore) CreateProperty(_ context.Context, class string, def PropertyDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[class]
	if !ok {
		return fmt.Errorf("class %s: %w", class, ErrNotFound)
	}
	c.Properties[def.Name] = def
	return nil
}

func (s *MemoryStore) DropProperty(_ context.Context, class, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[class]
	if !ok {
		return fmt.Errorf("class %s: %w", class, ErrNotFound)
	}
	delete(c.Properties, name)
	return nil
}

func (s *MemoryStore) GetIndex(_ context.Context, name string) (*IndexDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	idx.Properties = slices.Clone(idx.Properties)
	return &idx, nil
}

func (s *MemoryStore) CreateIndex(_ context.Context, def IndexDef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[def.Name]; ok {
		return fmt.Errorf("index %s already exists", def.Name)
	}
	if _, ok := s.classes[def.Class]; !ok {
		return fmt.Errorf("class %s: %w", def.Class, ErrNotFound)
	}
	def.Properties = slices.Clone(def.Properties)
	if def.Unique {
		for _, ids := range s.tupleIndex(def.Class, def.Properties).ids {
			if len(ids) > 1 {
				return fmt.Errorf("index %s over existing data: %w", def.Name, ErrDuplicateKey)
			}
		}
	}
	s.indexes[def.Name] = def
	return nil
}

func (s *MemoryStore) DropIndex(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return fmt.Errorf("index %s: %w", name, ErrNotFound)
	}
	delete(s.indexes, name)
	return nil
}

// lineage returns class and its ancestors; callers hold the lock.
func (s *MemoryStore) lineage(class string) ([]string, error) {
	var out []string
	for name := class; name != ""; {
		c, ok := s.classes[name]
		if !ok {
			return nil, fmt.Errorf("class %s: %w", name, ErrNotFound)
		}
		out = append(out, name)
		name = c.Superclass
	}
	return out, nil
}

// ===== Data =====

func (s *MemoryStore) FindVertexByKey(_ context.Context, class string, keys []string, values []any) (*Vertex, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("find %s: %d keys for %d values", class, len(keys), len(values))
	}
	s.mu.RLock()
	ti, ok := s.tuples[tupleName(class, keys)]
	if !ok {
		s.mu.RUnlock()
		s.mu.Lock()
		ti = s.tupleIndex(class, keys)
		s.mu.Unlock()
		s.mu.RLock()
	}
	defer s.mu.RUnlock()
	for _, id := range ti.ids[tupleKey(values)] {
		if v, ok := s.vertices[id]; ok {
			return cloneVertex(v), nil
		}
	}
	return nil, fmt.Errorf("%s %v: %w", class, values, ErrNotFound)
}

func (s *MemoryStore) CreateVertex(_ context.Context, class string, props map[string]any) (*Vertex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels, err := s.lineage(class)
	if err != nil {
		return nil, err
	}
	v := &Vertex{Class: class, Labels: labels, Properties: compact(props)}
	if err := s.checkUnique(v, ""); err != nil {
		return nil, err
	}
	v.ID = s.nextID("v")
	s.vertices[v.ID] = v
	s.index(v)
	return cloneVertex(v), nil
}

func (s *MemoryStore) SetProperties(_ context.Context, id string, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vertices[id]
	if !ok {
		return fmt.Errorf("vertex %s: %w", id, ErrNotFound)
	}
	next := merge(v.Properties, props)
	if err := s.checkUnique(&Vertex{Labels: v.Labels, Properties: next}, id); err != nil {
		return err
	}
	s.unindex(v)
	v.Properties = next
	s.index(v)
	return nil
}

func (s *MemoryStore) SetClass(_ context.Context, id, class string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vertices[id]
	if !ok {
		return fmt.Errorf("vertex %s: %w", id, ErrNotFound)
	}
	labels, err := s.lineage(class)
	if err != nil {
		return err
	}
	if !slices.Contains(labels, v.Class) {
		return fmt.Errorf("vertex %s: class %s does not descend from %s", id, class, v.Class)
	}
	if err := s.checkUnique(&Vertex{Labels: labels, Properties: v.Properties}, id); err != nil {
		return err
	}
	s.unindex(v)
	v.Class, v.Labels = class, labels
	s.index(v)
	return nil
}

func (s *MemoryStore) OutEdges(_ context.Context, from, label string) ([]Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Edge
	for _, id := range s.out[from] {
		e := s.edges[id]
		if e.Label == label {
			c := *e
			c.Properties = maps.Clone(e.Properties)
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateEdge(_ context.Context, label, from, to string, props map[string]any) (*Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[label]; !ok {
		return nil, fmt.Errorf("class %s: %w", label, ErrNotFound)
	}
	for _, id := range []string{from, to} {
		if _, ok := s.vertices[id]; !ok {
			return nil, fmt.Errorf("vertex %s: %w", id, ErrNotFound)
		}
	}
	e := &Edge{ID: s.nextID("e"), Label: label, From: from, To: to, Properties: compact(props)}
	s.edges[e.ID] = e
	s.out[from] = append(s.out[from], e.ID)
	c := *e
	c.Properties = maps.Clone(e.Properties)
	return &c, nil
}

func (s *MemoryStore) SetEdgeProperties(_ context.Context, id string, props map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edges[id]
	if !ok {
		return fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	e.Properties = merge(e.Properties, props)
	return nil
}

func (s *MemoryStore) CountByClass(_ context.Context) (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int64)
	for _, v := range s.vertices {
		for _, l := range v.Labels {
			counts[l]++
		}
	}
	for _, e := range s.edges {
		counts[e.Label]++
	}
	return counts, nil
}

// Reset removes all vertices and edges and keeps the catalog.
func (s *MemoryStore) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetData()
	return nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

// checkUnique fails when v would share a unique index tuple with a vertex
// other than except.
func (s *MemoryStore) checkUnique(v *Vertex, except string) error {
	for _, idx := range s.indexes {
		if !idx.Unique || !slices.Contains(v.Labels, idx.Class) {
			continue
		}
		t, ok := tuple(v.Properties, idx.Properties)
		if !ok {
			continue
		}
		for _, id := range s.tupleIndex(idx.Class, idx.Properties).ids[tupleKey(t)] {
			if id != except {
				return fmt.Errorf("index %s %v: %w", idx.Name, t, ErrDuplicateKey)
			}
		}
	}
	return nil
}

// tupleIndex returns the index over class and keys, building it from the
// stored vertices on first use. Callers hold the write lock.
func (s *MemoryStore) tupleIndex(class string, keys []string) *tupleIndex {
	name := tupleName(class, keys)
	if ti, ok := s.tuples[name]; ok {
		return ti
	}
	ti := &tupleIndex{class: class, keys: slices.Clone(keys), ids: make(map[string][]string)}
	for _, v := range s.vertices {
		ti.add(v)
	}
	s.tuples[name] = ti
	return ti
}

func (s *MemoryStore) index(v *Vertex) {
	for _, ti := range s.tuples {
		ti.add(v)
	}
}

func (s *MemoryStore) unindex(v *Vertex) {
	for _, ti := range s.tuples {
		ti.remove(v)
	}
}

func (ti *tupleIndex) add(v *Vertex) {
	if !slices.Contains(v.Labels, ti.class) {
		return
	}
	if t, ok := tuple(v.Properties, ti.keys); ok {
		k := tupleKey(t)
		ti.ids[k] = append(ti.ids[k], v.ID)
	}
}

func (ti *tupleIndex) remove(v *Vertex) {
	if !slices.Contains(v.Labels, ti.class) {
		return
	}
	t, ok := tuple(v.Properties, ti.keys)
	if !ok {
		return
	}
	k := tupleKey(t)
	ids := slices.DeleteFunc(ti.ids[k], func(id string) bool { return id == v.ID })
	if len(ids) == 0 {
		delete(ti.ids, k)
		return
	}
	ti.ids[k] = ids
}

func tupleName(class string, keys []string) string {
	return class + "\x00" + strings.Join(keys, "\x00")
}

// tupleKey encodes values so that two tuples share a key exactly when their
// values have equal types and representations.
func tupleKey(values []any) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%T\x00%#v\x00", v, v)
	}
	return b.String()
}

// tuple extracts the values of keys; ok is false when any is missing.
func tuple(props map[string]any, keys []string) ([]any, bool) {
	out := make([]any, len(keys))
	for i, k := range keys {
		v, ok := props[k]
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func compact(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func merge(base, props map[string]any) map[string]any {
	out := maps.Clone(base)
	if out == nil {
		out = make(map[string]any)
	}
	for k, v := range props {
		if v == nil {
			delete(out, k)
		} else {
			out[k] = v
		}
	}
	return out
}

func cloneVertex(v *Vertex) *Vertex {
	return &Vertex{
		ID:         v.ID,
		Class:      v.Class,
		Labels:     slices.Clone(v.Labels),
		Properties: maps.Clone(v.Properties),
	}
}
