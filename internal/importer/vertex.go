package importer

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"relgraph/internal/database/graph"
	"relgraph/internal/database/relational"
	"relgraph/internal/model"
	"relgraph/internal/typemap"
)

// upsertVertex writes the row's vertex and returns its id.
//
// An absent vertex is created with every extracted value. A stub holding
// only its key is filled in. Otherwise the extracted values are compared
// with the stored ones and written back only when any of them differ.
func (e *Engine) upsertVertex(ctx context.Context, p *vertexPlan, row relational.Row) (string, error) {
	key, props, err := p.extract(row)
	if err != nil {
		return "", err
	}
	names := p.keyNames()

	unlock := e.locks.lock(vertexKey(p.owner.Name, key))
	defer unlock()

	found, err := e.find(ctx, p.owner.Name, names, key)
	if err != nil {
		return "", err
	}
	if found == nil {
		v, err := e.store.CreateVertex(ctx, p.vertex.Name, withKey(names, key, props))
		if err == nil {
			e.state.Stats.VerticesCreated.Add(1)
			return v.ID, nil
		}
		if !errors.Is(err, graph.ErrDuplicateKey) {
			return "", storeError("create vertex "+p.vertex.Name, err)
		}
		// Created concurrently by a writer outside this process.
		if found, err = e.find(ctx, p.owner.Name, names, key); err != nil {
			return "", err
		}
		if found == nil {
			return "", storeError("create vertex "+p.vertex.Name, graph.ErrDuplicateKey)
		}
	}

	if err := e.upgrade(ctx, found, p.vertex); err != nil {
		return "", err
	}
	return found.ID, e.refresh(ctx, p, found, names, props)
}

// find looks a vertex up by key, returning nil when there is none.
func (e *Engine) find(ctx context.Context, class string, names []string, values []any) (*graph.Vertex, error) {
	v, err := e.store.FindVertexByKey(ctx, class, names, values)
	if errors.Is(err, graph.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("find vertex "+class, err)
	}
	return v, nil
}

// upgrade moves v down to t when v is stored as one of t's ancestors. A
// vertex already stored as t or one of its subclasses keeps its class.
func (e *Engine) upgrade(ctx context.Context, v *graph.Vertex, t *model.ElementType) error {
	if v.Class == t.Name {
		return nil
	}
	current := e.model.Element(v.Class)
	if current == nil || !e.model.IsA(t, current) {
		return nil
	}
	if err := e.store.SetClass(ctx, v.ID, t.Name); err != nil {
		return storeError("set class "+t.Name, err)
	}
	e.log.Debug("vertex class refined", zap.String("id", v.ID), zap.String("from", v.Class), zap.String("to", t.Name))
	v.Class = t.Name
	return nil
}

func (e *Engine) refresh(ctx context.Context, p *vertexPlan, v *graph.Vertex, names []string, props map[string]any) error {
	if isStub(v, names) {
		fill := make(map[string]any, len(props))
		for k, val := range props {
			if val != nil {
				fill[k] = val
			}
		}
		if len(fill) == 0 {
			e.state.Stats.WritesAvoided.Add(1)
			return nil
		}
		if err := e.store.SetProperties(ctx, v.ID, fill); err != nil {
			return storeError("complete vertex "+p.vertex.Name, err)
		}
		e.state.Stats.StubsCompleted.Add(1)
		return nil
	}

	if !changed(v.Properties, props, p.propType) {
		e.state.Stats.WritesAvoided.Add(1)
		return nil
	}
	if err := e.store.SetProperties(ctx, v.ID, props); err != nil {
		return storeError("update vertex "+p.vertex.Name, err)
	}
	e.state.Stats.VerticesUpdated.Add(1)
	return nil
}

// changed reports whether any value in fresh differs from stored under its
// property type. A missing stored value equals a fresh nil.
func changed(stored, fresh map[string]any, typeOf func(string) typemap.Type) bool {
	for name, val := range fresh {
		old, ok := stored[name]
		if !ok {
			if val != nil {
				return true
			}
			continue
		}
		if !typemap.Equal(typeOf(name), old, val) {
			return true
		}
	}
	return false
}

// isStub reports whether v holds nothing but its key.
func isStub(v *graph.Vertex, names []string) bool {
	for k := range v.Properties {
		found := false
		for _, n := range names {
			if k == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func withKey(names []string, key []any, props map[string]any) map[string]any {
	out := make(map[string]any, len(names)+len(props))
	for k, v := range props {
		if v != nil {
			out[k] = v
		}
	}
	for i, n := range names {
		out[n] = key[i]
	}
	return out
}

// reach resolves the vertex a relationship points to from row. It returns
// "" with no error when a foreign-key component is null. When create is set
// and the key is known, an absent vertex is stubbed with its key only;
// otherwise absence is errMissing.
func (e *Engine) reach(ctx context.Context, ep *edgePlan, row relational.Row, create bool) (string, error) {
	values := make([]any, len(ep.columns))
	for i, c := range ep.columns {
		v, err := c.extract(row)
		if err != nil {
			return "", rowError(ep, row, c.name, err)
		}
		if v == nil {
			return "", nil
		}
		values[i] = v
	}
	names := ep.names()

	if ep.keyed {
		unlock := e.locks.lock(vertexKey(ep.lookup.Name, values))
		defer unlock()
	}
	found, err := e.find(ctx, ep.lookup.Name, names, values)
	if err != nil {
		return "", err
	}
	if found != nil {
		return found.ID, nil
	}
	if !create || !ep.keyed {
		return "", errMissing
	}

	v, err := e.store.CreateVertex(ctx, ep.target.Name, withKey(names, values, nil))
	switch {
	case err == nil:
		e.state.Stats.StubsCreated.Add(1)
		return v.ID, nil
	case errors.Is(err, graph.ErrDuplicateKey):
		found, err := e.find(ctx, ep.lookup.Name, names, values)
		if err != nil {
			return "", err
		}
		if found != nil {
			return found.ID, nil
		}
	}
	return "", storeError("create vertex "+ep.target.Name, err)
}
