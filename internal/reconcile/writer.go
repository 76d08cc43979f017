// Package reconcile writes the graph model's classes, properties and indexes
// to the destination, creating what is missing and reconciling what drifted.
package reconcile

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"relgraph/internal/database/graph"
	"relgraph/internal/model"
	"relgraph/internal/run"
	"relgraph/internal/schema"
)

// Writer reconciles a destination schema against a model.
type Writer struct {
	store graph.SchemaStore
	state *run.State
	log   *zap.Logger
}

// NewWriter creates a writer over store.
func NewWriter(store graph.SchemaStore, state *run.State) *Writer {
	return &Writer{store: store, state: state, log: state.Logger.Named("reconcile")}
}

// Write brings the destination schema in line with m. The hierarchy of every
// existing class is checked before anything is written.
func (w *Writer) Write(ctx context.Context, m *model.Model) error {
	w.state.SetStep(run.StepWriteSchema)

	types := ordered(m)
	existing, err := w.guard(ctx, m, types)
	if err != nil {
		return err
	}

	for _, t := range types {
		if info, ok := existing[t.Name]; ok {
			if err := w.reconcileClass(ctx, t, info); err != nil {
				return err
			}
			continue
		}
		if err := w.createClass(ctx, m, t); err != nil {
			return err
		}
	}

	for _, t := range m.Vertices() {
		if err := w.primaryKeyIndex(ctx, t); err != nil {
			return err
		}
	}
	if err := w.logicalIndexes(ctx, m); err != nil {
		return err
	}

	w.log.Info("schema written",
		zap.Int("classes", len(types)),
		zap.Int64("created", w.state.Stats.ClassesCreated.Load()),
		zap.Int64("indexes_built", w.state.Stats.IndexesBuilt.Load()))
	return nil
}

// ordered returns vertex types parents first, then edge types.
func ordered(m *model.Model) []*model.ElementType {
	vertices := m.Vertices()
	sort.SliceStable(vertices, func(i, j int) bool { return vertices[i].Level < vertices[j].Level })
	return append(vertices, m.Edges()...)
}

func parentName(m *model.Model, t *model.ElementType) string {
	if p := m.Get(t.Parent); p != nil {
		return p.Name
	}
	return ""
}

func kindOf(t *model.ElementType) graph.ClassKind {
	if t.Kind == model.Edge {
		return graph.KindEdge
	}
	return graph.KindVertex
}

// guard loads existing classes and fails on any superclass or kind mismatch.
func (w *Writer) guard(ctx context.Context, m *model.Model, types []*model.ElementType) (map[string]*graph.ClassInfo, error) {
	existing := make(map[string]*graph.ClassInfo)
	for _, t := range types {
		info, err := w.store.GetClass(ctx, t.Name)
		if errors.Is(err, graph.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, &run.StoreCommunicationError{Op: "read class " + t.Name, Err: err}
		}
		if modeled := parentName(m, t); info.Superclass != modeled {
			return nil, &run.HierarchyDriftError{Class: t.Name, Stored: info.Superclass, Modeled: modeled}
		}
		if info.Kind != "" && info.Kind != kindOf(t) {
			return nil, &run.SchemaInconsistencyError{
				Subject: t.Name,
				Message: "destination class is a " + string(info.Kind) + " class, modeled as " + string(kindOf(t)),
			}
		}
		existing[t.Name] = info
	}
	return existing, nil
}

func definition(p *model.Property) graph.PropertyDef {
	return graph.PropertyDef{
		Name:      p.Name,
		Type:      p.Type,
		Mandatory: p.Mandatory,
		ReadOnly:  p.ReadOnly,
		NotNull:   p.NotNull,
	}
}

func (w *Writer) createClass(ctx context.Context, m *model.Model, t *model.ElementType) error {
	def := graph.ClassDef{Name: t.Name, Kind: kindOf(t), Superclass: parentName(m, t)}
	if err := w.store.CreateClass(ctx, def); err != nil {
		return &run.StoreCommunicationError{Op: "create class " + t.Name, Err: err}
	}
	w.state.Stats.ClassesCreated.Add(1)

	for _, p := range t.Properties {
		if !p.Included {
			continue
		}
		if err := w.createProperty(ctx, t.Name, definition(p)); err != nil {
			return err
		}
	}
	w.log.Debug("class created", zap.String("class", t.Name), zap.String("superclass", def.Superclass))
	return nil
}

// reconcileClass adds missing properties, recreates changed ones and drops
// those no longer modeled or included.
func (w *Writer) reconcileClass(ctx context.Context, t *model.ElementType, info *graph.ClassInfo) error {
	desired := make(map[string]graph.PropertyDef)
	for _, p := range t.Properties {
		if p.Included {
			desired[p.Name] = definition(p)
		}
	}

	stored := make([]string, 0, len(info.Properties))
	for name := range info.Properties {
		stored = append(stored, name)
	}
	sort.Strings(stored)
	for _, name := range stored {
		want, ok := desired[name]
		if ok && want == info.Properties[name] {
			continue
		}
		if err := w.store.DropProperty(ctx, t.Name, name); err != nil {
			return &run.StoreCommunicationError{Op: "drop property " + t.Name + "." + name, Err: err}
		}
		w.state.Stats.PropertiesDropped.Add(1)
		if ok {
			w.log.Debug("property changed", zap.String("class", t.Name), zap.String("property", name))
			if err := w.createProperty(ctx, t.Name, want); err != nil {
				return err
			}
		}
	}

	for _, p := range t.Properties {
		if _, ok := info.Properties[p.Name]; ok || !p.Included {
			continue
		}
		if err := w.createProperty(ctx, t.Name, definition(p)); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) createProperty(ctx context.Context, class string, def graph.PropertyDef) error {
	if err := w.store.CreateProperty(ctx, class, def); err != nil {
		return &run.StoreCommunicationError{Op: "create property " + class + "." + def.Name, Err: err}
	}
	w.state.Stats.PropertiesCreated.Add(1)
	return nil
}

// primaryKeyIndex maintains the unique <Type>.pkey index over the vertex
// type's own key properties.
func (w *Writer) primaryKeyIndex(ctx context.Context, t *model.ElementType) error {
	key := t.KeyProperties()
	if len(key) == 0 {
		return nil
	}
	names := make([]string, len(key))
	for i, p := range key {
		names[i] = p.Name
	}
	return w.ensureIndex(ctx, graph.IndexDef{Name: t.Name + ".pkey", Class: t.Name, Properties: names, Unique: true})
}

// logicalIndexes adds non-unique indexes on both sides of every logical
// relationship, over the properties holding the joined columns.
func (w *Writer) logicalIndexes(ctx context.Context, m *model.Model) error {
	for _, e := range m.Schema.Entities {
		for _, r := range e.Out {
			if !r.Logical {
				continue
			}
			if _, ok := m.Binding(r); !ok {
				continue
			}
			sides := []struct {
				t       *model.ElementType
				entity  *schema.Entity
				columns []string
			}{
				{m.VertexOf(r.Child), r.Child, r.ForeignKeyNames()},
				{m.VertexOf(r.Parent), r.Parent, r.ParentKeyNames()},
			}
			for _, side := range sides {
				if side.t == nil {
					continue
				}
				var props []string
				for _, col := range side.columns {
					p := m.ColumnProperty(side.t, side.entity, col)
					if p == nil {
						w.log.Debug("logical relationship column has no property",
							zap.String("entity", side.entity.Name), zap.String("column", col))
						props = nil
						break
					}
					props = append(props, p.Name)
				}
				if len(props) == 0 || slices.Equal(props, keyNames(m, side.t)) {
					continue
				}
				def := graph.IndexDef{Name: side.t.Name + "." + strings.Join(props, "_"), Class: side.t.Name, Properties: props}
				if err := w.ensureIndex(ctx, def); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func keyNames(m *model.Model, t *model.ElementType) []string {
	var out []string
	for _, p := range m.KeyProperties(t) {
		out = append(out, p.Name)
	}
	return out
}

// ensureIndex creates def, or rebuilds an index of the same name that
// covers other properties.
func (w *Writer) ensureIndex(ctx context.Context, def graph.IndexDef) error {
	current, err := w.store.GetIndex(ctx, def.Name)
	switch {
	case errors.Is(err, graph.ErrNotFound):
	case err != nil:
		return &run.StoreCommunicationError{Op: "read index " + def.Name, Err: err}
	case current.Class == def.Class && current.Unique == def.Unique && slices.Equal(current.Properties, def.Properties):
		return nil
	default:
		w.log.Info("rebuilding index", zap.String("index", def.Name),
			zap.Strings("from", current.Properties), zap.Strings("to", def.Properties))
		if err := w.store.DropIndex(ctx, def.Name); err != nil {
			return &run.StoreCommunicationError{Op: "drop index " + def.Name, Err: err}
		}
	}
	if err := w.store.CreateIndex(ctx, def); err != nil {
		return &run.StoreCommunicationError{Op: "create index " + def.Name, Err: err}
	}
	w.state.Stats.IndexesBuilt.Add(1)
	return nil
}
