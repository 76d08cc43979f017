package model

import (
	"strings"

	"go.uber.org/zap"

	"relgraph/internal/run"
	"relgraph/internal/schema"
)

// Aggregate replaces every join-table vertex type by one aggregator edge
// between the two vertex types the join table links. Non-key columns of the
// join table become edge properties.
func (b *Builder) Aggregate(m *Model) {
	log := b.state.Logger.Named("model")
	for _, e := range m.Schema.Entities {
		if !e.JoinTable || len(e.Out) != 2 {
			continue
		}
		v := m.VertexOf(e)
		if v == nil || !v.FromJoinTable {
			continue
		}
		if len(e.In) > 0 {
			log.Debug("join table is referenced, keeping vertex", zap.String("entity", e.Name))
			continue
		}

		em := b.overlay.EdgeForJoin(e.Name)
		outRel, inRel := e.Out[0], e.Out[1]
		switch {
		case em != nil && em.From != "" && strings.EqualFold(em.From, inRel.Parent.Name):
			outRel, inRel = inRel, outRel
		case em != nil && em.From != "" && strings.EqualFold(em.From, outRel.Parent.Name):
		case inRel.ForeignKey[0].Ordinal < outRel.ForeignKey[0].Ordinal:
			outRel, inRel = inRel, outRel
		}

		outV, inV := m.VertexOf(outRel.Parent), m.VertexOf(inRel.Parent)
		if outV == nil || inV == nil {
			b.state.Warn(&run.MissingReferenceWarning{Entity: e.Name, Target: outRel.Parent.Name + "/" + inRel.Parent.Name, Reason: "join endpoint has no vertex type"})
			continue
		}

		for _, r := range e.Out {
			unbind(m, r)
		}
		name := v.Name
		m.remove(v.Handle)
		if em != nil {
			name = em.Name
		}

		t := b.bindEdge(m, name, outV, inV)
		t.Aggregator = true
		for _, a := range e.Attributes {
			if isForeignKey(e, a) {
				continue
			}
			p := b.property(e, a)
			if t.Property(p.Name) != nil {
				continue
			}
			p.Ordinal = len(t.Properties) + 1
			t.Properties = append(t.Properties, p)
		}
		if em != nil {
			for _, ep := range em.Properties {
				addEdgeProperty(t, ep)
			}
		}

		m.Joins = append(m.Joins, &AggregatedJoin{Entity: e, Edge: t.Handle, OutRel: outRel, InRel: inRel})
		log.Debug("join table aggregated",
			zap.String("entity", e.Name),
			zap.String("edge", t.Name),
			zap.Int("relationships", t.RelationshipCount))
	}
}

// unbind detaches r from its edge type, deleting the edge when no
// relationship remains on any of its vertex pairs.
func unbind(m *Model, r *schema.Relationship) {
	bnd, ok := m.Binding(r)
	if !ok {
		return
	}
	delete(m.bindings, r)
	t := m.Get(bnd.Edge)
	child, parent := m.VertexOf(r.Child), m.VertexOf(r.Parent)
	if t == nil || child == nil || parent == nil {
		return
	}
	if bnd.Inverse {
		child, parent = parent, child
	}
	m.disconnect(t, child.Handle, parent.Handle)
}

func isForeignKey(e *schema.Entity, a *schema.Attribute) bool {
	for _, r := range e.Out {
		if containsAttr(r.ForeignKey, a) {
			return true
		}
	}
	return false
}
