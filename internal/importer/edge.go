package importer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"relgraph/internal/database/relational"
	"relgraph/internal/model"
	"relgraph/internal/run"
	"relgraph/internal/typemap"
)

// walk upserts the vertex reached through ep and the edge connecting it to
// the row's vertex.
func (e *Engine) walk(ctx context.Context, ep *edgePlan, id string, row relational.Row) error {
	far, err := e.reach(ctx, ep, row, true)
	if err != nil || far == "" {
		return err
	}
	from, to := id, far
	if ep.inverse {
		from, to = far, id
	}
	return e.upsertEdge(ctx, ep.edge, from, to, nil)
}

// upsertEdge creates the edge from -> to unless one with the same label
// already ends at to. An existing edge gets its properties refreshed when
// they differ.
func (e *Engine) upsertEdge(ctx context.Context, t *model.ElementType, from, to string, props map[string]any) error {
	unlock := e.locks.lock("edge\x00" + t.Name + "\x00" + from)
	defer unlock()

	edges, err := e.store.OutEdges(ctx, from, t.Name)
	if err != nil {
		return storeError("read edges "+t.Name, err)
	}
	for _, existing := range edges {
		if existing.To != to {
			continue
		}
		if !changed(existing.Properties, props, edgePropType(t)) {
			e.state.Stats.EdgesDeduped.Add(1)
			return nil
		}
		if err := e.store.SetEdgeProperties(ctx, existing.ID, props); err != nil {
			return storeError("update edge "+t.Name, err)
		}
		e.state.Stats.EdgesUpdated.Add(1)
		return nil
	}

	if _, err := e.store.CreateEdge(ctx, t.Name, from, to, compactProps(props)); err != nil {
		return storeError("create edge "+t.Name, err)
	}
	e.state.Stats.EdgesCreated.Add(1)
	return nil
}

func edgePropType(t *model.ElementType) func(string) typemap.Type {
	return func(name string) typemap.Type {
		if p := t.Property(name); p != nil {
			return p.Type
		}
		return typemap.String
	}
}

func compactProps(props map[string]any) map[string]any {
	if len(props) == 0 {
		return nil
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			out[k] = v
		}
	}
	return out
}

func rowError(ep *edgePlan, row relational.Row, col string, err error) error {
	key := make(map[string]any, len(ep.columns))
	for _, c := range ep.columns {
		key[c.name], _ = row.Value(c.key())
	}
	return &run.RowExtractionError{Entity: ep.rel.Child.Name, Key: key, Column: col, Err: err}
}

// joinPlan turns rows of an aggregated join table into aggregator edges.
type joinPlan struct {
	join  *model.AggregatedJoin
	edge  *model.ElementType
	out   *edgePlan
	in    *edgePlan
	props []column
	query relational.RowQuery
}

func (e *Engine) planJoin(j *model.AggregatedJoin) *joinPlan {
	m := e.model
	edge := m.Get(j.Edge)
	outV, inV := m.VertexOf(j.OutRel.Parent), m.VertexOf(j.InRel.Parent)
	if edge == nil || outV == nil || inV == nil {
		return nil
	}
	out, ok := e.reachPlan(j.OutRel, outV)
	if !ok {
		return nil
	}
	in, ok := e.reachPlan(j.InRel, inV)
	if !ok {
		return nil
	}

	jp := &joinPlan{join: j, edge: edge, out: out, in: in, query: relational.RowQuery{Table: j.Entity.Ref()}}
	for _, p := range edge.Properties {
		if p.Included && p.Column != "" && p.Entity == j.Entity.Name {
			jp.props = append(jp.props, column{name: p.Column, prop: p})
		}
	}
	for _, cols := range [][]column{out.columns, in.columns, jp.props} {
		for _, c := range cols {
			jp.query.Columns = appendColumn(jp.query.Columns, c.name)
		}
	}
	return jp
}

func (e *Engine) importJoin(ctx context.Context, jp *joinPlan) error {
	start := time.Now()
	name := jp.join.Entity.Name
	var rows int64
	err := e.source.StreamRows(ctx, jp.query, func(row relational.Row) error {
		rows++
		e.state.Stats.RowsRead.Add(1)
		err := e.importJoinRow(ctx, jp, row)
		if err != nil && recoverable(err) {
			e.state.Stats.RowsSkipped.Add(1)
			e.skip(err, row)
			return nil
		}
		return err
	})
	if err != nil {
		return sourceError(jp.query.Table, err)
	}

	e.log.Info("join table imported",
		zap.String("entity", name),
		zap.String("edge", jp.edge.Name),
		zap.Int64("rows", rows),
		zap.Duration("took", time.Since(start)))
	if e.onEntity != nil {
		e.onEntity(name, rows)
	}
	return nil
}

func (e *Engine) importJoinRow(ctx context.Context, jp *joinPlan, row relational.Row) error {
	props := make(map[string]any, len(jp.props))
	for _, c := range jp.props {
		v, err := c.extract(row)
		if err != nil {
			return rowError(jp.out, row, c.name, err)
		}
		props[c.prop.Name] = v
	}

	from, err := e.endpoint(ctx, jp.out, row)
	if err != nil || from == "" {
		return err
	}
	to, err := e.endpoint(ctx, jp.in, row)
	if err != nil || to == "" {
		return err
	}
	return e.upsertEdge(ctx, jp.edge, from, to, props)
}

// endpoint resolves an existing aggregator edge endpoint. Pass one created
// every vertex a join row may name, so absence is a row problem.
func (e *Engine) endpoint(ctx context.Context, ep *edgePlan, row relational.Row) (string, error) {
	id, err := e.reach(ctx, ep, row, false)
	if errors.Is(err, errMissing) {
		return "", rowError(ep, row, "", err)
	}
	return id, err
}
