// Package importer streams source rows into the destination graph. Vertices
// and edges are upserted, so repeated runs over an unchanged source converge
// without duplicates or needless writes.
package importer

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"relgraph/internal/config"
	"relgraph/internal/database/graph"
	"relgraph/internal/database/relational"
	"relgraph/internal/model"
	"relgraph/internal/run"
	"relgraph/internal/schema"
)

const defaultWorkers = 4

// Engine imports rows in two passes: entities first, then aggregated join
// tables, whose edges need both endpoints to exist.
type Engine struct {
	source  relational.Source
	store   graph.DataStore
	model   *model.Model
	state   *run.State
	log     *zap.Logger
	workers int
	locks   keyLock

	onEntity func(entity string, rows int64)
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers bounds the number of entities imported in parallel.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithEntityDone registers a callback invoked after each entity stream
// completes with the number of rows read.
func WithEntityDone(fn func(entity string, rows int64)) Option {
	return func(e *Engine) { e.onEntity = fn }
}

// New creates an import engine.
func New(source relational.Source, store graph.DataStore, m *model.Model, state *run.State, opts ...Option) *Engine {
	e := &Engine{
		source:  source,
		store:   store,
		model:   m,
		state:   state,
		log:     state.Logger.Named("importer"),
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes both passes. Only fatal errors are returned; row-level
// problems are recorded as warnings on the run state.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.passOne(ctx); err != nil {
		return err
	}
	return e.passTwo(ctx)
}

func (e *Engine) passOne(ctx context.Context) error {
	e.state.SetStep(run.StepImportPass1)

	aggregated := make(map[*schema.Entity]bool, len(e.model.Joins))
	for _, j := range e.model.Joins {
		aggregated[j.Entity] = true
	}

	var units []*unit
	for _, ent := range e.model.Schema.Entities {
		if aggregated[ent] || (ent.Pattern() == config.SingleTable && ent.Parent != nil) {
			continue
		}
		if u := e.planUnit(ent); u != nil {
			units = append(units, u)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, u := range units {
		g.Go(func() error { return e.importUnit(gctx, u) })
	}
	return g.Wait()
}

func (e *Engine) passTwo(ctx context.Context) error {
	e.state.SetStep(run.StepImportPass2)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, j := range e.model.Joins {
		jp := e.planJoin(j)
		if jp == nil {
			continue
		}
		g.Go(func() error { return e.importJoin(gctx, jp) })
	}
	return g.Wait()
}

func (e *Engine) importUnit(ctx context.Context, u *unit) error {
	start := time.Now()
	var rows int64
	err := e.source.StreamRows(ctx, u.query, func(row relational.Row) error {
		rows++
		e.state.Stats.RowsRead.Add(1)
		return e.importRow(ctx, u.classify(row), row)
	})
	if err != nil {
		return sourceError(u.query.Table, err)
	}

	e.log.Info("entity imported",
		zap.String("entity", u.name),
		zap.Int64("rows", rows),
		zap.Duration("took", time.Since(start)))
	if e.onEntity != nil {
		e.onEntity(u.name, rows)
	}
	return nil
}

// importRow upserts the row's vertex, then the vertices and edges its
// foreign keys reach.
func (e *Engine) importRow(ctx context.Context, p *vertexPlan, row relational.Row) error {
	id, err := e.upsertVertex(ctx, p, row)
	if err != nil {
		if recoverable(err) {
			e.state.Stats.RowsSkipped.Add(1)
			e.skip(err, row)
			return nil
		}
		return err
	}

	for _, ep := range p.edges {
		err := e.walk(ctx, ep, id, row)
		if err == nil {
			continue
		}
		if !recoverable(err) {
			return err
		}
		if errors.Is(err, errMissing) {
			e.log.Debug("reached vertex not found",
				zap.String("relationship", ep.rel.Name),
				zap.Any("key", p.rowKey(row)))
			continue
		}
		e.skip(err, row)
	}
	return nil
}

// skip records a row that could not be imported. The warning carries the
// whole row so the log alone is enough to find it in the source.
func (e *Engine) skip(err error, row relational.Row) {
	e.state.Warn(err, zap.String("component", "importer"), zap.Any("row", map[string]any(row)))
}

func recoverable(err error) bool {
	var rxe *run.RowExtractionError
	return errors.As(err, &rxe) || errors.Is(err, errMissing)
}

func sourceError(table relational.TableRef, err error) error {
	if run.IsFatal(err) {
		return err
	}
	return &run.StoreCommunicationError{Op: "read " + table.String(), Err: err}
}

func storeError(op string, err error) error {
	return &run.StoreCommunicationError{Op: op, Err: err}
}
