// Package pipeline drives complete migration runs: mapping, schema write and
// the two import passes, once or periodically.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"relgraph/internal/config"
	"relgraph/internal/database/graph"
	"relgraph/internal/database/relational"
	"relgraph/internal/importer"
	"relgraph/internal/mapper"
	"relgraph/internal/model"
	"relgraph/internal/reconcile"
	"relgraph/internal/resources"
	"relgraph/internal/run"
)

// Observer receives progress events of a run. Methods may be called from
// several goroutines.
type Observer interface {
	StepChanged(step run.Step)
	EntityImported(entity string, rows int64)
}

// Runner orchestrates migrations: Source -> Mapper -> Writer -> Importer.
type Runner struct {
	cfg       config.Config
	source    relational.Source
	store     graph.Store
	log       *zap.Logger
	hierarchy *config.HierarchyDoc
	overlay   *config.Overlay
	observer  Observer
	interval  time.Duration

	runMu sync.Mutex // one migration at a time

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
	last    *Report
	current *run.State
}

// Option configures a Runner.
type Option func(*Runner)

// WithDocuments sets the hierarchy description and mapping overlay. Either
// may be nil.
func WithDocuments(hierarchy *config.HierarchyDoc, overlay *config.Overlay) Option {
	return func(r *Runner) {
		r.hierarchy = hierarchy
		r.overlay = overlay
	}
}

// WithObserver registers a progress observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithInterval overrides the periodic sync interval of the config.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) { r.interval = d }
}

// NewRunner creates a runner over an open source and destination.
func NewRunner(cfg config.Config, source relational.Source, store graph.Store, log *zap.Logger, opts ...Option) (*Runner, error) {
	if source == nil || store == nil {
		return nil, errors.New("source and store are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Runner{
		cfg:      cfg,
		source:   source,
		store:    store,
		log:      log,
		interval: cfg.SyncInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// LoadDocuments reads the hierarchy and overlay files named by cfg.
func LoadDocuments(cfg config.Config) (*config.HierarchyDoc, *config.Overlay, error) {
	var (
		hierarchy *config.HierarchyDoc
		overlay   *config.Overlay
		err       error
	)
	if cfg.HierarchyFile != "" {
		if hierarchy, err = config.LoadHierarchy(cfg.HierarchyFile); err != nil {
			return nil, nil, err
		}
	}
	if cfg.OverlayFile != "" {
		if overlay, err = config.LoadOverlay(cfg.OverlayFile); err != nil {
			return nil, nil, err
		}
	}
	return hierarchy, overlay, nil
}

// Start runs a migration immediately and then once per interval until Stop
// is called or ctx ends.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("runner already running")
	}
	if r.interval <= 0 {
		r.mu.Unlock()
		return errors.New("periodic sync needs a positive interval")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go r.loop(ctx)
	return nil
}

// Stop cancels the periodic loop and waits for a run in flight to end.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.running = false
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.syncOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.syncOnce(ctx)
		}
	}
}

func (r *Runner) syncOnce(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.log.Error("periodic sync failed", zap.Error(err))
	}
}

// Last returns the report of the most recent run, or nil.
func (r *Runner) Last() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Progress returns the step and counters of the run in flight, or of the
// most recent one. Before any run it reports StepIdle.
func (r *Runner) Progress() (run.Step, run.Snapshot) {
	r.mu.Lock()
	state := r.current
	r.mu.Unlock()
	if state == nil {
		return run.StepIdle, run.Snapshot{}
	}
	return state.Step(), state.Stats.Snapshot()
}

// Reset removes every vertex and edge from the destination.
func (r *Runner) Reset(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if err := r.store.Reset(ctx); err != nil {
		return &run.StoreCommunicationError{Op: "reset destination", Err: err}
	}
	r.log.Info("destination reset")
	return nil
}

// RunOnce executes one complete migration. The report is returned even when
// the run fails, describing how far it got.
func (r *Runner) RunOnce(ctx context.Context) (*Report, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	state := run.NewState(r.log)
	if r.observer != nil {
		state.OnStep(r.observer.StepChanged)
	}
	r.mu.Lock()
	r.current = state
	r.mu.Unlock()

	sampler, err := resources.NewSampler(ctx, 0)
	if err != nil {
		r.log.Warn("resource sampling unavailable", zap.Error(err))
	} else {
		sampler.Start(ctx)
	}

	rows := newRowCounter(r.observer)
	m, err := r.migrate(ctx, state, rows)

	var peak resources.Usage
	if sampler != nil {
		peak = sampler.Stop()
	}
	report := newReport(state, m, rows.snapshot(), peak, err)

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	if err != nil {
		r.log.Error("migration failed", zap.String("step", string(report.Step)), zap.Error(err))
		return report, err
	}
	r.log.Info("migration finished",
		zap.Duration("took", report.Duration),
		zap.Int64("vertices_created", report.Stats.VerticesCreated),
		zap.Int64("edges_created", report.Stats.EdgesCreated),
		zap.Int("warnings", len(report.Warnings)))
	return report, nil
}

func (r *Runner) migrate(ctx context.Context, state *run.State, rows *rowCounter) (*model.Model, error) {
	m, err := r.mapModel(ctx, state)
	if err != nil {
		return nil, err
	}
	if err := reconcile.NewWriter(r.store, state).Write(ctx, m); err != nil {
		return m, err
	}
	engine := importer.New(r.source, r.store, m, state,
		importer.WithWorkers(r.cfg.Workers),
		importer.WithEntityDone(rows.add))
	if err := engine.Run(ctx); err != nil {
		return m, err
	}
	state.SetStep(run.StepDone)
	return m, nil
}

func (r *Runner) mapModel(ctx context.Context, state *run.State) (*model.Model, error) {
	mp, err := mapper.New(r.source, state, mapper.OptionsFrom(r.cfg, r.hierarchy, r.overlay))
	if err != nil {
		return nil, fmt.Errorf("mapper: %w", err)
	}
	return mp.Map(ctx)
}

// Describe maps the source without writing anything and summarizes the
// resulting graph model.
func (r *Runner) Describe(ctx context.Context) (*ModelSummary, error) {
	m, err := r.mapModel(ctx, run.NewState(r.log))
	if err != nil {
		return nil, err
	}
	summary := Describe(m)
	return &summary, nil
}

// rowCounter collects per-entity row counts and forwards them.
type rowCounter struct {
	mu       sync.Mutex
	rows     map[string]int64
	observer Observer
}

func newRowCounter(o Observer) *rowCounter {
	return &rowCounter{rows: make(map[string]int64), observer: o}
}

func (c *rowCounter) add(entity string, n int64) {
	c.mu.Lock()
	c.rows[entity] += n
	c.mu.Unlock()
	if c.observer != nil {
		c.observer.EntityImported(entity, n)
	}
}

func (c *rowCounter) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.rows))
	for k, v := range c.rows {
		out[k] = v
	}
	return out
}
