// Package mapper turns a relational catalog into a graph model: schema
// analysis, overlay logical relationships, model build and optional
// join-table aggregation.
package mapper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"relgraph/internal/config"
	"relgraph/internal/database/relational"
	"relgraph/internal/model"
	"relgraph/internal/naming"
	"relgraph/internal/run"
	"relgraph/internal/schema"
)

// Options select how the catalog is mapped.
type Options struct {
	Naming    string
	Aggregate bool
	Hierarchy *config.HierarchyDoc
	Overlay   *config.Overlay
	Include   []string
	Exclude   []string
}

// OptionsFrom derives mapping options from a run configuration and the
// already loaded hierarchy and overlay documents.
func OptionsFrom(cfg config.Config, hierarchy *config.HierarchyDoc, overlay *config.Overlay) Options {
	return Options{
		Naming:    cfg.Naming,
		Aggregate: cfg.Aggregate(),
		Hierarchy: hierarchy,
		Overlay:   overlay,
		Include:   cfg.Source.Include,
		Exclude:   cfg.Source.Exclude,
	}
}

// Mapper produces the schema and graph model of one run.
type Mapper struct {
	catalog  relational.Catalog
	state    *run.State
	opts     Options
	resolver naming.Resolver
}

// New validates the naming strategy and returns a mapper.
func New(catalog relational.Catalog, state *run.State, opts Options) (*Mapper, error) {
	resolver, err := naming.New(opts.Naming)
	if err != nil {
		return nil, err
	}
	return &Mapper{catalog: catalog, state: state, opts: opts, resolver: resolver}, nil
}

// Map runs analysis and model building. Nothing is written anywhere.
func (m *Mapper) Map(ctx context.Context) (*model.Model, error) {
	m.state.SetStep(run.StepAnalyze)
	analyzer := schema.NewAnalyzer(m.catalog, m.state,
		schema.WithHierarchy(m.opts.Hierarchy),
		schema.WithTableFilter(m.opts.Include, m.opts.Exclude))
	s, err := analyzer.Analyze(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.addLogicalRelationships(s); err != nil {
		return nil, err
	}

	m.state.SetStep(run.StepBuildModel)
	builder := model.NewBuilder(m.resolver, m.catalog.Driver(), m.opts.Overlay, m.state)
	gm, err := builder.Build(s)
	if err != nil {
		return nil, err
	}

	if m.opts.Aggregate {
		m.state.SetStep(run.StepAggregate)
		builder.Aggregate(gm)
	}
	m.state.Logger.Named("mapper").Info("mapping ready",
		zap.Int("vertex_types", len(gm.Vertices())),
		zap.Int("edge_types", len(gm.Edges())),
		zap.Int("aggregated_joins", len(gm.Joins)))
	return gm, nil
}

func (m *Mapper) addLogicalRelationships(s *schema.Schema) error {
	for _, em := range m.opts.Overlay.LogicalEdges() {
		child, parent := s.Entity(em.From), s.Entity(em.To)
		if child == nil || parent == nil {
			m.state.Warn(&run.MissingReferenceWarning{Entity: em.From, Target: em.To, Reason: "logical edge " + em.Name + " names a table that is not analyzed"})
			continue
		}
		if _, err := s.AddRelationship(fmt.Sprintf("logical:%s", em.Name), child, parent, em.Columns, em.ToColumns, true); err != nil {
			return err
		}
	}
	return nil
}
