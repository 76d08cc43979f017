package schema

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"relgraph/internal/config"
	"relgraph/internal/database/relational"
	"relgraph/internal/run"
)

// Analyzer reads source metadata and builds a Schema.
type Analyzer struct {
	catalog   relational.Catalog
	state     *run.State
	hierarchy *config.HierarchyDoc
	include   []string
	exclude   []string
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithHierarchy applies a hierarchy description after the flat schema is built.
func WithHierarchy(doc *config.HierarchyDoc) Option {
	return func(a *Analyzer) {
		a.hierarchy = doc
	}
}

// WithTableFilter restricts analysis to include (all tables when empty)
// minus exclude. Names match case-insensitively.
func WithTableFilter(include, exclude []string) Option {
	return func(a *Analyzer) {
		a.include = include
		a.exclude = exclude
	}
}

// NewAnalyzer creates an analyzer over catalog.
func NewAnalyzer(catalog relational.Catalog, state *run.State, opts ...Option) *Analyzer {
	a := &Analyzer{catalog: catalog, state: state}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Analyze builds the schema: entities and keys, then relationships, then
// inheritance, then join-table detection.
func (a *Analyzer) Analyze(ctx context.Context) (*Schema, error) {
	log := a.state.Logger.Named("analyzer")

	tables, err := a.catalog.ListEntities(ctx)
	if err != nil {
		return nil, &run.StoreCommunicationError{Op: "list entities", Err: err}
	}

	s := NewSchema()
	for _, t := range tables {
		if !a.selected(t.Name) {
			log.Debug("table filtered out", zap.String("table", t.String()))
			continue
		}
		e, err := a.entity(ctx, t)
		if err != nil {
			return nil, err
		}
		if err := s.Add(e); err != nil {
			return nil, err
		}
	}

	physical := append([]*Entity(nil), s.Entities...)
	for _, e := range physical {
		fks, err := a.catalog.ListForeignKeys(ctx, e.Ref())
		if err != nil {
			return nil, &run.StoreCommunicationError{Op: "list foreign keys of " + e.Name, Err: err}
		}
		for _, fk := range fks {
			parent := s.Entity(fk.RefTable)
			if parent == nil {
				a.state.Warn(&run.MissingReferenceWarning{Entity: e.Name, Target: fk.RefTable, Reason: "referenced table is not analyzed"})
				continue
			}
			if len(fk.Columns) != len(fk.RefColumns) {
				return nil, &run.SchemaInconsistencyError{
					Subject: e.Name,
					Message: fmt.Sprintf("foreign key %s has %d columns but references %d", fk.Name, len(fk.Columns), len(fk.RefColumns)),
				}
			}
			if _, err := s.AddRelationship(fk.Name, e, parent, fk.Columns, fk.RefColumns, false); err != nil {
				return nil, err
			}
		}
	}

	if a.hierarchy != nil {
		for i, h := range a.hierarchy.Hierarchies {
			if err := a.applyHierarchy(s, i, h); err != nil {
				return nil, err
			}
		}
	}

	joins := 0
	for _, e := range s.Entities {
		e.JoinTable = isJoinTable(e)
		if e.JoinTable {
			joins++
		}
	}

	log.Info("schema analyzed",
		zap.Int("entities", len(s.Entities)),
		zap.Int("hierarchies", len(s.Bags)),
		zap.Int("join_tables", joins))
	return s, nil
}

func (a *Analyzer) entity(ctx context.Context, t relational.TableRef) (*Entity, error) {
	cols, err := a.catalog.ListAttributes(ctx, t)
	if err != nil {
		return nil, &run.StoreCommunicationError{Op: "list attributes of " + t.Name, Err: err}
	}
	pkCols, err := a.catalog.ListPrimaryKey(ctx, t)
	if err != nil {
		return nil, &run.StoreCommunicationError{Op: "list primary key of " + t.Name, Err: err}
	}

	e := &Entity{Name: t.Name, SchemaName: t.Schema, Table: t.Name, Physical: true, PrimaryKey: &PrimaryKey{}}
	for _, c := range cols {
		e.Attributes = append(e.Attributes, &Attribute{Name: c.Name, Ordinal: c.Ordinal, Type: c.Type, Nullable: c.Nullable})
	}
	for _, name := range pkCols {
		attr := e.Attribute(name)
		if attr == nil {
			return nil, &run.SchemaInconsistencyError{Subject: t.Name, Message: "primary key names unknown column " + name}
		}
		e.PrimaryKey.Attributes = append(e.PrimaryKey.Attributes, attr)
	}
	return e, nil
}

func (a *Analyzer) selected(table string) bool {
	if len(a.include) > 0 && !containsFold(a.include, table) {
		return false
	}
	return !containsFold(a.exclude, table)
}

// isJoinTable reports whether e has exactly two outgoing relationships whose
// foreign-key columns together make up its primary key.
func isJoinTable(e *Entity) bool {
	if e.Bag != nil || !e.Physical || len(e.Out) != 2 || e.PrimaryKey == nil || len(e.PrimaryKey.Attributes) == 0 {
		return false
	}
	fk := make(map[string]bool)
	for _, r := range e.Out {
		if r.Logical {
			return false
		}
		for _, attr := range r.ForeignKey {
			fk[strings.ToLower(attr.Name)] = true
		}
	}
	if len(fk) != len(e.PrimaryKey.Attributes) {
		return false
	}
	for _, attr := range e.PrimaryKey.Attributes {
		if !fk[strings.ToLower(attr.Name)] {
			return false
		}
	}
	return true
}

func containsFold(list []string, s string) bool {
	for _, x := range list {
		if strings.EqualFold(x, s) {
			return true
		}
	}
	return false
}
