// Package mcpserver exposes migrations and the destination graph as MCP tools
// over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"relgraph/internal/database/graph"
	"relgraph/internal/pipeline"
	"relgraph/internal/run"
)

const (
	defaultRowLimit = 100
	maxRowLimit     = 1000
)

// Migrator is the part of the pipeline runner the server drives.
type Migrator interface {
	RunOnce(ctx context.Context) (*pipeline.Report, error)
	Describe(ctx context.Context) (*pipeline.ModelSummary, error)
	Reset(ctx context.Context) error
	Last() *pipeline.Report
}

// Counter reports per-class instance counts of the destination.
type Counter interface {
	CountByClass(ctx context.Context) (map[string]int64, error)
}

// Server wraps the MCP server with migration capabilities.
type Server struct {
	mcpServer *mcp.Server
	migrator  Migrator
	counter   Counter
	querier   graph.Querier // nil when the destination has no query language
	log       *zap.Logger
}

// Config holds configuration for the MCP server.
type Config struct {
	ServerName    string
	ServerVersion string
}

// NewServer creates a server over a runner and its destination store.
func NewServer(cfg Config, migrator Migrator, store graph.Store, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	impl := &mcp.Implementation{Name: cfg.ServerName, Version: cfg.ServerVersion}
	s := &Server{
		mcpServer: mcp.NewServer(impl, nil),
		migrator:  migrator,
		counter:   store,
		log:       log.Named("mcp"),
	}
	if q, ok := store.(graph.Querier); ok {
		s.querier = q
	}
	s.registerTools()
	return s
}

// DescribeArgs defines the input for describe_graph_model.
type DescribeArgs struct{}

// RunMigrationArgs defines the input for run_migration.
type RunMigrationArgs struct {
	Reset bool `json:"reset,omitempty" jsonschema:"delete all vertices and edges before importing"`
}

// LastReportArgs defines the input for last_report.
type LastReportArgs struct{}

// CountsArgs defines the input for count_classes.
type CountsArgs struct{}

// CountsResult maps class names to instance counts.
type CountsResult struct {
	Counts map[string]int64 `json:"counts" jsonschema:"instances per vertex or edge class"`
}

// ReportResult is a migration report flattened for tool output.
type ReportResult struct {
	RunID      string                 `json:"run_id"`
	Started    string                 `json:"started" jsonschema:"RFC 3339 start time"`
	DurationMS int64                  `json:"duration_ms"`
	Step       string                 `json:"step" jsonschema:"last pipeline step reached"`
	Stats      run.Snapshot           `json:"stats"`
	Entities   []pipeline.EntityRows  `json:"entities,omitempty" jsonschema:"rows read per source table"`
	Warnings   []string               `json:"warnings,omitempty" jsonschema:"recovered problems"`
	PeakRSS    uint64                 `json:"peak_rss_bytes,omitempty"`
	Model      *pipeline.ModelSummary `json:"model,omitempty"`
	Error      string                 `json:"error,omitempty"`
}

func toResult(r *pipeline.Report) ReportResult {
	return ReportResult{
		RunID:      r.RunID,
		Started:    r.Started.Format(time.RFC3339),
		DurationMS: r.Duration.Milliseconds(),
		Step:       string(r.Step),
		Stats:      r.Stats,
		Entities:   r.Entities,
		Warnings:   r.Warnings,
		PeakRSS:    r.Peak.RSS,
		Model:      r.Model,
		Error:      r.Error,
	}
}

// QueryGraphArgs defines the input for query_graph.
type QueryGraphArgs struct {
	Cypher string         `json:"cypher" jsonschema:"read-only Cypher query to execute"`
	Params map[string]any `json:"params,omitempty" jsonschema:"query parameters"`
	Limit  int            `json:"limit,omitempty" jsonschema:"maximum number of rows returned"`
}

// QueryGraphResult wraps graph query results.
type QueryGraphResult struct {
	Rows      []map[string]any `json:"rows" jsonschema:"query results"`
	Truncated bool             `json:"truncated,omitempty"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "describe_graph_model",
		Description: "Analyze the source database and return the graph model it maps to: vertex types with their keys, properties and superclasses, and edge types with their endpoints. Nothing is written.",
	}, s.handleDescribe)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "run_migration",
		Description: "Run one complete migration from the source database into the graph. Re-running is incremental: unchanged rows cause no writes. Returns counters, per-table row counts and recovered warnings.",
	}, s.handleRunMigration)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "last_report",
		Description: "Return the report of the most recent migration run, if any.",
	}, s.handleLastReport)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "count_classes",
		Description: "Count vertices and edges per class in the destination graph. A vertex counts once for its class and once for each superclass.",
	}, s.handleCounts)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "query_graph",
		Description: "Execute a read-only Cypher query against the destination graph. Only available when the destination is Neo4j.",
	}, s.handleQueryGraph)
}

func (s *Server) handleDescribe(ctx context.Context, _ *mcp.CallToolRequest, _ DescribeArgs) (*mcp.CallToolResult, *pipeline.ModelSummary, error) {
	summary, err := s.migrator.Describe(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("describe failed: %w", err)
	}
	return nil, summary, nil
}

func (s *Server) handleRunMigration(ctx context.Context, _ *mcp.CallToolRequest, args RunMigrationArgs) (*mcp.CallToolResult, ReportResult, error) {
	if args.Reset {
		if err := s.migrator.Reset(ctx); err != nil {
			return nil, ReportResult{}, fmt.Errorf("reset failed: %w", err)
		}
	}
	report, err := s.migrator.RunOnce(ctx)
	if err != nil {
		s.log.Error("migration via mcp failed", zap.Error(err))
		return nil, ReportResult{}, fmt.Errorf("migration failed at %s: %w", report.Step, err)
	}
	return nil, toResult(report), nil
}

func (s *Server) handleLastReport(_ context.Context, _ *mcp.CallToolRequest, _ LastReportArgs) (*mcp.CallToolResult, ReportResult, error) {
	report := s.migrator.Last()
	if report == nil {
		return nil, ReportResult{}, errors.New("no migration has run yet")
	}
	return nil, toResult(report), nil
}

func (s *Server) handleCounts(ctx context.Context, _ *mcp.CallToolRequest, _ CountsArgs) (*mcp.CallToolResult, CountsResult, error) {
	counts, err := s.counter.CountByClass(ctx)
	if err != nil {
		return nil, CountsResult{}, fmt.Errorf("count failed: %w", err)
	}
	return nil, CountsResult{Counts: counts}, nil
}

func (s *Server) handleQueryGraph(ctx context.Context, _ *mcp.CallToolRequest, args QueryGraphArgs) (*mcp.CallToolResult, QueryGraphResult, error) {
	if s.querier == nil {
		return nil, QueryGraphResult{}, errors.New("destination does not support queries")
	}
	if args.Cypher == "" {
		return nil, QueryGraphResult{}, errors.New("cypher is required")
	}
	rows, err := s.querier.Query(ctx, args.Cypher, args.Params)
	if err != nil {
		return nil, QueryGraphResult{}, fmt.Errorf("cypher query failed: %w", err)
	}

	limit := clampLimit(args.Limit)
	res := QueryGraphResult{Rows: rows}
	if len(rows) > limit {
		res.Rows, res.Truncated = rows[:limit], true
	}
	return nil, res, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultRowLimit
	case n > maxRowLimit:
		return maxRowLimit
	default:
		return n
	}
}

// Start serves MCP over stdio until ctx ends or the client disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("serving mcp on stdio")
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
