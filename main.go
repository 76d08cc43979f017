package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"relgraph/internal/config"
	"relgraph/internal/database/graph"
	"relgraph/internal/database/relational"
	"relgraph/internal/mcpserver"
	"relgraph/internal/output"
	"relgraph/internal/pipeline"
	"relgraph/ui/console"
	"relgraph/ui/tui"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "relgraph: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "relgraph",
		Usage:   "migrate a relational database into a property graph",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML config file", Sources: cli.EnvVars("RELGRAPH_CONFIG")},
			&cli.StringSliceFlag{Name: "env-file", Usage: ".env files to load", Value: []string{".env"}},
			&cli.StringFlag{Name: "driver", Usage: "source driver: postgres, mysql, sqlite or duckdb"},
			&cli.StringFlag{Name: "dsn", Usage: "source connection string"},
			&cli.StringFlag{Name: "schema", Usage: "source schema"},
			&cli.StringSliceFlag{Name: "include", Usage: "only analyze these tables"},
			&cli.StringSliceFlag{Name: "exclude", Usage: "skip these tables"},
			&cli.StringFlag{Name: "dest", Usage: "destination: neo4j or memory"},
			&cli.StringFlag{Name: "neo4j-uri", Usage: "Neo4j bolt URI"},
			&cli.StringFlag{Name: "neo4j-user", Usage: "Neo4j user"},
			&cli.StringFlag{Name: "neo4j-password", Usage: "Neo4j password"},
			&cli.StringFlag{Name: "naming", Usage: "name transformer: original, java or capitalize"},
			&cli.StringFlag{Name: "strategy", Usage: "mapping strategy: naive or naive-aggregate"},
			&cli.StringFlag{Name: "hierarchy", Usage: "hierarchy description file"},
			&cli.StringFlag{Name: "overlay", Usage: "mapping overlay file"},
			&cli.IntFlag{Name: "workers", Usage: "parallel table imports"},
			&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
			&cli.StringFlag{Name: "log-file", Usage: "write logs to this file instead of stderr"},
		},
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "map the source, write the graph schema and import all rows",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "tui", Usage: "show the interactive monitor"},
					&cli.BoolFlag{Name: "reset", Usage: "delete all vertices and edges first"},
					&cli.BoolFlag{Name: "watch", Usage: "keep re-syncing every sync interval"},
					&cli.DurationFlag{Name: "interval", Usage: "sync interval for --watch"},
					&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
				},
				Action: migrateAction,
			},
			{
				Name:  "describe",
				Usage: "print the graph model without writing anything",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the model as JSON"},
				},
				Action: describeAction,
			},
			{
				Name:   "mcp",
				Usage:  "serve migration tools over MCP on stdio",
				Action: mcpAction,
			},
		},
	}
}

// app holds everything a command needs. close releases it in reverse order.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	source *relational.SQLSource
	store  graph.Store
	runner *pipeline.Runner
}

func (a *app) close(ctx context.Context) {
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.Warn("close destination", zap.Error(err))
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			a.log.Warn("close source", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	if err := config.LoadDotEnv(cmd.StringSlice("env-file")...); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cfg, err
	}

	strs := map[string]*string{
		"driver":         &cfg.Source.Driver,
		"dsn":            &cfg.Source.DSN,
		"schema":         &cfg.Source.Schema,
		"dest":           &cfg.Destination.Kind,
		"neo4j-uri":      &cfg.Destination.URI,
		"neo4j-user":     &cfg.Destination.Username,
		"neo4j-password": &cfg.Destination.Password,
		"naming":         &cfg.Naming,
		"strategy":       &cfg.Strategy,
		"hierarchy":      &cfg.HierarchyFile,
		"overlay":        &cfg.OverlayFile,
		"log-level":      &cfg.LogLevel,
	}
	for name, dst := range strs {
		if cmd.IsSet(name) {
			*dst = cmd.String(name)
		}
	}
	if cmd.IsSet("include") {
		cfg.Source.Include = cmd.StringSlice("include")
	}
	if cmd.IsSet("exclude") {
		cfg.Source.Exclude = cmd.StringSlice("exclude")
	}
	if cmd.IsSet("workers") {
		cfg.Workers = cmd.Int("workers")
	}
	if cmd.IsSet("interval") {
		cfg.SyncInterval = cmd.Duration("interval")
	}
	return cfg, cfg.Validate()
}

func newLogger(level, file string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, &config.ConfigError{Field: "logLevel", Message: err.Error()}
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	if file != "" {
		zc.OutputPaths = []string{file}
		zc.ErrorOutputPaths = []string{file}
	}
	return zc.Build()
}

func setup(ctx context.Context, cmd *cli.Command, logFile string, opts ...pipeline.Option) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cmd.IsSet("log-file") {
		logFile = cmd.String("log-file")
	}
	log, err := newLogger(cfg.LogLevel, logFile)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	a.source, err = relational.Open(ctx, cfg.Source.Driver, cfg.Source.DSN, cfg.Source.Schema)
	if err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("open source: %w", err)
	}

	switch cfg.Destination.Kind {
	case config.DestinationNeo4j:
		a.store, err = graph.NewNeo4jStore(ctx, cfg.Destination, log)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("open destination: %w", err)
		}
	default:
		a.store = graph.NewMemoryStore()
	}

	hierarchy, overlay, err := pipeline.LoadDocuments(cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	opts = append([]pipeline.Option{pipeline.WithDocuments(hierarchy, overlay)}, opts...)
	a.runner, err = pipeline.NewRunner(cfg, a.source, a.store, log, opts...)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	log.Info("relgraph ready",
		zap.String("version", version),
		zap.String("source", cfg.Source.Driver),
		zap.String("destination", cfg.Destination.Kind),
		zap.String("strategy", cfg.Strategy))
	return a, nil
}

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	var (
		observer *tui.Observer
		opts     []pipeline.Option
		logFile  string
	)
	if cmd.Bool("tui") {
		observer = tui.NewObserver()
		opts = append(opts, pipeline.WithObserver(observer))
		logFile = "relgraph.log"
	}
	a, err := setup(ctx, cmd, logFile, opts...)
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	if cmd.Bool("reset") {
		if err := a.runner.Reset(ctx); err != nil {
			return err
		}
	}

	if cmd.Bool("watch") {
		if err := a.runner.Start(ctx); err != nil {
			return err
		}
		a.log.Info("watching source", zap.Duration("interval", a.cfg.SyncInterval))
		<-ctx.Done()
		a.runner.Stop()
		if last := a.runner.Last(); last != nil {
			return printReport(cmd, last)
		}
		return nil
	}

	var report *pipeline.Report
	if observer != nil {
		report, err = tui.Start(ctx, a.runner, observer)
	} else {
		report, err = a.runner.RunOnce(ctx)
	}
	if report != nil {
		if perr := printReport(cmd, report); perr != nil {
			return errors.Join(err, perr)
		}
	}
	return err
}

func printReport(cmd *cli.Command, report *pipeline.Report) error {
	if cmd.Bool("json") {
		return writeJSON(report)
	}
	console.Print(os.Stdout, output.BuildReportView(report))
	return nil
}

func describeAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	summary, err := a.runner.Describe(ctx)
	if err != nil {
		return err
	}
	if cmd.Bool("json") {
		return writeJSON(summary)
	}
	console.Print(os.Stdout, output.BuildReportView(&pipeline.Report{Model: summary}))
	return nil
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd, "")
	if err != nil {
		return err
	}
	defer a.close(context.WithoutCancel(ctx))

	srv := mcpserver.NewServer(mcpserver.Config{ServerName: "relgraph", ServerVersion: version}, a.runner, a.store, a.log)
	return srv.Start(ctx)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
