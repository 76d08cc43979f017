// Package config holds the migration settings and the two optional documents
// consumed while mapping: the hierarchy description and the mapping overlay.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"relgraph/internal/naming"
	"relgraph/internal/typemap"
)

// Mapping strategies.
const (
	StrategyNaive          = "naive"
	StrategyNaiveAggregate = "naive-aggregate"
)

// Destination kinds.
const (
	DestinationNeo4j  = "neo4j"
	DestinationMemory = "memory"
)

// SourceConfig describes the relational database to read.
type SourceConfig struct {
	Driver  string   `yaml:"driver"`
	DSN     string   `yaml:"dsn"`
	Schema  string   `yaml:"schema"`
	Include []string `yaml:"include"` // tables to analyze; empty means all
	Exclude []string `yaml:"exclude"` // tables to skip
}

// DestinationConfig describes the graph store to write.
type DestinationConfig struct {
	Kind     string `yaml:"kind"`
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Config contains every setting of a migration run.
// Use DefaultConfig() to get sensible defaults, then override as needed.
type Config struct {
	Source      SourceConfig      `yaml:"source"`
	Destination DestinationConfig `yaml:"destination"`

	Naming   string `yaml:"naming"`   // original | java | capitalize (default: java)
	Strategy string `yaml:"strategy"` // naive | naive-aggregate (default: naive-aggregate)

	HierarchyFile string `yaml:"hierarchy"` // optional hierarchy description
	OverlayFile   string `yaml:"overlay"`   // optional mapping overlay

	Workers      int           `yaml:"workers"`      // parallel entity streams in pass one (default: 4)
	LogLevel     string        `yaml:"logLevel"`     // zap level (default: info)
	SyncInterval time.Duration `yaml:"syncInterval"` // re-run period for periodic sync (default: 5m)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Source: SourceConfig{
			Driver: string(typemap.SQLite),
		},
		Destination: DestinationConfig{
			Kind:     DestinationMemory,
			Database: "neo4j",
		},
		Naming:       naming.StrategyJava,
		Strategy:     StrategyNaiveAggregate,
		Workers:      4,
		LogLevel:     "info",
		SyncInterval: 5 * time.Minute,
	}
}

// WithSource returns a copy of the config reading from driver and dsn.
func (c Config) WithSource(driver, dsn string) Config {
	c.Source.Driver = driver
	c.Source.DSN = dsn
	return c
}

// WithNeo4j returns a copy of the config writing to a Neo4j server.
func (c Config) WithNeo4j(uri, username, password string) Config {
	c.Destination.Kind = DestinationNeo4j
	c.Destination.URI = uri
	c.Destination.Username = username
	c.Destination.Password = password
	return c
}

// WithStrategy returns a copy of the config with a different mapping strategy.
func (c Config) WithStrategy(strategy string) Config {
	c.Strategy = strategy
	return c
}

// WithNaming returns a copy of the config with a different naming strategy.
func (c Config) WithNaming(strategy string) Config {
	c.Naming = strategy
	return c
}

// WithWorkers returns a copy of the config with modified pass-one parallelism.
func (c Config) WithWorkers(n int) Config {
	c.Workers = n
	return c
}

// Aggregate reports whether join tables are collapsed into edges.
func (c Config) Aggregate() bool {
	return c.Strategy == StrategyNaiveAggregate
}

// Validate checks if the configuration is valid and returns an error if not.
func (c Config) Validate() error {
	if _, err := typemap.ParseDriver(c.Source.Driver); err != nil {
		return &ConfigError{Field: "source.driver", Message: fmt.Sprintf("unsupported driver %q", c.Source.Driver)}
	}
	if c.Source.DSN == "" {
		return &ConfigError{Field: "source.dsn", Message: "must not be empty"}
	}
	switch c.Destination.Kind {
	case DestinationMemory:
	case DestinationNeo4j:
		if c.Destination.URI == "" {
			return &ConfigError{Field: "destination.uri", Message: "must not be empty for neo4j"}
		}
	default:
		return &ConfigError{Field: "destination.kind", Message: fmt.Sprintf("must be %q or %q", DestinationNeo4j, DestinationMemory)}
	}
	if _, err := naming.New(c.Naming); err != nil {
		return &ConfigError{Field: "naming", Message: fmt.Sprintf("unknown strategy %q", c.Naming)}
	}
	if c.Strategy != StrategyNaive && c.Strategy != StrategyNaiveAggregate {
		return &ConfigError{Field: "strategy", Message: fmt.Sprintf("must be %q or %q", StrategyNaive, StrategyNaiveAggregate)}
	}
	if c.Workers <= 0 {
		return &ConfigError{Field: "workers", Message: "must be positive"}
	}
	if c.SyncInterval < 0 {
		return &ConfigError{Field: "syncInterval", Message: "must not be negative"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Field + " " + e.Message
}

// Load reads a YAML config file on top of the defaults, then applies
// RELGRAPH_* environment overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadDotEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"RELGRAPH_SOURCE_DRIVER": &c.Source.Driver,
		"RELGRAPH_SOURCE_DSN":    &c.Source.DSN,
		"RELGRAPH_SOURCE_SCHEMA": &c.Source.Schema,
		"RELGRAPH_DEST_KIND":     &c.Destination.Kind,
		"RELGRAPH_DEST_URI":      &c.Destination.URI,
		"RELGRAPH_DEST_USERNAME": &c.Destination.Username,
		"RELGRAPH_DEST_PASSWORD": &c.Destination.Password,
		"RELGRAPH_DEST_DATABASE": &c.Destination.Database,
		"RELGRAPH_NAMING":        &c.Naming,
		"RELGRAPH_STRATEGY":      &c.Strategy,
		"RELGRAPH_HIERARCHY":     &c.HierarchyFile,
		"RELGRAPH_OVERLAY":       &c.OverlayFile,
		"RELGRAPH_LOG_LEVEL":     &c.LogLevel,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("RELGRAPH_SOURCE_INCLUDE"); ok {
		c.Source.Include = splitList(v)
	}
	if v, ok := lookup("RELGRAPH_SOURCE_EXCLUDE"); ok {
		c.Source.Exclude = splitList(v)
	}
	if v, ok := lookup("RELGRAPH_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Field: "RELGRAPH_WORKERS", Message: "must be an integer"}
		}
		c.Workers = n
	}
	if v, ok := lookup("RELGRAPH_SYNC_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return &ConfigError{Field: "RELGRAPH_SYNC_INTERVAL", Message: "must be a duration"}
		}
		c.SyncInterval = d
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
