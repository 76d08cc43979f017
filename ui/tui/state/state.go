package state

import (
	"time"

	"relgraph/internal/pipeline"
	"relgraph/internal/run"
)

type Page int

const (
	PageMenu     Page = iota
	PageProgress      // live step, counters and throughput
	PageReport        // final report of the run
	PageModel         // vertex and edge types
	PageConsole       // event log
)

// AppState holds what the TUI knows about the migration.
type AppState struct {
	Step        run.Step
	Stats       run.Snapshot
	Entities    []pipeline.EntityRows
	Report      *pipeline.Report
	Err         error
	Started     time.Time
	LastUpdate  time.Time
	RowsPerSec  float64
	PeakRate    float64
	ConsoleLogs []string
	CurrentPage Page
}

// Done reports whether the run has finished, successfully or not.
func (s AppState) Done() bool { return s.Report != nil }
