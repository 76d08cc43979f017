// Package run holds the explicit per-run context handed to every migration
// component: identity, logger, current step, counters and recovered warnings.
package run

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Step names a phase of the pipeline.
type Step string

const (
	StepIdle        Step = "idle"
	StepAnalyze     Step = "analyze"
	StepBuildModel  Step = "build-model"
	StepAggregate   Step = "aggregate"
	StepWriteSchema Step = "write-schema"
	StepImportPass1 Step = "import-entities"
	StepImportPass2 Step = "import-join-tables"
	StepDone        Step = "done"
)

// Stats are the run counters. All fields are safe for concurrent use.
type Stats struct {
	RowsRead        atomic.Int64
	RowsSkipped     atomic.Int64
	VerticesCreated atomic.Int64
	VerticesUpdated atomic.Int64
	StubsCreated    atomic.Int64
	StubsCompleted  atomic.Int64
	WritesAvoided   atomic.Int64
	EdgesCreated    atomic.Int64
	EdgesUpdated    atomic.Int64
	EdgesDeduped    atomic.Int64

	ClassesCreated    atomic.Int64
	PropertiesCreated atomic.Int64
	PropertiesDropped atomic.Int64
	IndexesBuilt      atomic.Int64
}

// Snapshot is a plain copy of Stats.
type Snapshot struct {
	RowsRead        int64 `json:"rows_read"`
	RowsSkipped     int64 `json:"rows_skipped"`
	VerticesCreated int64 `json:"vertices_created"`
	VerticesUpdated int64 `json:"vertices_updated"`
	StubsCreated    int64 `json:"stubs_created"`
	StubsCompleted  int64 `json:"stubs_completed"`
	WritesAvoided   int64 `json:"writes_avoided"`
	EdgesCreated    int64 `json:"edges_created"`
	EdgesUpdated    int64 `json:"edges_updated"`
	EdgesDeduped    int64 `json:"edges_deduped"`

	ClassesCreated    int64 `json:"classes_created"`
	PropertiesCreated int64 `json:"properties_created"`
	PropertiesDropped int64 `json:"properties_dropped"`
	IndexesBuilt      int64 `json:"indexes_built"`
}

// Snapshot copies the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		RowsRead:          s.RowsRead.Load(),
		RowsSkipped:       s.RowsSkipped.Load(),
		VerticesCreated:   s.VerticesCreated.Load(),
		VerticesUpdated:   s.VerticesUpdated.Load(),
		StubsCreated:      s.StubsCreated.Load(),
		StubsCompleted:    s.StubsCompleted.Load(),
		WritesAvoided:     s.WritesAvoided.Load(),
		EdgesCreated:      s.EdgesCreated.Load(),
		EdgesUpdated:      s.EdgesUpdated.Load(),
		EdgesDeduped:      s.EdgesDeduped.Load(),
		ClassesCreated:    s.ClassesCreated.Load(),
		PropertiesCreated: s.PropertiesCreated.Load(),
		PropertiesDropped: s.PropertiesDropped.Load(),
		IndexesBuilt:      s.IndexesBuilt.Load(),
	}
}

// State is the context of one pipeline run.
type State struct {
	ID      string
	Started time.Time
	Logger  *zap.Logger
	Stats   Stats

	mu       sync.Mutex
	step     Step
	warnings []error
	onStep   func(Step)
}

// NewState creates a run state. A nil logger is replaced by a no-op logger.
func NewState(logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := uuid.NewString()
	return &State{
		ID:      id,
		Started: time.Now(),
		Logger:  logger.With(zap.String("run_id", id)),
		step:    StepIdle,
	}
}

// OnStep registers a callback invoked on every step change.
func (s *State) OnStep(fn func(Step)) {
	s.mu.Lock()
	s.onStep = fn
	s.mu.Unlock()
}

// SetStep records the current step.
func (s *State) SetStep(step Step) {
	s.mu.Lock()
	s.step = step
	fn := s.onStep
	s.mu.Unlock()

	s.Logger.Info("step", zap.String("step", string(step)))
	if fn != nil {
		fn(step)
	}
}

// Step returns the current step.
func (s *State) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// Warn records a recovered error. Fields are attached to its log record.
func (s *State) Warn(err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	s.mu.Lock()
	s.warnings = append(s.warnings, err)
	s.mu.Unlock()
	s.Logger.Warn("recovered", append([]zap.Field{zap.Error(err)}, fields...)...)
}

// Warnings returns a copy of the recovered errors in the order they occurred.
func (s *State) Warnings() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.warnings))
	copy(out, s.warnings)
	return out
}
