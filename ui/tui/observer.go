package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"relgraph/internal/run"
)

// StepMsg reports a pipeline step change.
type StepMsg struct {
	Step run.Step
	At   time.Time
}

// EntityMsg reports a finished source table.
type EntityMsg struct {
	Entity string
	Rows   int64
	At     time.Time
}

// Observer forwards pipeline events into the Bubble Tea loop. Pass it to
// the runner with pipeline.WithObserver before starting the TUI.
type Observer struct {
	events chan tea.Msg
}

func NewObserver() *Observer {
	return &Observer{events: make(chan tea.Msg, 256)}
}

func (o *Observer) StepChanged(step run.Step) {
	o.send(StepMsg{Step: step, At: time.Now()})
}

func (o *Observer) EntityImported(entity string, rows int64) {
	o.send(EntityMsg{Entity: entity, Rows: rows, At: time.Now()})
}

// send never blocks the importer; events beyond the buffer are dropped and
// the next progress poll catches up.
func (o *Observer) send(msg tea.Msg) {
	select {
	case o.events <- msg:
	default:
	}
}

func (o *Observer) wait() tea.Cmd {
	if o == nil {
		return nil
	}
	return func() tea.Msg { return <-o.events }
}
