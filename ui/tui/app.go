// Package tui is the interactive migration monitor.
package tui

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"relgraph/internal/pipeline"
	"relgraph/internal/run"
	"relgraph/ui/tui/components"
	"relgraph/ui/tui/state"
	"relgraph/ui/tui/views"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

const (
	pollInterval = 500 * time.Millisecond
	maxLogLines  = 500
)

// stepOrder drives the progress bar.
var stepOrder = []run.Step{
	run.StepIdle,
	run.StepAnalyze,
	run.StepBuildModel,
	run.StepAggregate,
	run.StepWriteSchema,
	run.StepImportPass1,
	run.StepImportPass2,
	run.StepDone,
}

// Migrator is the part of the pipeline runner the TUI drives.
type Migrator interface {
	RunOnce(ctx context.Context) (*pipeline.Report, error)
	Progress() (run.Step, run.Snapshot)
}

// MainModel is the Bubble Tea Model acting as the Controller
type MainModel struct {
	ctx      context.Context
	migrator Migrator
	observer *Observer

	state          state.AppState
	spinner        spinner.Model
	progress       progress.Model
	rates          *components.RateWidget
	menuCursor     int
	animCursor     float64
	velocity       float64 // Physics velocity
	spring         harmonica.Spring
	shown          float64 // animated progress fraction
	shownVelocity  float64
	lastRows       int64
	lastPoll       time.Time
	consoleScrollY int
	mouseX         int
	mouseY         int
	quitting       bool
	width          int
	height         int
}

// Messages
type TickMsg time.Time
type AnimateMsg time.Time
type ReportMsg struct {
	Report *pipeline.Report
	Err    error
}

func InitialModel(ctx context.Context, migrator Migrator, observer *Observer) MainModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	// Frequency 12 with damping 0.9 settles fast without overshoot.
	spring := harmonica.NewSpring(harmonica.FPS(60), 12.0, 0.9)

	return MainModel{
		ctx:      ctx,
		migrator: migrator,
		observer: observer,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		rates:    components.NewRateWidget(30, 10),
		spring:   spring,
		state: state.AppState{
			Step:        run.StepIdle,
			CurrentPage: state.PageProgress,
		},
	}
}

func (m *MainModel) Init() tea.Cmd {
	m.state.Started = time.Now()
	m.state.LastUpdate = m.state.Started
	m.lastPoll = m.state.Started
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
		animateCmd(),
		runCmd(m.ctx, m.migrator),
		m.observer.wait(),
	)
}

// Commands
func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func animateCmd() tea.Cmd {
	return tea.Tick(time.Millisecond*16, func(t time.Time) tea.Msg {
		return AnimateMsg(t)
	})
}

func runCmd(ctx context.Context, mg Migrator) tea.Cmd {
	return func() tea.Msg {
		report, err := mg.RunOnce(ctx)
		return ReportMsg{Report: report, Err: err}
	}
}

func (m *MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case AnimateMsg:
		return m.handleAnimateMsg(msg)

	case tea.WindowSizeMsg:
		return m.handleWindowSizeMsg(msg)

	case TickMsg:
		return m.handleTickMsg(msg)

	case StepMsg:
		m.state.Step = msg.Step
		m.log(msg.At, "step %s", msg.Step)
		return m, m.observer.wait()

	case EntityMsg:
		m.state.Entities = append(m.state.Entities, pipeline.EntityRows{Entity: msg.Entity, Rows: msg.Rows})
		m.log(msg.At, "%s: %d rows", msg.Entity, msg.Rows)
		return m, m.observer.wait()

	case ReportMsg:
		return m.handleReportMsg(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.MouseMsg:
		return m.handleMouseMsg(msg)
	}

	return m, nil
}

func (m *MainModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	}

	if m.state.CurrentPage == state.PageMenu {
		switch msg.String() {
		case "up", "k":
			if m.menuCursor > 0 {
				m.menuCursor--
			}
		case "down", "j":
			if m.menuCursor < len(views.MenuOptions)-1 {
				m.menuCursor++
			}
		case "enter":
			m.navigateTo(m.menuCursor)
		}
		return m, nil
	}

	if m.state.CurrentPage == state.PageConsole {
		switch msg.String() {
		case "up", "k":
			if m.consoleScrollY > 0 {
				m.consoleScrollY--
			}
		case "down", "j":
			m.consoleScrollY++
		}
	}

	if msg.String() == "b" || msg.String() == "esc" || msg.String() == "backspace" {
		m.state.CurrentPage = state.PageMenu
		m.consoleScrollY = 0
		return m, nil
	}

	return m, nil
}

func (m *MainModel) navigateTo(cursor int) {
	switch cursor {
	case 0:
		m.state.CurrentPage = state.PageProgress
	case 1:
		m.state.CurrentPage = state.PageReport
	case 2:
		m.state.CurrentPage = state.PageModel
	case 3:
		m.state.CurrentPage = state.PageConsole
	}
}

func (m *MainModel) handleAnimateMsg(msg AnimateMsg) (tea.Model, tea.Cmd) {
	m.animCursor, m.velocity = m.spring.Update(m.animCursor, float64(m.menuCursor), m.velocity)
	m.shown, m.shownVelocity = m.spring.Update(m.shown, stepFraction(m.state.Step), m.shownVelocity)
	return m, animateCmd()
}

// stepFraction maps a step to its position in the pipeline, 0..1.
func stepFraction(step run.Step) float64 {
	i := slices.Index(stepOrder, step)
	if i < 0 {
		return 0
	}
	return float64(i) / float64(len(stepOrder)-1)
}

func (m *MainModel) handleWindowSizeMsg(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	m.width = msg.Width
	m.height = msg.Height
	newW := msg.Width/3 - 6
	if newW > 10 {
		m.rates.Resize(newW, 10)
	}
	if w := msg.Width - 8; w > 20 {
		m.progress.Width = w
	}
	return m, nil
}

func (m *MainModel) handleTickMsg(msg TickMsg) (tea.Model, tea.Cmd) {
	now := time.Time(msg)
	m.poll(now)
	if m.state.Done() {
		return m, nil
	}
	return m, tickCmd()
}

// poll samples the runner's counters and derives throughput.
func (m *MainModel) poll(now time.Time) {
	step, stats := m.migrator.Progress()
	if dt := now.Sub(m.lastPoll).Seconds(); dt > 0 {
		m.state.RowsPerSec = float64(stats.RowsRead-m.lastRows) / dt
		m.rates.Push(m.state.RowsPerSec)
		m.state.PeakRate = m.rates.Peak
	}
	m.lastRows = stats.RowsRead
	m.lastPoll = now
	if step != run.StepIdle {
		m.state.Step = step
	}
	m.state.Stats = stats
	m.state.LastUpdate = now
}

func (m *MainModel) handleReportMsg(msg ReportMsg) (tea.Model, tea.Cmd) {
	m.poll(time.Now())
	m.state.Report = msg.Report
	m.state.Err = msg.Err
	if msg.Report != nil {
		m.state.Step = msg.Report.Step
		m.state.Stats = msg.Report.Stats
		m.state.Entities = msg.Report.Entities
	}
	if msg.Err != nil {
		m.log(time.Now(), "migration failed: %v", msg.Err)
	} else {
		m.log(time.Now(), "migration finished")
	}
	return m, nil
}

func (m *MainModel) log(at time.Time, format string, args ...any) {
	line := fmt.Sprintf("[%s] ", at.Format("15:04:05")) + fmt.Sprintf(format, args...)
	m.state.ConsoleLogs = append(m.state.ConsoleLogs, line)
	if len(m.state.ConsoleLogs) > maxLogLines {
		m.state.ConsoleLogs = m.state.ConsoleLogs[1:]
	}
}

func (m *MainModel) handleMouseMsg(msg tea.MouseMsg) (tea.Model, tea.Cmd) {
	m.mouseX = msg.X
	m.mouseY = msg.Y

	if msg.Action == tea.MouseActionRelease && m.state.CurrentPage == state.PageMenu {
		for i := range views.MenuOptions {
			if zone.Get(fmt.Sprintf("menu_%d", i)).InBounds(msg) {
				m.menuCursor = i
				m.navigateTo(i)
				return m, nil
			}
		}
	}
	return m, nil
}

func (m *MainModel) View() string {
	if m.quitting {
		return "Bye!\n"
	}

	switch m.state.CurrentPage {
	case state.PageMenu:
		return views.RenderMenu(m.state, m.width, m.height, m.menuCursor, m.animCursor, m.mouseX, m.mouseY)
	case state.PageProgress:
		return views.RenderProgress(m.state, m.spinner.View(), m.progress.ViewAs(m.shown), m.rates.View())
	case state.PageReport:
		return views.RenderReport(m.state, m.spinner.View(), m.width, m.height)
	case state.PageModel:
		return views.RenderModel(m.state, m.width, m.height)
	default:
		return views.RenderRawConsole(m.state, m.width, m.height, m.consoleScrollY)
	}
}

// Start runs the monitor until the user quits. The migration starts right
// away; quitting cancels it.
func Start(ctx context.Context, migrator Migrator, observer *Observer) (*pipeline.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	zone.NewGlobal()
	m := InitialModel(ctx, migrator, observer)
	p := tea.NewProgram(
		&m,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
		tea.WithContext(ctx),
	)
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return nil, err
	}
	if m.state.Report == nil {
		return nil, errors.New("migration interrupted")
	}
	return m.state.Report, m.state.Err
}
