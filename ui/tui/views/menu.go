package views

import (
	"fmt"
	"math"

	"relgraph/ui/tui/state"
	"relgraph/ui/tui/styles"

	"github.com/charmbracelet/lipgloss"
	zone "github.com/lrstanley/bubblezone"
)

// MenuOption is one page reachable from the menu.
type MenuOption struct {
	Title string
	Hint  string
	// Ready reports whether the page has something to show yet.
	Ready func(s state.AppState) bool
}

// MenuOptions are listed in page order; the controller maps the cursor
// index to a page.
var MenuOptions = []MenuOption{
	{
		Title: "Live Migration Progress",
		Hint:  "current step, counters and rows/s",
		Ready: func(state.AppState) bool { return true },
	},
	{
		Title: "Run Report",
		Hint:  "statistics and warnings of the finished run",
		Ready: func(s state.AppState) bool { return s.Done() },
	},
	{
		Title: "Graph Model",
		Hint:  "vertex and edge types written to the destination",
		Ready: func(s state.AppState) bool { return s.Report != nil && s.Report.Model != nil },
	},
	{
		Title: "Event Log",
		Hint:  "step changes and finished tables",
		Ready: func(s state.AppState) bool { return len(s.ConsoleLogs) > 0 },
	},
}

const (
	menuTop        = 6 // first item row, below header and title
	menuItemHeight = 4
	menuItemWidth  = 52
)

type MenuView struct{}

func (v MenuView) Render(s state.AppState, props ViewProps) string {
	header := MenuHeaderStyle.Width(props.Width).Render("RELGRAPH // RELATIONAL TO GRAPH")

	items := make([]string, 0, len(MenuOptions))
	for i, opt := range MenuOptions {
		items = append(items, zone.Mark(fmt.Sprintf("menu_%d", i), menuItem(s, props, i, opt)))
	}

	menu := MenuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Bold(true).PaddingLeft(2).Foreground(BrandColor).Render("MIGRATION"),
		CopyStyle.Render(runLine(s)),
		lipgloss.JoinVertical(lipgloss.Left, items...),
	))

	controls := lipgloss.NewStyle().Foreground(lipgloss.Color("#333")).PaddingLeft(2).
		Render("[↑/↓] Navigate • [Enter] Select • [Q] Quit")

	return zone.Scan(lipgloss.JoinVertical(lipgloss.Left, header, menu, controls))
}

func menuItem(s state.AppState, props ViewProps, i int, opt MenuOption) string {
	// Items near the animated cursor slide right; the selected one is highlighted.
	strength := math.Max(0, 1-math.Abs(float64(i)-props.AnimCursor))
	hovered := props.MouseY >= menuTop+i*menuItemHeight && props.MouseY < menuTop+(i+1)*menuItemHeight

	border := lipgloss.Color(BaseColor)
	switch {
	case i == props.MenuCursor || strength > 0.1:
		border = BrandColor
	case hovered:
		border = lipgloss.Color("#aaa")
	}

	title := fmt.Sprintf("%02d. %s", i+1, opt.Title)
	badge := lipgloss.NewStyle().Foreground(styles.Warn).Render("pending")
	if opt.Ready(s) {
		badge = lipgloss.NewStyle().Foreground(styles.Good).Render("ready")
	}
	titleStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#AAA"))
	if i == props.MenuCursor {
		titleStyle = titleStyle.Bold(true).Foreground(lipgloss.Color("#FFF"))
	}
	gap := max(1, menuItemWidth-4-lipgloss.Width(title)-lipgloss.Width(badge))

	body := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(title)+lipgloss.NewStyle().Width(gap).Render("")+badge,
		styles.LabelStyle.UnsetWidth().Italic(true).Render(opt.Hint),
	)
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Padding(0, 1).
		MarginLeft(2 + int(strength*2)).
		Width(menuItemWidth).
		Render(body)
}

func runLine(s state.AppState) string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("Run failed at %s.", s.Step)
	case s.Done():
		return fmt.Sprintf("Run finished: %d vertices, %d edges created.", s.Stats.VerticesCreated, s.Stats.EdgesCreated)
	default:
		return fmt.Sprintf("Running in the background, step %s.", s.Step)
	}
}

var (
	BrandColor = lipgloss.Color("#f27b24")
	BaseColor  = lipgloss.Color("#444")

	MenuHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(BrandColor).
			Align(lipgloss.Left).
			Padding(1, 2)

	MenuBoxStyle = lipgloss.NewStyle().
			Padding(1, 0).
			MarginTop(1)

	CopyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888")).
			Italic(true).
			MarginBottom(1).
			PaddingLeft(2)
)
