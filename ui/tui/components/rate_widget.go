package components

import (
	"fmt"

	"relgraph/ui/tui/styles"

	"github.com/NimbleMarkets/ntcharts/canvas"
	"github.com/NimbleMarkets/ntcharts/linechart"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const historyLen = 31

// RateWidget charts import throughput. Samples are plotted relative to the
// highest rate seen so the Y axis stays 0..100.
type RateWidget struct {
	Chart   linechart.Model
	History []float64
	Peak    float64
	Width   int
	Height  int
}

func NewRateWidget(width, height int) *RateWidget {
	// width, height, minX, maxX, minY, maxY
	lc := linechart.New(width, height, 0, historyLen-1, 0, 100)
	return &RateWidget{
		Chart:   lc,
		History: make([]float64, 0, historyLen),
		Width:   width,
		Height:  height,
	}
}

func (c *RateWidget) Init() tea.Cmd {
	return nil
}

// Push appends a rows/s sample.
func (c *RateWidget) Push(rate float64) {
	if rate < 0 {
		rate = 0
	}
	c.History = append(c.History, rate)
	if len(c.History) > historyLen {
		c.History = c.History[1:]
	}
	if rate > c.Peak {
		c.Peak = rate
	}
}

func (c *RateWidget) Update(tea.Msg) (tea.Model, tea.Cmd) {
	return c, nil
}

func (c *RateWidget) Resize(w, h int) {
	c.Width = w
	c.Height = h
	c.Chart.Resize(w, h)
}

func (c *RateWidget) scaled(i int) float64 {
	if c.Peak == 0 {
		return 0
	}
	return c.History[i] / c.Peak * 100
}

func (c *RateWidget) View() string {
	c.Chart.Clear()
	for i := 0; i < len(c.History)-1; i++ {
		c.Chart.DrawBrailleLine(
			canvas.Float64Point{X: float64(i), Y: c.scaled(i)},
			canvas.Float64Point{X: float64(i + 1), Y: c.scaled(i + 1)},
		)
	}
	c.Chart.DrawXYAxisAndLabel()

	return styles.CardStyle.Render(
		lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("Rows/s (peak %.0f)", c.Peak)),
			c.Chart.View(),
		),
	)
}
