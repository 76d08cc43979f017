// Package output turns pipeline reports into UI-ready sections shared by the
// console printer, the TUI and the MCP server.
package output

import (
	"fmt"
	"strings"

	"relgraph/internal/pipeline"
)

// Section IDs.
const (
	SectionSummary  = "summary"
	SectionImport   = "import"
	SectionSchema   = "schema"
	SectionModel    = "model"
	SectionEntities = "entities"
	SectionWarnings = "warnings"
)

// Item statuses.
const (
	StatusOK   = "OK"
	StatusWarn = "WARN"
	StatusCrit = "CRIT"
)

// Item is one labelled value. Note carries text values.
type Item struct {
	Key    string
	Label  string
	Value  float64
	Unit   string
	Status string
	Note   string
}

type Section struct {
	ID    string
	Title string
	Items []Item
}

// ReportView is a report laid out for display (no printing here).
type ReportView struct {
	RunID    string
	Status   string
	Sections []Section
}

// BuildReportView converts a pipeline report into display sections.
func BuildReportView(r *pipeline.Report) ReportView {
	view := ReportView{RunID: r.RunID, Status: StatusOK}
	switch {
	case r.Failed():
		view.Status = StatusCrit
	case len(r.Warnings) > 0 || r.Stats.RowsSkipped > 0:
		view.Status = StatusWarn
	}

	summary := Section{ID: SectionSummary, Title: "Run", Items: []Item{
		{Key: "run_id", Label: "Run ID", Note: r.RunID},
		{Key: "step", Label: "Step", Note: string(r.Step), Status: view.Status},
		{Key: "duration", Label: "Duration", Value: r.Duration.Seconds(), Unit: "s"},
		{Key: "peak_rss", Label: "Peak RSS", Value: float64(r.Peak.RSS) / 1024 / 1024, Unit: "MB"},
	}}
	if r.Duration > 0 && r.Stats.RowsRead > 0 {
		summary.Items = append(summary.Items, Item{
			Key: "throughput", Label: "Rows/s", Value: float64(r.Stats.RowsRead) / r.Duration.Seconds(),
		})
	}
	if r.Failed() {
		summary.Items = append(summary.Items, Item{Key: "error", Label: "Error", Note: r.Error, Status: StatusCrit})
	}

	s := r.Stats
	imp := Section{ID: SectionImport, Title: "Import", Items: []Item{
		count("rows_read", "Rows read", s.RowsRead),
		flagged(count("rows_skipped", "Rows skipped", s.RowsSkipped)),
		count("vertices_created", "Vertices created", s.VerticesCreated),
		count("vertices_updated", "Vertices updated", s.VerticesUpdated),
		count("stubs_created", "Stubs created", s.StubsCreated),
		count("stubs_completed", "Stubs completed", s.StubsCompleted),
		count("writes_avoided", "Writes avoided", s.WritesAvoided),
		count("edges_created", "Edges created", s.EdgesCreated),
		count("edges_updated", "Edges updated", s.EdgesUpdated),
		count("edges_deduped", "Edges deduplicated", s.EdgesDeduped),
	}}

	schema := Section{ID: SectionSchema, Title: "Schema", Items: []Item{
		count("classes_created", "Classes created", s.ClassesCreated),
		count("properties_created", "Properties created", s.PropertiesCreated),
		count("properties_dropped", "Properties dropped", s.PropertiesDropped),
		count("indexes_built", "Indexes built", s.IndexesBuilt),
	}}

	view.Sections = append(view.Sections, summary, imp, schema)
	if r.Model != nil {
		view.Sections = append(view.Sections, modelSection(r.Model))
	}

	entities := Section{ID: SectionEntities, Title: "Entities"}
	for _, e := range r.Entities {
		entities.Items = append(entities.Items, Item{
			Key: "entity_" + strings.ToLower(e.Entity), Label: e.Entity, Value: float64(e.Rows), Unit: "rows",
		})
	}
	view.Sections = append(view.Sections, entities)

	warnings := Section{ID: SectionWarnings, Title: "Warnings"}
	for i, w := range r.Warnings {
		warnings.Items = append(warnings.Items, Item{
			Key: fmt.Sprintf("warning_%d", i), Label: fmt.Sprintf("#%d", i+1), Note: w, Status: StatusWarn,
		})
	}
	view.Sections = append(view.Sections, warnings)
	return view
}

func modelSection(m *pipeline.ModelSummary) Section {
	sec := Section{ID: SectionModel, Title: "Graph model"}
	for _, v := range m.Vertices {
		note := strings.Join(v.Properties, ", ")
		if v.Parent != "" {
			note = "extends " + v.Parent + "; " + note
		}
		sec.Items = append(sec.Items, Item{Key: "vertex_" + v.Name, Label: v.Name, Note: note})
	}
	for _, e := range m.Edges {
		note := e.From + " -> " + e.To
		if len(e.Ends) > 0 {
			note = strings.Join(e.Ends, ", ")
		}
		switch {
		case e.Aggregator:
			note += " (aggregated)"
		case e.Logical:
			note += " (logical)"
		}
		sec.Items = append(sec.Items, Item{Key: "edge_" + e.Name, Label: e.Name, Note: note})
	}
	return sec
}

func count(key, label string, n int64) Item {
	return Item{Key: key, Label: label, Value: float64(n)}
}

func flagged(it Item) Item {
	if it.Value > 0 {
		it.Status = StatusWarn
	}
	return it
}

func (v ReportView) SectionByID(id string) *Section {
	for i := range v.Sections {
		if v.Sections[i].ID == id {
			return &v.Sections[i]
		}
	}
	return nil
}

func (s Section) ItemByKey(key string) *Item {
	for i := range s.Items {
		if s.Items[i].Key == key {
			return &s.Items[i]
		}
	}
	return nil
}
