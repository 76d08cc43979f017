package pipeline

import (
	"sort"
	"time"

	"relgraph/internal/model"
	"relgraph/internal/resources"
	"relgraph/internal/run"
)

// EntityRows is the number of source rows read for one entity.
type EntityRows struct {
	Entity string `json:"entity"`
	Rows   int64  `json:"rows"`
}

// Report summarizes one migration run.
type Report struct {
	RunID    string          `json:"run_id"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration"`
	Step     run.Step        `json:"step"`
	Stats    run.Snapshot    `json:"stats"`
	Entities []EntityRows    `json:"entities,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Peak     resources.Usage `json:"peak"`
	Model    *ModelSummary   `json:"model,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Failed reports whether the run ended with a fatal error.
func (r *Report) Failed() bool { return r.Error != "" }

// ModelSummary is a serializable view of a graph model.
type ModelSummary struct {
	Vertices []TypeSummary `json:"vertices"`
	Edges    []TypeSummary `json:"edges"`
}

// TypeSummary describes one vertex or edge type.
type TypeSummary struct {
	Name          string   `json:"name"`
	Parent        string   `json:"parent,omitempty"`
	Properties    []string `json:"properties,omitempty"`
	Key           []string `json:"key,omitempty"`
	From          string   `json:"from,omitempty"`
	To            string   `json:"to,omitempty"`
	Ends          []string `json:"ends,omitempty"` // every "Out -> In" pair when an edge connects several
	Relationships int      `json:"relationships,omitempty"`
	Aggregator    bool     `json:"aggregator,omitempty"`
	Logical       bool     `json:"logical,omitempty"`
	FromJoinTable bool     `json:"from_join_table,omitempty"`
}

// Describe summarizes m. Types are sorted by name.
func Describe(m *model.Model) ModelSummary {
	var out ModelSummary
	name := func(h model.Handle) string {
		if t := m.Get(h); t != nil {
			return t.Name
		}
		return ""
	}
	for _, t := range m.Vertices() {
		ts := TypeSummary{
			Name:          t.Name,
			Parent:        name(t.Parent),
			Properties:    propertyNames(t),
			FromJoinTable: t.FromJoinTable,
		}
		for _, p := range t.KeyProperties() {
			ts.Key = append(ts.Key, p.Name)
		}
		out.Vertices = append(out.Vertices, ts)
	}
	for _, t := range m.Edges() {
		ts := TypeSummary{
			Name:          t.Name,
			Properties:    propertyNames(t),
			From:          name(t.From),
			To:            name(t.To),
			Relationships: t.RelationshipCount,
			Aggregator:    t.Aggregator,
			Logical:       t.Logical,
		}
		if len(t.Ends) > 1 {
			for _, e := range t.Ends {
				ts.Ends = append(ts.Ends, name(e.From)+" -> "+name(e.To))
			}
		}
		out.Edges = append(out.Edges, ts)
	}
	byName := func(s []TypeSummary) func(i, j int) bool {
		return func(i, j int) bool { return s[i].Name < s[j].Name }
	}
	sort.Slice(out.Vertices, byName(out.Vertices))
	sort.Slice(out.Edges, byName(out.Edges))
	return out
}

func propertyNames(t *model.ElementType) []string {
	var names []string
	for _, p := range t.Properties {
		if p.Included {
			names = append(names, p.Name)
		}
	}
	return names
}

func newReport(state *run.State, m *model.Model, rows map[string]int64, peak resources.Usage, err error) *Report {
	r := &Report{
		RunID:    state.ID,
		Started:  state.Started,
		Duration: time.Since(state.Started),
		Step:     state.Step(),
		Stats:    state.Stats.Snapshot(),
		Peak:     peak,
	}
	for entity, n := range rows {
		r.Entities = append(r.Entities, EntityRows{Entity: entity, Rows: n})
	}
	sort.Slice(r.Entities, func(i, j int) bool { return r.Entities[i].Entity < r.Entities[j].Entity })
	for _, w := range state.Warnings() {
		r.Warnings = append(r.Warnings, w.Error())
	}
	if m != nil {
		s := Describe(m)
		r.Model = &s
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
