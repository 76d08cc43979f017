package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relgraph/internal/pipeline"
	"relgraph/internal/run"
)

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		RunID:    "run-1",
		Step:     run.StepDone,
		Duration: 2 * time.Second,
		Stats:    run.Snapshot{RowsRead: 100, VerticesCreated: 60, EdgesCreated: 40, ClassesCreated: 3},
		Entities: []pipeline.EntityRows{{Entity: "FILM", Rows: 60}, {Entity: "FILM_ACTOR", Rows: 40}},
		Model: &pipeline.ModelSummary{
			Vertices: []pipeline.TypeSummary{{Name: "Car", Parent: "Vehicle", Properties: []string{"id", "doors"}}},
			Edges:    []pipeline.TypeSummary{{Name: "Performs", From: "Actor", To: "Film", Aggregator: true}},
		},
	}
}

func TestBuildReportView(t *testing.T) {
	view := BuildReportView(sampleReport())
	assert.Equal(t, StatusOK, view.Status)

	summary := view.SectionByID(SectionSummary)
	require.NotNil(t, summary)
	assert.InDelta(t, 50.0, summary.ItemByKey("throughput").Value, 0.001)
	assert.Nil(t, summary.ItemByKey("error"))

	imp := view.SectionByID(SectionImport)
	require.NotNil(t, imp)
	assert.Equal(t, 60.0, imp.ItemByKey("vertices_created").Value)
	assert.Empty(t, imp.ItemByKey("rows_skipped").Status)

	model := view.SectionByID(SectionModel)
	require.NotNil(t, model)
	assert.Equal(t, "extends Vehicle; id, doors", model.ItemByKey("vertex_Car").Note)
	assert.Equal(t, "Actor -> Film (aggregated)", model.ItemByKey("edge_Performs").Note)

	entities := view.SectionByID(SectionEntities)
	require.NotNil(t, entities)
	assert.Equal(t, 40.0, entities.ItemByKey("entity_film_actor").Value)
}

func TestBuildReportViewStatus(t *testing.T) {
	r := sampleReport()
	r.Warnings = []string{"missing reference"}
	r.Stats.RowsSkipped = 1
	view := BuildReportView(r)
	assert.Equal(t, StatusWarn, view.Status)
	assert.Equal(t, StatusWarn, view.SectionByID(SectionImport).ItemByKey("rows_skipped").Status)
	assert.Len(t, view.SectionByID(SectionWarnings).Items, 1)

	r.Error = "store unreachable"
	r.Model = nil
	view = BuildReportView(r)
	assert.Equal(t, StatusCrit, view.Status)
	assert.Equal(t, "store unreachable", view.SectionByID(SectionSummary).ItemByKey("error").Note)
	assert.Nil(t, view.SectionByID(SectionModel))
}

func TestSectionByIDMissing(t *testing.T) {
	assert.Nil(t, ReportView{}.SectionByID("nope"))
	assert.Nil(t, Section{}.ItemByKey("nope"))
}
