package conflict

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcus/roofsync/internal/models"
)

var (
	t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func baseReport() models.Report {
	return models.Report{
		ID:          "r1",
		ClientName:  "Harbour Strata",
		SiteAddress: "4 Wharf Lane",
		Notes:       "initial",
		Status:      models.ReportDraft,
		SyncMeta:    models.SyncMeta{LocalCreatedAt: t0, LocalUpdatedAt: t0, SyncStatus: models.SyncSynced},
	}
}

func TestDetectDependsOnValuesNotTimestamps(t *testing.T) {
	local := baseReport()
	server := baseReport()
	server.LocalUpdatedAt = t2
	server.SyncStatus = models.SyncPending
	marker := t2
	server.ServerUpdatedAt = &marker

	infos, err := DetectFields(models.EntityReport, local.ID, local, server)
	require.NoError(t, err)
	assert.Empty(t, infos, "identical values with different timestamps must not conflict")

	server.Notes = "changed on tablet"
	infos, err = DetectFields(models.EntityReport, local.ID, local, server)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "notes", infos[0].Field)
	assert.Equal(t, "initial", infos[0].LocalValue)
	assert.Equal(t, "changed on tablet", infos[0].ServerValue)
}

func TestDetectIgnoresAbsentServerFields(t *testing.T) {
	local := baseReport()
	local.Weather = "windy"
	server := map[string]any{
		"id":          "r1",
		"client_name": "Harbour Strata",
		"notes":       nil,
	}
	infos, err := DetectFields(models.EntityReport, local.ID, local, server)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"same string", "a", "a", true},
		{"different string", "a", "b", false},
		{"instant across zones", "2026-03-01T09:00:00Z", "2026-03-01T19:00:00+10:00", true},
		{"different instants", "2026-03-01T09:00:00Z", "2026-03-01T09:00:01Z", false},
		{"number by value", json.Number("1"), json.Number("1.0"), true},
		{"number exponent", json.Number("1500"), json.Number("1.5e3"), true},
		{"different numbers", json.Number("2"), json.Number("3"), false},
		{"nested maps", map[string]any{"a": map[string]any{"b": json.Number("1")}}, map[string]any{"a": map[string]any{"b": json.Number("1.00")}}, true},
		{"nested map differs", map[string]any{"a": "x"}, map[string]any{"a": "y"}, false},
		{"arrays", []any{"a", json.Number("1")}, []any{"a", json.Number("1")}, true},
		{"array length", []any{"a"}, []any{"a", "b"}, false},
		{"nil vs value", nil, "x", false},
		{"bool", true, true, true},
		{"type mismatch", "1", json.Number("1"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestDetectAggregatePairsChildrenByID(t *testing.T) {
	local := &models.ReportAggregate{
		Report: baseReport(),
		Defects: []models.Defect{
			{ID: "d1", ReportID: "r1", DefectNumber: 1, Title: "Cracked tile", Severity: models.SeverityHigh},
			{ID: "d-local", ReportID: "r1", DefectNumber: 2, Title: "Local only", Severity: models.SeverityLow},
		},
		Compliance: &models.ComplianceAssessment{ID: "c-local", ReportID: "r1",
			Results: map[string]models.ComplianceItem{"gutters": {Result: models.ResultPass}}},
	}
	server := &models.ReportAggregate{
		Report: baseReport(),
		Defects: []models.Defect{
			{ID: "d1", ReportID: "r1", DefectNumber: 1, Title: "Cracked tile", Severity: models.SeverityCritical},
			{ID: "d-server", ReportID: "r1", DefectNumber: 2, Title: "Server only", Severity: models.SeverityLow},
		},
		Compliance: &models.ComplianceAssessment{ID: "c-server", ReportID: "r1",
			Results: map[string]models.ComplianceItem{"gutters": {Result: models.ResultFail}}},
	}

	infos, err := DetectAggregate(local, server)
	require.NoError(t, err)
	assert.Equal(t, []string{"compliance.results", "defect.severity"}, FieldsOf(infos))
}

func TestMergeAggregateFieldLevel(t *testing.T) {
	local := &models.ReportAggregate{Report: baseReport()}
	local.Report.Notes = "local notes"
	local.Report.LocalUpdatedAt = t2
	local.Report.FieldStamps = models.FieldStamps{"notes": t2}

	server := &models.ReportAggregate{Report: baseReport()}
	server.Report.Notes = "server notes"
	server.Report.Weather = "hail"
	server.Report.LocalUpdatedAt = t1
	server.Elements = []models.RoofElement{{ID: "e-server", ReportID: "r1", Name: "Box gutter"}}

	merged, err := MergeAggregate(local, server)
	require.NoError(t, err)
	assert.Equal(t, "local notes", merged.Report.Notes, "local field edited after the server version wins")
	assert.Equal(t, "hail", merged.Report.Weather, "unedited local field takes the server value")
	assert.Equal(t, "Harbour Strata", merged.Report.ClientName)
	require.Len(t, merged.Elements, 1)
	assert.Equal(t, "e-server", merged.Elements[0].ID)
}

func TestMergeServerWinsOlderLocalStamp(t *testing.T) {
	local := &models.ReportAggregate{Report: baseReport()}
	local.Report.Notes = "stale local"
	local.Report.FieldStamps = models.FieldStamps{"notes": t0}
	server := &models.ReportAggregate{Report: baseReport()}
	server.Report.Notes = "fresh server"
	server.Report.LocalUpdatedAt = t1

	merged, err := MergeAggregate(local, server)
	require.NoError(t, err)
	assert.Equal(t, "fresh server", merged.Report.Notes)
}

func TestClearedReferenceIsAConflict(t *testing.T) {
	local := models.Defect{
		ID: "d1", ReportID: "r1", ElementID: "e1", DefectNumber: 1,
		Title: "Cracked tile", Severity: models.SeverityMedium,
		SyncMeta: models.SyncMeta{LocalCreatedAt: t0, LocalUpdatedAt: t0,
			FieldStamps: models.FieldStamps{"title": t0}},
	}
	server := local
	server.ElementID = ""
	server.LocalUpdatedAt = t1

	infos, err := DetectFields(models.EntityDefect, local.ID, local, server)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "element_id", infos[0].Field)
	assert.Equal(t, "", infos[0].ServerValue)

	merged, err := MergeAggregate(
		&models.ReportAggregate{Report: baseReport(), Defects: []models.Defect{local}},
		&models.ReportAggregate{Report: baseReport(), Defects: []models.Defect{server}},
	)
	require.NoError(t, err)
	require.Len(t, merged.Defects, 1)
	assert.Empty(t, merged.Defects[0].ElementID, "reference cleared on the server must not come back")
}

func TestAutoAggregate(t *testing.T) {
	t.Run("strictly newer local wins", func(t *testing.T) {
		local := &models.ReportAggregate{Report: baseReport()}
		local.Report.Notes = "local"
		local.Report.LocalUpdatedAt = t2
		server := &models.ReportAggregate{Report: baseReport()}
		server.Report.Notes = "server"
		server.Report.LocalUpdatedAt = t1

		merged, s, err := AutoAggregate(local, server)
		require.NoError(t, err)
		assert.Equal(t, KeepLocal, s)
		assert.Equal(t, "local", merged.Report.Notes)
	})

	t.Run("tie goes to the server", func(t *testing.T) {
		local := &models.ReportAggregate{Report: baseReport()}
		local.Report.Notes = "local"
		local.Report.LocalUpdatedAt = t1
		server := &models.ReportAggregate{Report: baseReport()}
		server.Report.Notes = "server"
		server.Report.LocalUpdatedAt = t1

		merged, s, err := AutoAggregate(local, server)
		require.NoError(t, err)
		assert.Equal(t, KeepServer, s)
		assert.Equal(t, "server", merged.Report.Notes)
	})

	t.Run("decided per entity", func(t *testing.T) {
		local := &models.ReportAggregate{Report: baseReport(), Defects: []models.Defect{
			{ID: "d1", ReportID: "r1", Title: "local title", Severity: models.SeverityLow, SyncMeta: models.SyncMeta{LocalUpdatedAt: t2}},
		}}
		server := &models.ReportAggregate{Report: baseReport(), Defects: []models.Defect{
			{ID: "d1", ReportID: "r1", Title: "server title", Severity: models.SeverityLow, SyncMeta: models.SyncMeta{LocalUpdatedAt: t1}},
		}}
		server.Report.Notes = "server notes"
		server.Report.LocalUpdatedAt = t1

		merged, s, err := AutoAggregate(local, server)
		require.NoError(t, err)
		assert.Equal(t, Merge, s)
		assert.Equal(t, "server notes", merged.Report.Notes)
		assert.Equal(t, "local title", merged.Defects[0].Title)
	})
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Keep-Server ")
	require.NoError(t, err)
	assert.Equal(t, KeepServer, s)

	_, err = ParseStrategy("coin-flip")
	assert.ErrorIs(t, err, ErrUnknownStrategy)

	var flag Strategy
	require.NoError(t, flag.Set("merge"))
	assert.Equal(t, "merge", flag.String())
	assert.Error(t, flag.Set("nope"))
}
