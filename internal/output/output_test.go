package output

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/marcus/roofsync/internal/models"
)

func TestFormatTimeAgo(t *testing.T) {
	tests := []struct {
		ago      time.Duration
		expected string
	}{
		{0, "just now"},
		{59 * time.Second, "just now"},
		{1 * time.Minute, "1m ago"},
		{30 * time.Minute, "30m ago"},
		{1 * time.Hour, "1h ago"},
		{23 * time.Hour, "23h ago"},
		{24 * time.Hour, "1d ago"},
		{3 * 24 * time.Hour, "3d ago"},
	}
	for _, tc := range tests {
		if got := FormatTimeAgo(time.Now().Add(-tc.ago)); got != tc.expected {
			t.Errorf("FormatTimeAgo(-%v) = %q, want %q", tc.ago, got, tc.expected)
		}
	}

	old := time.Now().Add(-30 * 24 * time.Hour)
	if got := FormatTimeAgo(old); got != old.Format("2006-01-02") {
		t.Errorf("FormatTimeAgo(old) = %q", got)
	}
	if got := FormatTimeAgo(time.Time{}); got != "never" {
		t.Errorf("FormatTimeAgo(zero) = %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "0 B",
		3:               "3 B",
		1024:            "1.0 KiB",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Errorf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0f8fad5b-d9cb-469f-a165-70867728950e"); got != "0f8fad5b" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID(short) = %q", got)
	}
}

func TestFormatDefectShort(t *testing.T) {
	d := &models.Defect{
		ID:           "d-1",
		DefectNumber: 3,
		Title:        "Cracked ridge tile",
		Severity:     models.SeverityHigh,
		Location:     "north ridge",
	}
	d.SyncStatus = models.SyncPending
	got := FormatDefectShort(d)
	for _, want := range []string{"#3", "HIGH", "Cracked ridge tile", "north ridge", "pending"} {
		if !strings.Contains(got, want) {
			t.Errorf("FormatDefectShort missing %q: %q", want, got)
		}
	}
}

func TestFormatReportLongSkipsTombstones(t *testing.T) {
	agg := &models.ReportAggregate{
		Report: models.Report{ID: "r-1", ClientName: "Acme", SiteAddress: "1 Main St", Status: models.ReportDraft},
		Defects: []models.Defect{
			{ID: "d-1", DefectNumber: 1, Title: "Loose flashing", Severity: models.SeverityLow},
			{ID: "d-2", DefectNumber: 2, Title: "Removed finding", Severity: models.SeverityLow, SyncMeta: models.SyncMeta{Deleted: true}},
		},
		Photos: []models.Photo{{ID: "p-1", FileName: "flashing.jpg", Size: 2048}},
	}
	got := FormatReportLong(agg)
	if !strings.Contains(got, "Loose flashing") || strings.Contains(got, "Removed finding") {
		t.Errorf("defect section: %q", got)
	}
	if !strings.Contains(got, "flashing.jpg") || !strings.Contains(got, "awaiting upload") {
		t.Errorf("photo section: %q", got)
	}
}

func TestFormatCompliance(t *testing.T) {
	c := &models.ComplianceAssessment{Results: map[string]models.ComplianceItem{
		"gutters":  {Result: models.ResultFail, Note: "blocked"},
		"flashing": {Result: models.ResultPass},
	}}
	lines := FormatCompliance(c)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "flashing") || !strings.Contains(lines[1], "blocked") {
		t.Errorf("lines not sorted by item: %q", lines)
	}
}

func TestStatusBadge(t *testing.T) {
	if got := StatusBadge(models.SyncSynced); !strings.Contains(got, "✓ synced") {
		t.Errorf("StatusBadge(synced) = %q", got)
	}
	if got := StatusBadge("weird"); !strings.Contains(got, "? weird") {
		t.Errorf("StatusBadge(unknown) = %q", got)
	}
}

func TestIndentString(t *testing.T) {
	if got := IndentString("a\nb", 2); got != "  a\n  b" {
		t.Errorf("IndentString = %q", got)
	}
	if got := IndentString("", 2); got != "" {
		t.Errorf("IndentString(empty) = %q", got)
	}
}

func TestRenderNotesBlank(t *testing.T) {
	got, err := renderNotes("   \n", 40, glamour.WithStandardStyle("notty"))
	if err != nil || got != "" {
		t.Errorf("renderNotes(blank) = %q, %v", got, err)
	}
}

func TestRenderNotesPlainStyle(t *testing.T) {
	got, err := renderNotes("Gutters **blocked** at the north end", 60, glamour.WithStandardStyle("notty"))
	if err != nil {
		t.Fatalf("renderNotes: %v", err)
	}
	if !strings.Contains(got, "blocked") {
		t.Errorf("rendered = %q", got)
	}
}

func TestClipKeepsShortValues(t *testing.T) {
	if got := clip("ridge", 10); got != "ridge" {
		t.Errorf("clip(short) = %q", got)
	}
	long := strings.Repeat("moss on north face ", 10)
	got := clip(long, 20)
	if !strings.HasSuffix(got, "…") || len([]rune(got)) > 20 {
		t.Errorf("clip(long) = %q", got)
	}
}
