package db

import (
	"errors"
	"testing"

	"github.com/marcus/roofsync/internal/models"
)

func createDefects(t *testing.T, store *DB, reportID string, titles ...string) []*models.Defect {
	t.Helper()
	var out []*models.Defect
	for _, title := range titles {
		d := &models.Defect{ReportID: reportID, Title: title, Severity: models.SeverityMedium}
		if err := store.CreateDefect(d); err != nil {
			t.Fatalf("CreateDefect(%s): %v", title, err)
		}
		out = append(out, d)
	}
	return out
}

func TestDefectNumbering(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)

	n, err := store.NextDefectNumber(r.ID)
	if err != nil || n != 1 {
		t.Fatalf("NextDefectNumber on empty report = %d, %v", n, err)
	}
	ds := createDefects(t, store, r.ID, "a", "b", "c")
	for i, d := range ds {
		if d.DefectNumber != i+1 {
			t.Errorf("defect %s number = %d, want %d", d.Title, d.DefectNumber, i+1)
		}
	}

	// numbering is per report
	other := newTestReport(t, store)
	od := createDefects(t, store, other.ID, "x")
	if od[0].DefectNumber != 1 {
		t.Errorf("second report started at %d", od[0].DefectNumber)
	}
}

func TestRenumberAfterDeletingMiddleDefect(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	ds := createDefects(t, store, r.ID, "first", "second", "third")

	if err := store.DeleteDefect(ds[1].ID); err != nil {
		t.Fatalf("DeleteDefect: %v", err)
	}
	moved, err := store.RenumberDefects(r.ID)
	if err != nil {
		t.Fatalf("RenumberDefects: %v", err)
	}
	if moved != 1 {
		t.Errorf("moved = %d, want 1", moved)
	}

	live, err := store.ListDefects(r.ID)
	if err != nil {
		t.Fatalf("ListDefects: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("live defects = %d, want 2", len(live))
	}
	if live[0].ID != ds[0].ID || live[0].DefectNumber != 1 {
		t.Errorf("first defect = %s #%d", live[0].ID, live[0].DefectNumber)
	}
	if live[1].ID != ds[2].ID || live[1].DefectNumber != 2 {
		t.Errorf("third defect should now be #2 with the same id, got %s #%d", live[1].ID, live[1].DefectNumber)
	}
	if live[1].SyncStatus != models.SyncPending {
		t.Errorf("renumbered defect status = %s", live[1].SyncStatus)
	}

	n, _ := store.NextDefectNumber(r.ID)
	if n != 3 {
		t.Errorf("NextDefectNumber after renumber = %d, want 3", n)
	}
}

func TestUpdateDefectElementReference(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	other := newTestReport(t, store)
	e := &models.RoofElement{ReportID: other.ID, Name: "Chimney"}
	if err := store.CreateElement(e); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	d := createDefects(t, store, r.ID, "Flashing")[0]

	_, err := store.UpdateDefect(d.ID, DefectPatch{ElementID: &e.ID})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("cross-report element link: expected ErrValidation, got %v", err)
	}

	sev := models.SeverityCritical
	updated, err := store.UpdateDefect(d.ID, DefectPatch{Severity: &sev})
	if err != nil {
		t.Fatalf("UpdateDefect: %v", err)
	}
	if updated.Severity != models.SeverityCritical {
		t.Errorf("Severity = %s", updated.Severity)
	}

	counts, err := store.DefectCountsBySeverity(r.ID)
	if err != nil {
		t.Fatalf("DefectCountsBySeverity: %v", err)
	}
	if counts[models.SeverityCritical] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestDeleteElementNullsReferences(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	e := &models.RoofElement{ReportID: r.ID, Name: "Valley", Condition: models.ConditionPoor}
	if err := store.CreateElement(e); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	d := &models.Defect{ReportID: r.ID, ElementID: e.ID, Title: "Debris", Severity: models.SeverityLow}
	if err := store.CreateDefect(d); err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}
	p, err := store.CreatePhoto(PhotoInput{ReportID: r.ID, ElementID: e.ID, Payload: []byte("jpeg-ish")})
	if err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	counts, _ := store.ElementCountsByCondition(r.ID)
	if counts[models.ConditionPoor] != 1 {
		t.Errorf("condition counts = %v", counts)
	}

	if err := store.DeleteElement(e.ID); err != nil {
		t.Fatalf("DeleteElement: %v", err)
	}

	gotD, _ := store.GetDefect(d.ID)
	if gotD.ElementID != "" || gotD.Deleted {
		t.Errorf("defect after element delete: element=%q deleted=%v", gotD.ElementID, gotD.Deleted)
	}
	if gotD.SyncStatus != models.SyncPending {
		t.Errorf("defect not stamped pending")
	}
	gotP, _ := store.GetPhoto(p.ID)
	if gotP.ElementID != "" || gotP.Deleted {
		t.Errorf("photo after element delete: element=%q deleted=%v", gotP.ElementID, gotP.Deleted)
	}
	gotE, _ := store.GetElement(e.ID)
	if !gotE.Deleted {
		t.Error("element not tombstoned")
	}
	if live, _ := store.ListElements(r.ID); len(live) != 0 {
		t.Errorf("deleted element still listed")
	}
}

func TestUpdateElement(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	e := &models.RoofElement{ReportID: r.ID, Name: "Skylight"}
	if err := store.CreateElement(e); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	bad := models.Condition("broken")
	if _, err := store.UpdateElement(e.ID, ElementPatch{Condition: &bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	good := models.ConditionFair
	got, err := store.UpdateElement(e.ID, ElementPatch{Condition: &good})
	if err != nil {
		t.Fatalf("UpdateElement: %v", err)
	}
	if got.Condition != models.ConditionFair {
		t.Errorf("Condition = %s", got.Condition)
	}
}

func TestCreateElementOnDeletedReport(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	if err := store.DeleteReport(r.ID); err != nil {
		t.Fatalf("DeleteReport: %v", err)
	}
	err := store.CreateElement(&models.RoofElement{ReportID: r.ID, Name: "Eaves"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCompliance(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)

	c, err := store.SaveCompliance(r.ID, "chk-1", map[string]models.ComplianceItem{
		"gutters":  {Result: models.ResultPass},
		"flashing": {Result: models.ResultFail, Note: "lifted"},
	})
	if err != nil {
		t.Fatalf("SaveCompliance: %v", err)
	}
	firstID := c.ID

	c, err = store.SetComplianceItem(r.ID, "vents", models.ComplianceItem{Result: models.ResultNA})
	if err != nil {
		t.Fatalf("SetComplianceItem: %v", err)
	}
	if c.ID != firstID {
		t.Errorf("assessment identity changed: %s -> %s", firstID, c.ID)
	}
	if c.ChecklistID != "chk-1" || len(c.Results) != 3 {
		t.Errorf("unexpected assessment: %+v", c)
	}

	summary, err := store.ComplianceSummary(r.ID)
	if err != nil {
		t.Fatalf("ComplianceSummary: %v", err)
	}
	if summary[models.ResultPass] != 1 || summary[models.ResultFail] != 1 || summary[models.ResultNA] != 1 {
		t.Errorf("summary = %v", summary)
	}

	_, err = store.SetComplianceItem(r.ID, "x", models.ComplianceItem{Result: "maybe"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad result, got %v", err)
	}
}
