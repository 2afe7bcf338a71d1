package db

import (
	"errors"
	"testing"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

func TestCreateReportDefaults(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)

	if r.ID == "" {
		t.Fatal("ID not assigned")
	}
	got, err := store.GetReport(r.ID)
	if err != nil {
		t.Fatalf("GetReport: %v", err)
	}
	if got.Status != models.ReportDraft {
		t.Errorf("Status = %s, want draft", got.Status)
	}
	if got.SyncStatus != models.SyncPending {
		t.Errorf("SyncStatus = %s, want pending", got.SyncStatus)
	}
	if got.ServerUpdatedAt != nil {
		t.Error("new report should have no server marker")
	}

	items, err := store.QueueItemsForReport(r.ID)
	if err != nil {
		t.Fatalf("QueueItemsForReport: %v", err)
	}
	if len(items) != 1 || items[0].Action != models.ActionCreate || items[0].EntityType != models.EntityReport {
		t.Fatalf("expected one create item, got %+v", items)
	}
}

func TestCreateReportValidation(t *testing.T) {
	store := newTestDB(t)
	err := store.CreateReport(&models.Report{SiteAddress: "somewhere"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	err = store.CreateReport(&models.Report{ClientName: "a", SiteAddress: "b", Status: "archived"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad status, got %v", err)
	}
}

func TestUpdateReportStampsAndQueues(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	before, _ := store.GetReport(r.ID)

	notes := "Ridge capping loose"
	updated, err := store.UpdateReport(r.ID, ReportPatch{Notes: &notes})
	if err != nil {
		t.Fatalf("UpdateReport: %v", err)
	}
	if !updated.LocalUpdatedAt.After(before.LocalUpdatedAt) {
		t.Errorf("local_updated_at did not advance: %v -> %v", before.LocalUpdatedAt, updated.LocalUpdatedAt)
	}
	if updated.Status != models.ReportDraft {
		t.Errorf("workflow status changed without being named: %s", updated.Status)
	}
	if _, ok := updated.FieldStamps["notes"]; !ok {
		t.Error("field stamp for notes not recorded")
	}

	items, _ := store.QueueItemsForReport(r.ID)
	if len(items) != 2 {
		t.Fatalf("expected create+update queue items, got %d", len(items))
	}

	// a no-op patch does not stamp or enqueue
	again, err := store.UpdateReport(r.ID, ReportPatch{Notes: &notes})
	if err != nil {
		t.Fatalf("UpdateReport no-op: %v", err)
	}
	if !again.LocalUpdatedAt.Equal(updated.LocalUpdatedAt) {
		t.Error("no-op update changed local_updated_at")
	}
	items, _ = store.QueueItemsForReport(r.ID)
	if len(items) != 2 {
		t.Errorf("no-op update enqueued an item")
	}

	status := models.ReportSubmitted
	updated, err = store.UpdateReport(r.ID, ReportPatch{Status: &status})
	if err != nil {
		t.Fatalf("UpdateReport status: %v", err)
	}
	if updated.Status != models.ReportSubmitted {
		t.Errorf("Status = %s, want submitted", updated.Status)
	}
}

func TestUpdateAfterSyncReturnsToPending(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	agg, _ := store.GetReportAggregate(r.ID)
	if _, err := store.MarkAggregateSynced(agg, time.Now()); err != nil {
		t.Fatalf("MarkAggregateSynced: %v", err)
	}
	got, _ := store.GetReport(r.ID)
	if got.SyncStatus != models.SyncSynced {
		t.Fatalf("SyncStatus = %s, want synced", got.SyncStatus)
	}

	weather := "overcast"
	updated, err := store.UpdateReport(r.ID, ReportPatch{Weather: &weather})
	if err != nil {
		t.Fatalf("UpdateReport: %v", err)
	}
	if updated.SyncStatus != models.SyncPending {
		t.Errorf("SyncStatus = %s, want pending", updated.SyncStatus)
	}
}

func TestDeleteReportTombstonesChildren(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	e := &models.RoofElement{ReportID: r.ID, Name: "North slope"}
	if err := store.CreateElement(e); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	d := &models.Defect{ReportID: r.ID, Title: "Cracked tile", Severity: models.SeverityHigh}
	if err := store.CreateDefect(d); err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}
	p, err := store.CreatePhoto(PhotoInput{ReportID: r.ID, Payload: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}

	if err := store.DeleteReport(r.ID); err != nil {
		t.Fatalf("DeleteReport: %v", err)
	}

	agg, err := store.GetReportAggregate(r.ID)
	if err != nil {
		t.Fatalf("GetReportAggregate: %v", err)
	}
	if !agg.Report.Deleted || !agg.Elements[0].Deleted || !agg.Defects[0].Deleted || !agg.Photos[0].Deleted {
		t.Fatalf("children not tombstoned: %+v", agg)
	}
	if live, _ := store.ListReports(false); len(live) != 0 {
		t.Errorf("deleted report still listed")
	}
	if all, _ := store.ListReports(true); len(all) != 1 {
		t.Errorf("tombstone missing from full listing")
	}
	if got, _ := store.GetPhoto(p.ID); got.OriginalHash != p.OriginalHash {
		t.Error("tombstoning changed the photo hash")
	}
}

func TestPurgeReport(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	if err := store.CreateDefect(&models.Defect{ReportID: r.ID, Title: "Rust", Severity: models.SeverityLow}); err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}

	if err := store.PurgeReport(r.ID); !errors.Is(err, ErrNotPurgeable) {
		t.Fatalf("purging a live report: expected ErrNotPurgeable, got %v", err)
	}

	if err := store.DeleteReport(r.ID); err != nil {
		t.Fatalf("DeleteReport: %v", err)
	}
	if err := store.PurgeReport(r.ID); !errors.Is(err, ErrNotPurgeable) {
		t.Fatalf("purging an unsynced tombstone: expected ErrNotPurgeable, got %v", err)
	}

	agg, _ := store.GetReportAggregate(r.ID)
	if _, err := store.MarkAggregateSynced(agg, time.Now()); err != nil {
		t.Fatalf("MarkAggregateSynced: %v", err)
	}
	if err := store.PurgeReport(r.ID); err != nil {
		t.Fatalf("PurgeReport: %v", err)
	}
	if _, err := store.GetReport(r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("report survived purge: %v", err)
	}
	var n int
	store.conn.QueryRow(`SELECT COUNT(*) FROM defects WHERE report_id = ?`, r.ID).Scan(&n)
	if n != 0 {
		t.Errorf("%d defects survived purge", n)
	}
	if items, _ := store.QueueItemsForReport(r.ID); len(items) != 0 {
		t.Errorf("queue items survived purge")
	}
}

func TestListReportsDueForUpload(t *testing.T) {
	store := newTestDB(t)
	pending := newTestReport(t, store)
	clean := newTestReport(t, store)

	agg, _ := store.GetReportAggregate(clean.ID)
	if _, err := store.MarkAggregateSynced(agg, time.Now()); err != nil {
		t.Fatalf("MarkAggregateSynced: %v", err)
	}

	ids, err := store.ListReportsDueForUpload()
	if err != nil {
		t.Fatalf("ListReportsDueForUpload: %v", err)
	}
	if len(ids) != 1 || ids[0] != pending.ID {
		t.Fatalf("due = %v, want [%s]", ids, pending.ID)
	}

	// a pending child makes a synced report due again
	if err := store.CreateElement(&models.RoofElement{ReportID: clean.ID, Name: "Gutter"}); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}
	ids, _ = store.ListReportsDueForUpload()
	if len(ids) != 2 {
		t.Fatalf("expected both reports due, got %v", ids)
	}
}

func TestReportsPastRetryCeilingAreHeldBack(t *testing.T) {
	store := newTestDB(t)
	store.SetMaxRetries(2)
	r := newTestReport(t, store)

	for i := 0; i < 2; i++ {
		if err := store.MarkReportError(r.ID, "rejected: missing field"); err != nil {
			t.Fatalf("MarkReportError: %v", err)
		}
	}
	ids, _ := store.ListReportsDueForUpload()
	if len(ids) != 0 {
		t.Fatalf("report past retry ceiling still due: %v", ids)
	}
	got, _ := store.GetReport(r.ID)
	if got.SyncStatus != models.SyncError || got.SyncError == "" {
		t.Errorf("expected error status with reason, got %s %q", got.SyncStatus, got.SyncError)
	}

	if n, err := store.RequeueFailed(); err != nil || n != 1 {
		t.Fatalf("RequeueFailed = %d, %v", n, err)
	}
	ids, _ = store.ListReportsDueForUpload()
	if len(ids) != 1 {
		t.Fatalf("requeued report not due: %v", ids)
	}
}

func TestListReportsUpdatedSince(t *testing.T) {
	store := newTestDB(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store.SetClock(func() time.Time { return clock })

	old := newTestReport(t, store)
	clock = base.Add(time.Hour)
	fresh := newTestReport(t, store)

	got, err := store.ListReportsUpdatedSince(base.Add(30 * time.Minute))
	if err != nil {
		t.Fatalf("ListReportsUpdatedSince: %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Fatalf("got %+v, want only %s (not %s)", got, fresh.ID, old.ID)
	}
}

func TestSyncCounts(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)
	if err := store.CreateDefect(&models.Defect{ReportID: r.ID, Title: "Leak", Severity: models.SeverityCritical}); err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}
	c, err := store.SyncCounts()
	if err != nil {
		t.Fatalf("SyncCounts: %v", err)
	}
	if c.Pending != 2 || c.Synced != 0 || c.Queued != 2 {
		t.Errorf("unexpected counts: %+v", c)
	}
}
