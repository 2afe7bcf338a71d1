package db

import (
	"testing"

	"github.com/marcus/roofsync/internal/models"
)

func TestNextBatchOrdersByPriority(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)

	// create children in reverse priority order
	if _, err := store.CreatePhoto(PhotoInput{ReportID: r.ID, Payload: []byte("p")}); err != nil {
		t.Fatalf("CreatePhoto: %v", err)
	}
	if _, err := store.SaveCompliance(r.ID, "", map[string]models.ComplianceItem{"a": {Result: models.ResultPass}}); err != nil {
		t.Fatalf("SaveCompliance: %v", err)
	}
	if err := store.CreateDefect(&models.Defect{ReportID: r.ID, Title: "d", Severity: models.SeverityLow}); err != nil {
		t.Fatalf("CreateDefect: %v", err)
	}
	if err := store.CreateElement(&models.RoofElement{ReportID: r.ID, Name: "e"}); err != nil {
		t.Fatalf("CreateElement: %v", err)
	}

	batch, err := store.NextBatch(10)
	if err != nil {
		t.Fatalf("NextBatch: %v", err)
	}
	want := []models.EntityType{models.EntityReport, models.EntityElement, models.EntityDefect, models.EntityCompliance, models.EntityPhoto}
	if len(batch) != len(want) {
		t.Fatalf("batch size = %d, want %d", len(batch), len(want))
	}
	for i, it := range batch {
		if it.EntityType != want[i] {
			t.Errorf("batch[%d] = %s, want %s", i, it.EntityType, want[i])
		}
	}

	limited, _ := store.NextBatch(2)
	if len(limited) != 2 {
		t.Errorf("NextBatch(2) returned %d", len(limited))
	}
}

func TestDeduplicateKeepsNewest(t *testing.T) {
	store := newTestDB(t)
	r := newTestReport(t, store)

	const edits = 4
	var last string
	for i := 0; i < edits; i++ {
		last = string(rune('a' + i))
		notes := "note " + last
		if _, err := store.UpdateReport(r.ID, ReportPatch{Notes: &notes}); err != nil {
			t.Fatalf("UpdateReport: %v", err)
		}
	}
	items, _ := store.QueueItemsForReport(r.ID)
	if len(items) != edits+1 {
		t.Fatalf("queue items before dedupe = %d, want %d", len(items), edits+1)
	}
	newest := items[len(items)-1]

	removed, err := store.Deduplicate()
	if err != nil {
		t.Fatalf("Deduplicate: %v", err)
	}
	if removed != edits {
		t.Errorf("removed = %d, want %d", removed, edits)
	}
	items, _ = store.QueueItemsForReport(r.ID)
	if len(items) != 1 {
		t.Fatalf("queue items after dedupe = %d, want 1", len(items))
	}
	if items[0].ID != newest.ID {
		t.Errorf("kept item %d, want newest %d", items[0].ID, newest.ID)
	}
}

func TestMarkRetryCeiling(t *testing.T) {
	store := newTestDB(t)
	store.SetMaxRetries(3)
	r := newTestReport(t, store)
	items, _ := store.NextBatch(1)
	id := items[0].ID

	for i := 0; i < 2; i++ {
		if err := store.MarkRetry(id, "server said no"); err != nil {
			t.Fatalf("MarkRetry: %v", err)
		}
	}
	batch, _ := store.NextBatch(10)
	if len(batch) != 1 || batch[0].RetryCount != 2 || batch[0].LastError != "server said no" {
		t.Fatalf("after 2 retries: %+v", batch)
	}

	if err := store.MarkRetry(id, "still no"); err != nil {
		t.Fatalf("MarkRetry: %v", err)
	}
	batch, _ = store.NextBatch(10)
	if len(batch) != 0 {
		t.Fatalf("item past ceiling still returned: %+v", batch)
	}
	failed, _ := store.ListFailedQueueItems()
	if len(failed) != 1 || failed[0].ReportID != r.ID || failed[0].Status != models.QueueFailed {
		t.Fatalf("failed items = %+v", failed)
	}
}

func TestRemoveQueueItems(t *testing.T) {
	store := newTestDB(t)
	a := newTestReport(t, store)
	b := newTestReport(t, store)

	if err := store.RemoveQueueItems([]string{a.ID}); err != nil {
		t.Fatalf("RemoveQueueItems: %v", err)
	}
	all, _ := store.ListQueueItems()
	if len(all) != 1 || all[0].EntityID != b.ID {
		t.Fatalf("remaining = %+v", all)
	}
	if err := store.RemoveQueueItems(nil); err != nil {
		t.Fatalf("RemoveQueueItems(nil): %v", err)
	}
}

func TestEnqueueRejectsUnknownType(t *testing.T) {
	store := newTestDB(t)
	if err := store.Enqueue("invoice", models.ActionCreate, "x", "y", nil); err == nil {
		t.Fatal("expected error for unknown entity type")
	}
}
