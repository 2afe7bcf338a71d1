package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEntityPriorityOrder(t *testing.T) {
	order := []EntityType{EntityReport, EntityElement, EntityDefect, EntityCompliance, EntityPhoto}
	for i := 1; i < len(order); i++ {
		if order[i-1].Priority() >= order[i].Priority() {
			t.Errorf("%s priority %d should be below %s priority %d",
				order[i-1], order[i-1].Priority(), order[i], order[i].Priority())
		}
	}
	if IsValidEntityType("invoice") {
		t.Error("unknown entity type reported valid")
	}
}

func TestPhotoJSONOmitsBinary(t *testing.T) {
	p := Photo{ID: "p1", ReportID: "r1", Payload: []byte{1, 2, 3}, Thumbnail: []byte{4}}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "payload") || strings.Contains(s, "thumbnail") {
		t.Errorf("binary content leaked into metadata: %s", s)
	}
	if !strings.Contains(s, `"sync_status"`) {
		t.Errorf("embedded sync meta not flattened: %s", s)
	}
}

func TestValidators(t *testing.T) {
	if !IsValidSeverity(SeverityCritical) || IsValidSeverity("urgent") {
		t.Error("IsValidSeverity wrong")
	}
	if !IsValidCondition(ConditionFailed) || IsValidCondition("broken") {
		t.Error("IsValidCondition wrong")
	}
	if !IsValidReportStatus(ReportFinalised) || IsValidReportStatus("closed") {
		t.Error("IsValidReportStatus wrong")
	}
	if !IsValidSyncStatus(SyncConflict) || IsValidSyncStatus("dirty") {
		t.Error("IsValidSyncStatus wrong")
	}
}
