package db

import (
	"github.com/marcus/roofsync/internal/models"
)

// loadAggregate gathers every child of a report, tombstones included.
// Photo payloads are not loaded.
func loadAggregate(q querier, r *models.Report) (*models.ReportAggregate, error) {
	agg := &models.ReportAggregate{Report: *r}
	var err error
	if agg.Elements, err = queryElements(q, `WHERE report_id = ? ORDER BY local_created_at ASC`, r.ID); err != nil {
		return nil, err
	}
	if agg.Defects, err = queryDefects(q, `WHERE report_id = ? ORDER BY defect_number ASC, local_created_at ASC`, r.ID); err != nil {
		return nil, err
	}
	if agg.Photos, err = queryPhotos(q, `WHERE report_id = ? ORDER BY local_created_at ASC`, r.ID); err != nil {
		return nil, err
	}
	c, err := getComplianceByReport(q, r.ID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	agg.Compliance = c
	return agg, nil
}

// GetReportAggregate returns a report with all of its children, tombstones
// included, in upload order
func (db *DB) GetReportAggregate(id string) (*models.ReportAggregate, error) {
	r, err := getReport(db.conn, id)
	if err != nil {
		return nil, err
	}
	return loadAggregate(db.conn, r)
}

// AggregateEntityIDs lists the ids of every record in an aggregate
func AggregateEntityIDs(agg *models.ReportAggregate) []string {
	ids := []string{agg.Report.ID}
	for _, e := range agg.Elements {
		ids = append(ids, e.ID)
	}
	for _, d := range agg.Defects {
		ids = append(ids, d.ID)
	}
	if agg.Compliance != nil {
		ids = append(ids, agg.Compliance.ID)
	}
	for _, p := range agg.Photos {
		ids = append(ids, p.ID)
	}
	return ids
}

// HasLocalChanges reports whether any record in the aggregate carries edits
// the server has not acknowledged
func HasLocalChanges(agg *models.ReportAggregate) bool {
	dirty := func(m models.SyncMeta) bool {
		return m.SyncStatus != models.SyncSynced
	}
	if dirty(agg.Report.SyncMeta) {
		return true
	}
	for _, e := range agg.Elements {
		if dirty(e.SyncMeta) {
			return true
		}
	}
	for _, d := range agg.Defects {
		if dirty(d.SyncMeta) {
			return true
		}
	}
	if agg.Compliance != nil && dirty(agg.Compliance.SyncMeta) {
		return true
	}
	for _, p := range agg.Photos {
		// an outstanding binary transfer is not a metadata edit
		if dirty(p.SyncMeta) && !(p.SyncStatus == models.SyncPending && p.ServerUpdatedAt != nil && len(p.FieldStamps) == 0) {
			return true
		}
	}
	return false
}
