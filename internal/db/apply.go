package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

// MarkAggregateSynced records that the server accepted an uploaded
// aggregate at serverTime. Records edited after the snapshot was taken keep
// their pending status but adopt the new base marker. Photos whose binary
// has not been transferred stay pending. Returns the ids marked synced,
// whose queue items are removed.
func (db *DB) MarkAggregateSynced(uploaded *models.ReportAggregate, serverTime time.Time) ([]string, error) {
	var synced []string
	marker := serverTime.UTC()
	accept := func(m *models.SyncMeta, sent models.SyncMeta, id string) {
		m.ServerUpdatedAt = &marker
		if m.LocalUpdatedAt.Equal(sent.LocalUpdatedAt) {
			stampServer(m, &marker)
			synced = append(synced, id)
		}
	}

	err := db.withTx(func(tx *sql.Tx) error {
		r, err := getReport(tx, uploaded.Report.ID)
		if err != nil {
			return err
		}
		accept(&r.SyncMeta, uploaded.Report.SyncMeta, r.ID)
		if err := saveReport(tx, r); err != nil {
			return err
		}

		for _, sent := range uploaded.Elements {
			e, err := getElement(tx, sent.ID)
			if err != nil {
				return err
			}
			accept(&e.SyncMeta, sent.SyncMeta, e.ID)
			if err := saveElement(tx, e); err != nil {
				return err
			}
		}
		for _, sent := range uploaded.Defects {
			d, err := getDefect(tx, sent.ID)
			if err != nil {
				return err
			}
			accept(&d.SyncMeta, sent.SyncMeta, d.ID)
			if err := saveDefect(tx, d); err != nil {
				return err
			}
		}
		if sent := uploaded.Compliance; sent != nil {
			c, err := getComplianceByReport(tx, r.ID)
			if err != nil {
				return err
			}
			accept(&c.SyncMeta, sent.SyncMeta, c.ID)
			if err := saveCompliance(tx, c); err != nil {
				return err
			}
		}
		for _, sent := range uploaded.Photos {
			p, err := getPhoto(tx, sent.ID)
			if err != nil {
				return err
			}
			if p.UploadStatus == models.UploadUploaded || p.Deleted {
				accept(&p.SyncMeta, sent.SyncMeta, p.ID)
			} else {
				p.ServerUpdatedAt = &marker
				if p.LocalUpdatedAt.Equal(sent.LocalUpdatedAt) {
					p.FieldStamps = nil
				}
			}
			if err := updatePhotoMeta(tx, p); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM sync_conflicts WHERE report_id = ?`, r.ID); err != nil {
			return err
		}
		return removeQueueItems(tx, synced)
	})
	if err != nil {
		return nil, err
	}
	return synced, nil
}

// MarkReportError records a server rejection and counts a retry against
// every live queue item of the report
func (db *DB) MarkReportError(reportID, reason string) error {
	return db.withTx(func(tx *sql.Tx) error {
		r, err := getReport(tx, reportID)
		if err != nil {
			return err
		}
		r.SyncStatus = models.SyncError
		r.SyncError = reason
		if err := saveReport(tx, r); err != nil {
			return err
		}
		return db.markRetry(tx, "report_id = ?", reason, reportID)
	})
}

// ApplyServerAggregate overwrites local records with the server copy and
// marks them synced. Records only known locally are left alone. Photo
// payloads and recorded hashes on this device are never replaced.
func (db *DB) ApplyServerAggregate(agg *models.ReportAggregate) error {
	return db.withTx(func(tx *sql.Tx) error {
		return db.applyServerAggregate(tx, agg)
	})
}

func (db *DB) applyServerAggregate(tx *sql.Tx, agg *models.ReportAggregate) error {
	marker := agg.Report.ServerUpdatedAt
	markerFor := func(m models.SyncMeta) *time.Time {
		if m.ServerUpdatedAt != nil {
			return m.ServerUpdatedAt
		}
		return marker
	}

	r := agg.Report
	stampServer(&r.SyncMeta, marker)
	if err := saveReport(tx, &r); err != nil {
		return err
	}
	for _, e := range agg.Elements {
		stampServer(&e.SyncMeta, markerFor(e.SyncMeta))
		e.ReportID = r.ID
		if err := saveElement(tx, &e); err != nil {
			return err
		}
	}
	for _, d := range agg.Defects {
		stampServer(&d.SyncMeta, markerFor(d.SyncMeta))
		d.ReportID = r.ID
		if err := saveDefect(tx, &d); err != nil {
			return err
		}
	}
	if agg.Compliance != nil {
		c := *agg.Compliance
		c.ReportID = r.ID
		stampServer(&c.SyncMeta, markerFor(c.SyncMeta))
		// the report-unique constraint keeps one assessment per report
		if _, err := tx.Exec(`DELETE FROM compliance_assessments WHERE report_id = ? AND id != ?`, r.ID, c.ID); err != nil {
			return err
		}
		if err := saveCompliance(tx, &c); err != nil {
			return err
		}
	}
	var keep []string
	for _, p := range agg.Photos {
		p.ReportID = r.ID
		stampServer(&p.SyncMeta, markerFor(p.SyncMeta))
		local, err := getPhoto(tx, p.ID)
		switch {
		case isNotFound(err):
			// the binary belongs to the capturing device, never uploaded from here
			p.Payload, p.Thumbnail = nil, nil
			p.UploadStatus = models.UploadUploaded
			p.UploadError = ""
			if err := insertPhoto(tx, &p); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			p.OriginalHash = local.OriginalHash
			if local.UploadStatus != models.UploadUploaded {
				// the binary still has to leave this device
				p.UploadStatus = local.UploadStatus
				p.UploadError = local.UploadError
				p.SyncStatus = models.SyncPending
				keep = append(keep, p.ID)
			}
			if err := updatePhotoMeta(tx, &p); err != nil {
				return err
			}
		}
	}

	if err := removeQueueItems(tx, without(AggregateEntityIDs(agg), keep)); err != nil {
		return err
	}
	_, err := tx.Exec(`DELETE FROM sync_conflicts WHERE report_id = ?`, r.ID)
	return err
}

// AdoptServerMarker keeps the local version of a conflicted report and
// rebases it on the server's current version so the next upload replaces it
func (db *DB) AdoptServerMarker(reportID string, serverUpdatedAt time.Time) error {
	return db.withTx(func(tx *sql.Tx) error {
		r, err := getReport(tx, reportID)
		if err != nil {
			return err
		}
		marker := serverUpdatedAt.UTC()
		r.ServerUpdatedAt = &marker
		r.SyncStatus = models.SyncPending
		r.SyncError = ""
		if err := saveReport(tx, r); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM sync_conflicts WHERE report_id = ?`, reportID); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityReport, models.ActionUpdate, r.ID, r.ID, r)
	})
}

// SaveMergedAggregate stores the result of a field-level merge. Records
// present locally take the merged values as a new pending edit; records
// only the server had are stored as synced copies. The report is rebased
// on serverUpdatedAt.
func (db *DB) SaveMergedAggregate(merged *models.ReportAggregate, serverUpdatedAt time.Time) error {
	marker := serverUpdatedAt.UTC()
	return db.withTx(func(tx *sql.Tx) error {
		reportID := merged.Report.ID
		edit := func(m *models.SyncMeta, local models.SyncMeta) {
			m.LocalCreatedAt = local.LocalCreatedAt
			m.LocalUpdatedAt = local.LocalUpdatedAt
			m.FieldStamps = local.FieldStamps
			m.ServerUpdatedAt = local.ServerUpdatedAt
			db.stampEdit(m, nil)
			m.SyncStatus = models.SyncPending
		}

		localReport, err := getReport(tx, reportID)
		if err != nil {
			return err
		}
		r := merged.Report
		edit(&r.SyncMeta, localReport.SyncMeta)
		r.ServerUpdatedAt = &marker
		if err := saveReport(tx, &r); err != nil {
			return err
		}
		if err := db.enqueue(tx, models.EntityReport, models.ActionUpdate, r.ID, r.ID, r); err != nil {
			return err
		}

		for _, e := range merged.Elements {
			local, err := getElement(tx, e.ID)
			if isNotFound(err) {
				stampServer(&e.SyncMeta, e.ServerUpdatedAt)
			} else if err != nil {
				return err
			} else {
				edit(&e.SyncMeta, local.SyncMeta)
				if err := db.enqueue(tx, models.EntityElement, models.ActionUpdate, e.ID, reportID, e); err != nil {
					return err
				}
			}
			if err := saveElement(tx, &e); err != nil {
				return err
			}
		}
		for _, d := range merged.Defects {
			local, err := getDefect(tx, d.ID)
			if isNotFound(err) {
				stampServer(&d.SyncMeta, d.ServerUpdatedAt)
			} else if err != nil {
				return err
			} else {
				edit(&d.SyncMeta, local.SyncMeta)
				if err := db.enqueue(tx, models.EntityDefect, models.ActionUpdate, d.ID, reportID, d); err != nil {
					return err
				}
			}
			if err := saveDefect(tx, &d); err != nil {
				return err
			}
		}
		if merged.Compliance != nil {
			c := *merged.Compliance
			local, err := getComplianceByReport(tx, reportID)
			if isNotFound(err) {
				stampServer(&c.SyncMeta, c.ServerUpdatedAt)
			} else if err != nil {
				return err
			} else {
				c.ID = local.ID
				edit(&c.SyncMeta, local.SyncMeta)
				if err := db.enqueue(tx, models.EntityCompliance, models.ActionUpdate, c.ID, reportID, c); err != nil {
					return err
				}
			}
			if err := saveCompliance(tx, &c); err != nil {
				return err
			}
		}
		for _, p := range merged.Photos {
			local, err := getPhoto(tx, p.ID)
			if isNotFound(err) {
				stampServer(&p.SyncMeta, p.ServerUpdatedAt)
				p.Payload, p.Thumbnail = nil, nil
				p.UploadStatus, p.UploadError = models.UploadUploaded, ""
				if err := insertPhoto(tx, &p); err != nil {
					return err
				}
				continue
			} else if err != nil {
				return err
			}
			p.UploadStatus, p.UploadError, p.StorageURL = local.UploadStatus, local.UploadError, local.StorageURL
			edit(&p.SyncMeta, local.SyncMeta)
			if err := updatePhotoMeta(tx, &p); err != nil {
				return err
			}
			if err := db.enqueue(tx, models.EntityPhoto, models.ActionUpdate, p.ID, reportID, p); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(`DELETE FROM sync_conflicts WHERE report_id = ?`, reportID); err != nil {
			return fmt.Errorf("clear conflict %s: %w", reportID, err)
		}
		return nil
	})
}

func without(ids, drop []string) []string {
	if len(drop) == 0 {
		return ids
	}
	skip := make(map[string]bool, len(drop))
	for _, id := range drop {
		skip[id] = true
	}
	var out []string
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
