package db

import (
	"fmt"

	"github.com/marcus/roofsync/internal/models"
)

var syncedTables = []string{"reports", "roof_elements", "defects", "photos", "compliance_assessments"}

// SyncCounts tallies sync status across every entity table plus the queue.
// Tombstones that are already synced are not counted.
func (db *DB) SyncCounts() (models.SyncCounts, error) {
	var c models.SyncCounts
	for _, table := range syncedTables {
		rows, err := db.conn.Query(fmt.Sprintf(`SELECT sync_status, COUNT(*) FROM %s
			WHERE NOT (deleted = 1 AND sync_status = 'synced') GROUP BY sync_status`, table))
		if err != nil {
			return c, classify(err)
		}
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				rows.Close()
				return c, classify(err)
			}
			switch models.SyncStatus(status) {
			case models.SyncPending:
				c.Pending += n
			case models.SyncSynced:
				c.Synced += n
			case models.SyncConflict:
				c.Conflict += n
			case models.SyncError:
				c.Error += n
			}
		}
		rows.Close()
	}

	err := db.conn.QueryRow(`SELECT
		COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)
		FROM sync_queue`).Scan(&c.Queued, &c.QueueFailed)
	return c, classify(err)
}

func (db *DB) countBy(query string, args ...any) (map[string]int, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, classify(err)
		}
		out[k] = n
	}
	return out, classify(rows.Err())
}

// DefectCountsBySeverity counts the live defects of a report per severity
func (db *DB) DefectCountsBySeverity(reportID string) (map[models.Severity]int, error) {
	raw, err := db.countBy(`SELECT severity, COUNT(*) FROM defects
		WHERE report_id = ? AND deleted = 0 GROUP BY severity`, reportID)
	if err != nil {
		return nil, err
	}
	out := make(map[models.Severity]int, len(raw))
	for k, v := range raw {
		out[models.Severity(k)] = v
	}
	return out, nil
}

// ElementCountsByCondition counts the live elements of a report per condition
func (db *DB) ElementCountsByCondition(reportID string) (map[models.Condition]int, error) {
	raw, err := db.countBy(`SELECT condition, COUNT(*) FROM roof_elements
		WHERE report_id = ? AND deleted = 0 GROUP BY condition`, reportID)
	if err != nil {
		return nil, err
	}
	out := make(map[models.Condition]int, len(raw))
	for k, v := range raw {
		out[models.Condition(k)] = v
	}
	return out, nil
}

// PhotoSummary describes the photos of a report
type PhotoSummary struct {
	Total      int
	Uploaded   int
	Pending    int
	Failed     int
	Edited     int
	TotalBytes int64
}

// PhotoSummary summarises the live photos of a report
func (db *DB) PhotoSummary(reportID string) (PhotoSummary, error) {
	var s PhotoSummary
	err := db.conn.QueryRow(`SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN upload_status = 'uploaded' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN upload_status = 'pending' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN upload_status = 'error' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN edited_from IS NOT NULL THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(size), 0)
		FROM photos WHERE report_id = ? AND deleted = 0`, reportID).
		Scan(&s.Total, &s.Uploaded, &s.Pending, &s.Failed, &s.Edited, &s.TotalBytes)
	return s, classify(err)
}

// ComplianceSummary counts checklist answers of a report per result
func (db *DB) ComplianceSummary(reportID string) (map[models.ComplianceResult]int, error) {
	out := map[models.ComplianceResult]int{}
	c, err := db.GetCompliance(reportID)
	if isNotFound(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Deleted {
		return out, nil
	}
	for _, item := range c.Results {
		out[item.Result]++
	}
	return out, nil
}

// ReportSummary bundles the per-store summaries of one report
type ReportSummary struct {
	Report     models.Report
	Defects    map[models.Severity]int
	Elements   map[models.Condition]int
	Photos     PhotoSummary
	Compliance map[models.ComplianceResult]int
}

// ReportSummary gathers every summary for a report
func (db *DB) ReportSummary(reportID string) (*ReportSummary, error) {
	r, err := db.GetReport(reportID)
	if err != nil {
		return nil, err
	}
	s := &ReportSummary{Report: *r}
	if s.Defects, err = db.DefectCountsBySeverity(reportID); err != nil {
		return nil, err
	}
	if s.Elements, err = db.ElementCountsByCondition(reportID); err != nil {
		return nil, err
	}
	if s.Photos, err = db.PhotoSummary(reportID); err != nil {
		return nil, err
	}
	if s.Compliance, err = db.ComplianceSummary(reportID); err != nil {
		return nil, err
	}
	return s, nil
}
