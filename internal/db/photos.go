package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/photo"
)

const photoCols = "id, report_id, defect_id, element_id, edited_from, caption, file_name, content_type, size, width, height, original_hash, upload_status, upload_error, storage_url, " + metaCols

// PhotoInput is what a caller supplies when capturing a photo
type PhotoInput struct {
	ReportID  string `validate:"required"`
	DefectID  string
	ElementID string
	Caption   string `validate:"max=500"`
	FileName  string `validate:"max=255"`
	Payload   []byte `validate:"required"`
}

// PhotoPatch carries the metadata fields to change on a photo.
// Content is immutable; edits produce a new photo via CreateEditedPhoto.
type PhotoPatch struct {
	Caption   *string
	DefectID  *string
	ElementID *string
}

func scanPhoto(row interface{ Scan(...any) error }, extra ...any) (*models.Photo, error) {
	var p models.Photo
	var m metaScan
	var defectID, elementID, editedFrom, uploadErr, storageURL sql.NullString
	var uploadStatus string
	dest := []any{&p.ID, &p.ReportID, &defectID, &elementID, &editedFrom, &p.Caption, &p.FileName,
		&p.ContentType, &p.Size, &p.Width, &p.Height, &p.OriginalHash, &uploadStatus, &uploadErr, &storageURL}
	dest = append(dest, m.dest()...)
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.DefectID = defectID.String
	p.ElementID = elementID.String
	p.EditedFrom = editedFrom.String
	p.UploadStatus = models.UploadStatus(uploadStatus)
	p.UploadError = uploadErr.String
	p.StorageURL = storageURL.String
	if err := m.fill(&p.SyncMeta); err != nil {
		return nil, err
	}
	return &p, nil
}

func queryPhotos(q querier, where string, args ...any) ([]models.Photo, error) {
	rows, err := q.Query(`SELECT `+photoCols+` FROM photos `+where, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []models.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, *p)
	}
	return out, classify(rows.Err())
}

func getPhoto(q querier, id string) (*models.Photo, error) {
	var thumb []byte
	p, err := scanPhoto(q.QueryRow(`SELECT `+photoCols+`, thumbnail FROM photos WHERE id = ?`, id), &thumb)
	if err == sql.ErrNoRows {
		return nil, notFound("photo", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	p.Thumbnail = thumb
	return p, nil
}

func insertPhoto(q querier, p *models.Photo) error {
	args := []any{p.ID, p.ReportID, nullString(p.DefectID), nullString(p.ElementID), nullString(p.EditedFrom),
		p.Caption, p.FileName, p.ContentType, p.Size, p.Width, p.Height, p.OriginalHash,
		string(p.UploadStatus), nullString(p.UploadError), nullString(p.StorageURL)}
	args = append(args, metaArgs(p.SyncMeta)...)
	args = append(args, p.Payload, p.Thumbnail)
	_, err := q.Exec(`INSERT INTO photos (`+photoCols+`, payload, thumbnail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return fmt.Errorf("insert photo %s: %w", p.ID, err)
	}
	return nil
}

// updatePhotoMeta rewrites every mutable column. The hash, payload and
// thumbnail are never touched here.
func updatePhotoMeta(q querier, p *models.Photo) error {
	args := []any{nullString(p.DefectID), nullString(p.ElementID), p.Caption, p.FileName,
		string(p.UploadStatus), nullString(p.UploadError), nullString(p.StorageURL)}
	args = append(args, metaArgs(p.SyncMeta)...)
	args = append(args, p.ID)
	_, err := q.Exec(`UPDATE photos SET
		defect_id = ?, element_id = ?, caption = ?, file_name = ?,
		upload_status = ?, upload_error = ?, storage_url = ?,
		local_created_at = ?, local_updated_at = ?, server_updated_at = ?,
		sync_status = ?, sync_error = ?, deleted = ?, field_stamps = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update photo %s: %w", p.ID, err)
	}
	return nil
}

func requireDefectInReport(q querier, defectID, reportID string) error {
	if defectID == "" {
		return nil
	}
	d, err := getDefect(q, defectID)
	if err != nil {
		return err
	}
	if d.ReportID != reportID || d.Deleted {
		return fmt.Errorf("%w: defect %s is not a live defect of report %s", ErrValidation, defectID, reportID)
	}
	return nil
}

// newPhoto hashes the untouched payload before anything else reads it,
// then derives thumbnail and dimensions on a best-effort basis.
func newPhoto(in PhotoInput) *models.Photo {
	derived, err := photo.Derive(in.Payload)
	if err != nil {
		slog.Warn("photo thumbnail unavailable", "file", in.FileName, "err", err)
	}
	return &models.Photo{
		ReportID:     in.ReportID,
		DefectID:     in.DefectID,
		ElementID:    in.ElementID,
		Caption:      in.Caption,
		FileName:     in.FileName,
		ContentType:  derived.ContentType,
		Size:         derived.Size,
		Width:        derived.Width,
		Height:       derived.Height,
		OriginalHash: derived.Hash,
		UploadStatus: models.UploadPending,
		Payload:      append([]byte(nil), in.Payload...),
		Thumbnail:    derived.Thumbnail,
	}
}

func (db *DB) storeNewPhoto(tx *sql.Tx, p *models.Photo) error {
	if err := requireLiveReport(tx, p.ReportID); err != nil {
		return err
	}
	if err := requireDefectInReport(tx, p.DefectID, p.ReportID); err != nil {
		return err
	}
	if err := requireElementInReport(tx, p.ElementID, p.ReportID); err != nil {
		return err
	}
	p.ID = newID()
	db.stampNew(&p.SyncMeta)
	if err := insertPhoto(tx, p); err != nil {
		return err
	}
	return db.enqueue(tx, models.EntityPhoto, models.ActionCreate, p.ID, p.ReportID, p)
}

// CreatePhoto captures a new photo
func (db *DB) CreatePhoto(in PhotoInput) (*models.Photo, error) {
	if err := db.validateStruct(in); err != nil {
		return nil, err
	}
	p := newPhoto(in)
	if err := db.withTx(func(tx *sql.Tx) error { return db.storeNewPhoto(tx, p) }); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateEditedPhoto stores edited content as a new photo linked to its
// source. The source keeps its original bytes and hash.
func (db *DB) CreateEditedPhoto(sourceID string, payload []byte, caption string) (*models.Photo, error) {
	var p *models.Photo
	err := db.withTx(func(tx *sql.Tx) error {
		src, err := getPhoto(tx, sourceID)
		if err != nil {
			return err
		}
		if caption == "" {
			caption = src.Caption
		}
		in := PhotoInput{
			ReportID:  src.ReportID,
			DefectID:  src.DefectID,
			ElementID: src.ElementID,
			Caption:   caption,
			FileName:  src.FileName,
			Payload:   payload,
		}
		if err := db.validateStruct(in); err != nil {
			return err
		}
		p = newPhoto(in)
		p.EditedFrom = src.ID
		return db.storeNewPhoto(tx, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetPhoto retrieves photo metadata and thumbnail, without the payload
func (db *DB) GetPhoto(id string) (*models.Photo, error) {
	return getPhoto(db.conn, id)
}

// GetPhotoPayload returns the stored original bytes of a photo
func (db *DB) GetPhotoPayload(id string) ([]byte, error) {
	var payload []byte
	err := db.conn.QueryRow(`SELECT payload FROM photos WHERE id = ?`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, notFound("photo", id)
	}
	if err != nil {
		return nil, classify(err)
	}
	return payload, nil
}

// VerifyPhotoIntegrity recomputes the hash of the stored payload and
// compares it with the hash recorded at capture.
func (db *DB) VerifyPhotoIntegrity(id string) (bool, error) {
	p, err := getPhoto(db.conn, id)
	if err != nil {
		return false, err
	}
	payload, err := db.GetPhotoPayload(id)
	if err != nil {
		return false, err
	}
	if len(payload) == 0 {
		return false, fmt.Errorf("photo %s has no local payload: %w", id, ErrNotFound)
	}
	return photo.Verify(payload, p.OriginalHash) == nil, nil
}

// ListPhotos returns the live photos of a report
func (db *DB) ListPhotos(reportID string) ([]models.Photo, error) {
	return queryPhotos(db.conn, `WHERE report_id = ? AND deleted = 0 ORDER BY local_created_at ASC`, reportID)
}

// ListPhotosByStatus returns photos in the given sync status
func (db *DB) ListPhotosByStatus(status models.SyncStatus) ([]models.Photo, error) {
	return queryPhotos(db.conn, `WHERE sync_status = ? ORDER BY local_updated_at ASC`, string(status))
}

// ListPhotosByUploadStatus returns live photos in the given upload state
func (db *DB) ListPhotosByUploadStatus(status models.UploadStatus) ([]models.Photo, error) {
	return queryPhotos(db.conn, `WHERE upload_status = ? AND deleted = 0 ORDER BY local_created_at ASC`, string(status))
}

// ListPhotosUpdatedSince returns photos edited locally after t
func (db *DB) ListPhotosUpdatedSince(t time.Time) ([]models.Photo, error) {
	return queryPhotos(db.conn, `WHERE local_updated_at > ? ORDER BY local_updated_at ASC`, formatTime(t))
}

// UpdatePhoto changes photo metadata
func (db *DB) UpdatePhoto(id string, p PhotoPatch) (*models.Photo, error) {
	var out *models.Photo
	err := db.withTx(func(tx *sql.Tx) error {
		ph, err := getPhoto(tx, id)
		if err != nil {
			return err
		}
		var changed []string
		setString(&ph.Caption, p.Caption, "caption", &changed)
		if p.DefectID != nil && *p.DefectID != ph.DefectID {
			if err := requireDefectInReport(tx, *p.DefectID, ph.ReportID); err != nil {
				return err
			}
			ph.DefectID = *p.DefectID
			changed = append(changed, "defect_id")
		}
		if p.ElementID != nil && *p.ElementID != ph.ElementID {
			if err := requireElementInReport(tx, *p.ElementID, ph.ReportID); err != nil {
				return err
			}
			ph.ElementID = *p.ElementID
			changed = append(changed, "element_id")
		}
		out = ph
		if len(changed) == 0 {
			return nil
		}
		if err := db.validateStruct(ph); err != nil {
			return err
		}
		db.stampEdit(&ph.SyncMeta, changed)
		if err := updatePhotoMeta(tx, ph); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityPhoto, models.ActionUpdate, ph.ID, ph.ReportID, ph)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeletePhoto tombstones a photo
func (db *DB) DeletePhoto(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		ph, err := getPhoto(tx, id)
		if err != nil {
			return err
		}
		if ph.Deleted {
			return nil
		}
		ph.Deleted = true
		db.stampEdit(&ph.SyncMeta, []string{"deleted"})
		if err := updatePhotoMeta(tx, ph); err != nil {
			return err
		}
		return db.enqueue(tx, models.EntityPhoto, models.ActionDelete, ph.ID, ph.ReportID, ph)
	})
}

// MarkPhotoUploaded records a completed binary transfer. The photo becomes
// synced and its queue items are dropped, unless its metadata was edited
// since the last accepted upload.
func (db *DB) MarkPhotoUploaded(id, storageURL string) error {
	return db.withTx(func(tx *sql.Tx) error {
		ph, err := getPhoto(tx, id)
		if err != nil {
			return err
		}
		ph.UploadStatus = models.UploadUploaded
		ph.UploadError = ""
		ph.StorageURL = storageURL
		ph.SyncError = ""
		if len(ph.FieldStamps) > 0 {
			ph.SyncStatus = models.SyncPending
			return updatePhotoMeta(tx, ph)
		}
		ph.SyncStatus = models.SyncSynced
		if err := updatePhotoMeta(tx, ph); err != nil {
			return err
		}
		return removeQueueItems(tx, []string{id})
	})
}

// MarkPhotoUploadError records a failed transfer with its reason
func (db *DB) MarkPhotoUploadError(id, reason string) error {
	return db.withTx(func(tx *sql.Tx) error {
		ph, err := getPhoto(tx, id)
		if err != nil {
			return err
		}
		ph.UploadStatus = models.UploadError
		ph.UploadError = reason
		ph.SyncStatus = models.SyncError
		ph.SyncError = reason
		return updatePhotoMeta(tx, ph)
	})
}

// ResetPhotoUpload puts a failed photo back into the pending upload state
func (db *DB) ResetPhotoUpload(id string) error {
	return db.withTx(func(tx *sql.Tx) error {
		ph, err := getPhoto(tx, id)
		if err != nil {
			return err
		}
		if ph.UploadStatus == models.UploadUploaded {
			return nil
		}
		ph.UploadStatus = models.UploadPending
		ph.UploadError = ""
		ph.SyncStatus = models.SyncPending
		ph.SyncError = ""
		return updatePhotoMeta(tx, ph)
	})
}
