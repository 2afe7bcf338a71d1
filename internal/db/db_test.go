package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/marcus/roofsync/internal/models"
)

// newTestDB opens a fresh on-disk store
func newTestDB(t *testing.T) *DB {
	t.Helper()
	store, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestReport creates a minimal valid report
func newTestReport(t *testing.T, store *DB) *models.Report {
	t.Helper()
	r := &models.Report{ClientName: "Acme Holdings", SiteAddress: "12 High St"}
	if err := store.CreateReport(r); err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}
	return r
}

func TestInitialize(t *testing.T) {
	dir := t.TempDir()
	store, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Join(dir, dbFile)); os.IsNotExist(err) {
		t.Error("Database file not created")
	}
	v, err := store.GetSchemaVersion()
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion)
	}
}

func TestOpenRequiresInit(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Fatal("Open on empty dir should fail")
	}
}

func TestOpenReusesExistingStore(t *testing.T) {
	dir := t.TempDir()
	store, err := Initialize(dir)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	r := newTestReport(t, store)
	store.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetReport(r.ID)
	if err != nil {
		t.Fatalf("GetReport after reopen: %v", err)
	}
	if got.ClientName != r.ClientName {
		t.Errorf("ClientName = %q, want %q", got.ClientName, r.ClientName)
	}
}

func TestWrapInMemory(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	store, err := Wrap(conn)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	defer store.Close()
	r := newTestReport(t, store)
	if _, err := store.GetReport(r.ID); err != nil {
		t.Fatalf("GetReport: %v", err)
	}
}

func TestFreshStoreRecordsSyncOutcomes(t *testing.T) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn.SetMaxOpenConns(1)
	wrapped, err := Wrap(conn)
	if err != nil {
		t.Fatalf("Wrap failed: %v", err)
	}
	defer wrapped.Close()

	stores := map[string]*DB{"initialized": newTestDB(t), "wrapped": wrapped}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			r := newTestReport(t, store)
			snapshot, err := store.GetReportAggregate(r.ID)
			if err != nil {
				t.Fatalf("GetReportAggregate: %v", err)
			}
			if _, err := store.MarkAggregateSynced(snapshot, time.Now().UTC()); err != nil {
				t.Fatalf("MarkAggregateSynced: %v", err)
			}
			got, _ := store.GetReport(r.ID)
			if got.SyncStatus != models.SyncSynced {
				t.Errorf("SyncStatus = %s, want synced", got.SyncStatus)
			}

			other := newTestReport(t, store)
			if err := store.MarkReportConflict(other.ID, []byte(`{}`), []byte(`{}`), time.Now().UTC()); err != nil {
				t.Fatalf("MarkReportConflict: %v", err)
			}
			if list, err := store.ListConflicts(); err != nil || len(list) != 1 {
				t.Errorf("ListConflicts = %v, %v", list, err)
			}
		})
	}
}

func TestStorageUnavailableAfterClose(t *testing.T) {
	store, err := Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	store.Close()

	err = store.CreateReport(&models.Report{ClientName: "x", SiteAddress: "y"})
	if !errors.Is(err, ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"database or disk is full (13)", true},
		{"attempt to write a readonly database", true},
		{"unable to open database file: permission denied", true},
		{"UNIQUE constraint failed: reports.id", false},
	}
	for _, tt := range tests {
		got := errors.Is(classify(errors.New(tt.msg)), ErrStorageUnavailable)
		if got != tt.want {
			t.Errorf("classify(%q) storage=%v, want %v", tt.msg, got, tt.want)
		}
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}

func TestNextStampMonotonic(t *testing.T) {
	store := newTestDB(t)
	frozen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return frozen })

	first := store.nextStamp(time.Time{})
	second := store.nextStamp(first)
	if !second.After(first) {
		t.Fatalf("stamp did not advance: %v then %v", first, second)
	}
	if second.Sub(first) != time.Millisecond {
		t.Errorf("expected 1ms step on a frozen clock, got %v", second.Sub(first))
	}
}

func TestMetadata(t *testing.T) {
	store := newTestDB(t)

	v, err := store.GetMeta(MetaDeviceID)
	if err != nil || v != "" {
		t.Fatalf("unset key: got %q, %v", v, err)
	}
	if err := store.SetMeta(MetaDeviceID, "dev-1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if v, _ := store.GetMeta(MetaDeviceID); v != "dev-1" {
		t.Errorf("GetMeta = %q", v)
	}

	ts := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	if err := store.SetMetaTime(MetaLastSyncAt, ts); err != nil {
		t.Fatalf("SetMetaTime: %v", err)
	}
	got, err := store.GetMetaTime(MetaLastSyncAt)
	if err != nil {
		t.Fatalf("GetMetaTime: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("GetMetaTime = %v, want %v", got, ts)
	}

	if err := store.SetMetaMany(map[string]string{MetaUserID: "u1", MetaUserName: "Sam"}); err != nil {
		t.Fatalf("SetMetaMany: %v", err)
	}
	if v, _ := store.GetMeta(MetaUserName); v != "Sam" {
		t.Errorf("user name = %q", v)
	}
}

func TestReferenceData(t *testing.T) {
	store := newTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	err := store.UpsertReference(
		models.ReferenceData{Kind: models.ReferenceChecklist, ID: "c1", Name: "Residential", Payload: []byte(`{"items":[]}`), ServerUpdatedAt: now},
		models.ReferenceData{Kind: models.ReferenceTemplate, ID: "t1", Name: "Default"},
	)
	if err != nil {
		t.Fatalf("UpsertReference: %v", err)
	}
	lists, err := store.ListReference(models.ReferenceChecklist)
	if err != nil {
		t.Fatalf("ListReference: %v", err)
	}
	if len(lists) != 1 || lists[0].Name != "Residential" {
		t.Fatalf("unexpected checklists: %+v", lists)
	}
	if _, err := store.GetReference(models.ReferenceTemplate, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunMigrationsUpgradesOldStore(t *testing.T) {
	store := newTestDB(t)
	conn := store.Conn()
	if _, err := conn.Exec(`DROP TABLE sync_conflicts`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if err := setSchemaVersion(conn, 1); err != nil {
		t.Fatalf("setSchemaVersion: %v", err)
	}

	ran, err := store.RunMigrations()
	if err != nil {
		t.Fatalf("RunMigrations: %v", err)
	}
	if ran != len(Migrations) {
		t.Errorf("ran %d migrations, want %d", ran, len(Migrations))
	}
	if v, _ := store.GetSchemaVersion(); v != SchemaVersion {
		t.Errorf("schema version = %d, want %d", v, SchemaVersion)
	}
	if _, err := store.ListConflicts(); err != nil {
		t.Errorf("sync_conflicts not recreated: %v", err)
	}

	// already current: nothing to do
	if ran, err := store.RunMigrations(); err != nil || ran != 0 {
		t.Errorf("second run = %d, %v", ran, err)
	}
}
