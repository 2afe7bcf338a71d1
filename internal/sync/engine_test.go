package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"

	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/syncclient"
)

// fakeRemote is a scripted server. Bootstrap blocks while block is non-nil.
type fakeRemote struct {
	mu        stdsync.Mutex
	healthErr error
	block     chan struct{}
	entered   chan struct{}
	onUpload  func(n int, req *syncclient.UploadRequest) (*syncclient.UploadResponse, error)
	server    *models.ReportAggregate
	uploads   int
	health    int
}

func (f *fakeRemote) HealthCheck(ctx context.Context) (*syncclient.HealthResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.health++
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &syncclient.HealthResponse{Status: "ok"}, nil
}

func (f *fakeRemote) Bootstrap(ctx context.Context, since *time.Time) (*syncclient.BootstrapResponse, error) {
	if f.block != nil {
		if f.entered != nil {
			close(f.entered)
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &syncclient.BootstrapResponse{AsOf: time.Now().UTC()}, nil
}

func (f *fakeRemote) Upload(ctx context.Context, req *syncclient.UploadRequest) (*syncclient.UploadResponse, error) {
	f.mu.Lock()
	f.uploads++
	n := f.uploads
	f.mu.Unlock()
	if f.onUpload != nil {
		return f.onUpload(n, req)
	}
	resp := &syncclient.UploadResponse{ServerTime: time.Now().UTC()}
	for _, agg := range req.Reports {
		resp.SyncedIDs = append(resp.SyncedIDs, agg.Report.ID)
	}
	return resp, nil
}

func (f *fakeRemote) FetchReport(ctx context.Context, id string) (*models.ReportAggregate, error) {
	if f.server == nil || f.server.Report.ID != id {
		return nil, syncclient.ErrNotFound
	}
	cp := *f.server
	return &cp, nil
}

func (f *fakeRemote) RequestPhotoUploads(ctx context.Context, photoIDs []string) ([]syncclient.PhotoUpload, error) {
	return nil, nil
}

func (f *fakeRemote) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func newTestEngine(t *testing.T, remote Remote, policy Policy) (*Engine, *db.DB) {
	t.Helper()
	store, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, remote, Options{DeviceID: "dev-test", Policy: policy, ProbeTimeout: time.Second}), store
}

func newReport(t *testing.T, store *db.DB) *models.Report {
	t.Helper()
	r := &models.Report{ClientName: "Kauri Flats", SiteAddress: "9 Ridge Rd"}
	if err := store.CreateReport(r); err != nil {
		t.Fatalf("CreateReport failed: %v", err)
	}
	return r
}

func TestFullSyncRejectsConcurrentRun(t *testing.T) {
	remote := &fakeRemote{block: make(chan struct{}), entered: make(chan struct{})}
	e, _ := newTestEngine(t, remote, PolicyManual)

	done := make(chan error, 1)
	go func() {
		_, err := e.FullSync(context.Background())
		done <- err
	}()
	<-remote.entered

	if _, err := e.FullSync(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
	if _, err := e.Bootstrap(context.Background()); !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("bootstrap during sync: expected ErrSyncInProgress, got %v", err)
	}
	if e.State() != StateSyncing {
		t.Fatalf("state = %s", e.State())
	}

	close(remote.block)
	if err := <-done; err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if e.State() != StateIdle {
		t.Fatalf("state after sync = %s", e.State())
	}
}

func TestEventsAndUnsubscribe(t *testing.T) {
	e, store := newTestEngine(t, &fakeRemote{}, PolicyManual)
	newReport(t, store)

	var got []Event
	unsubscribe := e.Subscribe(func(ev Event) { got = append(got, ev) })
	summary, err := e.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if summary.Uploaded != 1 {
		t.Fatalf("uploaded = %d", summary.Uploaded)
	}

	if len(got) < 3 {
		t.Fatalf("expected at least 3 events, got %d", len(got))
	}
	if got[0].Type != EventState || got[0].State != StateSyncing {
		t.Errorf("first event = %+v", got[0])
	}
	last := got[len(got)-1]
	if last.Type != EventState || last.State != StateIdle {
		t.Errorf("last event = %+v", last)
	}
	complete := got[len(got)-2]
	if complete.Type != EventComplete || complete.Summary == nil || complete.Summary.Uploaded != 1 {
		t.Errorf("complete event = %+v", complete)
	}
	var progress bool
	for _, ev := range got {
		if ev.Type == EventProgress {
			progress = true
		}
	}
	if !progress {
		t.Error("no progress events")
	}

	unsubscribe()
	n := len(got)
	if _, err := e.FullSync(context.Background()); err != nil {
		t.Fatalf("second FullSync: %v", err)
	}
	if len(got) != n {
		t.Errorf("listener called after unsubscribe")
	}
}

func TestStatusReportsCounts(t *testing.T) {
	e, store := newTestEngine(t, &fakeRemote{}, PolicyManual)
	newReport(t, store)

	st, err := e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != StateIdle || st.Counts.Pending != 1 || !st.LastSyncAt.IsZero() {
		t.Fatalf("status before sync = %+v", st)
	}

	if _, err := e.FullSync(context.Background()); err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	st, err = e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Counts.Pending != 0 || st.Counts.Synced != 1 || st.LastSyncAt.IsZero() {
		t.Fatalf("status after sync = %+v", st)
	}
}

func TestCancelAbortsCycle(t *testing.T) {
	remote := &fakeRemote{block: make(chan struct{}), entered: make(chan struct{})}
	e, store := newTestEngine(t, remote, PolicyManual)
	r := newReport(t, store)
	// keep the report unacknowledged so the queue is observable
	remote.onUpload = func(int, *syncclient.UploadRequest) (*syncclient.UploadResponse, error) {
		return &syncclient.UploadResponse{ServerTime: time.Now().UTC()}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.FullSync(context.Background())
		done <- err
	}()
	<-remote.entered
	e.Cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if e.State() != StateError {
		t.Errorf("state = %s", e.State())
	}
	st, _ := e.Status()
	if st.LastError == "" {
		t.Error("last error not recorded")
	}
	items, err := store.QueueItemsForReport(r.ID)
	if err != nil || len(items) != 1 {
		t.Fatalf("queue after cancel: %v %v", items, err)
	}
}

func TestRejectionMarksReportError(t *testing.T) {
	remote := &fakeRemote{}
	remote.onUpload = func(_ int, req *syncclient.UploadRequest) (*syncclient.UploadResponse, error) {
		return &syncclient.UploadResponse{
			ServerTime: time.Now().UTC(),
			Failed:     []syncclient.FailedReport{{ID: req.Reports[0].Report.ID, Error: "inspection_date required"}},
		}, nil
	}
	e, store := newTestEngine(t, remote, PolicyManual)
	r := newReport(t, store)

	var errEvents []error
	e.Subscribe(func(ev Event) {
		if ev.Type == EventError && ev.ReportID == r.ID {
			errEvents = append(errEvents, ev.Err)
		}
	})
	summary, err := e.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}

	if len(summary.Rejected) != 1 || len(errEvents) != 1 {
		t.Fatalf("rejected=%d events=%d", len(summary.Rejected), len(errEvents))
	}
	var rej *RejectedError
	if !errors.As(errEvents[0], &rej) || rej.Reason != "inspection_date required" {
		t.Errorf("event error = %v", errEvents[0])
	}
	got, _ := store.GetReport(r.ID)
	if got.SyncStatus != models.SyncError {
		t.Errorf("status = %s", got.SyncStatus)
	}
	items, _ := store.QueueItemsForReport(r.ID)
	if len(items) != 1 || items[0].RetryCount != 1 {
		t.Errorf("queue after rejection: %+v", items)
	}
}

func conflictRemote(local *models.Report, serverNotes string, serverEditedAt time.Time) *fakeRemote {
	marker := time.Now().UTC()
	server := &models.ReportAggregate{Report: *local}
	server.Report.Notes = serverNotes
	server.Report.LocalUpdatedAt = serverEditedAt
	server.Report.ServerUpdatedAt = &marker
	server.Report.SyncStatus = models.SyncSynced

	remote := &fakeRemote{server: server}
	remote.onUpload = func(n int, req *syncclient.UploadRequest) (*syncclient.UploadResponse, error) {
		resp := &syncclient.UploadResponse{ServerTime: time.Now().UTC()}
		agg := req.Reports[0]
		if agg.Report.ServerUpdatedAt == nil || !agg.Report.ServerUpdatedAt.Equal(marker) {
			resp.Conflicts = []syncclient.ConflictReport{{ID: agg.Report.ID, ServerUpdatedAt: marker, UpdatedAt: serverEditedAt}}
			return resp, nil
		}
		resp.SyncedIDs = []string{agg.Report.ID}
		return resp, nil
	}
	return remote
}

func TestManualPolicyRecordsConflict(t *testing.T) {
	store, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer store.Close()
	r := newReport(t, store)
	if _, err := store.UpdateReport(r.ID, db.ReportPatch{Notes: ptr("box gutter ponding")}); err != nil {
		t.Fatalf("UpdateReport: %v", err)
	}
	local, _ := store.GetReport(r.ID)

	remote := conflictRemote(local, "box gutter clear", local.LocalUpdatedAt.Add(time.Hour))
	e := New(store, remote, Options{Policy: PolicyManual})

	var conflicts []models.ConflictInfo
	e.Subscribe(func(ev Event) {
		if ev.Type == EventConflict {
			conflicts = append(conflicts, ev.Conflicts...)
		}
	})
	summary, err := e.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if summary.Conflicts != 1 || summary.Resolved != 0 {
		t.Fatalf("conflicts=%d resolved=%d", summary.Conflicts, summary.Resolved)
	}
	if len(conflicts) != 1 || conflicts[0].Field != "notes" {
		t.Fatalf("conflict infos = %+v", conflicts)
	}
	got, _ := store.GetReport(r.ID)
	if got.SyncStatus != models.SyncConflict {
		t.Errorf("status = %s", got.SyncStatus)
	}
	rec, err := store.GetConflict(r.ID)
	if err != nil || rec.RemoteData == "" {
		t.Errorf("conflict record = %+v, %v", rec, err)
	}

	// a conflicted report is not offered again
	before := remote.uploadCount()
	if _, err := e.FullSync(context.Background()); err != nil {
		t.Fatalf("second FullSync: %v", err)
	}
	if remote.uploadCount() != before {
		t.Error("conflicted report was uploaded again")
	}
}

func TestAutoPolicyResolvesAndResubmits(t *testing.T) {
	store, err := db.Initialize(t.TempDir())
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	defer store.Close()
	r := newReport(t, store)
	if _, err := store.UpdateReport(r.ID, db.ReportPatch{Notes: ptr("skylight leaking")}); err != nil {
		t.Fatalf("UpdateReport: %v", err)
	}
	local, _ := store.GetReport(r.ID)

	remote := conflictRemote(local, "skylight sealed", local.LocalUpdatedAt.Add(-time.Hour))
	e := New(store, remote, Options{Policy: PolicyAuto})

	summary, err := e.FullSync(context.Background())
	if err != nil {
		t.Fatalf("FullSync: %v", err)
	}
	if summary.Conflicts != 1 || summary.Resolved != 1 || summary.Uploaded != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if remote.uploadCount() != 2 {
		t.Errorf("uploads = %d, want 2", remote.uploadCount())
	}
	got, _ := store.GetReport(r.ID)
	if got.Notes != "skylight leaking" || got.SyncStatus != models.SyncSynced {
		t.Errorf("notes=%q status=%s", got.Notes, got.SyncStatus)
	}
}

func TestRunAutoSkipsWhenUnreachable(t *testing.T) {
	remote := &fakeRemote{healthErr: syncclient.ErrNetwork}
	e, store := newTestEngine(t, remote, PolicyManual)
	newReport(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	err := e.RunAuto(ctx, 10*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("RunAuto returned %v", err)
	}
	if remote.uploadCount() != 0 {
		t.Errorf("uploaded while unreachable")
	}
	remote.mu.Lock()
	probes := remote.health
	remote.mu.Unlock()
	if probes < 2 {
		t.Errorf("probed %d times", probes)
	}
}

func TestRunAutoSyncsWhenReachable(t *testing.T) {
	remote := &fakeRemote{}
	e, store := newTestEngine(t, remote, PolicyManual)
	r := newReport(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var cycleErr error
	e.Subscribe(func(ev Event) {
		switch ev.Type {
		case EventComplete:
			cancel()
		case EventError:
			cycleErr = ev.Err
			cancel()
		}
	})
	if err := e.RunAuto(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("RunAuto returned %v", err)
	}
	if cycleErr != nil {
		t.Fatalf("auto cycle failed: %v", cycleErr)
	}
	got, _ := store.GetReport(r.ID)
	if got.SyncStatus != models.SyncSynced {
		t.Errorf("status = %s", got.SyncStatus)
	}
}

func ptr(s string) *string { return &s }
