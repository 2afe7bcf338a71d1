// Package sync coordinates uploads, conflict handling, photo transfer and
// bootstrap between the local store and the inspection server.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/marcus/roofsync/internal/conflict"
	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/syncclient"
	"github.com/marcus/roofsync/internal/uploader"
)

// Remote is the server API the engine talks to
type Remote interface {
	HealthCheck(ctx context.Context) (*syncclient.HealthResponse, error)
	Bootstrap(ctx context.Context, since *time.Time) (*syncclient.BootstrapResponse, error)
	Upload(ctx context.Context, req *syncclient.UploadRequest) (*syncclient.UploadResponse, error)
	FetchReport(ctx context.Context, id string) (*models.ReportAggregate, error)
	RequestPhotoUploads(ctx context.Context, photoIDs []string) ([]syncclient.PhotoUpload, error)
}

// Policy decides how conflicts found during a sync are handled
type Policy string

const (
	// PolicyManual records conflicts for the user to resolve
	PolicyManual Policy = "manual"
	// PolicyAuto resolves conflicts immediately, newest record wins
	PolicyAuto Policy = "auto"
)

// Options configures an Engine
type Options struct {
	DeviceID          string
	Policy            Policy
	UploadConcurrency int
	PhotoTimeout      time.Duration
	ProbeTimeout      time.Duration
}

// Status is a point-in-time view of the engine and the local store
type Status struct {
	State      State
	Counts     models.SyncCounts
	LastSyncAt time.Time
	LastError  string
}

// Engine runs sync cycles for one device. At most one cycle runs at a time.
type Engine struct {
	store    *db.DB
	remote   Remote
	uploader *uploader.Uploader
	resolver *conflict.Resolver
	opts     Options
	now      func() time.Time

	mu      stdsync.Mutex
	state   State
	cancel  context.CancelFunc
	lastErr error
	subs    []subscriber
	nextSub int
}

// New creates an engine over store and remote
func New(store *db.DB, remote Remote, opts Options) *Engine {
	if opts.Policy == "" {
		opts.Policy = PolicyManual
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	up := uploader.New(store, remote)
	if opts.UploadConcurrency > 0 {
		up.Concurrency = opts.UploadConcurrency
	}
	if opts.PhotoTimeout > 0 {
		up.Timeout = opts.PhotoTimeout
	}
	e := &Engine{
		store:    store,
		remote:   remote,
		uploader: up,
		resolver: conflict.NewResolver(store, remote),
		opts:     opts,
		now:      time.Now,
		state:    StateIdle,
	}
	up.OnProgress = func(photoID string, pct int) {
		e.emit(Event{Type: EventPhotoProgress, PhotoID: photoID, Percent: pct})
	}
	return e
}

// Resolver exposes the conflict resolver bound to this engine's store and server
func (e *Engine) Resolver() *conflict.Resolver {
	return e.resolver
}

// Uploader exposes the photo uploader bound to this engine's store and server
func (e *Engine) Uploader() *uploader.Uploader {
	return e.uploader
}

// State returns the current lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Status returns the engine state and store counts without syncing
func (e *Engine) Status() (*Status, error) {
	counts, err := e.store.SyncCounts()
	if err != nil {
		return nil, err
	}
	last, err := e.store.GetMetaTime(db.MetaLastSyncAt)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st := &Status{State: e.state, Counts: counts, LastSyncAt: last}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}
	return st, nil
}

// Cancel aborts the running cycle's network calls. Writes already
// committed stay in place.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// begin claims the engine for one cycle
func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	if e.state == StateSyncing {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.state = StateSyncing
	e.cancel = cancel
	e.mu.Unlock()

	e.emit(Event{Type: EventState, State: StateSyncing})
	return runCtx, nil
}

// finish releases the engine on every exit path
func (e *Engine) finish(err error, summary *Summary) {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	next := StateIdle
	if err != nil {
		next = StateError
	}
	e.state = next
	e.lastErr = err
	e.mu.Unlock()

	if err != nil {
		slog.Warn("sync failed", "err", err)
		e.emit(Event{Type: EventError, Err: err})
	} else {
		e.emit(Event{Type: EventComplete, Summary: summary})
	}
	e.emit(Event{Type: EventState, State: next})
}

func (e *Engine) progress(step string, done, total int, reportID string) {
	e.emit(Event{Type: EventProgress, Step: step, Done: done, Total: total, ReportID: reportID})
}

// FullSync uploads every report with local changes, settles conflicts,
// transfers photo binaries and refreshes from the server.
func (e *Engine) FullSync(ctx context.Context) (summary *Summary, err error) {
	runCtx, err := e.begin(ctx)
	if err != nil {
		return nil, err
	}
	summary = &Summary{StartedAt: e.now()}
	defer func() {
		summary.FinishedAt = e.now()
		e.finish(err, summary)
	}()

	err = e.fullSync(runCtx, summary)
	return summary, err
}

func (e *Engine) fullSync(ctx context.Context, summary *Summary) error {
	removed, err := e.store.Deduplicate()
	if err != nil {
		return fmt.Errorf("deduplicate queue: %w", err)
	}
	summary.Deduplicated = removed

	due, err := e.store.ListReportsDueForUpload()
	if err != nil {
		return fmt.Errorf("list reports due: %w", err)
	}

	var targets []syncclient.PhotoUpload
	if len(due) > 0 {
		resubmit, got, err := e.uploadReports(ctx, due, e.opts.Policy == PolicyAuto, summary)
		if err != nil {
			return err
		}
		targets = append(targets, got...)
		if len(resubmit) > 0 {
			slog.Info("resubmitting resolved reports", "count", len(resubmit))
			_, got, err := e.uploadReports(ctx, resubmit, false, summary)
			if err != nil {
				return err
			}
			targets = append(targets, got...)
		}

		if err := e.uploadPhotos(ctx, targets, summary); err != nil {
			return err
		}
	}

	n, err := e.bootstrap(ctx)
	if err != nil {
		return err
	}
	summary.Bootstrapped = n

	if err := e.store.SetMetaTime(db.MetaLastSyncAt, e.now()); err != nil {
		return fmt.Errorf("record last sync: %w", err)
	}
	slog.Info("sync complete", "uploaded", summary.Uploaded, "conflicts", summary.Conflicts,
		"rejected", len(summary.Rejected), "photos", summary.PhotosUploaded)
	return nil
}

// uploadReports sends one batch and applies the server's per-report
// outcome. It returns the reports that auto-resolution wants sent again.
func (e *Engine) uploadReports(ctx context.Context, ids []string, autoResolve bool, summary *Summary) ([]string, []syncclient.PhotoUpload, error) {
	sent := make(map[string]*models.ReportAggregate, len(ids))
	req := &syncclient.UploadRequest{DeviceID: e.opts.DeviceID, SubmittedAt: e.now().UTC()}
	for i, id := range ids {
		agg, err := e.store.GetReportAggregate(id)
		if err != nil {
			return nil, nil, fmt.Errorf("assemble report %s: %w", id, err)
		}
		sent[id] = agg
		req.Reports = append(req.Reports, *agg)
		e.progress("assemble", i+1, len(ids), id)
	}

	resp, err := e.remote.Upload(ctx, req)
	if err != nil {
		return nil, nil, fmt.Errorf("upload reports: %w", err)
	}

	for i, id := range resp.SyncedIDs {
		agg, ok := sent[id]
		if !ok {
			slog.Warn("server acknowledged a report that was not sent", "report", id)
			continue
		}
		if _, err := e.store.MarkAggregateSynced(agg, resp.ServerTime); err != nil {
			return nil, nil, fmt.Errorf("mark %s synced: %w", id, err)
		}
		summary.Uploaded++
		e.progress("upload", i+1, len(resp.SyncedIDs), id)

		if agg.Report.Deleted {
			if err := e.store.PurgeReport(id); err != nil && !errors.Is(err, db.ErrNotPurgeable) {
				return nil, nil, fmt.Errorf("purge %s: %w", id, err)
			} else if err == nil {
				summary.Purged++
			}
		}
	}

	for _, f := range resp.Failed {
		rej := &RejectedError{EntityType: models.EntityReport, EntityID: f.ID, Reason: f.Error}
		summary.Rejected = append(summary.Rejected, rej)
		if err := e.store.MarkReportError(f.ID, f.Error); err != nil {
			return nil, nil, fmt.Errorf("record rejection of %s: %w", f.ID, err)
		}
		slog.Warn("report rejected", "report", f.ID, "reason", f.Error)
		e.emit(Event{Type: EventError, ReportID: f.ID, Err: rej})
	}

	var resubmit []string
	for _, c := range resp.Conflicts {
		summary.Conflicts++
		again, err := e.handleConflict(ctx, sent[c.ID], c, autoResolve)
		if err != nil {
			return nil, nil, err
		}
		if again {
			summary.Resolved++
			resubmit = append(resubmit, c.ID)
		}
	}
	return resubmit, resp.PhotoUploads, nil
}

// handleConflict either records a conflict for later resolution or, under
// the auto policy, settles it now. It reports whether the report must be
// uploaded again.
func (e *Engine) handleConflict(ctx context.Context, local *models.ReportAggregate, c syncclient.ConflictReport, autoResolve bool) (bool, error) {
	if local == nil {
		return false, nil
	}
	server, err := e.remote.FetchReport(ctx, c.ID)
	if err != nil {
		return false, fmt.Errorf("fetch conflicted report %s: %w", c.ID, err)
	}
	if server.Report.ServerUpdatedAt == nil {
		marker := c.ServerUpdatedAt
		server.Report.ServerUpdatedAt = &marker
	}
	infos, err := conflict.DetectAggregate(local, server)
	if err != nil {
		return false, err
	}
	e.emit(Event{Type: EventConflict, ReportID: c.ID, Conflicts: infos})

	if autoResolve {
		out, err := e.resolver.ResolveWith(local, server, conflict.Auto)
		if err != nil {
			return false, err
		}
		return out.Reupload, nil
	}

	localData, err := json.Marshal(local)
	if err != nil {
		return false, fmt.Errorf("snapshot local %s: %w", c.ID, err)
	}
	remoteData, err := json.Marshal(server)
	if err != nil {
		return false, fmt.Errorf("snapshot server %s: %w", c.ID, err)
	}
	if err := e.store.MarkReportConflict(c.ID, localData, remoteData, *server.Report.ServerUpdatedAt); err != nil {
		return false, fmt.Errorf("record conflict %s: %w", c.ID, err)
	}
	slog.Info("report in conflict", "report", c.ID, "fields", len(infos))
	return false, nil
}

// uploadPhotos transfers binaries for accepted reports. Photos whose report
// is synced but whose binary never made it get a fresh authorisation.
func (e *Engine) uploadPhotos(ctx context.Context, targets []syncclient.PhotoUpload, summary *Summary) error {
	have := make(map[string]bool, len(targets))
	for _, t := range targets {
		have[t.PhotoID] = true
	}
	pending, err := e.store.ListPhotosByUploadStatus(models.UploadPending)
	if err != nil {
		return fmt.Errorf("list pending photos: %w", err)
	}
	var stale []string
	for _, p := range pending {
		if !p.Deleted && p.ServerUpdatedAt != nil && !have[p.ID] {
			stale = append(stale, p.ID)
		}
	}
	if len(stale) > 0 {
		fresh, err := e.remote.RequestPhotoUploads(ctx, stale)
		if err != nil {
			return fmt.Errorf("request photo uploads: %w", err)
		}
		targets = append(targets, fresh...)
	}
	if len(targets) == 0 {
		return nil
	}

	res, err := e.uploader.Upload(ctx, targets, e.opts.UploadConcurrency)
	if res != nil {
		summary.PhotosUploaded += len(res.Uploaded)
		summary.PhotosFailed += len(res.Failed)
		for _, f := range res.Failed {
			e.emit(Event{Type: EventError, PhotoID: f.PhotoID, Err: f.Err})
		}
	}
	return err
}
