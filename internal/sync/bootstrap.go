package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/roofsync/internal/conflict"
	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/syncclient"
)

// Bootstrap pulls reference data, the user identity and reports from the
// server. The first run downloads everything; later runs only ask for
// changes since the previous bootstrap.
func (e *Engine) Bootstrap(ctx context.Context) (n int, err error) {
	runCtx, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	summary := &Summary{StartedAt: e.now()}
	defer func() {
		summary.Bootstrapped = n
		summary.FinishedAt = e.now()
		e.finish(err, summary)
	}()
	return e.bootstrap(runCtx)
}

func (e *Engine) bootstrap(ctx context.Context) (int, error) {
	var since *time.Time
	last, err := e.store.GetMetaTime(db.MetaLastBootstrapAt)
	if err != nil {
		return 0, fmt.Errorf("read last bootstrap: %w", err)
	}
	if !last.IsZero() {
		since = &last
	}

	resp, err := e.remote.Bootstrap(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("bootstrap: %w", err)
	}

	if err := e.store.UpsertReference(referenceData(resp.Reference)...); err != nil {
		return 0, fmt.Errorf("store reference data: %w", err)
	}
	if resp.User.ID != "" {
		err := e.store.SetMetaMany(map[string]string{
			db.MetaUserID:    resp.User.ID,
			db.MetaUserName:  resp.User.Name,
			db.MetaUserEmail: resp.User.Email,
		})
		if err != nil {
			return 0, fmt.Errorf("store user: %w", err)
		}
	}

	applied := 0
	for i := range resp.Reports {
		agg := &resp.Reports[i]
		ok, err := e.applyRemote(agg)
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
		e.progress("bootstrap", i+1, len(resp.Reports), agg.Report.ID)
	}

	if !resp.AsOf.IsZero() {
		if err := e.store.SetMetaTime(db.MetaLastBootstrapAt, resp.AsOf); err != nil {
			return applied, fmt.Errorf("record bootstrap time: %w", err)
		}
	}
	slog.Debug("bootstrap applied", "reports", applied, "received", len(resp.Reports), "incremental", since != nil)
	return applied, nil
}

// applyRemote stores a server aggregate when it is newer than the local
// copy. A local copy with unsent edits that differ from the newer server
// version becomes a conflict, or is auto-resolved under the auto policy.
func (e *Engine) applyRemote(remote *models.ReportAggregate) (bool, error) {
	id := remote.Report.ID
	local, err := e.store.GetReportAggregate(id)
	if errors.Is(err, db.ErrNotFound) {
		if remote.Report.Deleted {
			return false, nil
		}
		if err := e.store.ApplyServerAggregate(remote); err != nil {
			return false, fmt.Errorf("store report %s: %w", id, err)
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	marker := remote.Report.ServerUpdatedAt
	if marker == nil {
		slog.Warn("server report without version marker", "report", id)
		return false, nil
	}
	if base := local.Report.ServerUpdatedAt; base != nil && !marker.After(*base) {
		return false, nil
	}
	if local.Report.SyncStatus == models.SyncConflict {
		return false, nil
	}

	if !db.HasLocalChanges(local) {
		if err := e.store.ApplyServerAggregate(remote); err != nil {
			return false, fmt.Errorf("store report %s: %w", id, err)
		}
		return true, nil
	}

	infos, err := conflict.DetectAggregate(local, remote)
	if err != nil {
		return false, err
	}
	if len(infos) == 0 {
		if err := e.store.ApplyServerAggregate(remote); err != nil {
			return false, fmt.Errorf("store report %s: %w", id, err)
		}
		return true, nil
	}

	e.emit(Event{Type: EventConflict, ReportID: id, Conflicts: infos})
	if e.opts.Policy == PolicyAuto {
		if _, err := e.resolver.ResolveWith(local, remote, conflict.Auto); err != nil {
			return false, err
		}
		return true, nil
	}

	localData, err := json.Marshal(local)
	if err != nil {
		return false, err
	}
	remoteData, err := json.Marshal(remote)
	if err != nil {
		return false, err
	}
	if err := e.store.MarkReportConflict(id, localData, remoteData, *marker); err != nil {
		return false, fmt.Errorf("record conflict %s: %w", id, err)
	}
	return false, nil
}

func referenceData(p syncclient.ReferencePayload) []models.ReferenceData {
	var out []models.ReferenceData
	add := func(kind string, items []syncclient.ReferenceItem) {
		for _, it := range items {
			out = append(out, models.ReferenceData{
				Kind:            kind,
				ID:              it.ID,
				Name:            it.Name,
				Payload:         it.Data,
				ServerUpdatedAt: it.UpdatedAt,
			})
		}
	}
	add(models.ReferenceChecklist, p.Checklists)
	add(models.ReferenceTemplate, p.Templates)
	return out
}
