package conflict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

// Strategy selects how a conflicted report is reconciled
type Strategy string

const (
	KeepLocal  Strategy = "keep-local"
	KeepServer Strategy = "keep-server"
	Merge      Strategy = "merge"
	Auto       Strategy = "auto"
)

// ErrUnknownStrategy is returned for an unrecognised strategy name
var ErrUnknownStrategy = errors.New("unknown conflict strategy")

// Strategies returns every accepted strategy name
func Strategies() []Strategy {
	return []Strategy{KeepLocal, KeepServer, Merge, Auto}
}

// ParseStrategy converts a name to a Strategy
func ParseStrategy(s string) (Strategy, error) {
	for _, v := range Strategies() {
		if string(v) == strings.ToLower(strings.TrimSpace(s)) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// String implements pflag.Value
func (s *Strategy) String() string { return string(*s) }

// Set implements pflag.Value
func (s *Strategy) Set(v string) error {
	parsed, err := ParseStrategy(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Type implements pflag.Value
func (s *Strategy) Type() string { return "strategy" }

// Store is the local persistence the resolver writes through
type Store interface {
	GetReportAggregate(id string) (*models.ReportAggregate, error)
	ApplyServerAggregate(agg *models.ReportAggregate) error
	AdoptServerMarker(reportID string, serverUpdatedAt time.Time) error
	SaveMergedAggregate(merged *models.ReportAggregate, serverUpdatedAt time.Time) error
}

// Fetcher retrieves the server's authoritative aggregate
type Fetcher interface {
	FetchReport(ctx context.Context, id string) (*models.ReportAggregate, error)
}

// Outcome describes what a resolution did
type Outcome struct {
	ReportID  string
	Strategy  Strategy
	Reupload  bool
	Conflicts []models.ConflictInfo
}

// Resolver applies resolution strategies to conflicted reports
type Resolver struct {
	store  Store
	remote Fetcher
}

// NewResolver creates a resolver. remote may be nil when only ResolveWith is used.
func NewResolver(store Store, remote Fetcher) *Resolver {
	return &Resolver{store: store, remote: remote}
}

// Resolve fetches the server copy of a report and reconciles the local copy
func (r *Resolver) Resolve(ctx context.Context, reportID string, s Strategy) (*Outcome, error) {
	if r.remote == nil {
		return nil, fmt.Errorf("resolve %s: no server connection", reportID)
	}
	local, err := r.store.GetReportAggregate(reportID)
	if err != nil {
		return nil, fmt.Errorf("load local report: %w", err)
	}
	server, err := r.remote.FetchReport(ctx, reportID)
	if err != nil {
		return nil, fmt.Errorf("fetch server report: %w", err)
	}
	return r.ResolveWith(local, server, s)
}

// ResolveWith reconciles a local aggregate with an already fetched server
// aggregate
func (r *Resolver) ResolveWith(local, server *models.ReportAggregate, s Strategy) (*Outcome, error) {
	id := local.Report.ID
	if server.Report.ID != id {
		return nil, fmt.Errorf("resolve %s: server sent report %s", id, server.Report.ID)
	}
	if server.Report.ServerUpdatedAt == nil {
		return nil, fmt.Errorf("resolve %s: server copy has no version marker", id)
	}
	marker := *server.Report.ServerUpdatedAt

	infos, err := DetectAggregate(local, server)
	if err != nil {
		return nil, err
	}
	out := &Outcome{ReportID: id, Strategy: s, Conflicts: infos}

	switch s {
	case KeepServer:
		err = r.store.ApplyServerAggregate(server)
	case KeepLocal:
		out.Reupload = true
		err = r.store.AdoptServerMarker(id, marker)
	case Merge:
		var merged *models.ReportAggregate
		if merged, err = MergeAggregate(local, server); err == nil {
			out.Reupload = true
			err = r.store.SaveMergedAggregate(merged, marker)
		}
	case Auto:
		var merged *models.ReportAggregate
		merged, out.Strategy, err = AutoAggregate(local, server)
		if err != nil {
			break
		}
		if out.Strategy == KeepServer {
			err = r.store.ApplyServerAggregate(server)
		} else {
			out.Reupload = true
			err = r.store.SaveMergedAggregate(merged, marker)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s with %s: %w", id, s, err)
	}

	slog.Info("conflict resolved", "report", id, "strategy", out.Strategy, "fields", len(infos), "reupload", out.Reupload)
	return out, nil
}
