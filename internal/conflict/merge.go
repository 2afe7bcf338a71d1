package conflict

import (
	"github.com/marcus/roofsync/internal/models"
)

// picker chooses between paired local and server records and counts which
// side won
type picker struct {
	auto       bool
	localWins  int
	serverWins int
}

func pick[T any](p *picker, et models.EntityType, local, server T, lm, sm models.SyncMeta) (T, error) {
	if p.auto {
		if lm.LocalUpdatedAt.After(sm.LocalUpdatedAt) {
			p.localWins++
			return local, nil
		}
		p.serverWins++
		return server, nil
	}
	return mergeFields(et, local, server, lm, sm)
}

// mergeFields resolves each conflicting field separately: the local value
// is kept when its field stamp is after the server's edit time, otherwise
// the server value is taken. Non-conflicting fields keep the local value.
func mergeFields[T any](et models.EntityType, local, server T, lm, sm models.SyncMeta) (T, error) {
	var out T
	lmap, err := toMap(local)
	if err != nil {
		return out, err
	}
	smap, err := toMap(server)
	if err != nil {
		return out, err
	}
	for _, f := range diffMaps(et, lmap, smap) {
		stamp, ok := lm.FieldStamps[f]
		if !ok && lm.ServerUpdatedAt == nil {
			// never synced: every field dates from creation
			stamp, ok = lm.LocalCreatedAt, true
		}
		if ok && stamp.After(sm.LocalUpdatedAt) {
			continue
		}
		lmap[f] = smap[f]
	}
	if err := fromMap(lmap, &out); err != nil {
		return out, err
	}
	return out, nil
}

func mergeChildren[T any](local, server []T, id func(T) string, choose func(l, s T) (T, error)) ([]T, error) {
	byID := make(map[string]T, len(server))
	for _, s := range server {
		byID[id(s)] = s
	}
	seen := make(map[string]bool, len(local))
	out := make([]T, 0, len(local)+len(server))
	for _, l := range local {
		key := id(l)
		seen[key] = true
		s, ok := byID[key]
		if !ok {
			out = append(out, l)
			continue
		}
		m, err := choose(l, s)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	for _, s := range server {
		if !seen[id(s)] {
			out = append(out, s)
		}
	}
	return out, nil
}

func combine(p *picker, local, server *models.ReportAggregate) (*models.ReportAggregate, error) {
	merged := &models.ReportAggregate{}
	var err error
	if merged.Report, err = pick(p, models.EntityReport, local.Report, server.Report, local.Report.SyncMeta, server.Report.SyncMeta); err != nil {
		return nil, err
	}
	merged.Elements, err = mergeChildren(local.Elements, server.Elements,
		func(e models.RoofElement) string { return e.ID },
		func(l, s models.RoofElement) (models.RoofElement, error) {
			return pick(p, models.EntityElement, l, s, l.SyncMeta, s.SyncMeta)
		})
	if err != nil {
		return nil, err
	}
	merged.Defects, err = mergeChildren(local.Defects, server.Defects,
		func(d models.Defect) string { return d.ID },
		func(l, s models.Defect) (models.Defect, error) {
			return pick(p, models.EntityDefect, l, s, l.SyncMeta, s.SyncMeta)
		})
	if err != nil {
		return nil, err
	}
	merged.Photos, err = mergeChildren(local.Photos, server.Photos,
		func(ph models.Photo) string { return ph.ID },
		func(l, s models.Photo) (models.Photo, error) {
			return pick(p, models.EntityPhoto, l, s, l.SyncMeta, s.SyncMeta)
		})
	if err != nil {
		return nil, err
	}

	switch {
	case local.Compliance != nil && server.Compliance != nil:
		c, err := pick(p, models.EntityCompliance, *local.Compliance, *server.Compliance,
			local.Compliance.SyncMeta, server.Compliance.SyncMeta)
		if err != nil {
			return nil, err
		}
		c.ID = local.Compliance.ID
		merged.Compliance = &c
	case local.Compliance != nil:
		merged.Compliance = local.Compliance
	case server.Compliance != nil:
		merged.Compliance = server.Compliance
	}
	return merged, nil
}

// MergeAggregate performs a field-level merge of two aggregate versions.
// Children known to only one side are carried over unchanged.
func MergeAggregate(local, server *models.ReportAggregate) (*models.ReportAggregate, error) {
	return combine(&picker{}, local, server)
}

// AutoAggregate picks whole records: a local record wins only when its
// update time is strictly after the server's, ties go to the server. The
// returned strategy names the effective outcome.
func AutoAggregate(local, server *models.ReportAggregate) (*models.ReportAggregate, Strategy, error) {
	p := &picker{auto: true}
	merged, err := combine(p, local, server)
	if err != nil {
		return nil, "", err
	}
	switch {
	case p.localWins == 0:
		return merged, KeepServer, nil
	case p.serverWins == 0:
		return merged, KeepLocal, nil
	default:
		return merged, Merge, nil
	}
}
