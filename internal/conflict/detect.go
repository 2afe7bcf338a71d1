// Package conflict detects and resolves divergence between a local report
// aggregate and the server's authoritative copy.
package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/marcus/roofsync/internal/models"
)

// Fields lists the conflict-relevant JSON fields per entity type. Sync
// bookkeeping (timestamps, status) never counts as a conflict.
var Fields = map[models.EntityType][]string{
	models.EntityReport: {
		"client_name", "site_address", "inspector_name", "inspection_date",
		"roof_type", "weather", "notes", "status", "deleted",
	},
	models.EntityElement: {
		"name", "element_type", "material", "condition", "location", "notes", "deleted",
	},
	models.EntityDefect: {
		"element_id", "defect_number", "title", "description", "severity",
		"location", "recommendation", "deleted",
	},
	models.EntityCompliance: {"checklist_id", "results", "deleted"},
	models.EntityPhoto:      {"defect_id", "element_id", "edited_from", "caption", "file_name", "deleted"},
}

// toMap renders a record as a generic JSON object. Numbers stay json.Number
// so they compare by value and round-trip exactly.
func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return m, nil
}

func fromMap(m map[string]any, out any) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal merged record: %w", err)
	}
	return json.Unmarshal(data, out)
}

// diffMaps returns the conflict-relevant fields whose values differ. A field
// the server omits or sends as null is not a conflict.
func diffMaps(et models.EntityType, local, server map[string]any) []string {
	var out []string
	for _, f := range Fields[et] {
		sv, ok := server[f]
		if !ok || sv == nil {
			continue
		}
		if !Equal(local[f], sv) {
			out = append(out, f)
		}
	}
	return out
}

// DetectFields compares one local record with its server counterpart
func DetectFields(et models.EntityType, id string, local, server any) ([]models.ConflictInfo, error) {
	lm, err := toMap(local)
	if err != nil {
		return nil, err
	}
	sm, err := toMap(server)
	if err != nil {
		return nil, err
	}
	var out []models.ConflictInfo
	for _, f := range diffMaps(et, lm, sm) {
		out = append(out, models.ConflictInfo{
			EntityType:  et,
			EntityID:    id,
			Field:       f,
			LocalValue:  lm[f],
			ServerValue: sm[f],
		})
	}
	return out, nil
}

// DetectAggregate compares two versions of a report aggregate. Children are
// paired by id; a child present on only one side is not a conflict. The
// compliance assessment is paired by report.
func DetectAggregate(local, server *models.ReportAggregate) ([]models.ConflictInfo, error) {
	out, err := DetectFields(models.EntityReport, local.Report.ID, local.Report, server.Report)
	if err != nil {
		return nil, err
	}
	add := func(et models.EntityType, id string, l, s any) error {
		infos, err := DetectFields(et, id, l, s)
		if err != nil {
			return err
		}
		out = append(out, infos...)
		return nil
	}

	serverElements := make(map[string]models.RoofElement, len(server.Elements))
	for _, e := range server.Elements {
		serverElements[e.ID] = e
	}
	for _, e := range local.Elements {
		if s, ok := serverElements[e.ID]; ok {
			if err := add(models.EntityElement, e.ID, e, s); err != nil {
				return nil, err
			}
		}
	}

	serverDefects := make(map[string]models.Defect, len(server.Defects))
	for _, d := range server.Defects {
		serverDefects[d.ID] = d
	}
	for _, d := range local.Defects {
		if s, ok := serverDefects[d.ID]; ok {
			if err := add(models.EntityDefect, d.ID, d, s); err != nil {
				return nil, err
			}
		}
	}

	if local.Compliance != nil && server.Compliance != nil {
		if err := add(models.EntityCompliance, local.Compliance.ID, local.Compliance, server.Compliance); err != nil {
			return nil, err
		}
	}

	serverPhotos := make(map[string]models.Photo, len(server.Photos))
	for _, p := range server.Photos {
		serverPhotos[p.ID] = p
	}
	for _, p := range local.Photos {
		if s, ok := serverPhotos[p.ID]; ok {
			if err := add(models.EntityPhoto, p.ID, p, s); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// Equal reports whether two decoded JSON values are the same. Nested objects
// and arrays compare deeply, numbers compare by value and RFC 3339 strings
// compare as instants.
func Equal(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case json.Number:
		bv, ok := b.(json.Number)
		return ok && numbersEqual(av, bv)
	case float64:
		bv, ok := b.(float64)
		return ok && av == bv
	case string:
		bv, ok := b.(string)
		if !ok {
			return false
		}
		if av == bv {
			return true
		}
		return instantsEqual(av, bv)
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok {
			return false
		}
		keys := make(map[string]struct{}, len(av)+len(bv))
		for k := range av {
			keys[k] = struct{}{}
		}
		for k := range bv {
			keys[k] = struct{}{}
		}
		for k := range keys {
			if !Equal(av[k], bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func numbersEqual(a, b json.Number) bool {
	if a == b {
		return true
	}
	ra, ok := new(big.Rat).SetString(string(a))
	if !ok {
		return false
	}
	rb, ok := new(big.Rat).SetString(string(b))
	if !ok {
		return false
	}
	return ra.Cmp(rb) == 0
}

func instantsEqual(a, b string) bool {
	ta, err := time.Parse(time.RFC3339Nano, a)
	if err != nil {
		return false
	}
	tb, err := time.Parse(time.RFC3339Nano, b)
	if err != nil {
		return false
	}
	return ta.Equal(tb)
}

// FieldsOf returns the distinct field names in a conflict list, sorted
func FieldsOf(infos []models.ConflictInfo) []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range infos {
		key := string(c.EntityType) + "." + c.Field
		if !seen[key] {
			seen[key] = true
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}
