package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/roofsync/internal/models"
)

// ErrAmbiguousID is returned when an id prefix matches several records
var ErrAmbiguousID = errors.New("ambiguous id")

var entityTables = map[models.EntityType]string{
	models.EntityReport:     "reports",
	models.EntityElement:    "roof_elements",
	models.EntityDefect:     "defects",
	models.EntityCompliance: "compliance_assessments",
	models.EntityPhoto:      "photos",
}

// ResolveID expands a full id or unique id prefix to the stored id.
// Tombstoned records are included.
func (db *DB) ResolveID(et models.EntityType, ref string) (string, error) {
	table, ok := entityTables[et]
	if !ok {
		return "", fmt.Errorf("resolve id: unknown entity type %q", et)
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", notFound(string(et), ref)
	}

	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(ref)
	rows, err := db.conn.Query(`SELECT id FROM `+table+` WHERE id = ? OR id LIKE ? ESCAPE '\' LIMIT 3`, ref, escaped+"%")
	if err != nil {
		return "", classify(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", classify(err)
		}
		if id == ref {
			return id, nil
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return "", classify(err)
	}

	switch len(ids) {
	case 0:
		return "", notFound(string(et), ref)
	case 1:
		return ids[0], nil
	}
	return "", fmt.Errorf("%s %q: %w", et, ref, ErrAmbiguousID)
}
