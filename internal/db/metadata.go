package db

import (
	"database/sql"
	"errors"
	"time"
)

// Well-known metadata keys
const (
	MetaLastSyncAt      = "last-sync-at"
	MetaLastBootstrapAt = "last-bootstrap-at"
	MetaDeviceID        = "device-id"
	MetaUserID          = "user-id"
	MetaUserName        = "user-name"
	MetaUserEmail       = "user-email"
)

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// GetMeta returns a metadata value, or "" when the key is unset
func (db *DB) GetMeta(key string) (string, error) {
	var v string
	err := db.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", classify(err)
	}
	return v, nil
}

// SetMeta stores a metadata value
func (db *DB) SetMeta(key, value string) error {
	return db.withTx(func(tx *sql.Tx) error {
		return setMeta(tx, key, value)
	})
}

func setMeta(q querier, key, value string) error {
	_, err := q.Exec(`INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)`, key, value)
	return err
}

// GetMetaTime returns a timestamp stored under key, or the zero time
func (db *DB) GetMetaTime(key string) (time.Time, error) {
	v, err := db.GetMeta(key)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	return parseTime(v)
}

// SetMetaTime stores a timestamp under key
func (db *DB) SetMetaTime(key string, t time.Time) error {
	return db.SetMeta(key, formatTime(t))
}

// SetMetaMany writes several keys in one transaction
func (db *DB) SetMetaMany(values map[string]string) error {
	return db.withTx(func(tx *sql.Tx) error {
		for k, v := range values {
			if err := setMeta(tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
