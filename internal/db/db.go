package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	_ "modernc.org/sqlite"
)

const dbFile = "roofsync.db"

// DefaultMaxRetries is the retry ceiling after which queue items stop being picked up.
const DefaultMaxRetries = 5

// DB wraps the database connection
type DB struct {
	conn       *sql.DB
	baseDir    string
	mu         sync.Mutex
	now        func() time.Time
	validate   *validator.Validate
	maxRetries int
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func newDB(conn *sql.DB, baseDir string) *DB {
	return &DB{
		conn:       conn,
		baseDir:    baseDir,
		now:        time.Now,
		validate:   validator.New(),
		maxRetries: DefaultMaxRetries,
	}
}

func openConn(dbPath string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, classify(fmt.Errorf("open database: %w", err))
	}

	// Enable WAL mode for concurrent reads while writes are serialized
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, classify(fmt.Errorf("enable WAL mode: %w", err))
	}

	// Set busy timeout as fallback protection (500ms, matches lock timeout)
	if _, err := conn.Exec("PRAGMA busy_timeout=500"); err != nil {
		conn.Close()
		return nil, classify(fmt.Errorf("set busy timeout: %w", err))
	}

	// Slightly faster writes, still safe with WAL
	conn.Exec("PRAGMA synchronous=NORMAL")
	return conn, nil
}

// Open opens an existing store in dataDir and runs any pending migrations
func Open(dataDir string) (*DB, error) {
	dbPath := filepath.Join(dataDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'roofsync init' first")
	}

	conn, err := openConn(dbPath)
	if err != nil {
		return nil, err
	}

	db := newDB(conn, dataDir)
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Initialize creates the store in dataDir if needed and brings the schema up to date
func Initialize(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, classify(fmt.Errorf("create data dir: %w", err))
	}

	conn, err := openConn(filepath.Join(dataDir, dbFile))
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, classify(fmt.Errorf("create schema: %w", err))
	}

	db := newDB(conn, dataDir)
	if _, err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Wrap adopts an already open connection, creating the schema on it.
// Stores created this way have no lock file and serialize writes in-process only.
func Wrap(conn *sql.DB) (*DB, error) {
	if _, err := conn.Exec(schema); err != nil {
		return nil, classify(fmt.Errorf("create schema: %w", err))
	}
	db := newDB(conn, "")
	if _, err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Close closes the database
func (db *DB) Close() error {
	return db.conn.Close()
}

// BaseDir returns the directory holding the database file
func (db *DB) BaseDir() string {
	return db.baseDir
}

// Conn exposes the raw connection for diagnostics and tests
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// SetClock replaces the wall clock used for local timestamps
func (db *DB) SetClock(now func() time.Time) {
	db.now = now
}

// SetMaxRetries sets the queue retry ceiling
func (db *DB) SetMaxRetries(n int) {
	if n > 0 {
		db.maxRetries = n
	}
}

// withWriteLock executes fn while holding an exclusive write lock.
// The in-process mutex serializes goroutines; the file lock serializes processes.
func (db *DB) withWriteLock(fn func() error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.baseDir == "" {
		return fn()
	}
	lock, err := lockStore(db.baseDir, lockWaitTimeout)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer lock.unlock()
	return fn()
}

// withTx runs fn in a single transaction under the write lock.
// Either every statement in fn commits or none does.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	return db.withWriteLock(func() error {
		tx, err := db.conn.Begin()
		if err != nil {
			return classify(fmt.Errorf("begin transaction: %w", err))
		}
		if err := fn(tx); err != nil {
			tx.Rollback()
			return classify(err)
		}
		if err := tx.Commit(); err != nil {
			return classify(fmt.Errorf("commit: %w", err))
		}
		return nil
	})
}
