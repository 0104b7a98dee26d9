// Package sqlite implements the storage interface using SQLite.
//
// Layout:
//   - store.go: Store struct, New() constructor, transaction support
//   - schema.go: schema, indexes, and the change-feed triggers
//   - rawclaims.go, claims.go, rules.go, buckets.go, checks.go,
//     history.go, payers.go, naming.go, changefeed.go: per-aggregate queries
//   - errors.go: error classification helpers
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/remitflow/remitflow/internal/storage"
)

// Verify interface satisfaction at compile time.
var (
	_ storage.Store       = (*Store)(nil)
	_ storage.Transaction = (*txStore)(nil)
)

// dbtx is the subset of database/sql shared by *sql.DB, *sql.Conn and
// *sql.Tx. Every query in this package runs against it, so the same code
// serves both direct and transactional access.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// queries implements every storage.Querier method against a dbtx.
type queries struct {
	q dbtx
}

// Store is the SQLite-backed implementation of storage.Store.
type Store struct {
	queries
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

// txStore implements storage.Transaction over a dedicated connection with an
// open transaction.
type txStore struct {
	queries
}

// setupWASMCache configures WASM compilation caching to reduce SQLite
// startup time. Falls back to an in-memory cache if the filesystem cache
// cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "remitflow", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// New creates a new SQLite store at path, creating the schema if needed.
func New(ctx context.Context, path string) (*Store, error) {
	var connStr string
	switch {
	case path == ":memory:":
		// Shared in-memory database; WAL does not work here, use DELETE mode.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	default:
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	s.queries.q = db

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	if err := s.seedFeedState(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// seedFeedState ensures the change-feed counters exist.
func (s *Store) seedFeedState(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO feed_state (id, next_seq) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`); err != nil {
		return fmt.Errorf("failed to seed feed_state: %w", err)
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.dbPath }

// UnderlyingDB exposes the raw handle for tests.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// Close closes the database. Safe to call more than once.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// RunInTransaction executes fn within a BEGIN IMMEDIATE transaction on a
// dedicated connection. IMMEDIATE acquires the write lock up front,
// preventing deadlocks when goroutines compete for it. SQLITE_BUSY on begin
// is retried with exponential backoff.
//
// Panic safety: a panicking callback rolls back and re-raises.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for transaction: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback completes even if ctx is cancelled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	tx := &txStore{queries{q: conn}}
	if err := fn(tx); err != nil {
		return err // rollback in defer
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediate starts an IMMEDIATE transaction, retrying SQLITE_BUSY with
// exponential backoff for up to five attempts.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	bo := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(backoff.WithInitialInterval(10*time.Millisecond)), 5), ctx)
	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err != nil && !isBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}
