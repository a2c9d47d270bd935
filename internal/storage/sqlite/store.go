// Package sqlite implements the storage interface on an embedded
// SQLite database (ncruces/go-sqlite3, WASM build via wazero).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/sudocode-ai/sudocode/internal/eventbus"
	"github.com/sudocode-ai/sudocode/internal/storage"
)

// setupWASMCache configures wazero compilation caching so the SQLite
// WASM module is JIT-compiled once per machine, not once per process.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "sudocode", "wasm")
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

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pendingEvent is a bus event buffered until its transaction commits.
type pendingEvent struct {
	name    string
	payload eventbus.Payload
}

var _ storage.Storage = (*Store)(nil)

// Store implements storage.Storage over SQLite. Inside InTransaction a
// child Store shares the database handle but routes statements through
// the transaction and buffers events until commit.
type Store struct {
	db     *sql.DB
	dbPath string
	bus    *eventbus.Bus
	closed atomic.Bool

	q       querier
	pending *[]pendingEvent // non-nil only inside a transaction
}

// Open creates or opens the store at path. Pass ":memory:" for an
// ephemeral store. The bus may be nil (no events emitted).
func Open(ctx context.Context, path string, bus *eventbus.Bus) (*Store, error) {
	connStr := path
	if path == ":memory:" {
		connStr = "file::memory:?cache=shared"
	} else {
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The store is single-writer by design; one connection avoids
	// SQLITE_BUSY between concurrent writers in the same process.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path, bus: bus}
	s.q = db
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database. Safe to call twice.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// InTransaction implements storage.Storage. Events emitted inside are
// published only after a successful commit; rollback discards them.
func (s *Store) InTransaction(ctx context.Context, fn func(tx storage.Storage) error) error {
	if s.pending != nil {
		// Already inside a transaction; SQLite has no nesting, reuse it.
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	buffered := []pendingEvent{}
	child := &Store{db: s.db, dbPath: s.dbPath, bus: s.bus, q: tx, pending: &buffered}

	if err := fn(child); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if s.bus != nil {
		for _, ev := range buffered {
			s.bus.Publish(ev.name, ev.payload)
		}
	}
	return nil
}

// emit publishes immediately at database level, or buffers inside a
// transaction.
func (s *Store) emit(name string, payload eventbus.Payload) {
	if s.pending != nil {
		*s.pending = append(*s.pending, pendingEvent{name: name, payload: payload})
		return
	}
	if s.bus != nil {
		s.bus.Publish(name, payload)
	}
}

// --- time and null helpers ---

// timeText renders a timestamp as UTC RFC3339Nano for TEXT columns.
func timeText(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func timeTextPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return timeText(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func ptrArg(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
