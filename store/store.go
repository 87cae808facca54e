// Package store is the TM's persistence layer: three SQLite tables (tx,
// call, undo_call) plus a _meta key-value table carrying a schema version,
// the per-Rtx trash/tmp directory layout, and the SQL-level transaction
// boundary CallLoop and the Wrapper operate inside.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joshjon/rtx/encrypt"
	"github.com/joshjon/rtx/sqlitedb"
	"github.com/joshjon/rtx/tx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// schemaVersion is the version this implementation writes into a fresh
// _meta table. Any stored version at or below minSupportedSchemaVersion-1
// is a fatal mismatch: the one non-recoverable error this module raises
// (silently upgrading would risk destroying data written by an older,
// incompatible schema).
const (
	schemaVersion             = "4"
	minSupportedSchemaVersion = 4
)

// ErrSchemaTooOld is returned by Open when the data directory's database
// predates this implementation's schema and cannot be safely used.
var ErrSchemaTooOld = errors.New("store: schema version is too old; migrate or recreate the data directory")

const (
	trashSubdir = ".trash"
	tmpSubdir   = ".tmp"
	dbName      = "tx"
)

// querier is the subset of *sql.DB / *sql.Tx that Store's queries need.
// Abstracting it lets Store run identically whether bound to the pool or
// to an ambient transaction (see WithTx).
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed Rtx/call/undo_call persistence layer. The
// zero value is not usable; construct with Open.
type Store struct {
	db    *sql.DB
	q     querier
	dir   string
	clk   *monotonicClock
	crypt encrypt.Encrypter // nil disables at-rest encryption of args blobs

	txer *tx.SQLiteRepositoryTxer[*Store]
}

// Option configures Open.
type Option func(*options)

type options struct {
	timeout time.Duration
	crypt   encrypt.Encrypter
}

// WithTimeout bounds each SQL-level transaction Store begins (see
// tx.SQLiteRepositoryTxerConfig.Timeout). Defaults to tx.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithEncrypter enables at-rest AES-GCM encryption of call/undo_call
// argument blobs. Without it, args are stored as plain JSON.
func WithEncrypter(enc encrypt.Encrypter) Option {
	return func(o *options) { o.crypt = enc }
}

// Open prepares the data directory (creating it and its .trash/.tmp
// subdirectories if absent), opens or creates tx.db, applies migrations,
// and validates the stored schema version. On success it returns a Store
// ready for use; there is no separate "init" step.
func Open(ctx context.Context, dataDir string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 || o.timeout > 10*time.Second {
		o.timeout = tx.DefaultTimeout
	}

	for _, sub := range []string{"", trashSubdir, tmpSubdir} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
	}

	db, err := sqlitedb.Open(ctx, sqlitedb.WithDir(dataDir), sqlitedb.WithDBName(dbName))
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	if err := sqlitedb.Migrate(db, migrationsFS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}

	if err := checkSchemaVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, q: db, dir: dataDir, clk: newMonotonicClock(), crypt: o.crypt}
	s.txer = tx.NewSQLiteRepositoryTxer[*Store](db, tx.SQLiteRepositoryTxerConfig[*Store]{
		Timeout: o.timeout,
		WithTxFunc: func(repo *Store, txer *tx.SQLiteRepositoryTxer[*Store], sqlTx *sql.Tx) *Store {
			cpy := *repo
			cpy.q = sqlTx
			cpy.txer = txer
			return &cpy
		},
	})
	return s, nil
}

func checkSchemaVersion(ctx context.Context, db *sql.DB) error {
	var stored string
	err := db.QueryRowContext(ctx, `SELECT value FROM _meta WHERE name = 'schema_version'`).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = db.ExecContext(ctx, `INSERT INTO _meta (name, value) VALUES ('schema_version', ?)`, schemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	var v int
	if _, err := fmt.Sscanf(stored, "%d", &v); err != nil {
		return fmt.Errorf("store: parse schema version %q: %w", stored, err)
	}
	if v < minSupportedSchemaVersion {
		return ErrSchemaTooOld
	}
	return nil
}

// WithTx returns a copy of s bound to txn. Implements tx.Repository[*Store].
func (s *Store) WithTx(txn tx.Tx) *Store {
	return s.txer.WithTx(s, txn)
}

// BeginTxFunc begins a SQL-level transaction (reusing an ambient one if s
// is already tx-bound) and runs fn with a tx-bound Store. Implements
// tx.Repository[*Store].
func (s *Store) BeginTxFunc(ctx context.Context, fn func(ctx context.Context, txn tx.Tx, repo *Store) error) error {
	return s.txer.BeginTxFunc(ctx, s, fn)
}

// InTx reports whether s is currently bound to an in-flight SQL
// transaction (i.e. is the value passed into a BeginTxFunc body).
func (s *Store) InTx() bool { return s.txer.InTx() }

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DataDir returns the root data directory this Store was opened against.
func (s *Store) DataDir() string { return s.dir }

// TrashDir lazily creates and returns the per-Rtx trash directory.
func (s *Store) TrashDir(serID int64) (string, error) {
	return s.perTxDir(trashSubdir, serID)
}

// TmpDir lazily creates and returns the per-Rtx tmp directory.
func (s *Store) TmpDir(serID int64) (string, error) {
	return s.perTxDir(tmpSubdir, serID)
}

func (s *Store) perTxDir(sub string, serID int64) (string, error) {
	dir := filepath.Join(s.dir, sub, fmt.Sprintf("%d", serID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("store: create %s dir: %w", sub, err)
	}
	return dir, nil
}

// Now returns the current time as a monotonically increasing
// floating-point number of seconds since the epoch, bumping by an epsilon
// over the previous call when the wall clock's resolution would otherwise
// produce a tie within one batch (see the ctime-collision design note).
func (s *Store) Now() float64 { return s.clk.now() }

// monotonicClock hands out strictly increasing float64 timestamps even
// when called back-to-back faster than the platform clock's resolution.
type monotonicClock struct {
	mu   sync.Mutex
	last float64
}

func newMonotonicClock() *monotonicClock { return &monotonicClock{} }

func (c *monotonicClock) now() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := float64(time.Now().UnixNano()) / 1e9
	if t <= c.last {
		t = c.last + 1e-6
	}
	c.last = t
	return t
}
