// Package rtx is the public TM facade: a durable, recoverable envelope
// around calls to transactional side-effecting functions, with
// undo/redo and crash recovery. Construct a Manager with New and drive it
// through Begin, Call, Commit, Rollback, Undo, Redo, List, Discard, and
// DiscardAll.
package rtx

import (
	"context"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"github.com/joshjon/rtx/callloop"
	"github.com/joshjon/rtx/config"
	"github.com/joshjon/rtx/encrypt"
	"github.com/joshjon/rtx/filelock"
	"github.com/joshjon/rtx/log"
	"github.com/joshjon/rtx/recovery"
	"github.com/joshjon/rtx/registry"
	"github.com/joshjon/rtx/store"
)

const lockFileName = "tx.db.lck"

// Manager is the TM instance: a Store, a CallLoop engine, an advisory
// file lock, and the crash-recovery routine construction runs
// unconditionally. A Manager is not safe for concurrent use from
// multiple goroutines in one process (see the re-entry exception for
// nested call() documented on package callloop).
type Manager struct {
	store       *store.Store
	engine      *callloop.Engine
	locker      *filelock.Locker
	logger      log.Logger
	recovery    *recovery.Recovery
	lockTimeout time.Duration
}

// Option configures New.
type Option func(*options)

type options struct {
	logger log.Logger
}

// WithLogger overrides the default JSON logger.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New opens the Store at cfg.DataDir (creating the data directory and
// its .trash/.tmp subdirectories on first use), applies migrations,
// acquires the exclusive lock, runs crash recovery unconditionally, and
// releases the lock before returning. The constructor *is* the recovery
// path: there is no separate step a caller must remember to invoke.
func New(ctx context.Context, cfg config.Config, reg registry.FuncRegistry, opts ...Option) (*Manager, error) {
	o := options{logger: log.NewLogger()}
	for _, opt := range opts {
		opt(&o)
	}

	var storeOpts []store.Option
	if cfg.EncryptionKeyHex != "" {
		key, err := hex.DecodeString(cfg.EncryptionKeyHex)
		if err != nil {
			return nil, fmt.Errorf("rtx: decode encryption key: %w", err)
		}
		enc, err := encrypt.NewAES(key)
		if err != nil {
			return nil, fmt.Errorf("rtx: init encrypter: %w", err)
		}
		storeOpts = append(storeOpts, store.WithEncrypter(enc))
	}

	st, err := store.Open(ctx, cfg.DataDir, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("rtx: open store: %w", err)
	}

	engine := callloop.NewEngine(st, reg)
	locker := filelock.New(filepath.Join(cfg.DataDir, lockFileName))

	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = 15 * time.Second
	}

	rec := recovery.New(st, engine, locker, o.logger)
	m := &Manager{store: st, engine: engine, locker: locker, logger: o.logger, recovery: rec, lockTimeout: lockTimeout}

	if err := rec.Run(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("rtx: recovery: %w", err)
	}

	return m, nil
}

// Close releases the underlying Store's database handle. It does not
// release the advisory lock, which this Manager only ever holds for the
// duration of a single operation.
func (m *Manager) Close() error {
	return m.store.Close()
}
