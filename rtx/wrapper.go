package rtx

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshjon/rtx/envelope"
	"github.com/joshjon/rtx/statemachine"
	"github.com/joshjon/rtx/store"
	"github.com/joshjon/rtx/tx"
)

// acquireLock bounds the lock-acquisition attempt by the Manager's
// configured lock timeout, so config.Config.LockTimeout can truncate (but
// never extend) the fixed 1-2-3-4-5s retry schedule. The returned
// release func must be called once the lock is no longer needed; ctx
// passed to the rest of the operation is the caller's original context,
// not the timeout-bounded one used only for acquisition.
func (m *Manager) acquireLock(ctx context.Context, shared bool) (release func(), err error) {
	lctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()
	if err := m.locker.Acquire(lctx, shared); err != nil {
		return nil, err
	}
	return func() { _ = m.locker.Release() }, nil
}

// maxTxIDLen is the upper bound every Facade operation that names an Rtx
// enforces on tx_id.
const maxTxIDLen = 200

// resolveTxID validates a caller-supplied tx_id's length. This
// implementation carries no sticky per-instance default (every caller
// must name the Rtx it means), so the only failure here is absence or an
// over-long string.
func resolveTxID(txID string) (envelope.Envelope, bool) {
	if txID == "" {
		return envelope.New(400, "tx_id is required"), false
	}
	if len(txID) > maxTxIDLen {
		return envelope.New(400, fmt.Sprintf("tx_id exceeds %d characters", maxTxIDLen)), false
	}
	return envelope.Envelope{}, true
}

// errBodyRollback signals wrap's BeginTxFunc body to roll back the SQL
// transaction while the envelope it already computed is preserved and
// returned unchanged.
var errBodyRollback = errors.New("rtx: roll back wrapper tx")

// wrapOpts configures the current-Rtx resolution and precondition check
// shared by wrap and wrapNoTx.
type wrapOpts struct {
	// permitted, when non-nil, is the set of statuses the current Rtx must
	// have; a mismatch fails 480. Nil skips the check entirely (begin,
	// which has no current Rtx to check yet; get_trash_dir/get_tmp_dir,
	// which accept any status).
	permitted []statemachine.Status

	// allowMissing lets fn observe a not-found Rtx (found=false) instead of
	// wrap failing 484 on its behalf. begin needs this (absence is the
	// expected case); get_trash_dir/get_tmp_dir need it too, to report 412
	// instead of 484 on a missing Rtx.
	allowMissing bool

	// implicitLookup, when set, resolves the current Rtx without a
	// caller-supplied tx_id (undo/redo's "most recent" / "earliest"
	// selection). Its store.ErrNotFound becomes 412, and txID/allowMissing
	// are ignored.
	implicitLookup func(ctx context.Context, repo *store.Store) (store.Tx, error)
}

// resolveCurrent runs wo's current-Rtx resolution and precondition check
// against repo. ok is false when resolution should short-circuit the
// caller with failEnv (not-found, wrong status, or a Store error).
func resolveCurrent(ctx context.Context, repo *store.Store, txID string, wo wrapOpts) (cur store.Tx, found bool, failEnv envelope.Envelope, ok bool) {
	found = true
	var serr error

	switch {
	case wo.implicitLookup != nil:
		cur, serr = wo.implicitLookup(ctx, repo)
		if errors.Is(serr, store.ErrNotFound) {
			return store.Tx{}, false, envelope.New(412, "no candidate transaction"), false
		}
		if serr != nil {
			return store.Tx{}, false, envelope.New(532, fmt.Sprintf("resolve implicit tx: %v", serr)), false
		}
	default:
		cur, serr = repo.SelectTxByStrID(ctx, txID)
		switch {
		case errors.Is(serr, store.ErrNotFound):
			found = false
			if !wo.allowMissing {
				return store.Tx{}, false, envelope.New(484, fmt.Sprintf("no such transaction %q", txID)), false
			}
		case serr != nil:
			return store.Tx{}, false, envelope.New(532, fmt.Sprintf("load tx: %v", serr)), false
		}
	}

	if found && wo.permitted != nil && !statusPermitted(cur.Status, wo.permitted) {
		return store.Tx{}, false, envelope.New(480, fmt.Sprintf("tx %q has status %q, not permitted for this operation", txID, cur.Status)), false
	}
	return cur, found, envelope.Envelope{}, true
}

// wrap is the Wrapper described in the component design: acquire the
// shared lock, resolve tx_id (or run an implicit lookup), begin a
// SQL-level transaction, load the Rtx, check the precondition, run fn,
// and commit or roll back the SQL tx based on the envelope fn returns.
// The lock is always released.
//
// wrap must never be used for an operation whose fn invokes the CallLoop
// engine — see wrapNoTx.
func (m *Manager) wrap(
	ctx context.Context,
	txID string,
	wo wrapOpts,
	fn func(ctx context.Context, repo *store.Store, cur store.Tx, found bool) envelope.Envelope,
) envelope.Envelope {
	if wo.implicitLookup == nil {
		if env, ok := resolveTxID(txID); !ok {
			return env
		}
	}

	release, err := m.acquireLock(ctx, true)
	if err != nil {
		return envelope.New(532, err.Error())
	}
	defer release()

	var result envelope.Envelope
	txErr := m.store.BeginTxFunc(ctx, func(ctx context.Context, _ tx.Tx, repo *store.Store) error {
		cur, found, failEnv, ok := resolveCurrent(ctx, repo, txID, wo)
		if !ok {
			result = failEnv
			return errBodyRollback
		}

		result = fn(ctx, repo, cur, found)
		if result.RollbackAllowed() && result.Code != 200 && result.Code != 304 {
			return errBodyRollback
		}
		return nil
	})

	if txErr != nil && !errors.Is(txErr, errBodyRollback) {
		return envelope.New(532, txErr.Error())
	}
	return result
}

// wrapNoTx is the Wrapper variant for every operation whose body invokes
// the CallLoop engine (call, rollback, undo, redo, and commit's
// rollback-an-aborting-Rtx branch). It acquires the shared lock, resolves
// the current Rtx with a single autocommitted read, checks the
// precondition, and calls fn directly against the root Store — with no
// enclosing SQL transaction.
//
// This split exists because sqlitedb.Open caps the connection pool at one
// connection (see package sqlitedb), and CallLoop's Phase A deliberately
// exits any wrapping SQL transaction to issue its own standalone
// autocommitted statements (see package callloop) — those statements are
// themselves ExecContext calls against the same pool. Running them while
// wrap's *sql.Tx still holds the pool's one connection checked out would
// leave the engine's very first query waiting forever for a connection
// that wrap itself is holding. Keeping wrapNoTx's precondition check
// outside any Go-level transaction avoids that self-deadlock entirely;
// CallLoop's own per-statement atomicity is what the original design
// already relies on once Phase A has run.
func (m *Manager) wrapNoTx(
	ctx context.Context,
	txID string,
	wo wrapOpts,
	fn func(ctx context.Context, cur store.Tx, found bool) envelope.Envelope,
) envelope.Envelope {
	if wo.implicitLookup == nil {
		if env, ok := resolveTxID(txID); !ok {
			return env
		}
	}

	release, err := m.acquireLock(ctx, true)
	if err != nil {
		return envelope.New(532, err.Error())
	}
	defer release()

	cur, found, failEnv, ok := resolveCurrent(ctx, m.store, txID, wo)
	if !ok {
		return failEnv
	}
	return fn(ctx, cur, found)
}

// wrap2 is the read-only / cross-Rtx Wrapper variant: acquire the shared
// lock, run fn directly against the Store with no SQL tx and no
// current-Rtx load, release the lock.
func (m *Manager) wrap2(ctx context.Context, fn func(ctx context.Context, repo *store.Store) envelope.Envelope) envelope.Envelope {
	release, err := m.acquireLock(ctx, true)
	if err != nil {
		return envelope.New(532, err.Error())
	}
	defer release()
	return fn(ctx, m.store)
}

func statusPermitted(s statemachine.Status, permitted []statemachine.Status) bool {
	for _, p := range permitted {
		if p == s {
			return true
		}
	}
	return false
}
