// Package recovery implements the TM's crash-recovery protocol: at
// construction, scan for Rtx left in a transient status by a prior crash
// and drive each to a terminal state through the CallLoop engine's
// internal rollback.
package recovery

import (
	"context"
	"sort"

	"github.com/joshjon/rtx/callloop"
	"github.com/joshjon/rtx/filelock"
	"github.com/joshjon/rtx/log"
	"github.com/joshjon/rtx/statemachine"
	"github.com/joshjon/rtx/store"
)

// Recovery drives any Rtx left in i, a, u, or d by a prior crash to a
// terminal state, and carries the declared-but-unimplemented cleanup
// (quota) policy as a stub.
type Recovery struct {
	store  *store.Store
	engine *callloop.Engine
	locker *filelock.Locker
	logger log.Logger
}

// New builds a Recovery over the given Store, CallLoop engine, and
// advisory lock.
func New(s *store.Store, engine *callloop.Engine, locker *filelock.Locker, logger log.Logger) *Recovery {
	return &Recovery{store: s, engine: engine, locker: locker, logger: log.WithComponent(logger, "recovery")}
}

// Run acquires the exclusive lock, enumerates every Rtx whose status is in
// statemachine.RecoveryCandidates (i, a, u, d; not v or e) ordered by
// ctime descending, and drives each through internal
// rollback via the CallLoop engine. Per-Rtx failures are logged and do
// not abort the scan or propagate to the caller — construction of the
// manager must never fail merely because one crashed Rtx could not be
// cleanly unwound; it is left in X for an operator to discard.
func (r *Recovery) Run(ctx context.Context) error {
	if err := r.locker.Acquire(ctx, false); err != nil {
		return err
	}
	defer r.locker.Release() //nolint:errcheck

	var candidates []store.Tx
	for _, status := range statemachine.RecoveryCandidates {
		s := status
		txs, err := r.store.ListTx(ctx, store.ListFilter{Status: &s})
		if err != nil {
			return err
		}
		candidates = append(candidates, txs...)
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CTime > candidates[j].CTime
	})

	for _, t := range candidates {
		if _, err := r.engine.Run(ctx, t.SerID, statemachine.OpRollback, nil, callloop.Options{}, nil); err != nil {
			r.logger.Error("recovery rollback failed", "str_id", t.StrID, "ser_id", t.SerID, "error", err)
		}
	}
	return nil
}

// Cleanup purges old terminal Rtx per the quota policy (max_txs,
// max_open_txs, max_committed_txs, max_open_age, max_committed_age). The
// settings are accepted and stored on Config but never enforced here,
// carrying forward the same declared non-goal rather than inventing
// enforcement semantics that were never specified.
func (r *Recovery) Cleanup(_ context.Context) error {
	return nil
}
