package rtx

import (
	"context"
	"errors"
	"fmt"

	"github.com/joshjon/rtx/callloop"
	"github.com/joshjon/rtx/envelope"
	"github.com/joshjon/rtx/errtag"
	"github.com/joshjon/rtx/ref"
	"github.com/joshjon/rtx/registry"
	"github.com/joshjon/rtx/statemachine"
	"github.com/joshjon/rtx/store"
	"github.com/joshjon/rtx/tx"
)

const defaultSummary = "(no summary)"

// logged runs fn and emits the one structured line every Facade operation
// carries: Debug with the operation, tx_id, and resulting code, bumped to
// Warn for a 500 and Error for a 532 (the Store/lock-layer failures worth
// an operator's attention).
func (m *Manager) logged(op, txID string, fn func() envelope.Envelope) envelope.Envelope {
	env := fn()
	switch env.Code {
	case 532:
		m.logger.Error("facade operation failed", "operation", op, "tx_id", txID, "code", env.Code, "message", env.Message)
	case 500:
		m.logger.Warn("facade operation failed", "operation", op, "tx_id", txID, "code", env.Code, "message", env.Message)
	default:
		m.logger.Debug("facade operation", "operation", op, "tx_id", txID, "code", env.Code)
	}
	return env
}

// Begin inserts a new Rtx with status i under txID. A duplicate txID
// fails 409 without rolling back the Wrapper's SQL tx — the Rtx under
// that name belongs to whoever is already holding it, not to this call.
// Runs the Recovery cleanup stub first, per the Wrapper's step 4.
func (m *Manager) Begin(ctx context.Context, txID, summary, clientToken string) envelope.Envelope {
	return m.logged("begin", txID, func() envelope.Envelope {
		if err := m.recovery.Cleanup(ctx); err != nil {
			m.logger.Error("begin: cleanup failed", "error", err)
		}

		return m.wrap(ctx, txID, wrapOpts{allowMissing: true}, func(ctx context.Context, repo *store.Store, cur store.Tx, found bool) envelope.Envelope {
			if found {
				return envelope.New(409, fmt.Sprintf("transaction %q already exists", txID)).SkipRollback()
			}
			_, err := repo.InsertTx(ctx, store.Tx{
				StrID:   txID,
				OwnerID: clientToken,
				Summary: ref.FirstNonZero(summary, defaultSummary),
				Status:  statemachine.InProgress,
				CTime:   repo.Now(),
			})
			if errors.Is(err, store.ErrConflict) {
				// Lost the race against a concurrent begin() for the same
				// txID between this call's own precondition check and its
				// INSERT — str_id's unique index is the real mutual
				// exclusion here, since two Wrapper operations only ever
				// hold a shared file lock against each other.
				return envelope.New(409, fmt.Sprintf("transaction %q already exists", txID)).SkipRollback()
			}
			if err != nil {
				return envelope.New(532, err.Error())
			}
			return envelope.New(200, "OK")
		})
	})
}

// Call drives the CallLoop engine in call mode against txID, either for a
// single entry or a batch, with an optional dry-run probe. Permitted
// while the Rtx is in i, or — the re-entry exception — while this
// Manager's engine is already mid-rollback (a callee issuing its own
// nested call from inside a rollback handler).
func (m *Manager) Call(ctx context.Context, txID string, calls []registry.Call, dryRun bool) envelope.Envelope {
	return m.logged("call", txID, func() envelope.Envelope {
		permitted := statemachine.PermittedStatuses(statemachine.OpCall)
		if m.engine.InRollback() {
			permitted = nil
		}
		return m.wrapNoTx(ctx, txID, wrapOpts{permitted: permitted}, func(ctx context.Context, cur store.Tx, found bool) envelope.Envelope {
			env, err := m.engine.Run(ctx, cur.SerID, statemachine.OpCall, calls, callloop.Options{DryRun: dryRun}, m)
			if err != nil {
				return errEnvelope(err)
			}
			return env
		})
	})
}

// Commit finalizes an in-progress Rtx: if it is already aborting, drives
// rollback instead and reports "Rolled back"; otherwise deletes the call
// log, stamps commit_time, and sets status C. The rollback branch invokes
// CallLoop and so runs outside any Go-level SQL transaction (wrapNoTx);
// the plain-commit branch never touches CallLoop and keeps its three
// writes atomic under its own transaction.
func (m *Manager) Commit(ctx context.Context, txID string) envelope.Envelope {
	return m.logged("commit", txID, func() envelope.Envelope {
		permitted := []statemachine.Status{statemachine.InProgress, statemachine.Aborting}
		return m.wrapNoTx(ctx, txID, wrapOpts{permitted: permitted}, func(ctx context.Context, cur store.Tx, found bool) envelope.Envelope {
			if cur.Status == statemachine.Aborting {
				env, err := m.engine.Run(ctx, cur.SerID, statemachine.OpRollback, nil, callloop.Options{}, m)
				if err != nil {
					return errEnvelope(err)
				}
				if env.Code == 200 {
					return envelope.New(200, "Rolled back")
				}
				return env
			}

			var result envelope.Envelope
			txErr := m.store.BeginTxFunc(ctx, func(ctx context.Context, _ tx.Tx, repo *store.Store) error {
				if err := repo.DeleteCalls(ctx, store.TableCall, cur.SerID); err != nil {
					return err
				}
				if err := repo.UpdateTxCommitTime(ctx, cur.SerID, repo.Now()); err != nil {
					return err
				}
				if err := repo.UpdateTxStatus(ctx, cur.SerID, statemachine.Committed); err != nil {
					return err
				}
				result = envelope.New(200, "OK")
				return nil
			})
			if txErr != nil {
				return envelope.New(532, txErr.Error())
			}
			return result
		})
	})
}

// Rollback drives the CallLoop engine in rollback mode against txID. sp
// is reserved (savepoints are not implemented).
func (m *Manager) Rollback(ctx context.Context, txID string, sp *string) envelope.Envelope {
	return m.logged("rollback", txID, func() envelope.Envelope {
		permitted := statemachine.PermittedStatuses(statemachine.OpRollback)
		return m.wrapNoTx(ctx, txID, wrapOpts{permitted: permitted}, func(ctx context.Context, cur store.Tx, found bool) envelope.Envelope {
			env, err := m.engine.Run(ctx, cur.SerID, statemachine.OpRollback, nil, callloop.Options{SP: sp}, m)
			if err != nil {
				return errEnvelope(err)
			}
			return env
		})
	})
}

// Undo drives the CallLoop engine in undo mode. If txID is empty, the
// target is the most recently committed Rtx (status C, commit_time desc,
// ser_id desc tiebreak); 412 if none exists.
func (m *Manager) Undo(ctx context.Context, txID string) envelope.Envelope {
	return m.logged("undo", txID, func() envelope.Envelope {
		return m.undoRedo(ctx, txID, statemachine.OpUndo, func(ctx context.Context, repo *store.Store) (store.Tx, error) {
			return repo.SelectMostRecentCommitted(ctx)
		})
	})
}

// Redo drives the CallLoop engine in redo mode. If txID is empty, the
// target is the earliest undone Rtx (status U, commit_time asc, ser_id
// asc tiebreak); 412 if none exists.
func (m *Manager) Redo(ctx context.Context, txID string) envelope.Envelope {
	return m.logged("redo", txID, func() envelope.Envelope {
		return m.undoRedo(ctx, txID, statemachine.OpRedo, func(ctx context.Context, repo *store.Store) (store.Tx, error) {
			return repo.SelectEarliestUndone(ctx)
		})
	})
}

func (m *Manager) undoRedo(
	ctx context.Context,
	txID string,
	op statemachine.Operation,
	implicit func(ctx context.Context, repo *store.Store) (store.Tx, error),
) envelope.Envelope {
	wo := wrapOpts{permitted: statemachine.PermittedStatuses(op)}
	if txID == "" {
		wo.implicitLookup = implicit
	}
	return m.wrapNoTx(ctx, txID, wo, func(ctx context.Context, cur store.Tx, found bool) envelope.Envelope {
		env, err := m.engine.Run(ctx, cur.SerID, op, nil, callloop.Options{}, m)
		if err != nil {
			return errEnvelope(err)
		}
		return env
	})
}

// List enumerates Rtx ordered by (ctime, ser_id) ascending, optionally
// filtered by txID and/or status. With detail false the payload is the
// list of string IDs; with detail true it is the full records.
func (m *Manager) List(ctx context.Context, txID *string, status *statemachine.Status, detail bool) envelope.Envelope {
	return m.logged("list", ref.Deref(txID, ""), func() envelope.Envelope {
		return m.wrap2(ctx, func(ctx context.Context, repo *store.Store) envelope.Envelope {
			rows, err := repo.ListTx(ctx, store.ListFilter{StrID: txID, Status: status})
			if err != nil {
				return envelope.New(532, err.Error())
			}
			if !detail {
				ids := make([]string, len(rows))
				for i, r := range rows {
					ids[i] = r.StrID
				}
				return envelope.New(200, "OK").WithPayload(ids)
			}
			return envelope.New(200, "OK").WithPayload(rows)
		})
	})
}

var discardableStatuses = []statemachine.Status{statemachine.Committed, statemachine.Undone, statemachine.Inconsistent}

// Discard deletes the Rtx and its call log, permitted only when status is
// one of C, U, or X — the only way to clear an Inconsistent Rtx.
func (m *Manager) Discard(ctx context.Context, txID string) envelope.Envelope {
	return m.logged("discard", txID, func() envelope.Envelope {
		return m.wrap(ctx, txID, wrapOpts{permitted: discardableStatuses}, func(ctx context.Context, repo *store.Store, cur store.Tx, found bool) envelope.Envelope {
			if err := repo.DeleteTx(ctx, cur.SerID); err != nil {
				return envelope.New(532, err.Error())
			}
			return envelope.New(200, "OK")
		})
	})
}

// DiscardAll deletes every Rtx (and its call log) with status C, U, or X.
func (m *Manager) DiscardAll(ctx context.Context) envelope.Envelope {
	return m.logged("discard_all", "", func() envelope.Envelope {
		return m.wrap2(ctx, func(ctx context.Context, repo *store.Store) envelope.Envelope {
			for _, status := range discardableStatuses {
				s := status
				rows, err := repo.ListTx(ctx, store.ListFilter{Status: &s})
				if err != nil {
					return envelope.New(532, err.Error())
				}
				for _, r := range rows {
					if err := repo.DeleteTx(ctx, r.SerID); err != nil {
						return envelope.New(532, err.Error())
					}
				}
			}
			return envelope.New(200, "OK")
		})
	})
}

// GetTrashDir lazily creates and returns txID's per-Rtx trash directory.
// Fails 412 if txID names no Rtx.
func (m *Manager) GetTrashDir(ctx context.Context, txID string) envelope.Envelope {
	return m.logged("get_trash_dir", txID, func() envelope.Envelope {
		return m.dirOp(ctx, txID, m.store.TrashDir)
	})
}

// GetTmpDir lazily creates and returns txID's per-Rtx tmp directory.
// Fails 412 if txID names no Rtx.
func (m *Manager) GetTmpDir(ctx context.Context, txID string) envelope.Envelope {
	return m.logged("get_tmp_dir", txID, func() envelope.Envelope {
		return m.dirOp(ctx, txID, m.store.TmpDir)
	})
}

func (m *Manager) dirOp(ctx context.Context, txID string, dirFn func(serID int64) (string, error)) envelope.Envelope {
	return m.wrap(ctx, txID, wrapOpts{allowMissing: true}, func(ctx context.Context, repo *store.Store, cur store.Tx, found bool) envelope.Envelope {
		if !found {
			return envelope.New(412, fmt.Sprintf("no such transaction %q", txID)).SkipRollback()
		}
		dir, err := dirFn(cur.SerID)
		if err != nil {
			return envelope.New(532, err.Error())
		}
		return envelope.New(200, "OK").WithPayload(dir)
	})
}

// Prepare, Savepoint, and ReleaseSavepoint are declared but not
// implemented; savepoints are reserved for a future nested-transaction
// scheme this module does not build.
func (m *Manager) Prepare(ctx context.Context, txID string) envelope.Envelope {
	return m.logged("prepare", txID, func() envelope.Envelope {
		return notImplemented()
	})
}

func (m *Manager) Savepoint(ctx context.Context, txID, sp string) envelope.Envelope {
	return m.logged("savepoint", txID, func() envelope.Envelope {
		return notImplemented()
	})
}

func (m *Manager) ReleaseSavepoint(ctx context.Context, txID, sp string) envelope.Envelope {
	return m.logged("release_savepoint", txID, func() envelope.Envelope {
		return notImplemented()
	})
}

func notImplemented() envelope.Envelope {
	return envelope.FromTaggedErr(errtag.NewTagged[errtag.NotImplemented]("not implemented"))
}

// errEnvelope converts an error surfaced from the CallLoop engine into its
// response envelope. Tagged errors keep their tag's code and message,
// except that any error whose envelope would be 500 (untagged errors, the
// common case here since engine.Run's failures are plain
// fmt.Errorf-wrapped strings annotated with "(rolled back)"/"(rollback
// failed: ...)", and Internal-tagged ones alike) becomes a 532 carrying
// the full error text.
func errEnvelope(err error) envelope.Envelope {
	if tagged := envelope.FromTaggedErr(err); tagged.Code != 500 {
		return tagged
	}
	return envelope.New(532, err.Error())
}
