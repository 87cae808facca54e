// Package callloop implements the unified call-looping engine that
// serves call, rollback, undo, and redo by selecting one of two call
// tables as source and sink, with reversal rules, dry-run probing for
// undo data, and resume-from-last-call semantics.
package callloop

import (
	"context"
	"fmt"
	"sync"

	"github.com/joshjon/rtx/envelope"
	"github.com/joshjon/rtx/errtag"
	"github.com/joshjon/rtx/registry"
	"github.com/joshjon/rtx/statemachine"
	"github.com/joshjon/rtx/store"
)

// Options carries the per-invocation knobs Run accepts alongside which
// and the caller-supplied calls.
type Options struct {
	// DryRun, when true, probes every entry for its undo data and returns
	// immediately without recording anything or invoking the real call.
	DryRun bool
	// SP is the reserved savepoint label; only the first recorded row of a
	// top-level call batch would carry it. Not implemented by any
	// operation (see package rtx's Prepare/Savepoint stubs), kept to
	// thread the column through InsertCall.
	SP *string
}

// Engine is the unified call-looping engine. One Engine instance is
// scoped to one TM (Manager); it carries the manager-scoped re-entry
// guard used to permit nested call() from inside a function's rollback
// handler while ignoring nested rollback() requests (they return 200
// without doing anything).
type Engine struct {
	store *store.Store
	reg   registry.FuncRegistry

	mu          sync.Mutex
	rollingBack bool
}

// NewEngine builds an Engine bound to s and reg.
func NewEngine(s *store.Store, reg registry.FuncRegistry) *Engine {
	return &Engine{store: s, reg: reg}
}

// InRollback reports whether this Engine is currently executing a
// rollback (used by the Facade's permitted-status check for call()'s
// re-entry exception).
func (e *Engine) InRollback() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rollingBack
}

// beginRollback sets the guard and reports whether it was already set
// (a nested rollback attempt, which the caller must ignore).
func (e *Engine) beginRollback() (alreadyRollingBack bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rollingBack {
		return true
	}
	e.rollingBack = true
	return false
}

func (e *Engine) endRollback() {
	e.mu.Lock()
	e.rollingBack = false
	e.mu.Unlock()
}

// workItem is one call-loop entry, whether read from a source table or
// freshly supplied by the caller in call mode.
type workItem struct {
	id    int64
	ctime float64
	f     string
	args  map[string]any
}

// Run executes which (call, rollback, undo, or redo) against the Rtx
// identified by serID. For call, calls supplies the program to execute;
// for the other operations the program is read from the appropriate
// table. txManager is injected into every invocation's reserved args
// under -tx_manager.
func (e *Engine) Run(
	ctx context.Context,
	serID int64,
	which statemachine.Operation,
	calls []registry.Call,
	opts Options,
	txManager any,
) (envelope.Envelope, error) {
	if which == statemachine.OpRollback {
		if e.beginRollback() {
			return envelope.New(200, "rollback already in progress").SkipRollback(), nil
		}
		defer e.endRollback()
	}

	env, err := e.run(ctx, serID, which, calls, opts, txManager)
	if err == nil {
		return env, nil
	}

	// Phase F — failure handling.
	if which == statemachine.OpRollback {
		if ferr := e.store.UpdateTxStatusAutocommit(ctx, serID, statemachine.Inconsistent, false); ferr != nil {
			return envelope.Envelope{}, fmt.Errorf("%w; additionally failed to mark inconsistent: %v", err, ferr)
		}
		return envelope.Envelope{}, err
	}

	if _, rerr := e.Run(ctx, serID, statemachine.OpRollback, nil, Options{}, txManager); rerr != nil {
		return envelope.Envelope{}, fmt.Errorf("%w (rollback failed: %v)", err, rerr)
	}
	return envelope.Envelope{}, fmt.Errorf("%w (rolled back)", err)
}

// run is Run's body, without the re-entry guard and failure-handling
// wrapper so those concerns stay out of the phase logic below.
func (e *Engine) run(
	ctx context.Context,
	serID int64,
	which statemachine.Operation,
	calls []registry.Call,
	opts Options,
	txManager any,
) (envelope.Envelope, error) {
	current, err := e.store.SelectTxBySerID(ctx, serID)
	if err != nil {
		return envelope.Envelope{}, fmt.Errorf("callloop: load tx %d: %w", serID, err)
	}

	var finalStatus statemachine.Status
	hasFinal := false

	// Phase A — status transition.
	if which != statemachine.OpCall {
		transient, final, terr := statemachine.Transition(which, current.Status)
		if terr != nil {
			if current.Status.IsTerminal() {
				return envelope.New(304, "no change"), nil
			}
			return envelope.Envelope{}, fmt.Errorf("callloop: %w", terr)
		}
		if transient != current.Status {
			if uerr := e.store.UpdateTxStatusAutocommit(ctx, serID, transient, true); uerr != nil {
				return envelope.Envelope{}, fmt.Errorf("callloop: phase A status write: %w", uerr)
			}
			current.Status = transient
			current.LastCallID = nil
		}
		finalStatus, hasFinal = final, true
	}

	// Phase B — source / sink selection.
	var sourceTable store.Table
	hasSource := false
	var sinkTable store.Table
	hasSink := false
	reversed := false
	reentrantCall := false

	switch which {
	case statemachine.OpCall:
		if e.InRollback() {
			reentrantCall = true
		} else {
			sinkTable, hasSink = store.TableUndoCall, true
		}
	case statemachine.OpUndo:
		sourceTable, hasSource = store.TableUndoCall, true
		sinkTable, hasSink = store.TableCall, true
		reversed = true
	case statemachine.OpRedo:
		sourceTable, hasSource = store.TableCall, true
		sinkTable, hasSink = store.TableUndoCall, true
		reversed = true
	case statemachine.OpRollback:
		reversed = true
		switch current.Status {
		case statemachine.Aborting:
			sourceTable, hasSource = store.TableUndoCall, true
		case statemachine.AbortingUndo:
			sourceTable, hasSource = store.TableCall, true
		case statemachine.AbortingRedo:
			sourceTable, hasSource = store.TableUndoCall, true
		}
	}

	// Build the work list: either caller-supplied (call mode, inserted
	// into the call table as we go) or read back from the source table
	// with Phase C's resume filter applied.
	var items []workItem
	if which == statemachine.OpCall {
		for _, c := range calls {
			items = append(items, workItem{f: c.Func, args: c.Args})
		}
	} else if hasSource {
		order := store.Ascending
		if reversed {
			order = store.Descending
		}
		rows, serr := e.store.SelectCalls(ctx, sourceTable, serID, order, current.LastCallID)
		if serr != nil {
			return envelope.Envelope{}, fmt.Errorf("callloop: select calls: %w", serr)
		}
		for _, r := range rows {
			items = append(items, workItem{id: r.ID, ctime: r.CTime, f: r.Func, args: r.Args})
		}
	}

	for _, item := range items {
		if item.f == "" {
			return envelope.Envelope{}, errtag.Tag[errtag.BadRequest](fmt.Errorf("callloop: empty function name"))
		}
	}

	txAction := ""
	if which == statemachine.OpRollback {
		txAction = registry.TxActionRollback
	}
	shouldRecord := hasSink && which != statemachine.OpRollback && !reentrantCall

	// Top-level dry run: probe every entry for its undo data and return
	// immediately. No side effects — not even the forward-call insertion
	// call mode would otherwise perform.
	if opts.DryRun {
		var allUndo []registry.Call
		for _, item := range items {
			fn, meta, rerr := e.reg.Resolve(ctx, item.f)
			if rerr != nil {
				return envelope.Envelope{}, errtag.Tag[errtag.Internal](fmt.Errorf("callloop: resolve %q: %w", item.f, rerr))
			}
			if !meta.Satisfies() {
				return envelope.Envelope{}, errtag.Tag[errtag.PreconditionFailed](fmt.Errorf("callloop: %q is not transactional/undoable/dry-run-capable", item.f))
			}
			if !shouldRecord {
				continue
			}
			probeArgs := registry.BuildArgs(item.args, registry.ReservedArgs{
				TxManager: txManager, TxAction: txAction, UndoAction: registry.UndoActionDo,
				DryRun: true, CheckState: true,
			})
			probe := fn(ctx, probeArgs)
			if !probe.OK() {
				return envelope.Envelope{}, fmt.Errorf("callloop: dry-run probe for %q failed: %d %s", item.f, probe.Code, probe.Message)
			}
			undoData, _ := probe.UndoData()
			allUndo = append(allUndo, undoData...)
		}
		return envelope.New(dryRunCode(allUndo), "OK").WithExtra(envelope.ExtraUndoData, allUndo), nil
	}

	var lastID int64
	var sp *string
	if len(items) > 0 {
		sp = opts.SP
	}

	for i := range items {
		item := &items[i]

		if which == statemachine.OpCall {
			id, ctime, ierr := e.insertForward(ctx, serID, sp, item.f, item.args)
			if ierr != nil {
				return envelope.Envelope{}, ierr
			}
			item.id, item.ctime = id, ctime
			sp = nil
		}

		fn, meta, rerr := e.reg.Resolve(ctx, item.f)
		if rerr != nil {
			return envelope.Envelope{}, errtag.Tag[errtag.Internal](fmt.Errorf("callloop: resolve %q: %w", item.f, rerr))
		}
		if !meta.Satisfies() {
			return envelope.Envelope{}, errtag.Tag[errtag.PreconditionFailed](fmt.Errorf("callloop: %q is not transactional/undoable/dry-run-capable", item.f))
		}

		if shouldRecord {
			probeArgs := registry.BuildArgs(item.args, registry.ReservedArgs{
				TxManager:  txManager,
				TxAction:   txAction,
				UndoAction: registry.UndoActionDo,
				DryRun:     true,
				CheckState: true,
			})
			probe := fn(ctx, probeArgs)
			if !probe.OK() {
				return envelope.Envelope{}, fmt.Errorf("callloop: dry-run probe for %q failed: %d %s", item.f, probe.Code, probe.Message)
			}
			undoData, _ := probe.UndoData()

			for j, u := range undoData {
				var rowSP *string
				if j == 0 {
					rowSP = sp
				}
				if _, ierr := e.store.InsertCall(ctx, sinkTable, serID, rowSP, e.store.Now(), u.Func, u.Args); ierr != nil {
					return envelope.Envelope{}, fmt.Errorf("callloop: record undo: %w", ierr)
				}
			}
			sp = nil
		}

		realArgs := registry.BuildArgs(item.args, registry.ReservedArgs{
			TxManager:  txManager,
			TxAction:   txAction,
			UndoAction: registry.UndoActionDo,
		})
		resp := fn(ctx, realArgs)
		if !resp.OK() {
			return envelope.Envelope{}, &CallFailure{Func: item.f, Code: resp.Code, Message: resp.Message}
		}

		lastID = item.id
		if lastID != 0 {
			if uerr := e.store.UpdateTxLastCallID(ctx, serID, lastID); uerr != nil {
				return envelope.Envelope{}, fmt.Errorf("callloop: update last_call_id: %w", uerr)
			}
		}
	}

	// Phase E — finalization.
	if hasFinal {
		if hasSink {
			opposite := store.TableCall
			if sinkTable == store.TableCall {
				opposite = store.TableUndoCall
			}
			if derr := e.store.DeleteCalls(ctx, opposite, serID); derr != nil {
				return envelope.Envelope{}, fmt.Errorf("callloop: delete opposite table: %w", derr)
			}
		} else if hasSource {
			if derr := e.store.DeleteCalls(ctx, sourceTable, serID); derr != nil {
				return envelope.Envelope{}, fmt.Errorf("callloop: delete source table: %w", derr)
			}
			// Rollback from a (aborting an in-progress i) ends in the
			// terminal R state, which supports no further undo/redo: the
			// forward log accumulated during i must go too, not just the
			// undo_call source just consumed.
			if current.Status == statemachine.Aborting {
				if derr := e.store.DeleteCalls(ctx, store.TableCall, serID); derr != nil {
					return envelope.Envelope{}, fmt.Errorf("callloop: delete forward log: %w", derr)
				}
			}
		}
		if werr := e.store.UpdateTxStatus(ctx, serID, finalStatus); werr != nil {
			return envelope.Envelope{}, fmt.Errorf("callloop: write final status: %w", werr)
		}
	}

	return envelope.New(200, "OK"), nil
}

func (e *Engine) insertForward(ctx context.Context, serID int64, sp *string, f string, args map[string]any) (int64, float64, error) {
	ctime := e.store.Now()
	id, err := e.store.InsertCall(ctx, store.TableCall, serID, sp, ctime, f, args)
	if err != nil {
		return 0, 0, fmt.Errorf("callloop: record forward call: %w", err)
	}
	return id, ctime, nil
}

func dryRunCode(undoData []registry.Call) int {
	if len(undoData) == 0 {
		return 304
	}
	return 200
}

// CallFailure wraps a registered function's non-200/304 response so
// Phase F and the Facade can surface the callee's own status and message.
type CallFailure struct {
	Func    string
	Code    int
	Message string
}

func (e *CallFailure) Error() string {
	return fmt.Sprintf("callloop: %s returned %d: %s", e.Func, e.Code, e.Message)
}
