package callloop

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshjon/rtx/registry"
	"github.com/joshjon/rtx/statemachine"
	"github.com/joshjon/rtx/store"
	"github.com/joshjon/rtx/testutil"
)

// fakeEnv is a tiny external "world" that setenv mutates, so tests can
// assert side effects happened (or were undone) exactly like spec.md's
// six end-to-end scenarios.
type fakeEnv struct {
	vals map[string]string
}

func newFakeEnv() *fakeEnv { return &fakeEnv{vals: map[string]string{}} }

func (e *fakeEnv) registerSetenv(reg *registry.Memory) {
	reg.RegisterAs("setenv", registry.Metadata{Transactional: true, Undoable: true, DryRunCapable: true},
		func(_ context.Context, args map[string]any) registry.Response {
			key, _ := args["key"].(string)
			val, _ := args["val"].(string)

			if dr, _ := args[registry.KeyDryRun].(bool); dr {
				prev := e.vals[key]
				return registry.Response{Code: 200, Extra: map[string]any{
					"undo_data": []registry.Call{{Func: "setenv", Args: map[string]any{"key": key, "val": prev}}},
				}}
			}
			e.vals[key] = val
			return registry.Response{Code: 200}
		})
}

func (e *fakeEnv) registerFailing(reg *registry.Memory, name string) {
	reg.RegisterAs(name, registry.Metadata{Transactional: true, Undoable: true, DryRunCapable: true},
		func(_ context.Context, args map[string]any) registry.Response {
			if dr, _ := args[registry.KeyDryRun].(bool); dr {
				return registry.Response{Code: 200, Extra: map[string]any{"undo_data": []registry.Call{}}}
			}
			return registry.Response{Code: 500, Message: "boom"}
		})
}

func setup(t *testing.T) (*Engine, *store.Store, *registry.Memory, *fakeEnv) {
	t.Helper()
	s, err := store.Open(testutil.Context(t), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.NewMemory()
	env := newFakeEnv()
	env.registerSetenv(reg)

	return NewEngine(s, reg), s, reg, env
}

func TestCallLoop_CallRecordsForwardAndUndoRows(t *testing.T) {
	e, s, _, env := setup(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, store.Tx{StrID: "t1", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	_, err = e.Run(ctx, serID, statemachine.OpCall, []registry.Call{
		{Func: "setenv", Args: map[string]any{"key": "A", "val": "1"}},
	}, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", env.vals["A"])

	undoRows, err := s.SelectCalls(ctx, store.TableUndoCall, serID, store.Ascending, nil)
	require.NoError(t, err)
	require.Len(t, undoRows, 1)
	assert.Equal(t, "setenv", undoRows[0].Func)

	callRows, err := s.SelectCalls(ctx, store.TableCall, serID, store.Ascending, nil)
	require.NoError(t, err)
	require.Len(t, callRows, 1)
}

func TestCallLoop_UndoRedoRoundTrip(t *testing.T) {
	e, s, _, env := setup(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, store.Tx{StrID: "t1", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	_, err = e.Run(ctx, serID, statemachine.OpCall, []registry.Call{
		{Func: "setenv", Args: map[string]any{"key": "A", "val": "1"}},
	}, Options{}, nil)
	require.NoError(t, err)

	require.NoError(t, s.DeleteCalls(ctx, store.TableCall, serID))
	require.NoError(t, s.UpdateTxCommitTime(ctx, serID, s.Now()))
	require.NoError(t, s.UpdateTxStatus(ctx, serID, statemachine.Committed))

	_, err = e.Run(ctx, serID, statemachine.OpUndo, nil, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "", env.vals["A"])

	got, err := s.SelectTxBySerID(ctx, serID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.Undone, got.Status)

	callRows, err := s.SelectCalls(ctx, store.TableCall, serID, store.Ascending, nil)
	require.NoError(t, err)
	require.Len(t, callRows, 1)
	undoRows, err := s.SelectCalls(ctx, store.TableUndoCall, serID, store.Ascending, nil)
	require.NoError(t, err)
	assert.Empty(t, undoRows)

	_, err = e.Run(ctx, serID, statemachine.OpRedo, nil, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1", env.vals["A"])

	got, err = s.SelectTxBySerID(ctx, serID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.Committed, got.Status)
}

func TestCallLoop_FailureTriggersRollback(t *testing.T) {
	e, s, reg, env := setup(t)
	env.registerFailing(reg, "explode")
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, store.Tx{StrID: "t2", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	_, err = e.Run(ctx, serID, statemachine.OpCall, []registry.Call{
		{Func: "setenv", Args: map[string]any{"key": "A", "val": "1"}},
	}, Options{}, nil)
	require.NoError(t, err)

	_, err = e.Run(ctx, serID, statemachine.OpCall, []registry.Call{
		{Func: "explode", Args: map[string]any{}},
	}, Options{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(rolled back)")

	got, err := s.SelectTxBySerID(ctx, serID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.RolledBack, got.Status)
	assert.Equal(t, "", env.vals["A"])
}

func TestCallLoop_DryRunReturnsUndoDataWithoutSideEffects(t *testing.T) {
	e, s, _, env := setup(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, store.Tx{StrID: "t3", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	env.vals["A"] = "orig"
	resp, err := e.Run(ctx, serID, statemachine.OpCall, []registry.Call{
		{Func: "setenv", Args: map[string]any{"key": "A", "val": "new"}},
	}, Options{DryRun: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "orig", env.vals["A"])

	calls, err := s.SelectCalls(ctx, store.TableCall, serID, store.Ascending, nil)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestCallLoop_NestedRollbackIgnored(t *testing.T) {
	e, _, _, _ := setup(t)
	assert.False(t, e.InRollback())

	// Simulate an outer rollback in flight; a nested rollback request must
	// be ignored rather than run or fail.
	require.False(t, e.beginRollback())
	defer e.endRollback()

	resp, err := e.Run(testutil.Context(t), 1, statemachine.OpRollback, nil, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
	assert.False(t, resp.RollbackAllowed())
	assert.True(t, e.InRollback())
}
