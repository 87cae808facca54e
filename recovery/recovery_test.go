package recovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshjon/rtx/callloop"
	"github.com/joshjon/rtx/filelock"
	"github.com/joshjon/rtx/log"
	"github.com/joshjon/rtx/registry"
	"github.com/joshjon/rtx/statemachine"
	"github.com/joshjon/rtx/store"
	"github.com/joshjon/rtx/testutil"
)

func TestRecovery_CompletesCrashedRollback(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()

	s, err := store.Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	reg := registry.NewMemory()
	var sawSetenv []string
	reg.RegisterAs("setenv", registry.Metadata{Transactional: true, Undoable: true, DryRunCapable: true},
		func(_ context.Context, args map[string]any) registry.Response {
			if dr, _ := args[registry.KeyDryRun].(bool); dr {
				return registry.Response{Code: 200, Extra: map[string]any{"undo_data": []registry.Call{}}}
			}
			val, _ := args["val"].(string)
			sawSetenv = append(sawSetenv, val)
			return registry.Response{Code: 200}
		})

	engine := callloop.NewEngine(s, reg)

	// Simulate a crash that left the Rtx mid-aborting: status "a" with
	// one recorded undo_call entry still pending execution.
	serID, err := s.InsertTx(ctx, store.Tx{StrID: "t1", Status: statemachine.Aborting, CTime: s.Now()})
	require.NoError(t, err)
	_, err = s.InsertCall(ctx, store.TableUndoCall, serID, nil, s.Now(), "setenv", map[string]any{"key": "A", "val": "reverted"})
	require.NoError(t, err)

	locker := filelock.New(filepath.Join(dir, "tx.db.lck"))
	rec := New(s, engine, locker, log.NewLogger(log.WithNop()))

	require.NoError(t, rec.Run(ctx))

	got, err := s.SelectTxBySerID(ctx, serID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.RolledBack, got.Status)
	assert.Equal(t, []string{"reverted"}, sawSetenv)
}

func TestRecovery_NoopWhenNothingTransient(t *testing.T) {
	ctx := testutil.Context(t)
	dir := t.TempDir()

	s, err := store.Open(ctx, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	engine := callloop.NewEngine(s, registry.NewMemory())
	locker := filelock.New(filepath.Join(dir, "tx.db.lck"))
	rec := New(s, engine, locker, log.NewLogger(log.WithNop()))

	require.NoError(t, rec.Run(ctx))
}
