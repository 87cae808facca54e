package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoFunc(_ context.Context, args map[string]any) Response {
	return Response{Code: 200, Message: "ok", Extra: map[string]any{"args": args}}
}

func TestMetadata_Satisfies(t *testing.T) {
	assert.True(t, Metadata{Transactional: true, Undoable: true, DryRunCapable: true}.Satisfies())
	assert.False(t, Metadata{Transactional: true, Undoable: true}.Satisfies())
}

func TestBuildArgs_StripsCallerReservedKeys(t *testing.T) {
	caller := map[string]any{
		"amount":      100,
		KeyTxManager:  "sneaky",
		KeyDryRun:     true,
		KeyCheckState: true,
	}
	out := BuildArgs(caller, ReservedArgs{
		TxManager:  "manager",
		UndoAction: UndoActionDo,
	})

	assert.Equal(t, 100, out["amount"])
	assert.Equal(t, "manager", out[KeyTxManager])
	assert.Equal(t, UndoActionDo, out[KeyUndoAction])
	assert.Equal(t, false, out[KeyDryRun])
	assert.Equal(t, false, out[KeyCheckState])
	assert.NotContains(t, out, KeyTxAction)
}

func TestBuildArgs_SetsTxActionOnlyWhenRollingBack(t *testing.T) {
	out := BuildArgs(nil, ReservedArgs{TxAction: TxActionRollback})
	assert.Equal(t, TxActionRollback, out[KeyTxAction])
}

func TestResponse_OK(t *testing.T) {
	assert.True(t, Response{Code: 200}.OK())
	assert.True(t, Response{Code: 304}.OK())
	assert.False(t, Response{Code: 400}.OK())
}

func TestResponse_UndoData(t *testing.T) {
	calls := []Call{{Func: "undo_it", Args: map[string]any{"id": 1}}}
	r := Response{Extra: map[string]any{"undo_data": calls}}
	got, ok := r.UndoData()
	require.True(t, ok)
	assert.Equal(t, calls, got)

	_, ok = Response{}.UndoData()
	assert.False(t, ok)
}

func TestMemory_RegisterResolve(t *testing.T) {
	reg := NewMemory()
	name := reg.Register(echoFunc, Metadata{Transactional: true, Undoable: true, DryRunCapable: true}, echoFunc)
	require.NotEmpty(t, name)

	fn, meta, err := reg.Resolve(context.Background(), name)
	require.NoError(t, err)
	assert.True(t, meta.Satisfies())

	resp := fn(context.Background(), map[string]any{"k": "v"})
	assert.True(t, resp.OK())
}

func TestMemory_RegisterAs(t *testing.T) {
	reg := NewMemory()
	reg.RegisterAs("billing.charge", Metadata{Transactional: true}, echoFunc)

	_, meta, err := reg.Resolve(context.Background(), "billing.charge")
	require.NoError(t, err)
	assert.True(t, meta.Transactional)
	assert.False(t, meta.Satisfies())
}

func TestMemory_ResolveUnknown(t *testing.T) {
	reg := NewMemory()
	_, _, err := reg.Resolve(context.Background(), "missing")
	require.Error(t, err)
	var notFound *ErrUnknownFunc
	assert.ErrorAs(t, err, &notFound)
}
