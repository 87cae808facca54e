package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshjon/rtx/encrypt"
	"github.com/joshjon/rtx/statemachine"
	"github.com/joshjon/rtx/testutil"
	"github.com/joshjon/rtx/tx"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(testutil.Context(t), dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_CreatesLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(testutil.Context(t), dir)
	require.NoError(t, err)
	defer s.Close() //nolint:errcheck

	assert.DirExists(t, s.DataDir())
	_, err = s.TrashDir(1)
	require.NoError(t, err)
	_, err = s.TmpDir(1)
	require.NoError(t, err)
}

func TestInsertAndSelectTx(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)
	assert.NotZero(t, serID)

	got, err := s.SelectTxByStrID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, serID, got.SerID)
	assert.Equal(t, statemachine.InProgress, got.Status)
	assert.Nil(t, got.CommitTime)
	assert.Nil(t, got.LastCallID)

	bySer, err := s.SelectTxBySerID(ctx, serID)
	require.NoError(t, err)
	assert.Equal(t, got, bySer)

	_, err = s.SelectTxByStrID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTxStatusAutocommit(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTxStatusAutocommit(ctx, serID, statemachine.Aborting, true))

	got, err := s.SelectTxBySerID(ctx, serID)
	require.NoError(t, err)
	assert.Equal(t, statemachine.Aborting, got.Status)
	assert.Nil(t, got.LastCallID)

	err = s.UpdateTxStatusAutocommit(ctx, 99999, statemachine.Aborting, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTxLastCallID(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	callID, err := s.InsertCall(ctx, TableCall, serID, nil, s.Now(), "setenv", map[string]any{"key": "A"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateTxLastCallID(ctx, serID, callID))

	got, err := s.SelectTxBySerID(ctx, serID)
	require.NoError(t, err)
	require.NotNil(t, got.LastCallID)
	assert.Equal(t, callID, *got.LastCallID)
}

func TestInsertSelectDeleteCalls(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := s.InsertCall(ctx, TableCall, serID, nil, s.Now(), "setenv", map[string]any{"i": i})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	calls, err := s.SelectCalls(ctx, TableCall, serID, Ascending, nil)
	require.NoError(t, err)
	require.Len(t, calls, 3)
	assert.Equal(t, ids[0], calls[0].ID)
	assert.Equal(t, float64(0), calls[0].Args["i"])

	// Resume cursor excludes up to and including ids[0].
	resumed, err := s.SelectCalls(ctx, TableCall, serID, Ascending, &ids[0])
	require.NoError(t, err)
	require.Len(t, resumed, 2)
	assert.Equal(t, ids[1], resumed[0].ID)

	reversed, err := s.SelectCalls(ctx, TableCall, serID, Descending, nil)
	require.NoError(t, err)
	require.Len(t, reversed, 3)
	assert.Equal(t, ids[2], reversed[0].ID)

	require.NoError(t, s.DeleteCalls(ctx, TableCall, serID))
	calls, err = s.SelectCalls(ctx, TableCall, serID, Ascending, nil)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestInsertCall_Encrypted(t *testing.T) {
	enc, err := encrypt.NewAES([]byte("0123456789abcdef"))
	require.NoError(t, err)
	s := openTestStore(t, WithEncrypter(enc))
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	_, err = s.InsertCall(ctx, TableCall, serID, nil, s.Now(), "setenv", map[string]any{"secret": "shh"})
	require.NoError(t, err)

	calls, err := s.SelectCalls(ctx, TableCall, serID, Ascending, nil)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "shh", calls[0].Args["secret"])
}

func TestDeleteTx_CascadesCalls(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	serID, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.Committed, CTime: s.Now()})
	require.NoError(t, err)
	_, err = s.InsertCall(ctx, TableUndoCall, serID, nil, s.Now(), "setenv", map[string]any{})
	require.NoError(t, err)

	require.NoError(t, s.DeleteTx(ctx, serID))

	_, err = s.SelectTxBySerID(ctx, serID)
	assert.ErrorIs(t, err, ErrNotFound)

	calls, err := s.SelectCalls(ctx, TableUndoCall, serID, Ascending, nil)
	require.NoError(t, err)
	assert.Empty(t, calls)
}

func TestListTx_Filters(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	_, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.Committed, CTime: s.Now()})
	require.NoError(t, err)
	_, err = s.InsertTx(ctx, Tx{StrID: "t2", Status: statemachine.InProgress, CTime: s.Now()})
	require.NoError(t, err)

	all, err := s.ListTx(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "t1", all[0].StrID)

	committed := statemachine.Committed
	filtered, err := s.ListTx(ctx, ListFilter{Status: &committed})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "t1", filtered[0].StrID)
}

func TestSelectMostRecentCommittedAndEarliestUndone(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	id1, err := s.InsertTx(ctx, Tx{StrID: "t1", Status: statemachine.Committed, CTime: s.Now()})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTxCommitTime(ctx, id1, s.Now()))

	id2, err := s.InsertTx(ctx, Tx{StrID: "t2", Status: statemachine.Committed, CTime: s.Now()})
	require.NoError(t, err)
	require.NoError(t, s.UpdateTxCommitTime(ctx, id2, s.Now()))

	mostRecent, err := s.SelectMostRecentCommitted(ctx)
	require.NoError(t, err)
	assert.Equal(t, id2, mostRecent.SerID)

	require.NoError(t, s.UpdateTxStatus(ctx, id1, statemachine.Undone))
	earliest, err := s.SelectEarliestUndone(ctx)
	require.NoError(t, err)
	assert.Equal(t, id1, earliest.SerID)
}

func TestBeginTxFunc_CommitsOnSuccess(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	err := s.BeginTxFunc(ctx, func(ctx context.Context, _ tx.Tx, repo *Store) error {
		assert.True(t, repo.InTx())
		_, err := repo.InsertTx(ctx, Tx{StrID: "committed", Status: statemachine.InProgress, CTime: repo.Now()})
		return err
	})
	require.NoError(t, err)

	_, err = s.SelectTxByStrID(ctx, "committed")
	require.NoError(t, err)
}

func TestBeginTxFunc_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	boom := errors.New("boom")
	err := s.BeginTxFunc(ctx, func(ctx context.Context, _ tx.Tx, repo *Store) error {
		if _, err := repo.InsertTx(ctx, Tx{StrID: "rolled-back", Status: statemachine.InProgress, CTime: repo.Now()}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.SelectTxByStrID(ctx, "rolled-back")
	assert.ErrorIs(t, err, ErrNotFound)
}
