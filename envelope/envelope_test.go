package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshjon/rtx/errtag"
)

func TestEnvelope_ToFromTuple(t *testing.T) {
	e := New(200, "OK").WithPayload([]string{"a"}).WithExtra("undo_data", 1)
	tuple := e.ToTuple()
	require.Len(t, tuple, 4)

	got, ok := FromTuple(tuple)
	require.True(t, ok)
	assert.Equal(t, 200, got.Code)
	assert.Equal(t, "OK", got.Message)
}

func TestEnvelope_SkipRollback(t *testing.T) {
	e := New(409, "duplicate tx_id")
	assert.True(t, e.RollbackAllowed())

	e = e.SkipRollback()
	assert.False(t, e.RollbackAllowed())
}

func TestFromTaggedErr(t *testing.T) {
	err := errtag.NewTagged[errtag.NoSuchTx, *errtag.NoSuchTx]("no such tx", errtag.WithMsg("no such transaction"))
	e := FromTaggedErr(err)
	assert.Equal(t, 484, e.Code)
	assert.Equal(t, "no such transaction", e.Message)
}

func TestFromTaggedErr_Untagged(t *testing.T) {
	e := FromTaggedErr(assertNewErr("boom"))
	assert.Equal(t, 500, e.Code)
}

func assertNewErr(msg string) error {
	return &plainErr{msg: msg}
}

type plainErr struct{ msg string }

func (e *plainErr) Error() string { return e.msg }
