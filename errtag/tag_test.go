package errtag

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithMsg(t *testing.T) {
	var meta tagMeta
	opt := WithMsg("custom message")
	opt(&meta)

	assert.Equal(t, "custom message", meta.msg)
}

func TestWithMsgf(t *testing.T) {
	var meta tagMeta
	opt := WithMsgf("formatted %s", "message")
	opt(&meta)

	assert.Equal(t, "formatted message", meta.msg)
}

func TestWithDetails(t *testing.T) {
	var meta tagMeta
	opt := WithDetails("detail1", "detail2")
	opt(&meta)

	assert.Equal(t, []string{"detail1", "detail2"}, meta.details)
}

func TestTag(t *testing.T) {
	err := errors.New("cause error")
	tag := Tag[NoSuchTx, *NoSuchTx](err, WithMsg("no such transaction"), WithDetails("detail"))

	require.NotNil(t, tag)
	assert.Equal(t, 484, tag.Code())
	assert.Equal(t, "no such transaction", tag.Msg())
	assert.Equal(t, "cause error", tag.Error())
	assert.Equal(t, []string{"detail"}, tag.Details())
}

func TestNewTagged(t *testing.T) {
	taggedErr := NewTagged[WrongStatus, *WrongStatus]("status mismatch", WithMsg("wrong status"))
	require.NotNil(t, taggedErr)

	asWrongStatus, ok := AsTag[WrongStatus](taggedErr)
	require.True(t, ok)
	assert.Equal(t, 480, asWrongStatus.Code())
	assert.Equal(t, "wrong status", asWrongStatus.Msg())
	assert.Equal(t, "status mismatch", asWrongStatus.Error())
}
