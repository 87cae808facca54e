package valgoutil

import (
	"testing"

	"github.com/cohesivestack/valgo"
	"github.com/stretchr/testify/assert"
)

func TestNonEmptySliceValidator(t *testing.T) {
	ok := valgo.Is(NonEmptySliceValidator[string]([]string{}, "foo")).Valid()
	assert.False(t, ok)

	ok = valgo.Is(NonEmptySliceValidator[string]([]string{"a"}, "foo")).Valid()
	assert.True(t, ok)
}

func TestHexAESKeyValidator(t *testing.T) {
	ok := valgo.Is(HexAESKeyValidator("not-hex", "key")).Valid()
	assert.False(t, ok)

	ok = valgo.Is(HexAESKeyValidator("000102030405060708090a0b0c0d0e0f", "key")).Valid()
	assert.True(t, ok)
}
