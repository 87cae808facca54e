package valgoutil

import (
	"encoding/hex"

	"github.com/cohesivestack/valgo"
)

// NonEmptySliceValidator validates that a batch-call list (Call's
// calls=[...] form) is not empty.
func NonEmptySliceValidator[T any](items []T, nameAndTitle ...string) valgo.Validator {
	return valgo.Any(items, nameAndTitle...).Passing(func(v any) bool {
		return len(v.([]T)) > 0
	}, "{{title}} must not be empty")
}

// HexAESKeyValidator validates a hex-encoded AES key.
// The value must be a valid hex and decode to 16, 24, or 32 bytes.
func HexAESKeyValidator(hexKey string, nameAndTitle ...string) valgo.Validator {
	return valgo.String(hexKey, nameAndTitle...).Passing(func(s string) bool {
		return isValidHexAESKey(s)
	}, "must be a hex-encoded key that decodes to 16, 24, or 32 bytes (AES-128/192/256)")
}

func isValidHexAESKey(s string) bool {
	b, err := hex.DecodeString(s)
	if err != nil {
		return false
	}
	switch len(b) {
	case 16, 24, 32:
		return true
	default:
		return false
	}
}
