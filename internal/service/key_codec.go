package service

import (
	"fmt"

	"keyward/internal/models"
	"keyward/internal/security"
)

const DefaultKeyLength = 16

// KeyCodec builds and checks plaintext keys of the form PREFIX + [A-Z0-9]*.
type KeyCodec struct {
	Length int
}

func NewKeyCodec(length int) KeyCodec {
	if length <= 0 {
		length = DefaultKeyLength
	}
	return KeyCodec{Length: length}
}

func (c KeyCodec) Encode(t models.LicenseType) (string, error) {
	prefix := t.Prefix()
	if prefix == "" {
		return "", fmt.Errorf("invalid license type: %q", t)
	}
	if c.Length <= len(prefix) {
		return "", fmt.Errorf("key length %d too short for prefix %s", c.Length, prefix)
	}
	suffix, err := security.RandomAlnum(c.Length - len(prefix))
	if err != nil {
		return "", err
	}
	return prefix + suffix, nil
}

// Validate reports whether key is well formed for t. It never panics on
// malformed input.
func (c KeyCodec) Validate(key string, t models.LicenseType) bool {
	prefix := t.Prefix()
	if prefix == "" || len(key) != c.Length || len(key) <= len(prefix) {
		return false
	}
	if key[:len(prefix)] != prefix {
		return false
	}
	return security.IsAlnum(key[len(prefix):])
}
