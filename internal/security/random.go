package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
)

const alnumCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomAlnum returns n characters drawn uniformly from [A-Z0-9].
func RandomAlnum(n int) (string, error) {
	if n < 0 {
		return "", fmt.Errorf("invalid length: %d", n)
	}
	b := make([]byte, n)
	max := big.NewInt(int64(len(alnumCharset)))
	for i := range b {
		num, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random: %w", err)
		}
		b[i] = alnumCharset[num.Int64()]
	}
	return string(b), nil
}

// IsAlnum reports whether s only contains characters from [A-Z0-9].
func IsAlnum(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// RandomSecret returns n random bytes, hex encoded.
func RandomSecret(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewAPIKey returns a client API key in the "sk_live_" format.
func NewAPIKey() (string, error) {
	s, err := RandomSecret(24)
	if err != nil {
		return "", err
	}
	return "sk_live_" + s, nil
}
