package util

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

// ConnectionIDLength is the length of generated connection identifiers.
const ConnectionIDLength = 10

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// NewConnectionID returns a random 10-character alphanumeric identifier.
// It panics if the system random source fails.
func NewConnectionID() string {
	id, err := randomString(rand.Reader, ConnectionIDLength, alphanumeric)
	if err != nil {
		panic(fmt.Sprintf("connection id: %v", err))
	}
	return id
}

// IsConnectionID reports whether s has the shape of a generated identifier.
func IsConnectionID(s string) bool {
	if len(s) != ConnectionIDLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func randomString(r io.Reader, length int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(r, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
