// Package sha256 derives content addresses for archived page bodies.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher implements analyzer.Hasher. Identical bodies map to the same
// snapshot key, so repeated checks of an unchanged page share one object.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum is Hash without the error return.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
