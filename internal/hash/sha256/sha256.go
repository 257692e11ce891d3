// Package sha256 computes change markers for resources whose upstream
// carries no timestamp of its own.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Prefix tags digests so stored markers name their algorithm.
const Prefix = "sha256:"

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the prefixed hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
