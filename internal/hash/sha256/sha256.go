// Package sha256 provides the SHA-256 digests used for tracker keys and
// archive filename suffixes.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the full hex SHA-256 digest of s.
func Digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// Short returns the first n hex characters of Digest(s).
func Short(s string, n int) string {
	d := Digest(s)
	if n <= 0 || n >= len(d) {
		return d
	}
	return d[:n]
}
