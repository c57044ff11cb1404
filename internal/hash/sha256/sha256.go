// Package sha256 derives stable content keys with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// fieldSep cannot appear in scraped text, so joined fields stay unambiguous.
const fieldSep = "\x1f"

// Hash returns the hex digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fields hashes the ordered fields and truncates the digest to n hex
// characters. n <= 0 or n > 64 keeps the full digest.
func Fields(n int, fields ...string) string {
	digest := Hash([]byte(strings.Join(fields, fieldSep)))
	if n <= 0 || n > len(digest) {
		return digest
	}
	return digest[:n]
}
