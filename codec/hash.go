package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ContentHash returns the salted SHA-256 of text, hex-encoded.
// The salt is fixed per engine instance, so the hash doubles as an
// integrity fingerprint for the stored text.
func ContentHash(text, salt string) string {
	sum := sha256.Sum256([]byte(text + salt))
	return hex.EncodeToString(sum[:])
}

// EmbeddingFingerprint returns a SHA-256 fingerprint of an embedding.
// Components are formatted to 8 decimal digits before hashing so the
// fingerprint is stable across platforms and float formatting quirks.
func EmbeddingFingerprint(v []float32) string {
	var b strings.Builder
	b.Grow(len(v) * 12)
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%.8f", f)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
