// Package wmcrypto provides keyed cryptographic primitives: content
// hashing, HMAC signatures over watermarked content, and deterministic
// PRNG seed derivation for the keyed masks each engine embeds.
package wmcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math/rand"
)

// ContentHash returns H(X) = SHA256(data), a 32-byte digest identifying
// content before watermarking.
func ContentHash(data []byte) []byte {
	sum := sha256.Sum256(data)
	return sum[:]
}

// Signature computes σ = HMAC-SHA256(X_w, K) over watermarked content,
// returned as a lowercase hex digest. Any post-watermark modification
// produces a different signature.
func Signature(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature does a constant-time comparison of a claimed signature
// against the one computed from data and key.
func VerifySignature(data []byte, signature string, key []byte) bool {
	expected := Signature(data, key)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Fingerprint returns a lowercase hex SHA-256 digest of data, independent
// of the HMAC signature.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DeriveSeed derives a deterministic 31-bit PRNG seed from (key, domain).
// The same (key, domain) pair always yields the same seed, so every keyed
// mask an engine embeds is reproducible at verify time without storing
// the mask itself.
func DeriveSeed(key, domain []byte) uint32 {
	h := sha256.New()
	h.Write(key)
	h.Write(domain)
	digest := h.Sum(nil)
	seed := uint32(digest[0])<<24 | uint32(digest[1])<<16 | uint32(digest[2])<<8 | uint32(digest[3])
	return seed % (1 << 31)
}

// NewKeyedRand returns a *rand.Rand seeded deterministically from (key,
// domain), used wherever an engine needs a reproducible stream of mask
// bits, coefficient positions, or shuffle indices.
func NewKeyedRand(key, domain []byte) *rand.Rand {
	seed := DeriveSeed(key, domain)
	return rand.New(rand.NewSource(int64(seed)))
}
