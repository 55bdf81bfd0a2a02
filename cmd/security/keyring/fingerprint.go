package keyring

import (
	"crypto/sha256"
	"encoding/hex"
)

const fingerprintDomain = "cipherchat/key-fingerprint/v1"

// Fingerprint returns a 16-hex-char SHA-256 digest of key, domain separated so that it never
// equals a digest of the key computed elsewhere.
func Fingerprint(key []byte) string {
	h := sha256.New()
	_, _ = h.Write([]byte(fingerprintDomain))
	_, _ = h.Write(key)
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:8])
}
