// Package keyring loads the relay's shared symmetric key.
//
// It provides:
// - Raw key loading from env (text, hex, or file) for 16-byte (AES-128) and 32-byte (AES-256) keys
// - Optional Argon2id derivation from a passphrase with a deployment-wide salt
// - A memguard-backed Key that keeps the material in locked memory until Destroy
// - A short, non-reversible fingerprint for logs
//
// Security notes:
// - The default mode uses the shared password directly as the key, with no derivation.
// - Argon2id mode must be enabled on every peer with the same salt and parameters.
package keyring
