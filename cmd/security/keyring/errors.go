package keyring

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing      = errors.New("key material missing")
	ErrKeySize         = errors.New("invalid key size")
	ErrKeyAmbiguous    = errors.New("more than one key source configured")
	ErrKeyDestroyed    = errors.New("key destroyed")
	ErrKDFUnsupported  = errors.New("unsupported key derivation")
	ErrKDFSaltMissing  = errors.New("key derivation salt missing")
	ErrKDFSaltTooShort = errors.New("key derivation salt too short")
)
