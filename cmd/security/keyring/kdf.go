package keyring

import (
	"golang.org/x/crypto/argon2"
)

// Derive turns passphrase into key bytes according to c.KDF.
// In raw mode the passphrase is returned unchanged and must already be 16 or 32 bytes.
func (c Config) Derive(passphrase []byte) ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.KDF != KDFArgon2id {
		out := make([]byte, len(passphrase))
		copy(out, passphrase)
		return out, nil
	}

	if len(passphrase) == 0 {
		return nil, ErrKeyMissing
	}

	return argon2.IDKey(
		passphrase,
		c.Salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	), nil
}
