package keyring

import (
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// KDF names.
const (
	KDFNone     = "none"
	KDFArgon2id = "argon2id"
)

// Argon2idParams controls Argon2id derivation cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
}

// Config is the single configuration surface for this package.
type Config struct {
	KDF    string
	Salt   []byte
	Params Argon2idParams
}

// DefaultConfig returns raw-key mode with Argon2id parameters ready for opt-in.
func DefaultConfig() Config {
	// Parallelism is clamped to [1..4] so every peer derives with predictable resource usage.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		KDF: KDFNone,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			KeyLength:   32,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - CIPHERCHAT_KEY_KDF (none|argon2id)
// - CIPHERCHAT_KDF_SALT (hex, >= 16 bytes; required for argon2id)
// - CIPHERCHAT_ARGON2_MEMORY_KIB
// - CIPHERCHAT_ARGON2_ITERATIONS
// - CIPHERCHAT_ARGON2_PARALLELISM
// - CIPHERCHAT_ARGON2_KEY_LEN (16 or 32)
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("CIPHERCHAT_KEY_KDF"); ok {
		kdf := strings.ToLower(strings.TrimSpace(v))
		switch kdf {
		case "", KDFNone:
			cfg.KDF = KDFNone
		case KDFArgon2id:
			cfg.KDF = KDFArgon2id
		default:
			return Config{}, fmt.Errorf("CIPHERCHAT_KEY_KDF: %w: %q", ErrKDFUnsupported, v)
		}
	}

	if v, ok := os.LookupEnv("CIPHERCHAT_KDF_SALT"); ok && strings.TrimSpace(v) != "" {
		salt, err := hex.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("CIPHERCHAT_KDF_SALT: not hex")
		}
		cfg.Salt = salt
	}

	if v, ok := os.LookupEnv("CIPHERCHAT_ARGON2_MEMORY_KIB"); ok {
		u, err := atou32(v, 8*1024, 1024*1024) // 8 MiB .. 1 GiB
		if err != nil {
			return Config{}, fmt.Errorf("CIPHERCHAT_ARGON2_MEMORY_KIB: %w", err)
		}
		cfg.Params.MemoryKiB = u
	}

	if v, ok := os.LookupEnv("CIPHERCHAT_ARGON2_ITERATIONS"); ok {
		u, err := atou32(v, 1, 20)
		if err != nil {
			return Config{}, fmt.Errorf("CIPHERCHAT_ARGON2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = u
	}

	if v, ok := os.LookupEnv("CIPHERCHAT_ARGON2_PARALLELISM"); ok {
		u, err := atou32(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("CIPHERCHAT_ARGON2_PARALLELISM: %w", err)
		}
		p, err := u32ToU8(u)
		if err != nil {
			return Config{}, fmt.Errorf("CIPHERCHAT_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = p
	}

	if v, ok := os.LookupEnv("CIPHERCHAT_ARGON2_KEY_LEN"); ok {
		u, err := atou32(v, 16, 32)
		if err != nil {
			return Config{}, fmt.Errorf("CIPHERCHAT_ARGON2_KEY_LEN: %w", err)
		}
		if u != 16 && u != 32 {
			return Config{}, fmt.Errorf("CIPHERCHAT_ARGON2_KEY_LEN: %w: %d", ErrKeySize, u)
		}
		cfg.Params.KeyLength = u
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.KDF {
	case KDFNone, "":
		return nil
	case KDFArgon2id:
	default:
		return fmt.Errorf("%w: %q", ErrKDFUnsupported, c.KDF)
	}

	if len(c.Salt) == 0 {
		return ErrKDFSaltMissing
	}
	if len(c.Salt) < 16 {
		return fmt.Errorf("%w: %d bytes, min 16", ErrKDFSaltTooShort, len(c.Salt))
	}
	if c.Params.KeyLength != 16 && c.Params.KeyLength != 32 {
		return fmt.Errorf("%w: derived length %d", ErrKeySize, c.Params.KeyLength)
	}
	return nil
}

func atou32(s string, minVal, maxVal uint32) (uint32, error) {
	s = strings.TrimSpace(s)
	u64, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}

	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}

func u32ToU8(u uint32) (uint8, error) {
	if u > math.MaxUint8 {
		return 0, fmt.Errorf("out of range [0..%d]", math.MaxUint8)
	}
	return uint8(u), nil
}
