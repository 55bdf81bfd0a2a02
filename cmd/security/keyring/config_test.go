package keyring

import (
	"errors"
	"os"
	"testing"
)

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv := []string{
		"CIPHERCHAT_KEY_KDF",
		"CIPHERCHAT_KDF_SALT",
		"CIPHERCHAT_ARGON2_MEMORY_KIB",
		"CIPHERCHAT_ARGON2_ITERATIONS",
		"CIPHERCHAT_ARGON2_PARALLELISM",
		"CIPHERCHAT_ARGON2_KEY_LEN",
	}
	for _, k := range clearEnv {
		// t.Setenv restores the original value on cleanup.
		t.Setenv(k, "")
		_ = os.Unsetenv(k)
	}

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	def := DefaultConfig()
	if cfg.KDF != KDFNone {
		t.Fatalf("kdf=%q want %q", cfg.KDF, KDFNone)
	}
	if cfg.Params.MemoryKiB != def.Params.MemoryKiB {
		t.Fatalf("memory mismatch")
	}
}

func TestFromEnv_Override(t *testing.T) {
	t.Setenv("CIPHERCHAT_KEY_KDF", "argon2id")
	t.Setenv("CIPHERCHAT_KDF_SALT", "000102030405060708090a0b0c0d0e0f")
	t.Setenv("CIPHERCHAT_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("CIPHERCHAT_ARGON2_ITERATIONS", "4")
	t.Setenv("CIPHERCHAT_ARGON2_PARALLELISM", "2")
	t.Setenv("CIPHERCHAT_ARGON2_KEY_LEN", "16")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv error: %v", err)
	}

	if cfg.KDF != KDFArgon2id || len(cfg.Salt) != 16 {
		t.Fatalf("kdf override failed: %+v", cfg)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Iterations != 4 || cfg.Params.Parallelism != 2 {
		t.Fatalf("argon2 override failed: %+v", cfg.Params)
	}
	if cfg.Params.KeyLength != 16 {
		t.Fatalf("len override failed: %+v", cfg.Params)
	}
}

func TestFromEnv_Argon2idRequiresSalt(t *testing.T) {
	t.Setenv("CIPHERCHAT_KEY_KDF", "argon2id")
	t.Setenv("CIPHERCHAT_KDF_SALT", "")

	_, err := FromEnv()
	if !errors.Is(err, ErrKDFSaltMissing) {
		t.Fatalf("expected ErrKDFSaltMissing, got %v", err)
	}
}

func TestFromEnv_ShortSalt(t *testing.T) {
	t.Setenv("CIPHERCHAT_KEY_KDF", "argon2id")
	t.Setenv("CIPHERCHAT_KDF_SALT", "0011")

	_, err := FromEnv()
	if !errors.Is(err, ErrKDFSaltTooShort) {
		t.Fatalf("expected ErrKDFSaltTooShort, got %v", err)
	}
}

func TestFromEnv_UnsupportedKDF(t *testing.T) {
	t.Setenv("CIPHERCHAT_KEY_KDF", "scrypt")

	_, err := FromEnv()
	if !errors.Is(err, ErrKDFUnsupported) {
		t.Fatalf("expected ErrKDFUnsupported, got %v", err)
	}
}

func TestFromEnv_InvalidKeyLen(t *testing.T) {
	t.Setenv("CIPHERCHAT_KEY_KDF", "none")
	t.Setenv("CIPHERCHAT_ARGON2_KEY_LEN", "24")

	_, err := FromEnv()
	if err == nil {
		t.Fatalf("expected error")
	}
}
