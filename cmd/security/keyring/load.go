package keyring

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// Material names where the key (or passphrase) comes from. Exactly one field must be set.
type Material struct {
	// Text is used as raw bytes.
	Text string
	// Hex is hex-decoded.
	Hex string
	// File is read and a single trailing newline is stripped.
	File string
}

// MaterialFromEnv reads CIPHERCHAT_KEY, CIPHERCHAT_KEY_HEX and CIPHERCHAT_KEY_FILE.
func MaterialFromEnv() Material {
	return Material{
		Text: os.Getenv("CIPHERCHAT_KEY"),
		Hex:  strings.TrimSpace(os.Getenv("CIPHERCHAT_KEY_HEX")),
		File: strings.TrimSpace(os.Getenv("CIPHERCHAT_KEY_FILE")),
	}
}

func (m Material) sources() int {
	n := 0
	for _, s := range []string{m.Text, m.Hex, m.File} {
		if s != "" {
			n++
		}
	}
	return n
}

func (m Material) read() ([]byte, error) {
	switch m.sources() {
	case 0:
		return nil, ErrKeyMissing
	case 1:
	default:
		return nil, ErrKeyAmbiguous
	}

	switch {
	case m.Text != "":
		return []byte(m.Text), nil
	case m.Hex != "":
		b, err := hex.DecodeString(m.Hex)
		if err != nil {
			return nil, fmt.Errorf("key hex: %w", err)
		}
		return b, nil
	default:
		b, err := os.ReadFile(m.File)
		if err != nil {
			return nil, fmt.Errorf("key file: %w", err)
		}
		b = bytes.TrimSuffix(b, []byte("\n"))
		b = bytes.TrimSuffix(b, []byte("\r"))
		return b, nil
	}
}

// Load reads the material, applies cfg's derivation and returns a locked Key.
func Load(m Material, cfg Config) (*Key, error) {
	secret, err := m.read()
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(secret)

	raw, err := cfg.Derive(secret)
	if err != nil {
		return nil, err
	}
	return NewKey(raw)
}
