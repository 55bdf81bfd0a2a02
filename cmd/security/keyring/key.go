package keyring

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Key is the shared symmetric key held in memguard locked memory.
// It is immutable after construction and safe for concurrent reads.
type Key struct {
	mu  sync.RWMutex
	buf *memguard.LockedBuffer
	fp  string
}

// NewKey moves raw into locked memory. raw is wiped by memguard and must not be reused.
func NewKey(raw []byte) (*Key, error) {
	if len(raw) != 16 && len(raw) != 32 {
		n := len(raw)
		memguard.WipeBytes(raw)
		return nil, fmt.Errorf("%w: got %d bytes, want 16 or 32", ErrKeySize, n)
	}

	fp := Fingerprint(raw)
	buf := memguard.NewBufferFromBytes(raw)
	buf.Freeze()

	return &Key{buf: buf, fp: fp}, nil
}

// Use calls fn with a read-only view of the key bytes. fn must not retain the slice.
func (k *Key) Use(fn func(key []byte) error) error {
	if k == nil {
		return ErrKeyDestroyed
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.buf == nil || !k.buf.IsAlive() {
		return ErrKeyDestroyed
	}
	return fn(k.buf.Bytes())
}

// Len returns the key length in bytes, or 0 after Destroy.
func (k *Key) Len() int {
	if k == nil {
		return 0
	}
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.buf == nil || !k.buf.IsAlive() {
		return 0
	}
	return k.buf.Size()
}

// Fingerprint returns the key's log-safe fingerprint.
func (k *Key) Fingerprint() string {
	if k == nil {
		return ""
	}
	return k.fp
}

// Destroy wipes and unlocks the key memory (idempotent).
func (k *Key) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.buf != nil {
		k.buf.Destroy()
		k.buf = nil
	}
}
