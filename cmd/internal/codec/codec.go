package codec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"fmt"
	"io"

	v1 "cipherchat/shared/contracts/relay/v1"
)

// Codec encodes and decodes frames under one shared key.
// It is safe for concurrent use: the block cipher is read-only after construction.
type Codec struct {
	block     cipher.Block
	frameSize int
	random    io.Reader
}

// Option configures a Codec.
type Option func(*Codec)

// WithRandom overrides the IV source (crypto/rand by default).
func WithRandom(r io.Reader) Option {
	return func(c *Codec) {
		if r != nil {
			c.random = r
		}
	}
}

// New constructs a Codec for a 16-byte (AES-128) or 32-byte (AES-256) key.
// A frameSize <= 0 selects the default frame size.
func New(key []byte, frameSize int, opts ...Option) (*Codec, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, fmt.Errorf("%w: got %d bytes, want 16 or 32", ErrKeySize, len(key))
	}
	if frameSize <= 0 {
		frameSize = v1.DefaultFrameSize
	}
	if err := v1.ValidateFrameSize(frameSize); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	c := &Codec{
		block:     block,
		frameSize: frameSize,
		random:    rand.Reader,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// FrameSize returns the fixed frame length L.
func (c *Codec) FrameSize() int { return c.frameSize }

// MaxPayload returns the largest payload Encode accepts.
func (c *Codec) MaxPayload() int { return v1.MaxPayload(c.frameSize) }

// Encode seals payload into a new frame with a fresh random IV.
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	if limit := c.MaxPayload(); len(payload) > limit {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(payload), limit)
	}

	frame := make([]byte, c.frameSize)
	iv := frame[:v1.IVLen]
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	// Plaintext is built in place of the ciphertext region and encrypted in place.
	body := frame[v1.IVLen:]
	binary.BigEndian.PutUint32(body[:v1.LengthPrefixLen], uint32(len(payload))) // #nosec G115 -- bounded by MaxPayload.
	copy(body[v1.LengthPrefixLen:], payload)

	pad := body[len(body)-v1.BlockSize:]
	for i := range pad {
		pad[i] = v1.BlockSize
	}

	cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(body, body)
	return frame, nil
}

// Decode opens a frame and returns its payload.
func (c *Codec) Decode(frame []byte) ([]byte, error) {
	if len(frame) < v1.IVLen+v1.BlockSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than iv plus one block", ErrMalformed, len(frame))
	}
	if (len(frame)-v1.IVLen)%v1.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not block aligned", ErrMalformed, len(frame)-v1.IVLen)
	}
	if len(frame) != c.frameSize {
		return nil, fmt.Errorf("%w: frame length %d, want %d", ErrMalformed, len(frame), c.frameSize)
	}

	iv := frame[:v1.IVLen]
	plain := make([]byte, len(frame)-v1.IVLen)
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, frame[v1.IVLen:])

	body, err := unpad(plain)
	if err != nil {
		return nil, err
	}

	n := binary.BigEndian.Uint32(body[:v1.LengthPrefixLen])
	rest := body[v1.LengthPrefixLen:]
	if uint64(n) > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: length prefix %d exceeds capacity %d", ErrBadPadding, n, len(rest))
	}
	for _, b := range rest[n:] {
		if b != 0 {
			return nil, fmt.Errorf("%w: non-zero fill after payload", ErrBadPadding)
		}
	}

	out := make([]byte, n)
	copy(out, rest[:n])
	return out, nil
}

// unpad validates and strips PKCS7 padding. The encoder always emits a full padding block,
// so anything shorter is rejected as well.
func unpad(plain []byte) ([]byte, error) {
	if len(plain) < v1.BlockSize+v1.LengthPrefixLen {
		return nil, fmt.Errorf("%w: plaintext too short", ErrBadPadding)
	}

	n := int(plain[len(plain)-1])
	if n != v1.BlockSize {
		return nil, fmt.Errorf("%w: pad length %d", ErrBadPadding, n)
	}

	want := make([]byte, n)
	for i := range want {
		want[i] = byte(n)
	}
	if subtle.ConstantTimeCompare(plain[len(plain)-n:], want) != 1 {
		return nil, fmt.Errorf("%w: pad bytes mismatch", ErrBadPadding)
	}
	return plain[:len(plain)-n], nil
}
