// Package v1 defines the cipherchat relay wire contract v1.
//
// This package stays stable and dependency-light.
// It is shared between the relay server, the peer client and tooling to keep the wire format authoritative.
//
// Security notes:
//   - Frames are AES-CBC encrypted under a shared key with a fresh random IV per frame.
//   - There is no per-message authentication tag and no key derivation by default.
//     The scheme is NOT authenticated-encryption grade; it only detects a wrong key or corruption
//     through padding/layout validation.
package v1

import (
	"errors"
	"fmt"
)

// Wire constants.
const (
	// DefaultAddr is the default TCP listen address.
	DefaultAddr = "127.0.0.1:6000"

	// DefaultFrameSize is the fixed record length L used for every frame in both directions.
	DefaultFrameSize = 4096

	// IVLen is the length of the per-frame initialization vector prefix.
	IVLen = 16

	// BlockSize is the cipher block size (AES).
	BlockSize = 16

	// LengthPrefixLen is the size of the big-endian payload length inside the plaintext.
	LengthPrefixLen = 4

	// UsernameLen is the fixed width of the username field in a message payload.
	UsernameLen = 10

	// MinFrameSize is the smallest usable frame: IV, one data block, one padding block.
	MinFrameSize = IVLen + 2*BlockSize

	// MaxFrameSize bounds the configurable frame size.
	MaxFrameSize = 1 << 20

	// WSSubprotocol is required on the WebSocket transport. Each binary message carries whole frames.
	WSSubprotocol = "cipherchat.relay.v1"
)

// Server notices.
const (
	// ServerUsername is the username carried by frames originated by the relay itself.
	ServerUsername = "server"

	// WelcomeSuffix follows the peer address in the welcome notice.
	WelcomeSuffix = "authenticated"

	// RejectMarker opens the unencrypted rejection notice frame.
	RejectMarker = "CIPHERCHAT/REJECT"
)

var (
	// ErrFrameSizeInvalid is returned for a frame size that cannot carry a block-aligned ciphertext.
	ErrFrameSizeInvalid = errors.New("invalid frame size")
)

// ValidateFrameSize checks that size is a usable fixed record length.
func ValidateFrameSize(size int) error {
	if size < MinFrameSize || size > MaxFrameSize {
		return fmt.Errorf("%w: %d not in [%d..%d]", ErrFrameSizeInvalid, size, MinFrameSize, MaxFrameSize)
	}
	if size%BlockSize != 0 {
		return fmt.Errorf("%w: %d is not a multiple of %d", ErrFrameSizeInvalid, size, BlockSize)
	}
	return nil
}

// MaxPayload returns the largest plaintext payload a frame of the given size can carry.
func MaxPayload(frameSize int) int {
	n := frameSize - IVLen - BlockSize - LengthPrefixLen
	if n < 0 {
		return 0
	}
	return n
}

// MaxMessageData returns the largest message data a frame of the given size can carry.
func MaxMessageData(frameSize int) int {
	n := MaxPayload(frameSize) - UsernameLen
	if n < 0 {
		return 0
	}
	return n
}
