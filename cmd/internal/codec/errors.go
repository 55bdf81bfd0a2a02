package codec

import "errors"

// Public, stable errors for callers.
var (
	// ErrPayloadTooLarge is returned by Encode when the payload exceeds the frame capacity.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrMalformed is returned by Decode for frames of the wrong size or block alignment.
	ErrMalformed = errors.New("malformed frame")

	// ErrBadPadding is returned by Decode when the decrypted block structure does not validate.
	// This is what a wrong key looks like, so the relay treats it as an authentication failure.
	ErrBadPadding = errors.New("bad padding")

	// ErrKeySize is returned for keys that are not 16 or 32 bytes long.
	ErrKeySize = errors.New("invalid key size")
)
