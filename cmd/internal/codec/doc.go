// Package codec implements the fixed-size encrypted frame used on every relay connection.
//
// Frame layout (length L, constant for a deployment):
//
//	IV[16] ‖ AES-CBC( length:uint32be ‖ payload ‖ zero fill ‖ PKCS7 full block )
//
// The plaintext is always block aligned before padding, so PKCS7 appends exactly one full block and
// the ciphertext fills the frame with no transport padding. The explicit length makes decoding
// lossless for payloads that end in zero bytes.
//
// Security notes:
//   - A fresh random IV is drawn for every Encode call.
//   - There is no authentication tag. A wrong key or corrupted frame is detected only through the
//     padding, length and zero-fill checks, which is not a substitute for an AEAD.
package codec
