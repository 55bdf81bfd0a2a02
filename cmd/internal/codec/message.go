package codec

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	v1 "cipherchat/shared/contracts/relay/v1"
)

// Message is the logical payload of a frame.
type Message struct {
	// Username is at most v1.UsernameLen bytes.
	Username []byte
	Data     []byte
}

// NewMessage builds a Message, truncating username to the fixed field width
// without splitting a UTF-8 sequence.
func NewMessage(username string, data []byte) Message {
	return Message{
		Username: []byte(TruncateUsername(username)),
		Data:     data,
	}
}

// User returns the username as a string.
func (m Message) User() string { return string(m.Username) }

// TruncateUsername cuts s to at most v1.UsernameLen bytes on a rune boundary.
func TruncateUsername(s string) string {
	if len(s) <= v1.UsernameLen {
		return s
	}
	cut := v1.UsernameLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// MarshalMessage lays m out as username[10, zero padded] ‖ data.
func MarshalMessage(m Message) []byte {
	out := make([]byte, v1.UsernameLen+len(m.Data))
	copy(out[:v1.UsernameLen], m.Username)
	copy(out[v1.UsernameLen:], m.Data)
	return out
}

// UnmarshalMessage parses a decoded payload.
func UnmarshalMessage(p []byte) (Message, error) {
	if len(p) < v1.UsernameLen {
		return Message{}, fmt.Errorf("%w: message payload %d bytes, want at least %d", ErrMalformed, len(p), v1.UsernameLen)
	}

	user := bytes.TrimRight(p[:v1.UsernameLen], "\x00")
	data := p[v1.UsernameLen:]

	return Message{
		Username: append([]byte(nil), user...),
		Data:     append([]byte{}, data...),
	}, nil
}

// EncodeMessage seals m into a frame.
func (c *Codec) EncodeMessage(m Message) ([]byte, error) {
	if len(m.Username) > v1.UsernameLen {
		return nil, fmt.Errorf("%w: username %d bytes, max %d", ErrPayloadTooLarge, len(m.Username), v1.UsernameLen)
	}
	return c.Encode(MarshalMessage(m))
}

// DecodeMessage opens a frame and parses its Message.
func (c *Codec) DecodeMessage(frame []byte) (Message, error) {
	p, err := c.Decode(frame)
	if err != nil {
		return Message{}, err
	}
	return UnmarshalMessage(p)
}
