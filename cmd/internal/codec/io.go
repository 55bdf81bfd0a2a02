package codec

import (
	"fmt"
	"io"
)

// ReadFrame reads exactly one frame of size bytes from r.
// A clean EOF before the first byte is returned as io.EOF; a partial frame as io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteFrame writes frame to w in full.
func WriteFrame(w io.Writer, frame []byte) error {
	n, err := w.Write(frame)
	if err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("write frame: %w", io.ErrShortWrite)
	}
	return nil
}
