package v1

import (
	"bytes"
	"strings"
)

// RejectionFrame builds the fixed, unencrypted rejection notice for a frame size.
// A peer that failed authentication cannot decrypt anything, so the notice is sent in clear.
func RejectionFrame(frameSize int) []byte {
	out := make([]byte, frameSize)
	copy(out, RejectMarker)
	return out
}

// IsRejection reports whether frame is the rejection notice.
func IsRejection(frame []byte) bool {
	if len(frame) < len(RejectMarker) {
		return false
	}
	if !bytes.HasPrefix(frame, []byte(RejectMarker)) {
		return false
	}
	for _, b := range frame[len(RejectMarker):] {
		if b != 0 {
			return false
		}
	}
	return true
}

// WelcomeText is the data of the welcome notice sent after a successful authentication.
func WelcomeText(peerAddr string) string {
	return peerAddr + " " + WelcomeSuffix
}

// ParseWelcome extracts the peer address from welcome notice data.
func ParseWelcome(data []byte) (string, bool) {
	s := string(data)
	addr, ok := strings.CutSuffix(s, " "+WelcomeSuffix)
	if !ok || strings.TrimSpace(addr) == "" {
		return "", false
	}
	return addr, true
}
