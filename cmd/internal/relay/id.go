package relay

import (
	"time"

	"cipherchat/cmd/identity/ids"
)

// NewSessionID returns a ULID used as relay session id.
// ULIDs sort by creation time, which keeps session ids readable in logs.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
