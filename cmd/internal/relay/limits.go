package relay

import "time"

// Relay defaults. Each can be overridden through Config.
const (
	defaultSendQueueSize  = 256
	minSendQueueSize      = 16
	defaultRelayQueueSize = 1024

	// There is no handshake retry, so a peer that never sends its first frame is dropped after this.
	defaultAuthTimeout = 30 * time.Second

	// Zero disables the idle timeout for authenticated sessions.
	defaultReadIdleTimeout = 0

	defaultWriteTimeout = 5 * time.Second

	// Journal appends run on the single relay consumer; keep them bounded.
	journalAppendTimeout = 2 * time.Second
)

const (
	// Per-connection rate limits (frames per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
