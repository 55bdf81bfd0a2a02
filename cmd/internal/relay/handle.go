package relay

import (
	"sync"
)

// Handle is the registry's view of an authenticated session: enough to route frames to it,
// nothing that touches its socket.
//
// Design notes:
// - The outbound queue is never closed, so a broadcaster holding a stale Handle cannot panic.
// - done signals the owning session's goroutines to stop.
// - Close is idempotent.
type Handle struct {
	ID       string
	Addr     string
	Username string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewHandle constructs a Handle with a bounded outbound queue.
func NewHandle(id, addr, username string, queueSize int) *Handle {
	if queueSize <= 0 {
		queueSize = defaultSendQueueSize
	}
	return &Handle{
		ID:       id,
		Addr:     addr,
		Username: username,
		send:     make(chan []byte, queueSize),
		done:     make(chan struct{}),
	}
}

// Outbound returns the queue drained by the session writer.
func (h *Handle) Outbound() <-chan []byte { return h.send }

// Done returns a channel that is closed when the session is shutting down.
func (h *Handle) Done() <-chan struct{} {
	if h == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return h.done
}

// Enqueue pushes a frame without blocking.
func (h *Handle) Enqueue(frame []byte) error {
	select {
	case <-h.Done():
		return ErrSessionClosed
	default:
	}

	select {
	case h.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close signals the session goroutines to stop (idempotent).
func (h *Handle) Close() {
	if h == nil {
		return
	}
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
