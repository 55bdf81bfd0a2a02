package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"cipherchat/cmd/internal/codec"

	"github.com/coder/websocket"
)

// State is a session lifecycle state. Transitions only move forward.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateRelaying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateRelaying:
		return "relaying"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session is the actor owning one peer connection. It is the only code that
// reads from or writes to conn; the relay reaches it through its Handle.
type Session struct {
	id   string
	addr string
	conn net.Conn
	cfg  Config
	log  *slog.Logger

	codec    *codec.Codec
	gate     *Gate
	registry *Registry
	relay    *Relay
	metrics  *Metrics

	handle *Handle
	state  atomic.Int32

	mu         sync.Mutex
	registered bool
	closed     bool

	writerDone chan struct{}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// ID returns the session id.
func (s *Session) ID() string { return s.id }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run drives the session until the peer leaves, an I/O error occurs, or ctx ends.
// It returns nil for orderly closes and the cause otherwise.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, func() { s.shutdown("context done") })
	defer stop()

	writerStarted := false
	defer func() {
		if writerStarted {
			<-s.writerDone
		}
	}()
	defer s.shutdown("session end")

	s.setState(StateAuthenticating)

	res, err := s.authenticate()
	if err != nil {
		switch classifyReadErr(err) {
		case readErrPeerClosed:
			return nil
		case readErrConnClosed:
			if ctx.Err() != nil {
				return nil
			}
		}
		return err
	}
	s.metrics.AuthResults.WithLabelValues(res.Outcome.String()).Inc()

	if res.Outcome != OutcomeAuthenticated {
		s.log.Info("relay.auth.reject",
			slog.String("session_id", s.id),
			slog.String("peer", s.addr),
			slog.String("err", res.Err.Error()),
		)
		if err := s.writeFrame(res.Reply); err != nil {
			s.log.Debug("relay.auth.reject_notice.fail", slog.String("session_id", s.id), slog.String("err", err.Error()))
		}
		return res.Err
	}

	s.handle.Username = res.Username

	// The welcome is queued before registration, so it reaches the peer ahead of any broadcast.
	// The writer starts after registration: a peer holding the welcome is already routable.
	if err := s.handle.Enqueue(res.Reply); err != nil {
		return fmt.Errorf("queue welcome: %w", err)
	}
	if err := s.register(); err != nil {
		return err
	}
	writerStarted = true
	go s.writeLoop()

	s.setState(StateRelaying)
	s.log.Info("relay.auth.ok",
		slog.String("session_id", s.id),
		slog.String("peer", s.addr),
		slog.String("username", res.Username),
	)

	return s.readLoop(ctx)
}

func (s *Session) authenticate() (AuthResult, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	frame, err := codec.ReadFrame(s.conn, s.codec.FrameSize())
	if err != nil {
		s.metrics.AuthResults.WithLabelValues("no_frame").Inc()
		return AuthResult{}, fmt.Errorf("read auth frame: %w", err)
	}
	_ = s.conn.SetReadDeadline(time.Time{})

	return s.gate.Authenticate(frame, s.addr), nil
}

func (s *Session) register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if err := s.registry.Register(s.handle); err != nil {
		return err
	}
	s.registered = true
	s.metrics.SessionsActive.Inc()
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	rl := NewRateLimiter(s.cfg.RateEvents, s.cfg.RateWindow)

	for {
		if s.cfg.ReadIdleTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadIdleTimeout))
		}

		frame, err := codec.ReadFrame(s.conn, s.codec.FrameSize())
		if err != nil {
			switch classifyReadErr(err) {
			case readErrPeerClosed, readErrConnClosed:
				return nil
			case readErrTimeout:
				return fmt.Errorf("read idle timeout: %w", err)
			default:
				return fmt.Errorf("read frame: %w", err)
			}
		}
		s.metrics.FramesReceived.Inc()

		now := time.Now().UTC()
		if !rl.Allow(now) {
			s.metrics.FramesDropped.WithLabelValues("rate_limited").Inc()
			s.log.Debug("relay.frame.drop", slog.String("session_id", s.id), slog.String("reason", "rate_limited"))
			continue
		}

		msg, err := s.codec.DecodeMessage(frame)
		if err != nil {
			s.metrics.FramesDropped.WithLabelValues("decode").Inc()
			s.log.Warn("relay.frame.drop",
				slog.String("session_id", s.id),
				slog.String("reason", "decode"),
				slog.String("err", err.Error()),
			)
			continue
		}

		// The authenticated username wins over whatever the frame claims.
		in := Inbound{
			SessionID:  s.id,
			From:       s.addr,
			Msg:        codec.NewMessage(s.handle.Username, msg.Data),
			ReceivedAt: now,
		}
		if err := s.relay.Publish(ctx, in); err != nil {
			if errors.Is(err, ErrRelayClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("publish: %w", err)
		}
	}
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)

	for {
		select {
		case <-s.handle.Done():
			return
		case frame := <-s.handle.Outbound():
			if err := s.writeFrame(frame); err != nil {
				s.log.Info("relay.write.fail", slog.String("session_id", s.id), slog.String("err", err.Error()))
				s.shutdown("write failed")
				return
			}
		}
	}
}

func (s *Session) writeFrame(frame []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return codec.WriteFrame(s.conn, frame)
}

// shutdown is idempotent. Unregistering happens before the handle is closed,
// so the relay never routes to a session it cannot reach.
func (s *Session) shutdown(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	wasRegistered := s.registered
	s.mu.Unlock()

	prev := s.State()
	s.setState(StateClosed)

	if wasRegistered {
		s.registry.Unregister(s.addr)
		s.metrics.SessionsActive.Dec()
	}
	s.handle.Close()
	_ = s.conn.Close()

	s.log.Debug("relay.session.shutdown",
		slog.String("session_id", s.id),
		slog.String("peer", s.addr),
		slog.String("from_state", prev.String()),
		slog.String("reason", reason),
	)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrPeerClosed
	readErrConnClosed
	readErrTimeout
)

func classifyReadErr(err error) readErrKind {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return readErrPeerClosed
	}
	if websocket.CloseStatus(err) != -1 {
		return readErrPeerClosed
	}
	if errors.Is(err, net.ErrClosed) {
		return readErrConnClosed
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return readErrTimeout
	}
	return readErrUnknown
}
