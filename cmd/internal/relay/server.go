package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"cipherchat/cmd/internal/codec"
)

// Server accepts peer connections and runs one Session per connection.
// The same Server backs the TCP listener and the WebSocket gateway.
type Server struct {
	log      *slog.Logger
	cfg      Config
	codec    *codec.Codec
	gate     *Gate
	registry *Registry
	relay    *Relay
	metrics  *Metrics

	baseCtx context.Context
	cancel  context.CancelFunc

	// mu guards closing and every wg.Add, so no session is added once Close waits.
	mu      sync.Mutex
	closing bool
	loops   sync.WaitGroup
	wg      sync.WaitGroup
}

// NewServer wires a Server around an existing registry and relay.
// m may be nil.
func NewServer(log *slog.Logger, cfg Config, c *codec.Codec, reg *Registry, rel *Relay, m *Metrics) *Server {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	if m == nil {
		m = NewMetrics(nil)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Server{
		log:      log,
		cfg:      cfg.withDefaults(),
		codec:    c,
		gate:     NewGate(c),
		registry: reg,
		relay:    rel,
		metrics:  m,
		baseCtx:  base,
		cancel:   cancel,
	}
}

// Registry returns the registry sessions register into.
func (s *Server) Registry() *Registry { return s.registry }

// Serve accepts connections on ln until ctx is cancelled or ln is closed.
// It returns nil on orderly shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.loops.Add(1)
	s.mu.Unlock()
	defer s.loops.Done()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	stopBase := context.AfterFunc(s.baseCtx, func() { _ = ln.Close() })
	defer stopBase()

	s.log.Info("relay.listen", slog.String("addr", ln.Addr().String()))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = nextBackoff(backoff)
				s.log.Warn("relay.accept.retry", slog.String("err", err.Error()), slog.Duration("backoff", backoff))
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return nil
				}
				continue
			}
			return fmt.Errorf("accept: %w", err)
		}
		backoff = 0

		if !s.track() {
			_ = conn.Close()
			return nil
		}
		go func() {
			defer s.wg.Done()
			_ = s.serveConn(ctx, conn, "")
		}()
	}
}

// ServeConn runs a session on conn and blocks until it ends. peer overrides the
// address taken from conn.RemoteAddr when non-empty. After Close it closes conn
// and returns ErrServerClosed.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, peer string) error {
	if !s.track() {
		_ = conn.Close()
		return ErrServerClosed
	}
	defer s.wg.Done()
	return s.serveConn(ctx, conn, peer)
}

// track adds one session to wg unless the server is closing.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn, peer string) error {
	if peer == "" && conn.RemoteAddr() != nil {
		peer = conn.RemoteAddr().String()
	}
	s.metrics.ConnectionsAccepted.Inc()

	id, err := NewSessionID(time.Now().UTC())
	if err != nil {
		_ = conn.Close()
		s.log.Error("relay.session.id.fail", slog.String("peer", peer), slog.String("err", err.Error()))
		return fmt.Errorf("session id: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.baseCtx, cancel)
	defer stop()

	sess := s.newSession(id, peer, conn)

	s.log.Info("relay.session.open", slog.String("session_id", id), slog.String("peer", peer))
	start := time.Now()

	err = sess.Run(ctx)

	attrs := []any{
		slog.String("session_id", id),
		slog.String("peer", peer),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("err", err.Error()))
	}
	s.log.Info("relay.session.close", attrs...)
	return err
}

// Close stops every accept loop, ends every running session and waits for both.
// It is safe to call more than once.
func (s *Server) Close() {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.cancel()
	s.loops.Wait()
	s.wg.Wait()
}

func (s *Server) newSession(id, peer string, conn net.Conn) *Session {
	sess := &Session{
		id:         id,
		addr:       peer,
		conn:       conn,
		cfg:        s.cfg,
		log:        s.log,
		codec:      s.codec,
		gate:       s.gate,
		registry:   s.registry,
		relay:      s.relay,
		metrics:    s.metrics,
		handle:     NewHandle(id, peer, "", s.cfg.SendQueueSize),
		writerDone: make(chan struct{}),
	}
	sess.setState(StateConnecting)
	return sess
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
