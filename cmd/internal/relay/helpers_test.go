package relay

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"cipherchat/cmd/internal/codec"
	"cipherchat/cmd/internal/peer"

	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCodec(t testing.TB) *codec.Codec {
	t.Helper()

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	c, err := codec.New(key, 0)
	require.NoError(t, err)
	return c
}

// testStack is a relay listening on a loopback port.
type testStack struct {
	codec    *codec.Codec
	registry *Registry
	relay    *Relay
	server   *Server
	metrics  *Metrics
	addr     string
}

func newTestStack(t *testing.T, cfg Config, opts ...RelayOption) *testStack {
	t.Helper()

	log := discardLogger()
	c := newTestCodec(t)
	reg := NewRegistry(log)
	m := NewMetrics(nil)
	rel := NewRelay(log, c, reg, append([]RelayOption{WithMetrics(m)}, opts...)...)
	srv := NewServer(log, cfg, c, reg, rel, m)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		_ = rel.Run(ctx)
	}()

	serveDone := make(chan error, 1)
	go func() { serveDone <- srv.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-serveDone)
		srv.Close()
		<-relayDone
	})

	return &testStack{
		codec:    c,
		registry: reg,
		relay:    rel,
		server:   srv,
		metrics:  m,
		addr:     ln.Addr().String(),
	}
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// join dials the stack and authenticates as username.
func (s *testStack) join(t *testing.T, username string) *peer.Client {
	t.Helper()

	p, err := peer.Dial(testCtx(t), s.addr, s.codec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	addr, err := p.Authenticate(testCtx(t), username)
	require.NoError(t, err)
	require.NotEmpty(t, addr)
	return p
}

func (s *testStack) waitSessions(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.registry.Len() == n },
		5*time.Second, 5*time.Millisecond, "waiting for %d sessions", n)
}
