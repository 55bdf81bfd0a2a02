package relay

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"cipherchat/cmd/internal/codec"
	"cipherchat/cmd/internal/peer"
	v1 "cipherchat/shared/contracts/relay/v1"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func requireNothing(t *testing.T, p *peer.Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := p.Recv(ctx)
	require.Error(t, err, "expected no frame")
}

func TestE2E_BroadcastReachesEveryoneButSender(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{})
	a := s.join(t, "alice")
	b := s.join(t, "bob")
	c := s.join(t, "carol")
	s.waitSessions(t, 3)

	require.NoError(t, a.SendText(testCtx(t), "hello"))

	for _, p := range []*peer.Client{b, c} {
		m, err := p.Recv(testCtx(t))
		require.NoError(t, err)
		require.Equal(t, "alice", m.User())
		require.Equal(t, []byte("hello"), m.Data)
	}
	requireNothing(t, a)
}

func TestE2E_WelcomeCarriesPeerAddress(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{})

	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	p := peer.New(conn, s.codec)
	t.Cleanup(func() { _ = p.Close() })

	addr, err := p.Authenticate(testCtx(t), "alice")
	require.NoError(t, err)
	require.Equal(t, conn.LocalAddr().String(), addr)
	require.Equal(t, addr, p.Addr())

	_, ok := s.registry.Lookup(addr)
	require.True(t, ok)
}

func TestE2E_WrongKeyRejected(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{})
	watcher := s.join(t, "watcher")
	s.waitSessions(t, 1)

	p, err := peer.Dial(testCtx(t), s.addr, newTestCodec(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.Authenticate(testCtx(t), "eve")
	require.ErrorIs(t, err, peer.ErrRejected)

	// The relay closes the connection after the notice.
	_, err = p.Recv(testCtx(t))
	require.Error(t, err)

	require.Equal(t, 1, s.registry.Len())
	for _, h := range s.registry.Snapshot() {
		require.NotEqual(t, "eve", h.Username)
	}
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.AuthResults.WithLabelValues("rejected")))

	// Nothing about the rejected peer reached authenticated sessions.
	requireNothing(t, watcher)
}

func TestE2E_RejectionNoticeIsPlaintext(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{})

	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_, err = conn.Write(make([]byte, v1.DefaultFrameSize))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := codec.ReadFrame(conn, v1.DefaultFrameSize)
	require.NoError(t, err)
	require.True(t, v1.IsRejection(frame))

	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
}

func TestE2E_AuthTimeout(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{AuthTimeout: 100 * time.Millisecond})

	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)
	require.Zero(t, s.registry.Len())
}

func TestE2E_UndecodableFrameIsDropped(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{})

	conn, err := net.Dial("tcp", s.addr)
	require.NoError(t, err)
	a := peer.New(conn, s.codec)
	t.Cleanup(func() { _ = a.Close() })
	_, err = a.Authenticate(testCtx(t), "alice")
	require.NoError(t, err)

	b := s.join(t, "bob")
	s.waitSessions(t, 2)

	_, err = conn.Write(make([]byte, v1.DefaultFrameSize))
	require.NoError(t, err)
	require.NoError(t, a.SendText(testCtx(t), "still here"))

	m, err := b.Recv(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "still here", string(m.Data))
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.FramesDropped.WithLabelValues("decode")))
	require.Equal(t, 2, s.registry.Len())
}

func TestE2E_ServerStampsAuthenticatedUsername(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{})
	a := s.join(t, "alice")
	b := s.join(t, "bob")
	s.waitSessions(t, 2)

	require.NoError(t, a.Send(testCtx(t), codec.NewMessage("bob", []byte("it was me"))))

	m, err := b.Recv(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "alice", m.User())
}

func TestE2E_DisconnectUnregisters(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{})
	a := s.join(t, "alice")
	b := s.join(t, "bob")
	s.waitSessions(t, 2)

	require.NoError(t, b.Close())
	s.waitSessions(t, 1)

	// Relaying to the remaining sessions is unaffected.
	c := s.join(t, "carol")
	s.waitSessions(t, 2)
	require.NoError(t, a.SendText(testCtx(t), "hi"))

	m, err := c.Recv(testCtx(t))
	require.NoError(t, err)
	require.Equal(t, "hi", string(m.Data))
}

func TestE2E_RateLimitDropsExcessFrames(t *testing.T) {
	t.Parallel()

	s := newTestStack(t, Config{RateEvents: 2, RateWindow: time.Minute})
	a := s.join(t, "alice")
	b := s.join(t, "bob")
	s.waitSessions(t, 2)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.SendText(testCtx(t), string(rune('a'+i))))
	}

	for _, want := range []string{"a", "b"} {
		m, err := b.Recv(testCtx(t))
		require.NoError(t, err)
		require.Equal(t, want, string(m.Data))
	}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(s.metrics.FramesDropped.WithLabelValues("rate_limited")) == 3
	}, 5*time.Second, 5*time.Millisecond)
	requireNothing(t, b)
}

func TestSession_StateTransitions(t *testing.T) {
	t.Parallel()

	c := newTestCodec(t)
	reg := NewRegistry(discardLogger())
	srv := NewServer(discardLogger(), Config{}, c, reg, NewRelay(discardLogger(), c, reg), nil)

	serverSide, clientSide := net.Pipe()
	sess := srv.newSession("sess-pipe", "pipe:1", serverSide)
	require.Equal(t, StateConnecting, sess.State())

	done := make(chan error, 1)
	go func() { done <- sess.Run(context.Background()) }()

	require.Eventually(t, func() bool { return sess.State() == StateAuthenticating },
		5*time.Second, time.Millisecond)

	p := peer.New(clientSide, c)
	addr, err := p.Authenticate(testCtx(t), "alice")
	require.NoError(t, err)
	require.Equal(t, "pipe:1", addr)
	require.Equal(t, 1, reg.Len())
	require.Eventually(t, func() bool { return sess.State() == StateRelaying },
		5*time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, <-done)
	require.Equal(t, StateClosed, sess.State())
	require.Zero(t, reg.Len())
}

func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "connecting", StateConnecting.String())
	require.Equal(t, "authenticating", StateAuthenticating.String())
	require.Equal(t, "relaying", StateRelaying.String())
	require.Equal(t, "closed", StateClosed.String())
	require.Equal(t, "state(9)", State(9).String())
}
