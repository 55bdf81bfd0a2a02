package peer

import (
	"context"
	"crypto/rand"
	"net"
	"testing"
	"time"

	"cipherchat/cmd/internal/codec"
	v1 "cipherchat/shared/contracts/relay/v1"

	"github.com/stretchr/testify/require"
)

func newCodec(t *testing.T) *codec.Codec {
	t.Helper()
	key := make([]byte, 16)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := codec.New(key, v1.MinFrameSize*4)
	require.NoError(t, err)
	return c
}

// fakeRelay reads the first frame from conn and answers with reply.
func fakeRelay(t *testing.T, conn net.Conn, c *codec.Codec, reply []byte) <-chan codec.Message {
	t.Helper()
	got := make(chan codec.Message, 1)
	go func() {
		defer close(got)
		frame, err := codec.ReadFrame(conn, c.FrameSize())
		if err != nil {
			return
		}
		msg, err := c.DecodeMessage(frame)
		if err != nil {
			return
		}
		got <- msg
		_ = codec.WriteFrame(conn, reply)
	}()
	return got
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAuthenticate_Welcome(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	client, server := net.Pipe()
	defer server.Close()

	welcome, err := c.EncodeMessage(codec.NewMessage(v1.ServerUsername, []byte(v1.WelcomeText("10.0.0.7:5555"))))
	require.NoError(t, err)
	first := fakeRelay(t, server, c, welcome)

	p := New(client, c)
	defer p.Close()

	addr, err := p.Authenticate(testCtx(t), "alice")
	require.NoError(t, err)
	require.Equal(t, "10.0.0.7:5555", addr)
	require.Equal(t, addr, p.Addr())

	msg := <-first
	require.Equal(t, "alice", msg.User())
	require.Empty(t, msg.Data)
}

func TestAuthenticate_Rejected(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	client, server := net.Pipe()
	defer server.Close()

	fakeRelay(t, server, c, v1.RejectionFrame(c.FrameSize()))

	p := New(client, c)
	defer p.Close()

	_, err := p.Authenticate(testCtx(t), "alice")
	require.ErrorIs(t, err, ErrRejected)
	require.Empty(t, p.Addr())
}

func TestAuthenticate_UnexpectedReply(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		user string
		data string
	}{
		{name: "not from server", user: "mallory", data: v1.WelcomeText("1.2.3.4:1")},
		{name: "not a welcome", user: v1.ServerUsername, data: "hi"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := newCodec(t)
			client, server := net.Pipe()
			defer server.Close()

			reply, err := c.EncodeMessage(codec.NewMessage(tc.user, []byte(tc.data)))
			require.NoError(t, err)
			fakeRelay(t, server, c, reply)

			p := New(client, c)
			defer p.Close()

			_, err = p.Authenticate(testCtx(t), "alice")
			require.ErrorIs(t, err, ErrUnexpectedReply)
		})
	}
}

func TestRecv_HonoursContext(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	client, server := net.Pipe()
	defer server.Close()

	p := New(client, c)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := p.Recv(ctx)
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestSendRecv(t *testing.T) {
	t.Parallel()

	c := newCodec(t)
	client, server := net.Pipe()

	p := New(client, c)
	defer p.Close()
	q := New(server, c)
	defer q.Close()

	ctx := testCtx(t)
	errCh := make(chan error, 1)
	go func() { errCh <- p.SendText(ctx, "ping") }()

	msg, err := q.Recv(ctx)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Empty(t, msg.User())
	require.Equal(t, []byte("ping"), msg.Data)
}
