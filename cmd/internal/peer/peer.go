// Package peer is a client for the cipherchat relay. It speaks the same fixed-size
// frame protocol as the server over TCP or WebSocket.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"cipherchat/cmd/internal/codec"
	v1 "cipherchat/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

var (
	// ErrRejected is returned by Authenticate when the relay sent the rejection notice.
	ErrRejected = errors.New("peer: rejected by relay")

	// ErrUnexpectedReply is returned when the reply to the first frame is neither a welcome nor a rejection.
	ErrUnexpectedReply = errors.New("peer: unexpected reply")
)

// Client is one connection to the relay. Send and Recv may be used from different goroutines.
type Client struct {
	conn  net.Conn
	codec *codec.Codec

	wmu  sync.Mutex
	rmu  sync.Mutex
	addr string
}

// New wraps an established connection.
func New(conn net.Conn, c *codec.Codec) *Client {
	return &Client{conn: conn, codec: c}
}

// Dial connects to the relay over TCP.
func Dial(ctx context.Context, addr string, c *codec.Codec) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, c), nil
}

// DialWS connects to the relay's WebSocket endpoint (ws:// or wss:// URL).
func DialWS(ctx context.Context, url string, c *codec.Codec, header http.Header) (*Client, error) {
	ws, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{v1.WSSubprotocol},
		HTTPHeader:   header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws.SetReadLimit(int64(c.FrameSize()))
	return New(websocket.NetConn(context.Background(), ws, websocket.MessageBinary), c), nil
}

// Authenticate sends the first frame and waits for the relay's verdict.
// On success it returns the peer address the relay reported in its welcome.
func (p *Client) Authenticate(ctx context.Context, username string) (string, error) {
	if err := p.Send(ctx, codec.NewMessage(username, nil)); err != nil {
		return "", err
	}

	frame, err := p.readFrame(ctx)
	if err != nil {
		return "", fmt.Errorf("read auth reply: %w", err)
	}
	if v1.IsRejection(frame) {
		return "", ErrRejected
	}

	msg, err := p.codec.DecodeMessage(frame)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnexpectedReply, err)
	}
	if msg.User() != v1.ServerUsername {
		return "", fmt.Errorf("%w: from %q", ErrUnexpectedReply, msg.User())
	}
	addr, ok := v1.ParseWelcome(msg.Data)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnexpectedReply, msg.Data)
	}

	p.addr = addr
	return addr, nil
}

// Addr returns the address the relay assigned in its welcome, empty before Authenticate.
func (p *Client) Addr() string { return p.addr }

// Send encodes m and writes it as one frame.
func (p *Client) Send(ctx context.Context, m codec.Message) error {
	frame, err := p.codec.EncodeMessage(m)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = p.conn.SetWriteDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetWriteDeadline(time.Now()) })
	defer stop()

	return codec.WriteFrame(p.conn, frame)
}

// SendText is Send with the client's username omitted: the relay stamps the authenticated name.
func (p *Client) SendText(ctx context.Context, text string) error {
	return p.Send(ctx, codec.NewMessage("", []byte(text)))
}

// Recv reads and decodes the next relayed message.
func (p *Client) Recv(ctx context.Context) (codec.Message, error) {
	frame, err := p.readFrame(ctx)
	if err != nil {
		return codec.Message{}, err
	}
	return p.codec.DecodeMessage(frame)
}

// Close closes the underlying connection.
func (p *Client) Close() error {
	return p.conn.Close()
}

func (p *Client) readFrame(ctx context.Context) ([]byte, error) {
	p.rmu.Lock()
	defer p.rmu.Unlock()

	deadline, _ := ctx.Deadline()
	_ = p.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = p.conn.SetReadDeadline(time.Now()) })
	defer stop()

	return codec.ReadFrame(p.conn, p.codec.FrameSize())
}
