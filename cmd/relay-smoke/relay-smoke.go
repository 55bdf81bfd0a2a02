// Package main provides a CI-friendly smoke test for a running cipherchat relay.
//
// It validates:
//   - authentication with the shared key (welcome notice)
//   - fan-out of one message from A to B and C, and not back to A
//   - rejection of a client holding the wrong key
//
// The key is read from -key-hex or CIPHERCHAT_KEY_HEX.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"cipherchat/cmd/internal/codec"
	"cipherchat/cmd/internal/peer"
	v1 "cipherchat/shared/contracts/relay/v1"
)

func main() {
	var (
		addr      = flag.String("addr", v1.DefaultAddr, "Relay TCP address")
		wsURL     = flag.String("ws", "", "Use the WebSocket transport at this URL instead of TCP (ws://host:port/ws)")
		origin    = flag.String("origin", "http://localhost", "Origin header for -ws")
		keyHex    = flag.String("key-hex", os.Getenv("CIPHERCHAT_KEY_HEX"), "Shared key, hex (16 or 32 bytes)")
		frameSize = flag.Int("frame-size", v1.DefaultFrameSize, "Frame size L")
		text      = flag.String("text", "hello", "Message text to send")
		timeout   = flag.Duration("timeout", 5*time.Second, "Per-step timeout")
		verbose   = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	key, err := hex.DecodeString(strings.TrimSpace(*keyHex))
	if err != nil || (len(key) != 16 && len(key) != 32) {
		fatalf("invalid -key-hex: want 32 or 64 hex chars")
	}
	if *wsURL != "" {
		if err := validateWSURL(*wsURL); err != nil {
			fatalf("invalid -ws: %v", err)
		}
	}

	c, err := codec.New(key, *frameSize)
	if err != nil {
		fatalf("codec: %v", err)
	}

	dial := func(ctx context.Context, kc *codec.Codec) (*peer.Client, error) {
		if *wsURL == "" {
			return peer.Dial(ctx, *addr, kc)
		}
		h := http.Header{}
		if strings.TrimSpace(*origin) != "" {
			h.Set("Origin", *origin)
		}
		return peer.DialWS(ctx, *wsURL, kc, h)
	}

	root := context.Background()

	a := mustConnect(root, "A", c, dial, *timeout)
	defer a.Close()
	b := mustConnect(root, "B", c, dial, *timeout)
	defer b.Close()
	cc := mustConnect(root, "C", c, dial, *timeout)
	defer cc.Close()

	if *verbose {
		fmt.Printf("connected: A=%s B=%s C=%s\n", a.Addr(), b.Addr(), cc.Addr())
	}

	mustSend(root, a, *text, *timeout)
	mustReceive(root, "B", b, "A", *text, *timeout)
	mustReceive(root, "C", cc, "A", *text, *timeout)
	mustReceiveNothing(root, "A", a, 750*time.Millisecond)

	mustBeRejected(root, *frameSize, len(key), dial, *timeout)

	fmt.Printf("OK: A=%s B=%s C=%s\n", a.Addr(), b.Addr(), cc.Addr())
}

type dialFunc func(ctx context.Context, c *codec.Codec) (*peer.Client, error)

func mustConnect(parent context.Context, name string, c *codec.Codec, dial dialFunc, stepTimeout time.Duration) *peer.Client {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	p, err := dial(ctx, c)
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if _, err := p.Authenticate(ctx, name); err != nil {
		fatalf("authenticate %s: %v", name, err)
	}
	return p
}

func mustSend(parent context.Context, p *peer.Client, text string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	if err := p.SendText(ctx, text); err != nil {
		fatalf("send: %v", err)
	}
}

func mustReceive(parent context.Context, name string, p *peer.Client, wantUser, wantText string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	m, err := p.Recv(ctx)
	if err != nil {
		fatalf("recv %s: %v", name, err)
	}
	if m.User() != wantUser || string(m.Data) != wantText {
		fatalf("recv %s: got %s:%q want %s:%q", name, m.User(), m.Data, wantUser, wantText)
	}
}

func mustReceiveNothing(parent context.Context, name string, p *peer.Client, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	m, err := p.Recv(ctx)
	if err == nil {
		fatalf("%s received its own broadcast: %s:%q", name, m.User(), m.Data)
	}
	if !errors.Is(err, context.DeadlineExceeded) && !isTimeout(err) {
		fatalf("%s: unexpected read error: %v", name, err)
	}
}

func mustBeRejected(parent context.Context, frameSize, keyLen int, dial dialFunc, stepTimeout time.Duration) {
	wrong := make([]byte, keyLen)
	if _, err := rand.Read(wrong); err != nil {
		fatalf("random key: %v", err)
	}
	wc, err := codec.New(wrong, frameSize)
	if err != nil {
		fatalf("codec: %v", err)
	}

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	p, err := dial(ctx, wc)
	if err != nil {
		fatalf("connect intruder: %v", err)
	}
	defer p.Close()

	_, err = p.Authenticate(ctx, "intruder")
	if !errors.Is(err, peer.ErrRejected) {
		fatalf("wrong key: want rejection, got %v", err)
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
