package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"

	v1 "cipherchat/shared/contracts/relay/v1"

	"github.com/coder/websocket"
)

// WSOptions configures the WebSocket gateway's origin policy.
type WSOptions struct {
	// OriginRequired rejects upgrade requests without an Origin header.
	OriginRequired bool
	// AllowedOrigins lists full origins or bare hosts; "*" allows any origin.
	AllowedOrigins []string
	// DevInsecure disables the library's own origin verification. Dev only.
	DevInsecure bool
}

// WSGateway carries relay frames over WebSocket binary messages.
//
// After the upgrade the connection is adapted to a net.Conn and handed to the
// same Server that serves TCP, so both transports share one registry and one relay.
type WSGateway struct {
	log    *slog.Logger
	server *Server

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway in front of srv.
func NewWSGateway(log *slog.Logger, srv *Server, opts WSOptions) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &WSGateway{
		log:            log,
		server:         srv,
		devInsecure:    opts.DevInsecure,
		originRequired: opts.OriginRequired,
		allowedOrigins: opts.AllowedOrigins,
		originPatterns: deriveOriginPatternsFromAllowedOrigins(opts.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades the request and runs a relay session over it.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.WSSubprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.WSSubprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.WSSubprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(int64(g.server.codec.FrameSize()))

	ctx := r.Context()
	nc := websocket.NetConn(ctx, conn, websocket.MessageBinary)

	if err := g.server.ServeConn(ctx, nc, r.RemoteAddr); err != nil {
		g.log.Debug("ws.session.end", "remote", r.RemoteAddr, "err", err)
	}
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = strings.TrimSpace(u.Host)
		if s == "" {
			return ""
		}
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// websocket.Accept matches OriginPatterns against the origin host, so only hosts
// extracted from the allowlist are passed through.
func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
