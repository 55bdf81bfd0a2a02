package app

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cipherchat/cmd/identity/ids"
	"cipherchat/cmd/internal/relay"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// opsDeps groups what the ops HTTP surface reads from.
type opsDeps struct {
	log       Logger
	cfg       Config
	dbPool    *pgxpool.Pool
	dbEnabled bool
	registry  *relay.Registry
	journal   relay.Journal
	gatherer  prometheus.Gatherer
	ws        *relay.WSGateway
}

func registerHTTP(mux *http.ServeMux, d opsDeps) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.cfg.ReadinessRequireDB && !d.dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if d.dbEnabled && d.dbPool != nil {
			if err := PingDB(r.Context(), d.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		peer := strings.TrimSpace(r.URL.Query().Get("peer"))
		if peer == "" {
			writeJSON(w, http.StatusOK, map[string]int{"sessions": d.registry.Len()})
			return
		}

		h, ok := d.registry.Lookup(peer)
		if !ok {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		info := sessionInfo{SessionID: h.ID, Peer: h.Addr, Username: h.Username}
		if at, err := ids.Time(h.ID); err == nil {
			info.ConnectedAt = at.UTC()
		}
		writeJSON(w, http.StatusOK, info)
	})

	mux.HandleFunc("/journal", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if d.journal == nil {
			http.Error(w, "journal disabled", http.StatusNotFound)
			return
		}

		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		recs, err := d.journal.Recent(r.Context(), limit)
		if err != nil {
			d.log.Error("journal.read.fail", "err", err)
			http.Error(w, "journal unavailable", http.StatusInternalServerError)
			return
		}
		if recs == nil {
			recs = []relay.JournalRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"records": recs})
	})

	if d.ws != nil {
		mux.Handle("/ws", d.ws)
	}
}

type sessionInfo struct {
	SessionID   string    `json:"session_id"`
	Peer        string    `json:"peer"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connected_at"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// runtimeBaseURL turns a listen address into a URL an operator can open locally.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to its ws(s) equivalent.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
