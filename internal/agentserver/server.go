// Package agentserver implements the Agent RPC Server (§4.6): an HTTP
// server exposing /v1/iface/{down,up,restart} and /health, guarded by a
// CIDR allow-list and HMAC-signed, clock-skew-bounded requests, with
// idempotent dispatch backed by internal/idempotency.
package agentserver

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/netip"
	"time"

	"k8s.io/klog/v2"

	"github.com/Kup1ng/gre-watchdog/internal/idempotency"
	"github.com/Kup1ng/gre-watchdog/internal/iface"
	"github.com/Kup1ng/gre-watchdog/internal/security"
)

// Operation performs the named link operation and returns its textual
// output, or an error.
type Operation func(ctx context.Context, name string) (string, error)

// Config holds the Agent RPC Server's configuration keys from §6.4.
type Config struct {
	SharedSecret    string
	AllowCIDRs      []string
	MaxClockSkew    time.Duration
	IdempotencyTTL  time.Duration
}

// Server is the Agent RPC Server.
type Server struct {
	cfg   Config
	store *idempotency.Store
	nets  []netip.Prefix
}

// New creates a Server from cfg. Malformed CIDRs are skipped; cmd/agent
// passes the -allow-cidrs values through without validating them.
func New(cfg Config) *Server {
	s := &Server{
		cfg:   cfg,
		store: idempotency.NewStore(cfg.IdempotencyTTL),
	}
	for _, c := range cfg.AllowCIDRs {
		if p, err := netip.ParsePrefix(c); err == nil {
			s.nets = append(s.nets, p)
		}
	}
	return s
}

// Handler returns the http.Handler implementing the Agent RPC protocol.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/iface/down", s.handleOp(func(ctx context.Context, name string) (string, error) {
		return iface.SetLink(ctx, name, false)
	}))
	mux.HandleFunc("/v1/iface/up", s.handleOp(func(ctx context.Context, name string) (string, error) {
		return iface.SetLink(ctx, name, true)
	}))
	mux.HandleFunc("/v1/iface/restart", s.handleOp(iface.Restart))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

type request struct {
	CommandID string `json:"command_id"`
	Iface     string `json:"iface"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleOp implements the common five-step request handling of §4.6 for a
// single state-changing operation.
func (s *Server) handleOp(op Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Step 1: CIDR allow-list.
		if !s.clientAllowed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}

		// Step 2: HMAC + clock skew.
		ts := r.Header.Get("x-ts")
		sig := r.Header.Get("x-sig")
		if !security.Verify(s.cfg.SharedSecret, body, ts, sig, s.cfg.MaxClockSkew) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		// Step 3: parse and validate.
		var req request
		if err := json.Unmarshal(body, &req); err != nil || req.CommandID == "" || req.Iface == "" {
			http.Error(w, "command_id and iface required", http.StatusBadRequest)
			return
		}

		// Step 4: idempotent dispatch.
		if cached, ok := s.store.Get(req.CommandID); ok {
			writeResponse(w, cached)
			return
		}

		out, opErr := op(r.Context(), req.Iface)
		var resp idempotency.Response
		if opErr != nil {
			resp = idempotency.Response{OK: false, CommandID: req.CommandID, Iface: req.Iface, Error: opErr.Error()}
			klog.ErrorS(opErr, "agent operation failed", "command_id", req.CommandID, "iface", req.Iface)
		} else {
			resp = idempotency.Response{OK: true, CommandID: req.CommandID, Iface: req.Iface, Out: out}
			klog.InfoS("agent operation ok", "command_id", req.CommandID, "iface", req.Iface)
		}
		s.store.Set(req.CommandID, resp)

		// Step 5: response envelope, 2xx regardless of ok.
		writeResponse(w, resp)
	}
}

func writeResponse(w http.ResponseWriter, resp idempotency.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// clientAllowed reports whether the request's source address falls within
// an allowed CIDR.
func (s *Server) clientAllowed(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	for _, p := range s.nets {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
