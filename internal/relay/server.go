// Package relay implements the signaling relay: a WebSocket server that
// pairs two anonymous endpoints under a shared connection identifier and
// forwards negotiation messages between them without inspecting them.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/1ureka/drop/internal/config"
	"github.com/1ureka/drop/internal/protocol"
	"github.com/1ureka/drop/internal/registry"
	"github.com/1ureka/drop/internal/util"
)

// Server is the signaling relay.
type Server struct {
	cfg       config.RelayConfig
	sessions  *registry.Registry[*endpoint]
	admission *admission
	origins   originPolicy
	upgrader  websocket.Upgrader
	log       util.Logger

	started time.Time
	active  atomic.Int64
}

// NewServer creates a relay from cfg. Zero-valued limits fall back to the
// package defaults.
func NewServer(cfg config.RelayConfig) *Server {
	def := config.DefaultRelayConfig()
	if cfg.MaxConnectionsPerIP < 1 {
		cfg.MaxConnectionsPerIP = def.MaxConnectionsPerIP
	}
	if cfg.MessageRate <= 0 {
		cfg.MessageRate = def.MessageRate
	}
	if cfg.MessageBurst < 1 {
		cfg.MessageBurst = def.MessageBurst
	}

	return &Server{
		cfg:       cfg,
		sessions:  registry.New[*endpoint](),
		admission: newAdmission(cfg.MaxConnectionsPerIP),
		origins:   originPolicy{permissive: cfg.DevMode, allowed: cfg.AllowedOrigins},
		upgrader: websocket.Upgrader{
			// Origin is enforced after the upgrade so that rejections carry
			// a close code instead of a bare HTTP 403.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     util.NewLogger("relay"),
		started: time.Now(),
	}
}

// Handler returns the relay's HTTP routes: /ws for signaling and /health
// for liveness.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// ListenAndServe listens on cfg.Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves on listener until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(listener)
	}()

	s.log.Info("relay listening on %s", listener.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown; they
		// end when their peers go away or the process exits.
		return srv.Shutdown(shutdownCtx)
	}
}

// ---------------------------------------------------------------------------
// Connection lifecycle
// ---------------------------------------------------------------------------

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := sourceIP(r)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("upgrade from %s failed: %v", ip, err)
		return
	}

	if !s.admission.acquire(ip) {
		s.log.Warn("rejecting %s: %v", ip, ErrRateLimitExceeded)
		reject(conn, CloseRateLimited, ErrRateLimitExceeded.Error())
		return
	}
	defer s.admission.release(ip)

	if origin := r.Header.Get("Origin"); !s.origins.allows(origin) {
		s.log.Warn("rejecting %s: %v %q", ip, ErrUnauthorizedOrigin, origin)
		reject(conn, CloseUnauthorizedOrigin, ErrUnauthorizedOrigin.Error())
		return
	}

	limiter := rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)
	ep := newEndpoint(conn, ip, limiter)

	s.active.Add(1)
	util.Stats.AddConn()
	defer func() {
		s.active.Add(-1)
		util.Stats.RemoveConn()
	}()

	go ep.writeLoop()
	ep.log.Debug("connected")
	ep.send(&protocol.Message{Type: protocol.MsgTypeWelcome, EndpointID: ep.id})

	s.readLoop(ep)
	s.disconnect(ep)
}

// readLoop reads messages until the connection fails or is closed.
func (s *Server) readLoop(ep *endpoint) {
	ep.conn.SetReadLimit(maxFrameSize)

	for {
		typ, data, err := ep.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				ep.log.Debug("read failed: %v", err)
			}
			return
		}

		if typ != websocket.TextMessage {
			ep.sendError(fmt.Errorf("%w: binary message", protocol.ErrMetadataParse))
			continue
		}

		if !ep.limiter.Allow() {
			ep.sendError(ErrRateLimitExceeded)
			continue
		}

		s.handle(ep, data)
	}
}

// disconnect removes ep from its session and tells every remaining member.
func (s *Server) disconnect(ep *endpoint) {
	ep.close()

	sessionID, remaining, ok := s.sessions.RemoveMember(ep)
	if !ok {
		ep.log.Debug("disconnected")
		return
	}

	ep.log.Info("%s left session %s (%d remaining)", ep.Role(), sessionID, len(remaining))
	notifyDeparture(sessionID, remaining)
}

// notifyDeparture tells the members still in a session that their peer left.
func notifyDeparture(sessionID string, remaining []registry.Member[*endpoint]) {
	for _, m := range remaining {
		m.Endpoint.send(&protocol.Message{
			Type:         protocol.MsgTypePeerDisconnected,
			ConnectionID: sessionID,
		})
	}
}

// ---------------------------------------------------------------------------
// Liveness
// ---------------------------------------------------------------------------

// Health is the body served at /health.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
	Connections   int64  `json:"connections"`
	Sessions      int    `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(Health{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Connections:   s.active.Load(),
		Sessions:      s.sessions.Len(),
	})
}
