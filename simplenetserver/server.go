// Package simplenetserver assembles the prevalidation pipeline, connection
// registry, and session listener into the public Server type: the
// host-facing half of a simplenet deployment.
package simplenetserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/google/uuid"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/connmeter"
	"github.com/whisper/simplenet/prevalidate"
	"github.com/whisper/simplenet/ratelimit"
	"github.com/whisper/simplenet/registry"
	"github.com/whisper/simplenet/reqtoken"
	"github.com/whisper/simplenet/session"
	"github.com/whisper/simplenet/wire"

	"github.com/whisper/simplenet/internal/metrics"
)

// Config holds the server's fixed deployment policy.
type Config struct {
	ListenAddr        string
	ProtocolVersion   string
	MaxConnections    int64
	Authenticator     auth.Authenticator
	HeartbeatInterval time.Duration
	KeepaliveTimeout  time.Duration
	MaxMsgSize        int
	RateLimit         ratelimit.Rule
	WorkerPoolSize    int
}

// DefaultConfig returns production-sensible defaults bound to protocolVersion.
func DefaultConfig(protocolVersion string) Config {
	return Config{
		ListenAddr:        ":8080",
		ProtocolVersion:   protocolVersion,
		MaxConnections:    100000,
		Authenticator:     auth.AllowAll,
		HeartbeatInterval: 30 * time.Second,
		KeepaliveTimeout:  10 * time.Second,
		MaxMsgSize:        1 << 20,
		RateLimit:         ratelimit.Rule{Period: time.Second, MaxCount: 50},
		WorkerPoolSize:    256,
	}
}

// Server is a simplenet server: it accepts WebSocket upgrades, prevalidates
// them, and exposes a single event queue plus session-addressed send/respond
// operations to the host application.
type Server struct {
	id        uuid.UUID // instance id, used only for log correlation
	cfg       Config
	validator *prevalidate.Validator
	counter   connmeter.Counter
	reg       *registry.Registry
	listener  *session.Listener

	httpServer *http.Server
	events     chan Event
	startedAt  time.Time
	dead       atomic.Bool
}

// New constructs a Server bound to cfg. Call Start to begin serving.
func New(cfg Config) (*Server, error) {
	s := &Server{
		id:  uuid.New(),
		cfg: cfg,
		validator: &prevalidate.Validator{
			ProtocolVersion:   cfg.ProtocolVersion,
			MaxConnections:    cfg.MaxConnections,
			Authenticator:     cfg.Authenticator,
			HeartbeatInterval: cfg.HeartbeatInterval,
			KeepaliveTimeout:  cfg.KeepaliveTimeout,
			MaxMsgSize:        cfg.MaxMsgSize,
		},
		events: make(chan Event, 4096),
	}
	s.reg = registry.New(s.onRegistryEvent)

	listenerCfg := session.DefaultConfig()
	listenerCfg.WorkerPoolSize = cfg.WorkerPoolSize
	listenerCfg.MaxMsgSize = cfg.MaxMsgSize

	l, err := session.NewListener(listenerCfg, s)
	if err != nil {
		return nil, fmt.Errorf("simplenetserver: creating listener: %w", err)
	}
	s.listener = l
	return s, nil
}

// Start begins accepting connections and blocks until the HTTP server stops.
func (s *Server) Start() error {
	s.startedAt = time.Now()
	go s.listener.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	s.httpServer = &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}

	log.Printf("simplenetserver: instance=%s listening on %s (protocol=%s, max_conns=%d)",
		s.id, s.cfg.ListenAddr, s.cfg.ProtocolVersion, s.cfg.MaxConnections)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("simplenetserver: http server error: %w", err)
	}
	return nil
}

// handleUpgrade implements the admission pipeline: identity checks
// (version, env, auth) are rejected at the HTTP layer before any upgrade;
// capacity is enforced atomically after the upgrade so an over-capacity
// client still observes a transport-level connect before being closed.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := prevalidate.Params{
		Version:     q.Get("v"),
		EnvType:     q.Get("t"),
		AuthJSON:    q.Get("a"),
		ConnectJSON: q.Get("c"),
	}

	adm, err := s.validator.ValidateIdentity(params)
	if err != nil {
		rej := err.(*prevalidate.Rejection)
		metrics.UpgradeRejectionsTotal.WithLabelValues(rej.Reason.String()).Inc()
		http.Error(w, rej.Reason.String(), rej.Reason.HTTPStatus())
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("simplenetserver: upgrade failed: %v", err)
		return
	}

	if !s.counter.TryAdmit(s.cfg.MaxConnections) {
		writeRawClose(raw, wire.CloseOverCapacity, "over capacity")
		_ = raw.Close()
		return
	}

	conn, err := s.listener.Register(raw, adm.ClientID, s.cfg.MaxMsgSize, s.cfg.RateLimit,
		adm.Socket.HeartbeatInterval, adm.Socket.KeepaliveTimeout, adm.Socket.TextPing)
	if err != nil {
		s.counter.Dec()
		log.Printf("simplenetserver: listener register failed for %s: %v", adm.ClientID, err)
		_ = raw.Close()
		return
	}

	metrics.ConnectionsTotal.Set(float64(s.counter.Load()))
	s.reg.Admit(adm.ClientID, conn, adm.ConnectMsg, func(prior *session.Conn) {
		_ = prior.WriteClose(wire.ClosePolicyViolation, "superseded by new connection")
		s.listener.Remove(prior)
	})
}

func writeRawClose(raw net.Conn, code ws.StatusCode, reason string) {
	_ = ws.WriteFrame(raw, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Status      string `json:"status"`
		Connections int64  `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.counter.Load(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// session.EventSink implementation, wiring inbound frames to the public
// event queue.

func (s *Server) OnMsg(id auth.ClientID, payload []byte) {
	s.push(Event{Kind: EventMsg, SessionID: id, Payload: payload})
}

func (s *Server) OnRequest(id auth.ClientID, payload []byte, tok *reqtoken.Token) {
	s.push(Event{Kind: EventRequest, SessionID: id, Payload: payload, Token: tok})
}

func (s *Server) OnProtocolViolation(id auth.ClientID, reason string) {
	log.Printf("simplenetserver: protocol violation session=%s: %s", id, reason)
}

func (s *Server) OnRateLimited(id auth.ClientID) {
	metrics.RateLimitRejectionsTotal.Inc()
	log.Printf("simplenetserver: rate limit exceeded session=%s", id)
}

func (s *Server) OnClosed(c *session.Conn) {
	s.counter.Dec()
	metrics.ConnectionsTotal.Set(float64(s.counter.Load()))
	s.reg.Remove(c.ID, c)
}

func (s *Server) onRegistryEvent(e registry.Event) {
	if e.Connected {
		s.push(Event{Kind: EventConnected, SessionID: e.SessionID, ConnectMsg: e.ConnectMsg})
		return
	}
	s.push(Event{Kind: EventDisconnected, SessionID: e.SessionID})
}

func (s *Server) push(e Event) {
	select {
	case s.events <- e:
	default:
		log.Printf("simplenetserver: event queue full, dropping %v event for session=%s", e.Kind, e.SessionID)
	}
}

// Next returns the next pending event, or ok=false if the queue is empty.
func (s *Server) Next() (Event, bool) {
	select {
	case e := <-s.events:
		return e, true
	default:
		return Event{}, false
	}
}

// Send writes a fire-and-forget Msg frame to sessionID.
func (s *Server) Send(sessionID auth.ClientID, payload []byte) error {
	conn := s.reg.Get(sessionID)
	if conn == nil {
		return fmt.Errorf("simplenetserver: session %s not found", sessionID)
	}
	return conn.WriteFrame(wire.Msg(payload))
}

// CloseSession closes sessionID's connection with the given close code and
// reason.
func (s *Server) CloseSession(sessionID auth.ClientID, code ws.StatusCode, reason string) error {
	conn := s.reg.Get(sessionID)
	if conn == nil {
		return fmt.Errorf("simplenetserver: session %s not found", sessionID)
	}
	_ = conn.WriteClose(code, reason)
	s.listener.Remove(conn)
	return nil
}

// NumConnections returns the current live session count.
func (s *Server) NumConnections() int64 { return s.counter.Load() }

// URL returns the address the server is configured to listen on.
func (s *Server) URL() string { return s.cfg.ListenAddr }

// IsDead reports whether the server has been shut down.
func (s *Server) IsDead() bool { return s.dead.Load() }

// Shutdown stops accepting connections and tears down the listener. Shutdown
// is abrupt: no drain period is attempted, matching the "no graceful drain
// is specified" server lifecycle.
func (s *Server) Shutdown(ctx context.Context) error {
	s.dead.Store(true)
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("simplenetserver: http shutdown error: %v", err)
		}
	}
	return s.listener.Close()
}
