package session

import (
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/ratelimit"
	"github.com/whisper/simplenet/reqtoken"
	"github.com/whisper/simplenet/wire"
)

// Config tunes the listener's I/O behavior.
type Config struct {
	WorkerPoolSize int
	MaxMsgSize     int
	ReadTimeout    time.Duration
	HeartbeatTick  time.Duration // how often the heartbeat sweep runs
}

// DefaultConfig returns sensible defaults for worker pool size and frame
// limits.
func DefaultConfig() Config {
	return Config{
		WorkerPoolSize: 256,
		MaxMsgSize:     4096,
		ReadTimeout:    10 * time.Second,
		HeartbeatTick:  1 * time.Second,
	}
}

// EventSink receives the events a session handler produces from inbound
// frames and from connection termination.
type EventSink interface {
	OnMsg(id auth.ClientID, payload []byte)
	OnRequest(id auth.ClientID, payload []byte, tok *reqtoken.Token)
	OnProtocolViolation(id auth.ClientID, reason string)
	OnRateLimited(id auth.ClientID)
	OnClosed(c *Conn)
}

// Listener runs the epoll (or fallback) event loop for every admitted
// connection, dispatching inbound frames to an EventSink and sweeping dead
// connections on a heartbeat tick.
type Listener struct {
	cfg        Config
	sink       EventSink
	ep         *epoll
	workerPool chan struct{}
	done       chan struct{}

	byFd map[int]*Conn
	mu   sync.RWMutex
}

// NewListener creates a Listener. Call Run in a background goroutine once,
// then Register each admitted connection as it is accepted.
func NewListener(cfg Config, sink EventSink) (*Listener, error) {
	ep, err := newEpoll()
	if err != nil {
		return nil, err
	}
	return &Listener{
		cfg:        cfg,
		sink:       sink,
		ep:         ep,
		workerPool: make(chan struct{}, cfg.WorkerPoolSize),
		done:       make(chan struct{}),
		byFd:       make(map[int]*Conn),
	}, nil
}

// Register admits raw into the listener: it builds a Conn for it and adds
// it to the I/O multiplexer so inbound frames start flowing to the sink.
func (l *Listener) Register(raw net.Conn, id auth.ClientID, maxMsgSize int, rule ratelimit.Rule, heartbeatInterval, keepaliveTimeout time.Duration, textPing bool) (*Conn, error) {
	c := newConn(raw, id, maxMsgSize, rule, heartbeatInterval, keepaliveTimeout, textPing)

	l.mu.Lock()
	l.byFd[c.fd] = c
	l.mu.Unlock()

	if err := l.ep.add(raw); err != nil {
		l.mu.Lock()
		delete(l.byFd, c.fd)
		l.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Remove unregisters c, closes its socket, marks its destination dead, and
// notifies the sink. Safe to call more than once; only the first call has
// an effect.
func (l *Listener) Remove(c *Conn) {
	l.mu.Lock()
	_, ok := l.byFd[c.fd]
	if ok {
		delete(l.byFd, c.fd)
	}
	l.mu.Unlock()
	if !ok {
		return
	}

	_ = l.ep.remove(c.raw)
	c.dest.MarkDead()
	_ = c.Close()
	l.sink.OnClosed(c)
}

// Run drives the event loop until Close is called. Intended to run in its
// own goroutine; Run also starts the heartbeat sweep goroutine.
func (l *Listener) Run() {
	go l.heartbeatLoop()

	for {
		select {
		case <-l.done:
			return
		default:
		}

		conns, err := l.ep.wait()
		if err != nil {
			select {
			case <-l.done:
				return
			default:
				log.Printf("session: epoll wait error: %v", err)
				continue
			}
		}

		for _, raw := range conns {
			raw := raw
			l.workerPool <- struct{}{}
			go func() {
				defer func() { <-l.workerPool }()
				l.handle(raw)
			}()
		}
	}
}

func (l *Listener) getByFd(raw net.Conn) *Conn {
	fd := socketFD(raw)
	l.mu.RLock()
	c := l.byFd[fd]
	l.mu.RUnlock()
	return c
}

func (l *Listener) handle(raw net.Conn) {
	c := l.getByFd(raw)
	if c == nil {
		return
	}

	if !c.processing.CompareAndSwap(0, 1) {
		return
	}
	defer c.processing.Store(0)

	if l.cfg.ReadTimeout > 0 {
		_ = raw.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(raw, ws.StateServerSide)
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return
		}
		l.Remove(c)
		return
	}
	_ = raw.SetReadDeadline(time.Time{})
	c.touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			l.Remove(c)
		}
		return
	}

	if l.cfg.MaxMsgSize > 0 && header.Length > int64(l.cfg.MaxMsgSize) {
		_, _ = io.Copy(io.Discard, reader)
		l.sink.OnProtocolViolation(c.ID, "frame too large")
		_ = c.WriteClose(wire.ClosePolicyViolation, "frame too large")
		l.Remove(c)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			l.Remove(c)
			return
		}
	}
	if len(data) == 0 {
		return
	}

	if header.OpCode == ws.OpText {
		if wire.IsHeartbeatPing(data) {
			_ = c.WritePong()
		}
		// Any other text frame from a binary-protocol client is ignored
		// rather than treated as a protocol violation, matching WASM
		// transports that may emit framework-level text traffic.
		return
	}

	l.dispatch(c, data)
}

func (l *Listener) dispatch(c *Conn, data []byte) {
	f, err := wire.Decode(data, l.cfg.MaxMsgSize)
	if err != nil {
		l.sink.OnProtocolViolation(c.ID, err.Error())
		_ = c.WriteClose(wire.ClosePolicyViolation, "malformed frame")
		l.Remove(c)
		return
	}

	switch f.Kind {
	case wire.KindMsg:
		if !c.limiter.Allow() {
			l.sink.OnRateLimited(c.ID)
			_ = c.WriteClose(wire.ClosePolicyViolation, "rate limit exceeded")
			l.Remove(c)
			return
		}
		l.sink.OnMsg(c.ID, f.Payload)

	case wire.KindRequest:
		if !c.limiter.Allow() {
			l.sink.OnRateLimited(c.ID)
			_ = c.WriteClose(wire.ClosePolicyViolation, "rate limit exceeded")
			l.Remove(c)
			return
		}
		tok := reqtoken.New(c.ID, f.RequestID, c.dest, c)
		l.sink.OnRequest(c.ID, f.Payload, tok)

	default:
		// Response/Ack/Reject are server->client only; receiving one from a
		// client is a protocol violation.
		l.sink.OnProtocolViolation(c.ID, "unexpected frame kind from client: "+f.Kind.String())
		_ = c.WriteClose(wire.ClosePolicyViolation, "unexpected frame kind")
		l.Remove(c)
	}
}

func (l *Listener) heartbeatLoop() {
	ticker := time.NewTicker(l.cfg.HeartbeatTick)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *Listener) sweep() {
	l.mu.RLock()
	conns := make([]*Conn, 0, len(l.byFd))
	for _, c := range l.byFd {
		conns = append(conns, c)
	}
	l.mu.RUnlock()

	now := time.Now()
	for _, c := range conns {
		deadline := c.heartbeatInterval + c.keepaliveTimeout
		if deadline <= 0 {
			continue
		}
		if now.Sub(c.lastActivity()) > deadline {
			l.Remove(c)
			continue
		}
		if now.Sub(c.lastActivity()) > c.heartbeatInterval {
			if err := c.WritePing(); err != nil {
				l.Remove(c)
			}
		}
	}
}

// Close stops the event loop and heartbeat sweep.
func (l *Listener) Close() error {
	close(l.done)
	return l.ep.Close()
}
