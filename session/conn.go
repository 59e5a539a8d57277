// Package session implements the server-side per-connection engine: the
// epoll-driven (or goroutine-per-connection, off Linux) I/O loop, frame
// dispatch, rate-limit enforcement, and heartbeat probing for one accepted
// WebSocket connection.
package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/ratelimit"
	"github.com/whisper/simplenet/reqtoken"
	"github.com/whisper/simplenet/wire"
)

// Conn is one admitted connection's server-side state: the raw socket, its
// negotiated heartbeat behavior, its rate limiter, and the shared liveness
// flag handed to every request token issued on it.
type Conn struct {
	ID        auth.ClientID
	raw       net.Conn
	fd        int
	createdAt time.Time

	heartbeatInterval time.Duration
	keepaliveTimeout  time.Duration
	textPing          bool

	maxMsgSize int
	limiter    *ratelimit.Limiter
	dest       *reqtoken.Destination

	writeMu    sync.Mutex
	processing atomic.Int32
	lastActive atomic.Int64 // unix nanos
}

func newConn(raw net.Conn, id auth.ClientID, maxMsgSize int, rule ratelimit.Rule, heartbeatInterval, keepaliveTimeout time.Duration, textPing bool) *Conn {
	c := &Conn{
		ID:                id,
		raw:               raw,
		fd:                socketFD(raw),
		createdAt:         time.Now(),
		heartbeatInterval: heartbeatInterval,
		keepaliveTimeout:  keepaliveTimeout,
		textPing:          textPing,
		maxMsgSize:        maxMsgSize,
		limiter:           ratelimit.New(rule),
		dest:              &reqtoken.Destination{},
	}
	c.touch()
	return c
}

func (c *Conn) touch() { c.lastActive.Store(time.Now().UnixNano()) }

func (c *Conn) lastActivity() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// Destination is the liveness flag shared with every reqtoken.Token issued
// for requests received on this connection.
func (c *Conn) Destination() *reqtoken.Destination { return c.dest }

// WriteFrame encodes and writes f to the socket as a binary WebSocket frame.
func (c *Conn) WriteFrame(f wire.Frame) error {
	data, err := wire.Encode(f, c.maxMsgSize)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.raw, ws.OpBinary, data)
}

// SendFrame implements reqtoken.Sender, translating a token's FrameKind into
// the corresponding wire.Frame.
func (c *Conn) SendFrame(requestID uint64, kind reqtoken.FrameKind, payload []byte) error {
	var f wire.Frame
	switch kind {
	case reqtoken.KindResponse:
		f = wire.Response(payload, requestID)
	case reqtoken.KindAck:
		f = wire.Ack(requestID)
	case reqtoken.KindReject:
		f = wire.Reject(requestID)
	}
	return c.WriteFrame(f)
}

// WritePing sends a liveness probe: a native control-frame ping, or for
// text-ping (WASM) connections the heartbeat sentinel as a text frame.
func (c *Conn) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.textPing {
		return wsutil.WriteServerMessage(c.raw, ws.OpText, []byte(wire.HeartbeatPing))
	}
	return ws.WriteFrame(c.raw, ws.NewPingFrame(nil))
}

// WritePong replies to a text-frame heartbeat ping sent by a text-ping
// (WASM) client.
func (c *Conn) WritePong() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsutil.WriteServerMessage(c.raw, ws.OpText, []byte(wire.HeartbeatPong))
}

// WriteClose sends a WebSocket close frame with the given code and reason.
// code is a wire.CloseXxx constant.
func (c *Conn) WriteClose(code ws.StatusCode, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.raw, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.raw.Close()
}
