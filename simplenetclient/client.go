// Package simplenetclient implements the client-side session driver: the
// connect loop, heartbeat policy, reconnection, and event emission that
// mirror package session on the server side.
package simplenetclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/pending"
	"github.com/whisper/simplenet/wire"
)

// RequestHandle lets the host observe a single request's terminal outcome.
type RequestHandle struct {
	h *pending.Handle
}

// RequestID returns the id assigned to this request.
func (r *RequestHandle) RequestID() uint64 { return r.h.RequestID }

// Status returns the request's current lifecycle status.
func (r *RequestHandle) Status() pending.Status { return r.h.Status() }

// Payload returns the payload attached by the request's terminal outcome,
// if it carried one (only Response does).
func (r *RequestHandle) Payload() []byte { return r.h.Payload() }

// closeReason explains why one connection attempt's readLoop returned,
// which in turn decides whether the driver reconnects or goes Dead.
type closeReason int

const (
	// reasonSocketError is a transient link failure (including a missed
	// heartbeat): the driver attempts to reconnect.
	reasonSocketError closeReason = iota
	// reasonClosedBySelf is a host-initiated Close(): terminal, no reconnect.
	reasonClosedBySelf
	// reasonServerClose is an explicit WebSocket close frame from the
	// server: terminal. A server only closes a live session deliberately
	// (policy violation, over capacity, internal error), so the driver
	// does not retry into the same rejection.
	reasonServerClose
)

// Client is a simplenet client: it drives one logical session across
// reconnects, tracks in-flight requests, and exposes a single event queue.
type Client struct {
	id         auth.ClientID
	authReq    auth.Request
	connectMsg []byte
	url        string
	cfg        Config

	connected  atomic.Bool
	closedSelf atomic.Bool
	dead       atomic.Bool

	tracker *pending.Tracker
	events  chan ClientEvent

	writeMu  sync.Mutex
	conn     net.Conn
	textPing bool

	closeCh   chan struct{}
	closeOnce sync.Once
	doneCh    chan struct{}
}

// New constructs a Client and begins connecting to url in the background.
// authReq and connectMsg are sent once per connect attempt (including every
// reconnect); cfg.ProtocolVersion must match the server's configured
// version or every connect attempt is rejected before the upgrade.
func New(url string, clientID auth.ClientID, authReq auth.Request, connectMsg []byte, cfg Config) *Client {
	c := &Client{
		id:         clientID,
		authReq:    authReq,
		connectMsg: connectMsg,
		url:        url,
		cfg:        cfg,
		tracker:    pending.NewTracker(),
		events:     make(chan ClientEvent, 256),
		closeCh:    make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	go c.run()
	return c
}

// ID returns the client identifier this client presents on every connect.
func (c *Client) ID() auth.ClientID { return c.id }

// IsConnected reports whether the session is currently live. It never
// reports true once Close has been called.
func (c *Client) IsConnected() bool { return c.connected.Load() && !c.closedSelf.Load() }

// IsDead reports whether the driver has fully torn down. No further events
// follow an IsDead event.
func (c *Client) IsDead() bool { return c.dead.Load() }

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool { return c.closedSelf.Load() }

// Next returns the next pending event, or ok=false if the queue is empty.
func (c *Client) Next() (ClientEvent, bool) {
	select {
	case e := <-c.events:
		return e, true
	default:
		return ClientEvent{}, false
	}
}

// Send writes a fire-and-forget Msg frame. Returns an error if not
// currently connected; treat this as advisory, not fatal.
func (c *Client) Send(payload []byte) error {
	if !c.connected.Load() {
		return fmt.Errorf("simplenetclient: not connected")
	}
	return c.writeFrame(wire.Msg(payload))
}

// Request reserves a request id, sends a Request frame, and returns a
// handle the host can poll for the terminal outcome. If the write fails the
// handle still comes back resolved as Failed and a SendFailed event is
// queued, matching the "advisory Err" contract for host-facing calls.
func (c *Client) Request(payload []byte) (*RequestHandle, error) {
	h, err := c.tracker.ReserveAndAdd(c.connected.Load)
	if err != nil {
		return nil, err
	}
	if err := c.writeFrame(wire.Request(payload, h.RequestID)); err != nil {
		c.tracker.Resolve(h.RequestID, pending.StatusFailed, nil)
		c.emit(ClientEvent{Kind: EventSendFailed, RequestID: h.RequestID})
		return &RequestHandle{h: h}, err
	}
	c.tracker.MarkSent(h.RequestID)
	return &RequestHandle{h: h}, nil
}

// Close initiates a graceful close. It is asynchronous: the driver sends a
// close frame, emits ClosedBySelf for the current session (if any) and
// failure outcomes for requests still in flight, then transitions to Dead
// and emits IsDead. Safe to call more than once; a repeated call only logs a
// warning.
func (c *Client) Close() error {
	var err error
	first := false
	c.closeOnce.Do(func() {
		first = true
		c.closedSelf.Store(true)
		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn != nil {
			_ = ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(wire.CloseNormal, "client closing")))
			err = conn.Close()
		}
		close(c.closeCh)
	})
	if !first {
		log.Printf("simplenetclient: tried to close an already closed client")
	}
	return err
}

func (c *Client) writeFrame(f wire.Frame) error {
	data, err := wire.Encode(f, c.cfg.MaxMsgSize)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("simplenetclient: not connected")
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpBinary, data)
}

func (c *Client) writePing(conn net.Conn) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.textPing {
		return wsutil.WriteClientMessage(conn, ws.OpText, []byte(wire.HeartbeatPing))
	}
	return wsutil.WriteClientMessage(conn, ws.OpPing, nil)
}

func (c *Client) setConn(conn net.Conn, textPing bool) {
	c.writeMu.Lock()
	c.conn = conn
	c.textPing = textPing
	c.writeMu.Unlock()
}

func (c *Client) currentConn() net.Conn {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn
}

func (c *Client) emit(e ClientEvent) {
	select {
	case c.events <- e:
	default:
		log.Printf("simplenetclient: event queue full, dropping %v event", e.Kind)
	}
}

func (c *Client) emitFailures(failed []pending.FailedEntry) {
	for _, f := range failed {
		kind := EventSendFailed
		if f.PriorStatus == pending.StatusSent {
			kind = EventResponseLost
		}
		c.emit(ClientEvent{Kind: kind, RequestID: f.RequestID})
	}
}

// run drives the full connect -> serve -> reconnect-or-die state machine
// for the client's lifetime.
func (c *Client) run() {
	defer c.finish()

	if !c.attemptConnect(c.cfg.MaxInitialConnectAttempts) {
		return
	}

	for {
		reason := c.serveOnce()
		if reason != reasonSocketError {
			return
		}
		if !c.attemptConnect(c.cfg.MaxReconnectAttempts) {
			return
		}
	}
}

// attemptConnect dials until it succeeds, the close signal fires, or
// maxAttempts is exhausted (0 means unlimited). On success it installs the
// new connection and emits Connected.
func (c *Client) attemptConnect(maxAttempts int) bool {
	attempt := 0
	for {
		select {
		case <-c.closeCh:
			return false
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
		conn, textPing, err := c.dial(ctx)
		cancel()
		if err == nil {
			c.setConn(conn, textPing)
			c.connected.Store(true)
			c.emit(ClientEvent{Kind: EventConnected})
			return true
		}

		attempt++
		if maxAttempts > 0 && attempt >= maxAttempts {
			return false
		}

		select {
		case <-c.closeCh:
			return false
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) dial(ctx context.Context) (net.Conn, bool, error) {
	authJSON, err := json.Marshal(c.authReq)
	if err != nil {
		return nil, false, fmt.Errorf("simplenetclient: marshal auth request: %w", err)
	}

	q := url.Values{}
	q.Set("v", c.cfg.ProtocolVersion)
	q.Set("t", c.cfg.EnvType)
	q.Set("a", string(authJSON))
	q.Set("c", string(c.connectMsg))

	sep := "?"
	if strings.Contains(c.url, "?") {
		sep = "&"
	}
	dialURL := c.url + sep + q.Encode()

	conn, _, _, err := ws.Dial(ctx, dialURL)
	if err != nil {
		return nil, false, err
	}
	return conn, c.cfg.EnvType == "wasm", nil
}

// serveOnce runs one connection's read loop to completion and reports the
// outcome: clearing the connected flag before touching the pending-request
// tracker, so a concurrent Request never slips in after a sweep begins.
func (c *Client) serveOnce() closeReason {
	conn := c.currentConn()
	reason := c.readLoop(conn)

	c.connected.Store(false)
	c.writeMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.writeMu.Unlock()
	_ = conn.Close()

	switch reason {
	case reasonSocketError:
		c.emitFailures(c.tracker.FailPending())
		c.emit(ClientEvent{Kind: EventDisconnected})
	case reasonClosedBySelf:
		c.emitFailures(c.tracker.FailAll())
		c.emit(ClientEvent{Kind: EventClosedBySelf})
	case reasonServerClose:
		c.emitFailures(c.tracker.FailAll())
		c.emit(ClientEvent{Kind: EventClosedByServer})
	}
	return reason
}

// readLoop reads frames from conn until the link fails, the host calls
// Close, or the server sends a close frame. It also drives the heartbeat:
// a read timeout at heartbeatInterval triggers a ping, and no activity for
// heartbeatInterval+keepaliveTimeout is treated as a dead link.
func (c *Client) readLoop(conn net.Conn) closeReason {
	lastActive := time.Now()
	tick := c.cfg.HeartbeatInterval
	if tick <= 0 {
		tick = 30 * time.Second
	}

	for {
		select {
		case <-c.closeCh:
			return reasonClosedBySelf
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(tick))
		header, reader, err := wsutil.NextReader(conn, ws.StateClientSide)
		if err != nil {
			select {
			case <-c.closeCh:
				return reasonClosedBySelf
			default:
			}
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if time.Since(lastActive) > tick+c.cfg.KeepaliveTimeout {
					return reasonSocketError
				}
				if err := c.writePing(conn); err != nil {
					return reasonSocketError
				}
				continue
			}
			return reasonSocketError
		}
		_ = conn.SetReadDeadline(time.Time{})
		lastActive = time.Now()

		if header.OpCode.IsControl() {
			if header.OpCode == ws.OpClose {
				select {
				case <-c.closeCh:
					return reasonClosedBySelf
				default:
					return reasonServerClose
				}
			}
			if header.OpCode == ws.OpPing {
				_ = wsutil.WriteClientMessage(conn, ws.OpPong, nil)
			}
			continue
		}

		data := make([]byte, header.Length)
		if header.Length > 0 {
			if _, err := io.ReadFull(reader, data); err != nil {
				return reasonSocketError
			}
		}
		if len(data) == 0 {
			continue
		}

		if header.OpCode == ws.OpText {
			// Heartbeat sentinel (wasm mode) or stray text traffic; neither
			// is part of the binary application protocol.
			continue
		}

		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	f, err := wire.Decode(data, c.cfg.MaxMsgSize)
	if err != nil {
		// A malformed frame from the server is dropped rather than torn
		// down into a full reconnect; the server is the trusted half of
		// this protocol in practice.
		return
	}

	switch f.Kind {
	case wire.KindMsg:
		c.emit(ClientEvent{Kind: EventMsg, Payload: f.Payload})
	case wire.KindResponse:
		c.tracker.Resolve(f.RequestID, pending.StatusResponseReceived, f.Payload)
		c.emit(ClientEvent{Kind: EventResponse, Payload: f.Payload, RequestID: f.RequestID})
	case wire.KindAck:
		c.tracker.Resolve(f.RequestID, pending.StatusAcked, nil)
		c.emit(ClientEvent{Kind: EventAck, RequestID: f.RequestID})
	case wire.KindReject:
		c.tracker.Resolve(f.RequestID, pending.StatusRejected, nil)
		c.emit(ClientEvent{Kind: EventReject, RequestID: f.RequestID})
	default:
		// Request is client->server only; ignore anything else.
	}
}

// finish runs exactly once, after run's loop exits for any reason: it fails
// every request still in flight, marks the client dead, and emits the
// terminal IsDead event.
func (c *Client) finish() {
	c.connected.Store(false)
	c.emitFailures(c.tracker.FailAll())
	c.dead.Store(true)
	c.emit(ClientEvent{Kind: EventIsDead})
	close(c.doneCh)
}
