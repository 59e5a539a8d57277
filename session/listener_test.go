package session

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/ratelimit"
	"github.com/whisper/simplenet/reqtoken"
	"github.com/whisper/simplenet/wire"
)

type recordingSink struct {
	mu          sync.Mutex
	msgs        [][]byte
	rateLimited int
	violations  []string
	closed      int
}

func (s *recordingSink) OnMsg(id auth.ClientID, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, payload)
}
func (s *recordingSink) OnRequest(auth.ClientID, []byte, *reqtoken.Token) {}
func (s *recordingSink) OnProtocolViolation(id auth.ClientID, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, reason)
}
func (s *recordingSink) OnRateLimited(auth.ClientID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimited++
}
func (s *recordingSink) OnClosed(*Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
}

func (s *recordingSink) counts() (rateLimited, closed, violations int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimited, s.closed, len(s.violations)
}

func newLoopbackConn(t *testing.T, l *Listener, id auth.ClientID, rule ratelimit.Rule, heartbeatInterval, keepaliveTimeout time.Duration) (*Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	server := <-accepted

	c, err := l.Register(server, id, 4096, rule, heartbeatInterval, keepaliveTimeout, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return c, client
}

// readCloseFrame reads one control frame off client and fails the test if it
// isn't a close frame carrying the expected code.
func readCloseFrame(t *testing.T, client net.Conn, wantCode ws.StatusCode) {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	header, reader, err := wsutil.NextReader(client, ws.StateClientSide)
	if err != nil {
		t.Fatalf("NextReader: %v", err)
	}
	if header.OpCode != ws.OpClose {
		t.Fatalf("expected close frame, got opcode %v", header.OpCode)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("reading close body: %v", err)
	}
	// The first two bytes of a close frame body are the status code,
	// big-endian, per RFC 6455 §5.5.1; the remainder is the reason text.
	if len(body) < 2 {
		t.Fatalf("close frame body too short: %d bytes", len(body))
	}
	code := ws.StatusCode(uint16(body[0])<<8 | uint16(body[1]))
	if code != wantCode {
		t.Fatalf("expected close code %d, got %d", wantCode, code)
	}
}

func TestDispatchClosesConnectionOnRateLimit(t *testing.T) {
	sink := &recordingSink{}
	l, err := NewListener(DefaultConfig(), sink)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()

	id := auth.ClientID{1}
	c, client := newLoopbackConn(t, l, id, ratelimit.Rule{Period: time.Minute, MaxCount: 1}, time.Hour, time.Hour)

	msg, err := wire.Encode(wire.Msg([]byte("hello")), 4096)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	l.dispatch(c, msg) // first message: within limit
	l.dispatch(c, msg) // second message: over limit, should close

	readCloseFrame(t, client, wire.ClosePolicyViolation)

	rateLimited, closed, _ := sink.counts()
	if rateLimited != 1 {
		t.Fatalf("expected 1 rate-limit event, got %d", rateLimited)
	}
	if closed != 1 {
		t.Fatalf("expected connection to be removed once, got %d", closed)
	}
}

func TestDispatchClosesConnectionOnMalformedFrame(t *testing.T) {
	sink := &recordingSink{}
	l, err := NewListener(DefaultConfig(), sink)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()

	id := auth.ClientID{2}
	c, client := newLoopbackConn(t, l, id, ratelimit.Rule{Period: time.Minute, MaxCount: 1000}, time.Hour, time.Hour)

	l.dispatch(c, []byte{0xff, 0xff, 0xff}) // not valid CBOR

	readCloseFrame(t, client, wire.ClosePolicyViolation)

	_, closed, violations := sink.counts()
	if violations != 1 {
		t.Fatalf("expected 1 protocol violation, got %d", violations)
	}
	if closed != 1 {
		t.Fatalf("expected connection to be removed once, got %d", closed)
	}
}

func TestSweepRemovesDeadConnection(t *testing.T) {
	sink := &recordingSink{}
	l, err := NewListener(DefaultConfig(), sink)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()

	id := auth.ClientID{3}
	// heartbeatInterval+keepaliveTimeout of 1ns means any sweep call finds
	// the connection overdue immediately, without needing to sleep in the test.
	c, _ := newLoopbackConn(t, l, id, ratelimit.Rule{Period: time.Minute, MaxCount: 1000}, time.Nanosecond, time.Nanosecond)
	c.lastActive.Store(time.Now().Add(-time.Hour).UnixNano())

	l.sweep()

	_, closed, _ := sink.counts()
	if closed != 1 {
		t.Fatalf("expected sweep to remove the overdue connection, got %d closed", closed)
	}
}

func TestSweepPingsConnectionNearingDeadline(t *testing.T) {
	sink := &recordingSink{}
	l, err := NewListener(DefaultConfig(), sink)
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()

	id := auth.ClientID{4}
	c, client := newLoopbackConn(t, l, id, ratelimit.Rule{Period: time.Minute, MaxCount: 1000}, time.Second, time.Hour)
	c.lastActive.Store(time.Now().Add(-2 * time.Second).UnixNano())

	l.sweep()

	_, closed, _ := sink.counts()
	if closed != 0 {
		t.Fatalf("expected connection to stay open (still within keepalive), got %d closed", closed)
	}

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	header, _, err := wsutil.NextReader(client, ws.StateClientSide)
	if err != nil {
		t.Fatalf("expected a ping frame, got error: %v", err)
	}
	if header.OpCode != ws.OpPing {
		t.Fatalf("expected ping frame, got opcode %v", header.OpCode)
	}
}
