package registry

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/ratelimit"
	"github.com/whisper/simplenet/reqtoken"
	"github.com/whisper/simplenet/session"
)

type noopSink struct{}

func (noopSink) OnMsg(auth.ClientID, []byte)                      {}
func (noopSink) OnRequest(auth.ClientID, []byte, *reqtoken.Token) {}
func (noopSink) OnProtocolViolation(auth.ClientID, string)        {}
func (noopSink) OnRateLimited(auth.ClientID)                      {}
func (noopSink) OnClosed(*session.Conn)                           {}

// newTestConn gives the listener a real OS socket (via TCP loopback) rather
// than net.Pipe, since epoll registration needs an actual file descriptor.
func newTestConn(t *testing.T, l *session.Listener, id auth.ClientID) (*session.Conn, net.Conn) {
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

	c, err := l.Register(server, id, 4096, ratelimit.Rule{Period: time.Minute, MaxCount: 1000}, time.Hour, time.Hour, false)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return c, client
}

func TestAdmitClosesOldOnDuplicateSessionID(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	r := New(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	l, err := session.NewListener(session.DefaultConfig(), noopSink{})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()

	id := auth.ClientID{1}
	first, _ := newTestConn(t, l, id)

	var closedPrior *session.Conn
	r.Admit(id, first, []byte("hello"), func(c *session.Conn) { closedPrior = c })
	if closedPrior != nil {
		t.Fatalf("expected no prior connection to close on first admit")
	}

	second, _ := newTestConn(t, l, id)
	r.Admit(id, second, []byte("hello again"), func(c *session.Conn) { closedPrior = c })
	if closedPrior != first {
		t.Fatalf("expected close-old to be invoked with the prior connection")
	}
	if r.Get(id) != second {
		t.Fatalf("expected registry to hold the newest connection")
	}
	if r.Count() != 1 {
		t.Fatalf("expected exactly one live session, got %d", r.Count())
	}

	mu.Lock()
	n := len(events)
	mu.Unlock()
	if n != 2 {
		t.Fatalf("expected 2 Connected events, got %d", n)
	}
}

func TestRemoveIgnoresStaleConnection(t *testing.T) {
	var events []Event
	r := New(func(e Event) { events = append(events, e) })

	l, err := session.NewListener(session.DefaultConfig(), noopSink{})
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l.Close()

	id := auth.ClientID{2}
	stale, _ := newTestConn(t, l, id)
	current, _ := newTestConn(t, l, id)
	r.Admit(id, current, nil, func(*session.Conn) {})

	r.Remove(id, stale)
	if r.Get(id) != current {
		t.Fatal("expected Remove with a stale connection to be a no-op")
	}
}

func TestGetReturnsNilForUnknownSession(t *testing.T) {
	r := New(func(Event) {})
	if r.Get(auth.ClientID{9}) != nil {
		t.Fatal("expected nil for unknown session id")
	}
}
