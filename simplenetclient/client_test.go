package simplenetclient

import (
	"testing"

	"github.com/whisper/simplenet/pending"
	"github.com/whisper/simplenet/wire"
)

func newTestClient() *Client {
	return &Client{
		cfg:     DefaultConfig("1.0.0"),
		tracker: pending.NewTracker(),
		events:  make(chan ClientEvent, 16),
		closeCh: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

func (c *Client) drain(t *testing.T) []ClientEvent {
	t.Helper()
	var out []ClientEvent
	for {
		e, ok := c.Next()
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func TestRequestFailsWhenNotConnected(t *testing.T) {
	c := newTestClient()
	if _, err := c.Request([]byte("hi")); err != pending.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	c := newTestClient()
	if err := c.Send([]byte("hi")); err == nil {
		t.Fatal("expected error sending while not connected")
	}
}

func TestDispatchResolvesResponseAckReject(t *testing.T) {
	c := newTestClient()
	c.connected.Store(true)

	hResp, _ := c.tracker.ReserveAndAdd(c.connected.Load)
	hAck, _ := c.tracker.ReserveAndAdd(c.connected.Load)
	hRej, _ := c.tracker.ReserveAndAdd(c.connected.Load)

	encode := func(f wire.Frame) []byte {
		data, err := wire.Encode(f, 0)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		return data
	}

	c.dispatch(encode(wire.Response([]byte("payload"), hResp.RequestID)))
	c.dispatch(encode(wire.Ack(hAck.RequestID)))
	c.dispatch(encode(wire.Reject(hRej.RequestID)))

	if hResp.Status() != pending.StatusResponseReceived || string(hResp.Payload()) != "payload" {
		t.Fatalf("expected ResponseReceived with payload, got status=%v payload=%q", hResp.Status(), hResp.Payload())
	}
	if hAck.Status() != pending.StatusAcked {
		t.Fatalf("expected Acked, got %v", hAck.Status())
	}
	if hRej.Status() != pending.StatusRejected {
		t.Fatalf("expected Rejected, got %v", hRej.Status())
	}

	events := c.drain(t)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Kind != EventResponse || events[0].RequestID != hResp.RequestID {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != EventAck || events[1].RequestID != hAck.RequestID {
		t.Fatalf("unexpected second event: %+v", events[1])
	}
	if events[2].Kind != EventReject || events[2].RequestID != hRej.RequestID {
		t.Fatalf("unexpected third event: %+v", events[2])
	}
}

func TestDispatchIgnoresMalformedFrame(t *testing.T) {
	c := newTestClient()
	c.dispatch([]byte{0xff, 0x00, 0x01})
	if _, ok := c.Next(); ok {
		t.Fatal("expected no event from a malformed frame")
	}
}

func TestEmitFailuresMapsPriorStatusToEventKind(t *testing.T) {
	c := newTestClient()
	c.emitFailures([]pending.FailedEntry{
		{RequestID: 1, PriorStatus: pending.StatusSending},
		{RequestID: 2, PriorStatus: pending.StatusSent},
	})

	events := c.drain(t)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventSendFailed || events[0].RequestID != 1 {
		t.Fatalf("expected SendFailed for Sending entry, got %+v", events[0])
	}
	if events[1].Kind != EventResponseLost || events[1].RequestID != 2 {
		t.Fatalf("expected ResponseLost for Sent entry, got %+v", events[1])
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c := newTestClient()
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if !c.IsClosed() {
		t.Fatal("expected IsClosed to be true after Close")
	}
}

func TestFinishEmitsFailuresThenIsDead(t *testing.T) {
	c := newTestClient()
	c.connected.Store(true)
	h, _ := c.tracker.ReserveAndAdd(c.connected.Load)
	c.tracker.MarkSent(h.RequestID)

	c.finish()

	events := c.drain(t)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != EventResponseLost || events[0].RequestID != h.RequestID {
		t.Fatalf("expected ResponseLost for the in-flight request, got %+v", events[0])
	}
	if events[1].Kind != EventIsDead {
		t.Fatalf("expected IsDead last, got %+v", events[1])
	}
	if !c.IsDead() {
		t.Fatal("expected IsDead() to report true")
	}
}
