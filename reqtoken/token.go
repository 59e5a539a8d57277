// Package reqtoken implements the server-side one-shot request token: the
// handle a session handler hands to application code for exactly one
// Request frame, which must be consumed by Respond, Ack, or Reject exactly
// once. Dropping it without consuming it sends an implicit Reject.
package reqtoken

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"

	"github.com/whisper/simplenet/auth"
)

// ErrAlreadyConsumed is returned by Respond/Ack/Reject/Release when the
// token has already been consumed.
var ErrAlreadyConsumed = errors.New("reqtoken: already consumed")

// FrameKind is the subset of wire frame kinds a token can send.
type FrameKind int

const (
	KindResponse FrameKind = iota
	KindAck
	KindReject
)

// Destination is a shared liveness flag between a session handler and every
// token it has issued. The handler marks it dead exactly once on
// termination; tokens consult it before attempting to write, so a late
// Respond/Ack/Reject on a dead connection is silently discarded rather than
// erroring into application code.
type Destination struct {
	dead atomic.Bool
}

// MarkDead flips the destination to dead. Safe to call more than once.
func (d *Destination) MarkDead() { d.dead.Store(true) }

// IsDead reports whether the destination has been marked dead.
func (d *Destination) IsDead() bool { return d.dead.Load() }

// Sender is the narrow write capability a session handler supplies to a
// Token, hiding the rest of the handler's internals from application code.
type Sender interface {
	SendFrame(requestID uint64, kind FrameKind, payload []byte) error
}

// Token is a one-shot handle for responding to a single client request.
type Token struct {
	ClientID  auth.ClientID
	RequestID uint64

	dest     *Destination
	sender   Sender
	consumed atomic.Bool
}

// New returns a Token for requestID from clientID, and registers a
// finalizer that rejects the request if the token is garbage collected
// without ever being consumed or explicitly released.
func New(clientID auth.ClientID, requestID uint64, dest *Destination, sender Sender) *Token {
	t := &Token{ClientID: clientID, RequestID: requestID, dest: dest, sender: sender}
	runtime.SetFinalizer(t, func(t *Token) {
		t.release("garbage collected without being consumed")
	})
	return t
}

// DestinationDead reports whether the owning connection is already gone.
func (t *Token) DestinationDead() bool { return t.dest.IsDead() }

// Respond consumes the token by sending a Response frame carrying payload.
func (t *Token) Respond(payload []byte) error {
	return t.consume(func() error { return t.send(KindResponse, payload) })
}

// Ack consumes the token by sending an Ack frame.
func (t *Token) Ack() error {
	return t.consume(func() error { return t.send(KindAck, nil) })
}

// Reject consumes the token by sending a Reject frame.
func (t *Token) Reject() error {
	return t.consume(func() error { return t.send(KindReject, nil) })
}

// Release explicitly drops the token without a positive outcome, sending a
// Reject frame as if the token had been garbage collected unconsumed. Use
// this to reject a request without writing `token.Reject()` at the call
// site, e.g. from a generic cleanup path.
func (t *Token) Release() error {
	return t.release("explicitly released")
}

func (t *Token) consume(fn func() error) error {
	if !t.consumed.CompareAndSwap(false, true) {
		return ErrAlreadyConsumed
	}
	runtime.SetFinalizer(t, nil)
	return fn()
}

func (t *Token) release(cause string) error {
	if !t.consumed.CompareAndSwap(false, true) {
		return ErrAlreadyConsumed
	}
	runtime.SetFinalizer(t, nil)
	if t.dest.IsDead() {
		return nil
	}
	if err := t.send(KindReject, nil); err != nil {
		log.Printf("reqtoken: implicit reject on %s for request %d failed: %v", cause, t.RequestID, err)
		return err
	}
	return nil
}

func (t *Token) send(kind FrameKind, payload []byte) error {
	if t.dest.IsDead() {
		return nil
	}
	if err := t.sender.SendFrame(t.RequestID, kind, payload); err != nil {
		return fmt.Errorf("reqtoken: send frame: %w", err)
	}
	return nil
}
