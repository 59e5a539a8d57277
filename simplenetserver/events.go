package simplenetserver

import (
	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/reqtoken"
)

// EventKind discriminates the events a Server emits through Next.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMsg
	EventRequest
)

// Event is one item from the server's event queue, addressed to a session.
type Event struct {
	Kind       EventKind
	SessionID  auth.ClientID
	ConnectMsg []byte         // set for EventConnected
	Payload    []byte         // set for EventMsg and EventRequest
	Token      *reqtoken.Token // set for EventRequest
}
