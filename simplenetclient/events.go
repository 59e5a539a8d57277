package simplenetclient

import "fmt"

// EventKind discriminates the events a Client emits on its event queue.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventClosedBySelf
	EventClosedByServer
	EventIsDead
	EventMsg
	EventResponse
	EventAck
	EventReject
	EventSendFailed
	EventResponseLost
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "Connected"
	case EventDisconnected:
		return "Disconnected"
	case EventClosedBySelf:
		return "ClosedBySelf"
	case EventClosedByServer:
		return "ClosedByServer"
	case EventIsDead:
		return "IsDead"
	case EventMsg:
		return "Msg"
	case EventResponse:
		return "Response"
	case EventAck:
		return "Ack"
	case EventReject:
		return "Reject"
	case EventSendFailed:
		return "SendFailed"
	case EventResponseLost:
		return "ResponseLost"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ClientEvent is one item from a Client's event queue. RequestID is
// meaningful only for Response/Ack/Reject/SendFailed/ResponseLost; Payload
// is set for Msg and Response.
type ClientEvent struct {
	Kind      EventKind
	Payload   []byte
	RequestID uint64
}
