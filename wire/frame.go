// Package wire defines the tagged frame (Msg, Request, Response, Ack, Reject)
// that flows over every
// simplenet WebSocket connection and the compact binary codec used to
// encode it. Application payloads are opaque byte strings to this package;
// serializing them is the host's responsibility via a pluggable PayloadCodec.
package wire

import "fmt"

// Kind discriminates the wire frame variants.
type Kind uint8

const (
	// KindMsg is fire-and-forget, valid in either direction.
	KindMsg Kind = iota + 1
	// KindRequest is client -> server only.
	KindRequest
	// KindResponse is server -> client only.
	KindResponse
	// KindAck is server -> client only; terminal positive outcome, no payload.
	KindAck
	// KindReject is server -> client only; terminal negative outcome, no payload.
	KindReject
)

func (k Kind) String() string {
	switch k {
	case KindMsg:
		return "Msg"
	case KindRequest:
		return "Request"
	case KindResponse:
		return "Response"
	case KindAck:
		return "Ack"
	case KindReject:
		return "Reject"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Frame is the decoded form of one wire message. RequestID is meaningful
// only for Request/Response/Ack/Reject; Payload is nil for Ack/Reject.
type Frame struct {
	Kind      Kind
	RequestID uint64
	Payload   []byte
}

// Msg builds a fire-and-forget frame.
func Msg(payload []byte) Frame { return Frame{Kind: KindMsg, Payload: payload} }

// Request builds a client request frame.
func Request(payload []byte, requestID uint64) Frame {
	return Frame{Kind: KindRequest, RequestID: requestID, Payload: payload}
}

// Response builds a server response frame.
func Response(payload []byte, requestID uint64) Frame {
	return Frame{Kind: KindResponse, RequestID: requestID, Payload: payload}
}

// Ack builds a server acknowledgement frame.
func Ack(requestID uint64) Frame { return Frame{Kind: KindAck, RequestID: requestID} }

// Reject builds a server rejection frame.
func Reject(requestID uint64) Frame { return Frame{Kind: KindReject, RequestID: requestID} }

// ValidKind reports whether k is one of the five defined frame kinds.
func ValidKind(k Kind) bool {
	return k >= KindMsg && k <= KindReject
}
