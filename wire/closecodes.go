package wire

import "github.com/gobwas/ws"

// Close codes for the six outcomes named in the external interface: normal
// close, policy violation (rate limit or protocol violation), over
// capacity, authentication failure, version mismatch, and internal error.
// The first three reuse standard WebSocket close codes; the capacity,
// auth, and version codes use the 4000-4999 private-use range since the
// standard registry has no dedicated codes for them. Both client and
// server import these so a close code means the same thing on either end
// of the wire.
const (
	CloseNormal          ws.StatusCode = 1000
	ClosePolicyViolation ws.StatusCode = 1008
	CloseInternalError   ws.StatusCode = 1011
	CloseOverCapacity    ws.StatusCode = 4001
	CloseAuthFailure     ws.StatusCode = 4002
	CloseVersionMismatch ws.StatusCode = 4003
)
