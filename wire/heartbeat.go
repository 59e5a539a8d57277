package wire

// Heartbeat sentinel text frames, used in place of native WebSocket control
// frames on environments that can't reliably intercept ping/pong (WASM
// clients). Native connections use gobwas/ws control frames instead; these
// constants only matter when prevalidate.SocketConfig.TextPing is set.
const (
	HeartbeatPing = "ping"
	HeartbeatPong = "pong"
)

// IsHeartbeatPing reports whether a text frame is exactly the ping sentinel.
func IsHeartbeatPing(text []byte) bool {
	return string(text) == HeartbeatPing
}

// IsHeartbeatPong reports whether a text frame is exactly the pong sentinel.
func IsHeartbeatPong(text []byte) bool {
	return string(text) == HeartbeatPong
}
