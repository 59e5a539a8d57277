package simplenetclient

import "time"

// Config tunes one client's connection policy. A Config is normally produced
// by DefaultConfig and then adjusted, not built from a zero value.
type Config struct {
	// EnvType is reported to the server's prevalidator as the `t` query
	// parameter; "native" uses WebSocket control-frame pings, "wasm" uses
	// the text-sentinel heartbeat instead.
	EnvType string
	// ProtocolVersion is reported as the `v` query parameter. A
	// ClientFactory overrides this with its bound version.
	ProtocolVersion string

	HeartbeatInterval time.Duration
	KeepaliveTimeout  time.Duration
	MaxMsgSize        int

	// ReconnectInterval is the delay between connect attempts, both during
	// the initial connect phase and during reconnects.
	ReconnectInterval time.Duration
	// MaxInitialConnectAttempts bounds the first connect phase; 0 means
	// unlimited.
	MaxInitialConnectAttempts int
	// MaxReconnectAttempts bounds each post-disconnect reconnect phase,
	// counted separately from the initial phase; 0 means unlimited.
	MaxReconnectAttempts int

	// DialTimeout bounds a single connect attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns production-sensible defaults bound to protocolVersion.
func DefaultConfig(protocolVersion string) Config {
	return Config{
		EnvType:                   "native",
		ProtocolVersion:           protocolVersion,
		HeartbeatInterval:         30 * time.Second,
		KeepaliveTimeout:          10 * time.Second,
		MaxMsgSize:                1 << 20,
		ReconnectInterval:         time.Second,
		MaxInitialConnectAttempts: 5,
		MaxReconnectAttempts:      10,
		DialTimeout:               10 * time.Second,
	}
}
