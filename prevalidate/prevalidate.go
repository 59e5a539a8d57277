// Package prevalidate implements the upgrade admission pipeline: the checks
// a connection request must pass, in order, before a WebSocket session is
// established (protocol version, declared environment, capacity, auth).
package prevalidate

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/whisper/simplenet/auth"
)

// EnvType is the client-declared runtime environment, carried in the `t`
// query parameter. WASM clients use text-frame heartbeat sentinels instead
// of native WebSocket control-frame pings.
type EnvType string

const (
	EnvNative EnvType = "native"
	EnvWasm   EnvType = "wasm"
)

// RejectReason enumerates why an upgrade was refused.
type RejectReason int

const (
	RejectVersionMismatch RejectReason = iota
	RejectUnknownEnv
	RejectOverCapacity
	RejectAuthFailed
)

// HTTPStatus maps a RejectReason to the status code returned to the client.
func (r RejectReason) HTTPStatus() int {
	switch r {
	case RejectVersionMismatch:
		return http.StatusBadRequest
	case RejectUnknownEnv:
		return http.StatusBadRequest
	case RejectOverCapacity:
		return http.StatusServiceUnavailable
	case RejectAuthFailed:
		return http.StatusUnauthorized
	default:
		return http.StatusBadRequest
	}
}

func (r RejectReason) String() string {
	switch r {
	case RejectVersionMismatch:
		return "version mismatch"
	case RejectUnknownEnv:
		return "unknown environment"
	case RejectOverCapacity:
		return "over capacity"
	case RejectAuthFailed:
		return "authentication failed"
	default:
		return "rejected"
	}
}

// Rejection is returned by Validate when admission fails.
type Rejection struct {
	Reason RejectReason
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("prevalidate: %s", r.Reason)
}

// SocketConfig is the negotiated per-connection socket behavior, derived
// from the validator's settings and the client's declared environment.
type SocketConfig struct {
	HeartbeatInterval time.Duration
	KeepaliveTimeout  time.Duration
	TextPing          bool
}

// Params mirrors the four connect-time query parameters: protocol version,
// declared environment, JSON-encoded auth request, JSON-encoded connect
// message.
type Params struct {
	Version     string
	EnvType     string
	AuthJSON    string
	ConnectJSON string
}

// Admission is the result of a successful Validate call.
type Admission struct {
	EnvType    EnvType
	ClientID   auth.ClientID
	ConnectMsg []byte
	Socket     SocketConfig
}

// Validator holds the fixed, per-server admission policy.
type Validator struct {
	ProtocolVersion   string
	MaxConnections    int64
	Authenticator     auth.Authenticator
	HeartbeatInterval time.Duration
	KeepaliveTimeout  time.Duration
	MaxMsgSize        int
}

// Validate runs the admission checks in order: protocol version, declared
// environment, connection capacity, then authentication. The first failing
// check produces the Rejection; currentConnections is read by the caller
// under whatever synchronization its connmeter.Counter provides.
func (v *Validator) Validate(p Params, currentConnections int64) (Admission, error) {
	if p.Version != v.ProtocolVersion {
		return Admission{}, &Rejection{Reason: RejectVersionMismatch}
	}

	env := EnvType(p.EnvType)
	if env != EnvNative && env != EnvWasm {
		return Admission{}, &Rejection{Reason: RejectUnknownEnv}
	}

	if v.MaxConnections > 0 && currentConnections >= v.MaxConnections {
		return Admission{}, &Rejection{Reason: RejectOverCapacity}
	}

	var authReq auth.Request
	if err := json.Unmarshal([]byte(p.AuthJSON), &authReq); err != nil {
		return Admission{}, &Rejection{Reason: RejectAuthFailed}
	}
	if v.Authenticator == nil || !v.Authenticator.Authenticate(authReq) {
		return Admission{}, &Rejection{Reason: RejectAuthFailed}
	}

	return Admission{
		EnvType:    env,
		ClientID:   authReq.ClientID,
		ConnectMsg: []byte(p.ConnectJSON),
		Socket: SocketConfig{
			HeartbeatInterval: v.HeartbeatInterval,
			KeepaliveTimeout:  v.KeepaliveTimeout,
			TextPing:          env == EnvWasm,
		},
	}, nil
}

// ValidateIdentity runs only the version/env/auth checks, skipping capacity.
// Callers that enforce the connection cap via an atomic counter race-checked
// after the socket upgrade (connmeter.Counter.TryAdmit) use this instead of
// Validate, so that a client whose identity checks out always reaches the
// transport-level Connected state before any over-capacity rejection — the
// capacity-check race is resolved post-upgrade, not here.
func (v *Validator) ValidateIdentity(p Params) (Admission, error) {
	return v.Validate(p, 0)
}
