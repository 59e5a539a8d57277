// Package auth defines client identifiers and the pluggable authentication
// pipeline used during connection admission.
package auth

import (
	"crypto/hmac"
	"encoding/hex"
	"fmt"
)

// ClientID is a 128-bit client identifier. Go has no native uint128, so it
// is represented as a fixed 16-byte array, which is comparable and usable
// directly as a map key (session_id == client_id, per the data model).
type ClientID [16]byte

func (c ClientID) String() string {
	return hex.EncodeToString(c[:])
}

// MarshalJSON encodes the id as a lowercase hex string.
func (c ClientID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON decodes a lowercase hex string produced by MarshalJSON.
func (c *ClientID) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("auth: ClientID must be a JSON string")
	}
	raw, err := hex.DecodeString(string(data[1 : len(data)-1]))
	if err != nil {
		return fmt.Errorf("auth: decoding ClientID: %w", err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("auth: ClientID must decode to 16 bytes, got %d", len(raw))
	}
	copy(c[:], raw)
	return nil
}

// Kind discriminates the AuthRequest variants.
type Kind string

const (
	KindNone   Kind = "none"
	KindToken  Kind = "token"
	KindSecret Kind = "secret"
)

// Request is the authentication payload a client presents on connect,
// carried as one of the `a` query-parameter's JSON variants.
type Request struct {
	Kind     Kind     `json:"kind"`
	ClientID ClientID `json:"client_id"`
	Token    []byte   `json:"token,omitempty"`
	Secret   []byte   `json:"secret,omitempty"`
}

// Authenticator validates an AuthRequest during connection admission.
type Authenticator interface {
	Authenticate(req Request) bool
}

// AuthenticatorFunc adapts a plain function to the Authenticator interface.
type AuthenticatorFunc func(req Request) bool

func (f AuthenticatorFunc) Authenticate(req Request) bool { return f(req) }

// AllowAll accepts every request regardless of kind. Intended for
// development and tests, not for production deployments that need real
// admission control.
var AllowAll Authenticator = AuthenticatorFunc(func(Request) bool { return true })

// SharedSecret returns an Authenticator that accepts KindSecret requests
// whose Secret matches secret, compared in constant time.
func SharedSecret(secret []byte) Authenticator {
	return AuthenticatorFunc(func(req Request) bool {
		if req.Kind != KindSecret {
			return false
		}
		return hmac.Equal(req.Secret, secret)
	})
}
