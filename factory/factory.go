// Package factory binds a fixed protocol version to the clients and servers
// it produces, so every connection carries that version in its upgrade
// query string for prevalidation.
package factory

import (
	"github.com/whisper/simplenet/auth"
	"github.com/whisper/simplenet/simplenetclient"
	"github.com/whisper/simplenet/simplenetserver"
)

// ServerFactory produces servers that all report the same protocol version
// during prevalidation.
type ServerFactory struct {
	ProtocolVersion string
}

// NewServerFactory returns a ServerFactory bound to protocolVersion.
func NewServerFactory(protocolVersion string) ServerFactory {
	return ServerFactory{ProtocolVersion: protocolVersion}
}

// NewServer builds a Server using cfg, overriding cfg.ProtocolVersion with
// the factory's bound version.
func (f ServerFactory) NewServer(cfg simplenetserver.Config) (*simplenetserver.Server, error) {
	cfg.ProtocolVersion = f.ProtocolVersion
	return simplenetserver.New(cfg)
}

// ClientFactory produces clients that all report the same protocol version
// during prevalidation.
type ClientFactory struct {
	ProtocolVersion string
}

// NewClientFactory returns a ClientFactory bound to protocolVersion.
func NewClientFactory(protocolVersion string) ClientFactory {
	return ClientFactory{ProtocolVersion: protocolVersion}
}

// NewClient dials url with cfg, overriding cfg.ProtocolVersion with the
// factory's bound version.
func (f ClientFactory) NewClient(url string, clientID auth.ClientID, authReq auth.Request, connectMsg []byte, cfg simplenetclient.Config) *simplenetclient.Client {
	cfg.ProtocolVersion = f.ProtocolVersion
	return simplenetclient.New(url, clientID, authReq, connectMsg, cfg)
}
