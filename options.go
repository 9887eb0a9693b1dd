// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"crypto/rsa"
	"time"

	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uasc"
)

// Option configures a Client's secure-channel and session config. This
// is the same functional-options shape the reference client uses:
// NewClient(endpointURL, opts...) applies each Option to a pair of
// freshly defaulted configs in order.
type Option func(*uasc.Config, *uasc.SessionConfig)

// DefaultClientConfig returns the secure-channel config a Client starts
// from before Options are applied.
func DefaultClientConfig() *uasc.Config {
	return &uasc.Config{
		SecurityMode:      ua.MessageSecurityModeInvalid,
		SecurityPolicyURI: "",
		RequestedLifetime: 60 * time.Minute,
		Timeout:           10 * time.Second,
		Local: ua.ConnectionConfig{
			RecvBufferSize: 0x10000,
			SendBufferSize: 0x10000,
		},
	}
}

// DefaultSessionConfig returns the session config a Client starts from
// before Options are applied.
func DefaultSessionConfig() *uasc.SessionConfig {
	return &uasc.SessionConfig{
		ClientDescription: &ua.ClientDescription{
			ApplicationURI:  "urn:imatic-tech:opcua:client",
			ProductURI:      "urn:imatic-tech:opcua",
			ApplicationName: "imatic-tech opcua client",
		},
		SessionName:    "imatic-tech-opcua",
		SessionTimeout: 20 * time.Minute,
		LocaleIDs:      []string{"en"},
	}
}

// SecurityModeOption restricts endpoint selection to the given mode and
// binds the channel to it once an endpoint is chosen.
func SecurityModeOption(mode ua.MessageSecurityMode) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.SecurityMode = mode
	}
}

// SecurityPolicyOption restricts endpoint selection to the given policy
// URI (short names such as "Basic256Sha256" are accepted).
func SecurityPolicyOption(uri string) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.SecurityPolicyURI = ua.FormatSecurityPolicyURI(uri)
	}
}

// Certificate sets the client's own certificate/private key pair, used
// for asymmetric signing and as the ClientCertificate in
// CreateSessionRequest.
func Certificate(cert []byte, key *rsa.PrivateKey) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.Certificate = cert
		c.PrivateKey = key
	}
}

// Timeout bounds every blocking wait the connect/disconnect sequence
// performs (spec.md §4.2-§4.6).
func Timeout(d time.Duration) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.Timeout = d
	}
}

// RequestedLifetime sets the secure channel lifetime requested in
// OpenSecureChannelRequest.
func RequestedLifetime(d time.Duration) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.RequestedLifetime = d
	}
}

// SessionTimeout sets the RequestedSessionTimeout sent in
// CreateSessionRequest.
func SessionTimeout(d time.Duration) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.SessionTimeout = d
	}
}

// SessionName overrides the default session name.
func SessionName(name string) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.SessionName = name
	}
}

// ApplicationURI overrides the ClientDescription's ApplicationURI.
func ApplicationURI(uri string) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.ClientDescription.ApplicationURI = uri
	}
}

// AuthAnonymous selects anonymous authentication (the default).
func AuthAnonymous() Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.UserIdentityToken = &ua.AnonymousIdentityToken{}
	}
}

// AuthUsername selects username/password authentication.
func AuthUsername(user, password string) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.UserIdentityToken = &ua.UserNameIdentityToken{UserName: user, Password: []byte(password)}
	}
}

// AuthCertificate selects X.509 certificate authentication. priv signs
// the server nonce during ActivateSession.
func AuthCertificate(cert []byte, priv *rsa.PrivateKey) Option {
	return func(c *uasc.Config, s *uasc.SessionConfig) {
		s.UserIdentityToken = &ua.X509IdentityToken{CertificateData: cert}
		c.UserTokenKey = priv
	}
}

// AuthIssuedToken selects WS-SecurityToken/SAML-style authentication.
func AuthIssuedToken(data []byte) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.UserIdentityToken = &ua.IssuedIdentityToken{TokenData: data}
	}
}

// AuthPolicyID pins the UserTokenPolicy used during ActivateSession
// instead of letting the orchestrator pick the first type match.
func AuthPolicyID(id string) Option {
	return func(_ *uasc.Config, s *uasc.SessionConfig) {
		s.AuthPolicyID = id
	}
}

// WithEndpoint supplies a previously-selected endpoint description and
// its matching UserTokenPolicy (typically obtained from an earlier
// GetEndpoints/EndpointSelector call and cached by the caller), so
// Connect skips endpoint discovery (spec.md §4.5 step 9) and opens the
// secure channel directly against this endpoint's security policy.
func WithEndpoint(ep *ua.EndpointDescription, tokenPolicy *ua.UserTokenPolicy) Option {
	return func(c *uasc.Config, _ *uasc.SessionConfig) {
		c.Endpoint = ep
		c.UserTokenPolicy = tokenPolicy
		c.SecurityMode = ep.SecurityMode
		c.SecurityPolicyURI = ep.SecurityPolicyURI
		c.ServerCertificate = ep.ServerCertificate
	}
}
