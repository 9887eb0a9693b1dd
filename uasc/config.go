// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/rsa"
	"time"

	"github.com/imatic-tech/opcua/ua"
)

// Config carries everything a SecureChannel needs to open and maintain
// itself: the negotiated security policy/mode, the local identity used
// to sign and decrypt, and the transport-level connection limits. It is
// built by the functional options in the root package (opcua.Option)
// and passed down by pointer; after endpoint selection the orchestrator
// overwrites SecurityMode, SecurityPolicyURI and ServerCertificate with
// the selected endpoint's values.
type Config struct {
	Certificate []byte
	PrivateKey  *rsa.PrivateKey

	// UserTokenKey signs the server nonce when SessionConfig's identity
	// token is an X509IdentityToken; it is the private key matching
	// that token's certificate, distinct from the channel's own
	// Certificate/PrivateKey.
	UserTokenKey *rsa.PrivateKey

	SecurityMode      ua.MessageSecurityMode
	SecurityPolicyURI string

	// ServerCertificate is the certificate advertised by the endpoint
	// the channel is opened against; required for any policy other
	// than #None.
	ServerCertificate []byte

	// Endpoint, when non-nil, is a previously-selected endpoint
	// description that skips endpoint discovery entirely (spec.md §4.5
	// step 9's "unconfigured" sentinel: an explicit nil-checked field
	// rather than zero-byte detection on a struct value). UserTokenPolicy
	// must be set alongside it.
	Endpoint        *ua.EndpointDescription
	UserTokenPolicy *ua.UserTokenPolicy

	// RequestedLifetime is the channel lifetime requested in
	// OpenSecureChannelRequest (spec.md §4.3).
	RequestedLifetime time.Duration

	// Timeout bounds every individual blocking wait: HEL/ACK, the OPN
	// response, and each CreateSession/ActivateSession round trip
	// (spec.md §4.2-§4.6).
	Timeout time.Duration

	Local ua.ConnectionConfig
}

// SessionConfig carries the identity a session is activated with, plus
// the metadata sent in CreateSessionRequest.
type SessionConfig struct {
	ClientDescription *ua.ClientDescription
	SessionName       string
	SessionTimeout    time.Duration
	LocaleIDs         []string

	// UserIdentityToken is one of *ua.AnonymousIdentityToken,
	// *ua.UserNameIdentityToken, *ua.X509IdentityToken or
	// *ua.IssuedIdentityToken. When nil, the orchestrator fills in an
	// anonymous token using the first endpoint-advertised anonymous
	// policy (spec.md §4.4 glossary, "default anonymous policy").
	UserIdentityToken interface{}

	// AuthPolicyID, when set, pins the UserIdentityToken's PolicyID
	// instead of letting the orchestrator pick the first match.
	AuthPolicyID string
}
