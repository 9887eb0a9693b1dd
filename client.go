// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package opcua implements the connection-establishment and teardown
// core of an OPC UA client: the HEL/ACK and OpenSecureChannel
// handshakes (package uasc/uacp), endpoint and user-token-policy
// selection, CreateSession/ActivateSession, the client lifecycle state
// machine, and a single orchestrated connect/disconnect sequence tying
// them together.
package opcua

import (
	"context"
	"crypto/rand"
	"sync"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
	"github.com/imatic-tech/opcua/uasc"
)

// Client is an OPC UA client's connection-establishment core: one TCP
// connection, one secure channel, and at most one active session at a
// time. Subscription management, the asynchronous service dispatcher
// for post-connect service calls, and session/subscription recovery
// across a dropped channel are out of scope (spec.md Non-goals); see
// DESIGN.md for what was trimmed from the reference client and why.
type Client struct {
	endpointURL string
	cfg         *uasc.Config
	sessionCfg  *uasc.SessionConfig

	mu          sync.Mutex
	sm          stateMachine
	conn        *uacp.Conn
	sechan      *uasc.SecureChannel
	endpoint    *ua.EndpointDescription
	tokenPolicy *ua.UserTokenPolicy

	sessionID   *ua.NodeID
	authToken   *ua.NodeID
	serverNonce []byte
}

// NewClient builds a Client for endpointURL. Options configure the
// secure channel and session; unset fields fall back to
// DefaultClientConfig/DefaultSessionConfig.
func NewClient(endpointURL string, opts ...Option) *Client {
	cfg := DefaultClientConfig()
	sessionCfg := DefaultSessionConfig()
	for _, opt := range opts {
		opt(cfg, sessionCfg)
	}
	return &Client{
		endpointURL: endpointURL,
		cfg:         cfg,
		sessionCfg:  sessionCfg,
	}
}

// OnStateChange registers the handler invoked each time the Client's
// ClientState changes (spec.md §4.1). It must be called before Connect.
func (c *Client) OnStateChange(h StateChangeHandler) {
	c.sm.onChange = h
}

// State returns the Client's current lifecycle state.
func (c *Client) State() ClientState {
	return c.sm.State()
}

// Connect runs the full connect sequence: TCP + SecureChannel,
// endpoint selection (reconnecting once if the selected endpoint
// requires a different security policy than the one the channel was
// opened with), then CreateSession + ActivateSession (spec.md
// §4.5-§4.6).
func (c *Client) Connect(ctx context.Context) error {
	return c.connect(ctx, true)
}

// ConnectNoSession runs TCP + SecureChannel + endpoint selection but
// does not create a session, mirroring the reference implementation's
// connect_noSession.
func (c *Client) ConnectNoSession(ctx context.Context) error {
	return c.connect(ctx, false)
}

// ConnectUsername is a convenience wrapper around Connect that
// authenticates with a username and password, mirroring the reference
// implementation's connect_username.
func ConnectUsername(ctx context.Context, endpointURL, user, password string, opts ...Option) (*Client, error) {
	opts = append(opts, AuthUsername(user, password))
	c := NewClient(endpointURL, opts...)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Close tears the Client down to Disconnected: best-effort CloseSession
// if a session is active, best-effort CloseSecureChannel, then closes
// the TCP connection (spec.md §4.7).
func (c *Client) Close(ctx context.Context) error {
	c.disconnect(ctx)
	return nil
}

// GetEndpoints fetches the server's endpoint descriptions over the
// currently open secure channel (spec.md §4.4).
func (c *Client) GetEndpoints(ctx context.Context) (*ua.GetEndpointsResponse, error) {
	if c.sechan == nil {
		return nil, ua.StatusBadServerNotConnected
	}
	req := &ua.GetEndpointsRequest{
		RequestHeader: c.sechan.NewRequestHeader(nil),
		EndpointURL:   c.endpointURL,
	}
	resp, err := c.sechan.SendRequest(req)
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*ua.GetEndpointsResponse)
	if !ok {
		return nil, ua.StatusBadUnknownResponse
	}
	return r, nil
}

// CreateSession sends CreateSessionRequest over the open secure channel
// and verifies the server's session signature (spec.md §4.6).
func (c *Client) CreateSession(ctx context.Context) error {
	if c.sechan == nil {
		return ua.StatusBadServerNotConnected
	}
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return errors.Wrap(err, "opcua: generating session nonce")
	}

	req := &ua.CreateSessionRequest{
		RequestHeader:           c.sechan.NewRequestHeader(nil),
		ClientDescription:       c.sessionCfg.ClientDescription,
		EndpointURL:             c.endpointURL,
		SessionName:             c.sessionCfg.SessionName,
		ClientNonce:             nonce,
		ClientCertificate:       c.cfg.Certificate,
		RequestedSessionTimeout: float64(c.sessionCfg.SessionTimeout.Milliseconds()),
	}
	resp, err := c.sechan.SendRequest(req)
	if err != nil {
		return err
	}
	r, ok := resp.(*ua.CreateSessionResponse)
	if !ok {
		if fault, ok := resp.(*ua.ServiceFault); ok {
			return fault.ResponseHeader.ServiceResult
		}
		return ua.StatusBadUnknownResponse
	}
	if r.ResponseHeader.ServiceResult.IsBad() {
		return r.ResponseHeader.ServiceResult
	}

	policy, err := uasc.NewSecurityPolicy(c.cfg.SecurityPolicyURI, c.cfg.Certificate)
	if err != nil {
		return err
	}
	if err := uasc.VerifySessionSignature(policy, c.endpoint.ServerCertificate, c.cfg.Certificate, nonce, r.ServerSignature); err != nil {
		return errors.Wrap(err, "opcua: verifying session signature")
	}

	if c.sessionCfg.UserIdentityToken == nil {
		c.sessionCfg.UserIdentityToken = &ua.AnonymousIdentityToken{PolicyID: AnonymousPolicyID(r.ServerEndpoints)}
	}

	c.sessionID = r.SessionID
	c.authToken = r.AuthenticationToken
	c.serverNonce = r.ServerNonce
	debug.Printf("opcua: session %s created", c.sessionID)
	return nil
}

// ActivateSession sends ActivateSessionRequest, proving the client's
// identity (and, under any security policy other than None, possession
// of the client certificate's private key) and
// associating the session with the current secure channel (spec.md
// §4.6).
func (c *Client) ActivateSession(ctx context.Context) error {
	if c.sechan == nil || c.authToken == nil {
		return ua.StatusBadSessionIDInvalid
	}

	policy, err := uasc.NewSecurityPolicy(c.cfg.SecurityPolicyURI, c.cfg.Certificate)
	if err != nil {
		return err
	}
	clientSig, err := uasc.NewSessionSignature(policy, c.cfg.PrivateKey, c.endpoint.ServerCertificate, c.serverNonce)
	if err != nil {
		return err
	}

	tokenPolicy := c.tokenPolicy
	if tokenPolicy == nil {
		return ua.StatusBadIdentityTokenInvalid
	}

	var tokenSig *ua.SignatureData
	identity := c.sessionCfg.UserIdentityToken
	switch t := identity.(type) {
	case *ua.AnonymousIdentityToken:
		t.PolicyID = tokenPolicy.PolicyID
	case *ua.UserNameIdentityToken:
		t.PolicyID = tokenPolicy.PolicyID
		pw, err := uasc.EncryptUserPassword(policy, c.endpoint.ServerCertificate, string(t.Password), c.serverNonce)
		if err != nil {
			return err
		}
		t.Password = pw
		t.EncryptionAlgorithm = policy.URI()
	case *ua.X509IdentityToken:
		t.PolicyID = tokenPolicy.PolicyID
		tokenSig, err = uasc.NewUserTokenSignature(policy, c.cfg.UserTokenKey, c.endpoint.ServerCertificate, c.serverNonce)
		if err != nil {
			return err
		}
	case *ua.IssuedIdentityToken:
		t.PolicyID = tokenPolicy.PolicyID
		t.EncryptionAlgorithm = policy.URI()
	default:
		return errors.Errorf("opcua: unsupported identity token type %T", identity)
	}

	req := &ua.ActivateSessionRequest{
		RequestHeader:      c.sechan.NewRequestHeader(c.authToken),
		ClientSignature:    clientSig,
		LocaleIDs:          c.sessionCfg.LocaleIDs,
		UserIdentityToken:  ua.NewExtensionObject(identity),
		UserTokenSignature: tokenSig,
	}
	resp, err := c.sechan.SendRequest(req)
	if err != nil {
		return err
	}
	r, ok := resp.(*ua.ActivateSessionResponse)
	if !ok {
		if fault, ok := resp.(*ua.ServiceFault); ok {
			return fault.ResponseHeader.ServiceResult
		}
		return ua.StatusBadUnknownResponse
	}
	if r.ResponseHeader.ServiceResult.IsBad() {
		return r.ResponseHeader.ServiceResult
	}
	c.serverNonce = r.ServerNonce
	debug.Printf("opcua: session %s activated", c.sessionID)
	return nil
}

// CloseSession sends CloseSessionRequest with DeleteSubscriptions=true
// and detaches the session. Detach happens regardless of whether the
// server's response succeeds (spec.md §4.7).
func (c *Client) CloseSession(ctx context.Context) error {
	if c.authToken == nil {
		return nil
	}
	req := &ua.CloseSessionRequest{
		RequestHeader:       c.sechan.NewRequestHeader(c.authToken),
		DeleteSubscriptions: true,
	}
	_, err := c.sechan.SendRequest(req)
	c.DetachSession()
	return err
}

// DetachSession clears the session identifiers without notifying the
// server, for callers that want to abandon a session across a channel
// they know is already gone.
func (c *Client) DetachSession() {
	c.sessionID = nil
	c.authToken = nil
	c.serverNonce = nil
}

// Node parses a NodeID from its compact string form.
func (c *Client) Node(id string) (*ua.NodeID, error) {
	return ua.ParseNodeID(id)
}
