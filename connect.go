// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"context"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
	"github.com/imatic-tech/opcua/uasc"
)

// connect runs the orchestrated sequence of spec.md §4.5-§4.7: open a
// secure channel, select the endpoint the caller's config points at
// (reconnecting once, over the right security policy, if the unsecured
// discovery channel and the selected endpoint disagree), then
// optionally establish a session. Any failure along the way rolls the
// whole sequence back via disconnect, so Connect never leaves a Client
// half-open.
func (c *Client) connect(ctx context.Context, withSession bool) (err error) {
	defer func() {
		if err != nil {
			c.disconnect(ctx)
		}
	}()

	if err = c.connectTCPSecureChannel(ctx); err != nil {
		return err
	}
	if err = c.selectEndpointAndMaybeReconnect(ctx); err != nil {
		return err
	}
	if withSession {
		if err = c.connectSession(ctx); err != nil {
			return err
		}
	}
	return nil
}

// connectTCPSecureChannel implements spec.md §4.5 phase A: dial the
// transport, open a secure channel against whatever security policy
// the config currently names (None, until endpoint selection picks a
// real one), and lift the client state in step with each success.
func (c *Client) connectTCPSecureChannel(ctx context.Context) error {
	c.sm.setState(StateWaitingForAck)

	conn, err := uacp.Dial(ctx, c.endpointURL, c.cfg.Timeout)
	if err != nil {
		return err
	}
	c.conn = conn
	c.sm.setState(StateConnected)

	sechan, err := uasc.NewSecureChannel(c.endpointURL, conn, c.cfg)
	if err != nil {
		return err
	}
	if err := sechan.Open(); err != nil {
		return err
	}
	c.sechan = sechan
	c.sm.setState(StateSecureChannel)
	debug.Printf("opcua: secure channel established to %s", c.endpointURL)
	return nil
}

// selectEndpointAndMaybeReconnect implements spec.md §4.4 and the
// second half of §4.5: invoked only when the client config carries the
// "unconfigured" sentinel (cfg.Endpoint is nil), it fetches endpoints
// and runs the joint endpoint/user-token-policy filter; otherwise it
// adopts the caller's pre-selected endpoint (opcua.WithEndpoint) as-is.
// If the winning endpoint's security policy or mode differs from what
// the current channel was opened with, the channel is torn down and
// connectTCPSecureChannel recurses once, bound to the real policy. A
// correctly configured client converges after exactly one such
// recursion, since the second attempt is already opened against the
// selected endpoint's own policy.
func (c *Client) selectEndpointAndMaybeReconnect(ctx context.Context) error {
	endpoint, tokenPolicy := c.cfg.Endpoint, c.cfg.UserTokenPolicy
	if endpoint == nil {
		resp, err := c.GetEndpoints(ctx)
		if err != nil {
			return err
		}

		selector := EndpointSelector{
			SecurityMode:      c.cfg.SecurityMode,
			SecurityPolicyURI: c.cfg.SecurityPolicyURI,
			UserTokenType:     userTokenType(c.sessionCfg.UserIdentityToken),
			AuthPolicyID:      c.sessionCfg.AuthPolicyID,
		}
		endpoint, tokenPolicy, err = selector.SelectEndpoint(resp.Endpoints)
		if err != nil {
			return err
		}
	}

	c.tokenPolicy = tokenPolicy

	policyChanged := endpoint.SecurityPolicyURI != c.sechan.BoundPolicyURI() ||
		(c.cfg.SecurityMode != ua.MessageSecurityModeInvalid && endpoint.SecurityMode != c.cfg.SecurityMode)

	c.endpoint = endpoint
	c.cfg.SecurityMode = endpoint.SecurityMode
	c.cfg.SecurityPolicyURI = endpoint.SecurityPolicyURI
	c.cfg.ServerCertificate = endpoint.ServerCertificate

	if !policyChanged {
		return nil
	}

	debug.Printf("opcua: selected endpoint requires policy %s (mode %v); reconnecting",
		endpoint.SecurityPolicyURI, endpoint.SecurityMode)

	if c.sechan != nil {
		c.sechan.Close()
		c.sechan = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.sm.setState(StateWaitingForAck)
	return c.connectTCPSecureChannel(ctx)
}

// connectSession implements spec.md §4.6: CreateSession followed by
// ActivateSession, both synchronous round trips bounded by
// cfg.Timeout. Go's blocking I/O with a read deadline stands in for the
// reference implementation's bounded pump loop (spec.md §5's
// single-threaded cooperative model already describes these as plain
// suspension points).
func (c *Client) connectSession(ctx context.Context) error {
	if err := c.CreateSession(ctx); err != nil {
		return err
	}
	c.sm.setState(StateSessionRenewed)
	if err := c.ActivateSession(ctx); err != nil {
		return err
	}
	c.sm.setState(StateSession)
	return nil
}

// disconnect implements spec.md §4.7's teardown order: demote the
// state before each step so an observer never sees a state that is
// stale relative to what has actually been torn down, close the
// session best-effort, close the secure channel best-effort, close the
// transport, and only then settle on Disconnected.
func (c *Client) disconnect(ctx context.Context) {
	if c.sm.State() >= StateSession && c.authToken != nil {
		c.sm.setState(StateSecureChannel)
		if err := c.CloseSession(ctx); err != nil {
			debug.Printf("opcua: CloseSession failed (ignored): %v", err)
		}
	}
	c.DetachSession()

	if c.sechan != nil {
		c.sm.setState(StateConnected)
		c.sechan.Close()
		c.sechan = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.endpoint = nil
	c.tokenPolicy = nil
	c.sm.setState(StateDisconnected)
}
