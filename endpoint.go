// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua

import (
	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uasc"
)

// EndpointSelector implements the joint endpoint/user-token-policy
// selection of spec.md §4.4: walk GetEndpointsResponse.Endpoints in
// order and, for the first endpoint passing the endpoint-level filter,
// try its user-identity-token list in order. An endpoint whose token
// list has no acceptable entry is skipped in favor of the next
// endpoint rather than failing outright (the reference selectEndpoint
// only breaks its outer loop once a token policy is actually found).
type EndpointSelector struct {
	// SecurityMode, when not MessageSecurityModeInvalid, restricts the
	// match to endpoints advertising exactly this mode.
	SecurityMode ua.MessageSecurityMode
	// SecurityPolicyURI, when non-empty, restricts the match to
	// endpoints advertising exactly this policy (short names such as
	// "Basic256Sha256" are expanded via ua.FormatSecurityPolicyURI).
	SecurityPolicyURI string
	// UserTokenType is the identity token variant the session will be
	// activated with; UserTokenTypeAnonymous matches an unset identity.
	UserTokenType ua.UserTokenType
	// AuthPolicyID, when set, pins the chosen UserTokenPolicy by
	// PolicyID instead of matching on UserTokenType.
	AuthPolicyID string
}

// SelectEndpoint returns the first (endpoint, user-token-policy) pair
// satisfying every constraint in spec.md §4.4, or an error distinguishing
// "no suitable endpoint found" from "no suitable UserTokenPolicy found
// for the possible endpoints".
func (s EndpointSelector) SelectEndpoint(endpoints []*ua.EndpointDescription) (*ua.EndpointDescription, *ua.UserTokenPolicy, error) {
	wantPolicy := ua.FormatSecurityPolicyURI(s.SecurityPolicyURI)
	endpointFound := false

	for _, e := range endpoints {
		// Siemens returns an empty transportProfileUri; accept it as binary.
		if e.TransportProfileURI != "" && e.TransportProfileURI != ua.TransportProfileURIBinary {
			continue
		}
		if e.SecurityMode < ua.MessageSecurityModeNone || e.SecurityMode > ua.MessageSecurityModeSignAndEncrypt {
			continue
		}
		if s.SecurityMode != ua.MessageSecurityModeInvalid && e.SecurityMode != s.SecurityMode {
			continue
		}
		if wantPolicy != "" && e.SecurityPolicyURI != wantPolicy {
			continue
		}
		if _, err := uasc.NewSecurityPolicy(e.SecurityPolicyURI, nil); err != nil {
			debug.Printf("opcua: rejecting endpoint %q: security policy %q not available", e.EndpointURL, e.SecurityPolicyURI)
			continue
		}
		endpointFound = true

		tokenPolicy, err := SelectUserTokenPolicy(e, s.UserTokenType, s.AuthPolicyID)
		if err != nil {
			debug.Printf("opcua: endpoint %q has no acceptable UserTokenPolicy, trying next endpoint", e.EndpointURL)
			continue
		}
		return e, tokenPolicy, nil
	}

	if !endpointFound {
		debug.Printf("opcua: no suitable endpoint found for mode=%v policy=%q among %d endpoints",
			s.SecurityMode, s.SecurityPolicyURI, len(endpoints))
		return nil, nil, errors.Errorf("opcua: no suitable endpoint found")
	}
	return nil, nil, errors.Errorf("opcua: no suitable UserTokenPolicy found for the possible endpoints")
}

// SelectUserTokenPolicy picks the UserTokenPolicy a session will
// authenticate with, spec.md §4.4's token-policy filter: a token policy
// is rejected if it names a security policy the client cannot
// implement, its TokenType is invalid (> IssuedToken), or its
// TokenType does not match the configured identity variant. An
// explicit policyID pins the choice regardless of type.
func SelectUserTokenPolicy(e *ua.EndpointDescription, tokenType ua.UserTokenType, policyID string) (*ua.UserTokenPolicy, error) {
	if policyID != "" {
		for _, t := range e.UserIdentityTokens {
			if t.PolicyID == policyID {
				return t, nil
			}
		}
	}
	for _, t := range e.UserIdentityTokens {
		if t.SecurityPolicyURI != "" {
			if _, err := uasc.NewSecurityPolicy(t.SecurityPolicyURI, nil); err != nil {
				continue
			}
		}
		if t.TokenType > ua.UserTokenTypeIssuedToken {
			continue // unrecognized/invalid token type
		}
		if t.TokenType != tokenType {
			continue
		}
		return t, nil
	}
	debug.Printf("opcua: no suitable UserTokenPolicy found for type %v on endpoint %q", tokenType, e.EndpointURL)
	return nil, errors.Errorf("opcua: no suitable UserTokenPolicy found for the possible endpoints")
}

// AnonymousPolicyID returns the PolicyID of the first anonymous
// UserTokenPolicy advertised across endpoints, used to default an
// unset SessionConfig.UserIdentityToken to anonymous auth. Grounded on
// the reference client's defaultAnonymousPolicyID fallback.
func AnonymousPolicyID(endpoints []*ua.EndpointDescription) string {
	for _, e := range endpoints {
		for _, t := range e.UserIdentityTokens {
			if t.TokenType == ua.UserTokenTypeAnonymous {
				return t.PolicyID
			}
		}
	}
	return "Anonymous"
}

// userTokenType maps a SessionConfig.UserIdentityToken value to the
// UserTokenType EndpointSelector matches against; an unset (nil)
// identity is treated as Anonymous (spec.md §8: "Anonymous or unset").
func userTokenType(identity interface{}) ua.UserTokenType {
	switch identity.(type) {
	case *ua.UserNameIdentityToken:
		return ua.UserTokenTypeUserName
	case *ua.X509IdentityToken:
		return ua.UserTokenTypeCertificate
	case *ua.IssuedIdentityToken:
		return ua.UserTokenTypeIssuedToken
	default:
		return ua.UserTokenTypeAnonymous
	}
}
