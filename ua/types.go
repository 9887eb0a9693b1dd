// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"time"

	"github.com/imatic-tech/opcua/id"
)

// MessageSecurityMode is the per-endpoint security mode. Part 4, 7.15.
type MessageSecurityMode uint32

// Security modes. A value outside None..SignAndEncrypt is invalid.
const (
	MessageSecurityModeInvalid        MessageSecurityMode = 0
	MessageSecurityModeNone           MessageSecurityMode = 1
	MessageSecurityModeSign           MessageSecurityMode = 2
	MessageSecurityModeSignAndEncrypt MessageSecurityMode = 3
)

// SecurityPolicyURINone is the URI of the no-op security policy.
const SecurityPolicyURINone = "http://opcfoundation.org/UA/SecurityPolicy#None"

// TransportProfileURIBinary is the only transport profile this core
// accepts (spec.md §4.4).
const TransportProfileURIBinary = "http://opcfoundation.org/UA-Profile/Transport/uatcp-uasc-uabinary"

// FormatSecurityPolicyURI expands a bare policy name (e.g. "Basic256Sha256")
// to its full URI form, and passes already-qualified URIs (or the empty
// string) through unchanged.
func FormatSecurityPolicyURI(s string) string {
	if s == "" || hasScheme(s) {
		return s
	}
	return "http://opcfoundation.org/UA/SecurityPolicy#" + s
}

func hasScheme(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '#' {
			return true
		}
		if s[i] == '/' {
			return true
		}
	}
	return false
}

// UserTokenType enumerates the kinds of identity proof a server can ask
// a client to present. Part 4, 7.43.
type UserTokenType uint32

const (
	UserTokenTypeAnonymous   UserTokenType = 0
	UserTokenTypeUserName    UserTokenType = 1
	UserTokenTypeCertificate UserTokenType = 2
	UserTokenTypeIssuedToken UserTokenType = 3
)

// UserTokenPolicy advertises one mechanism a server accepts for proving
// client identity. Part 4, 7.43.
type UserTokenPolicy struct {
	PolicyID          string
	TokenType         UserTokenType
	IssuedTokenType   string
	IssuerEndpointURL string
	SecurityPolicyURI string
}

// EndpointDescription describes one way to connect to a server. Part 4,
// 7.10.
type EndpointDescription struct {
	EndpointURL         string
	ServerCertificate   []byte
	SecurityMode        MessageSecurityMode
	SecurityPolicyURI   string
	UserIdentityTokens  []*UserTokenPolicy
	TransportProfileURI string
	SecurityLevel       byte
}

// AnonymousIdentityToken is presented when TokenType is Anonymous. Part 4,
// 7.36.1.
type AnonymousIdentityToken struct {
	PolicyID string
}

// UserNameIdentityToken is presented for username/password auth. Part 4,
// 7.36.3.
type UserNameIdentityToken struct {
	PolicyID            string
	UserName             string
	Password              []byte
	EncryptionAlgorithm string
}

// X509IdentityToken is presented for certificate-based auth. Part 4,
// 7.36.2.
type X509IdentityToken struct {
	PolicyID        string
	CertificateData []byte
}

// IssuedIdentityToken is presented for WS-SecurityToken/SAML style auth.
// Part 4, 7.36.4.
type IssuedIdentityToken struct {
	PolicyID            string
	TokenData           []byte
	EncryptionAlgorithm string
}

// SignatureData carries an algorithm URI and the raw signature bytes.
// Part 4, 7.34.
type SignatureData struct {
	Algorithm string
	Signature []byte
}

// ExtensionObject is the self-describing envelope used to carry a
// polymorphic value (here: one of the identity token types) over the
// wire, tagged with its DefaultBinary encoding id.
type ExtensionObject struct {
	TypeID uint32
	Value  interface{}
}

// NewExtensionObject wraps v in an ExtensionObject, looking up its
// encoding id from the small table this core knows about.
func NewExtensionObject(v interface{}) *ExtensionObject {
	if v == nil {
		return nil
	}
	return &ExtensionObject{TypeID: extensionObjectTypeID(v), Value: v}
}

// ClientDescription identifies the client application to the server
// during CreateSession. Part 4, 7.1.
type ClientDescription struct {
	ApplicationURI  string
	ProductURI      string
	ApplicationName string
}

// RequestHeader is the common request header. Part 4, 7.26.
type RequestHeader struct {
	AuthenticationToken *NodeID
	Timestamp           time.Time
	RequestHandle       uint32
	TimeoutHint         uint32
}

// ResponseHeader is the common response header. Part 4, 7.27.
type ResponseHeader struct {
	Timestamp     time.Time
	RequestHandle uint32
	ServiceResult StatusCode
}

// Request is implemented by every service request this core sends.
type Request interface {
	isRequest()
}

// GetEndpointsRequest asks the server for its endpoint descriptions.
// Part 4, 5.4.4.
type GetEndpointsRequest struct {
	RequestHeader *RequestHeader
	EndpointURL   string
}

func (*GetEndpointsRequest) isRequest() {}

// GetEndpointsResponse is the server's answer to GetEndpointsRequest.
type GetEndpointsResponse struct {
	ResponseHeader *ResponseHeader
	Endpoints      []*EndpointDescription
}

// SecurityTokenRequestType distinguishes issuing a new channel from
// renewing an existing one. Part 4, 7.29.1.
type SecurityTokenRequestType uint32

const (
	SecurityTokenRequestTypeIssue SecurityTokenRequestType = 0
	SecurityTokenRequestTypeRenew SecurityTokenRequestType = 1
)

// OpenSecureChannelRequest issues or renews a secure channel. Part 4,
// 5.5.2.
type OpenSecureChannelRequest struct {
	RequestHeader   *RequestHeader
	ClientProtocolVersion uint32
	RequestType     SecurityTokenRequestType
	SecurityMode    MessageSecurityMode
	ClientNonce     []byte
	RequestedLifetime uint32
}

func (*OpenSecureChannelRequest) isRequest() {}

// ChannelSecurityToken carries the ids and lifetime of a negotiated
// security token. Part 4, 7.31.
type ChannelSecurityToken struct {
	ChannelID       uint32
	TokenID         uint32
	CreatedAt       time.Time
	RevisedLifetime uint32
}

// OpenSecureChannelResponse is the server's answer to
// OpenSecureChannelRequest.
type OpenSecureChannelResponse struct {
	ResponseHeader  *ResponseHeader
	ServerProtocolVersion uint32
	SecurityToken   *ChannelSecurityToken
	ServerNonce     []byte
}

// CloseSecureChannelRequest requests that the server release a secure
// channel's state. Part 4, 5.5.3.
type CloseSecureChannelRequest struct {
	RequestHeader *RequestHeader
}

func (*CloseSecureChannelRequest) isRequest() {}

// CreateSessionRequest creates a new, not-yet-activated session. Part 4,
// 5.6.2.
type CreateSessionRequest struct {
	RequestHeader           *RequestHeader
	ClientDescription       *ClientDescription
	EndpointURL             string
	SessionName             string
	ClientNonce             []byte
	ClientCertificate       []byte
	RequestedSessionTimeout float64
}

func (*CreateSessionRequest) isRequest() {}

// CreateSessionResponse is the server's answer to CreateSessionRequest.
type CreateSessionResponse struct {
	ResponseHeader    *ResponseHeader
	SessionID         *NodeID
	AuthenticationToken *NodeID
	RevisedSessionTimeout float64
	ServerNonce       []byte
	ServerCertificate []byte
	ServerEndpoints   []*EndpointDescription
	ServerSignature   *SignatureData
}

// ActivateSessionRequest activates (or reactivates) a session and
// associates it with the calling secure channel. Part 4, 5.6.3.
type ActivateSessionRequest struct {
	RequestHeader              *RequestHeader
	ClientSignature            *SignatureData
	LocaleIDs                  []string
	UserIdentityToken          *ExtensionObject
	UserTokenSignature         *SignatureData
}

func (*ActivateSessionRequest) isRequest() {}

// ActivateSessionResponse is the server's answer to ActivateSessionRequest.
type ActivateSessionResponse struct {
	ResponseHeader *ResponseHeader
	ServerNonce    []byte
}

// CloseSessionRequest closes an active session. Part 4, 5.6.4.
type CloseSessionRequest struct {
	RequestHeader       *RequestHeader
	DeleteSubscriptions bool
}

func (*CloseSessionRequest) isRequest() {}

// CloseSessionResponse is the server's answer to CloseSessionRequest.
type CloseSessionResponse struct {
	ResponseHeader *ResponseHeader
}

func extensionObjectTypeID(v interface{}) uint32 {
	switch v.(type) {
	case *AnonymousIdentityToken:
		return id.AnonymousIdentityToken_Encoding_DefaultBinary
	case *UserNameIdentityToken:
		return id.UserNameIdentityToken_Encoding_DefaultBinary
	case *X509IdentityToken:
		return id.X509IdentityToken_Encoding_DefaultBinary
	case *IssuedIdentityToken:
		return id.IssuedIdentityToken_Encoding_DefaultBinary
	default:
		return 0
	}
}
