// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"time"

	"github.com/imatic-tech/opcua/id"
)

func anonymousTypeID() uint32 { return id.AnonymousIdentityToken_Encoding_DefaultBinary }
func userNameTypeID() uint32  { return id.UserNameIdentityToken_Encoding_DefaultBinary }
func x509TypeID() uint32      { return id.X509IdentityToken_Encoding_DefaultBinary }
func issuedTypeID() uint32    { return id.IssuedIdentityToken_Encoding_DefaultBinary }

// Service type tags identify the structured body carried by a MSG/OPN
// message. The connection-establishment core only ever exchanges the
// service bodies listed here; a full OPC UA binary codec covering every
// structured type in the standard is explicitly out of scope (spec.md
// §1) so these tags and their Encode/Decode pairs are a small, purpose
// built codec rather than a port of the generated binary codec a real
// stack carries.
const (
	TypeIDOpenSecureChannelRequest  uint32 = 1
	TypeIDOpenSecureChannelResponse uint32 = 2
	TypeIDGetEndpointsRequest       uint32 = 3
	TypeIDGetEndpointsResponse      uint32 = 4
	TypeIDCreateSessionRequest      uint32 = 5
	TypeIDCreateSessionResponse     uint32 = 6
	TypeIDActivateSessionRequest    uint32 = 7
	TypeIDActivateSessionResponse   uint32 = 8
	TypeIDCloseSessionRequest       uint32 = 9
	TypeIDCloseSessionResponse      uint32 = 10
	TypeIDCloseSecureChannelRequest uint32 = 11
	TypeIDServiceFault              uint32 = 99
)

// ServiceFault is returned by the server in place of the expected
// response type when a service call fails.
type ServiceFault struct {
	ResponseHeader *ResponseHeader
}

func encodeHeader(enc *Encoder, h *RequestHeader) {
	encodeNodeID(enc, h.AuthenticationToken)
	enc.WriteUint32(uint32(h.Timestamp.Unix()))
	enc.WriteUint32(h.RequestHandle)
	enc.WriteUint32(h.TimeoutHint)
}

func decodeRequestHeader(dec *Decoder) *RequestHeader {
	tok := decodeNodeID(dec)
	ts := dec.ReadUint32()
	rh := dec.ReadUint32()
	to := dec.ReadUint32()
	return &RequestHeader{
		AuthenticationToken: tok,
		Timestamp:           time.Unix(int64(ts), 0),
		RequestHandle:       rh,
		TimeoutHint:         to,
	}
}

func encodeNodeID(enc *Encoder, n *NodeID) {
	if n == nil {
		enc.WriteUint32(0)
		enc.WriteString("")
		return
	}
	enc.WriteUint32(uint32(n.Namespace))
	if n.isString {
		enc.WriteUint32(1)
		enc.WriteString(n.StringID)
	} else {
		enc.WriteUint32(0)
		enc.WriteUint32(n.Numeric)
	}
}

func decodeNodeID(dec *Decoder) *NodeID {
	ns := dec.ReadUint32()
	kind := dec.ReadUint32()
	if kind == 1 {
		return NewStringNodeID(uint16(ns), dec.ReadString())
	}
	return NewNumericNodeID(uint16(ns), dec.ReadUint32())
}

func encodeResponseHeader(enc *Encoder, h *ResponseHeader) {
	enc.WriteUint32(uint32(h.Timestamp.Unix()))
	enc.WriteUint32(h.RequestHandle)
	enc.WriteUint32(uint32(h.ServiceResult))
}

func decodeResponseHeader(dec *Decoder) *ResponseHeader {
	ts := dec.ReadUint32()
	rh := dec.ReadUint32()
	sr := dec.ReadUint32()
	return &ResponseHeader{
		Timestamp:     time.Unix(int64(ts), 0),
		RequestHandle: rh,
		ServiceResult: StatusCode(sr),
	}
}

func encodeEndpointDescription(enc *Encoder, e *EndpointDescription) {
	enc.WriteString(e.EndpointURL)
	enc.WriteBytes(e.ServerCertificate)
	enc.WriteUint32(uint32(e.SecurityMode))
	enc.WriteString(e.SecurityPolicyURI)
	enc.WriteUint32(uint32(len(e.UserIdentityTokens)))
	for _, t := range e.UserIdentityTokens {
		enc.WriteString(t.PolicyID)
		enc.WriteUint32(uint32(t.TokenType))
		enc.WriteString(t.IssuedTokenType)
		enc.WriteString(t.IssuerEndpointURL)
		enc.WriteString(t.SecurityPolicyURI)
	}
	enc.WriteString(e.TransportProfileURI)
	enc.buf = append(enc.buf, e.SecurityLevel)
}

func decodeEndpointDescription(dec *Decoder) *EndpointDescription {
	e := &EndpointDescription{}
	e.EndpointURL = dec.ReadString()
	e.ServerCertificate = dec.ReadBytes()
	e.SecurityMode = MessageSecurityMode(dec.ReadUint32())
	e.SecurityPolicyURI = dec.ReadString()
	n := dec.ReadUint32()
	for i := uint32(0); i < n && dec.Err() == nil; i++ {
		t := &UserTokenPolicy{
			PolicyID:          dec.ReadString(),
			TokenType:         UserTokenType(dec.ReadUint32()),
			IssuedTokenType:   dec.ReadString(),
			IssuerEndpointURL: dec.ReadString(),
			SecurityPolicyURI: dec.ReadString(),
		}
		e.UserIdentityTokens = append(e.UserIdentityTokens, t)
	}
	e.TransportProfileURI = dec.ReadString()
	if dec.off < len(dec.buf) {
		e.SecurityLevel = dec.buf[dec.off]
		dec.off++
	}
	return e
}

func encodeSignature(enc *Encoder, s *SignatureData) {
	if s == nil {
		s = &SignatureData{}
	}
	enc.WriteString(s.Algorithm)
	enc.WriteBytes(s.Signature)
}

func decodeSignature(dec *Decoder) *SignatureData {
	return &SignatureData{Algorithm: dec.ReadString(), Signature: dec.ReadBytes()}
}

// EncodeBody writes req's type tag followed by its service body (the
// transport/security framing is the caller's responsibility) and
// returns the tag it wrote.
func EncodeBody(enc *Encoder, req interface{}) (uint32, error) {
	fieldsEnc := NewEncoder(nil)
	tag, err := encodeTaggedBody(fieldsEnc, req)
	if err != nil {
		return 0, err
	}
	enc.WriteUint32(tag)
	enc.buf = append(enc.buf, fieldsEnc.buf...)
	return tag, nil
}

func encodeTaggedBody(enc *Encoder, req interface{}) (uint32, error) {
	switch r := req.(type) {
	case *OpenSecureChannelRequest:
		encodeHeader(enc, r.RequestHeader)
		enc.WriteUint32(r.ClientProtocolVersion)
		enc.WriteUint32(uint32(r.RequestType))
		enc.WriteUint32(uint32(r.SecurityMode))
		enc.WriteBytes(r.ClientNonce)
		enc.WriteUint32(r.RequestedLifetime)
		return TypeIDOpenSecureChannelRequest, nil

	case *OpenSecureChannelResponse:
		encodeResponseHeader(enc, r.ResponseHeader)
		enc.WriteUint32(r.ServerProtocolVersion)
		enc.WriteUint32(r.SecurityToken.ChannelID)
		enc.WriteUint32(r.SecurityToken.TokenID)
		enc.WriteUint32(uint32(r.SecurityToken.CreatedAt.Unix()))
		enc.WriteUint32(r.SecurityToken.RevisedLifetime)
		enc.WriteBytes(r.ServerNonce)
		return TypeIDOpenSecureChannelResponse, nil

	case *GetEndpointsRequest:
		encodeHeader(enc, r.RequestHeader)
		enc.WriteString(r.EndpointURL)
		return TypeIDGetEndpointsRequest, nil

	case *GetEndpointsResponse:
		encodeResponseHeader(enc, r.ResponseHeader)
		enc.WriteUint32(uint32(len(r.Endpoints)))
		for _, e := range r.Endpoints {
			encodeEndpointDescription(enc, e)
		}
		return TypeIDGetEndpointsResponse, nil

	case *CreateSessionRequest:
		encodeHeader(enc, r.RequestHeader)
		enc.WriteString(r.ClientDescription.ApplicationURI)
		enc.WriteString(r.ClientDescription.ProductURI)
		enc.WriteString(r.ClientDescription.ApplicationName)
		enc.WriteString(r.EndpointURL)
		enc.WriteString(r.SessionName)
		enc.WriteBytes(r.ClientNonce)
		enc.WriteBytes(r.ClientCertificate)
		enc.WriteUint32(uint32(r.RequestedSessionTimeout))
		return TypeIDCreateSessionRequest, nil

	case *CreateSessionResponse:
		encodeResponseHeader(enc, r.ResponseHeader)
		encodeNodeID(enc, r.SessionID)
		encodeNodeID(enc, r.AuthenticationToken)
		enc.WriteUint32(uint32(r.RevisedSessionTimeout))
		enc.WriteBytes(r.ServerNonce)
		enc.WriteBytes(r.ServerCertificate)
		enc.WriteUint32(uint32(len(r.ServerEndpoints)))
		for _, e := range r.ServerEndpoints {
			encodeEndpointDescription(enc, e)
		}
		encodeSignature(enc, r.ServerSignature)
		return TypeIDCreateSessionResponse, nil

	case *ActivateSessionRequest:
		encodeHeader(enc, r.RequestHeader)
		encodeSignature(enc, r.ClientSignature)
		enc.WriteUint32(uint32(len(r.LocaleIDs)))
		for _, l := range r.LocaleIDs {
			enc.WriteString(l)
		}
		enc.WriteUint32(r.UserIdentityToken.TypeID)
		encodeIdentityToken(enc, r.UserIdentityToken.Value)
		encodeSignature(enc, r.UserTokenSignature)
		return TypeIDActivateSessionRequest, nil

	case *ActivateSessionResponse:
		encodeResponseHeader(enc, r.ResponseHeader)
		enc.WriteBytes(r.ServerNonce)
		return TypeIDActivateSessionResponse, nil

	case *CloseSessionRequest:
		encodeHeader(enc, r.RequestHeader)
		enc.WriteUint32(boolToUint32(r.DeleteSubscriptions))
		return TypeIDCloseSessionRequest, nil

	case *CloseSessionResponse:
		encodeResponseHeader(enc, r.ResponseHeader)
		return TypeIDCloseSessionResponse, nil

	case *CloseSecureChannelRequest:
		encodeHeader(enc, r.RequestHeader)
		return TypeIDCloseSecureChannelRequest, nil

	default:
		return 0, nil
	}
}

// DecodeBody decodes a service body of the given type tag.
func DecodeBody(tag uint32, dec *Decoder) (interface{}, error) {
	switch tag {
	case TypeIDOpenSecureChannelRequest:
		r := &OpenSecureChannelRequest{RequestHeader: decodeRequestHeader(dec)}
		r.ClientProtocolVersion = dec.ReadUint32()
		r.RequestType = SecurityTokenRequestType(dec.ReadUint32())
		r.SecurityMode = MessageSecurityMode(dec.ReadUint32())
		r.ClientNonce = dec.ReadBytes()
		r.RequestedLifetime = dec.ReadUint32()
		return r, dec.Err()

	case TypeIDOpenSecureChannelResponse:
		r := &OpenSecureChannelResponse{ResponseHeader: decodeResponseHeader(dec)}
		r.ServerProtocolVersion = dec.ReadUint32()
		r.SecurityToken = &ChannelSecurityToken{
			ChannelID: dec.ReadUint32(),
			TokenID:   dec.ReadUint32(),
		}
		r.SecurityToken.CreatedAt = time.Unix(int64(dec.ReadUint32()), 0)
		r.SecurityToken.RevisedLifetime = dec.ReadUint32()
		r.ServerNonce = dec.ReadBytes()
		return r, dec.Err()

	case TypeIDGetEndpointsRequest:
		r := &GetEndpointsRequest{RequestHeader: decodeRequestHeader(dec)}
		r.EndpointURL = dec.ReadString()
		return r, dec.Err()

	case TypeIDGetEndpointsResponse:
		r := &GetEndpointsResponse{ResponseHeader: decodeResponseHeader(dec)}
		n := dec.ReadUint32()
		for i := uint32(0); i < n && dec.Err() == nil; i++ {
			r.Endpoints = append(r.Endpoints, decodeEndpointDescription(dec))
		}
		return r, dec.Err()

	case TypeIDCreateSessionRequest:
		r := &CreateSessionRequest{RequestHeader: decodeRequestHeader(dec)}
		r.ClientDescription = &ClientDescription{
			ApplicationURI:  dec.ReadString(),
			ProductURI:      dec.ReadString(),
			ApplicationName: dec.ReadString(),
		}
		r.EndpointURL = dec.ReadString()
		r.SessionName = dec.ReadString()
		r.ClientNonce = dec.ReadBytes()
		r.ClientCertificate = dec.ReadBytes()
		r.RequestedSessionTimeout = float64(dec.ReadUint32())
		return r, dec.Err()

	case TypeIDCreateSessionResponse:
		r := &CreateSessionResponse{ResponseHeader: decodeResponseHeader(dec)}
		r.SessionID = decodeNodeID(dec)
		r.AuthenticationToken = decodeNodeID(dec)
		r.RevisedSessionTimeout = float64(dec.ReadUint32())
		r.ServerNonce = dec.ReadBytes()
		r.ServerCertificate = dec.ReadBytes()
		n := dec.ReadUint32()
		for i := uint32(0); i < n && dec.Err() == nil; i++ {
			r.ServerEndpoints = append(r.ServerEndpoints, decodeEndpointDescription(dec))
		}
		r.ServerSignature = decodeSignature(dec)
		return r, dec.Err()

	case TypeIDActivateSessionRequest:
		r := &ActivateSessionRequest{RequestHeader: decodeRequestHeader(dec)}
		r.ClientSignature = decodeSignature(dec)
		n := dec.ReadUint32()
		for i := uint32(0); i < n && dec.Err() == nil; i++ {
			r.LocaleIDs = append(r.LocaleIDs, dec.ReadString())
		}
		typeID := dec.ReadUint32()
		value := decodeIdentityToken(typeID, dec)
		r.UserIdentityToken = &ExtensionObject{TypeID: typeID, Value: value}
		r.UserTokenSignature = decodeSignature(dec)
		return r, dec.Err()

	case TypeIDActivateSessionResponse:
		r := &ActivateSessionResponse{ResponseHeader: decodeResponseHeader(dec)}
		r.ServerNonce = dec.ReadBytes()
		return r, dec.Err()

	case TypeIDCloseSessionRequest:
		r := &CloseSessionRequest{RequestHeader: decodeRequestHeader(dec)}
		r.DeleteSubscriptions = dec.ReadUint32() != 0
		return r, dec.Err()

	case TypeIDCloseSessionResponse:
		return &CloseSessionResponse{ResponseHeader: decodeResponseHeader(dec)}, dec.Err()

	case TypeIDCloseSecureChannelRequest:
		return &CloseSecureChannelRequest{RequestHeader: decodeRequestHeader(dec)}, dec.Err()

	case TypeIDServiceFault:
		return &ServiceFault{ResponseHeader: decodeResponseHeader(dec)}, dec.Err()

	default:
		return nil, errUnknownServiceType(tag)
	}
}

func encodeIdentityToken(enc *Encoder, v interface{}) {
	switch t := v.(type) {
	case *AnonymousIdentityToken:
		enc.WriteString(t.PolicyID)
	case *UserNameIdentityToken:
		enc.WriteString(t.PolicyID)
		enc.WriteString(t.UserName)
		enc.WriteBytes(t.Password)
		enc.WriteString(t.EncryptionAlgorithm)
	case *X509IdentityToken:
		enc.WriteString(t.PolicyID)
		enc.WriteBytes(t.CertificateData)
	case *IssuedIdentityToken:
		enc.WriteString(t.PolicyID)
		enc.WriteBytes(t.TokenData)
		enc.WriteString(t.EncryptionAlgorithm)
	}
}

func decodeIdentityToken(typeID uint32, dec *Decoder) interface{} {
	switch typeID {
	case 0:
		return nil
	case anonymousTypeID():
		return &AnonymousIdentityToken{PolicyID: dec.ReadString()}
	case userNameTypeID():
		return &UserNameIdentityToken{
			PolicyID:            dec.ReadString(),
			UserName:            dec.ReadString(),
			Password:            dec.ReadBytes(),
			EncryptionAlgorithm: dec.ReadString(),
		}
	case x509TypeID():
		return &X509IdentityToken{PolicyID: dec.ReadString(), CertificateData: dec.ReadBytes()}
	case issuedTypeID():
		return &IssuedIdentityToken{
			PolicyID:            dec.ReadString(),
			TokenData:           dec.ReadBytes(),
			EncryptionAlgorithm: dec.ReadString(),
		}
	default:
		return nil
	}
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// errUnknownServiceType reports an unrecognized service type tag as
// StatusBadDecodingError; the tag itself is not part of the error.
func errUnknownServiceType(tag uint32) error {
	return StatusBadDecodingError
}
