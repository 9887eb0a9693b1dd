// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uasc implements the UASC secure-channel layer: security policy
// binding, OpenSecureChannel issue/renew, and the symmetric/asymmetric
// message framing used to send and receive the handful of services the
// connection-establishment core needs (spec.md §3, §4.3, §6).
package uasc

import (
	"crypto/rand"
	"crypto/sha1"
	"sync"
	"time"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
)

// ChannelState is the lifecycle of a SecureChannel, spec.md §2 item 2.
type ChannelState int

const (
	ChannelFresh ChannelState = iota
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelFresh:
		return "fresh"
	case ChannelOpen:
		return "open"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SecureChannel binds a uacp.Conn to a negotiated security token and
// drives OpenSecureChannel issue/renew plus symmetric message framing.
// It is not safe for concurrent use: the connection-establishment core
// is single-threaded and cooperative (spec.md §5).
type SecureChannel struct {
	endpointURL string
	conn        *uacp.Conn
	cfg         *Config
	policy      SecurityPolicy

	mu    sync.Mutex
	state ChannelState

	channelID       uint32
	tokenID         uint32
	createdAt       time.Time
	revisedLifetime time.Duration
	nextRenewal     time.Time

	localNonce  []byte
	remoteNonce []byte
	localKeys   *SymmetricKeys
	remoteKeys  *SymmetricKeys

	sendSeqNum    uint32
	recvSeqNum    uint32
	requestHandle uint32
	pendingReqID  uint32

	effective ua.ConnectionConfig
}

// NewSecureChannel binds cfg's security policy and returns an unopened
// channel over conn.
func NewSecureChannel(endpointURL string, conn *uacp.Conn, cfg *Config) (*SecureChannel, error) {
	uri := cfg.SecurityPolicyURI
	if uri == "" {
		uri = ua.SecurityPolicyURINone
	}
	policy, err := NewSecurityPolicy(uri, cfg.Certificate)
	if err != nil {
		return nil, err
	}
	return &SecureChannel{
		endpointURL: endpointURL,
		conn:        conn,
		cfg:         cfg,
		policy:      policy,
		state:       ChannelFresh,
	}, nil
}

// State returns the channel's current lifecycle state.
func (s *SecureChannel) State() ChannelState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ChannelID and TokenID identify the currently negotiated security
// token, spec.md §4.3.
func (s *SecureChannel) ChannelID() uint32 { return s.channelID }
func (s *SecureChannel) TokenID() uint32   { return s.tokenID }

// BoundPolicyURI returns the security policy URI this channel was
// opened with, used by the orchestrator to detect whether the endpoint
// it eventually selects requires a different policy (spec.md §4.5).
func (s *SecureChannel) BoundPolicyURI() string { return s.policy.URI() }

// Open performs the HEL/ACK handshake followed by an Issue
// OpenSecureChannelRequest, spec.md §4.2-§4.3.
func (s *SecureChannel) Open() error {
	if s.state != ChannelFresh {
		return errors.Errorf("uasc: Open called in state %s", s.state)
	}
	remote, err := uacp.HelloAckHandshake(s.conn, s.endpointURL, s.cfg.Local, s.cfg.Timeout)
	if err != nil {
		return err
	}
	s.effective = s.cfg.Local.Min(remote)
	debug.Printf("uasc: effective connection config %+v", s.effective)
	return s.OpenSecureChannel(false)
}

// NeedsRenewal reports whether the channel's token is due for renewal,
// spec.md §4.3's "monitor nextChannelRenewal" rule.
func (s *SecureChannel) NeedsRenewal() bool {
	return s.state == ChannelOpen && !s.nextRenewal.IsZero() && time.Now().After(s.nextRenewal)
}

// OpenSecureChannel issues a new security token (renew=false) or renews
// the current one (renew=true). Renewing a channel that is not yet due
// is a no-op, spec.md §4.3 ("renew is a no-op if the current token is
// not close to expiry").
func (s *SecureChannel) OpenSecureChannel(renew bool) error {
	if renew && !s.NeedsRenewal() {
		return nil
	}

	nonce := make([]byte, s.policy.NonceLength())
	if len(nonce) > 0 {
		if _, err := rand.Read(nonce); err != nil {
			return errors.Wrap(err, "uasc: generating client nonce")
		}
	}
	s.localNonce = nonce

	reqType := ua.SecurityTokenRequestTypeIssue
	if renew {
		reqType = ua.SecurityTokenRequestTypeRenew
	}

	req := &ua.OpenSecureChannelRequest{
		RequestHeader:         s.newRequestHeader(nil),
		ClientProtocolVersion: 0,
		RequestType:           reqType,
		SecurityMode:          s.cfg.SecurityMode,
		ClientNonce:           nonce,
		RequestedLifetime:     uint32(s.cfg.RequestedLifetime / time.Millisecond),
	}

	sentAt := time.Now()
	resp, err := s.sendOpenSecureChannel(req, renew)
	// spec.md §9 (resolved Open Question): set a conservative deadline
	// measured from the send, whether or not the server answered, then
	// tighten it once the server's revised lifetime is known.
	s.nextRenewal = sentAt.Add(2 * s.cfg.Timeout)
	if err != nil {
		return err
	}

	if resp.ResponseHeader.ServiceResult.IsBad() {
		return resp.ResponseHeader.ServiceResult
	}

	s.channelID = resp.SecurityToken.ChannelID
	s.tokenID = resp.SecurityToken.TokenID
	s.createdAt = resp.SecurityToken.CreatedAt
	s.revisedLifetime = time.Duration(resp.SecurityToken.RevisedLifetime) * time.Millisecond
	s.remoteNonce = resp.ServerNonce
	s.nextRenewal = s.createdAt.Add(time.Duration(float64(s.revisedLifetime) * 0.75))

	if s.policy.NonceLength() > 0 {
		local, remote, err := s.policy.DeriveSymmetricKeys(s.localNonce, s.remoteNonce)
		if err != nil {
			return err
		}
		s.localKeys, s.remoteKeys = local, remote
	}

	s.state = ChannelOpen
	debug.Printf("uasc: secure channel %d token %d opened (renew=%v), next renewal at %s",
		s.channelID, s.tokenID, renew, s.nextRenewal)
	return nil
}

// NewRequestHeader mints a RequestHeader with an incrementing request
// handle for a service call over this channel (GetEndpoints,
// CreateSession, ActivateSession, CloseSession), the same handle
// sequence OpenSecureChannel/CloseSecureChannel use internally.
func (s *SecureChannel) NewRequestHeader(authToken *ua.NodeID) *ua.RequestHeader {
	return s.newRequestHeader(authToken)
}

func (s *SecureChannel) newRequestHeader(authToken *ua.NodeID) *ua.RequestHeader {
	s.requestHandle++
	return &ua.RequestHeader{
		AuthenticationToken: authToken,
		Timestamp:           time.Now(),
		RequestHandle:       s.requestHandle,
		TimeoutHint:         uint32(s.cfg.Timeout / time.Millisecond),
	}
}

// sendOpenSecureChannel frames and sends req, blocking for its response.
// An Issue request is framed with the asymmetric security header (the
// channel has no token yet); a Renew request is framed with the
// symmetric header carrying the current channel and token ids. Neither
// framing signs or encrypts the message.
func (s *SecureChannel) sendOpenSecureChannel(req *ua.OpenSecureChannelRequest, renew bool) (*ua.OpenSecureChannelResponse, error) {
	var body interface{}
	var err error
	if renew {
		body, err = s.roundTripSymmetric(req)
	} else {
		body, err = s.roundTripAsymmetric(req)
	}
	if err != nil {
		return nil, err
	}
	resp, ok := body.(*ua.OpenSecureChannelResponse)
	if !ok {
		if fault, ok := body.(*ua.ServiceFault); ok {
			return nil, fault.ResponseHeader.ServiceResult
		}
		return nil, ua.StatusBadUnknownResponse
	}
	return resp, nil
}

// SendRequest sends a generic service request over the open symmetric
// channel (GetEndpoints, CreateSession, ActivateSession, CloseSession)
// and returns the decoded response body. Callers mint req's
// RequestHeader via NewRequestHeader so every service call shares the
// channel's request-handle sequence.
func (s *SecureChannel) SendRequest(req ua.Request) (interface{}, error) {
	if s.state != ChannelOpen {
		return nil, ua.StatusBadSecureChannelClosed
	}
	return s.roundTripSymmetric(req)
}

// roundTripAsymmetric frames req with the asymmetric security header
// (used only for the very first OpenSecureChannelRequest) and blocks
// for one response chunk.
func (s *SecureChannel) roundTripAsymmetric(req ua.Request) (interface{}, error) {
	buf, err := s.conn.GetSendBuffer(4096)
	if err != nil {
		return nil, err
	}
	enc := ua.NewEncoder(buf[:ua.HeaderLen])

	enc.WriteString(s.policy.URI())
	enc.WriteBytes(s.policy.LocalCertificate())
	enc.WriteBytes(thumbprint(s.cfg.ServerCertificate))

	s.sendSeqNum++
	s.pendingReqID++
	reqID := s.pendingReqID
	enc.WriteUint32(s.sendSeqNum)
	enc.WriteUint32(reqID)

	if _, err := ua.EncodeBody(enc, req); err != nil {
		return nil, err
	}

	header := ua.TransportHeader{
		MessageType: ua.MessageTypeOpenSecure,
		ChunkType:   ua.ChunkTypeFinal,
		MessageSize: uint32(enc.Len()),
	}
	header.Encode(enc)
	if err := s.conn.Send(enc.Bytes()); err != nil {
		return nil, err
	}
	return s.receiveOne(reqID)
}

// roundTripSymmetric frames req with the symmetric security header and
// blocks for one response chunk.
func (s *SecureChannel) roundTripSymmetric(req ua.Request) (interface{}, error) {
	reqID, err := s.sendSymmetric(req)
	if err != nil {
		return nil, err
	}
	return s.receiveOne(reqID)
}

// sendSymmetric frames and sends req with the symmetric security header
// without waiting for a response; Close calls it directly for the one
// service in this core that has none: CloseSecureChannel (Part 4,
// 5.5.3), which goes out as a CLO message. Every other request goes out
// as MSG.
func (s *SecureChannel) sendSymmetric(req ua.Request) (reqID uint32, err error) {
	buf, err := s.conn.GetSendBuffer(4096)
	if err != nil {
		return 0, err
	}
	enc := ua.NewEncoder(buf[:ua.HeaderLen])

	enc.WriteUint32(s.channelID)
	enc.WriteUint32(s.tokenID)

	s.sendSeqNum++
	s.pendingReqID++
	reqID = s.pendingReqID
	enc.WriteUint32(s.sendSeqNum)
	enc.WriteUint32(reqID)

	if _, err := ua.EncodeBody(enc, req); err != nil {
		return 0, err
	}

	msgType := ua.MessageTypeMessage
	if _, ok := req.(*ua.CloseSecureChannelRequest); ok {
		msgType = ua.MessageTypeCloseSecure
	}
	header := ua.TransportHeader{
		MessageType: msgType,
		ChunkType:   ua.ChunkTypeFinal,
		MessageSize: uint32(enc.Len()),
	}
	header.Encode(enc)
	if err := s.conn.Send(enc.Bytes()); err != nil {
		return 0, err
	}
	return reqID, nil
}

// receiveOne blocks for exactly one response chunk, which must be an OPN
// or MSG message (either is accepted, whatever the request was sent
// as), decodes its security header and sequence header, rejects replayed/reordered sequence numbers
// (spec.md §5), and decodes the tagged service body.
func (s *SecureChannel) receiveOne(wantReqID uint32) (interface{}, error) {
	var result interface{}
	var svcErr error

	err := s.conn.ReceiveChunksBlocking(func(header ua.TransportHeader, body []byte) (bool, error) {
		dec := ua.NewDecoder(body)

		switch header.MessageType {
		case ua.MessageTypeOpenSecure:
			_ = dec.ReadString() // policy URI
			_ = dec.ReadBytes()  // sender cert
			_ = dec.ReadBytes()  // receiver thumbprint
		case ua.MessageTypeMessage:
			chanID := dec.ReadUint32()
			_ = chanID
			_ = dec.ReadUint32() // token id
		default:
			svcErr = errors.Errorf("uasc: unexpected message type %s", header.MessageType)
			return true, nil
		}

		seqNum := dec.ReadUint32()
		reqID := dec.ReadUint32()
		if seqNum <= s.recvSeqNum && s.recvSeqNum != 0 {
			svcErr = ua.StatusBadSequenceNumberInvalid
			return true, nil
		}
		s.recvSeqNum = seqNum
		if reqID != wantReqID {
			svcErr = errors.Errorf("uasc: response request id %d does not match %d", reqID, wantReqID)
			return true, nil
		}

		tag := dec.ReadUint32()
		v, err := ua.DecodeBody(tag, dec)
		if err != nil {
			svcErr = err
			return true, nil
		}
		if dec.Err() != nil {
			svcErr = errors.Wrap(dec.Err(), "uasc: decoding response body")
			return true, nil
		}
		result = v
		return true, nil
	}, s.cfg.Timeout)

	if err != nil {
		return nil, err
	}
	if svcErr != nil {
		return nil, svcErr
	}
	return result, nil
}

// Close sends CloseSecureChannelRequest best-effort and marks the
// channel closed. CloseSecureChannel has no response message (Part 4,
// 5.5.3), so this does not wait for one. The underlying Conn is left to
// the caller, matching spec.md §4.7's teardown order (channel demoted
// before the transport is closed).
func (s *SecureChannel) Close() error {
	if s.state == ChannelClosed {
		return nil
	}
	if s.state == ChannelOpen {
		req := &ua.CloseSecureChannelRequest{RequestHeader: s.newRequestHeader(nil)}
		if _, err := s.sendSymmetric(req); err != nil {
			debug.Printf("uasc: CloseSecureChannel failed (ignored): %v", err)
		}
	}
	s.state = ChannelClosed
	return nil
}

// thumbprint computes the receiver certificate thumbprint field of the
// asymmetric security header: the SHA-1 digest of the DER-encoded
// certificate (Part 6, 6.2.3).
func thumbprint(cert []byte) []byte {
	if len(cert) == 0 {
		return nil
	}
	sum := sha1.Sum(cert)
	return sum[:]
}
