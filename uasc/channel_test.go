// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
	"github.com/imatic-tech/opcua/uasc"
)

// fakeServer plays the server side of HEL/ACK, a single Issue
// OpenSecureChannel, and a single GetEndpoints round trip, all framed
// with the same security-policy-None headers the client writes. It
// lets channel_test.go exercise uasc.SecureChannel without a real OPC
// UA server.
func fakeServer(t *testing.T) (addr string, done <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if !readHello(t, conn) {
			return
		}
		writeAck(t, conn)

		reqID, ok := readOpenSecureChannel(t, conn)
		if !ok {
			return
		}
		writeOpenSecureChannelResponse(t, conn, reqID)

		reqID, ok = readGetEndpoints(t, conn)
		if !ok {
			return
		}
		writeGetEndpointsResponse(t, conn, reqID)
	}()
	return ln.Addr().String(), finished
}

func readFrame(conn net.Conn) (ua.TransportHeader, []byte, error) {
	var hdrBuf [ua.HeaderLen]byte
	if _, err := io.ReadFull(conn, hdrBuf[:]); err != nil {
		return ua.TransportHeader{}, nil, err
	}
	dec := ua.NewDecoder(hdrBuf[:])
	var header ua.TransportHeader
	header.Decode(dec)
	body := make([]byte, header.MessageSize-ua.HeaderLen)
	if len(body) > 0 {
		if _, err := io.ReadFull(conn, body); err != nil {
			return header, nil, err
		}
	}
	return header, body, nil
}

func readHello(t *testing.T, conn net.Conn) bool {
	header, _, err := readFrame(conn)
	if err != nil || header.MessageType != ua.MessageTypeHello {
		return false
	}
	return true
}

func writeAck(t *testing.T, conn net.Conn) {
	ack := ua.Acknowledge{ReceiveBufferSize: 0x10000, SendBufferSize: 0x10000, MaxMessageSize: 0x100000, MaxChunkCount: 0}
	enc := ua.NewEncoder(make([]byte, ua.HeaderLen))
	ack.Encode(enc)
	th := ua.TransportHeader{MessageType: ua.MessageTypeAcknowledge, ChunkType: ua.ChunkTypeFinal, MessageSize: uint32(enc.Len())}
	th.Encode(enc)
	conn.Write(enc.Bytes())
}

func readOpenSecureChannel(t *testing.T, conn net.Conn) (reqID uint32, ok bool) {
	header, body, err := readFrame(conn)
	if err != nil || header.MessageType != ua.MessageTypeOpenSecure {
		return 0, false
	}
	dec := ua.NewDecoder(body)
	_ = dec.ReadString() // policy URI
	_ = dec.ReadBytes()  // sender cert
	_ = dec.ReadBytes()  // receiver thumbprint
	_ = dec.ReadUint32() // seq num
	reqID = dec.ReadUint32()
	tag := dec.ReadUint32()
	if _, err := ua.DecodeBody(tag, dec); err != nil {
		return 0, false
	}
	return reqID, dec.Err() == nil
}

func writeOpenSecureChannelResponse(t *testing.T, conn net.Conn, reqID uint32) {
	resp := &ua.OpenSecureChannelResponse{
		ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusOK},
		SecurityToken: &ua.ChannelSecurityToken{
			ChannelID:       1,
			TokenID:         1,
			CreatedAt:       time.Now(),
			RevisedLifetime: 3_600_000,
		},
	}
	enc := ua.NewEncoder(make([]byte, ua.HeaderLen))
	enc.WriteString(ua.SecurityPolicyURINone)
	enc.WriteBytes(nil)
	enc.WriteBytes(nil)
	enc.WriteUint32(1)
	enc.WriteUint32(reqID)
	if _, err := ua.EncodeBody(enc, resp); err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	th := ua.TransportHeader{MessageType: ua.MessageTypeOpenSecure, ChunkType: ua.ChunkTypeFinal, MessageSize: uint32(enc.Len())}
	th.Encode(enc)
	conn.Write(enc.Bytes())
}

func readGetEndpoints(t *testing.T, conn net.Conn) (reqID uint32, ok bool) {
	header, body, err := readFrame(conn)
	if err != nil || header.MessageType != ua.MessageTypeMessage {
		return 0, false
	}
	dec := ua.NewDecoder(body)
	_ = dec.ReadUint32() // channel id
	_ = dec.ReadUint32() // token id
	_ = dec.ReadUint32() // seq num
	reqID = dec.ReadUint32()
	tag := dec.ReadUint32()
	if _, err := ua.DecodeBody(tag, dec); err != nil {
		return 0, false
	}
	return reqID, dec.Err() == nil
}

func writeGetEndpointsResponse(t *testing.T, conn net.Conn, reqID uint32) {
	resp := &ua.GetEndpointsResponse{
		ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusOK},
		Endpoints: []*ua.EndpointDescription{
			{
				EndpointURL:         "opc.tcp://127.0.0.1:4840",
				SecurityMode:        ua.MessageSecurityModeNone,
				SecurityPolicyURI:   ua.SecurityPolicyURINone,
				TransportProfileURI: ua.TransportProfileURIBinary,
				UserIdentityTokens: []*ua.UserTokenPolicy{
					{PolicyID: "Anonymous", TokenType: ua.UserTokenTypeAnonymous},
				},
			},
		},
	}
	enc := ua.NewEncoder(make([]byte, ua.HeaderLen))
	enc.WriteUint32(1)
	enc.WriteUint32(1)
	enc.WriteUint32(2)
	enc.WriteUint32(reqID)
	if _, err := ua.EncodeBody(enc, resp); err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}
	th := ua.TransportHeader{MessageType: ua.MessageTypeMessage, ChunkType: ua.ChunkTypeFinal, MessageSize: uint32(enc.Len())}
	th.Encode(enc)
	conn.Write(enc.Bytes())
}

func TestSecureChannelOpenAndGetEndpoints(t *testing.T) {
	addr, done := fakeServer(t)
	endpoint := fmt.Sprintf("opc.tcp://%s/", addr)

	conn, err := uacp.Dial(context.Background(), endpoint, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	cfg := &uasc.Config{
		Timeout:           time.Second,
		RequestedLifetime: time.Hour,
		Local:             ua.ConnectionConfig{RecvBufferSize: 0x10000, SendBufferSize: 0x10000},
	}
	sechan, err := uasc.NewSecureChannel(endpoint, conn, cfg)
	if err != nil {
		t.Fatalf("NewSecureChannel: %v", err)
	}
	if err := sechan.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sechan.State() != uasc.ChannelOpen {
		t.Fatalf("state = %s, want open", sechan.State())
	}
	if sechan.ChannelID() != 1 || sechan.TokenID() != 1 {
		t.Fatalf("channelID/tokenID = %d/%d, want 1/1", sechan.ChannelID(), sechan.TokenID())
	}

	resp, err := sechan.SendRequest(&ua.GetEndpointsRequest{
		RequestHeader: sechan.NewRequestHeader(nil),
		EndpointURL:   endpoint,
	})
	if err != nil {
		t.Fatalf("SendRequest(GetEndpoints): %v", err)
	}
	ge, ok := resp.(*ua.GetEndpointsResponse)
	if !ok {
		t.Fatalf("response type %T, want *ua.GetEndpointsResponse", resp)
	}
	if len(ge.Endpoints) != 1 || ge.Endpoints[0].SecurityPolicyURI != ua.SecurityPolicyURINone {
		t.Fatalf("unexpected endpoints: %+v", ge.Endpoints)
	}

	<-done
}

func TestOpenSecureChannelRenewNoOpBeforeExpiry(t *testing.T) {
	// A channel whose token is not due (here: one never opened, built
	// over a nil conn) reports no NeedsRenewal, so a Renew call is a
	// no-op: it must return nil without touching the wire, since any
	// use of the nil conn would panic.
	cfg := &uasc.Config{Timeout: time.Second, RequestedLifetime: time.Hour}
	sechan, err := uasc.NewSecureChannel("opc.tcp://example/", nil, cfg)
	if err != nil {
		t.Fatalf("NewSecureChannel: %v", err)
	}
	if sechan.NeedsRenewal() {
		t.Fatal("a channel that was never opened should not report NeedsRenewal")
	}
	if err := sechan.OpenSecureChannel(true); err != nil {
		t.Fatalf("OpenSecureChannel(renew=true) before expiry: %v, want no-op nil", err)
	}
}
