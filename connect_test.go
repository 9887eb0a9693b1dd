// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package opcua_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/imatic-tech/opcua"
	"github.com/imatic-tech/opcua/ua"
)

// serverScript plays one connect/disconnect cycle's worth of server
// traffic: HEL/ACK, an Issue OpenSecureChannel, GetEndpoints (one None
// endpoint), CreateSession, ActivateSession, then, if the client goes
// on to disconnect, CloseSession. CloseSecureChannel has no response
// message and is not read back.
func serverScript(t *testing.T, withSession bool) (addr string, done <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	finished := make(chan struct{})
	go func() {
		defer ln.Close()
		defer close(finished)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if !readHelloFrame(conn) {
			return
		}
		writeAckFrame(conn)

		reqID, ok := readRequest(conn, ua.MessageTypeOpenSecure)
		if !ok {
			return
		}
		writeOpenSecureChannelResp(conn, reqID)

		reqID, ok = readRequest(conn, ua.MessageTypeMessage)
		if !ok {
			return
		}
		writeGetEndpointsResp(conn, reqID)

		if !withSession {
			return
		}

		reqID, ok = readRequest(conn, ua.MessageTypeMessage)
		if !ok {
			return
		}
		writeCreateSessionResp(conn, reqID)

		reqID, ok = readRequest(conn, ua.MessageTypeMessage)
		if !ok {
			return
		}
		writeActivateSessionResp(conn, reqID)

		reqID, ok = readRequest(conn, ua.MessageTypeMessage)
		if !ok {
			return
		}
		writeCloseSessionResp(conn, reqID)
	}()
	return ln.Addr().String(), finished
}

func readFrameBytes(conn net.Conn) (ua.TransportHeader, []byte, error) {
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

func readHelloFrame(conn net.Conn) bool {
	header, _, err := readFrameBytes(conn)
	return err == nil && header.MessageType == ua.MessageTypeHello
}

func writeAckFrame(conn net.Conn) {
	ack := ua.Acknowledge{ReceiveBufferSize: 0x10000, SendBufferSize: 0x10000, MaxMessageSize: 0x100000, MaxChunkCount: 0}
	enc := ua.NewEncoder(make([]byte, ua.HeaderLen))
	ack.Encode(enc)
	th := ua.TransportHeader{MessageType: ua.MessageTypeAcknowledge, ChunkType: ua.ChunkTypeFinal, MessageSize: uint32(enc.Len())}
	th.Encode(enc)
	conn.Write(enc.Bytes())
}

// readRequest reads one request frame of the given message type and
// returns its request id. For MessageTypeOpenSecure it skips the
// asymmetric security header fields; for MessageTypeMessage it skips
// the channel/token id fields.
func readRequest(conn net.Conn, msgType ua.MessageType) (reqID uint32, ok bool) {
	header, body, err := readFrameBytes(conn)
	if err != nil || header.MessageType != msgType {
		return 0, false
	}
	dec := ua.NewDecoder(body)
	switch msgType {
	case ua.MessageTypeOpenSecure:
		_ = dec.ReadString()
		_ = dec.ReadBytes()
		_ = dec.ReadBytes()
	case ua.MessageTypeMessage:
		_ = dec.ReadUint32()
		_ = dec.ReadUint32()
	}
	_ = dec.ReadUint32() // seq num
	reqID = dec.ReadUint32()
	tag := dec.ReadUint32()
	if _, err := ua.DecodeBody(tag, dec); err != nil {
		return 0, false
	}
	return reqID, dec.Err() == nil
}

func writeOpenSecureChannelResp(conn net.Conn, reqID uint32) {
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
	ua.EncodeBody(enc, resp)
	th := ua.TransportHeader{MessageType: ua.MessageTypeOpenSecure, ChunkType: ua.ChunkTypeFinal, MessageSize: uint32(enc.Len())}
	th.Encode(enc)
	conn.Write(enc.Bytes())
}

func testEndpoint(addr string) *ua.EndpointDescription {
	return &ua.EndpointDescription{
		EndpointURL:         fmt.Sprintf("opc.tcp://%s/", addr),
		SecurityMode:        ua.MessageSecurityModeNone,
		SecurityPolicyURI:   ua.SecurityPolicyURINone,
		TransportProfileURI: ua.TransportProfileURIBinary,
		UserIdentityTokens: []*ua.UserTokenPolicy{
			{PolicyID: "Anonymous", TokenType: ua.UserTokenTypeAnonymous},
		},
	}
}

func writeMSG(conn net.Conn, reqID uint32, resp interface{}, seqNum uint32) {
	enc := ua.NewEncoder(make([]byte, ua.HeaderLen))
	enc.WriteUint32(1)
	enc.WriteUint32(1)
	enc.WriteUint32(seqNum)
	enc.WriteUint32(reqID)
	ua.EncodeBody(enc, resp)
	th := ua.TransportHeader{MessageType: ua.MessageTypeMessage, ChunkType: ua.ChunkTypeFinal, MessageSize: uint32(enc.Len())}
	th.Encode(enc)
	conn.Write(enc.Bytes())
}

func writeGetEndpointsResp(conn net.Conn, reqID uint32) {
	resp := &ua.GetEndpointsResponse{
		ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusOK},
		Endpoints:      []*ua.EndpointDescription{testEndpoint(conn.LocalAddr().String())},
	}
	writeMSG(conn, reqID, resp, 2)
}

func writeCreateSessionResp(conn net.Conn, reqID uint32) {
	resp := &ua.CreateSessionResponse{
		ResponseHeader:        &ua.ResponseHeader{ServiceResult: ua.StatusOK},
		SessionID:             ua.NewNumericNodeID(1, 1001),
		AuthenticationToken:   ua.NewNumericNodeID(1, 2002),
		RevisedSessionTimeout: 1_200_000,
		ServerEndpoints:       []*ua.EndpointDescription{testEndpoint(conn.LocalAddr().String())},
		ServerSignature:       &ua.SignatureData{},
	}
	writeMSG(conn, reqID, resp, 3)
}

func writeActivateSessionResp(conn net.Conn, reqID uint32) {
	resp := &ua.ActivateSessionResponse{ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusOK}}
	writeMSG(conn, reqID, resp, 4)
}

func writeCloseSessionResp(conn net.Conn, reqID uint32) {
	resp := &ua.CloseSessionResponse{ResponseHeader: &ua.ResponseHeader{ServiceResult: ua.StatusOK}}
	writeMSG(conn, reqID, resp, 5)
}

func TestConnectAndCloseFullSession(t *testing.T) {
	addr, done := serverScript(t, true)
	endpoint := fmt.Sprintf("opc.tcp://%s/", addr)

	var states []opcua.ClientState
	c := opcua.NewClient(endpoint, opcua.Timeout(2*time.Second))
	c.OnStateChange(func(s opcua.ClientState) { states = append(states, s) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != opcua.StateSession {
		t.Fatalf("state = %s, want Session", c.State())
	}
	want := []opcua.ClientState{
		opcua.StateWaitingForAck, opcua.StateConnected, opcua.StateSecureChannel,
		opcua.StateSessionRenewed, opcua.StateSession,
	}
	if len(states) != len(want) {
		t.Fatalf("state transitions = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state transitions = %v, want %v", states, want)
		}
	}

	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.State() != opcua.StateDisconnected {
		t.Fatalf("state after Close = %s, want Disconnected", c.State())
	}

	<-done
}

func TestConnectNoSessionStopsAtSecureChannel(t *testing.T) {
	addr, done := serverScript(t, false)
	endpoint := fmt.Sprintf("opc.tcp://%s/", addr)

	c := opcua.NewClient(endpoint, opcua.Timeout(2*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.ConnectNoSession(ctx); err != nil {
		t.Fatalf("ConnectNoSession: %v", err)
	}
	if c.State() != opcua.StateSecureChannel {
		t.Fatalf("state = %s, want SecureChannel", c.State())
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	<-done
}

// TestConnectWithPreselectedEndpointSkipsGetEndpoints covers spec.md
// §4.5 step 9's "unconfigured" sentinel: opcua.WithEndpoint supplies an
// endpoint and user-token-policy up front, so Connect must skip
// GetEndpoints entirely. The fake server here answers the first MSG
// after the OPN with a CreateSessionResponse; if the client sent a
// GetEndpoints request there, it would get that response instead of a
// GetEndpointsResponse and Connect would fail.
func TestConnectWithPreselectedEndpointSkipsGetEndpoints(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer ln.Close()
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		if !readHelloFrame(conn) {
			return
		}
		writeAckFrame(conn)

		reqID, ok := readRequest(conn, ua.MessageTypeOpenSecure)
		if !ok {
			return
		}
		writeOpenSecureChannelResp(conn, reqID)

		reqID, ok = readRequest(conn, ua.MessageTypeMessage)
		if !ok {
			return
		}
		writeCreateSessionResp(conn, reqID)

		reqID, ok = readRequest(conn, ua.MessageTypeMessage)
		if !ok {
			return
		}
		writeActivateSessionResp(conn, reqID)

		reqID, ok = readRequest(conn, ua.MessageTypeMessage)
		if !ok {
			return
		}
		writeCloseSessionResp(conn, reqID)
	}()

	addr := ln.Addr().String()
	endpointURL := fmt.Sprintf("opc.tcp://%s/", addr)
	ep := testEndpoint(addr)
	tokenPolicy := ep.UserIdentityTokens[0]

	c := opcua.NewClient(endpointURL, opcua.Timeout(2*time.Second), opcua.WithEndpoint(ep, tokenPolicy))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if c.State() != opcua.StateSession {
		t.Fatalf("state = %s, want Session", c.State())
	}
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	<-done
}

func TestConnectRollsBackOnDialFailure(t *testing.T) {
	// Port 1 on an address nothing listens on: Dial must fail fast and
	// connect must roll all the way back to Disconnected rather than
	// leaving any partial state.
	c := opcua.NewClient("opc.tcp://127.0.0.1:1/", opcua.Timeout(200*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatal("expected Connect to fail against an unreachable address")
	}
	if c.State() != opcua.StateDisconnected {
		t.Fatalf("state after failed Connect = %s, want Disconnected", c.State())
	}
}
