// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uacp_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/imatic-tech/opcua/ua"
	"github.com/imatic-tech/opcua/uacp"
)

// fakeServer accepts exactly one connection and replies to a HEL with a
// canned ACK, or simply never replies when ackOnHello is false.
func fakeServer(t *testing.T, ackOnHello bool) (addr string, done <-chan struct{}) {
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

		var hdr [8]byte
		if _, err := io.ReadFull(conn, hdr[:]); err != nil {
			return
		}
		dec := ua.NewDecoder(hdr[:])
		var header ua.TransportHeader
		header.Decode(dec)
		body := make([]byte, header.MessageSize-8)
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}

		if !ackOnHello {
			// never respond; let the client's timeout fire.
			time.Sleep(2 * time.Second)
			return
		}

		ack := ua.Acknowledge{
			ProtocolVersion:   0,
			ReceiveBufferSize: 0x4000,
			SendBufferSize:    0x5000,
			MaxMessageSize:    0x8000,
			MaxChunkCount:     1,
		}
		buf := make([]byte, 8)
		enc := ua.NewEncoder(buf)
		ack.Encode(enc)
		th := ua.TransportHeader{MessageType: ua.MessageTypeAcknowledge, ChunkType: ua.ChunkTypeFinal, MessageSize: uint32(enc.Len())}
		th.Encode(enc)
		_, _ = conn.Write(enc.Bytes())
	}()
	return ln.Addr().String(), finished
}

func TestHelloAckHandshakeSuccess(t *testing.T) {
	addr, done := fakeServer(t, true)
	endpoint := fmt.Sprintf("opc.tcp://%s/", addr)

	conn, err := uacp.Dial(context.Background(), endpoint, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	local := ua.ConnectionConfig{RecvBufferSize: 0x10000, SendBufferSize: 0x10000, MaxMessageSize: 0x10000, MaxChunkCount: 5}
	remote, err := uacp.HelloAckHandshake(conn, endpoint, local, time.Second)
	if err != nil {
		t.Fatalf("HelloAckHandshake: %v", err)
	}
	if remote.RecvBufferSize != 0x4000 || remote.SendBufferSize != 0x5000 {
		t.Fatalf("unexpected remote config: %+v", remote)
	}

	effective := local.Min(remote)
	if effective.RecvBufferSize != remote.SendBufferSize {
		t.Fatalf("effective recv buffer size = %d, want %d", effective.RecvBufferSize, remote.SendBufferSize)
	}
	<-done
}

func TestHelloAckHandshakeTimeout(t *testing.T) {
	addr, _ := fakeServer(t, false)
	endpoint := fmt.Sprintf("opc.tcp://%s/", addr)

	conn, err := uacp.Dial(context.Background(), endpoint, time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	local := ua.ConnectionConfig{RecvBufferSize: 0x10000, SendBufferSize: 0x10000}
	_, err = uacp.HelloAckHandshake(conn, endpoint, local, 100*time.Millisecond)
	if err != ua.StatusBadTimeout {
		t.Fatalf("got %v, want StatusBadTimeout", err)
	}
}

func TestDialInvalidURL(t *testing.T) {
	_, err := uacp.Dial(context.Background(), "not a url \x7f", time.Second)
	if err == nil {
		t.Fatal("expected error for invalid endpoint url")
	}
}
