// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"testing"

	"github.com/pascaldekloe/goe/verify"
)

func TestTransportHeaderRoundTrip(t *testing.T) {
	want := TransportHeader{MessageType: MessageTypeOpenSecure, ChunkType: ChunkTypeFinal, MessageSize: 128}

	enc := NewEncoder(make([]byte, HeaderLen))
	want.Encode(enc)

	dec := NewDecoder(enc.Bytes())
	var got TransportHeader
	got.Decode(dec)
	if dec.Err() != nil {
		t.Fatalf("decode: %v", dec.Err())
	}
	verify.Values(t, "", got, want)
}

func TestHelloRoundTrip(t *testing.T) {
	want := Hello{
		ProtocolVersion:   0,
		ReceiveBufferSize: 0x10000,
		SendBufferSize:    0x10000,
		MaxMessageSize:    0x100000,
		MaxChunkCount:     10,
		EndpointURL:       "opc.tcp://localhost:4840",
	}
	enc := NewEncoder(nil)
	want.Encode(enc)

	dec := NewDecoder(enc.Bytes())
	var got Hello
	got.Decode(dec)
	if dec.Err() != nil {
		t.Fatalf("decode: %v", dec.Err())
	}
	verify.Values(t, "", got, want)
}

func TestStringEncodingNullSentinel(t *testing.T) {
	enc := NewEncoder(nil)
	enc.WriteString("")
	dec := NewDecoder(enc.Bytes())
	if got := dec.ReadString(); got != "" {
		t.Fatalf("got %q, want empty string", got)
	}
	if len(enc.Bytes()) != 4 {
		t.Fatalf("null string should encode as just the 4-byte length sentinel, got %d bytes", len(enc.Bytes()))
	}
}

func TestDecoderUnderrun(t *testing.T) {
	dec := NewDecoder([]byte{1, 2})
	_ = dec.ReadUint32()
	if dec.Err() == nil {
		t.Fatal("expected an error reading past the end of the buffer")
	}
}

func TestNodeIDRoundTrip(t *testing.T) {
	tests := []*NodeID{
		NewNumericNodeID(0, 0),
		NewNumericNodeID(2, 42),
		NewStringNodeID(1, "widget.temperature"),
	}
	for _, want := range tests {
		enc := NewEncoder(nil)
		encodeNodeID(enc, want)
		dec := NewDecoder(enc.Bytes())
		got := decodeNodeID(dec)
		if dec.Err() != nil {
			t.Fatalf("decode %s: %v", want, dec.Err())
		}
		verify.Values(t, "", got, want)
	}
}

func TestParseNodeID(t *testing.T) {
	tests := []struct {
		in   string
		want *NodeID
	}{
		{"i=42", NewNumericNodeID(0, 42)},
		{"ns=2;i=42", NewNumericNodeID(2, 42)},
		{"ns=2;s=foo", NewStringNodeID(2, "foo")},
		{"", &NodeID{}},
	}
	for _, tt := range tests {
		got, err := ParseNodeID(tt.in)
		if err != nil {
			t.Fatalf("ParseNodeID(%q): %v", tt.in, err)
		}
		verify.Values(t, tt.in, got, tt.want)
	}
}

func TestParseNodeIDInvalid(t *testing.T) {
	if _, err := ParseNodeID("not-a-node-id"); err == nil {
		t.Fatal("expected an error for unsupported node id syntax")
	}
}

func TestServiceBodyRoundTrip(t *testing.T) {
	req := &GetEndpointsRequest{
		RequestHeader: &RequestHeader{RequestHandle: 7, TimeoutHint: 5000},
		EndpointURL:   "opc.tcp://localhost:4840",
	}
	enc := NewEncoder(nil)
	if _, err := EncodeBody(enc, req); err != nil {
		t.Fatalf("EncodeBody: %v", err)
	}

	dec := NewDecoder(enc.Bytes())
	tag := dec.ReadUint32()
	if tag != TypeIDGetEndpointsRequest {
		t.Fatalf("tag = %d, want %d", tag, TypeIDGetEndpointsRequest)
	}
	v, err := DecodeBody(tag, dec)
	if err != nil {
		t.Fatalf("DecodeBody: %v", err)
	}
	got, ok := v.(*GetEndpointsRequest)
	if !ok {
		t.Fatalf("decoded %T, want *GetEndpointsRequest", v)
	}
	if got.EndpointURL != req.EndpointURL || got.RequestHeader.RequestHandle != req.RequestHeader.RequestHandle {
		t.Fatalf("got %+v, want %+v", got, req)
	}
}

func TestStatusCodeGoodBad(t *testing.T) {
	if !StatusOK.IsGood() || StatusOK.IsBad() {
		t.Fatal("StatusOK should be good")
	}
	if !StatusBadTimeout.IsBad() || StatusBadTimeout.IsGood() {
		t.Fatal("StatusBadTimeout should be bad")
	}
}
