// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import "fmt"

// MessageType is the 3-letter ASCII transport message type carried in the
// low 24 bits of a TcpMessageHeader.
type MessageType uint32

// Transport message types. Part 6, 7.1.
const (
	MessageTypeHello        MessageType = 'H' | 'E'<<8 | 'L'<<16
	MessageTypeAcknowledge  MessageType = 'A' | 'C'<<8 | 'K'<<16
	MessageTypeError        MessageType = 'E' | 'R'<<8 | 'R'<<16
	MessageTypeOpenSecure   MessageType = 'O' | 'P'<<8 | 'N'<<16
	MessageTypeMessage      MessageType = 'M' | 'S'<<8 | 'G'<<16
	MessageTypeCloseSecure  MessageType = 'C' | 'L'<<8 | 'O'<<16
)

// ChunkType is the high byte of a TcpMessageHeader's messageTypeAndChunkType.
type ChunkType byte

// Chunk types. Part 6, 7.1.
const (
	ChunkTypeFinal        ChunkType = 'F'
	ChunkTypeIntermediate ChunkType = 'C'
	ChunkTypeAbort        ChunkType = 'A'
)

// HeaderLen is the fixed size of a TcpMessageHeader.
const HeaderLen = 8

// TransportHeader is the 8-byte header that prefixes every HEL/ACK/OPN/
// MSG/CLO message: 4 bytes message-type-and-chunk-type, 4 bytes
// little-endian total message size including this header.
type TransportHeader struct {
	MessageType MessageType
	ChunkType   ChunkType
	MessageSize uint32
}

// Encode writes the header at the start of the enc buffer. Callers
// typically reserve HeaderLen bytes, encode the body, then call Encode to
// backpatch the header once MessageSize is known.
func (h *TransportHeader) Encode(enc *Encoder) {
	typeAndChunk := uint32(h.MessageType) | uint32(h.ChunkType)<<24
	enc.PutUint32At(0, typeAndChunk)
	enc.PutUint32At(4, h.MessageSize)
}

// Decode reads a TransportHeader from the front of dec.
func (h *TransportHeader) Decode(dec *Decoder) {
	typeAndChunk := dec.ReadUint32()
	h.MessageType = MessageType(typeAndChunk & 0x00FFFFFF)
	h.ChunkType = ChunkType(typeAndChunk >> 24)
	h.MessageSize = dec.ReadUint32()
}

func (h TransportHeader) String() string {
	return fmt.Sprintf("%s/%c size=%d", messageTypeName(h.MessageType), h.ChunkType, h.MessageSize)
}

func messageTypeName(t MessageType) string {
	switch t {
	case MessageTypeHello:
		return "HEL"
	case MessageTypeAcknowledge:
		return "ACK"
	case MessageTypeError:
		return "ERR"
	case MessageTypeOpenSecure:
		return "OPN"
	case MessageTypeMessage:
		return "MSG"
	case MessageTypeCloseSecure:
		return "CLO"
	default:
		return "???"
	}
}

// Hello is the UACP Hello message body (Part 6, 7.1.2.2).
type Hello struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
	EndpointURL       string
}

// Encode appends the Hello body to enc.
func (h *Hello) Encode(enc *Encoder) {
	enc.WriteUint32(h.ProtocolVersion)
	enc.WriteUint32(h.ReceiveBufferSize)
	enc.WriteUint32(h.SendBufferSize)
	enc.WriteUint32(h.MaxMessageSize)
	enc.WriteUint32(h.MaxChunkCount)
	enc.WriteString(h.EndpointURL)
}

// Decode reads a Hello body from dec.
func (h *Hello) Decode(dec *Decoder) {
	h.ProtocolVersion = dec.ReadUint32()
	h.ReceiveBufferSize = dec.ReadUint32()
	h.SendBufferSize = dec.ReadUint32()
	h.MaxMessageSize = dec.ReadUint32()
	h.MaxChunkCount = dec.ReadUint32()
	h.EndpointURL = dec.ReadString()
}

// Acknowledge is the UACP Acknowledge message body (Part 6, 7.1.2.3); it
// has the same layout as Hello minus the endpoint URL.
type Acknowledge struct {
	ProtocolVersion   uint32
	ReceiveBufferSize uint32
	SendBufferSize    uint32
	MaxMessageSize    uint32
	MaxChunkCount     uint32
}

// Encode appends the Acknowledge body to enc.
func (a *Acknowledge) Encode(enc *Encoder) {
	enc.WriteUint32(a.ProtocolVersion)
	enc.WriteUint32(a.ReceiveBufferSize)
	enc.WriteUint32(a.SendBufferSize)
	enc.WriteUint32(a.MaxMessageSize)
	enc.WriteUint32(a.MaxChunkCount)
}

// Decode reads an Acknowledge body from dec.
func (a *Acknowledge) Decode(dec *Decoder) {
	a.ProtocolVersion = dec.ReadUint32()
	a.ReceiveBufferSize = dec.ReadUint32()
	a.SendBufferSize = dec.ReadUint32()
	a.MaxMessageSize = dec.ReadUint32()
	a.MaxChunkCount = dec.ReadUint32()
}

// ConnectionConfig describes the local transport limits negotiated during
// HEL/ACK (spec.md §3 ClientConfig, §4.2).
type ConnectionConfig struct {
	RecvBufferSize  uint32
	SendBufferSize  uint32
	MaxMessageSize  uint32
	MaxChunkCount   uint32
}

// Min returns the effective connection config (spec.md §4.2): the local
// receive buffer size against the remote send buffer size, the local
// send buffer size against the remote receive buffer size, and max
// message size and max chunk count against their remote counterparts,
// each taking the smaller value (0 counts as unlimited for the last two).
func (c ConnectionConfig) Min(remote ConnectionConfig) ConnectionConfig {
	return ConnectionConfig{
		RecvBufferSize: minU32(c.RecvBufferSize, remote.SendBufferSize),
		SendBufferSize: minU32(c.SendBufferSize, remote.RecvBufferSize),
		MaxMessageSize: minNonZeroU32(c.MaxMessageSize, remote.MaxMessageSize),
		MaxChunkCount:  minNonZeroU32(c.MaxChunkCount, remote.MaxChunkCount),
	}
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// minNonZeroU32 treats 0 as "unlimited": the minimum is the smaller of the
// two values unless one side is 0, in which case the other side wins.
func minNonZeroU32(a, b uint32) uint32 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return minU32(a, b)
	}
}
