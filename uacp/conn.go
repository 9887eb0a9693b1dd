// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package uacp implements the UACP transport layer: the raw TCP stream,
// its buffer allocation primitives, and the 8-byte transport message
// header that prefixes every HEL/ACK/OPN/MSG/CLO message (spec.md §6,
// "Transport driver").
package uacp

import (
	"context"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/imatic-tech/opcua/debug"
	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
)

// State is the lifecycle of a Conn, spec.md §2 item 1.
type State int

const (
	StateOpening State = iota
	StateEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultConnectionConfig is the local connection config advertised in
// Hello when the caller does not provide one.
var DefaultConnectionConfig = ua.ConnectionConfig{
	RecvBufferSize: 0x10000,
	SendBufferSize: 0x10000,
	MaxMessageSize: 0,
	MaxChunkCount:  0,
}

// minSendBufferSize is the minimum size spec.md §4.2 requires the HEL send
// buffer to be.
const minSendBufferSize = 8192

// Conn is a UACP connection: a raw TCP byte stream plus send-buffer
// allocation. It has no knowledge of HEL/ACK, OPN, or any OPC UA
// semantics above the transport message header - those belong to the
// core (spec.md §4.2, §4.3) which drives Conn through GetSendBuffer,
// Send and ReceiveChunksBlocking.
type Conn struct {
	nc net.Conn

	mu    sync.Mutex
	state State
}

// Dial opens a TCP connection to the host:port encoded in endpointURL
// (an "opc.tcp://host:port/path" URL). The returned Conn is in state
// established on success, matching spec.md §4.5 step 5 ("On non-opening
// state, fail"): a Go net.Dial either succeeds synchronously or returns
// an error, so there is no observable intermediate "opening" state on
// the happy path.
func Dial(ctx context.Context, endpointURL string, timeout time.Duration) (*Conn, error) {
	host, err := hostPort(endpointURL)
	if err != nil {
		return nil, err
	}

	d := net.Dialer{}
	dialCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	nc, err := d.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, errors.Wrapf(err, "uacp: dial %s", host)
	}

	debug.Printf("uacp: TCP connection established to %s", host)
	return &Conn{nc: nc, state: StateEstablished}, nil
}

func hostPort(endpointURL string) (string, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", errors.Wrapf(err, "uacp: invalid endpoint url %q", endpointURL)
	}
	if u.Host == "" {
		return "", errors.Errorf("uacp: invalid endpoint url %q: missing host", endpointURL)
	}
	return u.Host, nil
}

// State returns the connection's current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// GetSendBuffer returns a zeroed buffer of at least minSize bytes and at
// least the transport minimum of 8192 bytes, spec.md §6.
func (c *Conn) GetSendBuffer(minSize int) ([]byte, error) {
	if c.State() == StateClosed {
		return nil, ua.StatusBadConnectionClosed
	}
	if minSize < minSendBufferSize {
		minSize = minSendBufferSize
	}
	return make([]byte, minSize), nil
}

// ReleaseSendBuffer is a no-op: buffers are garbage collected rather than
// pooled. Kept to satisfy the transport driver interface of spec.md §6.
func (c *Conn) ReleaseSendBuffer([]byte) {}

// Send writes buf to the wire in full.
func (c *Conn) Send(buf []byte) error {
	if c.State() == StateClosed {
		return ua.StatusBadConnectionClosed
	}
	if _, err := c.nc.Write(buf); err != nil {
		return errors.Wrap(err, "uacp: send failed")
	}
	return nil
}

// ChunkCallback is invoked once per complete transport message. Returning
// done=true stops ReceiveChunksBlocking before the deadline elapses.
type ChunkCallback func(header ua.TransportHeader, body []byte) (done bool, err error)

// ReceiveChunksBlocking reads complete transport messages from the wire
// until cb returns done, an error occurs, or timeout elapses, matching
// spec.md §6 ("receiveChunksBlocking(channel, app, callback, timeoutMs)").
func (c *Conn) ReceiveChunksBlocking(cb ChunkCallback, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if timeout > 0 {
			if err := c.nc.SetReadDeadline(deadline); err != nil {
				return errors.Wrap(err, "uacp: set read deadline")
			}
		}

		var hdrBuf [ua.HeaderLen]byte
		if _, err := io.ReadFull(c.nc, hdrBuf[:]); err != nil {
			return translateReadError(err)
		}

		dec := ua.NewDecoder(hdrBuf[:])
		var header ua.TransportHeader
		header.Decode(dec)
		if header.MessageSize < ua.HeaderLen {
			return errors.Errorf("uacp: invalid message size %d", header.MessageSize)
		}

		body := make([]byte, header.MessageSize-ua.HeaderLen)
		if len(body) > 0 {
			if _, err := io.ReadFull(c.nc, body); err != nil {
				return translateReadError(err)
			}
		}

		debug.Printf("uacp: received %s", header)

		done, err := cb(header, body)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return ua.StatusBadTimeout
		}
	}
}

func translateReadError(err error) error {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return ua.StatusBadTimeout
	}
	if err == io.EOF {
		return ua.StatusBadConnectionClosed
	}
	return errors.Wrap(err, "uacp: receive failed")
}

// Close closes the underlying TCP connection. Calling Close more than
// once is safe.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	c.mu.Unlock()
	return c.nc.Close()
}

// HelloAckHandshake implements spec.md §4.2: encode Hello at offset 8,
// backpatch the transport header, send it, then block for a single ACK
// chunk. It returns the server's advertised limits so the caller (the
// SecureChannel) can compute the effective min(local, remote) config.
func HelloAckHandshake(c *Conn, endpointURL string, local ua.ConnectionConfig, timeout time.Duration) (ua.ConnectionConfig, error) {
	buf, err := c.GetSendBuffer(minSendBufferSize)
	if err != nil {
		return ua.ConnectionConfig{}, err
	}
	defer c.ReleaseSendBuffer(buf)

	enc := ua.NewEncoder(buf[:ua.HeaderLen])
	hello := ua.Hello{
		ProtocolVersion:   0,
		ReceiveBufferSize: local.RecvBufferSize,
		SendBufferSize:    local.SendBufferSize,
		MaxMessageSize:    local.MaxMessageSize,
		MaxChunkCount:     local.MaxChunkCount,
		EndpointURL:       endpointURL,
	}
	hello.Encode(enc)

	header := ua.TransportHeader{
		MessageType: ua.MessageTypeHello,
		ChunkType:   ua.ChunkTypeFinal,
		MessageSize: uint32(enc.Len()),
	}
	header.Encode(enc)

	if err := c.Send(enc.Bytes()); err != nil {
		debug.Printf("uacp: sending HEL failed: %v", err)
		return ua.ConnectionConfig{}, err
	}
	debug.Printf("uacp: sent HEL message")

	var remote ua.ConnectionConfig
	var ackErr error
	recvErr := c.ReceiveChunksBlocking(func(header ua.TransportHeader, body []byte) (bool, error) {
		if header.MessageType != ua.MessageTypeAcknowledge {
			ackErr = errors.Errorf("uacp: expected ACK, got %s", header)
			return true, nil
		}
		dec := ua.NewDecoder(body)
		var ack ua.Acknowledge
		ack.Decode(dec)
		if dec.Err() != nil {
			ackErr = errors.Wrap(dec.Err(), "uacp: decoding ACK message failed")
			return true, nil
		}
		remote = ua.ConnectionConfig{
			RecvBufferSize: ack.ReceiveBufferSize,
			SendBufferSize: ack.SendBufferSize,
			MaxMessageSize: ack.MaxMessageSize,
			MaxChunkCount:  ack.MaxChunkCount,
		}
		debug.Printf("uacp: received ACK message")
		return true, nil
	}, timeout)

	if recvErr != nil {
		debug.Printf("uacp: receiving ACK message failed: %v", recvErr)
		return ua.ConnectionConfig{}, recvErr
	}
	if ackErr != nil {
		return ua.ConnectionConfig{}, ackErr
	}
	return remote, nil
}
