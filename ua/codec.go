// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"encoding/binary"
	"io"
)

// Encoder writes the little-endian primitives used throughout the UACP
// and UASC wire formats into an in-memory buffer.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with buf as its initial backing array.
// buf's existing contents, if any, are preserved and writes are appended.
func NewEncoder(buf []byte) *Encoder {
	return &Encoder{buf: buf}
}

// Bytes returns the accumulated buffer.
func (e *Encoder) Bytes() []byte { return e.buf }

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return len(e.buf) }

// WriteUint32 appends v in little-endian byte order.
func (e *Encoder) WriteUint32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// WriteString appends a length-prefixed UTF-8 string. A nil/empty string is
// encoded with length 0xFFFFFFFF per Part 6, 5.2.2.4 ("null string").
func (e *Encoder) WriteString(s string) {
	if s == "" {
		e.WriteUint32(0xFFFFFFFF)
		return
	}
	e.WriteUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// WriteBytes appends a length-prefixed byte string.
func (e *Encoder) WriteBytes(b []byte) {
	if b == nil {
		e.WriteUint32(0xFFFFFFFF)
		return
	}
	e.WriteUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// PutUint32At overwrites the 4 bytes at offset with v, used to backpatch
// the transport message header's size field once the body length is known.
func (e *Encoder) PutUint32At(offset int, v uint32) {
	binary.LittleEndian.PutUint32(e.buf[offset:offset+4], v)
}

// Decoder reads the primitives written by Encoder back out of a byte slice.
type Decoder struct {
	buf []byte
	off int
	err error
}

// NewDecoder returns a Decoder over buf.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Err returns the first error encountered, if any.
func (d *Decoder) Err() error { return d.err }

// Pos returns the current read offset.
func (d *Decoder) Pos() int { return d.off }

func (d *Decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

// ReadUint32 returns the next little-endian uint32, or 0 on underrun.
func (d *Decoder) ReadUint32() uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.buf) {
		d.fail(io.ErrUnexpectedEOF)
		return 0
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

// ReadString returns the next length-prefixed UTF-8 string.
func (d *Decoder) ReadString() string {
	b := d.ReadBytes()
	if b == nil {
		return ""
	}
	return string(b)
}

// ReadBytes returns the next length-prefixed byte string, or nil for the
// encoded "null" marker (0xFFFFFFFF).
func (d *Decoder) ReadBytes() []byte {
	if d.err != nil {
		return nil
	}
	n := d.ReadUint32()
	if d.err != nil {
		return nil
	}
	if n == 0xFFFFFFFF {
		return nil
	}
	if d.off+int(n) > len(d.buf) {
		d.fail(io.ErrUnexpectedEOF)
		return nil
	}
	b := d.buf[d.off : d.off+int(n)]
	d.off += int(n)
	return b
}

// Remaining returns the unread tail of the buffer.
func (d *Decoder) Remaining() []byte {
	return d.buf[d.off:]
}
