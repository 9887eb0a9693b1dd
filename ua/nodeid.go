// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package ua

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/imatic-tech/opcua/errors"
)

// NodeID identifies a node, a session, or a session's authentication
// token. Only the numeric and
// string identifier forms are needed by the connection establishment
// core; ExpandedNodeID/GUID/Opaque forms used elsewhere in the protocol
// are out of scope here.
type NodeID struct {
	Namespace uint16
	Numeric   uint32
	StringID  string
	isString  bool
}

// NewNumericNodeID returns a numeric NodeID in the given namespace.
func NewNumericNodeID(ns uint16, id uint32) *NodeID {
	return &NodeID{Namespace: ns, Numeric: id}
}

// NewStringNodeID returns a string NodeID in the given namespace.
func NewStringNodeID(ns uint16, id string) *NodeID {
	return &NodeID{Namespace: ns, StringID: id, isString: true}
}

// IsZero reports whether the NodeID is the zero/null NodeID (ns=0, i=0).
func (n *NodeID) IsZero() bool {
	return n == nil || (!n.isString && n.Namespace == 0 && n.Numeric == 0)
}

// String implements fmt.Stringer using the compact "ns=%d;i=%d" /
// "ns=%d;s=%s" notation from Part 6, Annex A.
func (n *NodeID) String() string {
	if n == nil {
		return "i=0"
	}
	if n.isString {
		return fmt.Sprintf("ns=%d;s=%s", n.Namespace, n.StringID)
	}
	return fmt.Sprintf("ns=%d;i=%d", n.Namespace, n.Numeric)
}

// ParseNodeID parses the compact "ns=2;s=foo" / "ns=2;i=42" / "i=42"
// textual notation used on the command line and in test fixtures.
func ParseNodeID(s string) (*NodeID, error) {
	if s == "" {
		return &NodeID{}, nil
	}
	var ns uint16
	parts := strings.Split(s, ";")
	ident := parts[len(parts)-1]
	for _, p := range parts[:len(parts)-1] {
		if strings.HasPrefix(p, "ns=") {
			v, err := strconv.ParseUint(strings.TrimPrefix(p, "ns="), 10, 16)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid namespace in node id %q", s)
			}
			ns = uint16(v)
		}
	}
	switch {
	case strings.HasPrefix(ident, "i="):
		v, err := strconv.ParseUint(strings.TrimPrefix(ident, "i="), 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid numeric identifier in node id %q", s)
		}
		return NewNumericNodeID(ns, uint32(v)), nil
	case strings.HasPrefix(ident, "s="):
		return NewStringNodeID(ns, strings.TrimPrefix(ident, "s=")), nil
	default:
		return nil, errors.Errorf("unsupported node id syntax %q", s)
	}
}
