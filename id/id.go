// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

// Package id carries the small subset of the numeric type ids from the
// OPC UA Part 6 Annex A node-id table this core needs to encode
// ExtensionObjects: the binary DefaultBinary encoding ids for the
// identity token types exchanged during session activation.
package id

// DefaultBinary encoding ids, Part 6 Annex A / Part 4, 7.35-7.38.
const (
	AnonymousIdentityToken_Encoding_DefaultBinary uint32 = 321
	UserNameIdentityToken_Encoding_DefaultBinary  uint32 = 324
	X509IdentityToken_Encoding_DefaultBinary      uint32 = 327
	IssuedIdentityToken_Encoding_DefaultBinary    uint32 = 938
)
