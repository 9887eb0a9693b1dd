// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/rsa"
	"os"

	"golang.org/x/crypto/pkcs12"

	"github.com/imatic-tech/opcua/errors"
)

// LoadPKCS12 loads a client certificate and RSA private key from a
// password-protected PKCS#12 (.pfx/.p12) bundle, the format most OPC UA
// tooling exports client identities in. The returned certificate is DER
// encoded, ready to hand to opcua.Certificate.
func LoadPKCS12(path, password string) (cert []byte, key *rsa.PrivateKey, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "uasc: reading pkcs12 bundle %q", path)
	}
	return DecodePKCS12(raw, password)
}

// DecodePKCS12 is the in-memory counterpart of LoadPKCS12.
func DecodePKCS12(raw []byte, password string) (cert []byte, key *rsa.PrivateKey, err error) {
	privKey, certificate, err := pkcs12.Decode(raw, password)
	if err != nil {
		return nil, nil, errors.Wrap(err, "uasc: decoding pkcs12 bundle")
	}
	rsaKey, ok := privKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, errors.Errorf("uasc: pkcs12 bundle does not contain an RSA private key")
	}
	return certificate.Raw, rsaKey, nil
}
