// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto/rsa"

	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
)

// NewSessionSignature produces the ClientSignature field of
// ActivateSessionRequest: a signature over the
// server's certificate concatenated with the server's nonce, proving
// possession of the client's private key (Part 4, 5.6.2).
func NewSessionSignature(policy SecurityPolicy, priv *rsa.PrivateKey, serverCert, serverNonce []byte) (*ua.SignatureData, error) {
	if policy.NonceLength() == 0 {
		return &ua.SignatureData{}, nil
	}
	data := append(append([]byte{}, serverCert...), serverNonce...)
	sig, alg, err := policy.AsymmetricSign(priv, data)
	if err != nil {
		return nil, errors.Wrap(err, "uasc: signing session signature")
	}
	return &ua.SignatureData{Algorithm: alg, Signature: sig}, nil
}

// VerifySessionSignature checks the ServerSignature returned in
// CreateSessionResponse: it must be a signature, by the server's
// private key, over the client's certificate concatenated with the
// client's nonce (Part 4, 5.6.2).
func VerifySessionSignature(policy SecurityPolicy, serverCert, clientCert, clientNonce []byte, sig *ua.SignatureData) error {
	if policy.NonceLength() == 0 {
		return nil
	}
	if sig == nil || len(sig.Signature) == 0 {
		return errors.Errorf("uasc: server did not return a session signature")
	}
	data := append(append([]byte{}, clientCert...), clientNonce...)
	return policy.AsymmetricVerify(serverCert, data, sig.Signature)
}

// NewUserTokenSignature signs the server's certificate and nonce with
// the private key belonging to an X.509 identity token, proving
// possession of that certificate's key during ActivateSession (Part 4,
// 7.36.2).
func NewUserTokenSignature(policy SecurityPolicy, priv *rsa.PrivateKey, serverCert, serverNonce []byte) (*ua.SignatureData, error) {
	return NewSessionSignature(policy, priv, serverCert, serverNonce)
}

// EncryptUserPassword encrypts a UserNameIdentityToken's password for
// the wire: append the server's nonce to the password, prefix the
// combined bytes with their 4-byte length, and encrypt the result with
// the server's public key (Part 4, 7.36.3).
func EncryptUserPassword(policy SecurityPolicy, serverCert []byte, password string, serverNonce []byte) ([]byte, error) {
	if policy.NonceLength() == 0 {
		return []byte(password), nil
	}
	enc := ua.NewEncoder(nil)
	enc.WriteBytes(append([]byte(password), serverNonce...))
	out, err := policy.AsymmetricEncrypt(serverCert, enc.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "uasc: encrypting user password")
	}
	return out, nil
}
