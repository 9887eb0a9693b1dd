// Copyright 2018-2020 opcua authors. All rights reserved.
// Use of this source code is governed by a MIT-style license that can be
// found in the LICENSE file.

package uasc

import (
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"

	"github.com/imatic-tech/opcua/errors"
	"github.com/imatic-tech/opcua/ua"
)

// SymmetricKeys is the key material derived from a nonce pair (spec.md
// §3, "symmetric key material derived from the nonce pair").
type SymmetricKeys struct {
	SigningKey    []byte
	EncryptionKey []byte
	IV            []byte
}

// SecurityPolicy is the table-by-URI interface spec.md §6 calls "Security
// policy (consumed)": asymmetric and symmetric cryptographic primitives
// plus the local certificate and nonce length a channel bound to this
// policy uses. Full conformance with every OPC UA Part 6 security
// profile is out of scope (spec.md §1 lists security policy internals as
// an external collaborator); this implements only the operation shapes
// the connection-establishment core calls.
type SecurityPolicy interface {
	URI() string
	NonceLength() int
	LocalCertificate() []byte

	AsymmetricSign(priv *rsa.PrivateKey, data []byte) (sig []byte, alg string, err error)
	AsymmetricVerify(cert []byte, data, sig []byte) error
	AsymmetricEncrypt(cert []byte, data []byte) ([]byte, error)
	AsymmetricDecrypt(priv *rsa.PrivateKey, data []byte) ([]byte, error)

	DeriveSymmetricKeys(localNonce, remoteNonce []byte) (local, remote *SymmetricKeys, err error)
	SymmetricSign(key, data []byte) ([]byte, error)
	SymmetricEncrypt(key, iv, data []byte) ([]byte, error)
	SymmetricDecrypt(key, iv, data []byte) ([]byte, error)
}

// NewSecurityPolicy looks up a SecurityPolicy by URI. An empty URI is
// rejected like any unknown one; NewSecureChannel substitutes
// ua.SecurityPolicyURINone for an empty URI before calling it.
func NewSecurityPolicy(uri string, cert []byte) (SecurityPolicy, error) {
	switch uri {
	case ua.SecurityPolicyURINone:
		return &noneSecurityPolicy{}, nil
	case SecurityPolicyURIBasic256Sha256:
		return &basic256Sha256{localCert: cert}, nil
	default:
		return nil, errors.Errorf("uasc: unknown security policy %q", uri)
	}
}

// SecurityPolicyURIBasic256Sha256 is the one non-None profile this core
// carries, grounded on Part 7's Basic256Sha256 suite.
const SecurityPolicyURIBasic256Sha256 = "http://opcfoundation.org/UA/SecurityPolicy#Basic256Sha256"

// noneSecurityPolicy implements SecurityPolicy with no cryptography at
// all: every asymmetric operation is a no-op and nonces are empty.
type noneSecurityPolicy struct{}

func (p *noneSecurityPolicy) URI() string             { return ua.SecurityPolicyURINone }
func (p *noneSecurityPolicy) NonceLength() int         { return 0 }
func (p *noneSecurityPolicy) LocalCertificate() []byte { return nil }

func (p *noneSecurityPolicy) AsymmetricSign(*rsa.PrivateKey, []byte) ([]byte, string, error) {
	return nil, "", nil
}
func (p *noneSecurityPolicy) AsymmetricVerify([]byte, []byte, []byte) error { return nil }
func (p *noneSecurityPolicy) AsymmetricEncrypt(_ []byte, data []byte) ([]byte, error) {
	return data, nil
}
func (p *noneSecurityPolicy) AsymmetricDecrypt(_ *rsa.PrivateKey, data []byte) ([]byte, error) {
	return data, nil
}
func (p *noneSecurityPolicy) DeriveSymmetricKeys(_, _ []byte) (*SymmetricKeys, *SymmetricKeys, error) {
	return &SymmetricKeys{}, &SymmetricKeys{}, nil
}
func (p *noneSecurityPolicy) SymmetricSign(_, _ []byte) ([]byte, error) { return nil, nil }
func (p *noneSecurityPolicy) SymmetricEncrypt(_, _ []byte, data []byte) ([]byte, error) {
	return data, nil
}
func (p *noneSecurityPolicy) SymmetricDecrypt(_, _ []byte, data []byte) ([]byte, error) {
	return data, nil
}

// basic256Sha256 implements SecurityPolicy using RSA-OAEP/PKCS1v15 for
// asymmetric operations, AES-256-CBC + HMAC-SHA256 for symmetric
// operations, and the Part 6 P_SHA256 pseudo-random function for key
// derivation.
type basic256Sha256 struct {
	localCert []byte
}

func (p *basic256Sha256) URI() string             { return SecurityPolicyURIBasic256Sha256 }
func (p *basic256Sha256) NonceLength() int         { return 32 }
func (p *basic256Sha256) LocalCertificate() []byte { return p.localCert }

func (p *basic256Sha256) AsymmetricSign(priv *rsa.PrivateKey, data []byte) ([]byte, string, error) {
	if priv == nil {
		return nil, "", errors.Errorf("uasc: basic256sha256: no private key configured")
	}
	h := sha256.Sum256(data)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, h[:])
	if err != nil {
		return nil, "", errors.Wrap(err, "uasc: basic256sha256: sign")
	}
	return sig, "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256", nil
}

func (p *basic256Sha256) AsymmetricVerify(cert []byte, data, sig []byte) error {
	pub, err := parseRSAPublicKey(cert)
	if err != nil {
		return err
	}
	h := sha256.Sum256(data)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, h[:], sig); err != nil {
		return errors.Wrap(err, "uasc: basic256sha256: verify")
	}
	return nil
}

func (p *basic256Sha256) AsymmetricEncrypt(cert []byte, data []byte) ([]byte, error) {
	pub, err := parseRSAPublicKey(cert)
	if err != nil {
		return nil, err
	}
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "uasc: basic256sha256: encrypt")
	}
	return out, nil
}

func (p *basic256Sha256) AsymmetricDecrypt(priv *rsa.PrivateKey, data []byte) ([]byte, error) {
	if priv == nil {
		return nil, errors.Errorf("uasc: basic256sha256: no private key configured")
	}
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, data, nil)
	if err != nil {
		return nil, errors.Wrap(err, "uasc: basic256sha256: decrypt")
	}
	return out, nil
}

func (p *basic256Sha256) DeriveSymmetricKeys(localNonce, remoteNonce []byte) (*SymmetricKeys, *SymmetricKeys, error) {
	// Part 6, 6.7.5: keys used to protect messages FROM the client are
	// derived from the server's nonce, and vice versa.
	const signingKeyLen, encryptKeyLen, ivLen = 32, 32, 16
	total := signingKeyLen + encryptKeyLen + ivLen

	localBytes := pSHA256(remoteNonce, localNonce, total)
	remoteBytes := pSHA256(localNonce, remoteNonce, total)

	local := &SymmetricKeys{
		SigningKey:    localBytes[:signingKeyLen],
		EncryptionKey: localBytes[signingKeyLen : signingKeyLen+encryptKeyLen],
		IV:            localBytes[signingKeyLen+encryptKeyLen:],
	}
	remote := &SymmetricKeys{
		SigningKey:    remoteBytes[:signingKeyLen],
		EncryptionKey: remoteBytes[signingKeyLen : signingKeyLen+encryptKeyLen],
		IV:            remoteBytes[signingKeyLen+encryptKeyLen:],
	}
	return local, remote, nil
}

func (p *basic256Sha256) SymmetricSign(key, data []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil), nil
}

func (p *basic256Sha256) SymmetricEncrypt(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "uasc: basic256sha256: aes cipher")
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.Errorf("uasc: basic256sha256: data not a multiple of the block size")
	}
	out := make([]byte, len(data))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func (p *basic256Sha256) SymmetricDecrypt(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "uasc: basic256sha256: aes cipher")
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, errors.Errorf("uasc: basic256sha256: data not a multiple of the block size")
	}
	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)
	return out, nil
}

func parseRSAPublicKey(cert []byte) (*rsa.PublicKey, error) {
	c, err := x509.ParseCertificate(cert)
	if err != nil {
		return nil, errors.Wrap(err, "uasc: parsing certificate")
	}
	pub, ok := c.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("uasc: certificate does not carry an RSA public key")
	}
	return pub, nil
}

// pSHA256 implements the P_SHA256 pseudo-random function of Part 6,
// 6.7.5 / RFC 5246 5: repeated HMAC-SHA256 expansion of secret/seed into
// n bytes of key material.
func pSHA256(secret, seed []byte, n int) []byte {
	out := make([]byte, 0, n)
	a := hmacSHA256(secret, seed)
	for len(out) < n {
		out = append(out, hmacSHA256(secret, append(append([]byte{}, a...), seed...))...)
		a = hmacSHA256(secret, a)
	}
	return out[:n]
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
