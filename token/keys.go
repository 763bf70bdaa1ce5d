// Package token serializes and reads the credentials the server issues:
// RS256 JWTs for access and identity tokens, and opaque data-protected
// blobs for authorization codes and refresh tokens.
package token

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v3"
)

// SigningCredential pairs an asymmetric key with its algorithm and an
// optional X.509 certificate. The certificate, when present, drives the
// key identifier and the x5t/x5c members of the published JWK.
type SigningCredential struct {
	signer crypto.Signer
	cert   *x509.Certificate
	alg    jose.SignatureAlgorithm
	keyID  string
}

// NewSigningCredential builds a credential from a private key and an
// optional certificate.
func NewSigningCredential(signer crypto.Signer, cert *x509.Certificate) (*SigningCredential, error) {
	c := &SigningCredential{signer: signer, cert: cert}

	switch pub := signer.Public().(type) {
	case *rsa.PublicKey:
		c.alg = jose.RS256
		if cert != nil {
			c.keyID = certThumbprint(cert)
		} else {
			c.keyID = deriveKeyID(pub)
		}
	case *ecdsa.PublicKey:
		// Accepted so the credential can be listed, but it will never be
		// used to sign and is skipped on the cryptography endpoint.
		c.alg = jose.ES256
		if cert != nil {
			c.keyID = certThumbprint(cert)
		}
	default:
		return nil, fmt.Errorf("unsupported key type %T", pub)
	}

	return c, nil
}

// Algorithm returns the JWS algorithm for this credential.
func (c *SigningCredential) Algorithm() jose.SignatureAlgorithm { return c.alg }

// SupportsRS256 reports whether the credential can sign the tokens this
// server issues.
func (c *SigningCredential) SupportsRS256() bool { return c.alg == jose.RS256 }

// KeyID returns the key identifier carried in JWT headers and the JWKS.
func (c *SigningCredential) KeyID() string { return c.keyID }

// Certificate returns the X.509 certificate, or nil.
func (c *SigningCredential) Certificate() *x509.Certificate { return c.cert }

// Thumbprint returns the base64url SHA-1 certificate thumbprint for the
// x5t header, or "" when no certificate is attached.
func (c *SigningCredential) Thumbprint() string {
	if c.cert == nil {
		return ""
	}
	return certThumbprint(c.cert)
}

// JWK returns the public JSON Web Key advertised for this credential.
// Certificate-backed keys carry x5t and x5c; bare RSA keys expose e and n
// only.
func (c *SigningCredential) JWK() jose.JSONWebKey {
	k := jose.JSONWebKey{
		Key:       c.signer.Public(),
		KeyID:     c.keyID,
		Algorithm: string(c.alg),
		Use:       "sig",
	}
	if c.cert != nil {
		k.Certificates = []*x509.Certificate{c.cert}
		sum := sha1.Sum(c.cert.Raw)
		k.CertificateThumbprintSHA1 = sum[:]
	}
	return k
}

func (c *SigningCredential) signingKey() jose.SigningKey {
	return jose.SigningKey{
		Algorithm: c.alg,
		Key: &jose.JSONWebKey{
			Key:       c.signer,
			KeyID:     c.keyID,
			Algorithm: string(c.alg),
			Use:       "sig",
		},
	}
}

func certThumbprint(cert *x509.Certificate) string {
	sum := sha1.Sum(cert.Raw)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// deriveKeyID builds a key identifier for certificate-less RSA keys: the
// first 40 characters of the upper-cased base64url encoding of the
// modulus.
func deriveKeyID(pub *rsa.PublicKey) string {
	enc := strings.ToUpper(base64.RawURLEncoding.EncodeToString(pub.N.Bytes()))
	if len(enc) > 40 {
		enc = enc[:40]
	}
	return enc
}
