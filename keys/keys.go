// Package keys provides the signing credentials used by the signer: a private
// key together with the certificate whose public key matches it, and the
// certificate chain that travels with it.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"fmt"
)

// Common errors
var (
	ErrNoKeyFound     = errors.New("no private key found in data")
	ErrUnknownKeyType = errors.New("unknown private key type")
)

// Credential is a private key with its matching certificate.
type Credential struct {
	// PrivateKey signs the authenticated attributes.
	PrivateKey crypto.Signer

	// Certificate is the certificate whose public key matches PrivateKey.
	Certificate *x509.Certificate

	// Chain holds every certificate found next to the key, in source order.
	// It includes Certificate.
	Chain []*x509.Certificate
}

// CertificateSet returns the certificates to embed in a signature: the signer
// certificate first, then the rest of the chain without duplicates.
func (c *Credential) CertificateSet() []*x509.Certificate {
	set := []*x509.Certificate{c.Certificate}
	for _, cert := range c.Chain {
		dup := false
		for _, seen := range set {
			if cert.Equal(seen) {
				dup = true
				break
			}
		}
		if !dup {
			set = append(set, cert)
		}
	}
	return set
}

// PublicKeyMatches reports whether cert carries the public key pub. RSA keys
// match on modulus and exponent.
func PublicKeyMatches(pub crypto.PublicKey, cert *x509.Certificate) bool {
	if cert == nil {
		return false
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		c, ok := cert.PublicKey.(*rsa.PublicKey)
		return ok && k.N.Cmp(c.N) == 0 && k.E == c.E
	case *ecdsa.PublicKey:
		c, ok := cert.PublicKey.(*ecdsa.PublicKey)
		return ok && k.Equal(c)
	case ed25519.PublicKey:
		c, ok := cert.PublicKey.(ed25519.PublicKey)
		return ok && k.Equal(c)
	default:
		return false
	}
}

// parsePrivateKeyDER parses a DER encoded private key in PKCS#8, PKCS#1 or
// SEC 1 form.
func parsePrivateKeyDER(data []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

// toPrivateKey narrows a parsed key to one of the supported signer types.
func toPrivateKey(key interface{}) (crypto.Signer, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	case ed25519.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

// KeyInfo contains information about a private key.
type KeyInfo struct {
	// Algorithm is the key algorithm (RSA, ECDSA, Ed25519)
	Algorithm string

	// BitSize is the key size in bits (for RSA)
	BitSize int

	// Curve is the elliptic curve name (for ECDSA)
	Curve string
}

// GetKeyInfo describes the public half of a signer.
func GetKeyInfo(key crypto.Signer) KeyInfo {
	switch k := key.Public().(type) {
	case *rsa.PublicKey:
		return KeyInfo{Algorithm: "RSA", BitSize: k.N.BitLen()}
	case *ecdsa.PublicKey:
		return KeyInfo{Algorithm: "ECDSA", Curve: k.Curve.Params().Name}
	case ed25519.PublicKey:
		return KeyInfo{Algorithm: "Ed25519"}
	default:
		return KeyInfo{Algorithm: "Unknown"}
	}
}
