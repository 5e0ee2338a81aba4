// Package cms builds and parses the detached CMS (PKCS#7) SignedData values
// embedded in PDF signature dictionaries.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/georgepadayatti/signpdf/keys"
)

// OIDs for CMS and signature algorithms
var (
	// Content types
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	// Digest algorithms
	OIDSHA1     = asn1.ObjectIdentifier{1, 3, 14, 3, 2, 26}
	OIDSHA224   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 4}
	OIDSHA256   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA3_224 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 7}
	OIDSHA3_256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}
	OIDSHA3_384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9}
	OIDSHA3_512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}

	// Signature algorithms
	OIDRSAEncryption   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 1}
	OIDSHA256WithRSA   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDRSAPSS          = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 10}
	OIDECDSAWithSHA256 = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDEd25519         = asn1.ObjectIdentifier{1, 3, 101, 112}

	// Signed attributes
	OIDContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
)

// Common errors
var (
	ErrUnsupportedKey     = errors.New("unsupported signing key type")
	ErrMissingCertificate = errors.New("missing certificate")
)

// AlgorithmIdentifier represents an algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo represents a CMS ContentInfo structure.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignedData represents a CMS SignedData structure.
type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	// Certificates keeps the signer certificate first. A set tag would make
	// encoding/asn1 sort the entries by their DER bytes.
	Certificates []asn1.RawValue `asn1:"optional,implicit,tag:0"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo represents encapsulated content. It carries no
// eContent for detached signatures.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignerInfo represents a signer's information.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,implicit,tag:1,set"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute represents a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// SignatureAlgorithm pairs the digest used for the message digest with the
// signature algorithm applied to the signed attributes.
type SignatureAlgorithm struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Hash               crypto.Hash
}

// Supported signing algorithms. The digest is always SHA-256.
var (
	SHA256WithRSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDSHA256WithRSA,
		Hash:               crypto.SHA256,
	}
	SHA256WithECDSA = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDECDSAWithSHA256,
		Hash:               crypto.SHA256,
	}
	SHA256WithEd25519 = SignatureAlgorithm{
		DigestAlgorithm:    OIDSHA256,
		SignatureAlgorithm: OIDEd25519,
		Hash:               crypto.SHA256,
	}
)

// AlgorithmForKey picks the signing algorithm for a public key.
func AlgorithmForKey(pub crypto.PublicKey) (SignatureAlgorithm, error) {
	switch pub.(type) {
	case *rsa.PublicKey:
		return SHA256WithRSA, nil
	case *ecdsa.PublicKey:
		return SHA256WithECDSA, nil
	case ed25519.PublicKey:
		return SHA256WithEd25519, nil
	default:
		return SignatureAlgorithm{}, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// SignedDataBuilder builds detached CMS SignedData values.
type SignedDataBuilder struct {
	Certificate *x509.Certificate
	// CertChain holds the auxiliary certificates, without Certificate.
	CertChain   []*x509.Certificate
	PrivateKey  crypto.Signer
	Algorithm   SignatureAlgorithm
	SigningTime time.Time
}

// NewSignedDataBuilder creates a builder for cred. A zero signingTime means
// the current time.
func NewSignedDataBuilder(cred *keys.Credential, signingTime time.Time) (*SignedDataBuilder, error) {
	if cred == nil || cred.Certificate == nil || cred.PrivateKey == nil {
		return nil, ErrMissingCertificate
	}
	alg, err := AlgorithmForKey(cred.PrivateKey.Public())
	if err != nil {
		return nil, err
	}
	if signingTime.IsZero() {
		signingTime = time.Now()
	}
	set := cred.CertificateSet()
	return &SignedDataBuilder{
		Certificate: cred.Certificate,
		CertChain:   set[1:],
		PrivateKey:  cred.PrivateKey,
		Algorithm:   alg,
		SigningTime: signingTime.UTC(),
	}, nil
}

// SignedAttributesForSigning returns the signed attributes for content and the
// DER encoded SET the signature is computed over.
func (b *SignedDataBuilder) SignedAttributesForSigning(content []byte) ([]Attribute, []byte, error) {
	h := newHash(b.Algorithm.Hash)
	h.Write(content)

	signedAttrs, err := b.buildSignedAttributes(h.Sum(nil))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build signed attributes: %w", err)
	}

	signedAttrs = derSortAttributes(signedAttrs)

	signedAttrsBytes, err := asn1.Marshal(signedAttrs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal signed attributes: %w", err)
	}
	signedAttrsBytes[0] = 0x31 // SET tag

	return signedAttrs, signedAttrsBytes, nil
}

// Build returns the DER encoded ContentInfo of a SignedData over content.
// The content itself is not embedded.
func (b *SignedDataBuilder) Build(content []byte) ([]byte, error) {
	signedAttrs, signedAttrsBytes, err := b.SignedAttributesForSigning(content)
	if err != nil {
		return nil, err
	}

	signature, err := b.signAttributes(signedAttrsBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	digestAlgorithm := AlgorithmIdentifier{
		Algorithm:  b.Algorithm.DigestAlgorithm,
		Parameters: asn1.RawValue{Tag: asn1.TagNull},
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: b.Certificate.RawIssuer},
			SerialNumber: b.Certificate.SerialNumber,
		},
		DigestAlgorithm: digestAlgorithm,
		SignedAttrs:     signedAttrs,
		SignatureAlgorithm: AlgorithmIdentifier{
			Algorithm:  b.Algorithm.SignatureAlgorithm,
			Parameters: signatureAlgorithmParameters(b.Algorithm.SignatureAlgorithm),
		},
		Signature: signature,
	}

	signedData := SignedData{
		Version:          1,
		DigestAlgorithms: []AlgorithmIdentifier{digestAlgorithm},
		EncapContentInfo: EncapsulatedContentInfo{EContentType: OIDData},
		SignerInfos:      []SignerInfo{signerInfo},
	}

	signedData.Certificates = append(signedData.Certificates,
		asn1.RawValue{FullBytes: b.Certificate.Raw})
	for _, cert := range b.CertChain {
		signedData.Certificates = append(signedData.Certificates,
			asn1.RawValue{FullBytes: cert.Raw})
	}

	signedDataBytes, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal signed data: %w", err)
	}

	return asn1.Marshal(ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: asn1.ClassContextSpecific, Tag: 0, IsCompound: true, Bytes: signedDataBytes},
	})
}

func signatureAlgorithmParameters(oid asn1.ObjectIdentifier) asn1.RawValue {
	if oid.Equal(OIDSHA256WithRSA) {
		return asn1.RawValue{Tag: asn1.TagNull}
	}
	return asn1.RawValue{}
}

// buildSignedAttributes returns content-type, message-digest and
// signing-time, in that order.
func (b *SignedDataBuilder) buildSignedAttributes(messageDigest []byte) ([]Attribute, error) {
	values := []struct {
		oid   asn1.ObjectIdentifier
		value interface{}
	}{
		{OIDContentType, OIDData},
		{OIDMessageDigest, messageDigest},
		{OIDSigningTime, b.SigningTime},
	}

	attrs := make([]Attribute, 0, len(values))
	for _, v := range values {
		der, err := asn1.Marshal(v.value)
		if err != nil {
			return nil, fmt.Errorf("attribute %v: %w", v.oid, err)
		}
		attrs = append(attrs, Attribute{
			Type:   v.oid,
			Values: []asn1.RawValue{{FullBytes: der}},
		})
	}
	return attrs, nil
}

// signAttributes signs the DER encoded signed attributes.
func (b *SignedDataBuilder) signAttributes(signedAttrsBytes []byte) ([]byte, error) {
	if b.Algorithm.SignatureAlgorithm.Equal(OIDEd25519) {
		return b.PrivateKey.Sign(rand.Reader, signedAttrsBytes, crypto.Hash(0))
	}
	h := newHash(b.Algorithm.Hash)
	h.Write(signedAttrsBytes)
	return b.PrivateKey.Sign(rand.Reader, h.Sum(nil), b.Algorithm.Hash)
}

// derSortAttributes sorts attributes by their DER encoding, the order
// encoding/asn1 uses for SET OF.
func derSortAttributes(attrs []Attribute) []Attribute {
	type attrWithDER struct {
		attr Attribute
		der  []byte
	}
	attrsWithDER := make([]attrWithDER, len(attrs))
	for i, attr := range attrs {
		der, _ := asn1.Marshal(attr)
		attrsWithDER[i] = attrWithDER{attr: attr, der: der}
	}

	sort.Slice(attrsWithDER, func(i, j int) bool {
		return bytes.Compare(attrsWithDER[i].der, attrsWithDER[j].der) < 0
	})

	result := make([]Attribute, len(attrs))
	for i, awd := range attrsWithDER {
		result[i] = awd.attr
	}
	return result
}
