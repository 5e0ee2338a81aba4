package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"hash"
	"time"

	"github.com/georgepadayatti/signpdf/sign/signerr"
	"golang.org/x/crypto/sha3"
)

// Verification messages reported to callers.
const (
	MsgWrongAttributes     = "Wrong authenticated attributes"
	MsgWrongContentDigest  = "Wrong content digest"
	MsgUnsupportedDigest   = "unsupported digest algorithm"
	MsgMissingDigestAttr   = "message digest attribute not found"
	MsgMissingSignedAttrs  = "signature carries no authenticated attributes"
	MsgMissingCertificates = "signature carries no certificates"
)

// SignerInfoRaw is used for parsing to capture raw signed attributes bytes.
type SignerInfoRaw struct {
	Version            int
	SID                asn1.RawValue
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// SignedDataRaw is used for parsing to capture raw signer info.
type SignedDataRaw struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// ParsedSignature is the part of a SignedData a verifier needs, with the
// signed attributes kept as they appear on the wire.
type ParsedSignature struct {
	DigestAlgorithm    asn1.ObjectIdentifier
	SignatureAlgorithm asn1.ObjectIdentifier
	Signature          []byte
	// RawSignedAttrs is the content of the [0] IMPLICIT signed attributes.
	RawSignedAttrs []byte
	SignedAttrs    []Attribute
	Certificates   []*x509.Certificate
}

// ParseSignedData decodes a DER ContentInfo holding a SignedData and captures
// its first SignerInfo.
func ParseSignedData(der []byte) (*ParsedSignature, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(der, &contentInfo); err != nil {
		return nil, fmt.Errorf("failed to parse ContentInfo: %w", err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("expected SignedData, got %v", contentInfo.ContentType)
	}

	var signedData SignedDataRaw
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, fmt.Errorf("failed to parse SignedData: %w", err)
	}
	if len(signedData.SignerInfos) == 0 {
		return nil, errors.New("no signer infos")
	}

	var signerInfo SignerInfoRaw
	if _, err := asn1.Unmarshal(signedData.SignerInfos[0].FullBytes, &signerInfo); err != nil {
		return nil, fmt.Errorf("failed to parse SignerInfo: %w", err)
	}

	parsed := &ParsedSignature{
		DigestAlgorithm:    signerInfo.DigestAlgorithm.Algorithm,
		SignatureAlgorithm: signerInfo.SignatureAlgorithm.Algorithm,
		Signature:          signerInfo.Signature,
		RawSignedAttrs:     signerInfo.SignedAttrs.Bytes,
	}

	rest := signerInfo.SignedAttrs.Bytes
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signed attribute: %w", err)
		}
		parsed.SignedAttrs = append(parsed.SignedAttrs, attr)
	}

	for _, raw := range signedData.Certificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedded certificate: %w", err)
		}
		parsed.Certificates = append(parsed.Certificates, cert)
	}

	return parsed, nil
}

// EncodeAttributeSet re-tags the captured signed attributes as a universal
// SET, which is the encoding the signature covers.
func EncodeAttributeSet(rawSignedAttrs []byte) ([]byte, error) {
	return asn1.Marshal(asn1.RawValue{
		Class:      asn1.ClassUniversal,
		Tag:        asn1.TagSet,
		IsCompound: true,
		Bytes:      rawSignedAttrs,
	})
}

// DigestForOID maps a digest algorithm identifier to a hash.
func DigestForOID(oid asn1.ObjectIdentifier) (crypto.Hash, error) {
	switch {
	case oid.Equal(OIDSHA1):
		return crypto.SHA1, nil
	case oid.Equal(OIDSHA224):
		return crypto.SHA224, nil
	case oid.Equal(OIDSHA256):
		return crypto.SHA256, nil
	case oid.Equal(OIDSHA384):
		return crypto.SHA384, nil
	case oid.Equal(OIDSHA512):
		return crypto.SHA512, nil
	case oid.Equal(OIDSHA3_224):
		return crypto.SHA3_224, nil
	case oid.Equal(OIDSHA3_256):
		return crypto.SHA3_256, nil
	case oid.Equal(OIDSHA3_384):
		return crypto.SHA3_384, nil
	case oid.Equal(OIDSHA3_512):
		return crypto.SHA3_512, nil
	default:
		return 0, signerr.Wrap(signerr.KindVerification, fmt.Errorf("digest OID %v", oid), MsgUnsupportedDigest)
	}
}

func newHash(h crypto.Hash) hash.Hash {
	switch h {
	case crypto.SHA1:
		return sha1.New()
	case crypto.SHA224:
		return sha256.New224()
	case crypto.SHA384:
		return sha512.New384()
	case crypto.SHA512:
		return sha512.New()
	case crypto.SHA3_224:
		return sha3.New224()
	case crypto.SHA3_256:
		return sha3.New256()
	case crypto.SHA3_384:
		return sha3.New384()
	case crypto.SHA3_512:
		return sha3.New512()
	default:
		return sha256.New()
	}
}

// Digest hashes data with h.
func Digest(h crypto.Hash, data []byte) []byte {
	hh := newHash(h)
	hh.Write(data)
	return hh.Sum(nil)
}

// VerifyAttributes checks the signature over the signed attributes with the
// first embedded certificate.
func VerifyAttributes(p *ParsedSignature) error {
	if len(p.RawSignedAttrs) == 0 {
		return signerr.New(signerr.KindVerification, MsgMissingSignedAttrs)
	}
	if len(p.Certificates) == 0 {
		return signerr.New(signerr.KindVerification, MsgMissingCertificates)
	}
	h, err := DigestForOID(p.DigestAlgorithm)
	if err != nil {
		return err
	}

	attrSet, err := EncodeAttributeSet(p.RawSignedAttrs)
	if err != nil {
		return signerr.Wrap(signerr.KindVerification, err, MsgWrongAttributes)
	}

	if err := verifySignature(p.Certificates[0].PublicKey, p.SignatureAlgorithm, h, attrSet, p.Signature); err != nil {
		return signerr.Wrap(signerr.KindVerification, err, MsgWrongAttributes)
	}
	return nil
}

// MessageDigest returns the value of the message-digest attribute.
func (p *ParsedSignature) MessageDigest() ([]byte, error) {
	attr, ok := p.attribute(OIDMessageDigest)
	if !ok {
		return nil, signerr.New(signerr.KindVerification, MsgMissingDigestAttr)
	}
	var digest []byte
	if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &digest); err != nil {
		return nil, signerr.Wrap(signerr.KindVerification, err, MsgMissingDigestAttr)
	}
	return digest, nil
}

// SigningTime returns the value of the signing-time attribute, if present.
func (p *ParsedSignature) SigningTime() (time.Time, bool) {
	attr, ok := p.attribute(OIDSigningTime)
	if !ok {
		return time.Time{}, false
	}
	var t time.Time
	if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (p *ParsedSignature) attribute(oid asn1.ObjectIdentifier) (Attribute, bool) {
	for _, attr := range p.SignedAttrs {
		if attr.Type.Equal(oid) && len(attr.Values) > 0 {
			return attr, true
		}
	}
	return Attribute{}, false
}

// VerifyContentDigest recomputes the digest of content and compares it with
// the message-digest attribute.
func VerifyContentDigest(p *ParsedSignature, content []byte) error {
	h, err := DigestForOID(p.DigestAlgorithm)
	if err != nil {
		return err
	}
	want, err := p.MessageDigest()
	if err != nil {
		return err
	}
	if !bytes.Equal(Digest(h, content), want) {
		return signerr.New(signerr.KindVerification, MsgWrongContentDigest)
	}
	return nil
}

// verifySignature verifies sig over the DER attribute set. Ed25519 signs the
// message itself; the other algorithms sign its digest.
func verifySignature(pub interface{}, sigAlg asn1.ObjectIdentifier, h crypto.Hash, message, sig []byte) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		digest := Digest(h, message)
		if sigAlg.Equal(OIDRSAPSS) {
			return rsa.VerifyPSS(key, h, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto})
		}
		return rsa.VerifyPKCS1v15(key, h, digest, sig)
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, Digest(h, message), sig) {
			return errors.New("ecdsa: verification error")
		}
		return nil
	case ed25519.PublicKey:
		if !ed25519.Verify(key, message, sig) {
			return errors.New("ed25519: verification error")
		}
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}
