// Package signtest provides fixtures for tests that sign and verify
// documents: throwaway certificate authorities, PKCS#12 containers and
// prepared PDF documents.
package signtest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/georgepadayatti/signpdf/keys"
	"github.com/georgepadayatti/signpdf/sign/byterange"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

// Passphrase protects the containers built by this package.
const Passphrase = "signtest"

// DefaultHexCapacity reserves 8 KiB of signature, the usual default of PDF
// preparers.
const DefaultHexCapacity = 8192 * 2

// PKI is a CA with one leaf signer.
type PKI struct {
	CA      *x509.Certificate
	CAKey   *rsa.PrivateKey
	Leaf    *x509.Certificate
	LeafKey crypto.Signer
}

// Credential returns the leaf as a keys.Credential with the CA in its chain.
func (p *PKI) Credential() *keys.Credential {
	return &keys.Credential{
		PrivateKey:  p.LeafKey,
		Certificate: p.Leaf,
		Chain:       []*x509.Certificate{p.Leaf, p.CA},
	}
}

// PKCS12 encodes the leaf key, the leaf certificate and the CA.
func (p *PKI) PKCS12(t testing.TB) []byte {
	t.Helper()
	data, err := pkcs12.Modern.Encode(p.LeafKey, p.Leaf, []*x509.Certificate{p.CA}, Passphrase)
	if err != nil {
		t.Fatalf("Failed to encode PKCS#12: %v", err)
	}
	return data
}

// NewRSAPKI creates an RSA-2048 CA and a leaf certificate named cn.
func NewRSAPKI(t testing.TB, cn string) *PKI {
	t.Helper()
	caKey := newRSAKey(t)
	ca := Issue(t, "Signtest CA", caKey, nil, nil)
	leafKey := newRSAKey(t)
	leaf := Issue(t, cn, leafKey, ca, caKey)
	return &PKI{CA: ca, CAKey: caKey, Leaf: leaf, LeafKey: leafKey}
}

// NewRSAPKIWithSANs is NewRSAPKI with DNS names on the leaf. Enough names
// make the leaf's DER longer than the CA's, so it sorts after the CA.
func NewRSAPKIWithSANs(t testing.TB, cn string, dnsNames ...string) *PKI {
	t.Helper()
	caKey := newRSAKey(t)
	ca := Issue(t, "Signtest CA", caKey, nil, nil)
	leafKey := newRSAKey(t)
	leaf := issue(t, cn, dnsNames, leafKey, ca, caKey)
	return &PKI{CA: ca, CAKey: caKey, Leaf: leaf, LeafKey: leafKey}
}

// LongLeafSANs are DNS names that push a leaf issued by this package past the
// length of its CA.
var LongLeafSANs = []string{
	"signer.signtest.example.com",
	"documents.signtest.example.com",
	"archive.signtest.example.com",
	"contracts.signtest.example.com",
}

var serial atomic.Int64

// Issue creates a certificate for key, signed by parent. A nil parent makes
// it a self-signed CA.
func Issue(t testing.TB, cn string, key crypto.Signer, parent *x509.Certificate, parentKey crypto.Signer) *x509.Certificate {
	t.Helper()
	return issue(t, cn, nil, key, parent, parentKey)
}

func issue(t testing.TB, cn string, dnsNames []string, key crypto.Signer, parent *x509.Certificate, parentKey crypto.Signer) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject: pkix.Name{
			CommonName:   cn,
			Organization: []string{"Test Org"},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature,
		DNSNames:  dnsNames,
	}
	if parent == nil {
		template.IsCA = true
		template.BasicConstraintsValid = true
		template.KeyUsage |= x509.KeyUsageCertSign
		parent, parentKey = template, key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, key.Public(), parentKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func newRSAKey(t testing.TB) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

// PreparedPDF returns a one-page PDF whose signature dictionary carries the
// ByteRange placeholder for sentinel and a /Contents string of hexCapacity
// zeros. The document ends with a newline.
func PreparedPDF(sentinel string, hexCapacity int) []byte {
	var b strings.Builder
	b.WriteString("%PDF-1.3\n%\xe2\xe3\xcf\xd3\n")
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [4 0 R] /SigFlags 3 >> >>\nendobj\n")
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R /MediaBox [0 0 595 842] /Annots [4 0 R] >>\nendobj\n")
	b.WriteString("4 0 obj\n<< /Type /Annot /Subtype /Widget /FT /Sig /Rect [0 0 0 0] /V 5 0 R /T (Signature1) /F 4 /P 3 0 R >>\nendobj\n")
	fmt.Fprintf(&b, "5 0 obj\n<< /Type /Sig /Filter /Adobe.PPKLite /SubFilter /adbe.pkcs7.detached %s\n/Contents <%s>\n/Reason (Signed for testing) /M (D:20260101000000Z) >>\nendobj\n",
		byterange.PlaceholderToken(sentinel), strings.Repeat("0", hexCapacity))
	b.WriteString("trailer\n<< /Root 1 0 R /Size 6 >>\n%%EOF\n")
	return []byte(b.String())
}
