package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// issue creates a certificate for pub signed by parent/parentKey. A nil
// parent makes it self-signed with signerKey.
func issue(t *testing.T, cn string, serial int64, pub crypto.PublicKey, parent *x509.Certificate, parentKey crypto.Signer) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"Test Org"}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	if parent == nil {
		template.IsCA = true
		template.BasicConstraintsValid = true
		parent = template
	}
	der, err := x509.CreateCertificate(rand.Reader, template, parent, pub, parentKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("Failed to parse certificate: %v", err)
	}
	return cert
}

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func TestPublicKeyMatches(t *testing.T) {
	rsaKey := newRSAKey(t)
	otherRSA := newRSAKey(t)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	rsaCert := issue(t, "RSA", 1, &rsaKey.PublicKey, nil, rsaKey)
	ecCert := issue(t, "EC", 2, &ecKey.PublicKey, nil, ecKey)
	edCert := issue(t, "Ed25519", 3, edPub, nil, edKey)

	tests := []struct {
		name string
		pub  crypto.PublicKey
		cert *x509.Certificate
		want bool
	}{
		{"rsa match", &rsaKey.PublicKey, rsaCert, true},
		{"rsa other modulus", &otherRSA.PublicKey, rsaCert, false},
		{"rsa other exponent", &rsa.PublicKey{N: rsaKey.N, E: 3}, rsaCert, false},
		{"rsa against ec cert", &rsaKey.PublicKey, ecCert, false},
		{"ec match", &ecKey.PublicKey, ecCert, true},
		{"ec against rsa cert", &ecKey.PublicKey, rsaCert, false},
		{"ed25519 match", edPub, edCert, true},
		{"nil cert", &rsaKey.PublicKey, nil, false},
		{"unsupported key", "not a key", rsaCert, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicKeyMatches(tt.pub, tt.cert))
		})
	}
}

func TestCredential_CertificateSet(t *testing.T) {
	caKey := newRSAKey(t)
	ca := issue(t, "Test CA", 1, &caKey.PublicKey, nil, caKey)
	leafKey := newRSAKey(t)
	leaf := issue(t, "Signer", 2, &leafKey.PublicKey, ca, caKey)

	cred := &Credential{
		PrivateKey:  leafKey,
		Certificate: leaf,
		Chain:       []*x509.Certificate{ca, leaf, ca},
	}

	set := cred.CertificateSet()
	require.Len(t, set, 2)
	assert.True(t, set[0].Equal(leaf), "signer certificate must come first")
	assert.True(t, set[1].Equal(ca))
}

func TestParsePrivateKeyDER(t *testing.T) {
	rsaKey := newRSAKey(t)
	ecKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)

	pkcs8, err := x509.MarshalPKCS8PrivateKey(rsaKey)
	require.NoError(t, err)
	sec1, err := x509.MarshalECPrivateKey(ecKey)
	require.NoError(t, err)

	tests := []struct {
		name string
		der  []byte
		algo string
	}{
		{"pkcs8 rsa", pkcs8, "RSA"},
		{"pkcs1 rsa", x509.MarshalPKCS1PrivateKey(rsaKey), "RSA"},
		{"sec1 ec", sec1, "ECDSA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := parsePrivateKeyDER(tt.der)
			require.NoError(t, err)
			assert.Equal(t, tt.algo, GetKeyInfo(key).Algorithm)
		})
	}

	_, err = parsePrivateKeyDER([]byte{0x30, 0x03, 0x02, 0x01, 0x00})
	assert.ErrorIs(t, err, ErrNoKeyFound)
}

func TestGetKeyInfo(t *testing.T) {
	rsaKey := newRSAKey(t)
	info := GetKeyInfo(rsaKey)
	assert.Equal(t, "RSA", info.Algorithm)
	assert.Equal(t, 2048, info.BitSize)

	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	info = GetKeyInfo(ecKey)
	assert.Equal(t, "ECDSA", info.Algorithm)
	assert.Equal(t, "P-256", info.Curve)

	_, edKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	assert.Equal(t, "Ed25519", GetKeyInfo(edKey).Algorithm)
}
