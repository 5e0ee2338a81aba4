package keys

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"testing"

	"github.com/georgepadayatti/signpdf/sign/signerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

const testPassphrase = "correct horse"

func TestExtractPKCS12_RSAChain(t *testing.T) {
	caKey := newRSAKey(t)
	ca := issue(t, "Test CA", 1, &caKey.PublicKey, nil, caKey)
	leafKey := newRSAKey(t)
	leaf := issue(t, "Signer", 2, &leafKey.PublicKey, ca, caKey)

	p12, err := pkcs12.Modern.Encode(leafKey, leaf, []*x509.Certificate{ca}, testPassphrase)
	require.NoError(t, err)

	for _, strict := range []bool{false, true} {
		cred, err := ExtractPKCS12(p12, testPassphrase, strict)
		require.NoError(t, err)

		assert.True(t, cred.Certificate.Equal(leaf))
		assert.True(t, PublicKeyMatches(cred.PrivateKey.Public(), cred.Certificate))
		require.Len(t, cred.Chain, 2)
		assert.True(t, cred.Chain[0].Equal(leaf))
		assert.True(t, cred.Chain[1].Equal(ca))
	}
}

func TestExtractPKCS12_SignerAfterCA(t *testing.T) {
	caKey := newRSAKey(t)
	ca := issue(t, "Test CA", 1, &caKey.PublicKey, nil, caKey)
	leafKey := newRSAKey(t)
	leaf := issue(t, "Signer", 2, &leafKey.PublicKey, ca, caKey)

	// The CA certificate is in the first bag; the key still belongs to the leaf.
	p12, err := pkcs12.Modern.Encode(leafKey, ca, []*x509.Certificate{leaf, leaf}, testPassphrase)
	require.NoError(t, err)

	cred, err := ExtractPKCS12(p12, testPassphrase, false)
	require.NoError(t, err)
	assert.True(t, cred.Certificate.Equal(leaf))
	assert.Len(t, cred.Chain, 3, "every certificate bag is a chain member")
	assert.Len(t, cred.CertificateSet(), 2)
}

func TestExtractPKCS12_ECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	cert := issue(t, "EC Signer", 7, &key.PublicKey, nil, key)

	p12, err := pkcs12.Modern.Encode(key, cert, nil, testPassphrase)
	require.NoError(t, err)

	cred, err := ExtractPKCS12(p12, testPassphrase, false)
	require.NoError(t, err)
	assert.Equal(t, "ECDSA", GetKeyInfo(cred.PrivateKey).Algorithm)
	assert.True(t, cred.Certificate.Equal(cert))
}

func TestExtractPKCS12_Ed25519(t *testing.T) {
	pub, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	cert := issue(t, "Ed Signer", 8, pub, nil, key)

	p12, err := pkcs12.Modern.Encode(key, cert, nil, testPassphrase)
	require.NoError(t, err)

	cred, err := ExtractPKCS12(p12, testPassphrase, false)
	require.NoError(t, err)
	assert.Equal(t, "Ed25519", GetKeyInfo(cred.PrivateKey).Algorithm)
}

func TestExtractPKCS12_Passwordless(t *testing.T) {
	key := newRSAKey(t)
	cert := issue(t, "Signer", 3, &key.PublicKey, nil, key)

	p12, err := pkcs12.Passwordless.Encode(key, cert, nil, "")
	require.NoError(t, err)

	cred, err := ExtractPKCS12(p12, "", false)
	require.NoError(t, err)
	assert.True(t, cred.Certificate.Equal(cert))

	_, err = ExtractPKCS12(p12, "", true)
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindCredential))
}

func TestExtractPKCS12_Errors(t *testing.T) {
	key := newRSAKey(t)
	cert := issue(t, "Signer", 4, &key.PublicKey, nil, key)
	otherKey := newRSAKey(t)
	otherCert := issue(t, "Someone Else", 5, &otherKey.PublicKey, nil, otherKey)

	valid, err := pkcs12.Modern.Encode(key, cert, nil, testPassphrase)
	require.NoError(t, err)
	mismatched, err := pkcs12.Modern.Encode(key, otherCert, nil, testPassphrase)
	require.NoError(t, err)

	tests := []struct {
		name       string
		container  []byte
		passphrase string
		strict     bool
		kind       signerr.Kind
		message    string
	}{
		{"empty container", nil, testPassphrase, false, signerr.KindInputType, ""},
		{"wrong passphrase", valid, "wrong", false, signerr.KindCredential, ""},
		{"garbage", []byte("not a pfx"), testPassphrase, false, signerr.KindCredential, ""},
		{"trailing bytes in strict mode", append(append([]byte{}, valid...), 0x00), testPassphrase, true, signerr.KindCredential, ""},
		{"no matching certificate", mismatched, testPassphrase, false, signerr.KindCredential,
			"Failed to find a certificate that matches the private key."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := ExtractPKCS12(tt.container, tt.passphrase, tt.strict)
			require.Error(t, err)
			assert.Nil(t, cred)
			assert.Equal(t, tt.kind, signerr.KindOf(err), "got %v", err)
			if tt.message != "" {
				msg, _ := signerr.MessageOf(err)
				assert.Equal(t, tt.message, msg)
			}
		})
	}
}

func TestCheckStrictPFX(t *testing.T) {
	assert.Error(t, checkStrictPFX([]byte{0x30, 0x80, 0x02, 0x01, 0x03, 0x00, 0x00}), "indefinite length is BER only")
	assert.Error(t, checkStrictPFX([]byte{0x30, 0x03, 0x02, 0x01, 0x02}), "version 2")
	assert.Error(t, checkStrictPFX([]byte{0x30, 0x05, 0x02, 0x01, 0x03, 0x30, 0x00}), "no MAC")
	assert.NoError(t, checkStrictPFX([]byte{0x30, 0x07, 0x02, 0x01, 0x03, 0x30, 0x00, 0x30, 0x00}))
}
