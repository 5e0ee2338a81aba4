package signers

import (
	"bytes"
	"crypto"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/georgepadayatti/signpdf/sign/byterange"
	"github.com/georgepadayatti/signpdf/sign/signerr"
	"github.com/georgepadayatti/signpdf/sign/signtest"
	"github.com/georgepadayatti/signpdf/sign/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mozilla.org/pkcs7"
	pkcs12 "software.sslmate.com/src/go-pkcs12"
)

func TestEmbedSignature(t *testing.T) {
	padded, unpadded, err := EmbedSignature([]byte{0x30, 0x01, 0xff}, 10)
	require.NoError(t, err)
	assert.Equal(t, "3001ff", unpadded)
	assert.Equal(t, "3001ff0000", padded)

	padded, _, err = EmbedSignature([]byte{0xab, 0xcd}, 4)
	require.NoError(t, err)
	assert.Equal(t, "abcd", padded)

	_, _, err = EmbedSignature([]byte{0xab, 0xcd, 0xef}, 4)
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindCapacity))
	assert.Contains(t, err.Error(), "Signature exceeds placeholder length: 6 > 4")
}

func TestSigner_SignAndVerify(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Round Trip Signer")
	doc := signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity)
	original := append([]byte{}, doc...)
	signingTime := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

	res, err := NewSigner().Sign(doc, pki.PKCS12(t), &SignOptions{
		Passphrase:  signtest.Passphrase,
		SigningTime: signingTime,
	})
	require.NoError(t, err)

	assert.Equal(t, original, doc, "input must not be modified")
	assert.Len(t, res.Document, len(doc)-1, "only the trailing newline is dropped")
	assert.NotContains(t, string(res.Document), "/**********")
	assert.Contains(t, string(res.Document), res.ByteRange.String())

	br := res.ByteRange
	assert.Equal(t, 0, br[0])
	assert.Equal(t, len(res.Document), br[2]+br[3])
	assert.Equal(t, byte('<'), res.Document[br[1]])
	assert.Equal(t, byte('>'), res.Document[br[2]-1])

	region := string(res.Document[br[1]+1 : br[2]-1])
	assert.Len(t, region, signtest.DefaultHexCapacity)
	assert.True(t, strings.HasPrefix(region, res.Signature))
	assert.Equal(t, strings.Repeat("0", len(region)-len(res.Signature)), region[len(res.Signature):])

	out := validation.NewVerifier().Verify(res.Document)
	require.True(t, out.Verified, out.Message)
	assert.Equal(t, "Round Trip Signer", out.SignerName)
	require.NotNil(t, out.SigningTime)
	assert.True(t, signingTime.Equal(*out.SigningTime))
}

// The signer certificate must stay first in the certificates of the
// signature even when its DER sorts after the CA's.
func TestSigner_SignAndVerify_LeafSortsAfterCA(t *testing.T) {
	pki := signtest.NewRSAPKIWithSANs(t, "Long Leaf Signer", signtest.LongLeafSANs...)
	require.Greater(t, len(pki.Leaf.Raw), len(pki.CA.Raw))
	require.Negative(t, bytes.Compare(pki.CA.Raw, pki.Leaf.Raw))

	res, err := NewSigner().Sign(signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity),
		pki.PKCS12(t), &SignOptions{Passphrase: signtest.Passphrase})
	require.NoError(t, err)

	out := validation.NewVerifier().Verify(res.Document)
	require.True(t, out.Verified, out.Message)
	assert.Equal(t, "Long Leaf Signer", out.SignerName)

	der, err := hex.DecodeString(res.Signature)
	require.NoError(t, err)
	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)
	require.Len(t, p7.Certificates, 2)
	assert.True(t, p7.Certificates[0].Equal(pki.Leaf))
	assert.True(t, p7.Certificates[1].Equal(pki.CA))
}

func TestSigner_Pkcs7Interop(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Interop Signer")
	res, err := NewSigner().Sign(signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity),
		pki.PKCS12(t), &SignOptions{Passphrase: signtest.Passphrase})
	require.NoError(t, err)

	der, err := hex.DecodeString(res.Signature)
	require.NoError(t, err)
	p7, err := pkcs7.Parse(der)
	require.NoError(t, err)

	br := res.ByteRange
	p7.Content = append(append([]byte{}, res.Document[:br[1]]...), res.Document[br[2]:br[2]+br[3]]...)
	assert.NoError(t, p7.Verify())
	assert.Len(t, p7.Certificates, 2)
}

func TestSigner_NoTrailingNewline(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Signer")
	doc := signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity)
	doc = doc[:len(doc)-1]

	res, err := NewSigner().SignWithCredential(doc, pki.Credential(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, res.Document, len(doc))
	assert.True(t, validation.NewVerifier().Verify(res.Document).Verified)
}

func TestSigner_CustomSentinel(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Signer")
	doc := signtest.PreparedPDF("##########", signtest.DefaultHexCapacity)

	_, err := NewSigner().SignWithCredential(doc, pki.Credential(), time.Time{})
	require.Error(t, err)
	assert.True(t, signerr.Is(err, signerr.KindParse))

	s := &Signer{PlaceholderSentinel: "##########"}
	res, err := s.SignWithCredential(doc, pki.Credential(), time.Time{})
	require.NoError(t, err)
	assert.True(t, validation.NewVerifier().Verify(res.Document).Verified)
}

// A 256 character placeholder cannot hold any RSA-2048 signature, whatever
// the signing time.
func TestSigner_CapacityExceeded(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Signer")
	doc := signtest.PreparedPDF(byterange.DefaultSentinel, 256)
	p12 := pki.PKCS12(t)

	for _, ts := range []time.Time{{}, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)} {
		res, err := NewSigner().Sign(doc, p12, &SignOptions{Passphrase: signtest.Passphrase, SigningTime: ts})
		require.Error(t, err)
		assert.Nil(t, res)
		assert.True(t, signerr.Is(err, signerr.KindCapacity), "got %v", err)
		assert.Contains(t, err.Error(), "> 256")
	}
}

func TestSigner_CredentialMismatch(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Signer")
	other := signtest.NewRSAPKI(t, "Someone Else")
	p12, err := pkcs12.Modern.Encode(pki.LeafKey, other.Leaf, nil, signtest.Passphrase)
	require.NoError(t, err)

	doc := signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity)
	original := append([]byte{}, doc...)

	res, err := NewSigner().Sign(doc, p12, &SignOptions{Passphrase: signtest.Passphrase})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, signerr.Is(err, signerr.KindCredential))
	assert.True(t, bytes.Equal(original, doc))
}

func TestSigner_Errors(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Signer")
	p12 := pki.PKCS12(t)
	doc := signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity)

	tests := []struct {
		name      string
		doc       []byte
		container []byte
		opts      *SignOptions
		kind      signerr.Kind
	}{
		{"nil document", nil, p12, &SignOptions{Passphrase: signtest.Passphrase}, signerr.KindInputType},
		{"empty container", doc, []byte{}, &SignOptions{Passphrase: signtest.Passphrase}, signerr.KindInputType},
		{"wrong passphrase", doc, p12, &SignOptions{Passphrase: "nope"}, signerr.KindCredential},
		{"nil options means empty passphrase", doc, p12, nil, signerr.KindCredential},
		{"no placeholder", []byte("%PDF-1.3\n/Contents <0000>\n%%EOF\n"), p12, &SignOptions{Passphrase: signtest.Passphrase}, signerr.KindParse},
		{"no placeholder and unreadable container", []byte("%PDF-1.3\n/Contents <0000>\n%%EOF\n"), []byte("not a pkcs12 file"), nil, signerr.KindParse},
		{"no placeholder and wrong passphrase", []byte("%PDF-1.3\n%%EOF\n"), p12, &SignOptions{Passphrase: "nope"}, signerr.KindParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewSigner().Sign(tt.doc, tt.container, tt.opts)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.Equal(t, tt.kind, signerr.KindOf(err), "got %v", err)
		})
	}
}

type failingKey struct {
	crypto.Signer
}

func (failingKey) Sign(io.Reader, []byte, crypto.SignerOpts) ([]byte, error) {
	return nil, errors.New("token removed")
}

func TestSigner_SigningFailure(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Signer")
	cred := pki.Credential()
	cred.PrivateKey = failingKey{pki.LeafKey}

	res, err := NewSigner().SignWithCredential(signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity), cred, time.Time{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, signerr.KindSigning, signerr.KindOf(err), "got %v", err)
	assert.ErrorContains(t, err, "token removed")
}

func TestSigner_ConcurrentUse(t *testing.T) {
	pki := signtest.NewRSAPKI(t, "Signer")
	cred := pki.Credential()
	signer := NewSigner()

	docs := [][]byte{
		signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity),
		signtest.PreparedPDF(byterange.DefaultSentinel, signtest.DefaultHexCapacity+64),
	}
	results := make(chan *SignResult, len(docs))
	for _, doc := range docs {
		go func(doc []byte) {
			res, err := signer.SignWithCredential(doc, cred, time.Time{})
			if err != nil {
				results <- nil
				return
			}
			results <- res
		}(doc)
	}

	for range docs {
		res := <-results
		require.NotNil(t, res)
		assert.True(t, validation.NewVerifier().Verify(res.Document).Verified)
	}
}
