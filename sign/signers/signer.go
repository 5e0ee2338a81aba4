// Package signers fills the signature placeholder of a prepared PDF with a
// detached CMS signature over the declared byte ranges.
package signers

import (
	"time"

	"github.com/georgepadayatti/signpdf/keys"
	"github.com/georgepadayatti/signpdf/sign/byterange"
	"github.com/georgepadayatti/signpdf/sign/cms"
	"github.com/georgepadayatti/signpdf/sign/signerr"
	"github.com/sirupsen/logrus"
)

// SignOptions are per-call signing options.
type SignOptions struct {
	// Passphrase unlocks the PKCS#12 container. Empty is allowed.
	Passphrase string

	// StrictASN1 rejects containers that are not strict DER.
	StrictASN1 bool

	// SigningTime is written to the signing-time attribute. Zero means now.
	SigningTime time.Time
}

// SignResult is the outcome of one Sign call.
type SignResult struct {
	// Document is the signed document, the same length as the input less an
	// optional trailing newline.
	Document []byte

	// Signature is the hex encoded DER signature without padding.
	Signature string

	// ByteRange is the range written into the document.
	ByteRange byterange.ByteRange
}

// Signer signs prepared documents. A Signer holds no per-call state and may
// be shared between goroutines.
type Signer struct {
	// PlaceholderSentinel is the text standing in for each unknown ByteRange
	// value. Empty means byterange.DefaultSentinel.
	PlaceholderSentinel string

	Logger logrus.FieldLogger
}

// NewSigner creates a Signer with the default sentinel.
func NewSigner() *Signer {
	return &Signer{
		PlaceholderSentinel: byterange.DefaultSentinel,
		Logger:              logrus.StandardLogger(),
	}
}

// Sign extracts the credential from a PKCS#12 container and signs document
// with it. The placeholder is located before the container is opened. The
// input buffers are never modified.
func (s *Signer) Sign(document, container []byte, opts *SignOptions) (*SignResult, error) {
	if opts == nil {
		opts = &SignOptions{}
	}
	if len(document) == 0 {
		return nil, signerr.New(signerr.KindInputType, "PDF expected as a non-empty buffer.")
	}
	if len(container) == 0 {
		return nil, signerr.New(signerr.KindInputType, "p12 certificate expected as a non-empty buffer.")
	}

	doc, placeholder, err := s.locate(document)
	if err != nil {
		return nil, err
	}

	cred, err := keys.ExtractPKCS12(container, opts.Passphrase, opts.StrictASN1)
	if err != nil {
		return nil, err
	}

	return s.sign(doc, placeholder, cred, opts.SigningTime)
}

// SignWithCredential signs document with an already loaded credential.
func (s *Signer) SignWithCredential(document []byte, cred *keys.Credential, signingTime time.Time) (*SignResult, error) {
	if len(document) == 0 {
		return nil, signerr.New(signerr.KindInputType, "PDF expected as a non-empty buffer.")
	}
	if cred == nil || cred.PrivateKey == nil || cred.Certificate == nil {
		return nil, signerr.New(signerr.KindCredential, "Failed to find a certificate that matches the private key.")
	}

	doc, placeholder, err := s.locate(document)
	if err != nil {
		return nil, err
	}
	return s.sign(doc, placeholder, cred, signingTime)
}

// locate drops one trailing newline from document and finds its placeholder.
func (s *Signer) locate(document []byte) ([]byte, *byterange.Placeholder, error) {
	doc := document
	if doc[len(doc)-1] == '\n' {
		doc = doc[:len(doc)-1]
	}

	placeholder, err := byterange.Locate(doc, s.sentinel())
	if err != nil {
		return nil, nil, err
	}
	return doc, placeholder, nil
}

func (s *Signer) sign(doc []byte, placeholder *byterange.Placeholder, cred *keys.Credential, signingTime time.Time) (*SignResult, error) {
	log := s.logger()

	br := byterange.ComputeByteRange(doc, placeholder)

	field, err := byterange.RenderByteRangeField(br, placeholder.TokenLen)
	if err != nil {
		return nil, err
	}
	doc, err = byterange.ReplaceField(doc, placeholder.TokenStart, placeholder.TokenEnd(), field)
	if err != nil {
		return nil, signerr.Wrap(signerr.KindParse, err, "failed to write ByteRange")
	}

	signable := byterange.ExcisePlaceholderRegion(doc, br)

	builder, err := cms.NewSignedDataBuilder(cred, signingTime)
	if err != nil {
		return nil, signerr.Wrap(signerr.KindCredential, err, "unusable signing credential")
	}
	der, err := builder.Build(signable)
	if err != nil {
		return nil, signerr.Wrap(signerr.KindSigning, err, "failed to build signature")
	}

	padded, unpadded, err := EmbedSignature(der, placeholder.HexCapacity)
	if err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"byteRange": [4]int(br),
		"capacity":  placeholder.HexCapacity,
		"hexLength": len(unpadded),
		"signer":    cred.Certificate.Subject.CommonName,
	}).Debug("Signature embedded")

	return &SignResult{
		Document:  byterange.ReinsertSignature(signable, br, padded),
		Signature: unpadded,
		ByteRange: br,
	}, nil
}

func (s *Signer) sentinel() string {
	if s.PlaceholderSentinel == "" {
		return byterange.DefaultSentinel
	}
	return s.PlaceholderSentinel
}

func (s *Signer) logger() logrus.FieldLogger {
	if s.Logger == nil {
		return logrus.StandardLogger()
	}
	return s.Logger
}
