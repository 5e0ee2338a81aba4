// Package validation checks the detached CMS signature embedded in a signed
// PDF against the byte ranges it declares.
//
// Verification never fails with an error: every problem, including malformed
// input that would otherwise panic while decoding, is reported as an Outcome
// with Verified set to false.
package validation

import (
	"fmt"
	"time"

	"github.com/georgepadayatti/signpdf/sign/byterange"
	"github.com/georgepadayatti/signpdf/sign/cms"
	"github.com/georgepadayatti/signpdf/sign/signerr"
	"github.com/sirupsen/logrus"
)

// MsgUnknownFailure is reported for failures that carry no message of their own.
const MsgUnknownFailure = "couldn't verify file signature"

// Outcome is the result of verifying one document.
type Outcome struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`

	// Details, filled in as far as verification got.
	SignerName  string               `json:"signerName,omitempty"`
	SigningTime *time.Time           `json:"signingTime,omitempty"`
	ByteRange   *byterange.ByteRange `json:"byteRange,omitempty"`
}

// Verifier verifies signed documents.
type Verifier struct {
	Logger logrus.FieldLogger
}

// NewVerifier creates a Verifier that logs to the standard logger.
func NewVerifier() *Verifier {
	return &Verifier{Logger: logrus.StandardLogger()}
}

// Verify locates the last ByteRange in document and verifies the signature
// stored between its ranges.
func (v *Verifier) Verify(document []byte) (out Outcome) {
	defer v.recoverInto(&out)

	if len(document) == 0 {
		return v.fail(signerr.New(signerr.KindInputType, "PDF expected as a non-empty buffer."))
	}

	extracted, err := byterange.Extract(document)
	if err != nil {
		return v.fail(err)
	}

	out = v.verify(extracted.Signature, extracted.SignedContent)
	br := extracted.ByteRange
	out.ByteRange = &br
	return out
}

// VerifyDetached verifies signatureDER against signedContent supplied by the
// caller.
func (v *Verifier) VerifyDetached(signatureDER, signedContent []byte) (out Outcome) {
	defer v.recoverInto(&out)
	return v.verify(signatureDER, signedContent)
}

func (v *Verifier) verify(signatureDER, signedContent []byte) Outcome {
	parsed, err := cms.ParseSignedData(signatureDER)
	if err != nil {
		return v.fail(err)
	}

	// The digest algorithm is checked first so that an unsupported one is
	// reported as such rather than as a bad attribute signature.
	if _, err := cms.DigestForOID(parsed.DigestAlgorithm); err != nil {
		return v.fail(err)
	}
	if err := cms.VerifyAttributes(parsed); err != nil {
		return v.fail(err)
	}
	if err := cms.VerifyContentDigest(parsed, signedContent); err != nil {
		return v.fail(err)
	}

	out := Outcome{Verified: true, SignerName: parsed.Certificates[0].Subject.CommonName}
	if t, ok := parsed.SigningTime(); ok {
		out.SigningTime = &t
	}

	v.logger().WithField("signer", out.SignerName).Debug("Signature verified")
	return out
}

func (v *Verifier) fail(err error) Outcome {
	msg, ok := signerr.MessageOf(err)
	if !ok {
		msg = MsgUnknownFailure
	}
	v.logger().WithError(err).Debug("Signature verification failed")
	return Outcome{Verified: false, Message: msg}
}

func (v *Verifier) recoverInto(out *Outcome) {
	if r := recover(); r != nil {
		*out = v.fail(fmt.Errorf("panic during verification: %v", r))
	}
}

func (v *Verifier) logger() logrus.FieldLogger {
	if v.Logger == nil {
		return logrus.StandardLogger()
	}
	return v.Logger
}
