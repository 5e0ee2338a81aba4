// Package signerr defines the tagged error type returned by the signing and
// verification packages.
package signerr

import (
	"errors"
	"fmt"
)

// Kind categorizes a signing or verification failure.
type Kind int

const (
	// KindUnknown is reported for errors that do not carry a Kind.
	KindUnknown Kind = iota
	// KindInputType means an input had the wrong shape (nil or empty buffer).
	KindInputType
	// KindParse means a placeholder token or delimiter was not found.
	KindParse
	// KindCredential means no private key was found or no certificate matches it.
	KindCredential
	// KindCapacity means the encoded signature does not fit the reserved region.
	KindCapacity
	// KindVerification means the attribute signature or content digest did not verify.
	KindVerification
	// KindSigning means the signature could not be computed or encoded.
	KindSigning
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindInputType:
		return "InputType"
	case KindParse:
		return "Parse"
	case KindCredential:
		return "Credential"
	case KindCapacity:
		return "Capacity"
	case KindVerification:
		return "Verification"
	case KindSigning:
		return "Signing"
	default:
		return "Unknown"
	}
}

// Error is a failure tagged with its Kind.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the message of the first *Error in err's chain.
func MessageOf(err error) (string, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Message, true
	}
	return "", false
}
