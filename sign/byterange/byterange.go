// Package byterange locates signature placeholders in prepared PDF documents
// and performs the fixed-offset buffer edits needed to fill them.
//
// A prepared document carries a ByteRange entry written as
//
//	/ByteRange [0 /********** /********** /**********]
//
// followed by a /Contents hex string of reserved capacity. Every edit in this
// package keeps the byte offsets computed from the unmodified buffer valid.
package byterange

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/georgepadayatti/signpdf/sign/signerr"
)

// DefaultSentinel is the placeholder text written in place of each unknown
// ByteRange value.
const DefaultSentinel = "**********"

const contentsKey = "/Contents "

// ErrFieldLength is returned by ReplaceField when the replacement would shift
// subsequent bytes.
var ErrFieldLength = errors.New("replacement field length differs from the span it replaces")

// Placeholder describes the reserved signature region of a prepared document.
type Placeholder struct {
	// TokenStart is the offset of the ByteRange placeholder token.
	TokenStart int
	// TokenLen is the length of the placeholder token, and of the field
	// that replaces it.
	TokenLen int
	// BracketStart is the offset of the '<' opening the /Contents value.
	BracketStart int
	// BracketEnd is the offset of the matching '>'.
	BracketEnd int
	// HexCapacity is the number of hex characters between the brackets.
	HexCapacity int
}

// TokenEnd returns the offset just past the placeholder token.
func (p *Placeholder) TokenEnd() int {
	return p.TokenStart + p.TokenLen
}

// ByteRange is the four-integer [r0 r1 r2 r3] construct: the signed content
// is bytes [r0, r0+r1) followed by bytes [r2, r2+r3).
type ByteRange [4]int

// String renders the ByteRange entry without padding.
func (br ByteRange) String() string {
	return fmt.Sprintf("/ByteRange [%d %d %d %d]", br[0], br[1], br[2], br[3])
}

// SignatureStart returns the offset of the excluded region ('<').
func (br ByteRange) SignatureStart() int {
	return br[0] + br[1]
}

// SignatureEnd returns the offset just past the excluded region ('>').
func (br ByteRange) SignatureEnd() int {
	return br[2]
}

// PlaceholderToken builds the exact token a document preparer writes for the
// given sentinel.
func PlaceholderToken(sentinel string) string {
	s := "/" + sentinel
	return "/ByteRange [" + strings.Join([]string{"0", s, s, s}, " ") + "]"
}

// Locate finds the ByteRange placeholder token and the /Contents hex string
// that follows it.
func Locate(document []byte, sentinel string) (*Placeholder, error) {
	token := PlaceholderToken(sentinel)
	tokenPos := bytes.Index(document, []byte(token))
	if tokenPos == -1 {
		return nil, signerr.Newf(signerr.KindParse, "Could not find ByteRange placeholder: %s", token)
	}
	tokenEnd := tokenPos + len(token)

	contentsPos := indexFrom(document, []byte(contentsKey), tokenEnd)
	if contentsPos == -1 {
		return nil, signerr.New(signerr.KindParse, "Could not find /Contents after ByteRange placeholder")
	}
	bracketStart := indexFrom(document, []byte{'<'}, contentsPos+len(contentsKey))
	if bracketStart == -1 {
		return nil, signerr.New(signerr.KindParse, "Could not find opening '<' of the /Contents placeholder")
	}
	bracketEnd := indexFrom(document, []byte{'>'}, bracketStart+1)
	if bracketEnd == -1 {
		return nil, signerr.New(signerr.KindParse, "Could not find closing '>' of the /Contents placeholder")
	}

	capacity := bracketEnd - bracketStart - 1
	if capacity%2 != 0 {
		return nil, signerr.Newf(signerr.KindParse, "Contents placeholder capacity must be even, got %d", capacity)
	}

	return &Placeholder{
		TokenStart:   tokenPos,
		TokenLen:     len(token),
		BracketStart: bracketStart,
		BracketEnd:   bracketEnd,
		HexCapacity:  capacity,
	}, nil
}

// ComputeByteRange returns the ByteRange covering the whole document except
// the placeholder hex string and its brackets.
func ComputeByteRange(document []byte, p *Placeholder) ByteRange {
	var br ByteRange
	br[1] = p.BracketStart
	br[2] = p.BracketStart + p.HexCapacity + 2
	br[3] = len(document) - br[2]
	return br
}

// RenderByteRangeField renders br and right-pads it with spaces to exactly
// fieldWidth bytes.
func RenderByteRangeField(br ByteRange, fieldWidth int) (string, error) {
	field := br.String()
	if len(field) > fieldWidth {
		return "", signerr.Newf(signerr.KindParse,
			"ByteRange placeholder too short for actual values: %d > %d", len(field), fieldWidth)
	}
	return field + strings.Repeat(" ", fieldWidth-len(field)), nil
}

// ReplaceField returns a copy of document with bytes [start, end) replaced by
// field. The replacement must have the same length as the span.
func ReplaceField(document []byte, start, end int, field string) ([]byte, error) {
	if start < 0 || end > len(document) || start > end {
		return nil, fmt.Errorf("field span [%d, %d) outside document of length %d", start, end, len(document))
	}
	if len(field) != end-start {
		return nil, fmt.Errorf("%w: %d != %d", ErrFieldLength, len(field), end-start)
	}
	out := make([]byte, len(document))
	copy(out, document)
	copy(out[start:end], field)
	return out, nil
}

// ExcisePlaceholderRegion removes the bytes between br[1] and br[2], leaving
// exactly the content the ByteRange names.
func ExcisePlaceholderRegion(document []byte, br ByteRange) []byte {
	out := make([]byte, 0, len(document)-(br.SignatureEnd()-br.SignatureStart()))
	out = append(out, document[:br.SignatureStart()]...)
	out = append(out, document[br.SignatureEnd():br[2]+br[3]]...)
	return out
}

// ReinsertSignature inserts "<hexPayload>" into signable at offset br[1].
func ReinsertSignature(signable []byte, br ByteRange, hexPayload string) []byte {
	at := br.SignatureStart()
	out := make([]byte, 0, len(signable)+len(hexPayload)+2)
	out = append(out, signable[:at]...)
	out = append(out, '<')
	out = append(out, hexPayload...)
	out = append(out, '>')
	out = append(out, signable[at:]...)
	return out
}

func indexFrom(s, sep []byte, from int) int {
	if from > len(s) {
		return -1
	}
	i := bytes.Index(s[from:], sep)
	if i == -1 {
		return -1
	}
	return from + i
}
