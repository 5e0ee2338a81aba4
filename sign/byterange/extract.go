package byterange

import (
	"bytes"
	"encoding/hex"
	"regexp"
	"strconv"

	"github.com/georgepadayatti/signpdf/sign/signerr"
	"golang.org/x/crypto/cryptobyte"
	cbasn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var byteRangeRegex = regexp.MustCompile(`/ByteRange\s*\[\s*(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s*\]`)

// Extracted holds what a signed document declares about its signature.
type Extracted struct {
	ByteRange ByteRange
	// Signature is the hex-decoded /Contents value with zero padding removed.
	Signature []byte
	// SignedContent is the concatenation of the two ranges.
	SignedContent []byte
}

// Extract reads the last declared ByteRange of a signed document and returns
// the signature bytes together with the content they cover.
func Extract(document []byte) (*Extracted, error) {
	matches := byteRangeRegex.FindAllSubmatch(document, -1)
	if len(matches) == 0 {
		return nil, signerr.New(signerr.KindParse, "Failed to locate ByteRange.")
	}
	m := matches[len(matches)-1]

	var br ByteRange
	for i := range br {
		v, err := strconv.Atoi(string(m[i+1]))
		if err != nil {
			return nil, signerr.Wrap(signerr.KindParse, err, "invalid ByteRange value")
		}
		if v < 0 || v > len(document) {
			return nil, signerr.Newf(signerr.KindParse, "ByteRange value %d does not fit a document of %d bytes", v, len(document))
		}
		br[i] = v
	}

	sigStart, sigEnd := br.SignatureStart(), br.SignatureEnd()
	if br[0] != 0 || sigEnd-sigStart < 2 || br[2]+br[3] > len(document) {
		return nil, signerr.Newf(signerr.KindParse, "ByteRange %v does not fit a document of %d bytes", [4]int(br), len(document))
	}
	if document[sigStart] != '<' || document[sigEnd-1] != '>' {
		return nil, signerr.New(signerr.KindParse, "ByteRange does not exclude a hex string")
	}

	sigHex := stripWhitespace(document[sigStart+1 : sigEnd-1])
	raw := make([]byte, hex.DecodedLen(len(sigHex)))
	if _, err := hex.Decode(raw, sigHex); err != nil {
		return nil, signerr.Wrap(signerr.KindParse, err, "signature is not a valid hex string")
	}

	signed := make([]byte, 0, br[1]+br[3])
	signed = append(signed, document[br[0]:br[0]+br[1]]...)
	signed = append(signed, document[br[2]:br[2]+br[3]]...)

	return &Extracted{
		ByteRange:     br,
		Signature:     trimPadding(raw),
		SignedContent: signed,
	}, nil
}

// trimPadding cuts raw after its outer DER element. BER input that cryptobyte
// cannot frame falls back to dropping trailing zero bytes.
func trimPadding(raw []byte) []byte {
	input := cryptobyte.String(raw)
	var element cryptobyte.String
	if input.ReadASN1Element(&element, cbasn1.SEQUENCE) {
		return []byte(element)
	}
	return bytes.TrimRight(raw, "\x00")
}

func stripWhitespace(b []byte) []byte {
	if bytes.IndexAny(b, " \t\r\n\f") == -1 {
		return b
	}
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case ' ', '\t', '\r', '\n', '\f':
			continue
		}
		out = append(out, c)
	}
	return out
}
