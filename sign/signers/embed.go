package signers

import (
	"encoding/hex"
	"strings"

	"github.com/georgepadayatti/signpdf/sign/signerr"
)

// EmbedSignature hex-encodes der and right-pads it with zeros to exactly
// capacity characters. The signature is never truncated: a payload longer
// than capacity is a Capacity error.
func EmbedSignature(der []byte, capacity int) (padded, unpadded string, err error) {
	unpadded = hex.EncodeToString(der)
	if len(unpadded) > capacity {
		return "", "", signerr.Newf(signerr.KindCapacity,
			"Signature exceeds placeholder length: %d > %d", len(unpadded), capacity)
	}
	return unpadded + strings.Repeat("0", capacity-len(unpadded)), unpadded, nil
}
