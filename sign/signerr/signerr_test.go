package signerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindInputType, "InputType"},
		{KindParse, "Parse"},
		{KindCredential, "Credential"},
		{KindCapacity, "Capacity"},
		{KindVerification, "Verification"},
		{KindSigning, "Signing"},
		{KindUnknown, "Unknown"},
		{Kind(42), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestError_Format(t *testing.T) {
	err := New(KindParse, "Could not find ByteRange placeholder")
	assert.Equal(t, "[Parse] Could not find ByteRange placeholder", err.Error())

	cause := errors.New("pkcs12: decryption password incorrect")
	wrapped := Wrap(KindCredential, cause, "failed to decode PKCS#12 container")
	assert.Equal(t, "[Credential] failed to decode PKCS#12 container: pkcs12: decryption password incorrect", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestKindOf_WrappedChain(t *testing.T) {
	inner := Newf(KindCapacity, "Signature exceeds placeholder length: %d > %d", 300, 256)
	outer := fmt.Errorf("signing failed: %w", inner)

	assert.Equal(t, KindCapacity, KindOf(outer))
	assert.True(t, Is(outer, KindCapacity))
	assert.False(t, Is(outer, KindParse))
	assert.False(t, Is(nil, KindUnknown))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))

	msg, ok := MessageOf(outer)
	assert.True(t, ok)
	assert.Equal(t, "Signature exceeds placeholder length: 300 > 256", msg)

	_, ok = MessageOf(errors.New("plain"))
	assert.False(t, ok)
}
