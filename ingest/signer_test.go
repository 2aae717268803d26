package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

func TestSignAndVerify(t *testing.T) {
	signer, err := NewSigner("secret-a", "")
	require.NoError(t, err)

	payload := []byte(`{"object":"instagram"}`)
	sig := signer.Sign(payload)
	assert.True(t, len(sig) > len("sha256="))

	assert.NoError(t, signer.Verify(payload, sig))
}

func TestVerifyRejectsBadSignatures(t *testing.T) {
	signer, err := NewSigner("secret-a", "")
	require.NoError(t, err)

	payload := []byte(`{"object":"instagram"}`)

	tests := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"garbage", "sha256=zzzz"},
		{"wrong key", mustSign(t, "other-secret", payload)},
		{"tampered payload", signer.Sign([]byte(`{"object":"evil"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verifyErr := signer.Verify(payload, tt.header)
			require.Error(t, verifyErr)
			assert.True(t, errors.Is(verifyErr, errors.ErrInvalidSignature))
		})
	}
}

func TestVerifyAcceptsNextKeyDuringRotation(t *testing.T) {
	old, err := NewSigner("secret-old", "")
	require.NoError(t, err)
	rotating, err := NewSigner("secret-new", "secret-old")
	require.NoError(t, err)

	payload := []byte(`{"entry":[]}`)

	// Deliveries signed with either secret pass during the rotation.
	assert.NoError(t, rotating.Verify(payload, old.Sign(payload)))
	assert.NoError(t, rotating.Verify(payload, rotating.Sign(payload)))
}

func TestNewSignerRequiresCurrentSecret(t *testing.T) {
	_, err := NewSigner("", "next")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMissingConfig))
}

func mustSign(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	s, err := NewSigner(secret, "")
	require.NoError(t, err)
	return s.Sign(payload)
}
