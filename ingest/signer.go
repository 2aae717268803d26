package ingest

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/atharva20-coder/swoopin-sub002/errors"
)

// Signer verifies the HMAC-SHA256 signatures providers attach to webhook
// deliveries. It holds a current and an optional next secret so secrets
// rotate without dropping in-flight deliveries signed with either one.
type Signer struct {
	current []byte
	next    []byte
}

// NewSigner creates a signer. current must be non-empty; next is the
// incoming secret during a rotation and may be empty.
func NewSigner(current, next string) (*Signer, error) {
	if current == "" {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "ingest", "NewSigner", "webhook secret")
	}
	s := &Signer{current: []byte(current)}
	if next != "" {
		s.next = []byte(next)
	}
	return s, nil
}

// Sign computes the signature header value for a payload, in the provider's
// "sha256=<hex>" form.
func (s *Signer) Sign(payload []byte) string {
	return "sha256=" + hex.EncodeToString(s.digest(s.current, payload))
}

// Verify checks a signature header against the payload using the current
// and, when set, next secret. Comparison is constant time.
func (s *Signer) Verify(payload []byte, header string) error {
	if header == "" {
		return errors.WrapInvalid(errors.ErrInvalidSignature, "ingest", "Verify", "missing signature")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
	if err != nil {
		return errors.WrapInvalid(errors.ErrInvalidSignature, "ingest", "Verify", "decode signature")
	}

	if hmac.Equal(got, s.digest(s.current, payload)) {
		return nil
	}
	if s.next != nil && hmac.Equal(got, s.digest(s.next, payload)) {
		return nil
	}
	return errors.WrapInvalid(errors.ErrInvalidSignature, "ingest", "Verify", "signature mismatch")
}

func (s *Signer) digest(key, payload []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(payload)
	return mac.Sum(nil)
}
