// Package signature verifies HMAC-SHA256 webhook signatures of the form
// "sha256=<hex>" as sent by GitHub-style webhook deliveries.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/linnemanlabs/go-core/xerrors"
)

// ErrInvalid is returned for a missing or mismatched signature while a secret
// is configured. Callers must not process the payload when they see it.
var ErrInvalid = xerrors.New("webhook signature invalid")

// Verifier checks inbound webhook authenticity against a shared secret.
// A Verifier with an empty secret accepts everything (insecure dev mode);
// the caller is expected to log that condition loudly at startup.
type Verifier struct {
	secret []byte
}

// New creates a Verifier for the given shared secret.
func New(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Verify checks header against the HMAC of body. Fails closed: with a secret
// configured, an empty or malformed header is a mismatch.
func (v *Verifier) Verify(body []byte, header string) error {
	if !v.Enabled() {
		return nil
	}
	if hmac.Equal([]byte(header), []byte(v.sign(body))) {
		return nil
	}
	return ErrInvalid
}

func (v *Verifier) sign(body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
