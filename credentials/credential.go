package credentials

import (
	"encoding/hex"
	"fmt"

	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/blake2b"
)

// Credential is the identity triple returned by a successful derived-mode login.
// It is replaced wholesale on re-login and never mutated in place.
type Credential struct {
	UserID    string // Server-side user identifier, first part of the derivation message
	Secret    string // Shared HMAC key - never log or serialise outside the state store
	AppDomain string // Domain the derived subdomain is appended to
}

// Validate reports ErrMissingCredential when any field is absent
func (c Credential) Validate() error {
	if c.UserID == "" || c.Secret == "" || c.AppDomain == "" {
		return errors.Wrap(apperrors.ErrMissingCredential, "[Credential] userId, secret and appDomain are required")
	}
	return nil
}

// Fingerprint identifies a credential in logs and comparisons without revealing the secret.
func (c Credential) Fingerprint() string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(c.UserID))
	h.Write([]byte{0})
	h.Write([]byte(c.AppDomain))
	h.Write([]byte{0})
	h.Write([]byte(c.Secret))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func (c Credential) String() string {
	return fmt.Sprintf("Credential{user=%s app=%s fp=%s}", c.UserID, c.AppDomain, c.Fingerprint())
}

// MarshalZerologObject keeps the secret out of structured logs.
func (c Credential) MarshalZerologObject(e *zerolog.Event) {
	e.Str("user_id", c.UserID).Str("app_domain", c.AppDomain).Str("fingerprint", c.Fingerprint())
}

var _ zerolog.LogObjectMarshaler = Credential{}
