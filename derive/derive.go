// Package derive computes the per-domain, daily-rotating OpenPIMS token.
//
// The message layout is userID + domain + decimal(day) with no separators. Servers
// recompute the same value, so the layout must not change.
package derive

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
	"unicode/utf8"

	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
)

const (
	// SecondsPerDay is the rotation period of derived tokens.
	SecondsPerDay = 86400

	// TokenLength is the number of hex characters kept from the HMAC digest (128 bits).
	TokenLength = 32
)

// Token is a derived value for one domain on one day.
type Token struct {
	Domain string
	Day    int64
	Value  string
}

// DayEpoch returns floor(unix_seconds / 86400) for t.
func DayEpoch(t time.Time) int64 {
	secs := t.Unix()
	day := secs / SecondsPerDay
	if secs < 0 && secs%SecondsPerDay != 0 {
		day--
	}
	return day
}

// Derive returns the first 32 lowercase hex characters of
// HMAC-SHA256(key=secret, message=userID+domain+day).
func Derive(userID, secret, domain string, day int64) (string, error) {
	for _, s := range []string{userID, secret, domain} {
		if !utf8.ValidString(s) {
			return "", errors.Wrap(apperrors.ErrInvalidEncoding, "[Derive]")
		}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(userID))
	mac.Write([]byte(domain))
	mac.Write([]byte(strconv.FormatInt(day, 10)))
	return hex.EncodeToString(mac.Sum(nil))[:TokenLength], nil
}

// MustDerive is Derive for inputs known to be valid UTF-8. It panics otherwise.
func MustDerive(userID, secret, domain string, day int64) string {
	v, err := Derive(userID, secret, domain, day)
	if err != nil {
		panic(err)
	}
	return v
}

// ForTime derives the token for the day containing t.
func ForTime(userID, secret, domain string, t time.Time) (Token, error) {
	day := DayEpoch(t)
	v, err := Derive(userID, secret, domain, day)
	if err != nil {
		return Token{}, err
	}
	return Token{Domain: domain, Day: day, Value: v}, nil
}
