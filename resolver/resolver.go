// Package resolver turns the current login state and a destination domain into the tagging
// value delivered to that domain.
package resolver

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-openpims/credentials"
	"github.com/jrsteele09/go-openpims/derive"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
)

const (
	// CookieName is the cookie carrying the tagging value in the cookie channel.
	CookieName = "x-openpims"

	// HeaderName is the custom request header carrying the tagging value.
	HeaderName = "X-OpenPIMS"

	// ProductToken prefixes the tagging value in the User-Agent suffix.
	ProductToken = "OpenPIMS/1.0"
)

// Form tells how the tagging value is shaped.
type Form int

const (
	FormURL Form = iota // https://{derived}.{appDomain}
	FormRaw             // Pre-built opaque value returned by the login server
)

// TaggingValue is one resolution. Reuse it for every channel of the same request so a day
// boundary crossed mid-request cannot split the value.
type TaggingValue struct {
	Domain string
	Day    int64
	Value  string
	Form   Form
}

// UserAgent returns base with the OpenPIMS product suffix appended.
func (tv TaggingValue) UserAgent(base string) string {
	return UserAgent(base, tv.Value)
}

// CookiePair returns the "x-openpims=<url-encoded value>" pair.
func (tv TaggingValue) CookiePair() string {
	return CookiePair(tv.Value)
}

// Resolver wraps the derivation function with the URL formatting and the clock.
type Resolver struct {
	nowTime func() time.Time
}

// ResolverOption defines a function type to modify the Resolver instance.
type ResolverOption func(*Resolver)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.nowTime = nowFunc
	}
}

func New(options ...ResolverOption) *Resolver {
	r := &Resolver{nowTime: time.Now}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Day returns the current day epoch according to the resolver's clock.
func (r *Resolver) Day() int64 {
	return derive.DayEpoch(r.nowTime())
}

// Resolve computes the tagging value for domain. It returns ErrMissingCredential when the
// state is logged out or incomplete; callers treat that as "do not tag".
func (r *Resolver) Resolve(state *credentials.State, domain string) (TaggingValue, error) {
	if domain == "" {
		return TaggingValue{}, errors.Wrap(apperrors.ErrInvalidRequest, "[Resolve] domain is required")
	}

	switch state.Shape() {
	case credentials.ShapeDerived:
		c, err := state.Credential()
		if err != nil {
			return TaggingValue{}, err
		}
		return r.ResolveCredential(c, domain)

	case credentials.ShapePrebuilt:
		return TaggingValue{Domain: domain, Day: r.Day(), Value: state.OpenPimsURL, Form: FormRaw}, nil

	default:
		return TaggingValue{}, errors.Wrap(apperrors.ErrMissingCredential, "[Resolve] no usable login state")
	}
}

// ResolveCredential resolves for a derived-mode credential.
func (r *Resolver) ResolveCredential(c credentials.Credential, domain string) (TaggingValue, error) {
	if err := c.Validate(); err != nil {
		return TaggingValue{}, err
	}
	tok, err := derive.ForTime(c.UserID, c.Secret, domain, r.nowTime())
	if err != nil {
		return TaggingValue{}, errors.Wrap(err, "[ResolveCredential] derive")
	}
	return TaggingValue{
		Domain: domain,
		Day:    tok.Day,
		Value:  fmt.Sprintf("https://%s.%s", tok.Value, c.AppDomain),
		Form:   FormURL,
	}, nil
}

// UserAgent appends " OpenPIMS/1.0 (+value)" to base.
func UserAgent(base, value string) string {
	suffix := fmt.Sprintf("%s (+%s)", ProductToken, value)
	base = strings.TrimSpace(base)
	if base == "" {
		return suffix
	}
	return base + " " + suffix
}

// CookiePair returns "x-openpims=<url-encoded value>". Spaces encode as %20, matching
// encodeURIComponent on the server side.
func CookiePair(value string) string {
	return CookieName + "=" + strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}
