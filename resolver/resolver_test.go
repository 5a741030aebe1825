package resolver_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-openpims/credentials"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/resolver"
	"github.com/stretchr/testify/require"
)

// 19000 days after the epoch, mid-morning
var day19000 = time.Unix(19000*86400+36000, 0).UTC()

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestResolver_Resolve(t *testing.T) {
	r := resolver.New(resolver.WithNowTime(fixedClock(day19000)))

	t.Run("derived state yields URL form", func(t *testing.T) {
		state := credentials.DerivedState(credentials.Credential{UserID: "u1", Secret: "s1", AppDomain: "openpims.de"})
		tv, err := r.Resolve(state, "example.com")
		require.NoError(t, err)
		require.Equal(t, resolver.TaggingValue{
			Domain: "example.com",
			Day:    19000,
			Value:  "https://b69f20eb9658a3d30405bd07be021ffb.openpims.de",
			Form:   resolver.FormURL,
		}, tv)
	})

	t.Run("prebuilt state yields raw form", func(t *testing.T) {
		tv, err := r.Resolve(credentials.PrebuiltState("https://token.openpims.de"), "example.com")
		require.NoError(t, err)
		require.Equal(t, resolver.FormRaw, tv.Form)
		require.Equal(t, "https://token.openpims.de", tv.Value)
	})

	t.Run("logged out is missing credential", func(t *testing.T) {
		_, err := r.Resolve(&credentials.State{}, "example.com")
		require.ErrorIs(t, err, apperrors.ErrMissingCredential)

		_, err = r.Resolve(nil, "example.com")
		require.ErrorIs(t, err, apperrors.ErrMissingCredential)
	})

	t.Run("partial credential is missing credential", func(t *testing.T) {
		_, err := r.Resolve(&credentials.State{IsLoggedIn: true, UserID: "u1", Secret: "s1"}, "example.com")
		require.ErrorIs(t, err, apperrors.ErrMissingCredential)

		_, err = r.ResolveCredential(credentials.Credential{UserID: "u1"}, "example.com")
		require.ErrorIs(t, err, apperrors.ErrMissingCredential)
	})

	t.Run("empty domain", func(t *testing.T) {
		_, err := r.Resolve(credentials.PrebuiltState("x"), "")
		require.ErrorIs(t, err, apperrors.ErrInvalidRequest)
	})
}

func TestResolver_RotatesWithClock(t *testing.T) {
	now := day19000
	r := resolver.New(resolver.WithNowTime(func() time.Time { return now }))
	c := credentials.Credential{UserID: "u1", Secret: "s1", AppDomain: "openpims.de"}

	first, err := r.ResolveCredential(c, "example.com")
	require.NoError(t, err)

	now = now.Add(24 * time.Hour)
	second, err := r.ResolveCredential(c, "example.com")
	require.NoError(t, err)

	require.Equal(t, first.Day+1, second.Day)
	require.NotEqual(t, first.Value, second.Value)
}

func TestFormatting(t *testing.T) {
	tv := resolver.TaggingValue{Value: "https://abc.openpims.de"}

	require.Equal(t, "Mozilla/5.0 Safari OpenPIMS/1.0 (+https://abc.openpims.de)", tv.UserAgent("Mozilla/5.0 Safari"))
	require.Equal(t, "OpenPIMS/1.0 (+https://abc.openpims.de)", tv.UserAgent(""))
	require.Equal(t, "x-openpims=https%3A%2F%2Fabc.openpims.de", tv.CookiePair())
	require.Equal(t, "x-openpims=a%20b", resolver.CookiePair("a b"))
}
