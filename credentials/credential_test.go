package credentials_test

import (
	"bytes"
	"testing"

	"github.com/jrsteele09/go-openpims/credentials"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var testCredential = credentials.Credential{UserID: "u1", Secret: "s1", AppDomain: "openpims.de"}

func TestCredential_Fingerprint(t *testing.T) {
	fp := testCredential.Fingerprint()
	require.Len(t, fp, 16)
	require.Equal(t, fp, testCredential.Fingerprint())

	rotated := testCredential
	rotated.Secret = "s2"
	require.NotEqual(t, fp, rotated.Fingerprint())
}

func TestCredential_NeverLogsSecret(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	secret := credentials.Credential{UserID: "u1", Secret: "top-secret-value", AppDomain: "openpims.de"}

	logger.Info().Object("credential", secret).Msg("login")
	logger.Info().Object("state", credentials.DerivedState(secret)).Msg("state")

	require.NotContains(t, buf.String(), "top-secret-value")
	require.NotContains(t, secret.String(), "top-secret-value")
	require.Contains(t, buf.String(), secret.Fingerprint())
}

func TestState_Shape(t *testing.T) {
	tests := []struct {
		name  string
		state *credentials.State
		want  credentials.Shape
	}{
		{"nil", nil, credentials.ShapeNone},
		{"logged out", &credentials.State{UserID: "u1", Secret: "s1", AppDomain: "d"}, credentials.ShapeNone},
		{"derived", credentials.DerivedState(testCredential), credentials.ShapeDerived},
		{"prebuilt", credentials.PrebuiltState(" https://x.openpims.de\n"), credentials.ShapePrebuilt},
		{"partial", &credentials.State{IsLoggedIn: true, UserID: "u1"}, credentials.ShapeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.state.Shape())
		})
	}
}

func TestState_Credential(t *testing.T) {
	t.Run("complete", func(t *testing.T) {
		c, err := credentials.DerivedState(testCredential).Credential()
		require.NoError(t, err)
		require.Equal(t, testCredential, c)
	})

	t.Run("logged out", func(t *testing.T) {
		_, err := (&credentials.State{}).Credential()
		require.ErrorIs(t, err, apperrors.ErrMissingCredential)
	})

	t.Run("partial", func(t *testing.T) {
		_, err := (&credentials.State{IsLoggedIn: true, UserID: "u1", Secret: "s1"}).Credential()
		require.ErrorIs(t, err, apperrors.ErrMissingCredential)
	})

	t.Run("clone is independent", func(t *testing.T) {
		s := credentials.DerivedState(testCredential)
		c := s.Clone()
		c.Secret = "changed"
		require.Equal(t, "s1", s.Secret)
	})
}
