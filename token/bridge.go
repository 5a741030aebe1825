// Package token issues and verifies the bridge session tokens handed to the popup and the host
// app after a login. They are HS256 JWTs whose id is the session id.
package token

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
)

const DefaultIssuer = "openpims-bridge"

// Claims are the bridge token claims. ID (jti) carries the session id.
type Claims struct {
	Fingerprint string `json:"fp,omitempty"`
	Shape       string `json:"shape,omitempty"`
	jwt.RegisteredClaims
}

// SessionID returns the session the token belongs to
func (c *Claims) SessionID() string {
	return c.ID
}

// Bridge issues and verifies bridge tokens.
type Bridge struct {
	signer  Signer
	issuer  string
	ttl     time.Duration
	revoked RevokedSessions
	nowTime func() time.Time
}

// BridgeOption defines a function type to modify the Bridge instance.
type BridgeOption func(*Bridge)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) BridgeOption {
	return func(b *Bridge) {
		b.nowTime = nowFunc
	}
}

// WithIssuer sets the iss claim
func WithIssuer(iss string) BridgeOption {
	return func(b *Bridge) {
		b.issuer = iss
	}
}

// WithRevokedSessions sets the revocation store
func WithRevokedSessions(r RevokedSessions) BridgeOption {
	return func(b *Bridge) {
		b.revoked = r
	}
}

func NewBridge(signer Signer, ttl time.Duration, options ...BridgeOption) (*Bridge, error) {
	if signer == nil {
		return nil, errors.New("[NewBridge] signer is required")
	}
	if ttl <= 0 {
		return nil, errors.New("[NewBridge] ttl must be positive")
	}

	b := &Bridge{
		signer:  signer,
		issuer:  DefaultIssuer,
		ttl:     ttl,
		revoked: NewInMemoryRevokedSessions(),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(b)
	}
	return b, nil
}

// Issue signs a token for sessionID valid for the bridge ttl.
func (b *Bridge) Issue(sessionID, fingerprint, shape string) (string, *Claims, error) {
	if sessionID == "" {
		return "", nil, errors.New("[Bridge.Issue] session id is required")
	}

	now := b.nowTime()
	claims := &Claims{
		Fingerprint: fingerprint,
		Shape:       shape,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    b.issuer,
			Subject:   fingerprint,
			ID:        sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(b.ttl)),
		},
	}

	signed, err := b.signer.Sign(claims)
	if err != nil {
		return "", nil, errors.Wrap(err, "[Bridge.Issue] sign")
	}
	return signed, claims, nil
}

// Verify validates a raw token (signature, issuer, expiry, revocation). Every failure wraps
// ErrInvalidToken.
func (b *Bridge) Verify(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "empty token")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, b.signer.GetVerificationKey,
		jwt.WithValidMethods([]string{b.signer.GetSigningMethod().Alg()}),
		jwt.WithIssuer(b.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(b.nowTime),
	)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidToken, "%v", err)
	}
	if claims.ID == "" {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "token has no session id")
	}
	if b.revoked.IsRevoked(claims.ID) {
		return nil, errors.Wrap(apperrors.ErrInvalidToken, "session ended")
	}
	return claims, nil
}

// Revoke ends the session of claims before its token expires.
func (b *Bridge) Revoke(claims *Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	exp := b.nowTime().Add(b.ttl)
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	b.revoked.Add(claims.ID, exp)
	b.revoked.Cleanup(b.nowTime())
}
