package credentials

import (
	"strings"

	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Shape tells which of the two persisted deployment variants a State carries.
type Shape int

const (
	ShapeNone     Shape = iota // Logged out or incomplete
	ShapeDerived               // userId/secret/appDomain, values derived per domain
	ShapePrebuilt              // Server returned a ready-made tagging value
)

func (s Shape) String() string {
	switch s {
	case ShapeDerived:
		return "derived"
	case ShapePrebuilt:
		return "prebuilt"
	default:
		return "none"
	}
}

// State is the login state handed between the privileged store and the rule engine.
// JSON names follow the keys the host app and extension storage use.
type State struct {
	IsLoggedIn  bool   `json:"isLoggedIn"`
	UserID      string `json:"userId,omitempty"`
	Secret      string `json:"secret,omitempty"`
	AppDomain   string `json:"appDomain,omitempty"`
	OpenPimsURL string `json:"openPimsUrl,omitempty"`
	Email       string `json:"email,omitempty"`
	ServerURL   string `json:"serverUrl,omitempty"`
}

// DerivedState builds a logged-in state from a credential
func DerivedState(c Credential) *State {
	return &State{IsLoggedIn: true, UserID: c.UserID, Secret: c.Secret, AppDomain: c.AppDomain}
}

// PrebuiltState builds a logged-in state carrying a pre-resolved tagging value
func PrebuiltState(openPimsURL string) *State {
	return &State{IsLoggedIn: true, OpenPimsURL: strings.TrimSpace(openPimsURL)}
}

// Shape reports which deployment variant the state carries. The derived shape wins when
// both are present.
func (s *State) Shape() Shape {
	if s == nil || !s.IsLoggedIn {
		return ShapeNone
	}
	if s.UserID != "" && s.Secret != "" && s.AppDomain != "" {
		return ShapeDerived
	}
	if s.OpenPimsURL != "" {
		return ShapePrebuilt
	}
	return ShapeNone
}

// Credential returns the derived-mode credential, or ErrMissingCredential when the state is
// logged out or partial.
func (s *State) Credential() (Credential, error) {
	if s == nil || !s.IsLoggedIn {
		return Credential{}, errors.Wrap(apperrors.ErrMissingCredential, "[State] not logged in")
	}
	c := Credential{UserID: s.UserID, Secret: s.Secret, AppDomain: s.AppDomain}
	if err := c.Validate(); err != nil {
		return Credential{}, err
	}
	return c, nil
}

// Clone returns a copy so holders never share a mutable state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Fingerprint identifies the state's credential material for logging.
func (s *State) Fingerprint() string {
	switch s.Shape() {
	case ShapeDerived:
		c, _ := s.Credential()
		return c.Fingerprint()
	case ShapePrebuilt:
		return Credential{Secret: s.OpenPimsURL}.Fingerprint()
	default:
		return ""
	}
}

func (s *State) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("logged_in", s != nil && s.IsLoggedIn).Str("shape", s.Shape().String())
	if fp := s.Fingerprint(); fp != "" {
		e.Str("fingerprint", fp)
	}
}
