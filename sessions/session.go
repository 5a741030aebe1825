// Package sessions ties the login channel, the persisted login state and the reconciler
// together. A session starts with a successful login or a restore at start-up and ends
// with a logout.
package sessions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-openpims/credentials"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/reconciler"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Session describes the active login.
type Session struct {
	ID          string            `json:"id"`          // Unique session identifier (UUID)
	StartedAt   time.Time         `json:"startedAt"`   // When the login or restore happened
	Fingerprint string            `json:"fingerprint"` // Identifies the credential without revealing it
	Shape       credentials.Shape `json:"-"`
	Email       string            `json:"email,omitempty"`
	ServerURL   string            `json:"serverUrl,omitempty"`
}

// Status is the snapshot returned to the popup.
type Status struct {
	LoggedIn     bool     `json:"isLoggedIn"`
	Session      *Session `json:"session,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	KnownDomains []string `json:"knownDomains"`
}

// Authenticator performs the login call. *login.Client satisfies it.
type Authenticator interface {
	Login(ctx context.Context, serverURL, email, password string) (*credentials.State, error)
}

// Reconciler receives login state events. *reconciler.Reconciler satisfies it.
type Reconciler interface {
	OnCredentialChanged(ctx context.Context, state *credentials.State) (reconciler.Result, error)
	OnLoginStateChanged(ctx context.Context, loggedIn bool) (reconciler.Result, error)
	KnownDomains(ctx context.Context) ([]string, error)
}

// Manager serialises login and logout; the reconciler serialises the rule work they trigger.
type Manager struct {
	auth             Authenticator
	repo             credentials.Repo
	rc               Reconciler
	defaultServerURL string
	logger           zerolog.Logger
	nowTime          func() time.Time

	lock    sync.RWMutex
	current *Session
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithDefaultServerURL sets the login endpoint used when a login names none
func WithDefaultServerURL(u string) ManagerOption {
	return func(m *Manager) {
		m.defaultServerURL = u
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

func NewManager(auth Authenticator, repo credentials.Repo, rc Reconciler, options ...ManagerOption) (*Manager, error) {
	if auth == nil {
		return nil, errors.New("[NewManager] authenticator is required")
	}
	if repo == nil {
		return nil, errors.New("[NewManager] state repo is required")
	}
	if rc == nil {
		return nil, errors.New("[NewManager] reconciler is required")
	}

	m := &Manager{
		auth:    auth,
		repo:    repo,
		rc:      rc,
		logger:  log.Logger,
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Login authenticates, persists the resulting state and rebuilds the rules with it. A failed
// login leaves the previous session and rules untouched. The network call runs without the
// manager lock so Status stays responsive.
//
// Once the state is persisted it is the current session, even when the rule rebuild reports
// an error: the reconciler still applies the event and Restore would pick the state up.
func (m *Manager) Login(ctx context.Context, serverURL, email, password string) (*Session, reconciler.Result, error) {
	if strings.TrimSpace(serverURL) == "" {
		serverURL = m.defaultServerURL
	}

	state, err := m.auth.Login(ctx, serverURL, email, password)
	if err != nil {
		return nil, reconciler.Result{}, err
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.repo.Save(ctx, state); err != nil {
		return nil, reconciler.Result{}, errors.Wrap(err, "[Manager.Login] persist login state")
	}

	m.current = m.newSession(state)
	logger := m.logger.With().Str("session_id", m.current.ID).Logger()

	res, err := m.rc.OnCredentialChanged(ctx, state)
	if err != nil {
		logger.Err(err).Object("state", state).Msg("Session started, rule rebuild failed")
		return nil, res, errors.Wrap(err, "[Manager.Login] rebuild rules")
	}

	logger.Info().
		Object("state", state).
		Int("installed", len(res.Installed)).
		Msg("Session started")
	s := *m.current
	return &s, res, nil
}

// Logout clears the persisted state and removes every rule.
func (m *Manager) Logout(ctx context.Context) (reconciler.Result, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if err := m.repo.Clear(ctx); err != nil {
		return reconciler.Result{}, errors.Wrap(err, "[Manager.Logout] clear login state")
	}

	res, err := m.rc.OnLoginStateChanged(ctx, false)
	if err != nil {
		return res, errors.Wrap(err, "[Manager.Logout] remove rules")
	}

	ev := m.logger.Info()
	if m.current != nil {
		ev = ev.Str("session_id", m.current.ID)
	}
	ev.Int("domains", len(res.Removed)).Msg("Session ended")
	m.current = nil
	return res, nil
}

// Restore re-arms the reconciler from the persisted state at start-up. It returns
// ErrNotLoggedIn when nothing usable is stored.
func (m *Manager) Restore(ctx context.Context) (*Session, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	state, err := m.repo.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Restore] load login state")
	}
	if state.Shape() == credentials.ShapeNone {
		return nil, apperrors.ErrNotLoggedIn
	}

	if _, err := m.rc.OnCredentialChanged(ctx, state); err != nil {
		return nil, errors.Wrap(err, "[Manager.Restore] rebuild rules")
	}

	m.current = m.newSession(state)
	m.logger.Info().Str("session_id", m.current.ID).Object("state", state).Msg("Session restored")
	return m.current, nil
}

// Current returns the active session, if any
func (m *Manager) Current() *Session {
	m.lock.RLock()
	defer m.lock.RUnlock()
	if m.current == nil {
		return nil
	}
	s := *m.current
	return &s
}

// Status reports the login state and the domains carrying rules.
func (m *Manager) Status(ctx context.Context) (*Status, error) {
	known, err := m.rc.KnownDomains(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Status] known domains")
	}
	if known == nil {
		known = []string{}
	}

	s := &Status{KnownDomains: known, Session: m.Current()}
	if s.Session != nil {
		s.LoggedIn = true
		s.Mode = s.Session.Shape.String()
	}
	return s, nil
}

func (m *Manager) newSession(state *credentials.State) *Session {
	return &Session{
		ID:          uuid.NewString(),
		StartedAt:   m.nowTime().UTC(),
		Fingerprint: state.Fingerprint(),
		Shape:       state.Shape(),
		Email:       state.Email,
		ServerURL:   state.ServerURL,
	}
}
