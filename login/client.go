// Package login talks to the OpenPIMS login endpoint: an HTTP GET authenticated with Basic auth
// that answers either with the derivation credential as JSON or with a ready-made tagging value
// as plain text.
package login

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/go-openpims/credentials"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
)

// Client performs login calls.
type Client struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     zerolog.Logger
}

// ClientOption defines a function type to modify the Client instance.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for login calls. The client is copied, never
// modified.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the overall timeout of one login call. Without it the HTTP client's own
// timeout applies, or DefaultTimeout when that is zero.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(options ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}

	hc := *c.httpClient
	switch {
	case c.timeout > 0:
		hc.Timeout = c.timeout
	case hc.Timeout == 0:
		hc.Timeout = DefaultTimeout
	}
	c.httpClient = &hc
	return c
}

// credentialResponse is the JSON body of a derived-mode login.
type credentialResponse struct {
	UserID json.RawMessage `json:"userId"`
	Token  string          `json:"token"`
	Domain string          `json:"domain"`
}

// Login authenticates email/password against serverURL and returns the logged-in state. Failures
// are *apperrors.LoginError values classified by kind.
func (c *Client) Login(ctx context.Context, serverURL, email, password string) (*credentials.State, error) {
	email = strings.TrimSpace(email)
	serverURL = strings.TrimSpace(serverURL)
	if email == "" || password == "" || serverURL == "" {
		return nil, &apperrors.LoginError{Kind: apperrors.ErrInvalidRequest}
	}
	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &apperrors.LoginError{Kind: apperrors.ErrInvalidRequest, Err: errors.Errorf("invalid server url %q", serverURL)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &apperrors.LoginError{Kind: apperrors.ErrInvalidRequest, Err: err}
	}
	req.SetBasicAuth(email, password)
	req.Header.Set("Accept", "application/json, text/plain")

	logger := c.logger.With().Str("server", u.Host).Logger()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Warn().Err(err).Msg("Login request failed")
		return nil, &apperrors.LoginError{Kind: apperrors.ErrServiceUnreachable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Warn().Int("status", resp.StatusCode).Msg("Login rejected")
		return nil, &apperrors.LoginError{Kind: apperrors.StatusKind(resp.StatusCode), Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &apperrors.LoginError{Kind: apperrors.ErrServiceUnreachable, Status: resp.StatusCode, Err: err}
	}

	state, err := parseBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		logger.Warn().Err(err).Msg("Login response rejected")
		return nil, &apperrors.LoginError{Kind: apperrors.ErrFormat, Status: resp.StatusCode, Err: err}
	}
	state.Email = email
	state.ServerURL = serverURL

	logger.Info().Object("state", state).Msg("Login succeeded")
	return state, nil
}

// parseBody turns a 200 body into a state. A JSON content type must carry the credential. A
// text body holding a JSON object is read as the credential too; any other text, including
// scalar JSON such as a bare number, is the pre-built tagging value.
func parseBody(contentType string, body []byte) (*credentials.State, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	trimmed := bytes.TrimSpace(body)

	if mediaType == "application/json" {
		return parseCredential(trimmed)
	}
	if len(trimmed) == 0 {
		return nil, errors.New("empty response body")
	}
	if trimmed[0] == '{' && json.Valid(trimmed) {
		return parseCredential(trimmed)
	}
	return credentials.PrebuiltState(string(trimmed)), nil
}

func parseCredential(body []byte) (*credentials.State, error) {
	var cr credentialResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return nil, errors.Wrap(err, "decode credential")
	}

	userID, err := rawString(cr.UserID)
	if err != nil {
		return nil, err
	}
	c := credentials.Credential{UserID: userID, Secret: cr.Token, AppDomain: strings.TrimSpace(cr.Domain)}
	if c.UserID == "" || c.Secret == "" || c.AppDomain == "" {
		return nil, errors.New("userId, token and domain are required")
	}
	return credentials.DerivedState(c), nil
}

// rawString accepts a JSON string or number.
func rawString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errors.Errorf("userId must be a string or a number, got %s", raw)
	}
	return n.String(), nil
}
