package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/reconciler"
	"github.com/jrsteele09/go-openpims/sessions"
	"github.com/rs/zerolog/log"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	maxRequestBytes = 64 << 10
)

// LoginRequest is the popup's login form
type LoginRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	ServerURL string `json:"serverUrl"`
}

// LoginResponse carries the bridge token for the session
type LoginResponse struct {
	Success   bool              `json:"success"`
	Token     string            `json:"token"`
	ExpiresAt time.Time         `json:"expiresAt"`
	Session   *sessions.Session `json:"session"`
	Mode      string            `json:"mode"`
	Installed []string          `json:"installed"`
}

// EventResponse summarises what a reconciliation did
type EventResponse struct {
	Success     bool              `json:"success"`
	Installed   []string          `json:"installed,omitempty"`
	Removed     []string          `json:"removed,omitempty"`
	Skipped     []string          `json:"skipped,omitempty"`
	Failed      map[string]string `json:"failed,omitempty"`
	FailedRules int               `json:"failedRules,omitempty"`
}

func eventResponse(res reconciler.Result) EventResponse {
	out := EventResponse{
		Success:     res.OK(),
		Installed:   res.Installed,
		Removed:     res.Removed,
		Skipped:     res.Skipped,
		FailedRules: len(res.FailedRules),
	}
	for domain, err := range res.Failed {
		if out.Failed == nil {
			out.Failed = make(map[string]string)
		}
		out.Failed[domain] = err.Error()
	}
	return out
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
	}
}

// LoginHandler accepts a JSON body or a form post.
func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if isJSON(r) {
			if err := decodeJSON(r, &req); err != nil {
				writeJSONError(w, "invalid_request", "Malformed JSON body", http.StatusBadRequest)
				return
			}
		} else {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
			if err := r.ParseForm(); err != nil {
				writeJSONError(w, "invalid_request", "Malformed form body", http.StatusBadRequest)
				return
			}
			req = LoginRequest{
				Email:     r.PostFormValue("email"),
				Password:  r.PostFormValue("password"),
				ServerURL: r.PostFormValue("serverUrl"),
			}
		}

		session, res, err := s.sessions.Login(r.Context(), req.ServerURL, req.Email, req.Password)
		if err != nil {
			code, status := loginErrorStatus(err)
			if status >= http.StatusInternalServerError {
				log.Err(err).Msg("Login failed")
			}
			writeJSONError(w, code, apperrors.UserMessage(err), status)
			return
		}

		raw, claims, err := s.bridge.Issue(session.ID, session.Fingerprint, session.Shape.String())
		if err != nil {
			log.Err(err).Str("session_id", session.ID).Msg("Failed to issue bridge token")
			writeJSONError(w, "server_error", "Failed to issue session token", http.StatusInternalServerError)
			return
		}

		writeJSON(w, LoginResponse{
			Success:   true,
			Token:     raw,
			ExpiresAt: claims.ExpiresAt.Time,
			Session:   session,
			Mode:      session.Shape.String(),
			Installed: res.Installed,
		}, http.StatusOK)
	}
}

// loginErrorStatus maps a login failure onto the bridge error code and status.
func loginErrorStatus(err error) (string, int) {
	var le *apperrors.LoginError
	switch {
	case !apperrors.As(err, &le):
		return "server_error", http.StatusInternalServerError
	case apperrors.Is(err, apperrors.ErrInvalidRequest):
		return "invalid_request", http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrInvalidCredentials):
		return "invalid_credentials", http.StatusUnauthorized
	case apperrors.Is(err, apperrors.ErrAccessDenied):
		return "access_denied", http.StatusForbidden
	default:
		return "login_failed", http.StatusBadGateway
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.sessions.Logout(r.Context())
		if err != nil {
			log.Err(err).Msg("Logout failed")
			writeJSONError(w, "server_error", "Logout failed", http.StatusInternalServerError)
			return
		}
		if claims, ok := ClaimsFromContext(r.Context()); ok {
			s.bridge.Revoke(claims)
		}
		writeJSON(w, eventResponse(res), http.StatusOK)
	}
}

func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.sessions.Status(r.Context())
		if err != nil {
			log.Err(err).Msg("Status failed")
			writeJSONError(w, "server_error", "Status unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, st, http.StatusOK)
	}
}

// NavigationHandler reports a top-level navigation: {"url": "..."}
func (s *Server) NavigationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URL string `json:"url"`
		}
		if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.URL) == "" {
			writeJSONError(w, "invalid_request", "Body must be {\"url\": \"...\"}", http.StatusBadRequest)
			return
		}

		res, err := s.events.OnDomainObserved(r.Context(), req.URL)
		if err != nil {
			writeEventError(w, err)
			return
		}
		writeJSON(w, eventResponse(res), http.StatusOK)
	}
}

// TabsHandler reports the pages currently open: {"urls": [...]}
func (s *Server) TabsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			URLs []string `json:"urls"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeJSONError(w, "invalid_request", "Body must be {\"urls\": [...]}", http.StatusBadRequest)
			return
		}

		res, err := s.events.OnTabsSnapshot(r.Context(), req.URLs)
		if err != nil {
			writeEventError(w, err)
			return
		}
		writeJSON(w, eventResponse(res), http.StatusOK)
	}
}

// TagPreviewHandler shows the headers a request to ?url= would carry.
func (s *Server) TagPreviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		u, err := url.Parse(target)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			writeJSONError(w, "invalid_request", "url must be an absolute http(s) URL", http.StatusBadRequest)
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
		if err != nil {
			writeJSONError(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		tagged, err := s.tagger.Tag(req, "")
		headers := map[string]string{}
		for name := range tagged.Header {
			headers[name] = tagged.Header.Get(name)
		}
		resp := map[string]any{"url": u.String(), "tagged": err == nil, "headers": headers}
		if err != nil {
			resp["reason"] = err.Error()
		}
		writeJSON(w, resp, http.StatusOK)
	}
}

func writeEventError(w http.ResponseWriter, err error) {
	if apperrors.Is(err, apperrors.ErrClosed) {
		writeJSONError(w, "unavailable", "Shutting down", http.StatusServiceUnavailable)
		return
	}
	log.Err(err).Msg("Reconciler event failed")
	writeJSONError(w, "server_error", "Event not processed", http.StatusInternalServerError)
}

func isJSON(r *http.Request) bool {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mediaType == "application/json"
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}
