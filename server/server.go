package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-openpims/internal/config"
	"github.com/jrsteele09/go-openpims/reconciler"
	"github.com/jrsteele09/go-openpims/sessions"
	"github.com/jrsteele09/go-openpims/tagger"
	"github.com/jrsteele09/go-openpims/token"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SessionManager is the login lifecycle the bridge drives. *sessions.Manager satisfies it.
type SessionManager interface {
	Login(ctx context.Context, serverURL, email, password string) (*sessions.Session, reconciler.Result, error)
	Logout(ctx context.Context) (reconciler.Result, error)
	Status(ctx context.Context) (*sessions.Status, error)
}

// EventSink receives browsing events. *reconciler.Reconciler satisfies it.
type EventSink interface {
	OnDomainObserved(ctx context.Context, domain string) (reconciler.Result, error)
	OnTabsSnapshot(ctx context.Context, pages []string) (reconciler.Result, error)
}

// Deps are the components behind the bridge routes.
type Deps struct {
	Sessions SessionManager
	Events   EventSink
	Bridge   *token.Bridge
	Tagger   tagger.RequestTagger // Optional, enables the tag preview in DEV
}

type Server struct {
	env      string // Environment (e.g., "DEV", "PROD")
	mux      *http.ServeMux
	routes   []string
	config   config.Config
	sessions SessionManager
	events   EventSink
	bridge   *token.Bridge
	tagger   tagger.RequestTagger
}

func New(cfg config.Config, deps Deps) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("[Server New] config is required")
	}
	if deps.Sessions == nil || deps.Events == nil || deps.Bridge == nil {
		return nil, errors.New("[Server New] sessions, events and bridge are required")
	}

	s := &Server{
		env:      cfg.GetEnv(),
		mux:      http.NewServeMux(),
		config:   cfg,
		sessions: deps.Sessions,
		events:   deps.Events,
		bridge:   deps.Bridge,
		tagger:   deps.Tagger,
	}

	s.initRoutes()
	s.logRoutes()

	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) RegisterRouteHandler(pattern string, handler http.Handler) {
	s.routes = append(s.routes, pattern)
	s.mux.Handle(pattern, handler)
}

func (s *Server) RegisterRouteFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	s.routes = append(s.routes, pattern)
	s.mux.HandleFunc(pattern, handler)
}

// Routes returns the registered route patterns
func (s *Server) Routes() []string {
	return append([]string(nil), s.routes...)
}

func (s *Server) logRoutes() {
	if s.env != "DEV" {
		return // Skip logging in non-development environments
	}
	for _, route := range s.routes {
		parts := strings.SplitN(route, " ", 2)

		if len(parts) > 1 {
			logRoute(parts[0], parts[1])
		} else {
			logRoute("", parts[0])
		}
	}
}

func logRoute(method, path string) {
	paddedMethod := fmt.Sprintf(" %-7s", method)
	color, ok := methodColors[method]
	if !ok {
		color = Gray
	}
	log.Info().Msgf("[%-19s] %s", color+paddedMethod+ResetColor, path)
}
