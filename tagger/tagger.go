// Package tagger applies the tagging value to outgoing HTTP requests.
//
// Two capabilities exist. Declarative reads the rules the reconciler installed and applies the
// ones matching the request, which is what a platform rule engine does. Interception resolves
// the value at request time from the current login state, so it never serves a stale day.
package tagger

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-openpims/credentials"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/resolver"
	"github.com/jrsteele09/go-openpims/rules"
	"github.com/pkg/errors"
)

// RequestTagger returns a copy of req carrying the tagging headers for domain. An empty domain
// means the request URL's host. The original request is never modified.
type RequestTagger interface {
	Tag(req *http.Request, domain string) (*http.Request, error)
}

// StateSource supplies the current login state. credentials.Repo satisfies it.
type StateSource interface {
	Load(ctx context.Context) (*credentials.State, error)
}

var (
	_ RequestTagger = (*Declarative)(nil)
	_ RequestTagger = (*Interception)(nil)
)

// Declarative applies the installed rules matching the request.
type Declarative struct {
	store rules.Store
}

func NewDeclarative(store rules.Store) (*Declarative, error) {
	if store == nil {
		return nil, errors.New("[NewDeclarative] rule store is required")
	}
	return &Declarative{store: store}, nil
}

func (d *Declarative) Tag(req *http.Request, domain string) (*http.Request, error) {
	if req == nil || req.URL == nil {
		return nil, errors.Wrap(apperrors.ErrInvalidRequest, "[Declarative.Tag] request has no URL")
	}

	all, err := d.store.Rules(req.Context())
	if err != nil {
		return req, errors.Wrap(err, "[Declarative.Tag] list rules")
	}

	target := *req.URL
	if domain != "" {
		target.Host = domain
	}
	matched := rules.Match(all, &target, "")
	if len(matched) == 0 {
		return req, errors.Wrapf(apperrors.ErrMissingCredential, "[Declarative.Tag] no rules for %s", target.Hostname())
	}

	out := req.Clone(req.Context())
	for _, r := range matched {
		r.Apply(out.Header)
	}
	return out, nil
}

// Interception resolves the tagging value per request and applies every configured channel
// with that single resolution.
type Interception struct {
	source   StateSource
	resolver *resolver.Resolver
	builder  *rules.Builder
}

// InterceptionOption defines a function type to modify the Interception instance.
type InterceptionOption func(*Interception)

// WithResolver sets the resolver (primarily to inject a clock in tests)
func WithResolver(r *resolver.Resolver) InterceptionOption {
	return func(i *Interception) {
		i.resolver = r
	}
}

// WithBuilder sets the channels and base User-Agent
func WithBuilder(b *rules.Builder) InterceptionOption {
	return func(i *Interception) {
		i.builder = b
	}
}

func NewInterception(source StateSource, options ...InterceptionOption) (*Interception, error) {
	if source == nil {
		return nil, errors.New("[NewInterception] state source is required")
	}
	i := &Interception{
		source:   source,
		resolver: resolver.New(),
		builder:  rules.NewBuilder(nil, rules.DefaultIDSpace, ""),
	}
	for _, opt := range options {
		opt(i)
	}
	return i, nil
}

func (i *Interception) Tag(req *http.Request, domain string) (*http.Request, error) {
	if req == nil || req.URL == nil {
		return nil, errors.Wrap(apperrors.ErrInvalidRequest, "[Interception.Tag] request has no URL")
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return req, errors.Wrapf(apperrors.ErrInvalidRequest, "[Interception.Tag] scheme %q is not tagged", req.URL.Scheme)
	}
	if domain == "" {
		domain = strings.ToLower(req.URL.Hostname())
	}

	state, err := i.source.Load(req.Context())
	if err != nil {
		return req, errors.Wrap(err, "[Interception.Tag] load state")
	}
	tv, err := i.resolver.Resolve(state, domain)
	if err != nil {
		return req, err
	}

	out := req.Clone(req.Context())
	for _, r := range i.builder.Build(tv) {
		r.Apply(out.Header)
	}
	return out, nil
}

// Capabilities describes what the host platform offers. Store is set when it supports
// declarative header rules.
type Capabilities struct {
	Store  rules.Store
	Source StateSource
}

// New picks the declarative tagger when the platform has a rule store, interception otherwise.
func New(caps Capabilities, options ...InterceptionOption) (RequestTagger, error) {
	switch {
	case caps.Store != nil:
		return NewDeclarative(caps.Store)
	case caps.Source != nil:
		return NewInterception(caps.Source, options...)
	default:
		return nil, errors.New("[tagger.New] a rule store or a state source is required")
	}
}
