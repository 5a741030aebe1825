// Package reconciler keeps the external rule store in step with visited domains, the login
// state and credential rotation.
//
// All events run one at a time on a single goroutine in arrival order. That goroutine owns
// the Known-Domains set and is the only writer of the rule store, so a remove-then-add for one
// domain can never interleave with another event's remove-then-add on the same id.
package reconciler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-openpims/credentials"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/resolver"
	"github.com/jrsteele09/go-openpims/rules"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize      = 64
	defaultMaxOpenDomains = 512
)

// StateSource supplies the persisted login state. credentials.Repo satisfies it.
type StateSource interface {
	Load(ctx context.Context) (*credentials.State, error)
}

// knownDomain is the bookkeeping for one domain carrying active rules.
type knownDomain struct {
	ids         []int
	day         int64
	fingerprint string
}

type eventKind int

const (
	eventDomainObserved eventKind = iota
	eventLoginStateChanged
	eventCredentialChanged
	eventTabsSnapshot
	eventRefresh
	eventKnownDomains
	eventDomainForgotten
)

type event struct {
	id       string
	kind     eventKind
	ctx      context.Context
	domain   string
	loggedIn bool
	state    *credentials.State
	domains  []string
	reply    chan reply
}

type reply struct {
	result Result
	known  []string
}

// Reconciler is the rule set reconciler actor.
type Reconciler struct {
	store    rules.Store
	resolver *resolver.Resolver
	builder  *rules.Builder
	source   StateSource
	logger   zerolog.Logger

	events    chan *event
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the run goroutine
	state    *credentials.State
	known    map[string]*knownDomain
	owners   map[int]string
	openTabs map[string]struct{}

	// Arrival order of openTabs, oldest first, for eviction past maxOpen
	openOrder []string
	maxOpen   int
}

// Option defines a function type to modify the Reconciler instance.
type Option func(*Reconciler)

// WithResolver sets the resolver (primarily to inject a clock in tests)
func WithResolver(r *resolver.Resolver) Option {
	return func(rc *Reconciler) {
		rc.resolver = r
	}
}

// WithBuilder sets the rule builder (channels, id space, base User-Agent)
func WithBuilder(b *rules.Builder) Option {
	return func(rc *Reconciler) {
		rc.builder = b
	}
}

// WithStateSource sets where the login state is loaded from at start and on login
func WithStateSource(src StateSource) Option {
	return func(rc *Reconciler) {
		rc.source = src
	}
}

// WithInitialState seeds the login state without a source
func WithInitialState(state *credentials.State) Option {
	return func(rc *Reconciler) {
		rc.state = state.Clone()
	}
}

// WithMaxOpenDomains bounds the browsing context replayed at login. The oldest domain is
// dropped when a navigation pushes the set past n.
func WithMaxOpenDomains(n int) Option {
	return func(rc *Reconciler) {
		if n > 0 {
			rc.maxOpen = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(rc *Reconciler) {
		rc.logger = l
	}
}

// New creates the reconciler and starts its event loop. Call Close to stop it.
func New(store rules.Store, options ...Option) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("[reconciler.New] rule store is required")
	}

	rc := &Reconciler{
		store:    store,
		resolver: resolver.New(),
		builder:  rules.NewBuilder(nil, rules.DefaultIDSpace, ""),
		logger:   log.Logger,
		events:   make(chan *event, defaultQueueSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		known:    make(map[string]*knownDomain),
		owners:   make(map[int]string),
		openTabs: make(map[string]struct{}),
		maxOpen:  defaultMaxOpenDomains,
	}

	for _, opt := range options {
		opt(rc)
	}
	rc.logger = rc.logger.With().Str("component", "reconciler").Logger()

	go rc.run()
	return rc, nil
}

// OnDomainObserved handles a top-level navigation to domain (a host or a page URL).
func (rc *Reconciler) OnDomainObserved(ctx context.Context, domain string) (Result, error) {
	r, err := rc.submit(ctx, &event{kind: eventDomainObserved, domain: domain})
	return r.result, err
}

// OnLoginStateChanged handles login (true) and logout (false). Logout also forgets the
// browsing context; the host sends a fresh tabs snapshot after the next login.
func (rc *Reconciler) OnLoginStateChanged(ctx context.Context, loggedIn bool) (Result, error) {
	r, err := rc.submit(ctx, &event{kind: eventLoginStateChanged, loggedIn: loggedIn})
	return r.result, err
}

// OnCredentialChanged replaces the login state and rebuilds every rule. A nil or logged-out
// state is a logout.
func (rc *Reconciler) OnCredentialChanged(ctx context.Context, state *credentials.State) (Result, error) {
	r, err := rc.submit(ctx, &event{kind: eventCredentialChanged, state: state.Clone()})
	return r.result, err
}

// OnTabsSnapshot replaces the set of domains open in the browser. Newly seen domains are
// tagged when logged in.
func (rc *Reconciler) OnTabsSnapshot(ctx context.Context, pages []string) (Result, error) {
	r, err := rc.submit(ctx, &event{kind: eventTabsSnapshot, domains: append([]string(nil), pages...)})
	return r.result, err
}

// OnDomainForgotten removes the rules of a domain that is no longer relevant.
func (rc *Reconciler) OnDomainForgotten(ctx context.Context, domain string) (Result, error) {
	r, err := rc.submit(ctx, &event{kind: eventDomainForgotten, domain: domain})
	return r.result, err
}

// Refresh rebuilds the rules of every known domain with freshly derived values. Nothing calls
// it on a timer: declarative rules otherwise keep serving the value of the day they were
// installed until the next event for their domain.
func (rc *Reconciler) Refresh(ctx context.Context) (Result, error) {
	r, err := rc.submit(ctx, &event{kind: eventRefresh})
	return r.result, err
}

// KnownDomains returns the domains currently carrying rules, sorted. Diagnostic only.
func (rc *Reconciler) KnownDomains(ctx context.Context) ([]string, error) {
	r, err := rc.submit(ctx, &event{kind: eventKnownDomains})
	return r.known, err
}

// Close stops the event loop after the event in flight completes. Queued events are dropped
// and their callers receive ErrClosed.
func (rc *Reconciler) Close() {
	rc.closeOnce.Do(func() {
		close(rc.quit)
	})
	<-rc.done
}

// submit enqueues ev and waits for it. Cancelling ctx stops the wait, not the event.
func (rc *Reconciler) submit(ctx context.Context, ev *event) (reply, error) {
	ev.id = uuid.NewString()
	ev.ctx = context.WithoutCancel(ctx)
	ev.reply = make(chan reply, 1)

	select {
	case <-rc.quit:
		return reply{}, apperrors.ErrClosed
	default:
	}

	select {
	case rc.events <- ev:
	case <-rc.done:
		return reply{}, apperrors.ErrClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	select {
	case r := <-ev.reply:
		return r, nil
	case <-rc.done:
		return reply{}, apperrors.ErrClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (rc *Reconciler) run() {
	defer close(rc.done)

	if rc.source != nil && rc.state == nil {
		rc.state = rc.loadState(context.Background())
	}

	for {
		select {
		case <-rc.quit:
			return
		case ev := <-rc.events:
			ev.reply <- rc.handle(ev)
		}
	}
}

func (rc *Reconciler) handle(ev *event) reply {
	logger := rc.logger.With().Str("event_id", ev.id).Logger()
	ctx := logger.WithContext(ev.ctx)

	switch ev.kind {
	case eventDomainObserved:
		return reply{result: rc.domainObserved(ctx, ev.domain)}
	case eventLoginStateChanged:
		if ev.loggedIn {
			return reply{result: rc.login(ctx)}
		}
		res := rc.logout(ctx)
		rc.resetOpen(nil)
		return reply{result: res}
	case eventCredentialChanged:
		return reply{result: rc.credentialChanged(ctx, ev.state)}
	case eventTabsSnapshot:
		return reply{result: rc.tabsSnapshot(ctx, ev.domains)}
	case eventRefresh:
		return reply{result: rc.refresh(ctx)}
	case eventDomainForgotten:
		return reply{result: rc.domainForgotten(ctx, ev.domain)}
	case eventKnownDomains:
		return reply{known: sortedKeys(rc.known)}
	default:
		logger.Error().Int("kind", int(ev.kind)).Msg("unknown reconciler event")
		return reply{}
	}
}

func (rc *Reconciler) loadState(ctx context.Context) *credentials.State {
	state, err := rc.source.Load(ctx)
	if err != nil {
		rc.logger.Err(err).Msg("Failed to load login state")
		return nil
	}
	return state
}
