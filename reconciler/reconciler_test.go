package reconciler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-openpims/credentials"
	staterepofake "github.com/jrsteele09/go-openpims/credentials/repofake"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/reconciler"
	"github.com/jrsteele09/go-openpims/resolver"
	"github.com/jrsteele09/go-openpims/rules"
	rulesrepofake "github.com/jrsteele09/go-openpims/rules/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const exampleValue = "https://b69f20eb9658a3d30405bd07be021ffb.openpims.de"

var cred = credentials.Credential{UserID: "u1", Secret: "s1", AppDomain: "openpims.de"}

// clock is a settable time source shared with the resolver.
type clock struct {
	lock sync.Mutex
	now  time.Time
}

func newClock(day int64) *clock {
	return &clock{now: time.Unix(day*86400+36000, 0).UTC()}
}

func (c *clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.now = c.now.Add(d)
}

func newReconciler(t *testing.T, store rules.Store, options ...reconciler.Option) (*reconciler.Reconciler, *clock) {
	t.Helper()
	clk := newClock(19000)
	options = append([]reconciler.Option{
		reconciler.WithResolver(resolver.New(resolver.WithNowTime(clk.Now))),
		reconciler.WithLogger(zerolog.Nop()),
	}, options...)
	rc, err := reconciler.New(store, options...)
	require.NoError(t, err)
	t.Cleanup(rc.Close)
	return rc, clk
}

func uaRule(t *testing.T, store *rulesrepofake.FakeRuleStore, domain string) rules.Rule {
	t.Helper()
	r, ok := store.Get(rules.RuleID(domain, rules.ChannelUserAgent, rules.DefaultIDSpace))
	require.True(t, ok, "no rule installed for %s", domain)
	return r
}

func TestNew(t *testing.T) {
	_, err := reconciler.New(nil)
	require.Error(t, err)
}

func TestReconciler_DomainObserved(t *testing.T) {
	ctx := context.Background()

	t.Run("installs the derived value", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		res, err := rc.OnDomainObserved(ctx, "https://Example.com/path?q=1")
		require.NoError(t, err)
		require.Equal(t, []string{"example.com"}, res.Installed)
		require.True(t, res.OK())

		r := uaRule(t, store, "example.com")
		require.Equal(t, 3060, r.ID)
		require.Equal(t, "OpenPIMS/1.0 (+"+exampleValue+")", r.Action.Value)
		require.Equal(t, int64(19000), r.Day)

		known, err := rc.KnownDomains(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"example.com"}, known)
	})

	t.Run("same day observation is idempotent", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		_, err := rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)
		res, err := rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)

		require.Empty(t, res.Installed)
		require.Equal(t, []string{"example.com"}, res.Skipped)
		require.Equal(t, 1, store.AddCalls)
		require.Equal(t, 1, store.Len())
	})

	t.Run("non-web pages are ignored", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		for _, page := range []string{"about:blank", "chrome://extensions", "file:///tmp/x.html", ""} {
			res, err := rc.OnDomainObserved(ctx, page)
			require.NoError(t, err)
			require.Empty(t, res.Installed)
		}
		require.Equal(t, 0, store.AddCalls)
	})

	t.Run("logged out leaves the domain untagged and unknown", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store)

		res, err := rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)
		require.Equal(t, []string{"example.com"}, res.Skipped)
		require.Equal(t, 0, store.Len())

		known, err := rc.KnownDomains(ctx)
		require.NoError(t, err)
		require.Empty(t, known)
	})

	t.Run("prebuilt value is installed verbatim", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.PrebuiltState("https://abc.openpims.de")))

		_, err := rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)
		require.Equal(t, "OpenPIMS/1.0 (+https://abc.openpims.de)", uaRule(t, store, "example.com").Action.Value)
	})

	t.Run("every configured channel gets a rule", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store,
			reconciler.WithInitialState(credentials.DerivedState(cred)),
			reconciler.WithBuilder(rules.NewBuilder(rules.Channels, rules.DefaultIDSpace, "Mozilla/5.0")),
		)

		_, err := rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)
		require.Equal(t, 3, store.Len())

		r, ok := store.Get(3060 + rules.DefaultIDSpace)
		require.True(t, ok)
		require.Equal(t, "x-openpims=https%3A%2F%2Fb69f20eb9658a3d30405bd07be021ffb.openpims.de", r.Action.Value)
		r, ok = store.Get(3060 + 2*rules.DefaultIDSpace)
		require.True(t, ok)
		require.Equal(t, exampleValue, r.Action.Value)
	})
}

func TestReconciler_DayRotation(t *testing.T) {
	ctx := context.Background()
	store := rulesrepofake.NewFakeRuleStore(0)
	rc, clk := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

	_, err := rc.OnDomainObserved(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, int64(19000), uaRule(t, store, "example.com").Day)

	clk.Advance(24 * time.Hour)

	// Rules keep the old value until the next event for the domain
	require.Equal(t, int64(19000), uaRule(t, store, "example.com").Day)

	res, err := rc.OnDomainObserved(ctx, "example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"example.com"}, res.Installed)

	r := uaRule(t, store, "example.com")
	require.Equal(t, int64(19001), r.Day)
	require.Equal(t, "OpenPIMS/1.0 (+https://afc4890525d57fd27d16cca7f6af3515.openpims.de)", r.Action.Value)
	require.Equal(t, 1, store.Len())

	t.Run("refresh rebuilds every known domain", func(t *testing.T) {
		_, err := rc.OnDomainObserved(ctx, "example.org")
		require.NoError(t, err)
		clk.Advance(24 * time.Hour)

		res, err := rc.Refresh(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"example.com", "example.org"}, res.Installed)
		require.Equal(t, int64(19002), uaRule(t, store, "example.com").Day)
		require.Equal(t, int64(19002), uaRule(t, store, "example.org").Day)
	})
}

func TestReconciler_LoginLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("login replays domains observed while logged out", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		repo := staterepofake.NewFakeStateRepo()
		rc, _ := newReconciler(t, store, reconciler.WithStateSource(repo))

		res, err := rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)
		require.Equal(t, []string{"example.com"}, res.Skipped)

		require.NoError(t, repo.Save(ctx, credentials.DerivedState(cred)))
		res, err = rc.OnLoginStateChanged(ctx, true)
		require.NoError(t, err)
		require.Equal(t, []string{"example.com"}, res.Installed)
		require.Equal(t, "OpenPIMS/1.0 (+"+exampleValue+")", uaRule(t, store, "example.com").Action.Value)
	})

	t.Run("logout removes every rule", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		_, err := rc.OnTabsSnapshot(ctx, []string{"https://one.com/", "https://two.com/a", "about:blank"})
		require.NoError(t, err)
		require.Equal(t, 2, store.Len())

		res, err := rc.OnLoginStateChanged(ctx, false)
		require.NoError(t, err)
		require.True(t, res.OK())
		require.Equal(t, []string{"one.com", "two.com"}, res.Removed)
		require.Equal(t, 0, store.Len())

		known, err := rc.KnownDomains(ctx)
		require.NoError(t, err)
		require.Empty(t, known)

		// Logged out: new navigations are not tagged
		_, err = rc.OnDomainObserved(ctx, "three.com")
		require.NoError(t, err)
		require.Equal(t, 0, store.Len())

		// Logout dropped the earlier browsing context; only what was opened since returns
		res, err = rc.OnLoginStateChanged(ctx, true)
		require.NoError(t, err)
		require.Equal(t, []string{"three.com"}, res.Installed)
	})

	t.Run("re-login tags only the domains open since logout", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		for i := 0; i < 200; i++ {
			_, err := rc.OnDomainObserved(ctx, fmt.Sprintf("site%d.com", i))
			require.NoError(t, err)
		}
		require.Equal(t, 200, store.Len())

		_, err := rc.OnLoginStateChanged(ctx, false)
		require.NoError(t, err)
		_, err = rc.OnDomainObserved(ctx, "fresh.com")
		require.NoError(t, err)

		rotated := cred
		rotated.Secret = "s2"
		res, err := rc.OnCredentialChanged(ctx, credentials.DerivedState(rotated))
		require.NoError(t, err)
		require.Equal(t, []string{"fresh.com"}, res.Installed)
		require.Equal(t, 1, store.Len())
	})

	t.Run("browsing context is bounded", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		repo := staterepofake.NewFakeStateRepo()
		rc, _ := newReconciler(t, store, reconciler.WithStateSource(repo), reconciler.WithMaxOpenDomains(2))

		for _, d := range []string{"a.com", "b.com", "c.com"} {
			_, err := rc.OnDomainObserved(ctx, d)
			require.NoError(t, err)
		}

		require.NoError(t, repo.Save(ctx, credentials.DerivedState(cred)))
		res, err := rc.OnLoginStateChanged(ctx, true)
		require.NoError(t, err)
		require.Equal(t, []string{"b.com", "c.com"}, res.Installed)
	})

	t.Run("logout reports rules the store failed to remove", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		_, err := rc.OnTabsSnapshot(ctx, []string{"a.com", "c.com"})
		require.NoError(t, err)

		stuck := rules.RuleID("a.com", rules.ChannelUserAgent, rules.DefaultIDSpace)
		store.FailRemove = func(id int) error {
			if id == stuck {
				return errors.New("platform refused")
			}
			return nil
		}

		res, err := rc.OnLoginStateChanged(ctx, false)
		require.NoError(t, err)
		require.False(t, res.OK())
		require.Contains(t, res.FailedRules, stuck)
		require.Len(t, res.FailedRules, 1)
		require.Equal(t, 1, store.Len())

		known, err := rc.KnownDomains(ctx)
		require.NoError(t, err)
		require.Empty(t, known)

		// The orphan is swept by the next logout
		store.FailRemove = nil
		res, err = rc.OnLoginStateChanged(ctx, false)
		require.NoError(t, err)
		require.True(t, res.OK())
		require.Equal(t, 0, store.Len())
	})
}

func TestReconciler_CredentialChanged(t *testing.T) {
	ctx := context.Background()
	store := rulesrepofake.NewFakeRuleStore(0)
	rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

	_, err := rc.OnDomainObserved(ctx, "example.com")
	require.NoError(t, err)

	rotated := cred
	rotated.Secret = "s2"
	res, err := rc.OnCredentialChanged(ctx, credentials.DerivedState(rotated))
	require.NoError(t, err)
	require.Equal(t, []string{"example.com"}, res.Removed)
	require.Equal(t, []string{"example.com"}, res.Installed)
	require.Equal(t, "OpenPIMS/1.0 (+https://19a9a09c562e70f26fffceaab65e7f1e.openpims.de)", uaRule(t, store, "example.com").Action.Value)
	require.Equal(t, 1, store.Len())

	t.Run("nil state is a logout", func(t *testing.T) {
		res, err := rc.OnCredentialChanged(ctx, nil)
		require.NoError(t, err)
		require.Equal(t, []string{"example.com"}, res.Removed)
		require.Empty(t, res.Installed)
		require.Equal(t, 0, store.Len())
	})
}

func TestReconciler_StoreFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("full store leaves the domain untracked until it fits", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(1)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		_, err := rc.OnDomainObserved(ctx, "a.com")
		require.NoError(t, err)

		res, err := rc.OnDomainObserved(ctx, "c.com")
		require.NoError(t, err)
		require.ErrorIs(t, res.Failed["c.com"], apperrors.ErrStoreFull)

		known, err := rc.KnownDomains(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"a.com"}, known)

		_, err = rc.OnDomainForgotten(ctx, "a.com")
		require.NoError(t, err)

		res, err = rc.OnDomainObserved(ctx, "c.com")
		require.NoError(t, err)
		require.Equal(t, []string{"c.com"}, res.Installed)

		known, err = rc.KnownDomains(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"c.com"}, known)
	})

	t.Run("rejected add is retried on the next observation", func(t *testing.T) {
		store := rulesrepofake.NewFakeRuleStore(0)
		rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

		store.FailAdd = func(rules.Rule) error { return errors.New("quota") }
		res, err := rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)
		require.Contains(t, res.Failed, "example.com")

		store.FailAdd = nil
		res, err = rc.OnDomainObserved(ctx, "example.com")
		require.NoError(t, err)
		require.Equal(t, []string{"example.com"}, res.Installed)
	})
}

func TestReconciler_IDCollision(t *testing.T) {
	ctx := context.Background()
	store := rulesrepofake.NewFakeRuleStore(0)
	// An id space of one forces every domain onto the same id
	rc, _ := newReconciler(t, store,
		reconciler.WithInitialState(credentials.DerivedState(cred)),
		reconciler.WithBuilder(rules.NewBuilder(nil, 1, "")),
	)

	_, err := rc.OnDomainObserved(ctx, "a.com")
	require.NoError(t, err)
	_, err = rc.OnDomainObserved(ctx, "c.com")
	require.NoError(t, err)

	r, ok := store.Get(1)
	require.True(t, ok)
	require.Equal(t, "c.com", r.Domain)
	require.Equal(t, 1, store.Len())

	known, err := rc.KnownDomains(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"c.com"}, known)

	res, err := rc.OnDomainObserved(ctx, "a.com")
	require.NoError(t, err)
	require.Equal(t, []string{"a.com"}, res.Installed)

	known, err = rc.KnownDomains(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a.com"}, known)
}

func TestReconciler_ConcurrentEvents(t *testing.T) {
	ctx := context.Background()
	store := rulesrepofake.NewFakeRuleStore(0)
	rc, _ := newReconciler(t, store, reconciler.WithInitialState(credentials.DerivedState(cred)))

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = rc.OnDomainObserved(ctx, fmt.Sprintf("site%d.example", i%10))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	known, err := rc.KnownDomains(ctx)
	require.NoError(t, err)
	require.Len(t, known, 10)
	require.Equal(t, 10, store.AddCalls)
}

func TestReconciler_Close(t *testing.T) {
	rc, err := reconciler.New(rulesrepofake.NewFakeRuleStore(0), reconciler.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	rc.Close()
	rc.Close()

	_, err = rc.OnDomainObserved(context.Background(), "example.com")
	require.ErrorIs(t, err, apperrors.ErrClosed)
	_, err = rc.KnownDomains(context.Background())
	require.ErrorIs(t, err, apperrors.ErrClosed)
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		raw    string
		domain string
		ok     bool
	}{
		{"example.com", "example.com", true},
		{"Example.COM.", "example.com", true},
		{"https://news.example.org/a?b=c", "news.example.org", true},
		{"http://localhost:8080/", "localhost", true},
		{"shop.example:8443", "shop.example", true},
		{"münchen.de", "münchen.de", true},
		{"about:blank", "", false},
		{"chrome://newtab", "", false},
		{"file:///etc/hosts", "", false},
		{"safari-web-extension://abc/popup.html", "", false},
		{"  ", "", false},
		{"user@example.com", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			domain, ok := reconciler.NormalizeDomain(tc.raw)
			require.Equal(t, tc.ok, ok)
			require.Equal(t, tc.domain, domain)
		})
	}
}
