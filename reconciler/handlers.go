package reconciler

import (
	"context"
	"sort"

	"github.com/jrsteele09/go-openpims/credentials"
	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

func (rc *Reconciler) domainObserved(ctx context.Context, raw string) Result {
	var res Result
	domain, ok := NormalizeDomain(raw)
	if !ok {
		zerolog.Ctx(ctx).Debug().Str("page", raw).Msg("Ignoring non-web page")
		res.skipped(raw)
		return res
	}

	rc.rememberOpen(domain)
	rc.observe(ctx, domain, &res)
	return res
}

// rememberOpen adds domain to the browsing context, evicting the oldest entries past maxOpen.
func (rc *Reconciler) rememberOpen(domain string) {
	if _, ok := rc.openTabs[domain]; ok {
		return
	}
	rc.openTabs[domain] = struct{}{}
	rc.openOrder = append(rc.openOrder, domain)
	for len(rc.openTabs) > rc.maxOpen && len(rc.openOrder) > 0 {
		delete(rc.openTabs, rc.openOrder[0])
		rc.openOrder = rc.openOrder[1:]
	}
}

// resetOpen replaces the browsing context with domains.
func (rc *Reconciler) resetOpen(domains []string) {
	rc.openTabs = make(map[string]struct{}, len(domains))
	rc.openOrder = nil
	for _, d := range domains {
		rc.rememberOpen(d)
	}
}

// observe installs rules for domain unless it already carries rules derived today from the
// current credential.
func (rc *Reconciler) observe(ctx context.Context, domain string, res *Result) {
	if k, ok := rc.known[domain]; ok && k.day >= rc.resolver.Day() && k.fingerprint == rc.state.Fingerprint() {
		res.skipped(domain)
		return
	}
	rc.install(ctx, domain, res)
}

// install resolves the tagging value and replaces the domain's rules: remove by id, then add.
// A failure leaves the domain out of Known-Domains so the next observation retries.
func (rc *Reconciler) install(ctx context.Context, domain string, res *Result) {
	logger := zerolog.Ctx(ctx).With().Str("domain", domain).Logger()

	tv, err := rc.resolver.Resolve(rc.state, domain)
	if err != nil {
		if errors.Is(err, apperrors.ErrMissingCredential) {
			logger.Debug().Msg("Not logged in, domain left untagged")
			res.skipped(domain)
			return
		}
		logger.Err(err).Msg("Failed to resolve tagging value")
		res.failed(domain, err)
		return
	}

	built := rc.builder.Build(tv)
	ids := make([]int, 0, len(built))
	for _, r := range built {
		ids = append(ids, r.ID)
	}

	if err := rc.store.RemoveRules(ctx, ids); err != nil && !errors.Is(err, apperrors.ErrRuleNotFound) {
		logger.Err(err).Ints("rule_ids", ids).Msg("Failed to remove previous rules")
		res.failed(domain, err)
		return
	}
	rc.release(ctx, domain, ids)

	if err := rc.store.AddRules(ctx, built); err != nil {
		logger.Err(err).Ints("rule_ids", ids).Msg("Rule store rejected tagging rules")
		res.failed(domain, err)
		return
	}

	rc.known[domain] = &knownDomain{ids: ids, day: tv.Day, fingerprint: rc.state.Fingerprint()}
	for _, id := range ids {
		rc.owners[id] = domain
	}
	res.installed(domain)

	logger.Info().
		Ints("rule_ids", ids).
		Int64("day", tv.Day).
		Str("fingerprint", rc.state.Fingerprint()).
		Msg("Tagging rules installed")
}

// release drops the Known-Domains entries whose rules were just removed by id. When a hash
// collision makes another domain share the ids, that domain loses its rules (last write wins).
func (rc *Reconciler) release(ctx context.Context, domain string, ids []int) {
	for _, id := range ids {
		owner, ok := rc.owners[id]
		if !ok {
			continue
		}
		if owner != domain {
			zerolog.Ctx(ctx).Warn().
				Str("domain", domain).
				Str("previous_domain", owner).
				Int("rule_id", id).
				Msg("Rule id collision, replacing rule of another domain")
		}
		rc.forget(owner)
	}
}

// forget removes domain from Known-Domains and the id ownership table.
func (rc *Reconciler) forget(domain string) {
	k, ok := rc.known[domain]
	if !ok {
		return
	}
	for _, id := range k.ids {
		if rc.owners[id] == domain {
			delete(rc.owners, id)
		}
	}
	delete(rc.known, domain)
}

func (rc *Reconciler) login(ctx context.Context) Result {
	switch {
	case rc.source != nil:
		if state := rc.loadState(ctx); state != nil {
			rc.state = state
		}
	case rc.state != nil:
		state := rc.state.Clone()
		state.IsLoggedIn = true
		rc.state = state
	}
	return rc.replay(ctx)
}

// replay treats every open domain as newly observed.
func (rc *Reconciler) replay(ctx context.Context) Result {
	var res Result
	if rc.state.Shape() == credentials.ShapeNone {
		zerolog.Ctx(ctx).Debug().Msg("Login without a usable credential, nothing to tag")
		return res
	}
	for _, domain := range sortedKeys(rc.openTabs) {
		rc.observe(ctx, domain, &res)
	}
	zerolog.Ctx(ctx).Info().
		Int("installed", len(res.Installed)).
		Int("failed", len(res.Failed)).
		Msg("Login: tagging rules rebuilt for open domains")
	return res
}

// logout removes every rule in one bulk call, retries the ids that failed one by one, and
// clears Known-Domains whatever the outcome. Ids already in the store are included so rules
// orphaned by an earlier failed removal are swept too.
func (rc *Reconciler) logout(ctx context.Context) Result {
	logger := zerolog.Ctx(ctx)
	var res Result

	if rc.state != nil {
		state := rc.state.Clone()
		state.IsLoggedIn = false
		rc.state = state
	}

	idSet := map[int]struct{}{}
	for _, k := range rc.known {
		for _, id := range k.ids {
			idSet[id] = struct{}{}
		}
	}
	if installed, err := rc.store.Rules(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to list installed rules, removing known rules only")
	} else {
		for _, r := range installed {
			idSet[r.ID] = struct{}{}
		}
	}

	ids := make([]int, 0, len(idSet))
	for id := range idSet {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	if len(ids) > 0 {
		if err := rc.store.RemoveRules(ctx, ids); err != nil {
			retry := ids
			var storeErr *apperrors.RuleStoreError
			if errors.As(err, &storeErr) {
				retry = retry[:0:0]
				for id := range storeErr.Failed {
					retry = append(retry, id)
				}
				sort.Ints(retry)
			}
			for _, id := range retry {
				if err := rc.store.RemoveRules(ctx, []int{id}); err != nil {
					res.failedRule(id, err)
				}
			}
		}
	}

	res.Removed = sortedKeys(rc.known)
	rc.known = make(map[string]*knownDomain)
	rc.owners = make(map[int]string)

	ev := logger.Info()
	if !res.OK() {
		ev = logger.Warn().Int("failed_rules", len(res.FailedRules))
	}
	ev.Int("domains", len(res.Removed)).Int("rules", len(ids)).Msg("Logout: tagging rules removed")
	return res
}

// credentialChanged is a logout followed by a login with the new state. Without a usable
// state it is a plain logout and the browsing context is dropped.
func (rc *Reconciler) credentialChanged(ctx context.Context, state *credentials.State) Result {
	res := rc.logout(ctx)
	rc.state = state
	if state.Shape() == credentials.ShapeNone {
		rc.resetOpen(nil)
		return res
	}
	zerolog.Ctx(ctx).Info().Object("state", state).Msg("Credential rotated")
	res.merge(rc.replay(ctx))
	return res
}

// tabsSnapshot replaces the open domain set. Rules of closed domains stay until logout.
func (rc *Reconciler) tabsSnapshot(ctx context.Context, pages []string) Result {
	var res Result
	var open []string
	for _, p := range pages {
		if domain, ok := NormalizeDomain(p); ok {
			open = append(open, domain)
		}
	}
	rc.resetOpen(open)

	if rc.state.Shape() == credentials.ShapeNone {
		return res
	}
	for _, domain := range sortedKeys(rc.openTabs) {
		rc.observe(ctx, domain, &res)
	}
	return res
}

// domainForgotten removes the rules of a domain that is no longer relevant.
func (rc *Reconciler) domainForgotten(ctx context.Context, raw string) Result {
	var res Result
	domain, ok := NormalizeDomain(raw)
	if !ok {
		return res
	}
	if _, open := rc.openTabs[domain]; open {
		delete(rc.openTabs, domain)
		for i, d := range rc.openOrder {
			if d == domain {
				rc.openOrder = append(rc.openOrder[:i:i], rc.openOrder[i+1:]...)
				break
			}
		}
	}

	k, ok := rc.known[domain]
	if !ok {
		res.skipped(domain)
		return res
	}
	if err := rc.store.RemoveRules(ctx, k.ids); err != nil {
		zerolog.Ctx(ctx).Err(err).Str("domain", domain).Msg("Failed to remove tagging rules")
		res.failed(domain, err)
		return res
	}
	rc.forget(domain)
	res.Removed = append(res.Removed, domain)
	return res
}

// refresh reinstalls every known domain with freshly derived values.
func (rc *Reconciler) refresh(ctx context.Context) Result {
	var res Result
	for _, domain := range sortedKeys(rc.known) {
		rc.install(ctx, domain, &res)
	}
	return res
}
