package rules

import (
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Matches reports whether the rule's condition covers u for resource type rt. An empty rt
// matches any resource type.
func (r Rule) Matches(u *url.URL, rt ResourceType) bool {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !matchFilter(r.Condition.URLFilter, u) {
		return false
	}
	if rt == "" {
		return true
	}
	for _, t := range r.Condition.ResourceTypes {
		if t == rt {
			return true
		}
	}
	return false
}

// matchFilter supports the two filter shapes rules are built with: "*://host/*" and "|http*".
func matchFilter(filter string, u *url.URL) bool {
	switch {
	case filter == "|http*":
		return true
	case strings.HasPrefix(filter, "*://") && strings.HasSuffix(filter, "/*"):
		host := strings.TrimSuffix(strings.TrimPrefix(filter, "*://"), "/*")
		return strings.EqualFold(u.Hostname(), host)
	default:
		return false
	}
}

// Match returns the rules covering u, highest priority first, ties by id.
func Match(all []Rule, u *url.URL, rt ResourceType) []Rule {
	var out []Rule
	for _, r := range all {
		if r.Matches(u, rt) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Apply performs the rule's header action on h. Append on Cookie keeps every existing cookie.
func (r Rule) Apply(h http.Header) {
	ApplyAction(h, r.Action)
}

// ApplyAction performs a single header action on h.
func ApplyAction(h http.Header, a HeaderAction) {
	switch a.Operation {
	case OperationAppend:
		sep := ", "
		if strings.EqualFold(a.Header, "Cookie") {
			sep = "; "
		}
		var parts []string
		for _, v := range h.Values(a.Header) {
			if v = strings.TrimSpace(v); v != "" {
				parts = append(parts, v)
			}
		}
		// Several header lines fold into one value with the pair at the end
		h.Set(a.Header, strings.Join(append(parts, a.Value), sep))
	default:
		h.Set(a.Header, a.Value)
	}
}
