package reconciler

import (
	"sort"
)

// Result reports what one reconciliation event did.
type Result struct {
	Installed   []string         // Domains whose rules were (re)installed
	Removed     []string         // Domains whose rules were removed
	Skipped     []string         // Domains left untouched (already tagged, or no usable credential)
	Failed      map[string]error // Domains left untracked after a rule store error
	FailedRules map[int]error    // Rule ids the store failed to remove
}

func (r *Result) installed(domain string) {
	r.Installed = append(r.Installed, domain)
}

func (r *Result) skipped(domain string) {
	r.Skipped = append(r.Skipped, domain)
}

func (r *Result) failed(domain string, err error) {
	if r.Failed == nil {
		r.Failed = make(map[string]error)
	}
	r.Failed[domain] = err
}

func (r *Result) failedRule(id int, err error) {
	if r.FailedRules == nil {
		r.FailedRules = make(map[int]error)
	}
	r.FailedRules[id] = err
}

func (r *Result) merge(other Result) {
	r.Installed = append(r.Installed, other.Installed...)
	r.Removed = append(r.Removed, other.Removed...)
	r.Skipped = append(r.Skipped, other.Skipped...)
	for d, err := range other.Failed {
		r.failed(d, err)
	}
	for id, err := range other.FailedRules {
		r.failedRule(id, err)
	}
}

// OK reports whether the event completed without store failures.
func (r Result) OK() bool {
	return len(r.Failed) == 0 && len(r.FailedRules) == 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
