package rulesrepofake

import (
	"context"
	"sort"
	"sync"

	apperrors "github.com/jrsteele09/go-openpims/internal/errors"
	"github.com/jrsteele09/go-openpims/rules"
	"github.com/pkg/errors"
)

var _ rules.Store = (*FakeRuleStore)(nil)

// FakeRuleStore is an in-memory rule store with the same semantics as the platform engine:
// duplicate ids are rejected on add, unknown ids are ignored on remove.
type FakeRuleStore struct {
	rules    map[int]rules.Rule
	capacity int
	lock     sync.RWMutex

	// Optional failure hooks for tests
	FailAdd    func(rule rules.Rule) error
	FailRemove func(id int) error

	// Call counters
	AddCalls    int
	RemoveCalls int
	Added       int
	Removed     int
}

// NewFakeRuleStore creates a store accepting up to capacity rules; 0 means unlimited.
func NewFakeRuleStore(capacity int) *FakeRuleStore {
	return &FakeRuleStore{
		rules:    make(map[int]rules.Rule),
		capacity: capacity,
	}
}

func (rs *FakeRuleStore) RemoveRules(_ context.Context, ids []int) error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.RemoveCalls++

	failed := map[int]error{}
	for _, id := range ids {
		if rs.FailRemove != nil {
			if err := rs.FailRemove(id); err != nil {
				failed[id] = err
				continue
			}
		}
		if _, ok := rs.rules[id]; ok {
			delete(rs.rules, id)
			rs.Removed++
		}
	}
	if len(failed) > 0 {
		return &apperrors.RuleStoreError{Op: "remove", Failed: failed}
	}
	return nil
}

func (rs *FakeRuleStore) AddRules(_ context.Context, add []rules.Rule) error {
	rs.lock.Lock()
	defer rs.lock.Unlock()
	rs.AddCalls++

	// The platform applies an update atomically: validate everything first
	seen := map[int]bool{}
	for _, r := range add {
		if err := r.Validate(); err != nil {
			return err
		}
		if _, exists := rs.rules[r.ID]; exists || seen[r.ID] {
			return errors.Wrapf(apperrors.ErrInvalidRule, "rule id %d already exists", r.ID)
		}
		if rs.FailAdd != nil {
			if err := rs.FailAdd(r); err != nil {
				return err
			}
		}
		seen[r.ID] = true
	}
	if rs.capacity > 0 && len(rs.rules)+len(add) > rs.capacity {
		return errors.Wrapf(apperrors.ErrStoreFull, "capacity %d", rs.capacity)
	}

	for _, r := range add {
		rs.rules[r.ID] = r
		rs.Added++
	}
	return nil
}

func (rs *FakeRuleStore) Rules(_ context.Context) ([]rules.Rule, error) {
	rs.lock.RLock()
	defer rs.lock.RUnlock()

	out := make([]rules.Rule, 0, len(rs.rules))
	for _, r := range rs.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Get returns the rule with id, if installed
func (rs *FakeRuleStore) Get(id int) (rules.Rule, bool) {
	rs.lock.RLock()
	defer rs.lock.RUnlock()
	r, ok := rs.rules[id]
	return r, ok
}

// Len returns the number of installed rules
func (rs *FakeRuleStore) Len() int {
	rs.lock.RLock()
	defer rs.lock.RUnlock()
	return len(rs.rules)
}
