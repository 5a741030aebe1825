package rules

import "context"

// Store is the external request-modification engine. The reconciler is its only writer.
type Store interface {
	// RemoveRules removes the rules with the given ids. Ids that do not exist are not an
	// error. Per-id failures are reported as *errors.RuleStoreError after every id was tried.
	RemoveRules(ctx context.Context, ids []int) error

	// AddRules installs rules. Adding an id that already exists is an error; callers remove
	// first. Fails with ErrStoreFull or ErrInvalidRule.
	AddRules(ctx context.Context, rules []Rule) error

	// Rules lists the installed rules.
	Rules(ctx context.Context) ([]Rule, error)
}
