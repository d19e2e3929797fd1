package notification

import "context"

// ListOpts pages rule queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// RuleStore persists notification rules. Every query is scoped by tenant.
type RuleStore interface {
	// CreateRule inserts a rule. A name already used by the tenant returns
	// timeli.ErrDuplicateRuleName.
	CreateRule(ctx context.Context, r *Rule) error

	// UpdateRule replaces a rule. Unknown rules return timeli.ErrRuleNotFound.
	UpdateRule(ctx context.Context, r *Rule) error

	// DeleteRule removes a rule. Unknown rules return timeli.ErrRuleNotFound.
	DeleteRule(ctx context.Context, tenantID, ruleID string) error

	// GetRule returns a rule or timeli.ErrRuleNotFound.
	GetRule(ctx context.Context, tenantID, ruleID string) (*Rule, error)

	// ListRules returns the tenant's rules ordered by id.
	ListRules(ctx context.Context, tenantID string, opts ListOpts) ([]*Rule, error)
}
