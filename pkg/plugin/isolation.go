package plugin

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrContributionRejected reports a handler or predicate the isolation
// strategy refused to install.
var ErrContributionRejected = errors.New("contribution rejected")

// ContributionKind distinguishes handlers from predicates.
type ContributionKind string

const (
	ContributionHandler   ContributionKind = "handler"
	ContributionPredicate ContributionKind = "predicate"
)

// Contribution describes one name a handler pack tries to register.
type Contribution struct {
	Kind ContributionKind
	// Name is the name before the "<id>." namespace is applied.
	Name string
	// Admitted counts the contributions already installed for this pack.
	Admitted int
}

// IsolationStrategy decides what a handler pack may declare and contribute.
type IsolationStrategy interface {
	// Validate checks the declared capabilities when the pack is registered.
	Validate(info Info, policy IsolationPolicy) error
	// Admit checks every handler or predicate before it reaches the registry.
	Admit(info Info, policy IsolationPolicy, c Contribution) error
	Prepare(info Info) error
	Cleanup(info Info) error
}

// PackIsolation enforces capability policies and contribution rules.
// Handlers run in-process; nothing is sandboxed.
type PackIsolation struct{}

// Validate ensures the requested capabilities are allowed.
func (PackIsolation) Validate(info Info, policy IsolationPolicy) error {
	if policy.MaxContributions < 0 {
		return fmt.Errorf("max contributions cannot be negative: %d", policy.MaxContributions)
	}
	allowed := map[Capability]struct{}{}
	for _, cap := range policy.AllowedCapabilities {
		allowed[cap] = struct{}{}
	}
	for _, cap := range policy.DeniedCapabilities {
		if slices.Contains(info.Capabilities, cap) {
			return fmt.Errorf("capability %s is explicitly denied", cap)
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, cap := range info.Capabilities {
		if _, ok := allowed[cap]; !ok {
			return fmt.Errorf("capability %s not permitted", cap)
		}
	}
	return nil
}

// Admit rejects names that would escape the pack namespace, kinds the pack's
// category does not cover, and contributions beyond the policy limit.
func (PackIsolation) Admit(info Info, policy IsolationPolicy, c Contribution) error {
	if c.Name == "" || strings.ContainsAny(c.Name, ". \t\n") {
		return fmt.Errorf("%w: %s name %q must be non-empty without dots or spaces", ErrContributionRejected, c.Kind, c.Name)
	}
	switch {
	case info.Category == TypeHandlers && c.Kind != ContributionHandler,
		info.Category == TypePredicates && c.Kind != ContributionPredicate:
		return fmt.Errorf("%w: %s pack cannot contribute %s %q", ErrContributionRejected, info.Category, c.Kind, c.Name)
	}
	if policy.MaxContributions > 0 && c.Admitted >= policy.MaxContributions {
		return fmt.Errorf("%w: %s %q exceeds the limit of %d contributions", ErrContributionRejected, c.Kind, c.Name, policy.MaxContributions)
	}
	return nil
}

// Prepare implements IsolationStrategy.
func (PackIsolation) Prepare(Info) error { return nil }

// Cleanup implements IsolationStrategy.
func (PackIsolation) Cleanup(Info) error { return nil }

// NewIsolationStrategy returns PackIsolation if none is supplied.
func NewIsolationStrategy(strategy IsolationStrategy) IsolationStrategy {
	if strategy == nil {
		return PackIsolation{}
	}
	return strategy
}

// MergePolicies combines the default and pack specific isolation policies.
func MergePolicies(defaults IsolationPolicy, pack *IsolationPolicy) IsolationPolicy {
	if pack == nil {
		return defaults
	}
	return pack.Merge(defaults)
}

// EnsurePolicy returns an error when a pack declares capabilities but no
// policy governs them.
func EnsurePolicy(info Info, policy IsolationPolicy) error {
	if len(info.Capabilities) == 0 {
		return nil
	}
	if len(policy.AllowedCapabilities) == 0 && len(policy.DeniedCapabilities) == 0 {
		return errors.New("handler packs declaring capabilities require an isolation policy")
	}
	return nil
}
