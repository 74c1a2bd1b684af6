package plugin

import (
	"context"
	"errors"
	"testing"

	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/internal/plan"
)

func TestPackIsolationAdmit(t *testing.T) {
	iso := PackIsolation{}
	cases := []struct {
		name   string
		info   Info
		policy IsolationPolicy
		c      Contribution
		ok     bool
	}{
		{"handler from handler pack", Info{Category: TypeHandlers}, IsolationPolicy{}, Contribution{Kind: ContributionHandler, Name: "upper"}, true},
		{"predicate from mixed pack", Info{Category: TypeMixed}, IsolationPolicy{}, Contribution{Kind: ContributionPredicate, Name: "non_empty"}, true},
		{"predicate from handler pack", Info{Category: TypeHandlers}, IsolationPolicy{}, Contribution{Kind: ContributionPredicate, Name: "p"}, false},
		{"handler from predicate pack", Info{Category: TypePredicates}, IsolationPolicy{}, Contribution{Kind: ContributionHandler, Name: "h"}, false},
		{"dotted name", Info{}, IsolationPolicy{}, Contribution{Kind: ContributionHandler, Name: "other.upper"}, false},
		{"empty name", Info{}, IsolationPolicy{}, Contribution{Kind: ContributionHandler}, false},
		{"under limit", Info{}, IsolationPolicy{MaxContributions: 2}, Contribution{Kind: ContributionHandler, Name: "h", Admitted: 1}, true},
		{"at limit", Info{}, IsolationPolicy{MaxContributions: 2}, Contribution{Kind: ContributionHandler, Name: "h", Admitted: 2}, false},
	}
	for _, tc := range cases {
		err := iso.Admit(tc.info, tc.policy, tc.c)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrContributionRejected) {
			t.Fatalf("%s: expected ErrContributionRejected, got %v", tc.name, err)
		}
	}
}

func TestInstallEnforcesContributionPolicy(t *testing.T) {
	m, err := NewManager(ManagerConfig{Defaults: IsolationPolicy{MaxContributions: 1}})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if err := m.Register("math", &fakePlugin{}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	reg := plan.NewRegistry()
	if err := m.Install(context.Background(), "math", reg); !errors.Is(err, ErrContributionRejected) {
		t.Fatalf("expected second contribution to be rejected, got %v", err)
	}
	if _, err := reg.Predicate("math.positive", nil); !errors.Is(err, orchestration.ErrHandlerNotFound) {
		t.Fatalf("rejected predicate reached the registry: %v", err)
	}

	handlersOnly, _ := NewManager(ManagerConfig{})
	if err := handlersOnly.Register("math", &fakePlugin{info: Info{Category: TypeHandlers}}, nil, IsolationPolicy{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := handlersOnly.Install(context.Background(), "math", plan.NewRegistry()); !errors.Is(err, ErrContributionRejected) {
		t.Fatalf("handler pack contributing a predicate must be rejected, got %v", err)
	}
}

func TestRegisterRejectsInvalidPackInfo(t *testing.T) {
	m, _ := NewManager(ManagerConfig{})
	if err := m.Register("text", &fakePlugin{info: Info{Category: "processor"}}, nil, IsolationPolicy{}); !errors.Is(err, ErrInvalidPack) {
		t.Fatalf("expected ErrInvalidPack, got %v", err)
	}
	if err := m.Register("a.b", &fakePlugin{}, nil, IsolationPolicy{}); err == nil {
		t.Fatal("dotted id must be rejected")
	}
}
