package orchestration

import (
	"errors"
	"testing"
)

func TestRelationshipAssess(t *testing.T) {
	var tracker RelationshipTracker
	ok := TaskResult{Index: 0, TaskID: "a", Status: TaskSucceeded}
	failed := TaskResult{Index: 0, TaskID: "a", Status: TaskFailed}

	if err := tracker.Assess(ok, PendingTask{Index: 1, Task: Task{ID: "b", Dependencies: []TaskID{"a"}}}); err != nil {
		t.Fatalf("valid pair rejected: %v", err)
	}
	cases := map[string]struct {
		prev TaskResult
		next PendingTask
	}{
		"failed dependency": {failed, PendingTask{Index: 1, Task: Task{ID: "b", Dependencies: []TaskID{"a"}}}},
		"not adjacent":      {ok, PendingTask{Index: 2, Task: Task{ID: "c"}}},
		"self dependency":   {ok, PendingTask{Index: 1, Task: Task{ID: "b", Dependencies: []TaskID{"b"}}}},
		"skipped previous":  {TaskResult{Index: 0, Status: TaskSkipped}, PendingTask{Index: 1}},
	}
	for name, tc := range cases {
		err := tracker.Assess(tc.prev, tc.next)
		var violation *RelationshipViolation
		if !errors.As(err, &violation) || !errors.Is(err, ErrRelationship) {
			t.Fatalf("%s: expected violation, got %v", name, err)
		}
	}
}

func TestRelationshipViolationAsTaskError(t *testing.T) {
	err := &TaskExecutionError{LevelID: "l", TaskIndex: 1, Cause: &RelationshipViolation{PrevIndex: 0, NextIndex: 1, Reason: "x"}}
	if !errors.Is(err, ErrTaskExecution) || !errors.Is(err, ErrRelationship) {
		t.Fatalf("relationship violation should match both sentinels")
	}
	if err.Code() != CodeRelationship {
		t.Fatalf("code = %s", err.Code())
	}
}

func TestValidateRejectsForwardDependencies(t *testing.T) {
	orch := Orchestration{Levels: []Level{{ID: "l", Type: Sequential{Tasks: []Task{
		{ID: "a", Handler: constant(1), Dependencies: []TaskID{"b"}},
		{ID: "b", Handler: constant(2)},
	}}}}}
	if err := Validate(orch); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidateCases(t *testing.T) {
	h := constant(1)
	cases := map[string]Orchestration{
		"no levels":        {},
		"empty level id":   {Levels: []Level{{Type: Sequential{Tasks: []Task{{Handler: h}}}}}},
		"duplicate ids":    {Levels: []Level{{ID: "x", Type: Sequential{Tasks: []Task{{Handler: h}}}}, {ID: "x", Type: Sequential{Tasks: []Task{{Handler: h}}}}}},
		"missing type":     {Levels: []Level{{ID: "x"}}},
		"nil handler":      {Levels: []Level{{ID: "x", Type: Parallel{Tasks: []Task{{}}}}}},
		"parallel deps":    {Levels: []Level{{ID: "x", Type: Parallel{Tasks: []Task{{ID: "a", Handler: h}, {Handler: h, Dependencies: []TaskID{"a"}}}}}}},
		"no predicate":     {Levels: []Level{{ID: "x", Type: Conditional{Conditions: []Condition{{Actions: []Task{{Handler: h}}}}}}}},
		"zero iterations":  {Levels: []Level{{ID: "x", Type: Iterative{Tasks: []Task{{Handler: h}}}}}},
		"negative chunk":   {Levels: []Level{{ID: "x", Type: Transcendent{ChunkSize: -1, Task: Task{Handler: h}}}}},
		"bad success rate": {Levels: []Level{{ID: "x", Quality: QualityRequirements{MinSuccessRate: 2}, Type: Sequential{Tasks: []Task{{Handler: h}}}}}},
	}
	for name, orch := range cases {
		if err := Validate(orch); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
}
