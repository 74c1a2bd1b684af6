package orchestration

import (
	"errors"
	"testing"
	"time"
)

func TestQualityPerfectRun(t *testing.T) {
	a := NewQualityAssessor(nil)
	levels := []Level{{ID: "l"}}
	results := []LevelExecutionResult{{LevelID: "l", Tasks: []TaskResult{{Status: TaskSucceeded}, {Status: TaskSucceeded}}}}
	report := a.Score("o", levels, results, HistoryStats{})
	if report.Overall != 1 {
		t.Fatalf("overall = %v, metrics = %v", report.Overall, report.Metrics)
	}
	for _, m := range []Metric{MetricSuccessRate, MetricTimeliness, MetricRequirements, MetricHistoryBaseline} {
		if _, ok := report.Metrics[m]; !ok {
			t.Fatalf("metric %s missing", m)
		}
	}
}

func TestQualityPenalisesSlowAndFailingLevels(t *testing.T) {
	a := NewQualityAssessor(nil)
	level := Level{ID: "l", Quality: QualityRequirements{MinSuccessRate: 0.9}, Expectations: OutcomeExpectations{MaxDuration: 10 * time.Millisecond}}
	result := LevelExecutionResult{
		LevelID:  "l",
		Duration: 20 * time.Millisecond,
		Tasks:    []TaskResult{{Status: TaskSucceeded}, {Status: TaskFailed, Err: errors.New("x")}, {Status: TaskSkipped}},
	}
	report := a.ScoreLevel(level, result)
	if report.Metrics[MetricSuccessRate] != 0.5 {
		t.Fatalf("success rate = %v", report.Metrics[MetricSuccessRate])
	}
	if report.Metrics[MetricTimeliness] != 0.5 {
		t.Fatalf("timeliness = %v", report.Metrics[MetricTimeliness])
	}
	if report.Metrics[MetricRequirements] != 0 {
		t.Fatalf("requirements = %v", report.Metrics[MetricRequirements])
	}
	if report.Overall >= 0.5 {
		t.Fatalf("overall = %v", report.Overall)
	}
}

func TestQualityIsDeterministic(t *testing.T) {
	a := NewQualityAssessor(nil)
	levels := []Level{{ID: "a"}, {ID: "b", Expectations: OutcomeExpectations{MaxDuration: time.Millisecond}}}
	results := []LevelExecutionResult{
		{LevelID: "a", Tasks: []TaskResult{{Status: TaskSucceeded}}},
		{LevelID: "b", Duration: 4 * time.Millisecond, Tasks: []TaskResult{{Status: TaskSucceeded}}},
	}
	baseline := HistoryStats{Total: 10, FailureRate: 0.2}
	first := a.Score("o", levels, results, baseline)
	for i := 0; i < 20; i++ {
		again := a.Score("o", levels, results, baseline)
		if again.Overall != first.Overall {
			t.Fatalf("overall changed: %v vs %v", again.Overall, first.Overall)
		}
	}
	if first.Metrics[MetricHistoryBaseline] != 1 {
		t.Fatalf("baseline = %v", first.Metrics[MetricHistoryBaseline])
	}
}
