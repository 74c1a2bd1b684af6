package orchestration

import "time"

// Metric 是质量报告中的指标名称。
type Metric string

const (
	MetricSuccessRate     Metric = "success_rate"
	MetricTimeliness      Metric = "timeliness"
	MetricRequirements    Metric = "requirements"
	MetricHistoryBaseline Metric = "history_baseline"
)

// QualityReport 是统一的质量报告。
type QualityReport struct {
	Subject string             `json:"subject"`
	Metrics map[Metric]float64 `json:"metrics"`
	Overall float64            `json:"overall"`
}

// metricOrder 固定加权求和的顺序，保证同输入同输出。
var metricOrder = []Metric{MetricSuccessRate, MetricTimeliness, MetricRequirements, MetricHistoryBaseline}

var defaultWeights = map[Metric]float64{
	MetricSuccessRate:     0.4,
	MetricTimeliness:      0.2,
	MetricRequirements:    0.3,
	MetricHistoryBaseline: 0.1,
}

// QualityAssessor 对层级与编排打分，不修改任何状态。
type QualityAssessor struct {
	weights map[Metric]float64
}

// NewQualityAssessor 创建评估器，weights 为空时使用默认权重。
func NewQualityAssessor(weights map[Metric]float64) *QualityAssessor {
	if len(weights) == 0 {
		weights = defaultWeights
	}
	clone := make(map[Metric]float64, len(weights))
	for k, v := range weights {
		clone[k] = v
	}
	return &QualityAssessor{weights: clone}
}

// ScoreLevel 对单个层级打分。
func (a *QualityAssessor) ScoreLevel(level Level, result LevelExecutionResult) QualityReport {
	rate := successRate(result.Tasks)
	met := 1.0
	if rate < level.Quality.MinSuccessRate {
		met = 0
	}
	metrics := map[Metric]float64{
		MetricSuccessRate:  rate,
		MetricTimeliness:   timeliness(level.Expectations.MaxDuration, result.Duration),
		MetricRequirements: met,
	}
	return QualityReport{Subject: level.ID, Metrics: metrics, Overall: a.overall(metrics)}
}

// Score 对整个编排打分，baseline 为执行前的历史快照。
func (a *QualityAssessor) Score(orchestrationID string, levels []Level, results []LevelExecutionResult, baseline HistoryStats) QualityReport {
	metrics := map[Metric]float64{
		MetricSuccessRate:     1,
		MetricTimeliness:      1,
		MetricRequirements:    1,
		MetricHistoryBaseline: 1,
	}
	var all []TaskResult
	if n := len(results); n > 0 {
		var timely, met float64
		for i, res := range results {
			all = append(all, res.Tasks...)
			var level Level
			if i < len(levels) {
				level = levels[i]
			}
			report := a.ScoreLevel(level, res)
			timely += report.Metrics[MetricTimeliness]
			met += report.Metrics[MetricRequirements]
		}
		metrics[MetricTimeliness] = timely / float64(n)
		metrics[MetricRequirements] = met / float64(n)
	}
	metrics[MetricSuccessRate] = successRate(all)

	if baseline.Total > 0 {
		historic := 1 - baseline.FailureRate
		if historic > 0 {
			metrics[MetricHistoryBaseline] = clamp01(metrics[MetricSuccessRate] / historic)
		}
	}
	return QualityReport{Subject: orchestrationID, Metrics: metrics, Overall: a.overall(metrics)}
}

func (a *QualityAssessor) overall(metrics map[Metric]float64) float64 {
	var sum, weight float64
	for _, metric := range metricOrder {
		value, ok := metrics[metric]
		if !ok {
			continue
		}
		w := a.weights[metric]
		sum += w * value
		weight += w
	}
	if weight == 0 {
		return 0
	}
	return clamp01(sum / weight)
}

func successRate(tasks []TaskResult) float64 {
	var ran, ok int
	for _, t := range tasks {
		if t.Status == TaskSkipped {
			continue
		}
		ran++
		if t.Ok() {
			ok++
		}
	}
	if ran == 0 {
		return 1
	}
	return float64(ok) / float64(ran)
}

func timeliness(limit, actual time.Duration) float64 {
	if limit <= 0 || actual <= limit {
		return 1
	}
	return clamp01(float64(limit) / float64(actual))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
