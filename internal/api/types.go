package api

import (
	"time"

	"Orchestra-Engine/internal/orchestration"
)

// ErrorBody 是错误响应的统一结构。
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	LevelID   string `json:"level_id,omitempty"`
	TaskIndex *int   `json:"task_index,omitempty"`
	SubLevel  string `json:"sub_level,omitempty"`
}

type errorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// LevelView 是单个层级结果的精简视图。
type LevelView struct {
	LevelID     string `json:"level_id"`
	Kind        string `json:"kind"`
	Tier        string `json:"tier"`
	Tasks       int    `json:"tasks"`
	Succeeded   int    `json:"succeeded"`
	DurationMS  int64  `json:"duration_ms"`
	Transcended bool   `json:"transcended,omitempty"`
	Chunks      int    `json:"chunks,omitempty"`
	Iterations  int    `json:"iterations,omitempty"`
}

// SubmitResponse 是提交编排的响应，失败时 Error 非空且 Levels 包含已执行的层级。
type SubmitResponse struct {
	ID           string              `json:"id"`
	Success      bool                `json:"success"`
	QualityScore float64             `json:"quality_score"`
	Output       orchestration.Value `json:"output,omitempty"`
	DurationMS   int64               `json:"duration_ms"`
	HistoryID    string              `json:"history_id,omitempty"`
	Levels       []LevelView         `json:"levels"`
	Error        *ErrorBody          `json:"error,omitempty"`
}

// HistoryResponse 是历史查询的响应。
type HistoryResponse struct {
	Source  string                       `json:"source"`
	Entries []orchestration.HistoryEntry `json:"entries"`
}

func toLevelViews(levels []orchestration.LevelExecutionResult) []LevelView {
	views := make([]LevelView, 0, len(levels))
	for _, l := range levels {
		v := LevelView{
			LevelID:    l.LevelID,
			Kind:       string(l.Kind),
			Tier:       l.Tier.String(),
			Tasks:      len(l.Tasks),
			Succeeded:  l.Succeeded(),
			DurationMS: l.Duration.Milliseconds(),
		}
		if l.Transcendent != nil {
			v.Transcended = l.Transcendent.Transcended
			v.Chunks = len(l.Transcendent.Chunks)
		}
		if l.Iterative != nil {
			v.Iterations = l.Iterative.Iterations
		}
		views = append(views, v)
	}
	return views
}

func toSubmitResponse(result orchestration.OrchestrationResult, elapsed time.Duration) SubmitResponse {
	d := result.Duration
	if d == 0 {
		d = elapsed
	}
	return SubmitResponse{
		ID:           result.ID,
		Success:      result.Success,
		QualityScore: result.QualityScore,
		Output:       result.Output,
		DurationMS:   d.Milliseconds(),
		HistoryID:    result.HistoryID,
		Levels:       toLevelViews(result.Levels),
	}
}
