package orchestration

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"
)

// Unit 是需要超越处理的超大工作单元：对每个数据项执行同一任务模板。
type Unit struct {
	OrchestrationID string
	LevelID         string
	Items           []Value
	Task            Task
	Parallel        bool
	Input           Value
}

// expand 为 [from, to) 区间的数据项生成任务。
func (u Unit) expand(from, to int) []Task {
	tasks := make([]Task, 0, to-from)
	for k := from; k < to; k++ {
		task := u.Task
		task.Item = u.Items[k]
		if u.Task.ID != "" {
			task.ID = TaskID(fmt.Sprintf("%s#%d", u.Task.ID, k))
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// MergedResult 为按原始顺序合并的分块结果。
type MergedResult struct {
	Values []Value
	Tasks  []TaskResult
	Chunks []ChunkSummary
}

// TranscendenceCoordinator 把超大单元切成有序分块，逐块递归执行并按序合并。
type TranscendenceCoordinator struct {
	relationships RelationshipTracker
	logger        *slog.Logger
}

// NewTranscendenceCoordinator 创建协调器。
func NewTranscendenceCoordinator(logger *slog.Logger) *TranscendenceCoordinator {
	return &TranscendenceCoordinator{logger: logger}
}

// ChunkID 返回第 k 个分块的子层级 ID。
func ChunkID(levelID string, k int) string {
	return fmt.Sprintf("%s/chunk-%d", levelID, k)
}

// Process 把 unit 切成 ceil(len/chunkSize) 个分块，每块作为顺序或并行子层级交给 runner 执行。
// 失败时立即返回，错误中附带此前完成分块的合并输出，仅供诊断。
func (c *TranscendenceCoordinator) Process(ctx context.Context, unit Unit, chunkSize int, runner LevelRunner) (MergedResult, error) {
	if chunkSize <= 0 {
		return MergedResult{}, validationError(unit.LevelID, "chunk size must be positive, got %d", chunkSize)
	}
	n := len(unit.Items)
	merged := MergedResult{
		Values: make([]Value, 0, n),
		Tasks:  pendingResults(unit.expand(0, n), 0),
	}
	chunks := (n + chunkSize - 1) / chunkSize
	input := unit.Input

	for k := 0; k < chunks; k++ {
		from := k * chunkSize
		to := min(from+chunkSize, n)
		tasks := unit.expand(from, to)
		subID := ChunkID(unit.LevelID, k)

		if k > 0 {
			prev := merged.Tasks[from-1]
			if err := c.relationships.Assess(prev, PendingTask{Index: from, Task: tasks[0]}); err != nil {
				return merged, c.chunkError(unit, subID, from, tasks[0].ID, err, merged.Values)
			}
		}

		var levelType LevelType = Sequential{Tasks: tasks}
		chunkInput := input
		if unit.Parallel {
			levelType = Parallel{Tasks: tasks}
			chunkInput = unit.Input
		}
		sub := Level{
			ID:          subID,
			Description: fmt.Sprintf("chunk %d/%d of %s", k+1, chunks, unit.LevelID),
			Type:        levelType,
		}
		res, err := runner.Execute(ctx, unit.OrchestrationID, sub, chunkInput, ExecutionState{StartedAt: time.Now(), PermitHeld: true})
		for j, r := range res.Tasks {
			r.Index = from + j
			merged.Tasks[from+j] = r
		}
		merged.Chunks = append(merged.Chunks, ChunkSummary{LevelID: subID, Offset: from, Size: to - from, Duration: res.Duration})
		if err != nil {
			index, taskID, cause := from, TaskID(""), err
			var te *TaskExecutionError
			if stdErrors.As(err, &te) {
				index, taskID, cause = from+te.TaskIndex, te.TaskID, te.Cause
			}
			return merged, c.chunkError(unit, subID, index, taskID, cause, merged.Values)
		}
		for _, r := range res.Tasks {
			merged.Values = append(merged.Values, r.Value)
		}
		if size := len(res.Tasks); size > 0 {
			input = res.Tasks[size-1].Value
		}
		if c.logger != nil {
			c.logger.Debug("分块执行完成", slog.String("level_id", unit.LevelID), slog.String("chunk", subID), slog.Int("size", to-from))
		}
	}
	return merged, nil
}

func (c *TranscendenceCoordinator) chunkError(unit Unit, subID string, index int, taskID TaskID, cause error, partial []Value) error {
	return &TaskExecutionError{
		LevelID:   unit.LevelID,
		TaskIndex: index,
		TaskID:    taskID,
		SubLevel:  subID,
		Cause:     cause,
		Partial:   append([]Value(nil), partial...),
	}
}
