package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// LevelRunner 执行单个层级，超越协调器通过它递归执行分块。
type LevelRunner interface {
	Execute(ctx context.Context, orchestrationID string, level Level, input Value, state ExecutionState) (LevelExecutionResult, error)
}

// ExecutorConfig 为 LevelExecutor 的依赖。
type ExecutorConfig struct {
	DefaultChunkSize int
	Transcendence    *TranscendenceCoordinator
	Events           *Broadcaster
	Recorder         Recorder
	Logger           *slog.Logger
}

// LevelExecutor 按层级类型分派执行策略。
type LevelExecutor struct {
	relationships RelationshipTracker
	transcendence *TranscendenceCoordinator
	events        *Broadcaster
	recorder      Recorder
	logger        *slog.Logger
	defaultChunk  int
}

// NewLevelExecutor 创建执行器。
func NewLevelExecutor(cfg ExecutorConfig) *LevelExecutor {
	e := &LevelExecutor{
		transcendence: cfg.Transcendence,
		events:        cfg.Events,
		recorder:      cfg.Recorder,
		logger:        cfg.Logger,
		defaultChunk:  cfg.DefaultChunkSize,
	}
	if e.transcendence == nil {
		e.transcendence = NewTranscendenceCoordinator(cfg.Logger)
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.defaultChunk <= 0 {
		e.defaultChunk = 100
	}
	return e
}

// levelRun 是单次层级执行的标识信息。
type levelRun struct {
	orchestrationID string
	levelID         string
	kind            LevelKind
}

// Execute 执行一个层级。失败时返回的结果仍包含全部任务槽位，供历史诊断使用。
func (e *LevelExecutor) Execute(ctx context.Context, orchestrationID string, level Level, input Value, state ExecutionState) (LevelExecutionResult, error) {
	if level.Type == nil {
		return LevelExecutionResult{LevelID: level.ID}, validationError(level.ID, "level type is missing")
	}
	run := levelRun{orchestrationID: orchestrationID, levelID: level.ID, kind: level.Type.Kind()}
	result := LevelExecutionResult{
		LevelID:   level.ID,
		Kind:      run.kind,
		Tier:      state.Assessment.Tier,
		StartedAt: time.Now(),
	}
	e.publish(run, -1, EventLevelStarted, "")

	var err error
	switch t := level.Type.(type) {
	case Sequential:
		result.Tasks = pendingResults(t.Tasks, 0)
		result.Output, err = e.runSequence(ctx, run, t.Tasks, input, sequenceOptions{track: true}, result.Tasks)
	case Parallel:
		result.Tasks = pendingResults(t.Tasks, 0)
		result.Parallel, err = e.runParallel(ctx, run, t.Tasks, input, result.Tasks)
		if err == nil {
			result.Output = collectValues(result.Tasks)
		}
	case Conditional:
		err = e.runConditional(ctx, run, t, input, &result)
	case Iterative:
		err = e.runIterative(ctx, run, t, input, &result)
	case Transcendent:
		err = e.runTranscendent(ctx, run, t, input, state, &result)
	default:
		err = validationError(level.ID, "unsupported level type %T", t)
	}

	result.Duration = time.Since(result.StartedAt)
	e.recorder.LevelFinished(run.kind, result.Tier, result.Duration, err != nil)
	if err != nil {
		e.publish(run, -1, EventLevelFailed, err.Error())
		e.debug("层级执行失败", slog.String("level_id", level.ID), slog.String("kind", string(run.kind)), slog.Any("error", err))
		return result, err
	}
	e.publish(run, -1, EventLevelSucceeded, "")
	e.debug("层级执行完成", slog.String("level_id", level.ID), slog.String("kind", string(run.kind)), slog.Duration("duration", result.Duration))
	return result, nil
}

type sequenceOptions struct {
	track     bool
	offset    int
	iteration int
}

// runSequence 严格按顺序执行任务，结果写入 results[offset+i]。
func (e *LevelExecutor) runSequence(ctx context.Context, run levelRun, tasks []Task, input Value, opts sequenceOptions, results []TaskResult) (Value, error) {
	current := input
	for i, task := range tasks {
		idx := opts.offset + i
		if i > 0 && opts.track {
			if err := e.relationships.Assess(results[idx-1], PendingTask{Index: idx, Task: task}); err != nil {
				return current, &TaskExecutionError{LevelID: run.levelID, TaskIndex: idx, TaskID: task.ID, Cause: err}
			}
		}
		res := e.invoke(ctx, run, idx, task, current, opts.iteration)
		results[idx] = res
		if res.Err != nil {
			return current, taskError(run, res)
		}
		current = res.Value
	}
	return current, nil
}

// runParallel 在屏障释放后并发执行全部任务；失败不取消兄弟任务，返回下标最小的失败。
func (e *LevelExecutor) runParallel(ctx context.Context, run levelRun, tasks []Task, input Value, results []TaskResult) (*ParallelSummary, error) {
	gate := newBarrier(len(tasks))
	var g errgroup.Group
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := gate.Wait(ctx); err != nil {
				results[i] = TaskResult{Index: i, TaskID: task.ID, Status: TaskCancelled, Err: err}
				return err
			}
			res := e.invoke(ctx, run, i, task, input, 0)
			results[i] = res
			return res.Err
		})
	}
	waitErr := g.Wait()

	summary := &ParallelSummary{ReleasedAt: gate.ReleasedAt()}
	var first, last time.Time
	synchronized := !summary.ReleasedAt.IsZero()
	for _, res := range results {
		if res.StartedAt.IsZero() {
			synchronized = false
			continue
		}
		if res.StartedAt.Before(summary.ReleasedAt) {
			synchronized = false
		}
		if first.IsZero() || res.StartedAt.Before(first) {
			first = res.StartedAt
		}
		if res.StartedAt.After(last) {
			last = res.StartedAt
		}
	}
	summary.SynchronizedStart = synchronized
	if !first.IsZero() {
		summary.StartSpread = last.Sub(first)
	}

	if waitErr == nil {
		return summary, nil
	}
	for _, res := range results {
		if res.Err != nil {
			return summary, taskError(run, res)
		}
	}
	return summary, waitErr
}

func (e *LevelExecutor) runConditional(ctx context.Context, run levelRun, t Conditional, input Value, result *LevelExecutionResult) error {
	offsets := make([]int, len(t.Conditions))
	var flat []Task
	for i, cond := range t.Conditions {
		offsets[i] = len(flat)
		flat = append(flat, cond.Actions...)
	}
	result.Tasks = pendingResults(flat, 0)
	summary := &ConditionalSummary{}
	result.Conditional = summary

	current := input
	for i, cond := range t.Conditions {
		summary.Evaluated++
		ok, err := evalPredicate(cond.Predicate, EvalState{Input: input, Value: current, Results: result.Tasks[:offsets[i]]})
		if err != nil {
			return &TaskExecutionError{LevelID: run.levelID, TaskIndex: offsets[i], Cause: fmt.Errorf("condition %q: %w", cond.Name, err)}
		}
		if !ok {
			continue
		}
		summary.Matched = append(summary.Matched, i)
		out, err := e.runSequence(ctx, run, cond.Actions, current, sequenceOptions{offset: offsets[i]}, result.Tasks)
		if err != nil {
			return err
		}
		current = out
		if cond.BreakOnSuccess {
			break
		}
	}
	result.Output = current
	return nil
}

func (e *LevelExecutor) runIterative(ctx context.Context, run levelRun, t Iterative, input Value, result *LevelExecutionResult) error {
	current := input
	if t.Initial != nil {
		current = t.Initial
	}
	summary := &IterativeSummary{}
	result.Iterative = summary
	result.Tasks = pendingResults(t.Tasks, 0)

	for iteration := 1; iteration <= t.MaxIterations; iteration++ {
		results := pendingResults(t.Tasks, 0)
		out, err := e.runSequence(ctx, run, t.Tasks, current, sequenceOptions{iteration: iteration}, results)
		result.Tasks = results
		summary.Iterations = iteration
		if err != nil {
			return err
		}
		current = out
		summary.Values = append(summary.Values, current)
		if t.Completion == nil {
			continue
		}
		done, err := evalPredicate(t.Completion, EvalState{Input: input, Value: current, Iteration: iteration, Results: results})
		if err != nil {
			return &TaskExecutionError{LevelID: run.levelID, TaskIndex: len(t.Tasks) - 1, Cause: fmt.Errorf("completion condition: %w", err)}
		}
		if done {
			summary.Completed = true
			break
		}
	}
	result.Output = current
	return nil
}

func (e *LevelExecutor) runTranscendent(ctx context.Context, run levelRun, t Transcendent, input Value, state ExecutionState, result *LevelExecutionResult) error {
	chunk := t.ChunkSize
	if chunk <= 0 {
		chunk = e.defaultChunk
	}
	unit := Unit{
		OrchestrationID: run.orchestrationID,
		LevelID:         run.levelID,
		Items:           t.Items,
		Task:            t.Task,
		Parallel:        t.Parallel,
		Input:           input,
	}
	summary := &TranscendentSummary{ChunkSize: chunk, Parallel: t.Parallel}
	result.Transcendent = summary

	if state.Assessment.RequiresTranscendence() {
		summary.Transcended = true
		merged, err := e.transcendence.Process(ctx, unit, chunk, e)
		result.Tasks = merged.Tasks
		summary.Chunks = merged.Chunks
		if err != nil {
			return err
		}
		result.Output = merged.Values
		return nil
	}

	tasks := unit.expand(0, len(t.Items))
	result.Tasks = pendingResults(tasks, 0)
	started := time.Now()
	var err error
	if t.Parallel {
		result.Parallel, err = e.runParallel(ctx, run, tasks, input, result.Tasks)
	} else {
		_, err = e.runSequence(ctx, run, tasks, input, sequenceOptions{track: true}, result.Tasks)
	}
	summary.Chunks = []ChunkSummary{{LevelID: run.levelID, Size: len(tasks), Duration: time.Since(started)}}
	if err != nil {
		return err
	}
	result.Output = collectValues(result.Tasks)
	return nil
}

// invoke 执行单个任务并把 panic 转换为错误。
func (e *LevelExecutor) invoke(ctx context.Context, run levelRun, index int, task Task, input Value, iteration int) TaskResult {
	res := TaskResult{Index: index, TaskID: task.ID}
	if err := ctx.Err(); err != nil {
		res.Status = TaskCancelled
		res.Err = err
		return res
	}
	e.publish(run, index, EventTaskStarted, "")
	res.StartedAt = time.Now()
	value, err := safeCall(task.Handler, TaskContext{
		Context:         ctx,
		OrchestrationID: run.orchestrationID,
		LevelID:         run.levelID,
		TaskIndex:       index,
		Input:           input,
		Item:            task.Item,
		Iteration:       iteration,
		Params:          task.Params,
	})
	res.FinishedAt = time.Now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	if err != nil {
		res.Err = err
		res.Status = TaskFailed
		if ctx.Err() != nil {
			res.Status = TaskCancelled
		}
		e.recorder.TaskFailed(run.kind)
		e.publish(run, index, EventTaskFailed, err.Error())
		return res
	}
	res.Value = value
	res.Status = TaskSucceeded
	e.publish(run, index, EventTaskSucceeded, "")
	return res
}

func safeCall(handler TaskHandler, tc TaskContext) (value Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, err = nil, fmt.Errorf("task panicked: %v", r)
		}
	}()
	return handler(tc)
}

func evalPredicate(p Predicate, state EvalState) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return p(state), nil
}

func taskError(run levelRun, res TaskResult) *TaskExecutionError {
	return &TaskExecutionError{LevelID: run.levelID, TaskIndex: res.Index, TaskID: res.TaskID, Cause: res.Err}
}

func pendingResults(tasks []Task, offset int) []TaskResult {
	results := make([]TaskResult, len(tasks))
	for i, task := range tasks {
		results[i] = TaskResult{Index: offset + i, TaskID: task.ID, Status: TaskSkipped}
	}
	return results
}

func collectValues(results []TaskResult) []Value {
	values := make([]Value, len(results))
	for i, res := range results {
		values[i] = res.Value
	}
	return values
}

func (e *LevelExecutor) publish(run levelRun, index int, state EventState, message string) {
	if e.events == nil {
		return
	}
	e.events.Publish(Event{
		OrchestrationID: run.orchestrationID,
		LevelID:         run.levelID,
		TaskIndex:       index,
		State:           state,
		Message:         message,
	})
}

func (e *LevelExecutor) debug(msg string, attrs ...any) {
	if e.logger != nil {
		e.logger.Debug(msg, attrs...)
	}
}
