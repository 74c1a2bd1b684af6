package orchestration

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/observability/alerting"
)

// OrchestrationCoordinator 负责一次提交的完整生命周期：
// 校验、分类、申请许可、逐层执行、质量评估、写入历史、释放许可。
type OrchestrationCoordinator struct {
	governor       *ConcurrencyGovernor
	classifier     *ComplexityClassifier
	executor       *LevelExecutor
	assessor       *QualityAssessor
	ledger         *HistoryLedger
	events         *Broadcaster
	alerter        alerting.Dispatcher
	recorder       Recorder
	logger         *slog.Logger
	audit          *slog.Logger
	nonBlocking    bool
	defaultTimeout time.Duration
	defaultChunk   int
}

// SubmitOption 调整单次提交的行为。
type SubmitOption func(*submitOptions)

type submitOptions struct {
	nonBlocking *bool
}

// WithNonBlockingAdmission 覆盖引擎默认的准入方式。
// 为 true 时没有空闲许可立即返回 ConcurrencyLimitExceeded。
func WithNonBlockingAdmission(nonBlocking bool) SubmitOption {
	return func(o *submitOptions) {
		o.nonBlocking = &nonBlocking
	}
}

// Submit 执行一次编排。校验或分类失败时不申请许可也不写历史；
// 其余情况无论成败都恰好写入一条历史记录。
func (c *OrchestrationCoordinator) Submit(ctx context.Context, orch Orchestration, opts ...SubmitOption) (OrchestrationResult, error) {
	started := time.Now()
	var options submitOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	nonBlocking := c.nonBlocking
	if options.nonBlocking != nil {
		nonBlocking = *options.nonBlocking
	}
	if err := Validate(orch); err != nil {
		return OrchestrationResult{ID: orch.ID}, err
	}
	if orch.ID == "" {
		orch.ID = uuid.NewString()
	}
	result := OrchestrationResult{ID: orch.ID}

	baseline := c.ledger.Stats()
	assessments := make([]Assessment, len(orch.Levels))
	for i, level := range orch.Levels {
		assessment, err := c.classifier.ClassifyLevel(level, ClassifierContext{
			ChunkSize: c.chunkSize(level),
			History:   baseline,
		})
		if err != nil {
			return result, err
		}
		assessments[i] = assessment
	}

	if c.defaultTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
			defer cancel()
		}
	}

	permit, err := c.admit(ctx, nonBlocking)
	if err != nil {
		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusCancelled
		}
		return c.finish(ctx, orch, result, status, err, started)
	}
	c.recorder.PermitsInUse(c.governor.InUse())
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		permit.Release()
		c.recorder.PermitsInUse(c.governor.InUse())
	}
	defer release()
	c.publish(orch.ID, EventOrchestrationStarted, "")

	var input Value
	for i, level := range orch.Levels {
		state := ExecutionState{Assessment: assessments[i], StartedAt: time.Now(), PermitHeld: true}
		levelResult, err := c.executor.Execute(ctx, orch.ID, level, input, state)
		result.Levels = append(result.Levels, levelResult)
		if err != nil {
			status := StatusFailed
			if ctx.Err() != nil {
				status = StatusCancelled
				err = contextError(ctx, err, fmt.Sprintf("orchestration %s interrupted at level %s", orch.ID, level.ID))
			} else {
				err = fmt.Errorf("orchestration %s: %w", orch.ID, err)
			}
			// 失败路径先归还许可，再写历史与告警
			release()
			return c.finish(ctx, orch, result, status, err, started)
		}
		input = levelResult.Output
	}

	result.Output = input
	result.Quality = c.assessor.Score(orch.ID, orch.Levels, result.Levels, baseline)
	result.QualityScore = result.Quality.Overall
	result.Success = true
	return c.finish(ctx, orch, result, StatusSucceeded, nil, started)
}

func (c *OrchestrationCoordinator) admit(ctx context.Context, nonBlocking bool) (*Permit, error) {
	if nonBlocking {
		return c.governor.TryAcquire()
	}
	return c.governor.Acquire(ctx)
}

func (c *OrchestrationCoordinator) chunkSize(level Level) int {
	if t, ok := level.Type.(Transcendent); ok && t.ChunkSize > 0 {
		return t.ChunkSize
	}
	return c.defaultChunk
}

func (c *OrchestrationCoordinator) finish(ctx context.Context, orch Orchestration, result OrchestrationResult, status HistoryStatus, err error, started time.Time) (OrchestrationResult, error) {
	result.Duration = time.Since(started)
	entry := HistoryEntry{
		ID:              uuid.NewString(),
		OrchestrationID: orch.ID,
		Description:     orch.Description,
		Levels:          c.summarize(orch.Levels, result.Levels),
		QualityScore:    result.QualityScore,
		Status:          status,
		Success:         status == StatusSucceeded,
		Duration:        result.Duration,
		Timestamp:       time.Now(),
	}
	if err != nil {
		entry.Error = err.Error()
		entry.ErrorCode = string(xerrors.CodeOf(err))
	}
	c.ledger.Append(entry)
	result.HistoryID = entry.ID
	c.recorder.OrchestrationFinished(status, result.Duration)

	switch status {
	case StatusSucceeded:
		c.publish(orch.ID, EventOrchestrationSucceeded, "")
		c.audit.Info("编排执行成功",
			slog.String("orchestration_id", orch.ID),
			slog.Int("levels", len(result.Levels)),
			slog.Float64("quality", result.QualityScore),
			slog.Duration("duration", result.Duration))
	case StatusCancelled:
		c.publish(orch.ID, EventOrchestrationCancelled, err.Error())
		c.audit.Warn("编排被取消",
			slog.String("orchestration_id", orch.ID),
			slog.String("error_code", entry.ErrorCode),
			slog.String("error", entry.Error))
	default:
		c.publish(orch.ID, EventOrchestrationFailed, err.Error())
		c.audit.Warn("编排执行失败",
			slog.String("orchestration_id", orch.ID),
			slog.String("error_code", entry.ErrorCode),
			slog.String("error", entry.Error))
	}
	if err != nil && xerrors.ShouldAlert(err) {
		c.emitAlert(ctx, orch.ID, err)
	}
	return result, err
}

func (c *OrchestrationCoordinator) summarize(levels []Level, results []LevelExecutionResult) []LevelSummary {
	summaries := make([]LevelSummary, 0, len(results))
	for i, res := range results {
		summary := LevelSummary{
			LevelID:     res.LevelID,
			Kind:        res.Kind,
			Tier:        res.Tier,
			Transcended: res.Transcendent != nil && res.Transcendent.Transcended,
			Tasks:       make([]TaskOutcome, len(res.Tasks)),
			Duration:    res.Duration,
		}
		if i < len(levels) {
			summary.Quality = c.assessor.ScoreLevel(levels[i], res).Overall
		}
		for j, task := range res.Tasks {
			outcome := TaskOutcome{Index: task.Index, TaskID: string(task.TaskID), Status: task.Status, Duration: task.Duration}
			if task.Err != nil {
				outcome.Error = task.Err.Error()
				if summary.Error == "" {
					summary.Error = outcome.Error
				}
			}
			summary.Tasks[j] = outcome
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

func (c *OrchestrationCoordinator) emitAlert(ctx context.Context, orchestrationID string, cause error) {
	if c.alerter == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	attrs := xerrors.AttributesOf(code)
	event := alerting.Event{
		Code:            code,
		Message:         cause.Error(),
		Severity:        xerrors.SeverityOf(cause),
		OrchestrationID: orchestrationID,
		TaskIndex:       -1,
		Metadata:        map[string]string{"default_message": attrs.Message},
		OccurredAt:      time.Now(),
	}
	var taskErr *TaskExecutionError
	if stdErrors.As(cause, &taskErr) {
		event.LevelID = taskErr.LevelID
		event.TaskIndex = taskErr.TaskIndex
		if taskErr.SubLevel != "" {
			event.Metadata["sub_level"] = taskErr.SubLevel
		}
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.alerter.Notify(notifyCtx, event); err != nil {
		c.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("orchestration_id", orchestrationID))
	}
}

func (c *OrchestrationCoordinator) publish(orchestrationID string, state EventState, message string) {
	if c.events == nil {
		return
	}
	c.events.Publish(Event{OrchestrationID: orchestrationID, TaskIndex: -1, State: state, Message: message})
}
