package orchestration

import (
	"context"
	stdErrors "errors"
	"fmt"

	xerrors "Orchestra-Engine/internal/errors"
)

// 编排引擎错误码。
const (
	CodeValidation       xerrors.Code = "ORCH_VALIDATION"
	CodeComplexity       xerrors.Code = "ORCH_COMPLEXITY"
	CodeTaskExecution    xerrors.Code = "ORCH_TASK_EXECUTION"
	CodeRelationship     xerrors.Code = "ORCH_RELATIONSHIP"
	CodeTimeout          xerrors.Code = "ORCH_TIMEOUT"
	CodeCancelled        xerrors.Code = "ORCH_CANCELLED"
	CodeConcurrencyLimit xerrors.Code = "ORCH_CONCURRENCY_LIMIT"
	CodeTranscendence    xerrors.Code = "ORCH_TRANSCENDENCE"
	CodeCircuitOpen      xerrors.Code = "ORCH_CIRCUIT_OPEN"
	CodeHandlerNotFound  xerrors.Code = "ORCH_HANDLER_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeValidation, xerrors.Attributes{
		Message:  "orchestration validation failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeComplexity, xerrors.Attributes{
		Message:  "complexity assessment failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeTaskExecution, xerrors.Attributes{
		Message:  "task execution failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeRelationship, xerrors.Attributes{
		Message:  "task relationship violated",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeTimeout, xerrors.Attributes{
		Message:   "orchestration timed out",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeCancelled, xerrors.Attributes{
		Message:  "orchestration cancelled",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeConcurrencyLimit, xerrors.Attributes{
		Message:   "concurrency limit exceeded",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
	xerrors.Register(CodeTranscendence, xerrors.Attributes{
		Message:  "transcendent chunk failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeCircuitOpen, xerrors.Attributes{
		Message:   "circuit breaker open",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeHandlerNotFound, xerrors.Attributes{
		Message:  "handler not registered",
		Severity: xerrors.SeverityInfo,
	})
}

// 可用于 errors.Is 判断的哨兵错误，按错误码匹配。
var (
	ErrValidation       = xerrors.New(CodeValidation, "orchestration validation failed")
	ErrComplexity       = xerrors.New(CodeComplexity, "complexity assessment failed")
	ErrTaskExecution    = xerrors.New(CodeTaskExecution, "task execution failed")
	ErrRelationship     = xerrors.New(CodeRelationship, "task relationship violated")
	ErrTimeout          = xerrors.New(CodeTimeout, "orchestration timed out")
	ErrCancelled        = xerrors.New(CodeCancelled, "orchestration cancelled")
	ErrConcurrencyLimit = xerrors.New(CodeConcurrencyLimit, "concurrency limit exceeded")
	ErrTranscendence    = xerrors.New(CodeTranscendence, "transcendent chunk failed")
	ErrCircuitOpen      = xerrors.New(CodeCircuitOpen, "circuit breaker open")
	ErrHandlerNotFound  = xerrors.New(CodeHandlerNotFound, "handler not registered")
)

func validationError(levelID, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if levelID != "" {
		msg = fmt.Sprintf("level %s: %s", levelID, msg)
		return xerrors.New(CodeValidation, msg, xerrors.WithMetadata("level_id", levelID))
	}
	return xerrors.New(CodeValidation, msg)
}

func complexityError(levelID string, cause error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	opts := []xerrors.Option{}
	if levelID != "" {
		msg = fmt.Sprintf("level %s: %s", levelID, msg)
		opts = append(opts, xerrors.WithMetadata("level_id", levelID))
	}
	if cause != nil {
		return xerrors.Wrap(CodeComplexity, cause, msg, opts...)
	}
	return xerrors.New(CodeComplexity, msg, opts...)
}

// TaskExecutionError 描述某个层级中某个任务的失败。
type TaskExecutionError struct {
	LevelID   string
	TaskIndex int
	TaskID    TaskID
	// SubLevel 为超越处理时失败分块的层级 ID。
	SubLevel string
	Cause    error
	// Partial 仅用于诊断，不可作为续跑的依据。
	Partial []Value
}

// Error 实现 error 接口。
func (e *TaskExecutionError) Error() string {
	if e == nil {
		return ""
	}
	where := fmt.Sprintf("level %s task %d", e.LevelID, e.TaskIndex)
	if e.TaskID != "" {
		where += fmt.Sprintf(" (%s)", e.TaskID)
	}
	if e.SubLevel != "" {
		where += fmt.Sprintf(" in %s", e.SubLevel)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code(), where, e.Cause)
}

// Unwrap 返回底层原因。
func (e *TaskExecutionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Code 返回错误码：关系违规为 ORCH_RELATIONSHIP，分块失败为 ORCH_TRANSCENDENCE。
func (e *TaskExecutionError) Code() xerrors.Code {
	var violation *RelationshipViolation
	if e != nil && stdErrors.As(e.Cause, &violation) {
		return CodeRelationship
	}
	if e != nil && e.SubLevel != "" {
		return CodeTranscendence
	}
	return CodeTaskExecution
}

// Is 允许 errors.Is(err, ErrTaskExecution) 命中任意任务错误，同时匹配自身错误码。
func (e *TaskExecutionError) Is(target error) bool {
	t, ok := target.(*xerrors.Error)
	if !ok || e == nil {
		return false
	}
	return t.Code() == CodeTaskExecution || t.Code() == e.Code()
}

// RelationshipViolation 表示相邻任务之间的依赖无法满足。
type RelationshipViolation struct {
	PrevIndex int
	NextIndex int
	PrevID    TaskID
	NextID    TaskID
	Reason    string
}

// Error 实现 error 接口。
func (v *RelationshipViolation) Error() string {
	return fmt.Sprintf("relationship %d -> %d violated: %s", v.PrevIndex, v.NextIndex, v.Reason)
}

// Code 返回 ORCH_RELATIONSHIP。
func (v *RelationshipViolation) Code() xerrors.Code { return CodeRelationship }

// Is 允许 errors.Is(err, ErrRelationship)。
func (v *RelationshipViolation) Is(target error) bool {
	t, ok := target.(*xerrors.Error)
	return ok && t.Code() == CodeRelationship
}

// contextError 将 context 的终止原因转换为超时或取消错误。
func contextError(ctx context.Context, cause error, message string) error {
	if cause == nil {
		cause = ctx.Err()
	}
	if stdErrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return xerrors.Wrap(CodeTimeout, cause, message)
	}
	return xerrors.Wrap(CodeCancelled, cause, message)
}
