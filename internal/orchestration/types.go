package orchestration

import (
	"context"
	"math"
	"time"
)

// Value 是任务之间传递的不透明数据。
type Value = any

// TaskID 标识层级内的任务。
type TaskID string

// TaskContext 是处理函数收到的执行上下文。
type TaskContext struct {
	context.Context
	OrchestrationID string
	LevelID         string
	TaskIndex       int
	// Input 为上一个任务或上一轮迭代的输出。
	Input Value
	// Item 为超越层级中该任务绑定的数据项。
	Item      Value
	Iteration int
	Params    map[string]any
}

// TaskHandler 执行一个任务。
type TaskHandler func(TaskContext) (Value, error)

// Task 是一个不可变的工作单元。
type Task struct {
	ID           TaskID
	Description  string
	Handler      TaskHandler
	HandlerRef   string
	Params       map[string]any
	Item         Value
	Dependencies []TaskID
}

// LevelKind 标记层级的执行策略。
type LevelKind string

const (
	KindSequential   LevelKind = "sequential"
	KindParallel     LevelKind = "parallel"
	KindConditional  LevelKind = "conditional"
	KindIterative    LevelKind = "iterative"
	KindTranscendent LevelKind = "transcendent"
)

// LevelType 为层级策略的封闭联合类型。
type LevelType interface {
	Kind() LevelKind
	units() int
}

// Sequential 按顺序执行任务。
type Sequential struct {
	Tasks []Task
}

// Parallel 在屏障同步后并发执行任务。
type Parallel struct {
	Tasks []Task
}

// Conditional 依次评估条件并执行命中的动作。
type Conditional struct {
	Conditions []Condition
}

// Iterative 重复执行任务直到完成条件满足或达到上限。
type Iterative struct {
	MaxIterations int
	Completion    Predicate
	Tasks         []Task
	// Initial 非空时作为第一轮的输入，否则使用层级输入。
	Initial Value
}

// Transcendent 对每个数据项执行同一个任务模板。
type Transcendent struct {
	Items []Value
	// ChunkSize 为 0 时使用引擎默认值。
	ChunkSize int
	Task      Task
	Parallel  bool
}

func (Sequential) Kind() LevelKind { return KindSequential }
func (Parallel) Kind() LevelKind { return KindParallel }
func (Conditional) Kind() LevelKind { return KindConditional }
func (Iterative) Kind() LevelKind { return KindIterative }
func (Transcendent) Kind() LevelKind { return KindTranscendent }

func (s Sequential) units() int { return len(s.Tasks) }
func (p Parallel) units() int { return len(p.Tasks) }
func (c Conditional) units() int {
	n := 0
	for _, cond := range c.Conditions {
		n += len(cond.Actions)
	}
	return n
}
func (i Iterative) units() int {
	if len(i.Tasks) == 0 || i.MaxIterations <= 0 {
		return 0
	}
	// 超出 int 范围时取饱和值
	if i.MaxIterations > math.MaxInt/len(i.Tasks) {
		return math.MaxInt
	}
	return len(i.Tasks) * i.MaxIterations
}
func (t Transcendent) units() int { return len(t.Items) }

// Condition 是条件层级中的一条分支。
type Condition struct {
	Name           string
	Predicate      Predicate
	Actions        []Task
	BreakOnSuccess bool
}

// EvalState 是谓词可见的评估上下文。
type EvalState struct {
	Input     Value
	Value     Value
	Iteration int
	Results   []TaskResult
}

// Predicate 判断条件是否成立。
type Predicate func(EvalState) bool

// QualityRequirements 声明层级的质量目标。
type QualityRequirements struct {
	MinSuccessRate float64
}

// OutcomeExpectations 声明层级的结果预期。
type OutcomeExpectations struct {
	MaxDuration time.Duration
}

// Level 是一组按同一策略执行的任务。
type Level struct {
	ID           string
	Description  string
	Type         LevelType
	Quality      QualityRequirements
	Expectations OutcomeExpectations
}

// Orchestration 是调用方提交的一次完整编排。
type Orchestration struct {
	ID          string
	Description string
	Levels      []Level
}

// ExecutionState 为单个层级执行期间的临时状态。
type ExecutionState struct {
	Assessment Assessment
	StartedAt  time.Time
	PermitHeld bool
}

// TaskStatus 表示任务的最终状态。
type TaskStatus string

const (
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
	TaskCancelled TaskStatus = "cancelled"
)

// TaskResult 记录一次任务执行的结果。
type TaskResult struct {
	Index      int
	TaskID     TaskID
	Value      Value
	Err        error
	Status     TaskStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration
}

// Ok 判断任务是否成功。
func (r TaskResult) Ok() bool { return r.Status == TaskSucceeded }

// ParallelSummary 描述并行层级的同步启动情况。
type ParallelSummary struct {
	SynchronizedStart bool
	ReleasedAt        time.Time
	StartSpread       time.Duration
}

// ConditionalSummary 描述条件层级的评估情况。
type ConditionalSummary struct {
	Evaluated int
	Matched   []int
}

// IterativeSummary 描述迭代层级的执行轮次。
type IterativeSummary struct {
	Iterations int
	Completed  bool
	Values     []Value
}

// ChunkSummary 描述一个超越分块。
type ChunkSummary struct {
	LevelID  string
	Offset   int
	Size     int
	Duration time.Duration
}

// TranscendentSummary 描述超越层级的分块情况。
type TranscendentSummary struct {
	Transcended bool
	ChunkSize   int
	Parallel    bool
	Chunks      []ChunkSummary
}

// LevelExecutionResult 记录层级执行结果，Kind 决定哪个摘要字段有效。
type LevelExecutionResult struct {
	LevelID   string
	Kind      LevelKind
	Tier      Tier
	Tasks     []TaskResult
	Output    Value
	StartedAt time.Time
	Duration  time.Duration

	Parallel     *ParallelSummary
	Conditional  *ConditionalSummary
	Iterative    *IterativeSummary
	Transcendent *TranscendentSummary
}

// Succeeded 统计成功的任务数。
func (r LevelExecutionResult) Succeeded() int {
	n := 0
	for _, t := range r.Tasks {
		if t.Ok() {
			n++
		}
	}
	return n
}

// OrchestrationResult 为一次提交的返回值，失败时包含已完成的层级。
type OrchestrationResult struct {
	ID           string
	Success      bool
	Levels       []LevelExecutionResult
	Quality      QualityReport
	QualityScore float64
	Output       Value
	Duration     time.Duration
	HistoryID    string
}
