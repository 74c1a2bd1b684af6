package plan

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
)

// DefaultMaxItems 是单个 transcendent 层级允许展开的数据项上限。
const DefaultMaxItems = 100000

// Builder 将文档解析为可提交的编排。
type Builder struct {
	registry   *Registry
	resilience *orchestration.ResilienceCoordinator
	maxItems   int
}

// BuilderOption 配置构建器。
type BuilderOption func(*Builder)

// WithMaxItems 设置 items 与 range 展开后的数据项上限，非正数沿用默认值。
func WithMaxItems(n int) BuilderOption {
	return func(b *Builder) {
		if n > 0 {
			b.maxItems = n
		}
	}
}

// NewBuilder 创建构建器，resilience 为空时声明了 retry 的任务会被拒绝。
func NewBuilder(registry *Registry, resilience *orchestration.ResilienceCoordinator, opts ...BuilderOption) *Builder {
	if registry == nil {
		registry = NewBuiltinRegistry()
	}
	b := &Builder{registry: registry, resilience: resilience, maxItems: DefaultMaxItems}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build 解析文档中的名称引用并完成结构校验。
func (b *Builder) Build(doc Document) (orchestration.Orchestration, error) {
	orch := orchestration.Orchestration{ID: doc.ID, Description: doc.Description}
	for i, spec := range doc.Levels {
		level, err := b.level(spec)
		if err != nil {
			return orchestration.Orchestration{}, fmt.Errorf("level %d (%s): %w", i, spec.ID, err)
		}
		orch.Levels = append(orch.Levels, level)
	}
	if err := orchestration.Validate(orch); err != nil {
		return orchestration.Orchestration{}, err
	}
	return orch, nil
}

func (b *Builder) level(spec LevelSpec) (orchestration.Level, error) {
	level := orchestration.Level{
		ID:          spec.ID,
		Description: spec.Description,
		Quality:     orchestration.QualityRequirements{MinSuccessRate: spec.MinSuccessRate},
	}
	if spec.MaxDuration != "" {
		d, err := time.ParseDuration(spec.MaxDuration)
		if err != nil {
			return level, xerrors.Wrap(orchestration.CodeValidation, err, "max_duration")
		}
		level.Expectations.MaxDuration = d
	}

	switch orchestration.LevelKind(spec.Type) {
	case orchestration.KindSequential:
		tasks, err := b.tasks(spec.Tasks)
		if err != nil {
			return level, err
		}
		level.Type = orchestration.Sequential{Tasks: tasks}
	case orchestration.KindParallel:
		tasks, err := b.tasks(spec.Tasks)
		if err != nil {
			return level, err
		}
		level.Type = orchestration.Parallel{Tasks: tasks}
	case orchestration.KindConditional:
		conditions := make([]orchestration.Condition, 0, len(spec.Conditions))
		for i, c := range spec.Conditions {
			pred, err := b.registry.Predicate(c.Predicate, c.Params)
			if err != nil {
				return level, fmt.Errorf("condition %d: %w", i, err)
			}
			actions, err := b.tasks(c.Actions)
			if err != nil {
				return level, fmt.Errorf("condition %d: %w", i, err)
			}
			conditions = append(conditions, orchestration.Condition{
				Name:           c.Name,
				Predicate:      pred,
				Actions:        actions,
				BreakOnSuccess: c.BreakOnSuccess,
			})
		}
		level.Type = orchestration.Conditional{Conditions: conditions}
	case orchestration.KindIterative:
		tasks, err := b.tasks(spec.Tasks)
		if err != nil {
			return level, err
		}
		iter := orchestration.Iterative{MaxIterations: spec.MaxIterations, Tasks: tasks, Initial: spec.Initial}
		if spec.Completion != nil {
			pred, err := b.registry.Predicate(spec.Completion.Predicate, spec.Completion.Params)
			if err != nil {
				return level, fmt.Errorf("completion: %w", err)
			}
			iter.Completion = pred
		}
		level.Type = iter
	case orchestration.KindTranscendent:
		if spec.Task == nil {
			return level, xerrors.New(orchestration.CodeValidation, "transcendent level requires a task template")
		}
		tmpl, err := b.task(*spec.Task)
		if err != nil {
			return level, err
		}
		items, err := expandItems(spec, b.maxItems)
		if err != nil {
			return level, err
		}
		level.Type = orchestration.Transcendent{Items: items, ChunkSize: spec.ChunkSize, Task: tmpl, Parallel: spec.Parallel}
	default:
		return level, xerrors.New(orchestration.CodeValidation, fmt.Sprintf("unknown level type %q", spec.Type))
	}
	return level, nil
}

func (b *Builder) tasks(specs []TaskSpec) ([]orchestration.Task, error) {
	tasks := make([]orchestration.Task, 0, len(specs))
	for i, spec := range specs {
		task, err := b.task(spec)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (b *Builder) task(spec TaskSpec) (orchestration.Task, error) {
	handler, err := b.registry.Handler(spec.Handler)
	if err != nil {
		return orchestration.Task{}, err
	}
	if spec.Retry != nil {
		if b.resilience == nil {
			return orchestration.Task{}, xerrors.New(orchestration.CodeValidation, "retry declared but no resilience coordinator configured")
		}
		policy, err := spec.Retry.policy()
		if err != nil {
			return orchestration.Task{}, err
		}
		handler = b.resilience.Wrap(handler, policy)
	}
	deps := make([]orchestration.TaskID, 0, len(spec.DependsOn))
	for _, d := range spec.DependsOn {
		deps = append(deps, orchestration.TaskID(d))
	}
	return orchestration.Task{
		ID:           orchestration.TaskID(spec.ID),
		Description:  spec.Description,
		Handler:      handler,
		HandlerRef:   spec.Handler,
		Params:       spec.Params,
		Dependencies: deps,
	}, nil
}

func (r RetrySpec) policy() (orchestration.Policy, error) {
	policy := orchestration.Policy{MaxAttempts: r.MaxAttempts, RetryBurst: r.RetryBurst}
	base, err := optionalDuration(r.Backoff, "retry.backoff")
	if err != nil {
		return policy, err
	}
	ceiling, err := optionalDuration(r.MaxBackoff, "retry.max_backoff")
	if err != nil {
		return policy, err
	}
	if ceiling > 0 {
		policy.Backoff = orchestration.ExponentialBackoff(base, ceiling)
	} else {
		policy.Backoff = orchestration.ConstantBackoff(base)
	}
	if r.BreakerThreshold > 0 {
		cooldown, err := optionalDuration(r.BreakerCooldown, "retry.breaker_cooldown")
		if err != nil {
			return policy, err
		}
		policy.Breaker = &orchestration.BreakerPolicy{FailureThreshold: r.BreakerThreshold, Cooldown: cooldown}
	}
	if r.RetryRate > 0 {
		policy.RetryRate = rate.Limit(r.RetryRate)
	}
	return policy, nil
}

func optionalDuration(raw, field string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, xerrors.Wrap(orchestration.CodeValidation, err, field)
	}
	return d, nil
}

func expandItems(spec LevelSpec, maxItems int) ([]orchestration.Value, error) {
	if spec.Range != nil {
		if len(spec.Items) > 0 {
			return nil, xerrors.New(orchestration.CodeValidation, "items and range are mutually exclusive")
		}
		from, to := spec.Range.From, spec.Range.To
		if to < from {
			return nil, xerrors.New(orchestration.CodeValidation, "range.to must not be smaller than range.from")
		}
		// to >= from，按无符号计算跨度不会溢出
		span := uint64(int64(to)) - uint64(int64(from))
		if span >= uint64(maxItems) {
			return nil, xerrors.New(orchestration.CodeValidation,
				fmt.Sprintf("range [%d, %d] exceeds the limit of %d items", from, to, maxItems))
		}
		count := int(span) + 1
		items := make([]orchestration.Value, 0, count)
		for i := 0; i < count; i++ {
			items = append(items, from+i)
		}
		return items, nil
	}
	if len(spec.Items) > maxItems {
		return nil, xerrors.New(orchestration.CodeValidation,
			fmt.Sprintf("%d items exceed the limit of %d", len(spec.Items), maxItems))
	}
	items := make([]orchestration.Value, len(spec.Items))
	copy(items, spec.Items)
	return items, nil
}
