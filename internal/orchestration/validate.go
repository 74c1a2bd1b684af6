package orchestration

// Validate 在申请许可之前检查编排结构。
func Validate(o Orchestration) error {
	if len(o.Levels) == 0 {
		return validationError("", "orchestration %q has no levels", o.ID)
	}
	seen := make(map[string]struct{}, len(o.Levels))
	for i, level := range o.Levels {
		if level.ID == "" {
			return validationError("", "level %d has empty id", i)
		}
		if _, dup := seen[level.ID]; dup {
			return validationError(level.ID, "duplicate level id")
		}
		seen[level.ID] = struct{}{}
		if err := validateLevel(level); err != nil {
			return err
		}
	}
	return nil
}

func validateLevel(level Level) error {
	if level.Quality.MinSuccessRate < 0 || level.Quality.MinSuccessRate > 1 {
		return validationError(level.ID, "min_success_rate must be within [0,1]")
	}
	if level.Expectations.MaxDuration < 0 {
		return validationError(level.ID, "max_duration must not be negative")
	}
	switch t := level.Type.(type) {
	case Sequential:
		return validateSequence(level.ID, t.Tasks, true)
	case Parallel:
		if err := validateSequence(level.ID, t.Tasks, false); err != nil {
			return err
		}
		for i, task := range t.Tasks {
			if len(task.Dependencies) > 0 {
				return validationError(level.ID, "parallel task %d declares dependencies", i)
			}
		}
		return nil
	case Conditional:
		if len(t.Conditions) == 0 {
			return validationError(level.ID, "conditional level has no conditions")
		}
		for i, cond := range t.Conditions {
			if cond.Predicate == nil {
				return validationError(level.ID, "condition %d has no predicate", i)
			}
			if err := validateSequence(level.ID, cond.Actions, true); err != nil {
				return err
			}
		}
		return nil
	case Iterative:
		if t.MaxIterations <= 0 {
			return validationError(level.ID, "max_iterations must be positive, got %d", t.MaxIterations)
		}
		return validateSequence(level.ID, t.Tasks, true)
	case Transcendent:
		if t.ChunkSize < 0 {
			return validationError(level.ID, "chunk_size must not be negative")
		}
		if t.Task.Handler == nil {
			return validationError(level.ID, "transcendent task has no handler")
		}
		if len(t.Task.Dependencies) > 0 {
			return validationError(level.ID, "transcendent task declares dependencies")
		}
		return nil
	case nil:
		return validationError(level.ID, "level type is missing")
	default:
		return validationError(level.ID, "unsupported level type %T", t)
	}
}

// validateSequence 检查任务列表；ordered 为真时依赖只能指向更早的任务。
func validateSequence(levelID string, tasks []Task, ordered bool) error {
	if len(tasks) == 0 {
		return validationError(levelID, "no tasks")
	}
	earlier := make(map[TaskID]struct{}, len(tasks))
	for i, task := range tasks {
		if task.Handler == nil {
			return validationError(levelID, "task %d has no handler", i)
		}
		if task.ID != "" {
			if _, dup := earlier[task.ID]; dup {
				return validationError(levelID, "duplicate task id %q", task.ID)
			}
		}
		if ordered {
			for _, dep := range task.Dependencies {
				if dep == task.ID {
					return validationError(levelID, "task %q depends on itself", task.ID)
				}
				if _, ok := earlier[dep]; !ok {
					return validationError(levelID, "task %d depends on unknown or later task %q", i, dep)
				}
			}
		}
		if task.ID != "" {
			earlier[task.ID] = struct{}{}
		}
	}
	return nil
}
