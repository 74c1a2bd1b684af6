package orchestration

// PendingTask 是即将执行、尚无结果的任务。
type PendingTask struct {
	Index int
	Task  Task
}

// RelationshipTracker 校验相邻任务之间的依赖是否可满足。
type RelationshipTracker struct{}

// Assess 在 next 开始之前校验 (prev, next) 这一对。
func (RelationshipTracker) Assess(prev TaskResult, next PendingTask) error {
	violation := func(reason string) error {
		return &RelationshipViolation{
			PrevIndex: prev.Index,
			NextIndex: next.Index,
			PrevID:    prev.TaskID,
			NextID:    next.Task.ID,
			Reason:    reason,
		}
	}
	if next.Index != prev.Index+1 {
		return violation("tasks are not adjacent")
	}
	for _, dep := range next.Task.Dependencies {
		if dep == next.Task.ID {
			return violation("task depends on itself")
		}
		if dep == prev.TaskID && !prev.Ok() {
			return violation("dependency " + string(dep) + " did not succeed")
		}
	}
	if prev.Status == TaskSkipped || prev.Status == TaskCancelled {
		return violation("previous task did not run")
	}
	return nil
}
