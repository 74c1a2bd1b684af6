package orchestration

import "time"

// Recorder 接收引擎的指标观测值。
type Recorder interface {
	OrchestrationFinished(status HistoryStatus, duration time.Duration)
	LevelFinished(kind LevelKind, tier Tier, duration time.Duration, failed bool)
	TaskFailed(kind LevelKind)
	PermitsInUse(n int)
	HistoryEvicted()
	ArchiveDropped()
	ProgressDropped()
}

type nopRecorder struct{}

func (nopRecorder) OrchestrationFinished(HistoryStatus, time.Duration) {}
func (nopRecorder) LevelFinished(LevelKind, Tier, time.Duration, bool) {}
func (nopRecorder) TaskFailed(LevelKind) {}
func (nopRecorder) PermitsInUse(int) {}
func (nopRecorder) HistoryEvicted() {}
func (nopRecorder) ArchiveDropped() {}
func (nopRecorder) ProgressDropped() {}
