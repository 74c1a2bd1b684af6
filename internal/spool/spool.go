// Package spool 监听投递目录，将放入的编排文档提交给引擎执行。
package spool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/internal/plan"
)

const (
	processedDir = "processed"
	failedDir    = "failed"

	// DefaultSettleDelay 是文件最后一次写入后等待的静默时间。
	DefaultSettleDelay = 250 * time.Millisecond
)

// Submitter 是投递目录依赖的引擎能力。
type Submitter interface {
	Submit(ctx context.Context, orch orchestration.Orchestration, opts ...orchestration.SubmitOption) (orchestration.OrchestrationResult, error)
}

// Outcome 随文档一起写入 processed/ 或 failed/。
type Outcome struct {
	File         string              `json:"file"`
	ID           string              `json:"id,omitempty"`
	Success      bool                `json:"success"`
	HistoryID    string              `json:"history_id,omitempty"`
	QualityScore float64             `json:"quality_score"`
	Output       orchestration.Value `json:"output,omitempty"`
	ErrorCode    string              `json:"error_code,omitempty"`
	Error        string              `json:"error,omitempty"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Option 定义可选配置。
type Option func(*Spool)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Spool) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWorkers 限制同时执行的文档数量。
func WithWorkers(n int) Option {
	return func(s *Spool) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithSettleDelay 设置文件静默多久后才被处理，非正数沿用默认值。
func WithSettleDelay(d time.Duration) Option {
	return func(s *Spool) {
		if d > 0 {
			s.settle = d
		}
	}
}

// Spool 监听一个目录。新文件在 settle 时间内没有继续写入才会被处理，
// 以 . 开头的临时文件被忽略，写入方也可以写完后重命名到位。
type Spool struct {
	dir     string
	builder *plan.Builder
	engine  Submitter
	logger  *slog.Logger
	workers int
	settle  time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New 创建投递目录及其 processed/ failed/ 子目录。
func New(dir string, builder *plan.Builder, engine Submitter, opts ...Option) (*Spool, error) {
	if dir == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "spool 目录不能为空")
	}
	if builder == nil || engine == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "spool 需要 builder 与引擎")
	}
	for _, sub := range []string{"", processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 spool 目录失败")
		}
	}
	s := &Spool{
		dir:      dir,
		builder:  builder,
		engine:   engine,
		logger:   slog.Default(),
		workers:  4,
		settle:   DefaultSettleDelay,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Dir 返回监听目录。
func (s *Spool) Dir() string { return s.dir }

// Run 先处理目录中已有的文档，然后持续监听，直到上下文取消。
func (s *Spool) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建文件监听失败")
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "监听 spool 目录失败")
	}

	g := new(errgroup.Group)
	g.SetLimit(s.workers)
	dispatch := func(path string) {
		if !s.claim(path) {
			return
		}
		g.Go(func() error {
			defer s.release(path)
			if err := s.Process(ctx, path); err != nil {
				s.logger.Warn("处理投递文档失败", slog.String("file", path), slog.Any("error", err))
			}
			return nil
		})
	}

	existing, err := os.ReadDir(s.dir)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 spool 目录失败")
	}
	for _, entry := range existing {
		if !entry.IsDir() && accepted(entry.Name()) {
			dispatch(filepath.Join(s.dir, entry.Name()))
		}
	}
	s.logger.Info("spool 已启动", slog.String("dir", s.dir))

	// 每个文件一个静默计时器，写入事件会重新计时
	ready := make(chan string)
	pending := make(map[string]*time.Timer)
	defer func() {
		for _, timer := range pending {
			timer.Stop()
		}
	}()
	schedule := func(path string) {
		if timer, ok := pending[path]; ok {
			timer.Reset(s.settle)
			return
		}
		pending[path] = time.AfterFunc(s.settle, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		case path := <-ready:
			delete(pending, path)
			if info, err := os.Stat(path); err != nil || info.IsDir() {
				continue
			}
			dispatch(path)
		case event, ok := <-watcher.Events:
			if !ok {
				_ = g.Wait()
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !accepted(filepath.Base(event.Name)) {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			schedule(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				_ = g.Wait()
				return nil
			}
			s.logger.Warn("spool 监听错误", slog.Any("error", err))
		}
	}
}

// Process 解析并执行单个文档，然后将其移动到 processed/ 或 failed/，旁边写入 .result.json。
func (s *Spool) Process(ctx context.Context, path string) error {
	name := filepath.Base(path)
	outcome := Outcome{File: name}

	runErr := s.execute(ctx, path, &outcome)
	outcome.FinishedAt = time.Now().UTC()
	if runErr != nil {
		outcome.Error = runErr.Error()
		outcome.ErrorCode = string(xerrors.CodeOf(runErr))
	}

	target := processedDir
	if !outcome.Success {
		target = failedDir
	}
	dest := filepath.Join(s.dir, target, name)
	if err := os.Rename(path, dest); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "移动投递文档失败")
	}
	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码执行结果失败")
	}
	if err := os.WriteFile(dest+".result.json", data, 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入执行结果失败")
	}

	attrs := []any{slog.String("file", name), slog.String("orchestration_id", outcome.ID), slog.Bool("success", outcome.Success)}
	if runErr != nil {
		s.logger.Warn("投递文档执行失败", append(attrs, slog.String("error_code", outcome.ErrorCode))...)
	} else {
		s.logger.Info("投递文档执行完成", attrs...)
	}
	return nil
}

func (s *Spool) execute(ctx context.Context, path string, outcome *Outcome) error {
	doc, err := plan.DecodeFile(path)
	if err != nil {
		return err
	}
	orch, err := s.builder.Build(doc)
	if err != nil {
		return err
	}
	result, err := s.engine.Submit(ctx, orch)
	outcome.ID = result.ID
	outcome.HistoryID = result.HistoryID
	outcome.QualityScore = result.QualityScore
	outcome.Output = result.Output
	outcome.Success = err == nil && result.Success
	if err != nil {
		return fmt.Errorf("submit %s: %w", filepath.Base(path), err)
	}
	return nil
}

func (s *Spool) claim(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[path]; ok {
		return false
	}
	s.inflight[path] = struct{}{}
	return true
}

func (s *Spool) release(path string) {
	s.mu.Lock()
	delete(s.inflight, path)
	s.mu.Unlock()
}

// accepted 只接受 .json/.yaml/.yml，忽略隐藏的临时文件。
func accepted(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	default:
		return false
	}
}
