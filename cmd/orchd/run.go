package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	xerrors "Orchestra-Engine/internal/errors"
	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/internal/plan"
	"Orchestra-Engine/pkg/logger"
)

var (
	runTimeout time.Duration
	runJSON    bool
)

var runCmd = &cobra.Command{
	Use:   "run <document>",
	Short: "在本进程内执行一个编排文档",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocument,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "整体执行超时，0 表示使用配置")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "以 JSON 输出结果")
}

func runDocument(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	doc, err := plan.DecodeFile(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.close(closeCtx)
	}()

	orch, err := a.builder.Build(doc)
	if err != nil {
		return err
	}
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	result, runErr := a.engine.Submit(ctx, orch)
	out := cmd.OutOrStdout()
	if runJSON {
		if err := printResultJSON(out, result, runErr); err != nil {
			return err
		}
	} else {
		printResult(out, result, runErr)
	}
	return runErr
}

func printResult(w io.Writer, result orchestration.OrchestrationResult, runErr error) {
	for _, level := range result.Levels {
		ok := !levelFailed(level)
		line := fmt.Sprintf("%-20s %-12s %-12s %d/%d 任务成功  %s",
			level.LevelID, level.Kind, level.Tier, level.Succeeded(), len(level.Tasks), level.Duration.Round(time.Millisecond))
		if level.Transcendent != nil && level.Transcendent.Transcended {
			line += dimColor.Sprintf("  分块=%d", len(level.Transcendent.Chunks))
		}
		if level.Iterative != nil {
			line += dimColor.Sprintf("  迭代=%d", level.Iterative.Iterations)
		}
		printStatus(w, ok, "%s", line)
	}
	if runErr != nil {
		printStatus(w, false, "编排 %s 失败 [%s]: %v", result.ID, xerrors.CodeOf(runErr), runErr)
		return
	}
	printStatus(w, true, "编排 %s 完成  质量=%.2f  耗时=%s", result.ID, result.QualityScore, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "输出: %v\n", result.Output)
}

func levelFailed(level orchestration.LevelExecutionResult) bool {
	for _, t := range level.Tasks {
		if t.Status == orchestration.TaskFailed {
			return true
		}
	}
	return false
}

func printResultJSON(w io.Writer, result orchestration.OrchestrationResult, runErr error) error {
	payload := map[string]any{
		"id":            result.ID,
		"success":       result.Success,
		"quality_score": result.QualityScore,
		"output":        result.Output,
		"history_id":    result.HistoryID,
		"duration_ms":   result.Duration.Milliseconds(),
	}
	if runErr != nil {
		payload["error_code"] = string(xerrors.CodeOf(runErr))
		payload["error"] = runErr.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}
