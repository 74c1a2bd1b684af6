package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/internal/plan"
	"Orchestra-Engine/pkg/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate <document>",
	Short: "校验编排文档并输出每个层级的复杂度评估",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	thresholds, err := orchestration.ThresholdsFromMap(cfg.Engine.ClassifierThresholds)
	if err != nil {
		return err
	}
	classifier, err := orchestration.NewComplexityClassifier(thresholds)
	if err != nil {
		return err
	}

	doc, err := plan.DecodeFile(args[0])
	if err != nil {
		return err
	}
	registry, manager, err := newRegistry(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	if manager != nil {
		defer func() { _ = manager.StopAll(context.Background()) }()
	}
	// 校验不执行任务，重试策略只需通过结构检查。
	orch, err := plan.NewBuilder(registry, orchestration.NewResilienceCoordinator(logger.Discard()), plan.WithMaxItems(cfg.Engine.MaxItems)).Build(doc)
	if err != nil {
		printStatus(cmd.OutOrStdout(), false, "%s: %v", args[0], err)
		return err
	}

	out := cmd.OutOrStdout()
	for _, level := range orch.Levels {
		chunk := cfg.Engine.DefaultChunkSize
		if t, ok := level.Type.(orchestration.Transcendent); ok && t.ChunkSize > 0 {
			chunk = t.ChunkSize
		}
		assessment, err := classifier.ClassifyLevel(level, orchestration.ClassifierContext{ChunkSize: chunk})
		if err != nil {
			printStatus(out, false, "%s: %v", level.ID, err)
			return err
		}
		line := fmt.Sprintf("%-20s %-12s tier=%-12s score=%.3f units=%d",
			level.ID, level.Type.Kind(), assessment.Tier, assessment.Score, assessment.Units)
		if assessment.RequiresTranscendence() {
			line += dimColor.Sprint("  分块执行")
		}
		printStatus(out, true, "%s", line)
	}
	printStatus(out, true, "%s 校验通过，共 %d 个层级", args[0], len(orch.Levels))
	return nil
}
