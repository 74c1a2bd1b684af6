package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"Orchestra-Engine/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "orchd",
	Short: "多层级任务编排引擎",
	Long: `orchd 按层级执行声明式编排文档。

层级支持顺序、并行、条件、迭代与超越（分块）五种策略，
每次执行都会写入有界历史账本，可选归档到文件、MySQL、SQLite 或 Redis。`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（默认读取 $"+config.EnvConfigPath+"）")
	rootCmd.AddCommand(serveCmd, runCmd, validateCmd, historyCmd)
}

// main 是 orchd 的入口。
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig 依次尝试 --config、环境变量与 configs/orchd.yaml，都不存在时使用默认配置。
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	if path == "" {
		candidate := filepath.Join("configs", "orchd.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		return config.Load(path)
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("获取工作目录失败: %w", err)
	}
	cfg := config.Default(wd)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
