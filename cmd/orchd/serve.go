package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"Orchestra-Engine/internal/api"
	"Orchestra-Engine/internal/spool"
	"Orchestra-Engine/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP API、指标端点与投递目录监听",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.close(shutdownCtx); err != nil {
			logger.L().Warn("关闭引擎失败", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, a.engine, a.builder,
		api.WithMetrics(a.metrics),
		api.WithArchive(a.sink),
		api.WithLogger(logger.Named("api")))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.L().Info("API 服务启动", slog.String("address", cfg.Server.Address))
		return server.Start(gctx)
	})
	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error {
			logger.L().Info("指标服务启动", slog.String("address", cfg.Server.MetricsAddress))
			return a.metrics.StartServer(gctx, cfg.Server.MetricsAddress)
		})
	}
	if cfg.Spool.Enabled {
		sp, err := spool.New(cfg.Spool.Directory, a.builder, a.engine,
			spool.WithLogger(logger.Named("spool")),
			spool.WithSettleDelay(time.Duration(cfg.Spool.SettleMS)*time.Millisecond))
		if err != nil {
			return err
		}
		g.Go(func() error { return sp.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("orchd 已停止")
	return nil
}
