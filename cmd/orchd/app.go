package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"Orchestra-Engine/internal/config"
	"Orchestra-Engine/internal/history"
	"Orchestra-Engine/internal/observability/alerting"
	"Orchestra-Engine/internal/observability/metrics"
	"Orchestra-Engine/internal/orchestration"
	"Orchestra-Engine/internal/plan"
	"Orchestra-Engine/internal/progress"
	"Orchestra-Engine/pkg/logger"
	"Orchestra-Engine/pkg/plugin"
)

// app 把配置装配成一个可用的引擎及其外部依赖。
type app struct {
	cfg       *config.Config
	engine    *orchestration.Engine
	builder   *plan.Builder
	metrics   *metrics.Collector
	sink      history.Sink
	publisher progress.Publisher
	plugins   *plugin.Manager
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.New(true)}

	thresholds, err := orchestration.ThresholdsFromMap(cfg.Engine.ClassifierThresholds)
	if err != nil {
		return nil, err
	}

	sink, err := history.Open(ctx, cfg.HistorySink)
	if err != nil {
		return nil, err
	}
	a.sink = sink

	publisher, err := progress.Open(ctx, cfg.Progress, logger.Named("progress"))
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}
	a.publisher = publisher

	notifiers := []alerting.Notifier{}
	if !cfg.Alerting.DisableLog {
		notifiers = append(notifiers, &alerting.LogNotifier{Logger: logger.Audit()})
	}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.Alerting.WebhookURL,
			Client: &http.Client{Timeout: 5 * time.Second},
		})
	}

	opts := []orchestration.Option{
		orchestration.WithLogger(logger.Named("orchestration")),
		orchestration.WithAuditLogger(logger.Audit()),
		orchestration.WithRecorder(a.metrics),
		orchestration.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	}
	if sink != nil {
		opts = append(opts, orchestration.WithHistorySink(sink, cfg.HistorySink.ArchiveBuffer))
	}
	if publisher != nil {
		opts = append(opts, orchestration.WithProgressSubscriber(publisher, cfg.Progress.SubscriberBuffer))
	}

	engine, err := orchestration.NewEngine(orchestration.Config{
		ConcurrencyLimit: cfg.Engine.ConcurrencyLimit,
		HistoryCapacity:  cfg.Engine.HistoryCapacity,
		DefaultChunkSize: cfg.Engine.DefaultChunkSize,
		Thresholds:       thresholds,
		NonBlocking:      cfg.Engine.Admission == config.AdmissionNonBlocking,
		DefaultTimeout:   time.Duration(cfg.Engine.DefaultTimeoutSeconds) * time.Second,
	}, opts...)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}
	a.engine = engine

	registry, manager, err := newRegistry(ctx, cfg)
	if err != nil {
		_ = a.close(ctx)
		return nil, err
	}
	a.plugins = manager
	a.builder = plan.NewBuilder(registry, engine.Resilience(), plan.WithMaxItems(cfg.Engine.MaxItems))

	logger.L().Info("引擎已初始化",
		slog.Int("concurrency_limit", cfg.Engine.ConcurrencyLimit),
		slog.Int("history_capacity", cfg.Engine.HistoryCapacity),
		slog.String("history_sink", cfg.HistorySink.Driver),
		slog.String("progress", cfg.Progress.Driver))
	return a, nil
}

// newRegistry 返回内建处理函数加上已安装插件贡献的注册表。
func newRegistry(ctx context.Context, cfg *config.Config) (*plan.Registry, *plugin.Manager, error) {
	registry := plan.NewBuiltinRegistry()
	if len(cfg.Plugins.Plugins) == 0 {
		return registry, nil, nil
	}
	manager, err := plugin.NewManager(cfg.Plugins, plugin.WithResource("logger", logger.Named("plugin")))
	if err != nil {
		return nil, nil, err
	}
	if err := manager.InstallAll(ctx, registry); err != nil {
		_ = manager.StopAll(ctx)
		return nil, nil, err
	}
	logger.L().Info("插件已安装", slog.Any("plugins", manager.IDs()))
	return registry, manager, nil
}

// close 先排空引擎的归档与订阅，再关闭外部连接。
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.plugins != nil {
		if err := a.plugins.StopAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) closeResources() error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
