package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/offline-cache/offline-cache/internal/cache"
	"github.com/offline-cache/offline-cache/internal/config"
	"github.com/offline-cache/offline-cache/internal/control"
	"github.com/offline-cache/offline-cache/internal/generation"
	"github.com/offline-cache/offline-cache/internal/logging"
	"github.com/offline-cache/offline-cache/internal/proxy"
	"github.com/offline-cache/offline-cache/internal/server"
	"github.com/offline-cache/offline-cache/internal/server/routes"
	"github.com/offline-cache/offline-cache/internal/upstream"
)

// daemon 持有一次运行期间共享的组件，所有请求共用同一个仓库与代际管理器。
type daemon struct {
	cfg         *config.Config
	logger      *logrus.Logger
	registry    cache.Registry
	manager     *generation.Manager
	interceptor *proxy.Interceptor
	app         *fiber.App
	manifest    []cache.RequestKey

	closeOnce sync.Once
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*daemon, error) {
	manifest, err := manifestKeys(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := cache.NewRegistry(cfg.Global.StoreDriver, cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存仓库失败: %w", err)
	}

	client, err := upstream.NewClient(cfg)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	fetcher := upstream.NewHTTPFetcher(client)

	manager, err := generation.New(registry, fetcher, generation.Options{
		Generation:   cfg.Generation.Generation,
		StorePrefix:  cfg.Generation.StorePrefix,
		Concurrency:  cfg.Generation.WarmupConcurrency,
		Rate:         cfg.Generation.WarmupRate,
		StrictStatus: cfg.Generation.StrictWarmup,
		Logger:       logger,
	})
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	if err := manager.Resume(ctx); err != nil {
		_ = registry.Close()
		return nil, fmt.Errorf("恢复代际状态失败: %w", err)
	}

	interceptor := proxy.NewInterceptor(manager, fetcher, logger)
	handler, err := proxy.NewHandler(interceptor, cfg.Upstream.Origin, logger)
	if err != nil {
		_ = registry.Close()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		_ = registry.Close()
		return nil, err
	}
	routes.RegisterControlRoutes(app, control.NewChannel(manager, logger))
	routes.RegisterStatusRoutes(app, manager)

	return &daemon{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		manager:     manager,
		interceptor: interceptor,
		app:         app,
		manifest:    manifest,
	}, nil
}

// warmup 预热当前代际，按配置决定是否立即激活。
// 失败时服务继续运行：上一代（如有）仍然服务，否则请求直接回源。
func (d *daemon) warmup(ctx context.Context) error {
	gen := d.cfg.Generation
	err := generation.InstallWithRetry(ctx, d.manager, d.manifest, gen.MaxRetries, gen.InitialBackoff.DurationValue())
	if err != nil {
		fields := logging.GenerationFields("warmup", gen.Generation, d.manager.StoreName())
		d.logger.WithFields(fields).WithError(err).Error("warmup_abandoned")
		return err
	}
	if !gen.ImmediateActivation() {
		fields := logging.GenerationFields("warmup", gen.Generation, d.manager.StoreName())
		d.logger.WithFields(fields).Info("awaiting_force_activate")
		return nil
	}
	return d.manager.Activate(ctx)
}

// serve 监听端口直到 ctx 结束，随后关闭 Fiber 并等待后台缓存写入完成。
func (d *daemon) serve(ctx context.Context) error {
	port := d.cfg.Global.ListenPort
	go func() {
		<-ctx.Done()
		_ = d.app.Shutdown()
	}()

	d.logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("fiber_listen")

	err := d.app.Listen(fmt.Sprintf(":%d", port))
	d.interceptor.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *daemon) close() {
	d.closeOnce.Do(func() {
		d.interceptor.Wait()
		if err := d.registry.Close(); err != nil {
			d.logger.WithField("action", "shutdown").WithError(err).Warn("registry_close_failed")
		}
	})
}

func manifestKeys(cfg *config.Config) ([]cache.RequestKey, error) {
	urls, err := cfg.ResolveManifest()
	if err != nil {
		return nil, fmt.Errorf("解析预热清单失败: %w", err)
	}
	keys := make([]cache.RequestKey, 0, len(urls))
	for _, u := range urls {
		keys = append(keys, cache.NewRequestKey(http.MethodGet, u))
	}
	return keys, nil
}
