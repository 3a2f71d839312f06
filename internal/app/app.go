package app

import (
	"context"
	"errors"
	"fmt"

	brcfg "kabuscan/internal/config"
	"kabuscan/internal/config/loader"
	"kabuscan/internal/gateway/jquants"
	"kabuscan/internal/logger"
	"kabuscan/internal/scheduler"
	"kabuscan/internal/store/gormstore"
	screenhttp "kabuscan/internal/transport/http/screen"

	"golang.org/x/sync/errgroup"
)

// 支持的运行模式。
const (
	ModeScreen = "screen"
	ModeChart  = "chart"
	ModeWatch  = "watch"
	ModeServe  = "serve"
)

// App 负责应用级编排：加载配置→初始化依赖→按模式执行。
type App struct {
	cfg      *brcfg.Config
	mode     string
	client   *jquants.Client
	history  *gormstore.GormStore
	profiles *loader.Loader
	params   *brcfg.Params
	httpSrv  *screenhttp.Server
}

// NewApp 根据配置与模式构建应用对象（不启动）。
func NewApp(cfg *brcfg.Config, mode string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, mode)
}

// Run 按模式执行。screen / chart 为一次性任务，watch / serve 常驻。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()
	switch a.mode {
	case ModeScreen:
		return a.runScreenOnce(ctx)
	case ModeChart:
		return a.runCharts(ctx)
	case ModeWatch:
		return a.runWatch(ctx)
	case ModeServe:
		return a.runServe(ctx)
	default:
		return fmt.Errorf("未知运行模式: %q", a.mode)
	}
}

func (a *App) runWatch(ctx context.Context) error {
	interval, ok := scheduler.ParseIntervalDuration(a.cfg.Watch.Interval)
	if !ok {
		return fmt.Errorf("watch.interval 无效: %q", a.cfg.Watch.Interval)
	}
	group, ctx := errgroup.WithContext(ctx)
	if a.profiles != nil && a.cfg.Watch.ReloadConfig {
		group.Go(func() error {
			return a.profiles.Watch(ctx.Done())
		})
	}
	if a.params != nil {
		group.Go(func() error {
			return a.params.Watch(ctx.Done())
		})
	}
	group.Go(func() error {
		sched := scheduler.NewIntervalScheduler(ctx, interval)
		sched.RunImmediately = true
		sched.Start(func() {
			if err := a.runScreenOnce(ctx); err != nil {
				// watch 模式下单轮失败不退出，等待下一轮。
				logger.Errorf("本轮筛选失败: %v", err)
			}
		})
		return ctx.Err()
	})
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) runServe(ctx context.Context) error {
	if a.httpSrv == nil {
		return fmt.Errorf("http server not initialized")
	}
	// 财务数据代理需要 Bearer 头，启动时换一次 token。
	if err := a.client.Authorize(ctx, a.cfg.RefreshToken); err != nil {
		return err
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	return group.Wait()
}

// Close 释放持有的资源。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			logger.Warnf("关闭历史库失败: %v", err)
		}
	}
}
