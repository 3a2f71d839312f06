package app

import (
	"context"
	"fmt"
	"strings"

	brcfg "kabuscan/internal/config"
	cfgloader "kabuscan/internal/config/loader"
	"kabuscan/internal/gateway/jquants"
	"kabuscan/internal/store/gormstore"
	screenhttp "kabuscan/internal/transport/http/screen"
)

type (
	gormRunRecord   = gormstore.RunRecord
	gormEntryRecord = gormstore.EntryRecord
)

// AppBuilder 按模式装配依赖。各构造函数可被测试替换。
type AppBuilder struct {
	cfg  *brcfg.Config
	mode string

	clientFn   func(brcfg.JQuantsConfig) (*jquants.Client, error)
	historyFn  func(string) (*gormstore.GormStore, error)
	profilesFn func(string) (*cfgloader.Loader, error)
	httpFn     func(screenhttp.ServerConfig) (*screenhttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *brcfg.Config, mode string, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		mode:       normalizeMode(mode),
		clientFn:   jquants.NewClient,
		historyFn:  gormstore.NewGormStore,
		profilesFn: cfgloader.New,
		httpFn:     screenhttp.NewServer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// WithHistoryStore 替换历史库构造，测试用。
func WithHistoryStore(fn func(string) (*gormstore.GormStore, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.historyFn = fn }
}

func normalizeMode(mode string) string {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		return ModeScreen
	}
	return mode
}

// Build 装配 App。chart 模式不开历史库，serve 模式额外装配 HTTP 服务。
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	client, err := b.clientFn(b.cfg.JQuants)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: b.cfg, mode: b.mode, client: client}

	if b.mode != ModeChart {
		history, err := b.historyFn(b.cfg.Output.HistoryDB)
		if err != nil {
			return nil, fmt.Errorf("初始化历史库失败: %w", err)
		}
		a.history = history
	}
	if b.mode == ModeWatch && b.cfg.Watch.ReloadConfig {
		if path := b.cfg.SourcePath(); path != "" {
			a.params = brcfg.NewParams(path)
		}
	}
	if path := strings.TrimSpace(b.cfg.ProfilesPath); path != "" {
		profiles, err := b.profilesFn(path)
		if err != nil {
			return nil, err
		}
		a.profiles = profiles
	}
	if b.mode == ModeServe {
		srv, err := b.httpFn(screenhttp.ServerConfig{
			Addr:       b.cfg.App.HTTPAddr,
			History:    a.history,
			Financials: client,
			ChartDir:   b.cfg.Output.ChartDir,
		})
		if err != nil {
			return nil, err
		}
		a.httpSrv = srv
	}
	return a, nil
}
