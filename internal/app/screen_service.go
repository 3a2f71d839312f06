package app

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	"kabuscan/internal/analysis/visual"
	"kabuscan/internal/config/loader"
	"kabuscan/internal/logger"
	"kabuscan/internal/screener"
	"kabuscan/internal/store"
)

// screenOptions 合成最终筛选参数：主配置打底，watch 模式叠加文件里的实时值，
// 命名档位最后整体覆盖。
func (a *App) screenOptions() (screener.Options, string) {
	cfg := a.cfg
	opts := screener.Options{
		LookbackDays: cfg.LookbackDays,
		Threshold:    cfg.Threshold,
		TopN:         cfg.TopN,
		DelayDays:    cfg.Screen.DelayDays,
		MinPoints:    cfg.Screen.MinPoints,
		Mode:         cfg.Screen.NormalizedMode(),
	}
	opts = a.applyLiveParams(opts)
	if a.profiles == nil {
		return opts, ""
	}
	def, ok := a.profiles.Snapshot().Get(cfg.Screen.Profile)
	if !ok {
		if cfg.Screen.Profile != "" {
			logger.Warnf("档位 %q 不存在，使用主配置参数", cfg.Screen.Profile)
		}
		return opts, ""
	}
	opts = applyProfile(opts, def)
	return opts, def.Name
}

// applyLiveParams 在 watch 模式下按轮次读取配置文件的当前值，编辑即生效。
// 非法或缺失的值沿用已生效的参数。
func (a *App) applyLiveParams(opts screener.Options) screener.Options {
	if a.params == nil {
		return opts
	}
	if v := cast.ToFloat64(a.params.Get("threshold", opts.Threshold)); v > 0 {
		opts.Threshold = v
	}
	if v := cast.ToInt(a.params.Get("top_n", opts.TopN)); v > 0 {
		opts.TopN = v
	}
	if v := cast.ToInt(a.params.Get("lookback_days", opts.LookbackDays)); v > 0 {
		opts.LookbackDays = v
	}
	return opts
}

func applyProfile(opts screener.Options, def loader.ProfileDefinition) screener.Options {
	if def.LookbackDays > 0 {
		opts.LookbackDays = def.LookbackDays
	}
	if def.Threshold > 0 {
		opts.Threshold = def.Threshold
	}
	if def.TopN > 0 {
		opts.TopN = def.TopN
	}
	if def.DelayDays != nil {
		opts.DelayDays = *def.DelayDays
	}
	if def.MinPoints > 0 {
		opts.MinPoints = def.MinPoints
	}
	if def.Mode != "" {
		opts.Mode = def.Mode
	}
	return opts
}

// runScreenOnce 执行一轮完整筛选：换 token → 拉股票池 → 逐票回撤 →
// 写结果文件 → 记历史库。token 交换与股票池失败向上传播（致命），
// 单票失败在 screener 内部吞掉。
func (a *App) runScreenOnce(ctx context.Context) error {
	if err := a.client.Authorize(ctx, a.cfg.RefreshToken); err != nil {
		return err
	}
	listings, err := a.client.ListedInfo(ctx)
	if err != nil {
		return err
	}
	opts, profileName := a.screenOptions()

	tickers := make([]string, 0, len(listings))
	nameByCode := make(map[string]string, len(listings))
	for _, l := range listings {
		tickers = append(tickers, l.Code)
		nameByCode[l.Code] = l.DisplayName()
	}

	startedAt := time.Now()
	results := screener.Screen(ctx, a.client, tickers, opts)
	finishedAt := time.Now()

	entries := make([]store.Entry, 0, len(results))
	for _, r := range results {
		entries = append(entries, store.Entry{Code: r.Code, Name: nameByCode[r.Code]})
	}
	if err := store.WriteResultFile(a.cfg.Output.ResultPath, entries); err != nil {
		return err
	}
	logger.Infof("已写入 %d 条结果到 %s", len(entries), a.cfg.Output.ResultPath)

	if a.history != nil {
		if err := a.saveRunHistory(profileName, opts, len(tickers), results, nameByCode, startedAt, finishedAt); err != nil {
			// 历史库是锦上添花，落盘失败不影响本轮结果。
			logger.Warnf("历史库写入失败: %v", err)
		}
	}
	return nil
}

func (a *App) saveRunHistory(profile string, opts screener.Options, universe int, results []screener.Result, nameByCode map[string]string, startedAt, finishedAt time.Time) error {
	params, _ := json.Marshal(map[string]any{
		"lookback_days": opts.LookbackDays,
		"threshold":     opts.Threshold,
		"top_n":         opts.TopN,
		"delay_days":    opts.DelayDays,
		"min_points":    opts.MinPoints,
		"mode":          opts.Mode,
	})
	run := a.historyRun(profile, opts, universe, len(results), params, startedAt, finishedAt)
	entries := make([]historyEntry, 0, len(results))
	for i, r := range results {
		entries = append(entries, historyEntry{
			Rank:  i + 1,
			Code:  r.Code,
			Name:  nameByCode[r.Code],
			Ratio: r.Ratio.StringFixed(6),
		})
	}
	return a.persistRun(run, entries)
}

// runCharts 读回结果文件并逐票渲染图表。渲染失败只告警，
// 序列缺列则跳过该票。
func (a *App) runCharts(ctx context.Context) error {
	if err := a.client.Authorize(ctx, a.cfg.RefreshToken); err != nil {
		return err
	}
	entries, err := store.ReadResultFile(a.cfg.Output.ResultPath)
	if err != nil {
		return err
	}
	opts, _ := a.screenOptions()
	from, to := opts.Window()
	logger.Infof("开始渲染 %d 只股票的图表，窗口 %s ~ %s", len(entries), from, to)

	rendered := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		series := a.client.DailyQuotes(ctx, e.Code, from, to)
		aug := visual.Render(visual.RenderInput{
			Context: ctx,
			Code:    e.Code,
			Name:    e.Name,
			Series:  series,
			OutDir:  a.cfg.Output.ChartDir,
			Chart:   a.cfg.Chart,
		})
		if aug.Empty() {
			continue
		}
		rendered++
	}
	logger.Infof("图表处理完成：%d/%d", rendered, len(entries))
	return nil
}

// historyEntry/historyRun 把 screener 与 gormstore 的类型转换收敛到一处。
type historyEntry = gormEntryRecord

func (a *App) historyRun(profile string, opts screener.Options, universe, matched int, params []byte, startedAt, finishedAt time.Time) gormRunRecord {
	return gormRunRecord{
		ID:           uuid.NewString(),
		Profile:      profile,
		Mode:         opts.Mode,
		LookbackDays: opts.LookbackDays,
		Threshold:    opts.Threshold,
		TopN:         opts.TopN,
		Universe:     universe,
		Matched:      matched,
		Params:       params,
		StartedAt:    startedAt,
		FinishedAt:   finishedAt,
	}
}

func (a *App) persistRun(run gormRunRecord, entries []historyEntry) error {
	return a.history.SaveRun(run, entries)
}
