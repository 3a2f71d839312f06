package screener

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	brcfg "kabuscan/internal/config"
	"kabuscan/internal/logger"
	"kabuscan/internal/market"
)

// QuoteSource 提供按日期范围拉取单票日线序列的能力。
// 实现约定：失败返回空序列而非错误，筛选循环据此跳过该票。
type QuoteSource interface {
	DailyQuotes(ctx context.Context, code, from, to string) market.Series
}

// Options 控制一次筛选的窗口与口径。
type Options struct {
	LookbackDays int
	Threshold    float64
	TopN         int
	DelayDays    int
	MinPoints    int
	Mode         string

	// nowFn 仅测试注入。
	nowFn func() time.Time
}

// WithNow 返回替换了时钟的 Options 拷贝，测试用。
func (o Options) WithNow(fn func() time.Time) Options {
	o.nowFn = fn
	return o
}

func (o *Options) normalize() {
	if o.LookbackDays <= 0 {
		o.LookbackDays = 180
	}
	if o.TopN <= 0 {
		o.TopN = 20
	}
	if o.MinPoints <= 0 {
		o.MinPoints = 30
	}
	if o.DelayDays < 0 {
		o.DelayDays = 0
	}
	if o.Mode == "" {
		o.Mode = brcfg.ModeCurrentPeak
	}
	if o.nowFn == nil {
		o.nowFn = time.Now
	}
}

// Result 是单票的筛选结果。Ratio 的语义随口径而变：
// current_peak 口径下是现价/峰值（越小跌得越深），
// rolling_max 口径下是滚动最大回撤深度 |min(price/cummax-1)|（越大跌得越深）。
type Result struct {
	Code  string
	Ratio decimal.Decimal
}

// Window 返回筛选使用的日期区间 [from, to]，两端都回退 DelayDays 以吸收
// 数据源的发布延迟。
func (o Options) Window() (from, to string) {
	nowFn := o.nowFn
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn()
	toDate := now.AddDate(0, 0, -o.DelayDays)
	fromDate := now.AddDate(0, 0, -(o.LookbackDays + o.DelayDays))
	return fromDate.Format("2006-01-02"), toDate.Format("2006-01-02")
}

// Screen 对股票池逐票计算回撤并按口径过滤排序。严格串行：单票失败只影响
// 自身，绝不中断整批。输出对确定性的输入是确定的（稳定排序，平局保持遍历序）。
func Screen(ctx context.Context, src QuoteSource, tickers []string, opts Options) []Result {
	opts.normalize()
	from, to := opts.Window()
	logger.Infof("开始筛选：%d 只，窗口 %s ~ %s，口径=%s 阈值=%.4f", len(tickers), from, to, opts.Mode, opts.Threshold)

	threshold := decimal.NewFromFloat(opts.Threshold)
	results := make([]Result, 0, 64)
	for _, code := range tickers {
		if ctx.Err() != nil {
			break
		}
		series := src.DailyQuotes(ctx, code, from, to)
		prices := series.AdjustedCloses()
		if len(prices) < opts.MinPoints {
			logger.Debugf("跳过 %s：有效数据 %d 条不足 %d", code, len(prices), opts.MinPoints)
			continue
		}
		ratio, ok := evaluate(prices, opts.Mode, threshold)
		if !ok {
			continue
		}
		logger.Infof("  %s: 命中回撤 ratio=%s", code, ratio.StringFixed(4))
		results = append(results, Result{Code: code, Ratio: ratio})
	}

	sortResults(results, opts.Mode)
	if len(results) > opts.TopN {
		results = results[:opts.TopN]
	}
	logger.Infof("筛选完成：命中 %d 只", len(results))
	return results
}

// evaluate 按指定口径计算单票指标并判定是否保留。
// 两种口径语义不同，绝不混用：见 ScreenConfig 的说明。
func evaluate(prices []float64, mode string, threshold decimal.Decimal) (decimal.Decimal, bool) {
	switch mode {
	case brcfg.ModeRollingMax:
		return evaluateRollingMax(prices, threshold)
	default:
		return evaluateCurrentPeak(prices, threshold)
	}
}

// evaluateCurrentPeak 计算现价/窗口峰值，ratio <= threshold 时保留。
func evaluateCurrentPeak(prices []float64, threshold decimal.Decimal) (decimal.Decimal, bool) {
	peak := prices[0]
	for _, p := range prices[1:] {
		if p > peak {
			peak = p
		}
	}
	if peak <= 0 {
		return decimal.Zero, false
	}
	current := decimal.NewFromFloat(prices[len(prices)-1])
	ratio := current.Div(decimal.NewFromFloat(peak))
	return ratio, ratio.LessThanOrEqual(threshold)
}

// evaluateRollingMax 计算滚动最大回撤深度 |min(price/cummax - 1)|，
// 深度 >= threshold 时保留。
func evaluateRollingMax(prices []float64, threshold decimal.Decimal) (decimal.Decimal, bool) {
	cummax := prices[0]
	depth := decimal.Zero
	for _, p := range prices {
		if p > cummax {
			cummax = p
		}
		if cummax <= 0 {
			continue
		}
		dd := decimal.NewFromFloat(p).Div(decimal.NewFromFloat(cummax)).Sub(decimal.NewFromInt(1)).Abs()
		if dd.GreaterThan(depth) {
			depth = dd
		}
	}
	return depth, depth.GreaterThanOrEqual(threshold)
}

// sortResults 按口径排序：current_peak 升序（跌得最深在前），
// rolling_max 降序（回撤最大在前）。稳定排序保证平局时维持遍历序。
func sortResults(results []Result, mode string) {
	if mode == brcfg.ModeRollingMax {
		sort.SliceStable(results, func(i, j int) bool {
			return results[i].Ratio.GreaterThan(results[j].Ratio)
		})
		return
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Ratio.LessThan(results[j].Ratio)
	})
}
