package indicator

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"kabuscan/internal/market"
)

// Settings 描述均线指标参数。
type Settings struct {
	Fast int `json:"fast,omitempty"`
	Slow int `json:"slow,omitempty"`
}

// Value 保存单条均线的最新值与序列。
type Value struct {
	Period int       `json:"period"`
	Latest float64   `json:"latest"`
	Series []float64 `json:"series,omitempty"`
}

// Report 汇总叠加在单票日线上的均线输出。
type Report struct {
	Count int   `json:"count"`
	Fast  Value `json:"fast"`
	Slow  Value `json:"slow"`
}

// ComputeMA 在收盘价上计算两条简单移动平均（默认 20/60 日）。
// 数据量不足慢线周期时快线仍照常输出，慢线为空序列。
func ComputeMA(series market.Series, cfg Settings) (Report, error) {
	if len(series) == 0 {
		return Report{}, fmt.Errorf("no bars")
	}
	if cfg.Fast <= 0 {
		cfg.Fast = 20
	}
	if cfg.Slow <= 0 {
		cfg.Slow = 60
	}
	closes := series.Closes()
	rep := Report{Count: len(series)}
	rep.Fast = smaValue(closes, cfg.Fast)
	rep.Slow = smaValue(closes, cfg.Slow)
	return rep, nil
}

func smaValue(closes []float64, period int) Value {
	if len(closes) < period {
		return Value{Period: period}
	}
	series := trimLeadingZeros(sanitizeSeries(talib.Sma(closes, period)))
	return Value{Period: period, Latest: lastValid(series), Series: series}
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded warmup values so plots start
// once enough bars exist.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && almostZero(series[start]) {
		start++
	}
	return series[start:]
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
