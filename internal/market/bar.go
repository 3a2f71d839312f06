package market

import (
	"math"
	"sort"
)

// Bar 表示单个交易日的 OHLCV 行情。解析失败的数值字段以 NaN 标记。
type Bar struct {
	Date            string  `json:"date"`
	Open            float64 `json:"open"`
	High            float64 `json:"high"`
	Low             float64 `json:"low"`
	Close           float64 `json:"close"`
	AdjustmentClose float64 `json:"adjustment_close"`
	Volume          float64 `json:"volume"`
}

// Series 是按日期升序排列的某只股票的日线序列。可能为空（视为无数据）。
type Series []Bar

// SortByDate 按日期字符串升序排序（J-Quants 返回 YYYY-MM-DD，字典序即时间序）。
// 日期缺失的行保持原有相对顺序排在已知日期之前。
func (s Series) SortByDate() {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].Date < s[j].Date
	})
}

// Tail 返回末尾最多 n 条。
func (s Series) Tail(n int) Series {
	if n <= 0 || len(s) == 0 {
		return nil
	}
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Closes 返回收盘价序列（含 NaN，调用方自行过滤）。
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Volumes 返回成交量序列。
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Volume
	}
	return out
}

// Dates 返回日期序列。
func (s Series) Dates() []string {
	out := make([]string, len(s))
	for i, b := range s {
		out[i] = b.Date
	}
	return out
}

// AdjustedCloses 提取调整后收盘价并剔除非数值，等价于 to_numeric+dropna。
// 某行缺少 AdjustmentClose 时回退到普通收盘价。
func (s Series) AdjustedCloses() []float64 {
	out := make([]float64, 0, len(s))
	for _, b := range s {
		v := b.AdjustmentClose
		if math.IsNaN(v) {
			v = b.Close
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// HasOHLCV 检查画图所需的全部列（日期/开/高/低/收/量）是否齐全。
func (s Series) HasOHLCV() bool {
	if len(s) == 0 {
		return false
	}
	for _, b := range s {
		if b.Date == "" {
			return false
		}
		if anyNaN(b.Open, b.High, b.Low, b.Close, b.Volume) {
			return false
		}
	}
	return true
}

func anyNaN(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
