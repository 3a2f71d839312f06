package market

import (
	"math"

	"github.com/tidwall/gjson"
)

// 各逻辑列的候选名，按优先级排列，首个命中的列生效。
// J-Quants 不同接口版本对同一字段的命名并不一致。
var (
	dateAliases     = []string{"Date", "date", "BaseDate"}
	openAliases     = []string{"Open", "open", "OpenPrice"}
	highAliases     = []string{"High", "high", "HighPrice"}
	lowAliases      = []string{"Low", "low", "LowPrice"}
	closeAliases    = []string{"Close", "EndPrice", "ClosePrice", "close", "endPrice"}
	adjCloseAliases = []string{"AdjustmentClose", "AdjustedClose", "adjustmentClose"}
	volumeAliases   = []string{"Volume", "volume", "TradingVolume"}
)

// columnMap 记录一次响应中每个逻辑列实际使用的键名。
type columnMap struct {
	date, open, high, low, close, adjClose, volume string
}

// resolveColumns 在首行上做一次 first-match 解析，整个响应复用同一映射。
func resolveColumns(row gjson.Result) columnMap {
	return columnMap{
		date:     firstPresent(row, dateAliases),
		open:     firstPresent(row, openAliases),
		high:     firstPresent(row, highAliases),
		low:      firstPresent(row, lowAliases),
		close:    firstPresent(row, closeAliases),
		adjClose: firstPresent(row, adjCloseAliases),
		volume:   firstPresent(row, volumeAliases),
	}
}

func firstPresent(row gjson.Result, candidates []string) string {
	for _, name := range candidates {
		if row.Get(name).Exists() {
			return name
		}
	}
	return ""
}

// ParseBars 将原始行数组解析为 Series。识别到日期列时按日期升序排序，
// 否则保持接收顺序。非数值单元格置为 NaN，由下游过滤。
func ParseBars(rows []gjson.Result) Series {
	if len(rows) == 0 {
		return nil
	}
	cols := resolveColumns(rows[0])
	series := make(Series, 0, len(rows))
	for _, row := range rows {
		series = append(series, Bar{
			Date:            row.Get(cols.date).String(),
			Open:            numericCell(row, cols.open),
			High:            numericCell(row, cols.high),
			Low:             numericCell(row, cols.low),
			Close:           numericCell(row, cols.close),
			AdjustmentClose: numericCell(row, cols.adjClose),
			Volume:          numericCell(row, cols.volume),
		})
	}
	if cols.date != "" {
		series.SortByDate()
	}
	return series
}

// numericCell 提取数值单元格。缺列、null、非数值字符串一律返回 NaN。
func numericCell(row gjson.Result, key string) float64 {
	if key == "" {
		return math.NaN()
	}
	cell := row.Get(key)
	switch cell.Type {
	case gjson.Number:
		return cell.Float()
	case gjson.String:
		// gjson 对非数值字符串的 Float() 返回 0，需要先行甄别。
		if !isNumericString(cell.Str) {
			return math.NaN()
		}
		return cell.Float()
	default:
		return math.NaN()
	}
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	seenDigit := false
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
		case r == '-' || r == '+':
			if i != 0 {
				return false
			}
		case r == '.' || r == 'e' || r == 'E':
			// 容忍小数点与科学计数法，细粒度校验交给 strconv 语义的 gjson。
		default:
			return false
		}
	}
	return seenDigit
}
