package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func rowsOf(t *testing.T, raw string) []gjson.Result {
	t.Helper()
	parsed := gjson.Parse(raw)
	require.True(t, parsed.IsArray(), "测试数据必须是 JSON 数组")
	return parsed.Array()
}

func TestParseBarsCanonicalColumns(t *testing.T) {
	rows := rowsOf(t, `[
		{"Date":"2026-01-06","Open":101,"High":103,"Low":100,"Close":102,"AdjustmentClose":102,"Volume":1200},
		{"Date":"2026-01-05","Open":100,"High":102,"Low":99,"Close":101,"AdjustmentClose":101,"Volume":1000}
	]`)
	series := ParseBars(rows)
	require.Len(t, series, 2)
	// 识别到日期列后按日期升序
	assert.Equal(t, "2026-01-05", series[0].Date)
	assert.Equal(t, "2026-01-06", series[1].Date)
	assert.Equal(t, 101.0, series[0].Close)
	assert.Equal(t, 1200.0, series[1].Volume)
}

func TestParseBarsAliasColumns(t *testing.T) {
	t.Run("EndPrice与BaseDate", func(t *testing.T) {
		rows := rowsOf(t, `[
			{"BaseDate":"2026-01-05","EndPrice":1500.5,"TradingVolume":3000}
		]`)
		series := ParseBars(rows)
		require.Len(t, series, 1)
		assert.Equal(t, "2026-01-05", series[0].Date)
		assert.Equal(t, 1500.5, series[0].Close)
		assert.Equal(t, 3000.0, series[0].Volume)
		// 列缺失标记为 NaN，而不是 0
		assert.True(t, math.IsNaN(series[0].Open))
	})

	t.Run("小写列名", func(t *testing.T) {
		rows := rowsOf(t, `[
			{"date":"2026-01-05","open":10,"high":11,"low":9,"close":10.5,"volume":500}
		]`)
		series := ParseBars(rows)
		require.Len(t, series, 1)
		assert.Equal(t, 10.5, series[0].Close)
		assert.True(t, series.HasOHLCV())
	})

	t.Run("首行决定整个响应的列映射", func(t *testing.T) {
		rows := rowsOf(t, `[
			{"Date":"2026-01-05","Close":100},
			{"Date":"2026-01-06","EndPrice":200}
		]`)
		series := ParseBars(rows)
		require.Len(t, series, 2)
		// 第二行没有首行选定的 Close 列，按缺失处理
		assert.Equal(t, 100.0, series[0].Close)
		assert.True(t, math.IsNaN(series[1].Close))
	})
}

func TestParseBarsNonNumericCells(t *testing.T) {
	rows := rowsOf(t, `[
		{"Date":"2026-01-05","Close":"100.5","Volume":null},
		{"Date":"2026-01-06","Close":"n/a","Volume":200},
		{"Date":"2026-01-07","Close":101,"Volume":300}
	]`)
	series := ParseBars(rows)
	require.Len(t, series, 3)
	// 数值字符串可用，非数值字符串与 null 置 NaN
	assert.Equal(t, 100.5, series[0].Close)
	assert.True(t, math.IsNaN(series[0].Volume))
	assert.True(t, math.IsNaN(series[1].Close))
	assert.Equal(t, 101.0, series[2].Close)
}

func TestParseBarsEmpty(t *testing.T) {
	assert.Nil(t, ParseBars(nil))
	assert.Nil(t, ParseBars([]gjson.Result{}))
}

func TestAdjustedCloses(t *testing.T) {
	series := Series{
		{Date: "2026-01-05", Close: 100, AdjustmentClose: 50},
		{Date: "2026-01-06", Close: 101, AdjustmentClose: math.NaN()},
		{Date: "2026-01-07", Close: math.NaN(), AdjustmentClose: math.NaN()},
	}
	// 调整价优先，缺失回退收盘价，双双缺失剔除
	assert.Equal(t, []float64{50, 101}, series.AdjustedCloses())
}

func TestSeriesTail(t *testing.T) {
	series := Series{{Date: "a"}, {Date: "b"}, {Date: "c"}}
	assert.Len(t, series.Tail(2), 2)
	assert.Equal(t, "b", series.Tail(2)[0].Date)
	assert.Len(t, series.Tail(10), 3)
	assert.Nil(t, series.Tail(0))
}

func TestHasOHLCV(t *testing.T) {
	full := Series{{Date: "2026-01-05", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}}
	assert.True(t, full.HasOHLCV())

	noVolume := Series{{Date: "2026-01-05", Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: math.NaN()}}
	assert.False(t, noVolume.HasOHLCV())

	assert.False(t, Series{}.HasOHLCV())
}
