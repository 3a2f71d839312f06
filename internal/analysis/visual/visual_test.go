package visual

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kabuscan/internal/analysis/indicator"
	brcfg "kabuscan/internal/config"
	"kabuscan/internal/market"
)

func fullSeries(n int) market.Series {
	series := make(market.Series, 0, n)
	for i := 0; i < n; i++ {
		p := 100 + float64(i)
		series = append(series, market.Bar{
			Date: "2026-01-01", Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 1000,
		})
	}
	return series
}

func TestRenderMissingColumns(t *testing.T) {
	t.Run("缺少成交量", func(t *testing.T) {
		series := fullSeries(80)
		series[3].Volume = math.NaN()
		out := Render(RenderInput{Code: "7203", Series: series, Chart: brcfg.ChartConfig{SkipRender: true}})
		// 列不全时返回空结果，不 panic 也不落盘
		assert.True(t, out.Empty())
	})

	t.Run("空序列", func(t *testing.T) {
		out := Render(RenderInput{Code: "7203", Chart: brcfg.ChartConfig{SkipRender: true}})
		assert.True(t, out.Empty())
	})

	t.Run("日期缺失", func(t *testing.T) {
		series := fullSeries(80)
		series[0].Date = ""
		out := Render(RenderInput{Code: "7203", Series: series, Chart: brcfg.ChartConfig{SkipRender: true}})
		assert.True(t, out.Empty())
	})
}

func TestRenderSkipRender(t *testing.T) {
	series := fullSeries(80)
	out := Render(RenderInput{
		Code:   "7203",
		Name:   "トヨタ自動車",
		Series: series,
		Chart:  brcfg.ChartConfig{MAFast: 20, MASlow: 60, SkipRender: true},
	})
	require.False(t, out.Empty())
	// 不渲染 PNG 也要返回均线
	assert.Equal(t, 20, out.MA.Fast.Period)
	assert.Equal(t, 60, out.MA.Slow.Period)
	assert.NotEmpty(t, out.MA.Fast.Series)
	assert.Len(t, out.Series, 80)
}

func TestChartFilename(t *testing.T) {
	assert.Equal(t, "7203_トヨタ自動車.png", ChartFilename("7203", "トヨタ自動車"))
	assert.Equal(t, "9984_Soft_Bank_Group.png", ChartFilename("9984", "Soft Bank/Group"))
	assert.Equal(t, "1111_a_b_c.png", ChartFilename("1111", `a:b*c`))
	assert.Equal(t, "2222_.png", ChartFilename("2222", "  "))
}

func TestBuildChartHTML(t *testing.T) {
	// 不依赖浏览器，只验证 HTML 生成不报错且含两个图（价格+成交量）
	series := fullSeries(80)
	input := RenderInput{
		Code:   "7203",
		Name:   "トヨタ自動車",
		Series: series,
		Chart:  brcfg.ChartConfig{MAFast: 20, MASlow: 60, WidthPx: 1280, PriceHeightPx: 520, VolHeightPx: 220},
	}
	rep := mustMA(t, input)
	html, err := buildChartHTML(input, rep)
	require.NoError(t, err)
	assert.Contains(t, string(html), "MA20")
	assert.Contains(t, string(html), "Volume")
}

func mustMA(t *testing.T, input RenderInput) indicator.Report {
	t.Helper()
	rep, err := indicator.ComputeMA(input.Series, indicator.Settings{Fast: input.Chart.MAFast, Slow: input.Chart.MASlow})
	require.NoError(t, err)
	return rep
}

func TestToLineData(t *testing.T) {
	line := toLineData([]float64{1, 2, 3}, 5)
	require.Len(t, line, 5)
	// 热身段前补 nil，保证与 K 线横轴对齐
	assert.Nil(t, line[0].Value)
	assert.Nil(t, line[1].Value)
	assert.Equal(t, 1.0, line[2].Value)
	assert.Equal(t, 3.0, line[4].Value)
}
