package visual

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"kabuscan/internal/analysis/indicator"
	brcfg "kabuscan/internal/config"
	"kabuscan/internal/logger"
	"kabuscan/internal/market"
)

const (
	colorBackground    = "#0b1220"
	colorTextPrimary   = "#e5e9f0"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorMAFast        = "#3b82f6"
	colorMASlow        = "#fbbf24"
)

// RenderInput 描述单票图表的渲染请求。
type RenderInput struct {
	Context context.Context
	Code    string
	Name    string
	Series  market.Series
	OutDir  string
	Chart   brcfg.ChartConfig
}

// Augmented 是渲染流程返回的“带指标序列”：无论 PNG 是否落盘成功都会返回。
type Augmented struct {
	Series market.Series
	MA     indicator.Report
}

// Empty 判断上游数据校验是否失败。
func (a Augmented) Empty() bool {
	return len(a.Series) == 0
}

// Render 计算均线并渲染价格+均线（主轴）/成交量（副图）的 PNG。
// 渲染或写盘失败只告警不报错——图是尽力而为的产物；上游缺列
// （日期/开/高/低/收/量任一）时返回空序列。
func Render(input RenderInput) Augmented {
	if !input.Series.HasOHLCV() {
		logger.Warnf("图表跳过 %s：序列为空或缺少必需列", input.Code)
		return Augmented{}
	}
	rep, err := indicator.ComputeMA(input.Series, indicator.Settings{Fast: input.Chart.MAFast, Slow: input.Chart.MASlow})
	if err != nil {
		logger.Warnf("计算均线失败 %s: %v", input.Code, err)
		return Augmented{Series: input.Series}
	}
	out := Augmented{Series: input.Series, MA: rep}
	if input.Chart.SkipRender {
		return out
	}
	if err := renderToFile(input, rep); err != nil {
		logger.Warnf("图表渲染失败 %s（数据照常返回）: %v", input.Code, err)
	}
	return out
}

func renderToFile(input RenderInput, rep indicator.Report) error {
	ctx := input.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if err := EnsureHeadlessAvailable(ctx); err != nil {
		return err
	}
	html, err := buildChartHTML(input, rep)
	if err != nil {
		return err
	}
	width := input.Chart.WidthPx
	if width <= 0 {
		width = 1280
	}
	height := input.Chart.PriceHeightPx + input.Chart.VolHeightPx
	if height < 480 {
		height = 480
	}
	png, err := renderHTMLToPNG(ctx, html, width, height)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(input.OutDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(input.OutDir, ChartFilename(input.Code, input.Name))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return err
	}
	logger.Infof("图表已保存: %s", path)
	return nil
}

// ChartFilename 生成 {code}_{name}.png，清理文件系统不允许的字符。
func ChartFilename(code, name string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	return fmt.Sprintf("%s_%s.png", code, sanitized)
}

var (
	headlessOnce sync.Once
	headlessErr  error
)

// EnsureHeadlessAvailable 探测 headless 浏览器是否可用，只探测一次。
func EnsureHeadlessAvailable(ctx context.Context) error {
	headlessOnce.Do(func() {
		targetCtx := ctx
		if targetCtx == nil {
			targetCtx = context.Background()
		}
		parent, cancel := chromedp.NewContext(targetCtx)
		if cancel != nil {
			defer cancel()
		}
		headlessErr = chromedp.Run(parent)
	})
	return headlessErr
}

func buildChartHTML(input RenderInput, rep indicator.Report) ([]byte, error) {
	candles := input.Series
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)

	minPrice, maxPrice := priceBounds(candles)
	padding := (maxPrice - minPrice) * 0.05
	if padding <= 0 {
		padding = math.Max(1, math.Abs(maxPrice)*0.01)
	}

	width := input.Chart.WidthPx
	priceH := input.Chart.PriceHeightPx
	volH := input.Chart.VolHeightPx

	init := opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", width),
		Height:          fmt.Sprintf("%dpx", priceH),
		BackgroundColor: colorBackground,
	}
	kline := charts.NewKLine()
	kline.SetGlobalOptions(
		charts.WithInitializationOpts(init),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTitleOpts(opts.Title{
			Title:         fmt.Sprintf("%s %s", input.Code, input.Name),
			Subtitle:      fmt.Sprintf("MA%d %.2f | MA%d %.2f", rep.Fast.Period, rep.Fast.Latest, rep.Slow.Period, rep.Slow.Latest),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			Min:       round(minPrice-padding, 2),
			Max:       round(maxPrice+padding, 2),
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	kline.SetSeriesOptions(
		charts.WithItemStyleOpts(opts.ItemStyle{
			Color:        colorBull,
			Color0:       colorBear,
			BorderColor:  colorBull,
			BorderColor0: colorBear,
		}),
	)

	xAxis := candles.Dates()
	klineData := make([]opts.KlineData, 0, len(candles))
	for _, b := range candles {
		klineData = append(klineData, opts.KlineData{Value: [4]float64{b.Open, b.Close, b.Low, b.High}})
	}
	kline.SetXAxis(xAxis)
	kline.AddSeries("Price", klineData)

	maLine := charts.NewLine()
	maLine.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	maLine.SetXAxis(xAxis)
	maLine.AddSeries(fmt.Sprintf("MA%d", rep.Fast.Period), toLineData(rep.Fast.Series, len(candles)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorMAFast, Width: 2}))
	maLine.AddSeries(fmt.Sprintf("MA%d", rep.Slow.Period), toLineData(rep.Slow.Series, len(candles)),
		charts.WithLineStyleOpts(opts.LineStyle{Color: colorMASlow, Width: 2}))
	kline.Overlap(maLine)

	volume := buildVolumeChart(xAxis, candles, width, volH)
	page.AddCharts(kline, volume)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func buildVolumeChart(xAxis []string, candles market.Series, width, height int) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:           types.ThemeWesteros,
			Width:           fmt.Sprintf("%dpx", width),
			Height:          fmt.Sprintf("%dpx", height),
			BackgroundColor: colorBackground,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Volume", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	vols := make([]opts.BarData, len(candles))
	for i, b := range candles {
		color := colorBear
		if b.Close >= b.Open {
			color = colorBull
		}
		vols[i] = opts.BarData{
			Value: b.Volume,
			ItemStyle: &opts.ItemStyle{
				Color:   color,
				Opacity: opts.Float(0.6),
			},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("Volume", vols)
	return bar
}

func toLineData(series []float64, length int) []opts.LineData {
	line := make([]opts.LineData, length)
	offset := length - len(series)
	if offset < 0 {
		offset = 0
	}
	for i := 0; i < offset; i++ {
		line[i] = opts.LineData{Value: nil}
	}
	for i := 0; i < len(series) && offset+i < length; i++ {
		val := series[i]
		if math.IsNaN(val) {
			line[offset+i] = opts.LineData{Value: nil}
		} else {
			line[offset+i] = opts.LineData{Value: round(val, 2)}
		}
	}
	return line
}

func round(val float64, decimals int) float64 {
	if decimals <= 0 {
		return math.Round(val)
	}
	scale := math.Pow10(decimals)
	return math.Round(val*scale) / scale
}

func priceBounds(candles market.Series) (minVal, maxVal float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	minVal = candles[0].Low
	maxVal = candles[0].High
	for _, b := range candles {
		if b.Low < minVal {
			minVal = b.Low
		}
		if b.High > maxVal {
			maxVal = b.High
		}
	}
	return minVal, maxVal
}

func renderHTMLToPNG(ctx context.Context, html []byte, width, height int) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	parent, cancel := chromedp.NewContext(ctx)
	defer cancel()

	timeoutCtx, cancelTimeout := context.WithTimeout(parent, 20*time.Second)
	defer cancelTimeout()

	dataURI := "data:text/html;base64," + base64.StdEncoding.EncodeToString(html)
	var screenshot []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(dataURI),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1500 * time.Millisecond),
		chromedp.FullScreenshot(&screenshot, 0),
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return nil, err
	}
	return screenshot, nil
}
