package config

// 默认值常量
const (
	defaultLookbackDays  = 180
	defaultThreshold     = 0.5
	defaultTopN          = 20
	defaultAppLogLevel   = "info"
	defaultAppHTTPAddr   = ":8780"
	defaultJQuantsBase   = "https://api.jquants.com"
	defaultJQuantsTO     = 30
	defaultScreenDelay   = 84 // J-Quants Free 计划行情延迟 12 周
	defaultScreenMinPts  = 30
	defaultScreenMode    = ModeCurrentPeak
	defaultChartMAFast   = 20
	defaultChartMASlow   = 60
	defaultChartWidth    = 1280
	defaultChartPriceH   = 520
	defaultChartVolH     = 220
	defaultOutputResult  = "search_result.txt"
	defaultOutputCharts  = "charts"
	defaultOutputHistory = "data/kabuscan.db"
	defaultWatchInterval = "1d"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "lookback_days",
			need:  func() bool { return c.LookbackDays <= 0 },
			apply: func() { c.LookbackDays = defaultLookbackDays },
		},
		fieldDefault{
			key:   "threshold",
			need:  func() bool { return c.Threshold <= 0 },
			apply: func() { c.Threshold = defaultThreshold },
		},
		fieldDefault{
			key:   "top_n",
			need:  func() bool { return c.TopN <= 0 },
			apply: func() { c.TopN = defaultTopN },
		},
	)
	c.App.applyDefaults(keys)
	c.JQuants.applyDefaults(keys)
	c.Screen.applyDefaults(keys)
	c.Chart.applyDefaults(keys)
	c.Output.applyDefaults(keys)
	c.Watch.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (j *JQuantsConfig) applyDefaults(keys keySet) {
	if j == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("jquants.base_url", &j.BaseURL, defaultJQuantsBase),
		fieldDefault{
			key:   "jquants.timeout_seconds",
			need:  func() bool { return j.TimeoutSeconds <= 0 },
			apply: func() { j.TimeoutSeconds = defaultJQuantsTO },
		},
	)
}

func (s *ScreenConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("screen.mode", &s.Mode, defaultScreenMode),
		fieldDefault{
			key:   "screen.delay_days",
			need:  func() bool { return s.DelayDays < 0 },
			apply: func() { s.DelayDays = defaultScreenDelay },
		},
		fieldDefault{
			key:   "screen.min_points",
			need:  func() bool { return s.MinPoints <= 0 },
			apply: func() { s.MinPoints = defaultScreenMinPts },
		},
	)
	if !keys.isSet("screen.delay_days") && s.DelayDays == 0 {
		s.DelayDays = defaultScreenDelay
	}
}

func (ch *ChartConfig) applyDefaults(keys keySet) {
	if ch == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "chart.ma_fast",
			need:  func() bool { return ch.MAFast <= 0 },
			apply: func() { ch.MAFast = defaultChartMAFast },
		},
		fieldDefault{
			key:   "chart.ma_slow",
			need:  func() bool { return ch.MASlow <= 0 },
			apply: func() { ch.MASlow = defaultChartMASlow },
		},
		fieldDefault{
			key:   "chart.width_px",
			need:  func() bool { return ch.WidthPx <= 0 },
			apply: func() { ch.WidthPx = defaultChartWidth },
		},
		fieldDefault{
			key:   "chart.price_height_px",
			need:  func() bool { return ch.PriceHeightPx <= 0 },
			apply: func() { ch.PriceHeightPx = defaultChartPriceH },
		},
		fieldDefault{
			key:   "chart.volume_height_px",
			need:  func() bool { return ch.VolHeightPx <= 0 },
			apply: func() { ch.VolHeightPx = defaultChartVolH },
		},
	)
}

func (o *OutputConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("output.result_path", &o.ResultPath, defaultOutputResult),
		stringFieldDefault("output.chart_dir", &o.ChartDir, defaultOutputCharts),
		stringFieldDefault("output.history_db", &o.HistoryDB, defaultOutputHistory),
	)
}

func (w *WatchConfig) applyDefaults(keys keySet) {
	if w == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("watch.interval", &w.Interval, defaultWatchInterval),
	)
}
