package config

import "strings"

// Config 是 kabuscan 的主配置载体。
// 顶层四个键（refreshtoken / lookback_days / threshold / top_n）与
// 历史脚本的 config.yaml 保持兼容，其余按子系统分节。
type Config struct {
	RefreshToken string  `toml:"refreshtoken"`
	LookbackDays int     `toml:"lookback_days"`
	Threshold    float64 `toml:"threshold"`
	TopN         int     `toml:"top_n"`

	// ProfilesPath 为空时不加载命名筛选档位。
	ProfilesPath string `toml:"profiles_path"`

	App     AppConfig     `toml:"app"`
	JQuants JQuantsConfig `toml:"jquants"`
	Screen  ScreenConfig  `toml:"screen"`
	Chart   ChartConfig   `toml:"chart"`
	Output  OutputConfig  `toml:"output"`
	Watch   WatchConfig   `toml:"watch"`

	// sourcePath 由 Load 填充，watch 模式据此监听文件变更。
	sourcePath string
}

// SourcePath 返回配置文件的来源路径，未经 Load 构造的配置为空。
func (c *Config) SourcePath() string {
	if c == nil {
		return ""
	}
	return c.sourcePath
}

type AppConfig struct {
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// JQuantsConfig 描述数据源 API 的访问方式。
type JQuantsConfig struct {
	BaseURL        string `toml:"base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// ScreenConfig 控制筛选窗口与策略。Mode 支持两种互斥的回撤口径：
//   - current_peak：当前价 / 窗口内峰值，ratio <= threshold 保留；
//   - rolling_max：滚动最大回撤 |min(price/cummax - 1)| >= threshold 保留。
type ScreenConfig struct {
	DelayDays int    `toml:"delay_days"`
	MinPoints int    `toml:"min_points"`
	Mode      string `toml:"mode"`
	Profile   string `toml:"profile"`
}

type ChartConfig struct {
	MAFast        int  `toml:"ma_fast"`
	MASlow        int  `toml:"ma_slow"`
	SkipRender    bool `toml:"skip_render"`
	WidthPx       int  `toml:"width_px"`
	PriceHeightPx int  `toml:"price_height_px"`
	VolHeightPx   int  `toml:"volume_height_px"`
}

type OutputConfig struct {
	ResultPath string `toml:"result_path"`
	ChartDir   string `toml:"chart_dir"`
	HistoryDB  string `toml:"history_db"`
}

type WatchConfig struct {
	Interval     string `toml:"interval"`
	ReloadConfig bool   `toml:"reload_config"`
}

// 两种回撤口径的取值常量。
const (
	ModeCurrentPeak = "current_peak"
	ModeRollingMax  = "rolling_max"
)

// NormalizedMode 返回小写去空格后的模式名。
func (s ScreenConfig) NormalizedMode() string {
	return strings.ToLower(strings.TrimSpace(s.Mode))
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

// applyFieldDefaults 只在字段未被配置文件显式设置、且当前值需要补默认时生效。
// 显式写入的值永不被改写，非法值留给 validate 报错。
func applyFieldDefaults(keys keySet, fields ...fieldDefault) {
	for _, f := range fields {
		if f.apply == nil {
			continue
		}
		if f.key != "" && keys.isSet(f.key) {
			continue
		}
		if f.need != nil && !f.need() {
			continue
		}
		f.apply()
	}
}

func stringFieldDefault(key string, target *string, value string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = value },
	}
}
