package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。refreshtoken 缺失必须在任何网络调用之前失败。
func validate(c *Config) error {
	if strings.TrimSpace(c.RefreshToken) == "" {
		return fmt.Errorf("refreshtoken is missing or invalid")
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be > 0")
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("lookback_days must be > 0")
	}
	if c.TopN <= 0 {
		return fmt.Errorf("top_n must be > 0")
	}
	if err := c.Screen.validate(c.Threshold); err != nil {
		return err
	}
	if err := c.Chart.validate(); err != nil {
		return err
	}
	if err := c.JQuants.validate(); err != nil {
		return err
	}
	return nil
}

func (s ScreenConfig) validate(threshold float64) error {
	switch s.NormalizedMode() {
	case ModeCurrentPeak:
		// 当前价/峰值比落在 (0,1]，阈值超过 1 等于不过滤。
		if threshold > 1 {
			return fmt.Errorf("threshold must be <= 1 when screen.mode=%s", ModeCurrentPeak)
		}
	case ModeRollingMax:
	default:
		return fmt.Errorf("screen.mode must be %q or %q, got %q", ModeCurrentPeak, ModeRollingMax, s.Mode)
	}
	if s.MinPoints <= 0 {
		return fmt.Errorf("screen.min_points must be > 0")
	}
	if s.DelayDays < 0 {
		return fmt.Errorf("screen.delay_days must be >= 0")
	}
	return nil
}

func (ch ChartConfig) validate() error {
	if ch.MAFast >= ch.MASlow {
		return fmt.Errorf("chart.ma_fast (%d) must be shorter than chart.ma_slow (%d)", ch.MAFast, ch.MASlow)
	}
	return nil
}

func (j JQuantsConfig) validate() error {
	if strings.TrimSpace(j.BaseURL) == "" {
		return fmt.Errorf("jquants.base_url cannot be empty")
	}
	if j.TimeoutSeconds <= 0 {
		return fmt.Errorf("jquants.timeout_seconds must be > 0")
	}
	return nil
}
