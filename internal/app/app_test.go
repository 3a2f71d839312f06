package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	brcfg "kabuscan/internal/config"
	"kabuscan/internal/store/gormstore"
)

// fakeJQuants 模拟数据源：3 只股票，现价/峰值分别为 0.9 / 0.4 / 0.3。
func fakeJQuants(t *testing.T) *httptest.Server {
	t.Helper()
	lastByCode := map[string]float64{
		"1111": 90, // ratio 0.9，超出阈值
		"2222": 40, // ratio 0.4
		"3333": 30, // ratio 0.3
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/token/auth_refresh", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("refreshtoken") != "valid-token" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, `{"message":"The incoming token is invalid"}`)
			return
		}
		fmt.Fprint(w, `{"idToken":"id-xyz"}`)
	})
	mux.HandleFunc("/v1/listed/info", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"info":[
			{"Code":"1111","CompanyName":"甲社"},
			{"Code":"2222","CompanyName":"乙社"},
			{"Code":"3333","CompanyName":"丙社"}
		]}`)
	})
	mux.HandleFunc("/v1/prices/daily_quotes", func(w http.ResponseWriter, r *http.Request) {
		last, ok := lastByCode[r.URL.Query().Get("code")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		rows := make([]string, 0, 40)
		for i := 0; i < 39; i++ {
			rows = append(rows, fmt.Sprintf(`{"Date":"2025-10-%02d","Close":100,"AdjustmentClose":100,"Volume":1000}`, i%28+1))
		}
		rows = append(rows, fmt.Sprintf(`{"Date":"2025-11-30","Close":%g,"AdjustmentClose":%g,"Volume":1000}`, last, last))
		fmt.Fprintf(w, `{"daily_quotes":[%s]}`, strings.Join(rows, ","))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, baseURL string) *brcfg.Config {
	t.Helper()
	dir := t.TempDir()
	return &brcfg.Config{
		RefreshToken: "valid-token",
		LookbackDays: 180,
		Threshold:    0.5,
		TopN:         2,
		App:          brcfg.AppConfig{LogLevel: "warn"},
		JQuants:      brcfg.JQuantsConfig{BaseURL: baseURL, TimeoutSeconds: 5},
		Screen:       brcfg.ScreenConfig{DelayDays: 0, MinPoints: 30, Mode: brcfg.ModeCurrentPeak},
		Output: brcfg.OutputConfig{
			ResultPath: filepath.Join(dir, "search_result.txt"),
			ChartDir:   filepath.Join(dir, "charts"),
			HistoryDB:  filepath.Join(dir, "history.db"),
		},
	}
}

func TestScreenEndToEnd(t *testing.T) {
	srv := fakeJQuants(t)
	cfg := testConfig(t, srv.URL)

	app, err := NewAppBuilder(cfg, ModeScreen).Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, app.Run(context.Background()))

	// 三只票里两只过阈值，升序（跌得最深在前）写入结果文件
	raw, err := os.ReadFile(cfg.Output.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, "3333,丙社\n2222,乙社", string(raw))

	// 运行历史落库
	history, err := gormstore.NewGormStore(cfg.Output.HistoryDB)
	require.NoError(t, err)
	defer history.Close()
	run, entries, err := history.LatestRun()
	require.NoError(t, err)
	assert.Equal(t, brcfg.ModeCurrentPeak, run.Mode)
	assert.Equal(t, 3, run.Universe)
	assert.Equal(t, 2, run.Matched)
	require.Len(t, entries, 2)
	assert.Equal(t, "3333", entries[0].Code)
	assert.Equal(t, "0.300000", entries[0].Ratio)
	assert.Equal(t, "0.400000", entries[1].Ratio)
}

func TestScreenEndToEndSkipsFailingTicker(t *testing.T) {
	// 3333 的行情接口返回 404：该票被跳过，批次照常完成
	srv := fakeJQuants(t)
	cfg := testConfig(t, srv.URL)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/prices/daily_quotes", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("code") == "3333" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		proxyTo(t, srv.URL, w, r)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		proxyTo(t, srv.URL, w, r)
	})
	front := httptest.NewServer(mux)
	t.Cleanup(front.Close)
	cfg.JQuants.BaseURL = front.URL

	app, err := NewAppBuilder(cfg, ModeScreen).Build(context.Background())
	require.NoError(t, err)
	require.NoError(t, app.Run(context.Background()))

	raw, err := os.ReadFile(cfg.Output.ResultPath)
	require.NoError(t, err)
	assert.Equal(t, "2222,乙社", string(raw))
}

func proxyTo(t *testing.T, base string, w http.ResponseWriter, r *http.Request) {
	t.Helper()
	req, err := http.NewRequest(r.Method, base+r.URL.RequestURI(), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func TestScreenAuthFailureIsFatal(t *testing.T) {
	srv := fakeJQuants(t)
	cfg := testConfig(t, srv.URL)
	cfg.RefreshToken = "wrong"

	app, err := NewAppBuilder(cfg, ModeScreen).Build(context.Background())
	require.NoError(t, err)
	err = app.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "The incoming token is invalid")
	// 结果文件不应生成
	_, statErr := os.Stat(cfg.Output.ResultPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestWatchModeCleanShutdown(t *testing.T) {
	srv := fakeJQuants(t)
	cfg := testConfig(t, srv.URL)
	cfg.Watch.Interval = "1h"

	app, err := NewAppBuilder(cfg, ModeWatch).Build(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	// 首轮立即执行，等结果文件出现后取消
	require.Eventually(t, func() bool {
		_, statErr := os.Stat(cfg.Output.ResultPath)
		return statErr == nil
	}, 5*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		// ctx 取消（含被 errgroup 包装的取消）是正常退出，不是错误
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch 模式未随 ctx 取消退出")
	}
}

func TestRunWatchTreatsWrappedCancelAsClean(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := &App{cfg: &brcfg.Config{Watch: brcfg.WatchConfig{Interval: "1h"}}}
	assert.NoError(t, a.runWatch(ctx))
}

func TestRunUnknownMode(t *testing.T) {
	srv := fakeJQuants(t)
	cfg := testConfig(t, srv.URL)
	app, err := NewAppBuilder(cfg, "bogus").Build(context.Background())
	require.NoError(t, err)
	assert.Error(t, app.Run(context.Background()))
}

func TestNormalizeMode(t *testing.T) {
	assert.Equal(t, ModeScreen, normalizeMode(""))
	assert.Equal(t, ModeScreen, normalizeMode(" Screen "))
	assert.Equal(t, ModeServe, normalizeMode("SERVE"))
}
