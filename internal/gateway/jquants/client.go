package jquants

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	brcfg "kabuscan/internal/config"
	"kabuscan/internal/logger"
	"kabuscan/internal/market"
)

// Client wraps the subset of the J-Quants REST API used by kabuscan.
// Authorize 必须先于其它调用执行，成功后 idToken 作为 Bearer 头随请求发送。
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	idToken    string
}

// NewClient constructs a J-Quants client from configuration.
func NewClient(cfg brcfg.JQuantsConfig) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("jquants.base_url 不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("解析 jquants.base_url 失败: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Authorize 用 refreshtoken 换取 idToken。非 200 视为致命错误，
// 把服务端的 message 透传给调用方。每次运行只做一次交换，不做重试。
func (c *Client) Authorize(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return fmt.Errorf("refreshtoken 不能为空")
	}
	endpoint, err := c.resolveEndpoint("/v1/token/auth_refresh", url.Values{"refreshtoken": {refreshToken}})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("调用 token/auth_refresh 失败: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(gjson.GetBytes(body, "message").String())
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("token 交换被拒绝: %s", msg)
	}
	token := strings.TrimSpace(gjson.GetBytes(body, "idToken").String())
	if token == "" {
		return fmt.Errorf("token 交换响应缺少 idToken")
	}
	c.idToken = token
	logger.Infof("idToken 获取成功")
	return nil
}

// Listing 是 listed/info 返回的单个上市公司条目。
type Listing struct {
	Code               string `json:"code"`
	CompanyName        string `json:"company_name"`
	CompanyNameEnglish string `json:"company_name_english"`
	MarketCode         string `json:"market_code"`
	Sector33Code       string `json:"sector33_code"`
}

// DisplayName 返回用于展示的公司名，依次回退：日文名→英文名→空串。
func (l Listing) DisplayName() string {
	if name := strings.TrimSpace(l.CompanyName); name != "" {
		return name
	}
	return strings.TrimSpace(l.CompanyNameEnglish)
}

// ListedInfo 拉取全部上市公司列表。与单票行情不同，这里的失败直接向上传播：
// 没有股票池后续流程无法继续。
func (c *Client) ListedInfo(ctx context.Context) ([]Listing, error) {
	body, err := c.getJSON(ctx, "/v1/listed/info", nil)
	if err != nil {
		return nil, err
	}
	rows := gjson.GetBytes(body, "info").Array()
	if len(rows) == 0 {
		return nil, fmt.Errorf("listed/info 响应不含 info 数组")
	}
	listings := make([]Listing, 0, len(rows))
	for _, row := range rows {
		code := strings.TrimSpace(row.Get("Code").String())
		if code == "" {
			continue
		}
		listings = append(listings, Listing{
			Code:               code,
			CompanyName:        row.Get("CompanyName").String(),
			CompanyNameEnglish: row.Get("CompanyNameEnglish").String(),
			MarketCode:         row.Get("MarketCode").String(),
			Sector33Code:       row.Get("Sector33Code").String(),
		})
	}
	return listings, nil
}

// quoteRowKeys 是日线行情数组可能出现的容器键，按优先级取第一个存在的。
var quoteRowKeys = []string{"daily_quotes", "data", "quotes", "results"}

// DailyQuotes 拉取单票的日线 OHLCV。HTTP 失败或空载荷返回空序列而非错误——
// 对调用方而言这是“跳过”信号，不是致命故障。
func (c *Client) DailyQuotes(ctx context.Context, code, from, to string) market.Series {
	params := url.Values{"code": {code}}
	if from != "" {
		params.Set("from", from)
	}
	if to != "" {
		params.Set("to", to)
	}
	body, err := c.getJSON(ctx, "/v1/prices/daily_quotes", params)
	if err != nil {
		logger.Debugf("daily_quotes 获取失败 code=%s: %v", code, err)
		return nil
	}
	payload := gjson.ParseBytes(body)
	var rows []gjson.Result
	for _, key := range quoteRowKeys {
		if node := payload.Get(key); node.Exists() && node.IsArray() {
			rows = node.Array()
			break
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return market.ParseBars(rows)
}

// 财务诸表种类与期间的合法取值。
var (
	validStatements = map[string]bool{"income_statement": true, "balance_sheet": true, "cash_flow": true}
	validPeriods    = map[string]bool{"annual": true, "quarterly": true}
)

// Financials 拉取指定企业的财务数据原始行，非 2xx 向上传播。
// 行数组位于 data 或 results 之下。
func (c *Client) Financials(ctx context.Context, code, statement, period string) ([]gjson.Result, error) {
	statement = strings.ToLower(strings.TrimSpace(statement))
	period = strings.ToLower(strings.TrimSpace(period))
	if !validStatements[statement] {
		return nil, fmt.Errorf("未知的财务诸表种类: %q", statement)
	}
	if !validPeriods[period] {
		return nil, fmt.Errorf("未知的期间类型: %q", period)
	}
	params := url.Values{"code": {code}, "type": {period}}
	body, err := c.getJSON(ctx, "/v1/financials/"+statement, params)
	if err != nil {
		return nil, err
	}
	payload := gjson.ParseBytes(body)
	for _, key := range []string{"data", "results"} {
		if node := payload.Get(key); node.Exists() && node.IsArray() {
			return node.Array(), nil
		}
	}
	return nil, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if c == nil || c.httpClient == nil {
		return nil, fmt.Errorf("jquants client 未初始化")
	}
	endpoint, err := c.resolveEndpoint(path, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("构造请求失败: %w", err)
	}
	if c.idToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.idToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("调用 jquants 失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if len(data) == 0 {
			return nil, fmt.Errorf("jquants 返回错误: %s", resp.Status)
		}
		return nil, fmt.Errorf("jquants 返回错误(%s): %s", resp.Status, strings.TrimSpace(string(data)))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("读取响应失败: %w", err)
	}
	return body, nil
}

func (c *Client) resolveEndpoint(path string, params url.Values) (*url.URL, error) {
	if c.baseURL == nil {
		return nil, fmt.Errorf("jquants API 地址未设置")
	}
	trimmed := strings.TrimSpace(path)
	if !strings.HasPrefix(trimmed, "/") {
		trimmed = "/" + trimmed
	}
	base := *c.baseURL
	base.Path = strings.TrimSuffix(base.Path, "/") + trimmed
	base.RawPath = ""
	base.Fragment = ""
	if params != nil {
		base.RawQuery = params.Encode()
	} else {
		base.RawQuery = ""
	}
	return &base, nil
}
