package screenhttp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"kabuscan/internal/store/gormstore"
)

type stubFinancials struct {
	rows []gjson.Result
	err  error
}

func (s *stubFinancials) Financials(_ context.Context, code, statement, period string) ([]gjson.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.rows, nil
}

func newTestRouter(t *testing.T, fin FinancialsSource) (*gin.Engine, *gormstore.GormStore) {
	t.Helper()
	store, err := gormstore.NewGormStore(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	gin.SetMode(gin.TestMode)
	engine := gin.New()
	NewRouter(store, fin).Register(engine.Group("/api"))
	return engine, store
}

func seedRun(t *testing.T, store *gormstore.GormStore, startedAt time.Time) gormstore.RunRecord {
	t.Helper()
	run := gormstore.RunRecord{
		ID:        uuid.NewString(),
		Mode:      "current_peak",
		Threshold: 0.5,
		TopN:      20,
		Matched:   1,
		StartedAt: startedAt,
	}
	entries := []gormstore.EntryRecord{{Rank: 1, Code: "7203", Name: "トヨタ自動車", Ratio: "0.300000"}}
	require.NoError(t, store.SaveRun(run, entries))
	return run
}

func doJSON(t *testing.T, engine *gin.Engine, path string) (*httptest.ResponseRecorder, gjson.Result) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	engine.ServeHTTP(w, req)
	return w, gjson.Parse(w.Body.String())
}

func TestLatestRunEndpoint(t *testing.T) {
	engine, store := newTestRouter(t, nil)

	t.Run("无记录时404", func(t *testing.T) {
		w, _ := doJSON(t, engine, "/api/screen/latest")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("返回最近一次及条目", func(t *testing.T) {
		run := seedRun(t, store, time.Now().UTC())
		w, body := doJSON(t, engine, "/api/screen/latest")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, run.ID, body.Get("run.id").String())
		require.Equal(t, int64(1), body.Get("entries.#").Int())
		assert.Equal(t, "7203", body.Get("entries.0.code").String())
		assert.Equal(t, "0.300000", body.Get("entries.0.ratio").String())
	})
}

func TestListRunsEndpoint(t *testing.T) {
	engine, store := newTestRouter(t, nil)
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		seedRun(t, store, base.Add(time.Duration(i)*time.Minute))
	}

	w, body := doJSON(t, engine, "/api/screen/runs?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(2), body.Get("runs.#").Int())
}

func TestRunByIDEndpoint(t *testing.T) {
	engine, store := newTestRouter(t, nil)
	run := seedRun(t, store, time.Now().UTC())

	t.Run("命中", func(t *testing.T) {
		w, body := doJSON(t, engine, "/api/screen/runs/"+run.ID)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, run.ID, body.Get("run.id").String())
	})

	t.Run("未知ID返回404", func(t *testing.T) {
		w, _ := doJSON(t, engine, "/api/screen/runs/"+uuid.NewString())
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestFinancialsEndpoint(t *testing.T) {
	rows := gjson.Parse(`[{"NetSales":100},{"NetSales":120}]`).Array()
	engine, _ := newTestRouter(t, &stubFinancials{rows: rows})

	t.Run("透传原始行", func(t *testing.T) {
		w, body := doJSON(t, engine, "/api/financials/income_statement?code=7203")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(2), body.Get("data.#").Int())
		assert.Equal(t, int64(100), body.Get("data.0.NetSales").Int())
	})

	t.Run("缺少code返回400", func(t *testing.T) {
		w, _ := doJSON(t, engine, "/api/financials/income_statement")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("上游失败返回502", func(t *testing.T) {
		failing, _ := newTestRouter(t, &stubFinancials{err: fmt.Errorf("上游超时")})
		w, _ := doJSON(t, failing, "/api/financials/income_statement?code=7203")
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("未配置财务源时不注册路由", func(t *testing.T) {
		bare, _ := newTestRouter(t, nil)
		w, _ := doJSON(t, bare, "/api/financials/income_statement?code=7203")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
