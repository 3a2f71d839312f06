package screenhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"kabuscan/internal/store/gormstore"
)

// FinancialsSource 供 Router 代理财务数据查询，由 jquants.Client 实现。
type FinancialsSource interface {
	Financials(ctx context.Context, code, statement, period string) ([]gjson.Result, error)
}

// Router 暴露筛选历史与财务数据的查询接口。
type Router struct {
	History    *gormstore.GormStore
	Financials FinancialsSource
}

// NewRouter 构造 API router。
func NewRouter(history *gormstore.GormStore, financials FinancialsSource) *Router {
	return &Router{History: history, Financials: financials}
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/screen/latest", r.handleLatestRun)
	group.GET("/screen/runs", r.handleListRuns)
	group.GET("/screen/runs/:id", r.handleRunByID)
	if r.Financials != nil {
		group.GET("/financials/:statement", r.handleFinancials)
	}
}

func (r *Router) handleLatestRun(c *gin.Context) {
	run, entries, err := r.History.LatestRun()
	if errors.Is(err, gormstore.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no screen runs recorded"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "entries": entries})
}

func (r *Router) handleListRuns(c *gin.Context) {
	limit := 20
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := r.History.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (r *Router) handleRunByID(c *gin.Context) {
	run, entries, err := r.History.RunByID(c.Param("id"))
	if errors.Is(err, gormstore.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "screen run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "entries": entries})
}

func (r *Router) handleFinancials(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	period := strings.TrimSpace(c.DefaultQuery("type", "annual"))
	rows, err := r.Financials.Financials(c.Request.Context(), code, c.Param("statement"), period)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	raws := make([]json.RawMessage, 0, len(rows))
	for _, row := range rows {
		raws = append(raws, json.RawMessage(row.Raw))
	}
	c.JSON(http.StatusOK, gin.H{"data": raws})
}
