package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quantsim/backtest"
	"quantsim/database"
	"quantsim/logger"
	"quantsim/service"
)

// BacktestRequest 回测请求，未填写的字段使用配置文件中的默认值
type BacktestRequest struct {
	Symbol         string   `json:"symbol"`
	Interval       string   `json:"interval"`
	InitialBalance *float64 `json:"initial_balance"`
	RiskPerTrade   *float64 `json:"risk_per_trade"`
	StopLossPct    *float64 `json:"stop_loss_pct"`
	TakeProfitPct  *float64 `json:"take_profit_pct"`
	StartDate      string   `json:"start_date"` // YYYY-MM-DD，UTC
	EndDate        string   `json:"end_date"`
}

// BacktestResponse 回测响应
type BacktestResponse struct {
	Success    bool                     `json:"success"`
	Message    string                   `json:"message"`
	Result     *backtest.BacktestResult `json:"result,omitempty"`
	ReportPath string                   `json:"report_path,omitempty"`
	Cached     bool                     `json:"cached"`
}

// runConfig 合并请求参数和默认值
func (s *Server) runConfig(req BacktestRequest) (backtest.RunConfig, error) {
	b := s.backtestDefaults()
	if req.Symbol != "" {
		b.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	}
	if req.Interval != "" {
		b.Interval = req.Interval
	}
	if req.InitialBalance != nil {
		b.InitialBalance = *req.InitialBalance
	}
	if req.RiskPerTrade != nil {
		b.RiskPerTrade = *req.RiskPerTrade
	}
	if req.StopLossPct != nil {
		b.StopLossPct = *req.StopLossPct
	}
	if req.TakeProfitPct != nil {
		b.TakeProfitPct = *req.TakeProfitPct
	}
	if req.StartDate != "" {
		b.StartDate = req.StartDate
	}
	if req.EndDate != "" {
		b.EndDate = req.EndDate
	}
	return service.RunConfigFromDefaults(b)
}

// runBacktest 运行回测
func (s *Server) runBacktest(c *gin.Context) {
	var req BacktestRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
	}

	cfg, err := s.runConfig(req)
	if err != nil {
		respondError(c, err)
		return
	}

	logger.Info("📊 开始回测: 交易对=%s, 周期=%s, 初始资金=%.2f", cfg.Symbol, cfg.Interval, cfg.InitialBalance)
	started := time.Now()
	outcome, err := s.svc.Run(c.Request.Context(), cfg, s.hub.Observer())
	s.collector.RecordRun(err == nil, time.Since(started))
	if err != nil {
		respondError(c, err)
		return
	}

	message := T(c, "api_run_completed")
	if outcome.Cached {
		message = T(c, "api_run_cached")
	}
	c.JSON(http.StatusOK, BacktestResponse{
		Success:    true,
		Message:    message,
		Result:     outcome.Result,
		ReportPath: outcome.ReportPath,
		Cached:     outcome.Cached,
	})
}

// listSymbols 常用交易对
func (s *Server) listSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"symbols": backtest.SupportedSymbols,
	})
}

// listIntervals 支持的K线周期
func (s *Server) listIntervals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"intervals": backtest.SupportedIntervals,
	})
}

// listRuns 历史回测列表（不含完整结果）
func (s *Server) listRuns(c *gin.Context) {
	db := s.requireDB(c)
	if db == nil {
		return
	}
	limit, err := queryInt(c, "limit", database.DefaultLimit)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	runs, total, err := db.ListRuns(c.Request.Context(), &database.RunFilter{
		Symbol: strings.ToUpper(c.Query("symbol")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"runs":    runs,
		"total":   total,
	})
}

// getRun 单次回测的完整结果
func (s *Server) getRun(c *gin.Context) {
	db := s.requireDB(c)
	if db == nil {
		return
	}
	run, err := db.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	result, err := run.Result()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"run":     run,
		"result":  result,
	})
}

// getCacheStats 获取K线缓存统计
func (s *Server) getCacheStats(c *gin.Context) {
	stats, err := s.components.CandleCache.Stats()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"stats":   stats,
	})
}

// listCache 列出所有K线缓存
func (s *Server) listCache(c *gin.Context) {
	caches, err := s.components.CandleCache.List()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"caches":  caches,
	})
}

// deleteCache 删除指定缓存
func (s *Server) deleteCache(c *gin.Context) {
	if err := s.components.CandleCache.Delete(c.Param("key")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": T(c, "api_cache_deleted"),
	})
}

// clearCache 清理所有缓存
func (s *Server) clearCache(c *gin.Context) {
	if err := s.components.CandleCache.Clear(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": T(c, "api_cache_cleared"),
	})
}

// cleanCache 清理 days 天前的缓存
func (s *Server) cleanCache(c *gin.Context) {
	days, err := queryInt(c, "days", 30)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	deleted, err := s.components.CandleCache.CleanOld(days)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"deleted": deleted,
	})
}
