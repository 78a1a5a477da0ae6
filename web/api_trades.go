package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quantsim/database"
	"quantsim/ledger"
	"quantsim/storage"
	"quantsim/utils"
)

// tradeFilter 从查询参数构建成交过滤器
// 支持 run_id, symbol, side, start/end (YYYY-MM-DD), limit, offset
func tradeFilter(c *gin.Context) (*database.TradeFilter, error) {
	start, err := utils.ParseDate(c.Query("start"), false)
	if err != nil {
		return nil, err
	}
	end, err := utils.ParseDate(c.Query("end"), true)
	if err != nil {
		return nil, err
	}
	limit, err := queryInt(c, "limit", database.DefaultLimit)
	if err != nil {
		return nil, err
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		return nil, err
	}
	return &database.TradeFilter{
		RunID:     c.Query("run_id"),
		Symbol:    strings.ToUpper(c.Query("symbol")),
		Side:      strings.ToUpper(c.Query("side")),
		StartTime: start,
		EndTime:   end,
		Limit:     limit,
		Offset:    offset,
	}, nil
}

// getTrades 成交记录（按时间倒序）
func (s *Server) getTrades(c *gin.Context) {
	db := s.requireDB(c)
	if db == nil {
		return
	}
	filter, err := tradeFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	trades, err := db.GetTrades(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"trades":  trades,
	})
}

// getTradeSummary 成交统计，period 为 1d|7d|30d|all
func (s *Server) getTradeSummary(c *gin.Context) {
	db := s.requireDB(c)
	if db == nil {
		return
	}
	filter, err := tradeFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	if period := c.Query("period"); period != "" {
		start, err := utils.ParsePeriod(period, utils.NowUTC())
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		filter.StartTime = start
	}

	summary, err := db.GetTradeSummary(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary,
	})
}

// getTradeMetrics 对筛选出的成交做 FIFO 配对
func (s *Server) getTradeMetrics(c *gin.Context) {
	db := s.requireDB(c)
	if db == nil {
		return
	}
	filter, err := tradeFilter(c)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	rows, err := db.GetAllTrades(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"metrics": ledger.MatchFIFO(database.Records(rows)),
	})
}

// getLogs 查询持久化日志
func (s *Server) getLogs(c *gin.Context) {
	if s.logStorage == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": T(c, "api_logs_disabled"),
		})
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	params := storage.LogQueryParams{
		Level:   c.Query("level"),
		Keyword: c.Query("keyword"),
		Limit:   limit,
		Offset:  offset,
	}
	if raw := c.Query("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "start_time")
			return
		}
		params.StartTime = t
	}
	if raw := c.Query("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "end_time")
			return
		}
		params.EndTime = t
	}

	logs, total, err := s.logStorage.GetLogs(params)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"logs":    logs,
		"total":   total,
	})
}
