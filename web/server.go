// Package web 回测服务的 HTTP 接口和实时推送
package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quantsim/backtest"
	"quantsim/config"
	"quantsim/database"
	"quantsim/logger"
	"quantsim/metrics"
	"quantsim/service"
	"quantsim/storage"
)

// Server 回测 Web 服务
type Server struct {
	cfg        *config.Config
	svc        *service.BacktestService
	components *service.Components
	hub        *StreamHub
	logStorage *storage.LogStorage
	collector  *metrics.MetricsCollector
	engine     *gin.Engine
	server     *http.Server
	removeSink func()

	defaultsMu sync.RWMutex
	defaults   config.BacktestConfig
}

// NewServer 创建 Web 服务，logStorage 为空时不提供日志查询接口
func NewServer(cfg *config.Config, svc *service.BacktestService, components *service.Components, logStorage *storage.LogStorage) *Server {
	if cfg.App.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:        cfg,
		svc:        svc,
		components: components,
		hub:        NewStreamHub(),
		logStorage: logStorage,
		collector:  metrics.NewMetricsCollector(),
		defaults:   cfg.Backtest,
	}
	go s.hub.Run()
	s.removeSink = logger.AddSink(s.hub.LogSink(logger.WARN))

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(GinLoggerMiddleware(cfg.App.LogLevel == "debug"))
	r.Use(I18nMiddleware())
	s.setupRoutes(r)
	s.engine = r
	return s
}

// Handler 返回 HTTP 处理器（测试中使用）
func (s *Server) Handler() http.Handler {
	return s.engine
}

// SetBacktestDefaults 更新请求未指定时使用的回测参数（配置热更新）
func (s *Server) SetBacktestDefaults(b config.BacktestConfig) {
	s.defaultsMu.Lock()
	defer s.defaultsMu.Unlock()
	s.defaults = b
}

func (s *Server) backtestDefaults() config.BacktestConfig {
	s.defaultsMu.RLock()
	defer s.defaultsMu.RUnlock()
	return s.defaults
}

// setupRoutes 设置路由
func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/health", s.health)

	if s.cfg.Metrics.Enabled {
		r.GET(s.cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	if s.cfg.App.LogLevel == "debug" {
		pprofGroup := r.Group("/debug/pprof")
		{
			pprofGroup.GET("/", gin.WrapF(pprof.Index))
			pprofGroup.GET("/cmdline", gin.WrapF(pprof.Cmdline))
			pprofGroup.GET("/profile", gin.WrapF(pprof.Profile))
			pprofGroup.GET("/symbol", gin.WrapF(pprof.Symbol))
			pprofGroup.GET("/trace", gin.WrapF(pprof.Trace))
			pprofGroup.GET("/heap", gin.WrapH(pprof.Handler("heap")))
			pprofGroup.GET("/goroutine", gin.WrapH(pprof.Handler("goroutine")))
		}
	}

	api := r.Group("/api/backtest")
	{
		api.POST("/run", s.runBacktest)
		api.GET("/symbols", s.listSymbols)
		api.GET("/intervals", s.listIntervals)
		api.GET("/stream", s.hub.handleWebSocket)

		// 历史回测
		api.GET("/runs", s.listRuns)
		api.GET("/runs/:id", s.getRun)

		// 成交记录
		api.GET("/trades", s.getTrades)
		api.GET("/trades/summary", s.getTradeSummary)
		api.GET("/trades/metrics", s.getTradeMetrics)

		// K线缓存
		api.GET("/cache", s.listCache)
		api.GET("/cache/stats", s.getCacheStats)
		api.DELETE("/cache/:key", s.deleteCache)
		api.DELETE("/cache", s.clearCache)
		api.POST("/cache/clean", s.cleanCache)

		// 持久化日志
		api.GET("/logs", s.getLogs)
	}
}

// health 健康检查
func (s *Server) health(c *gin.Context) {
	status := gin.H{
		"success": true,
		"status":  "ok",
		"runs":    s.collector.GetMetrics(),
	}
	if db := s.svc.DB(); db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			status["database"] = err.Error()
			status["status"] = "degraded"
		} else {
			status["database"] = "ok"
		}
	}
	c.JSON(http.StatusOK, status)
}

// respondError 按错误类型返回状态码
func respondError(c *gin.Context, err error) {
	var invalid *backtest.InvalidParameterError
	var insufficient *backtest.InsufficientDataError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &invalid):
		status = http.StatusBadRequest
	case errors.As(err, &insufficient):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, database.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status == http.StatusInternalServerError {
		logger.Error("❌ 请求失败 %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{
		"success": false,
		"message": err.Error(),
	})
}

// badRequest 参数错误
func badRequest(c *gin.Context, detail string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"message": T(c, "api_invalid_request") + ": " + detail,
	})
}

// requireDB 数据库未启用时返回 503
func (s *Server) requireDB(c *gin.Context) database.Database {
	db := s.svc.DB()
	if db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": T(c, "api_db_disabled"),
		})
	}
	return db
}

// queryInt 读取整数查询参数，缺省时返回 def
func queryInt(c *gin.Context, name string, def int) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " 必须为非负整数")
	}
	return v, nil
}
