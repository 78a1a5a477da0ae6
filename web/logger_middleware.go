package web

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"quantsim/logger"
	"quantsim/metrics"
)

// GinLoggerMiddleware 请求日志与接口指标
// logAll=true 时全量输出；否则仅记录错误请求 (状态码 >= 400)
func GinLoggerMiddleware(logAll bool) gin.HandlerFunc {
	pm := metrics.GetPrometheusMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		statusCode := c.Writer.Status()
		latency := time.Since(start)

		// 使用路由模板作为标签，避免 :id 造成标签爆炸
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		pm.RecordAPIRequest(c.Request.Method, route, strconv.Itoa(statusCode), latency)

		if !logAll && statusCode < 400 {
			return
		}
		if raw != "" {
			path = path + "?" + raw
		}

		logMessage := fmt.Sprintf("[GIN] %d | %v | %s | %-7s %s",
			statusCode, latency, c.ClientIP(), c.Request.Method, path)
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			logMessage += " | Error: " + errorMessage
		}
		logger.WriteWebLog(logMessage)
	}
}
