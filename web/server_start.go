package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quantsim/logger"
)

// Start 启动 Web 服务器，ctx 取消时优雅关闭
func (s *Server) Start(ctx context.Context) error {
	if err := logger.InitWebLogger(); err != nil {
		logger.Warn("⚠️ 初始化 Web 日志失败: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Web.Host, s.cfg.Web.Port)
	s.server = &http.Server{
		Addr:        addr,
		Handler:     s.engine,
		ReadTimeout: 15 * time.Second,
		// 回测请求同步返回，写超时按较长的运行时间设置
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🌐 Web服务器启动在 http://%s", addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("❌ Web服务器启动失败: %v", err)
			errCh <- err
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	// 端口占用等错误会立即返回
	select {
	case err := <-errCh:
		return err
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// Stop 停止 Web 服务器并关闭推送
func (s *Server) Stop() {
	if s.removeSink != nil {
		s.removeSink()
	}
	s.hub.Close()
	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		logger.Error("❌ Web服务器关闭失败: %v", err)
	} else {
		logger.Info("✅ Web服务器已关闭")
	}
}
