package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quantsim/config"
	"quantsim/i18n"
	"quantsim/logger"
	"quantsim/service"
	"quantsim/storage"
	"quantsim/utils"
	"quantsim/web"
)

// Version 版本号
var Version = "1.0.0"

// logRetentionDays 持久化日志保留天数
const logRetentionDays = 7

func usage() {
	fmt.Fprintf(os.Stderr, "用法: quantsim [-config path] [-debug] [-version] run|serve\n\n")
	fmt.Fprintf(os.Stderr, "  run    按配置文件中的默认参数执行一次回测\n")
	fmt.Fprintf(os.Stderr, "  serve  启动 HTTP 接口\n\n")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "config.yaml", "配置文件路径")
	debugMode := flag.Bool("debug", false, "调试模式（DEBUG 日志与全量请求日志）")
	showVersion := flag.Bool("version", false, "显示版本号")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("QuantSim Backtester\n")
		fmt.Printf("Version: %s\n", Version)
		return
	}

	command := flag.Arg(0)
	if command != "run" && command != "serve" {
		usage()
		os.Exit(2)
	}

	cfg := loadConfig(*configPath)
	if *debugMode {
		cfg.App.LogLevel = "debug"
	}
	setupRuntime(cfg)
	defer logger.Close()

	logger.Info("🚀 QuantSim 回测系统启动...")
	logger.Info("📦 版本号: %s", Version)

	components, err := service.NewComponents(cfg)
	if err != nil {
		logger.Fatal("❌ 初始化组件失败: %v", err)
	}
	defer components.Close()
	svc := service.NewFromConfig(cfg, components)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch command {
	case "run":
		err = runOnce(ctx, cfg, svc)
	case "serve":
		err = serve(ctx, *configPath, cfg, svc, components)
	}
	if err != nil {
		logger.Error("❌ %v", err)
		components.Close()
		logger.Close()
		os.Exit(1)
	}
}

// loadConfig 加载配置，文件不存在时使用默认配置并写入文件
func loadConfig(path string) *config.Config {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Info("ℹ️ 配置文件不存在，使用默认配置")
		cfg := config.DefaultConfig()
		if err := config.SaveConfig(cfg, path); err != nil {
			logger.Warn("⚠️ 保存默认配置失败: %v，将继续运行", err)
		} else {
			logger.Info("✅ 已创建默认配置文件: %s", path)
		}
		return cfg
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		logger.Fatal("❌ 加载配置失败: %v", err)
	}
	return cfg
}

// setupRuntime 日志、时区和语言
func setupRuntime(cfg *config.Config) {
	logger.SetLogDir(cfg.App.LogDir)
	level := logger.ParseLogLevel(cfg.App.LogLevel)
	logger.SetLevel(level)
	logger.Info("日志级别设置为: %s", level)

	if err := utils.SetLocation(cfg.App.Timezone); err != nil {
		logger.Warn("⚠️ 加载时区 %s 失败: %v，将使用默认时区", cfg.App.Timezone, err)
	} else {
		logger.Info("✅ 系统时区设置为: %s", cfg.App.Timezone)
	}

	if err := i18n.Init(cfg.App.Language); err != nil {
		logger.Warn("⚠️ 初始化语言 %s 失败: %v", cfg.App.Language, err)
	}
}

// runOnce 执行一次回测并打印摘要
func runOnce(ctx context.Context, cfg *config.Config, svc *service.BacktestService) error {
	runCfg, err := service.RunConfigFromDefaults(cfg.Backtest)
	if err != nil {
		return err
	}
	outcome, err := svc.Run(ctx, runCfg, nil)
	if err != nil {
		return fmt.Errorf("回测失败: %w", err)
	}
	printSummary(outcome)
	return nil
}

func printSummary(outcome *service.Outcome) {
	r := outcome.Result
	fmt.Printf("\n==================== 回测结果 ====================\n")
	fmt.Printf("运行ID:     %s\n", r.RunID)
	fmt.Printf("交易对:     %s (%s)\n", r.Symbol, r.Interval)
	fmt.Printf("区间:       %s ~ %s\n", utils.FormatMillis(r.StartTime), utils.FormatMillis(r.EndTime))
	fmt.Printf("回放K线:    %d\n", r.BarsProcessed)
	fmt.Printf("初始资金:   %.2f\n", r.InitialBalance)
	fmt.Printf("最终余额:   %.2f\n", r.FinalBalance)
	fmt.Printf("盈亏:       %.2f (%.2f%%)\n", r.ProfitLoss, r.ProfitLossPct)
	fmt.Printf("交易次数:   %d\n", r.Report.TotalTrades)
	fmt.Printf("胜率:       %.2f%%\n", r.Report.WinRate*100)
	fmt.Printf("利润因子:   %s\n", r.Report.ProfitFactor)
	fmt.Printf("夏普比率:   %.4f\n", r.Report.SharpeRatio)
	fmt.Printf("最大回撤:   %.2f%%\n", r.Report.MaxDrawdown*100)
	fmt.Printf("VaR(95%%):   %.4f%%\n", r.RiskMetrics.VaR95*100)
	if r.OpenPosition != nil {
		fmt.Printf("未平仓:     %.6f @ %.4f\n", r.OpenPosition.Size, r.OpenPosition.EntryPrice)
	}
	if outcome.Cached {
		fmt.Printf("(缓存结果)\n")
	}
	if outcome.ReportPath != "" {
		fmt.Printf("报告:       %s\n", outcome.ReportPath)
	}
	fmt.Printf("==================================================\n")
}

// serve 启动 HTTP 接口和配置热更新，收到退出信号后优雅关闭
func serve(ctx context.Context, configPath string, cfg *config.Config, svc *service.BacktestService, components *service.Components) error {
	if !cfg.Web.Enabled {
		return errors.New("web.enabled 为 false，无法启动服务")
	}

	logStorage, err := storage.NewLogStorage(cfg.App.LogDB)
	if err != nil {
		logger.Warn("⚠️ 初始化日志存储失败: %v，将继续运行但不保存日志到数据库", err)
		logStorage = nil
	} else {
		removeSink := logger.InitLogStorage(logStorage.WriteLog, logger.WARN)
		defer func() {
			removeSink()
			logStorage.Close()
		}()
		go cleanLogsDaily(ctx, logStorage)
		logger.Info("✅ 日志存储已初始化: %s", cfg.App.LogDB)
	}

	server := web.NewServer(cfg, svc, components, logStorage)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("启动Web服务器失败: %w", err)
	}
	defer server.Stop()

	hotReloader := config.NewHotReloader(cfg)
	hotReloader.RegisterCallback(func(oldConfig, newConfig *config.Config, changes []config.ConfigChange) error {
		logger.SetLevel(logger.ParseLogLevel(newConfig.App.LogLevel))
		i18n.SetSystemLanguage(newConfig.App.Language)
		svc.SetReportOptions(newConfig.Report.Dir, newConfig.Report.Language)
		server.SetBacktestDefaults(newConfig.Backtest)
		return nil
	})

	watcher, err := config.NewConfigWatcher(configPath, hotReloader)
	if err != nil {
		logger.Warn("⚠️ 创建配置监听器失败: %v，配置热更新不可用", err)
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("⚠️ 启动配置监听器失败: %v，配置热更新不可用", err)
		watcher = nil
	} else {
		defer watcher.Stop()
	}

	logger.Info("✅ 系统初始化完成，程序正在运行中...")
	logger.Info("💡 按 Ctrl+C 退出程序")

	var restartCh <-chan *config.ConfigDiff
	var errCh <-chan error
	if watcher != nil {
		restartCh, errCh = watcher.RestartChan(), watcher.ErrorChan()
	}
	for {
		select {
		case <-ctx.Done():
			logger.Info("🛑 收到退出信号，开始优雅关闭...")
			return nil
		case diff := <-restartCh:
			logger.Warn("⚠️ 以下配置需要重启后生效: %v", diff.Paths())
		case err := <-errCh:
			logger.Warn("⚠️ 配置热更新失败: %v", err)
		}
	}
}

// cleanLogsDaily 每天清理过期日志
func cleanLogsDaily(ctx context.Context, ls *storage.LogStorage) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("🧹 开始定期清理日志...")
			rows, err := ls.CleanOldLogs(logRetentionDays)
			if err != nil {
				logger.Warn("⚠️ 清理日志失败: %v", err)
			} else {
				logger.Info("✅ 已清理 %d 条日志（%d天前）", rows, logRetentionDays)
			}
		}
	}
}
