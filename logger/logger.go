package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel 日志级别
type LogLevel int32

const (
	DEBUG LogLevel = iota // 调试信息（逐笔成交）
	INFO                  // 一般信息（回测开始、结束、进度）
	WARN                  // 警告信息
	ERROR                 // 错误信息（回测中止）
	FATAL                 // 致命错误（程序退出）
)

var (
	globalLevel atomic.Int32

	console   = log.New(os.Stderr, "", log.LstdFlags)
	consoleMu sync.RWMutex

	logDir = "logs"

	appFile = &dailyFile{prefix: "quantsim"}
	webFile = &dailyFile{prefix: "web-gin"}

	// 时区
	globalLocation = time.Local
	locationMu     sync.RWMutex

	// 外部订阅者（例如把日志推送到 WebSocket）
	sinks   []func(level LogLevel, message string)
	sinksMu sync.RWMutex
)

func init() {
	globalLevel.Store(int32(INFO))
}

// String 返回日志级别的字符串表示
func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel 解析日志级别字符串，无法识别时为 INFO
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

// SetLevel 设置全局日志级别，DEBUG 级别同时写入按日期命名的文件
func SetLevel(level LogLevel) {
	globalLevel.Store(int32(level))
	if level == DEBUG {
		appFile.open()
	} else {
		appFile.close()
	}
}

// GetLevel 获取全局日志级别
func GetLevel() LogLevel {
	return LogLevel(globalLevel.Load())
}

// SetLocation 设置日志时区
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	locationMu.Lock()
	defer locationMu.Unlock()
	globalLocation = loc
}

// SetOutput 替换控制台输出（测试中使用）
func SetOutput(w io.Writer) {
	consoleMu.Lock()
	defer consoleMu.Unlock()
	console = log.New(w, "", log.LstdFlags)
}

// SetLogDir 设置日志文件目录
func SetLogDir(dir string) {
	if dir != "" {
		logDir = dir
	}
}

// AddSink 注册日志订阅者，返回取消函数
func AddSink(sink func(level LogLevel, message string)) func() {
	sinksMu.Lock()
	defer sinksMu.Unlock()
	sinks = append(sinks, sink)
	idx := len(sinks) - 1
	return func() {
		sinksMu.Lock()
		defer sinksMu.Unlock()
		if idx < len(sinks) {
			sinks[idx] = nil
		}
	}
}

// InitLogStorage 注册日志持久化写入器（通过函数避免循环依赖），只写入 minLevel 及以上
func InitLogStorage(writer func(level, message string), minLevel LogLevel) func() {
	return AddSink(func(level LogLevel, message string) {
		if level >= minLevel {
			writer(level.String(), message)
		}
	})
}

// InitWebLogger 初始化 Web 请求日志文件
func InitWebLogger() error {
	return webFile.open()
}

// WriteWebLog 写入 Web 请求日志（供 Gin 中间件使用）
func WriteWebLog(message string) {
	webFile.write(message)
}

// Close 关闭日志文件（程序退出时调用）
func Close() {
	appFile.close()
	webFile.close()
}

func now() time.Time {
	locationMu.RLock()
	defer locationMu.RUnlock()
	return time.Now().In(globalLocation)
}

// dailyFile 按天轮转的日志文件
type dailyFile struct {
	prefix string
	mu     sync.Mutex
	file   *os.File
	logger *log.Logger
	date   string
}

func (d *dailyFile) open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rotate(now().Format("2006-01-02"))
}

// rotate 日期变化时切换文件，调用前必须持有 d.mu
func (d *dailyFile) rotate(today string) error {
	if d.logger != nil && d.date == today {
		return nil
	}
	if d.file != nil {
		d.file.Close()
		d.file, d.logger = nil, nil
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("创建日志文件夹失败: %w", err)
	}
	name := filepath.Join(logDir, fmt.Sprintf("%s-%s.log", d.prefix, today))
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("打开日志文件失败: %w", err)
	}
	d.file = file
	d.logger = log.New(file, "", 0)
	d.date = today
	return nil
}

func (d *dailyFile) write(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.logger == nil {
		return
	}
	t := now()
	if err := d.rotate(t.Format("2006-01-02")); err != nil {
		return
	}
	d.logger.Printf("%s %s", t.Format("2006/01/02 15:04:05"), message)
}

func (d *dailyFile) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file != nil {
		d.file.Close()
	}
	d.file, d.logger, d.date = nil, nil, ""
}

// logf 内部日志输出函数
func logf(level LogLevel, format string, args ...interface{}) {
	if level < GetLevel() {
		return
	}
	message := fmt.Sprintf("[%s] ", level) + fmt.Sprintf(format, args...)

	consoleMu.RLock()
	console.Print(message)
	consoleMu.RUnlock()

	appFile.write(message)

	sinksMu.RLock()
	defer sinksMu.RUnlock()
	for _, sink := range sinks {
		if sink != nil {
			sink(level, message)
		}
	}
}

// Debug 输出调试日志
func Debug(format string, args ...interface{}) {
	logf(DEBUG, format, args...)
}

// Info 输出一般信息日志
func Info(format string, args ...interface{}) {
	logf(INFO, format, args...)
}

// Warn 输出警告日志
func Warn(format string, args ...interface{}) {
	logf(WARN, format, args...)
}

// Error 输出错误日志
func Error(format string, args ...interface{}) {
	logf(ERROR, format, args...)
}

// Fatal 输出致命错误日志并退出程序
func Fatal(format string, args ...interface{}) {
	logf(FATAL, format, args...)
	Close()
	os.Exit(1)
}
