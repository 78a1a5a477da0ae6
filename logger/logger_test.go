package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		" INFO ":  INFO,
		"warning": WARN,
		"error":   ERROR,
		"fatal":   FATAL,
		"unknown": INFO,
	}
	for in, want := range cases {
		if got := ParseLogLevel(in); got != want {
			t.Fatalf("ParseLogLevel(%q) = %s, 期望 %s", in, got, want)
		}
	}
}

func TestLevelFilteringAndSink(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetLevel(WARN)
	defer SetLevel(INFO)

	var received []string
	cancel := AddSink(func(level LogLevel, message string) {
		received = append(received, message)
	})
	defer cancel()

	Info("不应输出 %d", 1)
	Warn("⚠️ 警告 %d", 2)
	Error("❌ 错误 %s", "x")

	out := buf.String()
	if strings.Contains(out, "不应输出") {
		t.Fatalf("低于级别的日志不应输出: %s", out)
	}
	if !strings.Contains(out, "[WARN] ⚠️ 警告 2") || !strings.Contains(out, "[ERROR] ❌ 错误 x") {
		t.Fatalf("日志内容错误: %s", out)
	}
	if len(received) != 2 {
		t.Fatalf("订阅者应收到 2 条日志, 实际 %d", len(received))
	}

	cancel()
	Warn("取消后")
	if len(received) != 2 {
		t.Fatalf("取消订阅后不应再收到日志")
	}
}

func TestDebugWritesDailyFile(t *testing.T) {
	dir := t.TempDir()
	SetLogDir(dir)
	defer SetLogDir("logs")

	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	SetLevel(DEBUG)
	Debug("📈 调试信息")
	SetLevel(INFO)

	files, err := filepath.Glob(filepath.Join(dir, "quantsim-*.log"))
	if err != nil || len(files) != 1 {
		t.Fatalf("DEBUG 级别应生成一个日志文件, 实际 %v (%v)", files, err)
	}
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "调试信息") {
		t.Fatalf("日志文件内容错误: %s", data)
	}
}

func TestInitLogStorageFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stderr)

	var stored []string
	cancel := InitLogStorage(func(level, message string) {
		stored = append(stored, level)
	}, WARN)
	defer cancel()

	Info("📊 进度")
	Warn("⚠️ 警告")
	Error("❌ 错误")
	if strings.Join(stored, ",") != "WARN,ERROR" {
		t.Fatalf("持久化的日志级别错误: %v", stored)
	}
}
