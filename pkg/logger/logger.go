package logger

import (
	"MediaMerger/config"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// InitLogger 根据 config.yaml 中的配置初始化一个全局的 slog 日志记录器。
func InitLogger() error {
	var logHandler slog.Handler

	logLevel := new(slog.LevelVar)
	if err := setLogLevel(config.C.Logger.Level, logLevel); err != nil {
		return err
	}

	handlerOpts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if config.C.Logger.Format == "json" {
		logHandler = slog.NewJSONHandler(os.Stdout, handlerOpts)
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, handlerOpts)
	}

	slog.SetDefault(slog.New(logHandler))
	return nil
}

// setLogLevel 将字符串形式的日志级别转换为 slog.Level 类型
func setLogLevel(levelStr string, levelVar *slog.LevelVar) error {
	switch levelStr {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		return errors.New("无效的日志级别: " + levelStr)
	}
	return nil
}

// ModuleLogger 是某个模块专用的日志记录器，同时写入模块日志文件和全局 logger。
type ModuleLogger struct {
	*slog.Logger
	file *os.File
}

// NewModuleLogger 在 logDir 下创建（截断）name 日志文件。
// 文件中记录所有级别，全局 logger 按自身级别过滤。
func NewModuleLogger(logDir, name string) (*ModuleLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("无法创建日志目录: %w", err)
	}
	logFilePath := filepath.Join(logDir, name)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法打开模块日志 %s: %w", logFilePath, err)
	}
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := fanout{fileHandler, slog.Default().Handler()}
	return &ModuleLogger{Logger: slog.New(h), file: file}, nil
}

// Close 关闭模块日志文件。对 nil 或无文件的记录器调用是安全的。
func (m *ModuleLogger) Close() {
	if m == nil || m.file == nil {
		return
	}
	m.file.Close()
}

// Writer 返回模块日志文件，用于接入外部命令的输出。
func (m *ModuleLogger) Writer() io.Writer {
	if m == nil || m.file == nil {
		return io.Discard
	}
	return m.file
}

// fanout 把一条记录分发给多个 handler。
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Discard 返回一个丢弃所有日志的 logger，主要用于测试，避免不必要的日志输出。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DiscardModule 返回一个不写文件的模块日志记录器，用于测试。
func DiscardModule() *ModuleLogger {
	return &ModuleLogger{Logger: Discard()}
}
