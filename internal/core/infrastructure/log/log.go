// Package log 基于 zap 的 Logger 实现
//
// 控制台输出为带颜色的行格式，文件输出为 JSON 并由 lumberjack 按大小轮转。
package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	logconfig "github.com/weisyn/permnode/internal/config/log"
	logInterface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// global 进程级默认记录器，供尚未完成依赖注入的代码路径使用
var global atomic.Pointer[logInterface.Logger]

func init() {
	logger, err := New(logconfig.New(nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化默认日志记录器失败: %v\n", err)
		logger = NewNop()
	}
	SetLogger(logger)
}

// Logger 包装 zap.Logger 与其 SugaredLogger
type Logger struct {
	zapLogger *zap.Logger
	sugar     *zap.SugaredLogger
}

var _ logInterface.Logger = (*Logger)(nil)

// New 按配置构造记录器；控制台与文件输出可以同时启用
func New(config *logconfig.Config) (logInterface.Logger, error) {
	options := config.GetOptions()
	level := zap.NewAtomicLevelAt(config.GetZapLevel())
	path := config.GetFilePath()

	var cores []zapcore.Core
	switch {
	case path == "stderr":
		cores = append(cores, zapcore.NewCore(config.CreateConsoleEncoder(), zapcore.Lock(os.Stderr), level))
	case path == "stdout" || config.IsConsoleEnabled():
		cores = append(cores, zapcore.NewCore(config.CreateConsoleEncoder(), zapcore.Lock(os.Stdout), level))
	}

	if path != "" && path != "stdout" && path != "stderr" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("解析日志文件路径失败: %w", err)
		}
		cores = append(cores, zapcore.NewCore(config.CreateFileEncoder(), rotatingWriter(absPath, options), level))
	}

	var zapOptions []zap.Option
	if options.EnableCaller {
		// 跳过本包的包装层
		zapOptions = append(zapOptions, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	if options.EnableStacktrace {
		zapOptions = append(zapOptions, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return FromZap(zap.New(zapcore.NewTee(cores...), zapOptions...)), nil
}

// rotatingWriter 日志目录无法创建时退回 stderr
func rotatingWriter(path string, options *logconfig.LogOptions) zapcore.WriteSyncer {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		fmt.Fprintf(os.Stderr, "创建日志目录失败 %s: %v\n", filepath.Dir(path), err)
		return zapcore.Lock(os.Stderr)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    options.MaxSize,
		MaxBackups: options.MaxBackups,
		MaxAge:     options.MaxAge,
		Compress:   options.Compress,
	})
}

// FromZap 包装已有的 zap.Logger
func FromZap(zapLogger *zap.Logger) *Logger {
	return &Logger{zapLogger: zapLogger, sugar: zapLogger.Sugar()}
}

// NewNop 丢弃全部输出，测试用
func NewNop() logInterface.Logger {
	return FromZap(zap.NewNop())
}

// SetLogger 替换进程级默认记录器，nil 被忽略
func SetLogger(logger logInterface.Logger) {
	if logger != nil {
		global.Store(&logger)
	}
}

// GetLogger 返回进程级默认记录器
func GetLogger() logInterface.Logger {
	return *global.Load()
}

// With 在默认记录器上附加字段
func With(args ...interface{}) logInterface.Logger {
	return GetLogger().With(args...)
}

func (l *Logger) Debug(msg string)                          { l.sugar.Debug(msg) }
func (l *Logger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(msg string)                           { l.sugar.Info(msg) }
func (l *Logger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(msg string)                           { l.sugar.Warn(msg) }
func (l *Logger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(msg string)                          { l.sugar.Error(msg) }
func (l *Logger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }
func (l *Logger) Fatal(msg string)                          { l.sugar.Fatal(msg) }
func (l *Logger) Fatalf(format string, args ...interface{}) { l.sugar.Fatalf(format, args...) }

// With 字段按 key, value 交替排列；多出的末尾参数被丢弃，非字符串 key 按 fmt 格式化
func (l *Logger) With(args ...interface{}) logInterface.Logger {
	fields := make([]zap.Field, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields = append(fields, zap.Any(key, args[i+1]))
	}
	return FromZap(l.zapLogger.With(fields...))
}

func (l *Logger) Sync() error { return l.zapLogger.Sync() }

func (l *Logger) GetZapLogger() *zap.Logger { return l.zapLogger }
