// Package log 定义节点统一的日志记录接口
//
// 业务模块只依赖 Logger；zap 实现位于 internal/core/infrastructure/log。
// 需要结构化字段的调用方（如 HTTP 中间件）可通过 GetZapLogger 直接使用 zap。
package log

import "go.uber.org/zap"

// Logger 分级日志记录器
//
// 带 f 后缀的方法按 fmt 语义格式化；Fatal/Fatalf 写出后终止进程，
// 共识路径内禁止使用。
type Logger interface {
	Debug(msg string)
	Debugf(format string, args ...interface{})
	Info(msg string)
	Infof(format string, args ...interface{})
	Warn(msg string)
	Warnf(format string, args ...interface{})
	Error(msg string)
	Errorf(format string, args ...interface{})
	Fatal(msg string)
	Fatalf(format string, args ...interface{})

	// With 返回附带键值对字段的子记录器，args 按 key, value 交替排列
	With(args ...interface{}) Logger

	// Sync 刷新缓冲区，进程退出前调用
	Sync() error

	// GetZapLogger 返回底层 zap 记录器
	GetZapLogger() *zap.Logger
}
