package log

import logif "github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"

// 日志配置默认值：控制台输出、info 级别、不写文件
const (
	defaultLogLevel  = logif.InfoLevel
	defaultToConsole = true
	defaultFilePath  = ""

	defaultMaxSize    = 100
	defaultMaxBackups = 10
	defaultMaxAge     = 30
	defaultCompress   = true

	defaultEnableCaller     = true
	defaultEnableStacktrace = true
)
