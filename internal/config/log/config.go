// Package log 日志配置：级别、输出目标与 lumberjack 轮转参数
package log

import (
	"fmt"

	logif "github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	configtypes "github.com/weisyn/permnode/pkg/types"
	"go.uber.org/zap/zapcore"
)

// LogOptions 日志配置选项
type LogOptions struct {
	Level     logif.LogLevel `json:"level"`
	ToConsole bool           `json:"to_console"`
	// FilePath 为空表示不写文件；"stdout"/"stderr" 表示对应标准流
	FilePath string `json:"file_path"`

	// 轮转参数，单位分别为 MB、个、天
	MaxSize    int  `json:"max_size"`
	MaxBackups int  `json:"max_backups"`
	MaxAge     int  `json:"max_age"`
	Compress   bool `json:"compress"`

	EnableCaller     bool `json:"enable_caller"`
	EnableStacktrace bool `json:"enable_stacktrace"`
}

// Validate 校验日志选项
func (o *LogOptions) Validate() error {
	if !o.Level.Valid() {
		return fmt.Errorf("unsupported log level %q", o.Level)
	}
	if o.MaxSize <= 0 {
		return fmt.Errorf("log max_size must be positive, got %d", o.MaxSize)
	}
	return nil
}

// Config 日志配置
type Config struct {
	options *LogOptions
}

// New 创建日志配置
//
// userConfig 可以是 *types.UserLogConfig（来自配置文件）或 *LogOptions（直接指定完整选项），
// 其它值一律使用默认配置。
func New(userConfig interface{}) *Config {
	options := defaultLogOptions()

	switch cfg := userConfig.(type) {
	case *configtypes.UserLogConfig:
		applyUserLogConfig(options, cfg)
	case *LogOptions:
		if cfg != nil {
			merged := *cfg
			options = &merged
		}
	}
	return &Config{options: options}
}

// NewFromOptions 直接使用已构建的日志选项
func NewFromOptions(options *LogOptions) *Config {
	return New(options)
}

func defaultLogOptions() *LogOptions {
	return &LogOptions{
		Level:            defaultLogLevel,
		ToConsole:        defaultToConsole,
		FilePath:         defaultFilePath,
		MaxSize:          defaultMaxSize,
		MaxBackups:       defaultMaxBackups,
		MaxAge:           defaultMaxAge,
		Compress:         defaultCompress,
		EnableCaller:     defaultEnableCaller,
		EnableStacktrace: defaultEnableStacktrace,
	}
}

// applyUserLogConfig 只覆盖配置文件中出现的字段
func applyUserLogConfig(options *LogOptions, user *configtypes.UserLogConfig) {
	if user == nil {
		return
	}
	if user.Level != nil {
		options.Level = logif.LogLevel(*user.Level)
	}
	if user.FilePath != nil {
		options.FilePath = *user.FilePath
		// 写文件时默认关闭控制台，除非显式打开
		options.ToConsole = false
	}
	if user.Console != nil {
		options.ToConsole = *user.Console
	}
}

// GetOptions 获取完整的日志配置选项
func (c *Config) GetOptions() *LogOptions {
	return c.options
}

// GetZapLevel 把配置级别转换为 zap 级别，无法识别时按 info 处理
func (c *Config) GetZapLevel() zapcore.Level {
	level, err := zapcore.ParseLevel(string(c.options.Level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// IsConsoleEnabled 是否启用控制台输出
func (c *Config) IsConsoleEnabled() bool {
	return c.options.ToConsole
}

// GetFilePath 获取日志文件路径
func (c *Config) GetFilePath() string {
	return c.options.FilePath
}

// CreateFileEncoder 文件输出使用 JSON，便于采集
func (c *Config) CreateFileEncoder() zapcore.Encoder {
	ec := baseEncoderConfig()
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// CreateConsoleEncoder 控制台输出使用带颜色的行格式
func (c *Config) CreateConsoleEncoder() zapcore.Encoder {
	ec := baseEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(ec)
}

func baseEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}
