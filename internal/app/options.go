package app

import (
	"go.uber.org/fx"

	"github.com/weisyn/permnode/pkg/interfaces/config"
	"github.com/weisyn/permnode/pkg/types"
)

// Option 应用程序选项函数类型
type Option func(*options)

// options 应用程序选项，实现 config.AppOptions
type options struct {
	// 配置文件路径（为空时只使用默认值）
	configFilePath string

	// 直接给定的配置（优先级高于 configFilePath）
	appConfig *types.AppConfig

	// API支持开关（默认启用，最终还受 api.http_enabled 控制）
	enableAPI bool

	// 追加的 fx 选项（测试中用于 fx.Populate 取出组件）
	fxOptions []fx.Option
}

var _ config.AppOptions = (*options)(nil)

// WithConfigFile 设置配置文件路径
func WithConfigFile(configPath string) Option {
	return func(o *options) {
		o.configFilePath = configPath
	}
}

// WithAppConfig 直接使用给定配置，不读取文件
func WithAppConfig(cfg *types.AppConfig) Option {
	return func(o *options) {
		o.appConfig = cfg
	}
}

// WithoutAPI 禁用API模块
func WithoutAPI() Option {
	return func(o *options) {
		o.enableAPI = false
	}
}

func withFxOptions(opts ...fx.Option) Option {
	return func(o *options) {
		o.fxOptions = append(o.fxOptions, opts...)
	}
}

func newOptions(opts ...Option) *options {
	o := &options{enableAPI: true}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// resolve 在需要时从文件加载配置
func (o *options) resolve() error {
	if o.appConfig != nil {
		return nil
	}
	if o.configFilePath == "" {
		o.appConfig = &types.AppConfig{}
		return nil
	}
	cfg, err := LoadConfigFile(o.configFilePath)
	if err != nil {
		return err
	}
	o.appConfig = cfg
	return nil
}

// GetAppConfig 返回应用程序配置
func (o *options) GetAppConfig() *types.AppConfig {
	return o.appConfig
}
