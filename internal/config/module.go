// Package config 把配置文件内容转换为各模块的完整选项（默认值 + 用户覆盖）
package config

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/weisyn/permnode/pkg/interfaces/config"
	"github.com/weisyn/permnode/pkg/types"
)

// ModuleInput 配置模块依赖
type ModuleInput struct {
	fx.In

	// AppOptions 缺省时全部使用默认配置
	AppOptions config.AppOptions `optional:"true"`
}

// ModuleOutput 配置模块输出
type ModuleOutput struct {
	fx.Out

	Provider config.Provider
}

// Module 返回配置模块
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(ProvideConfig),
	)
}

// ProvideConfig 构造配置提供者，并在启动阶段校验会导致运行期错误的选项
func ProvideConfig(input ModuleInput) (ModuleOutput, error) {
	var appConfig *types.AppConfig
	if input.AppOptions != nil {
		appConfig = input.AppOptions.GetAppConfig()
	}
	provider := NewProvider(appConfig)

	if err := provider.GetConsensus().Validate(); err != nil {
		return ModuleOutput{}, fmt.Errorf("invalid consensus config: %w", err)
	}
	if err := provider.GetLog().Validate(); err != nil {
		return ModuleOutput{}, fmt.Errorf("invalid log config: %w", err)
	}
	return ModuleOutput{Provider: provider}, nil
}
