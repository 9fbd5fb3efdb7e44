// Package event 提供事件管理功能
package event

import (
	"context"

	"go.uber.org/fx"

	eventconfig "github.com/weisyn/permnode/internal/config/event"
	"github.com/weisyn/permnode/pkg/interfaces/config"
	eventInterface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/event"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	"github.com/weisyn/permnode/pkg/types"
)

// ModuleInput 事件模块输入依赖
type ModuleInput struct {
	fx.In

	Provider  config.Provider // 配置提供者
	Logger    log.Logger      `optional:"true"` // 日志记录器（可选）
	Lifecycle fx.Lifecycle    // 生命周期管理
}

// ModuleOutput 事件模块输出服务
type ModuleOutput struct {
	fx.Out

	EventBus eventInterface.EventBus // 基础事件总线
}

// Module 返回事件模块
func Module() fx.Option {
	return fx.Module("event",
		fx.Provide(ProvideEventBus),
	)
}

// ProvideEventBus 创建事件总线并注册停止钩子
func ProvideEventBus(input ModuleInput) ModuleOutput {
	opts := input.Provider.GetEvent()
	enabled := opts.Enabled
	bus := New(eventconfig.New(&types.UserEventConfig{Enabled: &enabled}), input.Logger)

	input.Lifecycle.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// 等待异步订阅者处理完已发布事件
			bus.WaitAsync()
			if input.Logger != nil {
				published, dropped := bus.Stats()
				input.Logger.Infof("事件总线已停止 published=%d dropped=%d", published, dropped)
			}
			return nil
		},
	})

	return ModuleOutput{EventBus: bus}
}
