package app

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/weisyn/permnode/internal/api"
	"github.com/weisyn/permnode/internal/config"
	"github.com/weisyn/permnode/internal/core/chain"
	"github.com/weisyn/permnode/internal/core/infrastructure/clock"
	"github.com/weisyn/permnode/internal/core/infrastructure/event"
	"github.com/weisyn/permnode/internal/core/infrastructure/log"
	"github.com/weisyn/permnode/internal/core/infrastructure/metrics"
	"github.com/weisyn/permnode/internal/core/infrastructure/storage"
	"github.com/weisyn/permnode/internal/core/infrastructure/writegate"
	"github.com/weisyn/permnode/internal/core/state"
	configif "github.com/weisyn/permnode/pkg/interfaces/config"
)

// Bootstrap 负责按层装配 fx 模块并控制应用生命周期
type Bootstrap struct {
	opts  *options
	fxApp *fx.App
}

// NewBootstrap 创建引导对象
func NewBootstrap(opts *options) *Bootstrap {
	return &Bootstrap{opts: opts}
}

// SetupInfrastructureLayer 基础设施层
func (b *Bootstrap) SetupInfrastructureLayer() []fx.Option {
	return []fx.Option{
		fx.Provide(func() configif.AppOptions { return b.opts }),
		config.Module(),    // 1. 配置(不依赖其他)
		log.Module(),       // 2. 日志(依赖配置)
		metrics.Module(),   // 3. 指标注册表与内存采样
		clock.Module(),     // 4. 时钟(system/ntp)
		writegate.Module(), // 5. 写门闸
		event.Module(),     // 6. 事件总线
		storage.Module(),   // 7. 存储(badger + 内存缓存)
	}
}

// SetupBusinessLayer 业务层：状态仓库与共识管理器
func (b *Bootstrap) SetupBusinessLayer() []fx.Option {
	return []fx.Option{
		state.Module(),
		chain.Module(),
	}
}

// SetupApplicationLayer 应用层
func (b *Bootstrap) SetupApplicationLayer() []fx.Option {
	if !b.opts.enableAPI {
		return nil
	}
	return []fx.Option{api.Module()}
}

// SetupModules 按层汇总全部模块
func (b *Bootstrap) SetupModules() []fx.Option {
	var all []fx.Option
	all = append(all, b.SetupInfrastructureLayer()...)
	all = append(all, b.SetupBusinessLayer()...)
	all = append(all, b.SetupApplicationLayer()...)
	return append(all, b.opts.fxOptions...)
}

// CreateFxApp 创建fx应用；依赖图错误在此返回
func (b *Bootstrap) CreateFxApp() error {
	b.fxApp = fx.New(
		fx.Options(b.SetupModules()...),
		fx.NopLogger,
	)
	return b.fxApp.Err()
}

// StartApp 启动应用程序
func (b *Bootstrap) StartApp(ctx context.Context) error {
	if err := b.fxApp.Start(ctx); err != nil {
		return fmt.Errorf("启动应用失败: %w", err)
	}
	return nil
}

// StopApp 停止应用程序
func (b *Bootstrap) StopApp(ctx context.Context) error {
	if err := b.fxApp.Stop(ctx); err != nil {
		return fmt.Errorf("停止应用失败: %w", err)
	}
	return nil
}

// Done 模块通过 fx.Shutdowner 请求关停时收到信号
func (b *Bootstrap) Done() <-chan fx.ShutdownSignal {
	return b.fxApp.Wait()
}
