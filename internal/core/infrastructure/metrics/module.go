// Package metrics 提供节点的 prometheus 注册表与内存监控
//
// 注册表以 *prometheus.Registry、prometheus.Registerer、prometheus.Gatherer 三种形态提供，
// 各模块通过 Registerer 注册自己的指标，HTTP 接口通过 Gatherer 导出。
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"

	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	metricsiface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/metrics"
)

const namespace = "permnode"

// RegistryOutput 注册表的三种形态
type RegistryOutput struct {
	fx.Out

	Registry   *prometheus.Registry
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// DoctorInput MemoryDoctor 依赖
type DoctorInput struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Registerer prometheus.Registerer
	Logger     log.Logger                    `optional:"true"`
	Reporters  []metricsiface.MemoryReporter `group:"memory_reporters"`
}

// Module 返回 metrics 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(ProvideRegistry),
		fx.Provide(ProvideMemoryDoctor),
		fx.Invoke(func(*MemoryDoctor) {}),
	)
}

// NewRegistry 创建带 Go 运行时与进程采集器的注册表
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
	)
	return reg
}

// ProvideRegistry 提供节点唯一的指标注册表
func ProvideRegistry() RegistryOutput {
	reg := NewRegistry()
	return RegistryOutput{Registry: reg, Registerer: reg, Gatherer: reg}
}

// ProvideMemoryDoctor 创建 MemoryDoctor 并挂到生命周期
//
// OnStart 的 ctx 在钩子返回后即失效，采样循环使用独立的 ctx，由 OnStop 取消。
func ProvideMemoryDoctor(input DoctorInput) (*MemoryDoctor, error) {
	var logger log.Logger
	if input.Logger != nil {
		logger = input.Logger.With("module", "metrics")
	}
	d, err := NewMemoryDoctor(DefaultMemoryDoctorConfig(), input.Registerer, logger, input.Reporters)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	input.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				d.SampleOnce()
				d.Start(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
	return d, nil
}
