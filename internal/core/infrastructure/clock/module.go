// Package clock 提供系统时钟、NTP 校正时钟与测试时钟实现
package clock

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/weisyn/permnode/pkg/interfaces/config"
	infraClock "github.com/weisyn/permnode/pkg/interfaces/infrastructure/clock"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
)

// ModuleInput 时钟模块依赖
type ModuleInput struct {
	fx.In

	Provider   config.Provider
	Logger     log.Logger            `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
}

// Module 返回时钟模块
func Module() fx.Option {
	return fx.Module("clock",
		fx.Provide(ProvideClock),
	)
}

// ProvideClock 按 clock.type 选择实现，未知类型回退到系统时钟
func ProvideClock(input ModuleInput) infraClock.Clock {
	opts := input.Provider.GetClock()
	if opts.Type != "ntp" {
		return NewSystemClock()
	}

	c := NewNTPClock(opts.NTPServer, opts.SyncInterval, opts.QueryTimeout, opts.OffsetThreshold)
	if input.Logger != nil {
		if s := c.Status(); s.Healthy {
			input.Logger.Infof("NTP时钟已同步: source=%s offset=%s", c.Source(), s.Offset)
		} else {
			input.Logger.Warnf("NTP时钟未就绪，暂用本机时间: source=%s offset=%s err=%v", c.Source(), s.Offset, s.LastError)
		}
	}
	if input.Registerer != nil {
		if err := RegisterClockMetrics(input.Registerer, c); err != nil && input.Logger != nil {
			input.Logger.Warnf("注册时钟指标失败: %v", err)
		}
	}
	return c
}
