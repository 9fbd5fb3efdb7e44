package websocket

import (
	"go.uber.org/fx"

	"github.com/weisyn/permnode/pkg/interfaces/chain"
	"github.com/weisyn/permnode/pkg/interfaces/config"
	"github.com/weisyn/permnode/pkg/interfaces/infrastructure/log"
	metricsiface "github.com/weisyn/permnode/pkg/interfaces/infrastructure/metrics"
)

// ModuleInput 推送模块依赖
type ModuleInput struct {
	fx.In

	Provider config.Provider
	Logger   log.Logger
}

// ModuleOutput Hub 同时作为通知接收方与内存上报方
type ModuleOutput struct {
	fx.Out

	Hub            *Hub
	Sink           chain.NotificationSink      `group:"notification_sinks"`
	MemoryReporter metricsiface.MemoryReporter `group:"memory_reporters"`
}

// Module 返回 WebSocket 推送模块
func Module() fx.Option {
	return fx.Module("api.websocket",
		fx.Provide(ProvideHub),
	)
}

// ProvideHub 创建推送中心，由 HTTP 服务器挂载到 /ws
func ProvideHub(input ModuleInput) ModuleOutput {
	opts := input.Provider.GetAPI().HTTP
	hub := NewHub(Options{
		MaxClients: opts.StreamMaxClients,
		SendBuffer: opts.StreamSendBuffer,
	}, input.Logger.With("module", "api.websocket"))
	return ModuleOutput{Hub: hub, Sink: hub, MemoryReporter: hub}
}
